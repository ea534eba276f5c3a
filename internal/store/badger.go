package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mossy-p/rtc-rooms/internal/models"
)

const sequenceBandwidth = 100

// BadgerStore is the embedded backend. Message keys are formatted as
// "msg:{hex(room)}:{sortable_nano}:{seq_padded}" so a prefix scan returns
// a room's messages by timestamp with insertion order breaking ties.
type BadgerStore struct {
	db           *badger.DB
	log          *slog.Logger
	historyLimit int
	seq          *badger.Sequence
}

// OpenBadger opens (or creates) a database on disk. An empty path opens an
// in-memory database.
func OpenBadger(path string, log *slog.Logger) (*badger.DB, error) {
	options := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		options = options.WithInMemory(true)
	}
	if log.Enabled(context.Background(), slog.LevelDebug) {
		options = options.WithLogger(badgerLogger{log}).WithLoggingLevel(badger.DEBUG)
	}
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return db, nil
}

func NewBadgerStore(db *badger.DB, log *slog.Logger, historyLimit int) (*BadgerStore, error) {
	seq, err := db.GetSequence([]byte("seq:messages"), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &BadgerStore{db: db, log: log, historyLimit: historyLimit, seq: seq}, nil
}

func messagePrefix(room string) []byte {
	return []byte("msg:" + hex.EncodeToString([]byte(room)) + ":")
}

// sortableNano flips the sign bit so pre-1970 timestamps keep their order
// once printed as unsigned decimals
func sortableNano(ts time.Time) uint64 {
	return uint64(ts.UnixNano()) ^ (1 << 63)
}

func (s *BadgerStore) SaveMessage(_ context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	msg = prepareMessage(msg)
	n, err := s.seq.Next()
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("next message sequence: %w", err)
	}
	key := fmt.Sprintf("%s%020d:%020d", messagePrefix(msg.Room), sortableNano(msg.Timestamp), n)

	data, err := json.Marshal(msg)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("marshal message: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("store message: %w", err)
	}
	return msg, nil
}

// FindMessagesByRoom walks the room prefix backwards so the history limit
// keeps the newest messages, then restores ascending order.
func (s *BadgerStore) FindMessagesByRoom(_ context.Context, room string) ([]models.ChatMessage, error) {
	prefix := messagePrefix(room)
	messages := []models.ChatMessage{}

	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// 0xFF sorts after every digit and ':' so the seek lands past the newest key
		seekKey := append(slices.Clone(prefix), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if s.historyLimit > 0 && len(messages) == s.historyLimit {
				s.log.Debug("History limit reached", "room", room, "limit", s.historyLimit)
				break
			}
			err := it.Item().Value(func(value []byte) error {
				var msg models.ChatMessage
				if err := json.Unmarshal(value, &msg); err != nil {
					return err
				}
				messages = append(messages, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	slices.Reverse(messages)
	return messages, nil
}

func (s *BadgerStore) CreateRoom(_ context.Context, room models.RoomMetadata) error {
	room.ParticipantCount = 0
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(roomNameKey(room.Name))); err == nil {
			return fmt.Errorf("room %q: %w", room.Name, ErrAlreadyExists)
		}
		if err := txn.Set([]byte(roomKey(room.ID)), data); err != nil {
			return err
		}
		if err := txn.Set([]byte(codeKey(room.Code)), []byte(room.ID)); err != nil {
			return err
		}
		return txn.Set([]byte(roomNameKey(room.Name)), []byte(room.ID))
	})
}

func (s *BadgerStore) FindRoom(_ context.Context, idOrCode string) (models.RoomMetadata, error) {
	var room models.RoomMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		room, err = findRoomTxn(txn, idOrCode)
		return err
	})
	return room, err
}

func findRoomTxn(txn *badger.Txn, idOrCode string) (models.RoomMetadata, error) {
	roomID := idOrCode
	if len(idOrCode) == RoomCodeLength {
		id, err := getValue(txn, codeKey(idOrCode))
		if err != nil {
			return models.RoomMetadata{}, badgerErr(err, "room code "+idOrCode)
		}
		roomID = string(id)
	}

	data, err := getValue(txn, roomKey(roomID))
	if err != nil {
		return models.RoomMetadata{}, badgerErr(err, "room "+roomID)
	}
	var room models.RoomMetadata
	if err := json.Unmarshal(data, &room); err != nil {
		return models.RoomMetadata{}, fmt.Errorf("parse room data: %w", err)
	}
	return room, nil
}

func (s *BadgerStore) ListRooms(_ context.Context) ([]models.RoomMetadata, error) {
	rooms := []models.RoomMetadata{}
	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = []byte("room:")
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var room models.RoomMetadata
				if err := json.Unmarshal(value, &room); err != nil {
					s.log.Warn("Skipping unreadable room", "key", string(it.Item().Key()), "error", err)
					return nil
				}
				rooms = append(rooms, room)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	sortRooms(rooms)
	return rooms, nil
}

// DeleteRoom removes the room, its lookup keys and its message history
func (s *BadgerStore) DeleteRoom(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		room, err := findRoomTxn(txn, id)
		if err != nil {
			return err
		}
		keys := [][]byte{[]byte(roomKey(room.ID)), []byte(codeKey(room.Code)), []byte(roomNameKey(room.Name))}

		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = messagePrefix(room.Name)
		it := txn.NewIterator(options)
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		s.log.Debug("Room deleted", "room", room.Name, "keys", len(keys))
		return nil
	})
}

func (s *BadgerStore) CreateUser(_ context.Context, user models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(userKey(user.Username))); err == nil {
			return fmt.Errorf("user %q: %w", user.Username, ErrAlreadyExists)
		}
		if _, err := txn.Get([]byte(emailKey(user.Email))); err == nil {
			return fmt.Errorf("email %q: %w", user.Email, ErrAlreadyExists)
		}
		if err := txn.Set([]byte(userKey(user.Username)), data); err != nil {
			return err
		}
		return txn.Set([]byte(emailKey(user.Email)), []byte(user.Username))
	})
}

func (s *BadgerStore) FindUserByUsername(_ context.Context, username string) (models.User, error) {
	var user models.User
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = findUserTxn(txn, username)
		return err
	})
	return user, err
}

func (s *BadgerStore) FindUserByEmail(_ context.Context, email string) (models.User, error) {
	var user models.User
	err := s.db.View(func(txn *badger.Txn) error {
		username, err := getValue(txn, emailKey(email))
		if err != nil {
			return badgerErr(err, "email "+email)
		}
		user, err = findUserTxn(txn, string(username))
		return err
	})
	return user, err
}

func findUserTxn(txn *badger.Txn, username string) (models.User, error) {
	data, err := getValue(txn, userKey(username))
	if err != nil {
		return models.User{}, badgerErr(err, "user "+username)
	}
	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		return models.User{}, fmt.Errorf("parse user: %w", err)
	}
	return user, nil
}

// Close releases the message sequence. The database is owned by the caller.
func (s *BadgerStore) Close() error {
	return s.seq.Release()
}

func getValue(txn *badger.Txn, key string) ([]byte, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func badgerErr(err error, what string) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// badgerLogger routes badger's printf logging into slog
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.log.Error(fmt.Sprintf(f, v...)) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.log.Warn(fmt.Sprintf(f, v...)) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.log.Info(fmt.Sprintf(f, v...)) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.log.Debug(fmt.Sprintf(f, v...)) }
