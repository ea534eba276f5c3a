package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mossy-p/rtc-rooms/internal/models"
	"github.com/redis/go-redis/v9"
)

const roomSetKey = "rooms"

func roomKey(id string) string       { return "room:" + id }
func codeKey(code string) string     { return "code:" + code }
func roomNameKey(name string) string { return "roomname:" + name }
func messagesKey(room string) string { return "messages:" + room }
func userKey(username string) string { return "user:" + username }
func emailKey(email string) string   { return "email:" + email }

// RedisStore keeps rooms, messages and users in Redis. Messages of a room
// live in one list so insertion order is preserved.
type RedisStore struct {
	client       *redis.Client
	log          *slog.Logger
	historyLimit int
}

func NewRedisStore(client *redis.Client, log *slog.Logger, historyLimit int) *RedisStore {
	return &RedisStore{client: client, log: log, historyLimit: historyLimit}
}

func (s *RedisStore) SaveMessage(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	msg = prepareMessage(msg)
	data, err := json.Marshal(msg)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("marshal message: %w", err)
	}
	if err := s.client.RPush(ctx, messagesKey(msg.Room), data).Err(); err != nil {
		return models.ChatMessage{}, fmt.Errorf("store message: %w", err)
	}
	return msg, nil
}

func (s *RedisStore) FindMessagesByRoom(ctx context.Context, room string) ([]models.ChatMessage, error) {
	raw, err := s.client.LRange(ctx, messagesKey(room), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	messages := make([]models.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			s.log.Warn("Skipping unreadable message", "room", room, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	sortMessages(messages)

	if s.historyLimit > 0 && len(messages) > s.historyLimit {
		messages = messages[len(messages)-s.historyLimit:]
	}
	return messages, nil
}

func (s *RedisStore) CreateRoom(ctx context.Context, room models.RoomMetadata) error {
	// Room names are unique; claim the name before writing anything else
	claimed, err := s.client.SetNX(ctx, roomNameKey(room.Name), room.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("claim room name: %w", err)
	}
	if !claimed {
		return fmt.Errorf("room %q: %w", room.Name, ErrAlreadyExists)
	}

	room.ParticipantCount = 0
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, roomKey(room.ID), data, 0)
		pipe.Set(ctx, codeKey(room.Code), room.ID, 0)
		pipe.SAdd(ctx, roomSetKey, room.ID)
		return nil
	})
	if err != nil {
		s.client.Del(ctx, roomNameKey(room.Name))
		return fmt.Errorf("store room: %w", err)
	}
	return nil
}

func (s *RedisStore) FindRoom(ctx context.Context, idOrCode string) (models.RoomMetadata, error) {
	roomID := idOrCode

	// Check if it's a code (6 chars) vs UUID
	if len(idOrCode) == RoomCodeLength {
		id, err := s.client.Get(ctx, codeKey(idOrCode)).Result()
		if err != nil {
			return models.RoomMetadata{}, redisErr(err, "room code "+idOrCode)
		}
		roomID = id
	}

	data, err := s.client.Get(ctx, roomKey(roomID)).Result()
	if err != nil {
		return models.RoomMetadata{}, redisErr(err, "room "+roomID)
	}

	var room models.RoomMetadata
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return models.RoomMetadata{}, fmt.Errorf("parse room data: %w", err)
	}
	return room, nil
}

func (s *RedisStore) ListRooms(ctx context.Context) ([]models.RoomMetadata, error) {
	ids, err := s.client.SMembers(ctx, roomSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	if len(ids) == 0 {
		return []models.RoomMetadata{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = roomKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}

	rooms := make([]models.RoomMetadata, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var room models.RoomMetadata
		if err := json.Unmarshal([]byte(data), &room); err != nil {
			s.log.Warn("Skipping unreadable room", "error", err)
			continue
		}
		rooms = append(rooms, room)
	}
	sortRooms(rooms)
	return rooms, nil
}

func (s *RedisStore) DeleteRoom(ctx context.Context, id string) error {
	room, err := s.FindRoom(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, roomKey(room.ID), codeKey(room.Code), roomNameKey(room.Name), messagesKey(room.Name))
		pipe.SRem(ctx, roomSetKey, room.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

func (s *RedisStore) CreateUser(ctx context.Context, user models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	created, err := s.client.SetNX(ctx, userKey(user.Username), data, 0).Result()
	if err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	if !created {
		return fmt.Errorf("user %q: %w", user.Username, ErrAlreadyExists)
	}

	claimed, err := s.client.SetNX(ctx, emailKey(user.Email), user.Username, 0).Result()
	if err != nil || !claimed {
		s.client.Del(ctx, userKey(user.Username))
		if err != nil {
			return fmt.Errorf("claim email: %w", err)
		}
		return fmt.Errorf("email %q: %w", user.Email, ErrAlreadyExists)
	}
	return nil
}

func (s *RedisStore) FindUserByUsername(ctx context.Context, username string) (models.User, error) {
	data, err := s.client.Get(ctx, userKey(username)).Result()
	if err != nil {
		return models.User{}, redisErr(err, "user "+username)
	}
	var user models.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return models.User{}, fmt.Errorf("parse user: %w", err)
	}
	return user, nil
}

func (s *RedisStore) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	username, err := s.client.Get(ctx, emailKey(email)).Result()
	if err != nil {
		return models.User{}, redisErr(err, "email "+email)
	}
	return s.FindUserByUsername(ctx, username)
}

// Close is a no-op; the client is owned by the caller
func (s *RedisStore) Close() error { return nil }

func redisErr(err error, what string) error {
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
