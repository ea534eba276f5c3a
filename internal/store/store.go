//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/rtc-rooms/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// MessageStore persists chat messages per room
type MessageStore interface {
	SaveMessage(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error)
	FindMessagesByRoom(ctx context.Context, room string) ([]models.ChatMessage, error)
}

// RoomStore persists room metadata. FindRoom accepts an id or a share code.
type RoomStore interface {
	CreateRoom(ctx context.Context, room models.RoomMetadata) error
	FindRoom(ctx context.Context, idOrCode string) (models.RoomMetadata, error)
	ListRooms(ctx context.Context) ([]models.RoomMetadata, error)
	DeleteRoom(ctx context.Context, id string) error
}

type UserStore interface {
	CreateUser(ctx context.Context, user models.User) error
	FindUserByUsername(ctx context.Context, username string) (models.User, error)
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
}

// Store is everything a backend provides
type Store interface {
	MessageStore
	RoomStore
	UserStore
	Close() error
}

// RoomCodeLength is the length of a share code; longer identifiers are ids
const RoomCodeLength = 6

// prepareMessage assigns the authoritative id and timestamp when missing
func prepareMessage(msg models.ChatMessage) models.ChatMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.ClientID = ""
	return msg
}

// sortMessages orders by timestamp; the input must already be in insertion
// order so that ties keep it.
func sortMessages(messages []models.ChatMessage) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}

func sortRooms(rooms []models.RoomMetadata) {
	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
}
