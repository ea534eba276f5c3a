package store

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/rtc-rooms/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// newRedisStore needs a disposable server; set REDIS_ADDR to run these
func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	require.NoError(t, client.FlushDB(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, slog.Default(), 0)
}

func Test_Redis_Messages(t *testing.T) {
	req := require.New(t)
	s := newRedisStore(t)
	ctx := context.Background()

	at := time.Now().UTC()
	_, err := s.SaveMessage(ctx, models.ChatMessage{Room: "room1", DisplayName: "B", Body: "later", Timestamp: at.Add(time.Minute)})
	req.NoError(err)
	_, err = s.SaveMessage(ctx, models.ChatMessage{Room: "room1", DisplayName: "A", Body: "earlier", Timestamp: at})
	req.NoError(err)
	_, err = s.SaveMessage(ctx, models.ChatMessage{Room: "room2", DisplayName: "C", Body: "elsewhere"})
	req.NoError(err)

	fetched, err := s.FindMessagesByRoom(ctx, "room1")
	req.NoError(err)
	req.Len(fetched, 2)
	req.Equal("earlier", fetched[0].Body)
	req.Equal("later", fetched[1].Body)
}

func Test_Redis_Rooms_And_Users(t *testing.T) {
	req := require.New(t)
	s := newRedisStore(t)
	ctx := context.Background()

	room := models.RoomMetadata{ID: uuid.NewString(), Code: "ABCD23", Name: "general", CreatedAt: time.Now().UTC()}
	req.NoError(s.CreateRoom(ctx, room))
	req.ErrorIs(s.CreateRoom(ctx, room), ErrAlreadyExists)

	found, err := s.FindRoom(ctx, "ABCD23")
	req.NoError(err)
	req.Equal(room.ID, found.ID)

	rooms, err := s.ListRooms(ctx)
	req.NoError(err)
	req.Len(rooms, 1)

	_, err = s.SaveMessage(ctx, models.ChatMessage{Room: "general", DisplayName: "Alice", Body: "hello"})
	req.NoError(err)

	req.NoError(s.DeleteRoom(ctx, room.ID))
	_, err = s.FindRoom(ctx, room.ID)
	req.ErrorIs(err, ErrNotFound)
	history, err := s.FindMessagesByRoom(ctx, "general")
	req.NoError(err)
	req.Empty(history)

	user := models.User{ID: "u1", Username: "Alice", Email: "alice@example.com"}
	req.NoError(s.CreateUser(ctx, user))
	req.ErrorIs(s.CreateUser(ctx, models.User{Username: "Alice1", Email: "alice@example.com"}), ErrAlreadyExists)
	_, err = s.FindUserByUsername(ctx, "Alice1")
	req.ErrorIs(err, ErrNotFound)

	byEmail, err := s.FindUserByEmail(ctx, "alice@example.com")
	req.NoError(err)
	req.Equal("Alice", byEmail.Username)
}
