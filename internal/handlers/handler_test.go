package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/mama165/sdk-go/logs"
	"github.com/mossy-p/rtc-rooms/internal/auth"
	"github.com/mossy-p/rtc-rooms/internal/coordinator"
	"github.com/mossy-p/rtc-rooms/internal/middleware"
	"github.com/mossy-p/rtc-rooms/internal/models"
	"github.com/mossy-p/rtc-rooms/internal/store"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	router *gin.Engine
	store  *store.BadgerStore
	coord  *coordinator.Coordinator
	tokens *auth.TokenIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, Options{})
}

func newTestEnvWith(t *testing.T, opts Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	s, err := store.NewBadgerStore(db, log, 0)
	require.NoError(t, err)
	coord := coordinator.New(log, s, coordinator.Options{StoreTimeout: time.Second})
	t.Cleanup(func() {
		coord.Close()
		_ = s.Close()
		_ = db.Close()
	})

	tokens := auth.NewTokenIssuer("test-secret", time.Hour)
	h := New(log, coord, s, s, auth.NewService(log, s, tokens, bcrypt.MinCost), opts)

	router := gin.New()
	router.Use(OriginFilter([]string{"http://allowed.example"}))
	h.Routes(router, middleware.JWTAuth(tokens))
	return &testEnv{router: router, store: s, coord: coord, tokens: tokens}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRegisterAndLogin(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/auth/register", gin.H{"username": "alice", "email": "alice@example.com", "password": "secret1"}, "")
	req.Equal(http.StatusCreated, w.Code, w.Body.String())
	req.Equal("Alice", decode[auth.RegisterResult](t, w).Username)

	w = e.do(t, http.MethodPost, "/api/auth/register", gin.H{"username": "ALICE", "email": "other@example.com", "password": "secret1"}, "")
	req.Equal(http.StatusCreated, w.Code)
	req.Equal("Alice1", decode[auth.RegisterResult](t, w).Username)

	w = e.do(t, http.MethodPost, "/api/auth/register", gin.H{"username": "bob", "email": "alice@example.com", "password": "secret1"}, "")
	req.Equal(http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, "/api/auth/register", gin.H{"username": "bob", "email": "bob", "password": "secret1"}, "")
	req.Equal(http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/auth/login", gin.H{"username": "Alice", "password": "secret1"}, "")
	req.Equal(http.StatusOK, w.Code)
	res := decode[auth.LoginResult](t, w)
	claims, err := e.tokens.Parse(res.Token)
	req.NoError(err)
	req.Equal("Alice", claims.Username)

	w = e.do(t, http.MethodPost, "/api/auth/login", gin.H{"username": "Alice", "password": "wrong"}, "")
	req.Equal(http.StatusUnauthorized, w.Code)
}

func TestRooms_Lifecycle(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t)
	owner, err := e.tokens.Issue("u-1", "Alice")
	req.NoError(err)
	other, err := e.tokens.Issue("u-2", "Bob")
	req.NoError(err)

	w := e.do(t, http.MethodPost, "/api/rooms", gin.H{"name": "General"}, "")
	req.Equal(http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/api/rooms", gin.H{"name": "General"}, owner)
	req.Equal(http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.CreateRoomResponse](t, w)
	req.Len(created.Code, store.RoomCodeLength)
	req.Equal("General", created.Name)

	w = e.do(t, http.MethodPost, "/api/rooms", gin.H{"name": "General"}, owner)
	req.Equal(http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, "/api/rooms", gin.H{"name": "Tiny", "maxParticipants": 1}, owner)
	req.Equal(http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/rooms", nil, "")
	req.Equal(http.StatusOK, w.Code)
	rooms := decode[[]models.RoomMetadata](t, w)
	req.Len(rooms, 1)
	req.Equal(defaultMaxParticipants, rooms[0].MaxParticipants)
	req.Zero(rooms[0].ParticipantCount)

	w = e.do(t, http.MethodGet, "/api/rooms/"+strings.ToLower(created.Code), nil, "")
	req.Equal(http.StatusOK, w.Code)
	req.Equal(created.RoomID, decode[models.RoomMetadata](t, w).ID)

	w = e.do(t, http.MethodGet, "/api/rooms/does-not-exist", nil, "")
	req.Equal(http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodDelete, "/api/rooms/"+created.RoomID, nil, other)
	req.Equal(http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodDelete, "/api/rooms/"+created.RoomID, nil, owner)
	req.Equal(http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/rooms/"+created.RoomID, nil, "")
	req.Equal(http.StatusNotFound, w.Code)
}

func TestRooms_LiveCount(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t)
	req.NoError(e.store.CreateRoom(context.Background(), models.RoomMetadata{
		ID: "r-1", Code: "ABCDEF", Name: "General", CreatorID: "u-1", CreatedAt: time.Now(), MaxParticipants: 4,
	}))

	conn := &stubConn{id: "c-1"}
	req.NoError(e.coord.Connect(conn))
	_, err := e.coord.Join(context.Background(), "c-1", "General", "Alice")
	req.NoError(err)

	w := e.do(t, http.MethodGet, "/api/rooms/ABCDEF", nil, "")
	req.Equal(http.StatusOK, w.Code)
	req.Equal(1, decode[models.RoomMetadata](t, w).ParticipantCount)
}

func TestMessages(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/messages", gin.H{"room": "General", "username": "Alice", "message": "hello"}, "")
	req.Equal(http.StatusCreated, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, "/api/messages", gin.H{"room": "General", "username": "Alice"}, "")
	req.Equal(http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/messages/General", nil, "")
	req.Equal(http.StatusOK, w.Code)
	msgs := decode[[]models.ChatMessage](t, w)
	req.Len(msgs, 1)
	req.Equal("hello", msgs[0].Body)
	req.Equal("Alice", msgs[0].DisplayName)

	w = e.do(t, http.MethodGet, "/api/messages/Empty", nil, "")
	req.Equal(http.StatusOK, w.Code)
	req.JSONEq(`[]`, w.Body.String())
}

func TestOriginFilter(t *testing.T) {
	e := newTestEnv(t)

	cases := []struct {
		name   string
		method string
		origin string
		status int
		cors   bool
	}{
		{"no origin", http.MethodGet, "", http.StatusOK, false},
		{"allowed", http.MethodGet, "http://allowed.example", http.StatusOK, true},
		{"denied", http.MethodGet, "http://evil.example", http.StatusForbidden, false},
		{"preflight", http.MethodOptions, "http://allowed.example", http.StatusNoContent, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/health", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			w := httptest.NewRecorder()
			e.router.ServeHTTP(w, req)
			require.Equal(t, tc.status, w.Code)
			if tc.cors {
				require.Equal(t, tc.origin, w.Header().Get("Access-Control-Allow-Origin"))
			} else {
				require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestOriginFilter_Wildcard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(OriginFilter([]string{"*"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://anything.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "http://anything.example", w.Header().Get("Access-Control-Allow-Origin"))
}

type stubConn struct{ id string }

func (s *stubConn) ID() string                     { return s.id }
func (s *stubConn) Send(models.OutboundEvent) bool { return true }
