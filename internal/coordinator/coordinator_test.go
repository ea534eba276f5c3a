package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mossy-p/rtc-rooms/internal/models"
	"github.com/mossy-p/rtc-rooms/internal/store"
	"github.com/stretchr/testify/require"
)

// recorder is a Conn that keeps everything it is sent
type recorder struct {
	id string

	mu     sync.Mutex
	events []models.OutboundEvent
}

func newRecorder(id string) *recorder {
	return &recorder{id: id}
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Send(evt models.OutboundEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return true
}

func (r *recorder) all() []models.OutboundEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.OutboundEvent(nil), r.events...)
}

func (r *recorder) ofType(t models.EventType) []models.OutboundEvent {
	var out []models.OutboundEvent
	for _, evt := range r.all() {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

func (r *recorder) counts() []int {
	var out []int
	for _, evt := range r.ofType(models.EventParticipantCount) {
		out = append(out, evt.Data.(models.ParticipantCount).Count)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func newBadgerMessages(t *testing.T) store.MessageStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	s, err := store.NewBadgerStore(db, slog.Default(), 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
		_ = db.Close()
	})
	return s
}

func newCoordinator(t *testing.T, messages store.MessageStore) *Coordinator {
	t.Helper()
	if messages == nil {
		messages = newBadgerMessages(t)
	}
	c := New(slog.Default(), messages, Options{StoreTimeout: time.Second, IdleTimeout: time.Minute})
	t.Cleanup(c.Close)
	return c
}

func connect(t *testing.T, c *Coordinator, ids ...string) []*recorder {
	t.Helper()
	out := make([]*recorder, 0, len(ids))
	for _, id := range ids {
		r := newRecorder(id)
		require.NoError(t, c.Connect(r))
		out = append(out, r)
	}
	return out
}

func rosterIDs(roster []models.Participant) []string {
	ids := make([]string, 0, len(roster))
	for _, p := range roster {
		ids = append(ids, p.ConnectionID)
	}
	return ids
}

func TestJoinThenChat_BothMembersReceiveMessage(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()
	conns := connect(t, c, "A", "B")
	a, b := conns[0], conns[1]

	_, err := c.Join(ctx, "A", "room1", "A")
	req.NoError(err)
	roster, err := c.Join(ctx, "B", "room1", "B")
	req.NoError(err)
	req.ElementsMatch([]string{"A", "B"}, rosterIDs(roster))

	stored, err := c.PostMessage(ctx, models.ChatMessage{Room: "room1", DisplayName: "A", Body: "hi", ClientID: "tmp-1"})
	req.NoError(err)
	req.NotEmpty(stored.ID)
	req.Equal("tmp-1", stored.ClientID)

	for _, r := range []*recorder{a, b} {
		msgs := r.ofType(models.EventChatMessage)
		req.Len(msgs, 1, r.id)
		got := msgs[0].Data.(models.ChatMessage)
		req.Equal("hi", got.Body)
		req.Equal("A", got.DisplayName)
	}
	req.Equal([]int{1, 2}, a.counts())
	req.Equal([]int{2}, b.counts())
	req.Equal(2, c.ParticipantCount("room1"))
}

func TestJoin_NewUserGoesToExistingMembersOnly(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()
	conns := connect(t, c, "A", "B")
	a, b := conns[0], conns[1]

	_, err := c.Join(ctx, "A", "room1", "Alice")
	req.NoError(err)
	_, err = c.Join(ctx, "B", "room1", "Bob")
	req.NoError(err)

	newUsers := a.ofType(models.EventNewUser)
	req.Len(newUsers, 1)
	req.Equal(models.Participant{ConnectionID: "B", DisplayName: "Bob"}, newUsers[0].Data)
	req.Empty(b.ofType(models.EventNewUser))
}

func TestJoin_IsIdempotentPerConnection(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()
	conns := connect(t, c, "A", "B")
	b := conns[1]

	_, err := c.Join(ctx, "B", "room1", "Bob")
	req.NoError(err)
	_, err = c.Join(ctx, "A", "room1", "Alice")
	req.NoError(err)
	roster, err := c.Join(ctx, "A", "room1", "Alicia")
	req.NoError(err)

	req.Len(roster, 2)
	req.Equal([]models.Participant{
		{ConnectionID: "A", DisplayName: "Alicia"},
		{ConnectionID: "B", DisplayName: "Bob"},
	}, roster)
	req.Len(b.ofType(models.EventNewUser), 1)
}

func TestJoin_Validation(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	connect(t, c, "A")

	_, err := c.Join(context.Background(), "A", "  ", "Alice")
	req.ErrorIs(err, ErrValidation)
	_, err = c.Join(context.Background(), "A", "room1", "")
	req.ErrorIs(err, ErrValidation)
	_, err = c.Join(context.Background(), "ghost", "room1", "Ghost")
	req.ErrorIs(err, ErrUnknownConnection)
	req.Zero(c.ParticipantCount("room1"))
}

func TestHistory_DeliveredToJoinerFirstAndScopedToRoom(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()

	at := time.Now().UTC()
	for i, body := range []string{"one", "two"} {
		_, err := c.PostMessage(ctx, models.ChatMessage{Room: "room1", DisplayName: "A", Body: body, Timestamp: at.Add(time.Duration(i) * time.Second)})
		req.NoError(err)
	}
	_, err := c.PostMessage(ctx, models.ChatMessage{Room: "room2", DisplayName: "A", Body: "elsewhere"})
	req.NoError(err)

	conns := connect(t, c, "B")
	b := conns[0]
	_, err = c.Join(ctx, "B", "room1", "Bob")
	req.NoError(err)

	events := b.all()
	req.Equal(models.EventConnected, events[0].Type)
	req.Equal(models.EventChatHistory, events[1].Type)
	history := events[1].Data.(models.ChatHistory)
	req.Equal("room1", history.Room)
	req.Len(history.Messages, 2)
	req.Equal("one", history.Messages[0].Body)
	req.Equal("two", history.Messages[1].Body)
}

func TestLeave_RemovesAndNotifiesRemaining(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()
	conns := connect(t, c, "A", "B")
	a, b := conns[0], conns[1]

	_, err := c.Join(ctx, "A", "room1", "Alice")
	req.NoError(err)
	_, err = c.Join(ctx, "B", "room1", "Bob")
	req.NoError(err)
	a.reset()
	b.reset()

	req.NoError(c.Leave(ctx, "A", "room1", "Alice"))

	req.Empty(a.all())
	left := b.ofType(models.EventUserLeft)
	req.Len(left, 1)
	req.Equal(models.Participant{ConnectionID: "A", DisplayName: "Alice"}, left[0].Data)
	req.Equal([]int{1}, b.counts())
	req.Equal([]string{"B"}, rosterIDs(c.Roster("room1")))
}

func TestLeave_ToleratesUnknowns(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()
	conns := connect(t, c, "A")

	req.NoError(c.Leave(ctx, "A", "never-joined", "Alice"))
	req.NoError(c.Leave(ctx, "ghost", "room1", "Ghost"))
	req.NoError(c.Leave(ctx, "A", "", "Alice"))

	_, err := c.Join(ctx, "A", "room1", "Alice")
	req.NoError(err)
	req.NoError(c.Leave(ctx, "A", "room1", "Alice"))
	req.NoError(c.Leave(ctx, "A", "room1", "Alice"))
	req.Equal([]int{1}, conns[0].counts())
}

func TestDisconnect_EmptiesRoomWithoutDuplicateNotices(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()
	conns := connect(t, c, "A", "B")
	b := conns[1]

	_, err := c.Join(ctx, "A", "room1", "Alice")
	req.NoError(err)
	c.Disconnect("A")
	c.Disconnect("A")

	req.Empty(c.Roster("room1"))
	req.Zero(c.ParticipantCount("room1"))
	req.False(c.Connected("A"))

	// a later member sees no trace of A
	_, err = c.Join(ctx, "B", "room1", "Bob")
	req.NoError(err)
	req.Equal([]string{"B"}, rosterIDs(c.Roster("room1")))
	req.Empty(b.ofType(models.EventUserLeft))
}

func TestDisconnect_RacingLeaveYieldsOneNotice(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		c := newCoordinator(t, nil)
		conns := connect(t, c, "A", "B")
		b := conns[1]
		_, err := c.Join(ctx, "A", "room1", "Alice")
		req.NoError(err)
		_, err = c.Join(ctx, "B", "room1", "Bob")
		req.NoError(err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Leave(ctx, "A", "room1", "Alice")
		}()
		go func() {
			defer wg.Done()
			c.Disconnect("A")
		}()
		wg.Wait()

		req.Len(b.ofType(models.EventUserLeft), 1)
		req.Equal([]string{"B"}, rosterIDs(c.Roster("room1")))
		counts := b.counts()
		req.Equal(1, counts[len(counts)-1])
	}
}

func TestDisconnect_CleansEveryRoomAndNothingElse(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()
	connect(t, c, "A", "B", "C")

	for _, name := range []string{"room1", "room2"} {
		_, err := c.Join(ctx, "A", name, "Alice")
		req.NoError(err)
		_, err = c.Join(ctx, "B", name, "Bob")
		req.NoError(err)
	}
	_, err := c.Join(ctx, "C", "room3", "Carol")
	req.NoError(err)

	c.Disconnect("A")

	req.Equal([]string{"B"}, rosterIDs(c.Roster("room1")))
	req.Equal([]string{"B"}, rosterIDs(c.Roster("room2")))
	req.Equal([]string{"C"}, rosterIDs(c.Roster("room3")))
}

func TestLeave_OneRoomKeepsTheOther(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()
	connect(t, c, "A")

	_, err := c.Join(ctx, "A", "room1", "Alice")
	req.NoError(err)
	_, err = c.Join(ctx, "A", "room2", "Alice")
	req.NoError(err)
	req.NoError(c.Leave(ctx, "A", "room1", "Alice"))

	req.Empty(c.Roster("room1"))
	req.Equal([]string{"A"}, rosterIDs(c.Roster("room2")))

	// a later disconnect only has room2 to clean up
	c.Disconnect("A")
	req.Empty(c.Roster("room2"))
}

func TestDisconnect_EndsEphemeralState(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()
	conns := connect(t, c, "A", "B")
	b := conns[1]

	_, err := c.Join(ctx, "A", "room1", "Alice")
	req.NoError(err)
	_, err = c.Join(ctx, "B", "room1", "Bob")
	req.NoError(err)

	req.True(c.BroadcastHandRaised("room1", "A", "Alice", true))
	req.True(c.BroadcastScreenShareState("room1", "A", true))
	c.TypingStarted("A", "room1", "Alice")
	b.reset()

	c.Disconnect("A")

	hands := b.ofType(models.EventHandRaised)
	req.Len(hands, 1)
	req.False(hands[0].Data.(models.HandRaised).IsRaised)
	req.Len(b.ofType(models.EventScreenShareEnded), 1)
	req.Len(b.ofType(models.EventUserStoppedTyping), 1)
	req.Len(b.ofType(models.EventUserLeft), 1)
}

func TestTyping_StartStopYieldsSingleStop(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()
	conns := connect(t, c, "A", "B")
	a, b := conns[0], conns[1]

	_, err := c.Join(ctx, "A", "room1", "Alice")
	req.NoError(err)
	_, err = c.Join(ctx, "B", "room1", "Bob")
	req.NoError(err)

	c.TypingStarted("A", "room1", "Alice")
	c.TypingStopped("A", "room1")
	c.TypingStopped("A", "room1")

	typing := b.ofType(models.EventUserTyping)
	req.Len(typing, 1)
	req.Equal("Alice is typing...", typing[0].Data.(models.TypingIndicator).Text)
	req.Len(b.ofType(models.EventUserStoppedTyping), 1)
	req.Empty(a.ofType(models.EventUserTyping))
	req.Empty(a.ofType(models.EventUserStoppedTyping))

	// leaving later does not announce a stale indicator
	b.reset()
	req.NoError(c.Leave(ctx, "A", "room1", "Alice"))
	req.Empty(b.ofType(models.EventUserStoppedTyping))
}

func TestRelay_PointToPoint(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	conns := connect(t, c, "A", "B", "C")
	b, cc := conns[1], conns[2]

	payload := []byte(`{"sdp":"v=0"}`)
	req.True(c.RelayOffer("A", "B", payload))
	req.True(c.RelayAnswer("B", "A", payload))
	req.True(c.RelayCandidate("A", "B", []byte(`{"candidate":"x"}`)))

	offers := b.ofType(models.EventOffer)
	req.Len(offers, 1)
	fwd := offers[0].Data.(models.SignalForward)
	req.Equal("A", fwd.From)
	req.JSONEq(`{"sdp":"v=0"}`, string(fwd.Payload))
	req.Len(b.ofType(models.EventCandidate), 1)
	req.Empty(cc.ofType(models.EventOffer))
}

func TestRelay_UnknownTargetIsDropped(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	conns := connect(t, c, "A", "B")

	req.False(c.RelayOffer("A", "nobody", []byte(`{}`)))
	req.False(c.RelayCandidate("A", "", []byte(`{}`)))

	c.Disconnect("B")
	req.False(c.RelayAnswer("A", "B", []byte(`{}`)))
	req.Empty(conns[1].ofType(models.EventAnswer))
}

func TestBroadcasts_ReachOthersOnly(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()
	conns := connect(t, c, "A", "B", "C")
	a, b, outsider := conns[0], conns[1], conns[2]

	_, err := c.Join(ctx, "A", "room1", "Alice")
	req.NoError(err)
	_, err = c.Join(ctx, "B", "room1", "Bob")
	req.NoError(err)

	req.True(c.BroadcastReaction("room1", "A", "Alice", "👏"))
	req.True(c.BroadcastScreenShareState("room1", "A", true))
	req.True(c.BroadcastScreenShareState("room1", "A", false))
	req.False(c.BroadcastReaction("room1", "C", "Carol", "👏"))
	req.False(c.BroadcastHandRaised("nowhere", "A", "Alice", true))

	reactions := b.ofType(models.EventReaction)
	req.Len(reactions, 1)
	req.Equal("👏", reactions[0].Data.(models.Reaction).Icon)
	req.Len(b.ofType(models.EventScreenShareStarted), 1)
	req.Len(b.ofType(models.EventScreenShareEnded), 1)
	req.Empty(a.ofType(models.EventReaction))
	req.Empty(outsider.ofType(models.EventReaction))
}

func TestPostMessage_Validation(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()
	conns := connect(t, c, "A")
	_, err := c.Join(ctx, "A", "room1", "Alice")
	req.NoError(err)

	for _, msg := range []models.ChatMessage{
		{Room: "room1", DisplayName: "Alice", Body: "   "},
		{Room: "room1", DisplayName: "", Body: "hi"},
		{Room: "", DisplayName: "Alice", Body: "hi"},
	} {
		_, err := c.PostMessage(ctx, msg)
		req.ErrorIs(err, ErrValidation)
	}
	req.Empty(conns[0].ofType(models.EventChatMessage))
}

func TestPostMessage_RejectsUnrepresentableTimestamp(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()

	for _, ts := range []time.Time{
		time.Date(1500, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC),
	} {
		_, err := c.PostMessage(ctx, models.ChatMessage{Room: "room1", DisplayName: "Alice", Body: "hi", Timestamp: ts})
		req.ErrorIs(err, ErrValidation)
	}

	early := time.Date(1969, 12, 31, 23, 59, 58, 0, time.UTC)
	for i, body := range []string{"early", "late"} {
		_, err := c.PostMessage(ctx, models.ChatMessage{Room: "room1", DisplayName: "Alice", Body: body, Timestamp: early.Add(time.Duration(i) * time.Second)})
		req.NoError(err)
	}
	a := connect(t, c, "A")[0]
	_, err := c.Join(ctx, "A", "room1", "Alice")
	req.NoError(err)
	events := a.ofType(models.EventChatHistory)
	req.Len(events, 1)
	history := events[0].Data.(models.ChatHistory).Messages
	req.Len(history, 2)
	req.Equal("early", history[0].Body)
	req.Equal("late", history[1].Body)
}

func TestJoin_EnforcesMessageLimitsSoMembersCanPost(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()
	connect(t, c, "A")

	_, err := c.Join(ctx, "A", strings.Repeat("r", 129), "Alice")
	req.ErrorIs(err, ErrValidation)
	_, err = c.Join(ctx, "A", "room1", strings.Repeat("n", 65))
	req.ErrorIs(err, ErrValidation)
	req.Empty(c.registry.Rooms())

	room, name := strings.Repeat("r", 128), strings.Repeat("n", 64)
	_, err = c.Join(ctx, "A", room, name)
	req.NoError(err)
	_, err = c.PostMessage(ctx, models.ChatMessage{Room: room, DisplayName: name, Body: "still fits"})
	req.NoError(err)
}

func TestJoinLimited_ConcurrentJoinsNeverOverfill(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()

	const n, capacity = 20, 3
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("conn-%02d", i)
	}
	connect(t, c, ids...)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined []string
		full   int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := c.JoinLimited(ctx, id, "room1", id, capacity)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				joined = append(joined, id)
			case errors.Is(err, ErrRoomFull):
				full++
			}
		}(id)
	}
	wg.Wait()

	req.Len(joined, capacity)
	req.Equal(n-capacity, full)
	req.ElementsMatch(joined, rosterIDs(c.Roster("room1")))

	// members may rejoin a full room, newcomers may not
	_, err := c.JoinLimited(ctx, joined[0], "room1", "renamed", capacity)
	req.NoError(err)
	for _, id := range ids {
		if !slices.Contains(joined, id) {
			_, err = c.JoinLimited(ctx, id, "room1", id, capacity)
			req.ErrorIs(err, ErrRoomFull)
			req.Equal("room_full", ErrorCode(err))
			break
		}
	}
	req.Equal(capacity, c.ParticipantCount("room1"))
}

func TestConcurrentJoinLeave_RosterMatchesSurvivors(t *testing.T) {
	req := require.New(t)
	c := newCoordinator(t, nil)
	ctx := context.Background()

	const n = 40
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("conn-%02d", i)
	}
	connect(t, c, ids...)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = c.Join(ctx, id, "room1", id)
		}(id)
	}
	wg.Wait()
	req.Equal(n, c.ParticipantCount("room1"))

	var survivors []string
	for i, id := range ids {
		if i%2 == 0 {
			survivors = append(survivors, id)
			continue
		}
		wg.Add(1)
		go func(id string, disconnect bool) {
			defer wg.Done()
			if disconnect {
				c.Disconnect(id)
				return
			}
			_ = c.Leave(ctx, id, "room1", id)
		}(id, i%4 == 1)
	}
	wg.Wait()

	req.ElementsMatch(survivors, rosterIDs(c.Roster("room1")))
	req.Equal(len(survivors), c.ParticipantCount("room1"))
}

func TestRegistry_ReapsIdleEmptyRooms(t *testing.T) {
	req := require.New(t)
	c := New(slog.Default(), newBadgerMessages(t), Options{IdleTimeout: 20 * time.Millisecond})
	t.Cleanup(c.Close)
	ctx := context.Background()
	connect(t, c, "A")

	_, err := c.Join(ctx, "A", "room1", "Alice")
	req.NoError(err)
	_, err = c.Join(ctx, "A", "room2", "Alice")
	req.NoError(err)
	req.NoError(c.Leave(ctx, "A", "room1", "Alice"))

	req.Eventually(func() bool {
		rooms := c.registry.Rooms()
		return len(rooms) == 1 && rooms[0] == "room2"
	}, time.Second, 10*time.Millisecond)
}

func TestClose_RejectsFurtherWork(t *testing.T) {
	req := require.New(t)
	c := New(slog.Default(), newBadgerMessages(t), Options{})
	connect(t, c, "A")
	c.Close()

	_, err := c.Join(context.Background(), "A", "room1", "Alice")
	req.ErrorIs(err, ErrClosed)
}
