package coordinator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mossy-p/rtc-rooms/internal/models"
	"github.com/samber/lo"
)

type task func(rm *room)

// room is the live state of one room. participants and the markers they
// carry are guarded by mu; only the room's worker adds or removes entries.
type room struct {
	name    string
	mailbox chan task
	pending int // guarded by Registry.mu

	mu           sync.RWMutex
	participants map[string]*participant
}

type participant struct {
	conn        Conn
	displayName string
	typing      bool
	handRaised  bool
	sharing     bool
}

func (rm *room) size() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.participants)
}

// rosterLocked must be called with mu held
func (rm *room) rosterLocked() []models.Participant {
	roster := lo.MapToSlice(rm.participants, func(id string, p *participant) models.Participant {
		return models.Participant{ConnectionID: id, DisplayName: p.displayName}
	})
	sort.Slice(roster, func(i, j int) bool {
		if roster[i].DisplayName != roster[j].DisplayName {
			return roster[i].DisplayName < roster[j].DisplayName
		}
		return roster[i].ConnectionID < roster[j].ConnectionID
	})
	return roster
}

// broadcastLocked must be called with mu held. An empty exclude reaches everyone.
func (rm *room) broadcastLocked(evt models.OutboundEvent, exclude string) int {
	sent := 0
	for id, p := range rm.participants {
		if id == exclude {
			continue
		}
		if p.conn.Send(evt) {
			sent++
		}
	}
	return sent
}

// announceRosterLocked sends the roster and the count to every member
func (rm *room) announceRosterLocked() []models.Participant {
	roster := rm.rosterLocked()
	rm.broadcastLocked(models.OutboundEvent{
		Type: models.EventOnlineUsers,
		Data: models.Roster{Room: rm.name, Participants: roster},
	}, "")
	rm.broadcastLocked(models.OutboundEvent{
		Type: models.EventParticipantCount,
		Data: models.ParticipantCount{Room: rm.name, Count: len(roster)},
	}, "")
	return roster
}

// Registry owns the live rooms and one worker goroutine per room. A worker
// exits after sitting idle with an empty roster and nothing queued.
type Registry struct {
	log         *slog.Logger
	idle        time.Duration
	mailboxSize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	rooms  map[string]*room
}

func NewRegistry(log *slog.Logger, idle time.Duration, mailboxSize int) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		log:         log,
		idle:        idle,
		mailboxSize: mailboxSize,
		ctx:         ctx,
		cancel:      cancel,
		rooms:       make(map[string]*room),
	}
}

// lookup returns the live room or nil; it never creates one
func (r *Registry) lookup(name string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[name]
}

// Count is the current roster size, zero for unknown rooms
func (r *Registry) Count(name string) int {
	rm := r.lookup(name)
	if rm == nil {
		return 0
	}
	return rm.size()
}

// Roster is a snapshot of the room's participants
func (r *Registry) Roster(name string) []models.Participant {
	rm := r.lookup(name)
	if rm == nil {
		return []models.Participant{}
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.rosterLocked()
}

// Rooms lists the names of rooms with a running worker
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := lo.Keys(r.rooms)
	sort.Strings(names)
	return names
}

func (r *Registry) enqueue(name string, t task) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	rm, ok := r.rooms[name]
	if !ok {
		rm = &room{
			name:         name,
			mailbox:      make(chan task, r.mailboxSize),
			participants: make(map[string]*participant),
		}
		r.rooms[name] = rm
		r.wg.Add(1)
		go r.work(rm)
		r.log.Debug("Room worker started", "room", name)
	}
	rm.pending++
	r.mu.Unlock()

	select {
	case rm.mailbox <- t:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// run queues fn on the room's worker and waits for it to finish
func (r *Registry) run(name string, fn task) error {
	done := make(chan struct{})
	if !r.enqueue(name, func(rm *room) {
		defer close(done)
		fn(rm)
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-r.ctx.Done():
		return ErrClosed
	}
}

func (r *Registry) work(rm *room) {
	defer r.wg.Done()
	timer := time.NewTimer(r.idle)
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case t := <-rm.mailbox:
			t(rm)
			r.mu.Lock()
			rm.pending--
			r.mu.Unlock()
			timer.Reset(r.idle)
		case <-timer.C:
			if r.reap(rm) {
				r.log.Debug("Room worker stopped", "room", rm.name)
				return
			}
			timer.Reset(r.idle)
		}
	}
}

func (r *Registry) reap(rm *room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm.pending > 0 || rm.size() > 0 {
		return false
	}
	delete(r.rooms, rm.name)
	return true
}

// Close stops all workers; queued tasks are abandoned
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}
