// Package coordinator keeps live room presence, relays chat and forwards
// WebRTC signaling between connections.
//
// Mutations of a room's roster (join, leave, disconnect) and chat posts are
// funnelled through one mailbox per room and therefore applied one at a time
// in arrival order. Store calls happen inside the mailbox, so a slow store
// only holds back the room it serves. Ephemeral broadcasts and point-to-point
// relays never enter a mailbox.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mossy-p/rtc-rooms/internal/models"
	"github.com/mossy-p/rtc-rooms/internal/store"
	"github.com/samber/lo"
)

// Conn is a transport connection as seen by the coordinator. Send must not
// block; it reports whether the event was queued.
type Conn interface {
	ID() string
	Send(evt models.OutboundEvent) bool
}

type Options struct {
	StoreTimeout time.Duration
	IdleTimeout  time.Duration
	MailboxSize  int
}

func (o Options) withDefaults() Options {
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = time.Minute
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = 64
	}
	return o
}

type Coordinator struct {
	log      *slog.Logger
	messages store.MessageStore
	opts     Options
	validate *validator.Validate
	registry *Registry

	connsMu sync.RWMutex
	conns   map[string]*connection
}

func New(log *slog.Logger, messages store.MessageStore, opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		log:      log,
		messages: messages,
		opts:     opts,
		validate: validator.New(),
		registry: NewRegistry(log, opts.IdleTimeout, opts.MailboxSize),
		conns:    make(map[string]*connection),
	}
}

// connection tracks which rooms a registered Conn has entered. Once closed
// it can no longer enter a room.
type connection struct {
	conn Conn

	mu     sync.Mutex
	closed bool
	rooms  map[string]struct{}
}

func (cn *connection) enter(room string) bool {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		return false
	}
	cn.rooms[room] = struct{}{}
	return true
}

func (cn *connection) exit(room string) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	delete(cn.rooms, room)
}

func (cn *connection) close() []string {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	cn.closed = true
	return lo.Keys(cn.rooms)
}

// Connect registers a connection and tells it its own id
func (c *Coordinator) Connect(conn Conn) error {
	c.connsMu.Lock()
	if _, exists := c.conns[conn.ID()]; exists {
		c.connsMu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateConn, conn.ID())
	}
	c.conns[conn.ID()] = &connection{conn: conn, rooms: make(map[string]struct{})}
	total := len(c.conns)
	c.connsMu.Unlock()

	c.log.Debug("Connection registered", "connection", conn.ID(), "total", total)
	conn.Send(models.OutboundEvent{Type: models.EventConnected, Data: models.Connected{ConnectionID: conn.ID()}})
	return nil
}

func (c *Coordinator) lookup(id string) *connection {
	c.connsMu.RLock()
	defer c.connsMu.RUnlock()
	return c.conns[id]
}

// Connected reports whether id is a registered connection
func (c *Coordinator) Connected(id string) bool {
	return c.lookup(id) != nil
}

// Close stops every room worker. Registered connections are left to the transport.
func (c *Coordinator) Close() {
	c.registry.Close()
}

// storeContext bounds a store call without inheriting the caller's
// cancellation; an accepted event runs to completion.
func (c *Coordinator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.opts.StoreTimeout)
}
