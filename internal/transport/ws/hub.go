package ws

import (
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"xpfinance.app/internal/profile"
	"xpfinance.app/internal/protocol"
	"xpfinance.app/internal/view"
)

// RenderFunc builds the pushed view of a profile.
type RenderFunc func(p *profile.UserProfile) view.Profile

type client struct {
	userID string
	out    chan []byte
	once   sync.Once
	done   chan struct{}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans profile updates out to the connections of each user and keeps the
// latest view per user for late joiners. It satisfies the sync guard's
// publisher interface.
type Hub struct {
	render RenderFunc
	log    *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	subs  map[string]map[*client]struct{}
	last  map[string]view.Profile
	seq   map[string]uint64
	drops int
}

func NewHub(render RenderFunc, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{
		render: render,
		log:    logger,
		now:    time.Now,
		subs:   map[string]map[*client]struct{}{},
		last:   map[string]view.Profile{},
		seq:    map[string]uint64{},
	}
}

// Publish renders p and pushes a PROFILE message to userID's connections.
func (h *Hub) Publish(userID string, p *profile.UserProfile) {
	if p == nil {
		return
	}
	v := h.render(p)

	h.mu.Lock()
	h.seq[userID]++
	msg := protocol.ProfileMsg{
		Type:            protocol.TypeProfile,
		ProtocolVersion: protocol.Version,
		UserID:          userID,
		Seq:             h.seq[userID],
		SentAt:          h.now().UTC(),
		Profile:         v,
	}
	h.last[userID] = v
	h.mu.Unlock()

	b, err := json.Marshal(msg)
	if err != nil {
		h.log.Printf("marshal profile for %s: %v", userID, err)
		return
	}
	h.broadcast(userID, b)
}

// Invalidate tells userID's connections the session is gone and forgets the
// cached view.
func (h *Hub) Invalidate(userID string) {
	h.mu.Lock()
	delete(h.last, userID)
	h.mu.Unlock()

	b, _ := json.Marshal(protocol.InvalidatedMsg{
		Type:            protocol.TypeInvalidated,
		ProtocolVersion: protocol.Version,
		UserID:          userID,
		Reason:          "session invalidated",
	})
	h.broadcast(userID, b)
}

// Last returns the cached view for userID.
func (h *Hub) Last(userID string) (view.Profile, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.last[userID]
	return v, ok
}

// Subscribers counts the live connections of userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

// Drops counts connections closed for falling behind.
func (h *Hub) Drops() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drops
}

func (h *Hub) subscribe(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.subs[c.userID]
	if m == nil {
		m = map[*client]struct{}{}
		h.subs[c.userID] = m
	}
	m[c] = struct{}{}
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.subs[c.userID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.subs, c.userID)
		}
	}
}

// broadcast never blocks: a connection whose queue is full is closed.
func (h *Hub) broadcast(userID string, b []byte) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.subs[userID]))
	for c := range h.subs[userID] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		select {
		case c.out <- b:
		default:
			h.mu.Lock()
			h.drops++
			h.mu.Unlock()
			h.log.Printf("dropping slow client of %s", userID)
			c.close()
		}
	}
}
