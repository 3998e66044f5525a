// Package relay fans out shared-playback control messages between the
// connections of a session.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hashland/pkg/logger"
	"hashland/pkg/presence"
)

// TypeLeave removes the sender from its session after relaying.
const TypeLeave = "leave"

// Envelope is the inbound message shape. Payload is opaque; the raw bytes
// are relayed, not the re-encoded envelope.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID LooseID         `json:"sessionId,omitempty"`
	SenderID  LooseID         `json:"senderId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// LooseID is an identifier sent either as a JSON string or a JSON number.
type LooseID string

func (id *LooseID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = LooseID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = LooseID(n.String())
	return nil
}

// senderOf pulls senderId out of a message whose other fields did not decode.
func senderOf(raw []byte) string {
	var partial struct {
		SenderID LooseID `json:"senderId"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil {
		return ""
	}
	return string(partial.SenderID)
}

// Options configures a Hub.
type Options struct {
	PingInterval   time.Duration
	AllowedOrigins []string
}

// Hub owns the session groups. All membership changes happen under mu.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]map[*Conn]struct{}
	conns    map[*Conn]struct{}

	presence     *presence.Tracker
	pingInterval time.Duration
	upgrader     websocket.Upgrader
}

// NewHub creates a hub reporting liveness to tracker.
func NewHub(tracker *presence.Tracker, opts Options) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	h := &Hub{
		sessions:     make(map[string]map[*Conn]struct{}),
		conns:        make(map[*Conn]struct{}),
		presence:     tracker,
		pingInterval: opts.PingInterval,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 || slices.Contains(allowed, "*") {
			return true
		}
		return slices.ContainsFunc(allowed, func(a string) bool {
			return strings.EqualFold(a, origin)
		})
	}
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := newConn(ws)
	h.register(c)
	logger.Debug("Relay client connected", "conn", c.ID, "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump(h)
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

// HandleMessage processes one inbound message from c.
func (h *Hub) HandleMessage(c *Conn, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.Debug("Ignoring malformed relay message", "conn", c.ID, "err", err)
		h.mu.Lock()
		h.claimLocked(c, senderOf(raw))
		h.mu.Unlock()
		return
	}
	sessionID := string(env.SessionID)

	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	h.claimLocked(c, string(env.SenderID))

	if sessionID == "" {
		h.mu.Unlock()
		return
	}
	if c.sessionID != "" && c.sessionID != sessionID {
		logger.Debug("Relay session switch", "conn", c.ID, "from", c.sessionID, "to", sessionID)
		h.removeLocked(c)
	}
	group, ok := h.sessions[sessionID]
	if !ok {
		group = make(map[*Conn]struct{})
		h.sessions[sessionID] = group
		logger.Debug("Relay session created", "session", sessionID)
	}
	group[c] = struct{}{}
	c.sessionID = sessionID

	peers := make([]*Conn, 0, len(group))
	for p := range group {
		if p != c {
			peers = append(peers, p)
		}
	}
	if env.Type == TypeLeave {
		h.removeLocked(c)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.trySend(raw)
	}
}

// claimLocked marks sender online on c. A closed connection claims nothing,
// so HandleClose stays the last word on its presence records.
func (h *Hub) claimLocked(c *Conn, sender string) {
	sender = strings.ToLower(strings.TrimSpace(sender))
	if sender == "" || c.closed {
		return
	}
	h.presence.Touch(sender, c.ID)
	c.users[sender] = struct{}{}
}

// HandleClose removes c from its session and releases the presence records
// it still owns. Safe to call more than once.
func (h *Hub) HandleClose(c *Conn) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	c.closed = true
	h.removeLocked(c)
	delete(h.conns, c)
	users := make([]string, 0, len(c.users))
	for u := range c.users {
		users = append(users, u)
	}
	h.mu.Unlock()

	for _, u := range users {
		if h.presence.Release(u, c.ID) {
			logger.Debug("Presence released", "user", u, "conn", c.ID)
		}
	}
	logger.Debug("Relay client disconnected", "conn", c.ID)
}

// removeLocked drops c from its session, deleting the session when empty.
func (h *Hub) removeLocked(c *Conn) {
	if c.sessionID == "" {
		return
	}
	if group, ok := h.sessions[c.sessionID]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(h.sessions, c.sessionID)
			logger.Debug("Relay session removed", "session", c.sessionID)
		}
	}
	c.sessionID = ""
}

// Run pings every connection each interval until ctx is done. Connections
// that did not answer the previous ping are closed.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if !c.alive.Swap(false) {
			logger.Debug("Relay connection missed ping, closing", "conn", c.ID)
			h.drop(c)
			continue
		}
		if err := c.ping(); err != nil {
			logger.Debug("Relay ping failed", "conn", c.ID, "err", err)
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *Conn) {
	h.HandleClose(c)
	c.close()
}

// Member is one connection in a session listing.
type Member struct {
	ConnID string   `json:"connId"`
	Users  []string `json:"users,omitempty"`
}

// SessionInfo is a point-in-time view of one session.
type SessionInfo struct {
	ID      string   `json:"id"`
	Members []Member `json:"members"`
}

// Sessions returns a snapshot of all sessions sorted by id.
func (h *Hub) Sessions() []SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SessionInfo, 0, len(h.sessions))
	for id, group := range h.sessions {
		info := SessionInfo{ID: id, Members: make([]Member, 0, len(group))}
		for c := range group {
			m := Member{ConnID: c.ID}
			for u := range c.users {
				m.Users = append(m.Users, u)
			}
			sort.Strings(m.Users)
			info.Members = append(info.Members, m)
		}
		sort.Slice(info.Members, func(i, j int) bool { return info.Members[i].ConnID < info.Members[j].ConnID })
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// ConnCount returns the number of open connections.
func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close sends a close frame to every connection and drops it.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range conns {
		if c.ws != nil {
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		h.drop(c)
	}
}
