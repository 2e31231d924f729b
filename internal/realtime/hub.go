package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoplive-labs/backend/internal/models"
)

// Session is the in-memory association between a connection and a stream.
// RecordID points at the durable viewer record mirroring this session and
// doubles as the client's resumption token.
type Session struct {
	StreamID uuid.UUID
	Identity models.Identity
	RecordID uuid.UUID
	JoinedAt time.Time
}

// RedisPublisher publishes room events for other instances.
type RedisPublisher interface {
	PublishStreamEvent(streamID uuid.UUID, origin string, event string, payload []byte) error
}

// RedisSubscriber subscribes to a stream's channel and invokes handler for
// events published by other instances.
type RedisSubscriber interface {
	SubscribeStream(streamID uuid.UUID, handler func(origin, event string, payload []byte)) (cancel func(), err error)
}

// Hub is the presence registry and room broadcaster: the authoritative
// in-process record of which connections watch which stream, and the fan-out
// path for room events. Both lookup directions (room -> clients and
// client -> session) live under one mutex so a count computed during a
// mutation always reflects the registry at that moment.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[uuid.UUID]map[string]*Client
	sessions map[string]Session
	subs     map[uuid.UUID]func()

	// seqs orders membership mutations per stream; announced holds the
	// highest sequence whose count reached the room. Together they let
	// AnnounceViewerCount drop counts computed before a later mutation,
	// whatever order the announcers are scheduled in.
	seqs      map[uuid.UUID]uint64
	announced map[uuid.UUID]uint64

	instanceID string
	redisPub   RedisPublisher
	redisSub   RedisSubscriber
	logger     *zap.Logger
}

// NewHub creates a hub. redisPub/redisSub may be nil for single-instance mode.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:      make(map[uuid.UUID]map[string]*Client),
		sessions:   make(map[string]Session),
		subs:       make(map[uuid.UUID]func()),
		seqs:       make(map[uuid.UUID]uint64),
		announced:  make(map[uuid.UUID]uint64),
		instanceID: uuid.New().String(),
		redisPub:   redisPub,
		redisSub:   redisSub,
		logger:     logger,
	}
}

// Join registers the client in the stream's room and records its session.
// If the client was in another room it is removed from there first (a
// connection belongs to at most one room). Returns the joined room's count
// with its announce sequence and, when a previous room was left, that room's
// change.
func (h *Hub) Join(c *Client, sess Session) (count int, seq uint64, prev *RoomChange) {
	h.mu.Lock()
	if old, ok := h.sessions[c.ID]; ok && old.StreamID != sess.StreamID {
		n, oldSeq := h.removeLocked(c, old.StreamID)
		prev = &RoomChange{StreamID: old.StreamID, Count: n, Seq: oldSeq, Session: old}
	}
	if h.rooms[sess.StreamID] == nil {
		h.rooms[sess.StreamID] = make(map[string]*Client)
		h.subscribeLocked(sess.StreamID)
	}
	h.rooms[sess.StreamID][c.ID] = c
	h.sessions[c.ID] = sess
	count = len(h.rooms[sess.StreamID])
	h.seqs[sess.StreamID]++
	seq = h.seqs[sess.StreamID]
	h.mu.Unlock()

	h.logger.Debug("client joined room",
		zap.String("client_id", c.ID),
		zap.String("stream_id", sess.StreamID.String()),
		zap.Int("viewers", count))
	return count, seq, prev
}

// RoomChange describes a room a client left: the count after removal and the
// sequence under which that count may be announced.
type RoomChange struct {
	StreamID uuid.UUID
	Count    int
	Seq      uint64
	Session  Session
}

// Leave removes the client from its room. Idempotent: returns ok=false when
// the client never joined one.
func (h *Hub) Leave(c *Client) (change RoomChange, ok bool) {
	h.mu.Lock()
	sess, found := h.sessions[c.ID]
	if !found {
		h.mu.Unlock()
		return RoomChange{}, false
	}
	n, seq := h.removeLocked(c, sess.StreamID)
	h.mu.Unlock()

	h.logger.Debug("client left room",
		zap.String("client_id", c.ID),
		zap.String("stream_id", sess.StreamID.String()),
		zap.Int("viewers", n))
	return RoomChange{StreamID: sess.StreamID, Count: n, Seq: seq, Session: sess}, true
}

// removeLocked deletes the client from a room and its session entry,
// cancelling the room's Redis subscription when the room empties. The
// stream's sequence survives an emptied room so a late announcer from the
// previous occupancy can never outrank a fresh one. Caller holds mu.
// Returns the room's remaining count and the mutation's sequence.
func (h *Hub) removeLocked(c *Client, streamID uuid.UUID) (int, uint64) {
	delete(h.sessions, c.ID)
	room, ok := h.rooms[streamID]
	if !ok {
		return 0, h.seqs[streamID]
	}
	delete(room, c.ID)
	h.seqs[streamID]++
	n := len(room)
	if n == 0 {
		delete(h.rooms, streamID)
		if cancel, ok := h.subs[streamID]; ok {
			cancel()
			delete(h.subs, streamID)
		}
	}
	return n, h.seqs[streamID]
}

// subscribeLocked starts the cross-instance subscription for a room.
// Caller holds mu.
func (h *Hub) subscribeLocked(streamID uuid.UUID) {
	if h.redisSub == nil {
		return
	}
	cancel, err := h.redisSub.SubscribeStream(streamID, func(origin, event string, payload []byte) {
		if origin == h.instanceID {
			return
		}
		h.broadcastLocal(streamID, event, json.RawMessage(payload))
	})
	if err != nil {
		h.logger.Warn("stream subscription failed",
			zap.String("stream_id", streamID.String()), zap.Error(err))
		return
	}
	h.subs[streamID] = cancel
}

// SessionOf returns the client's current session, if any.
func (h *Hub) SessionOf(c *Client) (Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sess, ok := h.sessions[c.ID]
	return sess, ok
}

// SetSessionRecord attaches the durable viewer record id to the client's
// session after the record is written.
func (h *Hub) SetSessionRecord(c *Client, recordID uuid.UUID) {
	h.mu.Lock()
	if sess, ok := h.sessions[c.ID]; ok {
		sess.RecordID = recordID
		h.sessions[c.ID] = sess
	}
	h.mu.Unlock()
}

// ViewerCount returns the number of connections in a stream's room.
func (h *Hub) ViewerCount(streamID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[streamID])
}

// AnnounceViewerCount broadcasts a viewer count stamped with the sequence of
// the mutation that computed it. A count older than the last one announced is
// dropped, so the room's final viewer_count_update always reflects the latest
// membership change regardless of how the announcing goroutines interleave.
// Local delivery happens under the registry mutex; the cross-instance publish
// stays outside it.
func (h *Hub) AnnounceViewerCount(streamID uuid.UUID, seq uint64, count int) {
	data, err := json.Marshal(ViewerCountPayload{StreamID: streamID, Count: count})
	if err != nil {
		h.logger.Warn("viewer count marshal failed", zap.String("stream_id", streamID.String()), zap.Error(err))
		return
	}

	h.mu.Lock()
	if seq <= h.announced[streamID] {
		h.mu.Unlock()
		return
	}
	h.announced[streamID] = seq
	msg := Envelope{Event: EventViewerCount, Data: data}
	for _, c := range h.rooms[streamID] {
		select {
		case c.send <- msg:
		default:
		}
	}
	h.mu.Unlock()

	if h.redisPub != nil {
		if err := h.redisPub.PublishStreamEvent(streamID, h.instanceID, EventViewerCount, data); err != nil {
			h.logger.Warn("redis publish failed", zap.String("event", EventViewerCount), zap.Error(err))
		}
	}
}

// Broadcast delivers an event to every connection in the room, and publishes
// it for other instances. Connections with a full or gone send buffer are
// skipped silently.
func (h *Hub) Broadcast(streamID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("broadcast marshal failed", zap.String("event", event), zap.Error(err))
		return
	}
	h.broadcastLocal(streamID, event, data)
	if h.redisPub != nil {
		if err := h.redisPub.PublishStreamEvent(streamID, h.instanceID, event, data); err != nil {
			h.logger.Warn("redis publish failed", zap.String("event", event), zap.Error(err))
		}
	}
}

func (h *Hub) broadcastLocal(streamID uuid.UUID, event string, data json.RawMessage) {
	msg := Envelope{Event: event, Data: data}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[streamID]))
	for _, c := range h.rooms[streamID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full or client going away, skip
		}
	}
}

// SendTo delivers an event to a single connection.
func (h *Hub) SendTo(c *Client, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("send marshal failed", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case c.send <- Envelope{Event: event, Data: data}:
	default:
	}
}
