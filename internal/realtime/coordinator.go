package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoplive-labs/backend/internal/models"
	"github.com/shoplive-labs/backend/pkg/queue"
)

const maxChatBodyLen = 500

// Coordinator routes inbound client events to the presence registry, the
// persistence gateway, the chat limiter and the offer claim path, and emits
// the resulting events back to the caller and the room.
type Coordinator struct {
	store   Store
	hub     *Hub
	limiter ChatLimiter
	queue   AnalyticsQueue
	logger  *zap.Logger

	// per-offer locks: claims for one offer are linearized, claims for
	// different offers proceed in parallel. Gates idle past
	// offerGateIdleTTL are swept on the next acquisition.
	claimMu   sync.Mutex
	claims    map[uuid.UUID]*offerGate
	claimScan time.Time
}

// offerGate serializes claims for one offer and remembers when it was last
// touched so idle gates can be reclaimed.
type offerGate struct {
	mu       sync.Mutex
	lastSeen time.Time
}

// offerGateIdleTTL is how long an offer's gate survives without a claim.
const offerGateIdleTTL = 10 * time.Minute

// NewCoordinator creates the event coordinator. queue may be nil; product
// analytics events are then dropped with a log line.
func NewCoordinator(store Store, hub *Hub, limiter ChatLimiter, q AnalyticsQueue, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:     store,
		hub:       hub,
		limiter:   limiter,
		queue:     q,
		logger:    logger,
		claims:    make(map[uuid.UUID]*offerGate),
		claimScan: time.Now(),
	}
}

// Dispatch decodes and routes one inbound event. Every failure path reports
// to the originating connection only; room state of other connections is
// never touched by a failed event.
func (co *Coordinator) Dispatch(ctx context.Context, c *Client, msg Envelope) {
	switch msg.Event {
	case EventJoinStream:
		var p JoinStreamPayload
		if !co.decode(c, msg.Data, &p) {
			return
		}
		co.JoinStream(ctx, c, p.StreamID)
	case EventLeaveStream:
		var p LeaveStreamPayload
		if !co.decode(c, msg.Data, &p) {
			return
		}
		co.LeaveStream(ctx, c)
	case EventResumeSession:
		var p ResumeSessionPayload
		if !co.decode(c, msg.Data, &p) {
			return
		}
		co.ResumeSession(ctx, c, p.SessionID)
	case EventSendMessage:
		var p SendMessagePayload
		if !co.decode(c, msg.Data, &p) {
			return
		}
		co.SendMessage(ctx, c, p)
	case EventAddReaction:
		var p AddReactionPayload
		if !co.decode(c, msg.Data, &p) {
			return
		}
		co.AddReaction(ctx, c, p)
	case EventFeatureProduct:
		var p FeatureProductPayload
		if !co.decode(c, msg.Data, &p) {
			return
		}
		co.FeatureProduct(ctx, c, p)
	case EventActivateOffer:
		var p ActivateOfferPayload
		if !co.decode(c, msg.Data, &p) {
			return
		}
		co.ActivateOffer(ctx, c, p.OfferID)
	case EventClaimOffer:
		var p ClaimOfferPayload
		if !co.decode(c, msg.Data, &p) {
			return
		}
		co.ClaimOffer(ctx, c, p.OfferID)
	case EventProductClick:
		var p ProductEventPayload
		if !co.decode(c, msg.Data, &p) {
			return
		}
		co.ProductEvent(ctx, c, p, queue.ProductEventClick)
	case EventCartAdd:
		var p ProductEventPayload
		if !co.decode(c, msg.Data, &p) {
			return
		}
		co.ProductEvent(ctx, c, p, queue.ProductEventCartAdd)
	case EventPinMessage:
		var p PinMessagePayload
		if !co.decode(c, msg.Data, &p) {
			return
		}
		co.PinMessage(ctx, c, p)
	case EventHighlightMessage:
		var p HighlightMessagePayload
		if !co.decode(c, msg.Data, &p) {
			return
		}
		co.HighlightMessage(ctx, c, p.MessageID)
	default:
		co.sendError(c, CodeBadRequest, "unknown event: "+msg.Event)
	}
}

func (co *Coordinator) decode(c *Client, data json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(data, v); err != nil {
		co.sendError(c, CodeBadRequest, "invalid payload")
		return false
	}
	return true
}

func (co *Coordinator) sendError(c *Client, code, message string) {
	co.hub.SendTo(c, EventError, ErrorPayload{Code: code, Message: message})
}

// JoinStream associates the connection with a stream: validates the stream,
// registers presence, mirrors the session durably and raises the peak viewer
// mark, then acks the caller and announces the new count to the room.
func (co *Coordinator) JoinStream(ctx context.Context, c *Client, streamID uuid.UUID) {
	stream, err := co.store.GetStream(ctx, streamID)
	if err != nil {
		co.logger.Error("get stream failed", zap.String("stream_id", streamID.String()), zap.Error(err))
		co.sendError(c, CodeUpstreamFailure, "stream lookup failed")
		return
	}
	if stream == nil {
		co.sendError(c, CodeNotFound, "stream not found")
		return
	}

	now := time.Now()
	count, seq, prev := co.hub.Join(c, Session{StreamID: streamID, Identity: c.Identity, JoinedAt: now})
	if prev != nil {
		// implicit leave of the previous room
		co.closeRecord(ctx, prev.Session, now)
		co.hub.AnnounceViewerCount(prev.StreamID, prev.Seq, prev.Count)
	}

	recordID, err := co.store.UpsertViewerRecord(ctx, streamID, c.Identity, now)
	if err != nil {
		// durable mirror failed: roll back the presence mutation so the
		// registry does not diverge from the store
		if change, left := co.hub.Leave(c); left {
			co.hub.AnnounceViewerCount(change.StreamID, change.Seq, change.Count)
		}
		co.logger.Error("upsert viewer record failed", zap.String("stream_id", streamID.String()), zap.Error(err))
		co.sendError(c, CodeUpstreamFailure, "join failed")
		return
	}
	co.hub.SetSessionRecord(c, recordID)

	if err := co.store.UpdatePeakViewers(ctx, streamID, count); err != nil {
		co.logger.Warn("update peak viewers failed", zap.String("stream_id", streamID.String()), zap.Error(err))
	}

	co.hub.SendTo(c, EventStreamJoined, StreamJoinedPayload{Stream: stream, ViewerCount: count, SessionID: recordID})
	co.hub.AnnounceViewerCount(streamID, seq, count)
}

// ResumeSession re-establishes presence from a prior session token instead of
// opening a duplicate viewer record.
func (co *Coordinator) ResumeSession(ctx context.Context, c *Client, sessionID uuid.UUID) {
	record, err := co.store.GetOpenViewerRecord(ctx, sessionID)
	if err != nil {
		co.logger.Error("resume lookup failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		co.sendError(c, CodeUpstreamFailure, "resume failed")
		return
	}
	if record == nil {
		co.sendError(c, CodeNotFound, "session not found or already closed")
		return
	}
	if record.Identity().Key() != c.Identity.Key() {
		co.sendError(c, CodeForbidden, "session belongs to a different identity")
		return
	}
	stream, err := co.store.GetStream(ctx, record.StreamID)
	if err != nil {
		co.sendError(c, CodeUpstreamFailure, "stream lookup failed")
		return
	}
	if stream == nil {
		co.sendError(c, CodeNotFound, "stream not found")
		return
	}

	count, seq, prev := co.hub.Join(c, Session{
		StreamID: record.StreamID,
		Identity: c.Identity,
		RecordID: record.ID,
		JoinedAt: record.JoinedAt,
	})
	if prev != nil {
		co.closeRecord(ctx, prev.Session, time.Now())
		co.hub.AnnounceViewerCount(prev.StreamID, prev.Seq, prev.Count)
	}

	if err := co.store.UpdatePeakViewers(ctx, record.StreamID, count); err != nil {
		co.logger.Warn("update peak viewers failed", zap.String("stream_id", record.StreamID.String()), zap.Error(err))
	}

	co.hub.SendTo(c, EventStreamJoined, StreamJoinedPayload{Stream: stream, ViewerCount: count, SessionID: record.ID})
	co.hub.AnnounceViewerCount(record.StreamID, seq, count)
}

// LeaveStream removes presence, closes the durable record and announces the
// new count. Safe to call for a connection that never joined.
func (co *Coordinator) LeaveStream(ctx context.Context, c *Client) {
	change, ok := co.hub.Leave(c)
	if !ok {
		return
	}
	co.closeRecord(ctx, change.Session, time.Now())
	co.hub.AnnounceViewerCount(change.StreamID, change.Seq, change.Count)
}

// Disconnect is the implicit leave on connection close. Idempotent, and never
// reports back to the (gone) connection.
func (co *Coordinator) Disconnect(ctx context.Context, c *Client) {
	co.LeaveStream(ctx, c)
}

func (co *Coordinator) closeRecord(ctx context.Context, sess Session, leftAt time.Time) {
	if err := co.store.CloseViewerRecord(ctx, sess.StreamID, sess.Identity, leftAt); err != nil {
		co.logger.Error("close viewer record failed",
			zap.String("stream_id", sess.StreamID.String()),
			zap.String("identity", sess.Identity.Key()),
			zap.Error(err))
	}
}

// SendMessage admits a chat message through the rate limiter and the stream's
// chat flags, persists it, and either broadcasts it or holds it for
// moderation (delivered to the sender only as message_pending).
func (co *Coordinator) SendMessage(ctx context.Context, c *Client, p SendMessagePayload) {
	if p.Body == "" || len(p.Body) > maxChatBodyLen {
		co.sendError(c, CodeBadRequest, "message body must be 1-500 characters")
		return
	}
	sess, ok := co.hub.SessionOf(c)
	if !ok || sess.StreamID != p.StreamID {
		co.sendError(c, CodeForbidden, "join the stream before chatting")
		return
	}
	if !co.limiter.Allow(c.Identity.Key()) {
		co.sendError(c, CodeRateLimited, "rate limit exceeded")
		return
	}

	stream, err := co.store.GetStream(ctx, p.StreamID)
	if err != nil {
		co.sendError(c, CodeUpstreamFailure, "stream lookup failed")
		return
	}
	if stream == nil {
		co.sendError(c, CodeNotFound, "stream not found")
		return
	}
	if !stream.AllowChat {
		co.sendError(c, CodeForbidden, "chat is disabled for this stream")
		return
	}

	msg := &models.ChatMessage{
		StreamID:    p.StreamID,
		CustomerID:  c.Identity.CustomerID,
		Body:        p.Body,
		Type:        models.MessageTypeText,
		IsModerated: stream.ModeratedChat,
		Reactions:   map[string]int{},
	}
	if c.Identity.IsGuest() {
		name := c.Identity.DisplayName()
		msg.GuestName = &name
	}
	if err := co.store.CreateChatMessage(ctx, msg); err != nil {
		co.logger.Error("create chat message failed", zap.String("stream_id", p.StreamID.String()), zap.Error(err))
		co.sendError(c, CodeUpstreamFailure, "message not saved")
		return
	}

	if msg.IsModerated {
		// held for moderation: only the sender sees it until approved
		co.hub.SendTo(c, EventMessagePending, msg)
		return
	}

	co.hub.Broadcast(p.StreamID, EventNewMessage, msg)
	if err := co.store.IncrementChatCounter(ctx, p.StreamID); err != nil {
		co.logger.Warn("increment chat counter failed", zap.String("stream_id", p.StreamID.String()), zap.Error(err))
	}
}

// AddReaction bumps a reaction counter and announces the new count.
func (co *Coordinator) AddReaction(ctx context.Context, c *Client, p AddReactionPayload) {
	if p.Kind == "" || len(p.Kind) > 32 {
		co.sendError(c, CodeBadRequest, "invalid reaction kind")
		return
	}
	msg, err := co.store.GetChatMessage(ctx, p.MessageID)
	if err != nil {
		co.sendError(c, CodeUpstreamFailure, "message lookup failed")
		return
	}
	if msg == nil {
		co.sendError(c, CodeNotFound, "message not found")
		return
	}
	count, err := co.store.IncrementReaction(ctx, p.MessageID, p.Kind)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			co.sendError(c, CodeNotFound, "message not found")
			return
		}
		co.sendError(c, CodeUpstreamFailure, "reaction not saved")
		return
	}
	co.hub.Broadcast(msg.StreamID, EventReactionAdded, ReactionAddedPayload{
		MessageID: p.MessageID, Kind: p.Kind, Count: count,
	})
}

// FeatureProduct pins a product for the stream (host only) and announces it.
func (co *Coordinator) FeatureProduct(ctx context.Context, c *Client, p FeatureProductPayload) {
	stream, ok := co.requireHost(ctx, c, p.StreamID)
	if !ok {
		return
	}
	product, err := co.store.SetFeaturedProduct(ctx, stream.ID, p.ProductID, p.Note)
	if err != nil {
		co.logger.Error("set featured product failed", zap.String("stream_id", stream.ID.String()), zap.Error(err))
		co.sendError(c, CodeUpstreamFailure, "feature product failed")
		return
	}
	if product == nil {
		co.sendError(c, CodeNotFound, "product not linked to this stream")
		return
	}
	co.hub.Broadcast(stream.ID, EventProductFeatured, product)
}

// ActivateOffer marks an offer active (host only) and announces it.
func (co *Coordinator) ActivateOffer(ctx context.Context, c *Client, offerID uuid.UUID) {
	offer, err := co.store.GetOffer(ctx, offerID)
	if err != nil {
		co.sendError(c, CodeUpstreamFailure, "offer lookup failed")
		return
	}
	if offer == nil {
		co.sendError(c, CodeNotFound, "offer not found")
		return
	}
	if _, ok := co.requireHost(ctx, c, offer.StreamID); !ok {
		return
	}
	if err := co.store.ActivateOffer(ctx, offerID); err != nil {
		if errors.Is(err, ErrNotFound) {
			co.sendError(c, CodeNotFound, "offer not found")
			return
		}
		co.sendError(c, CodeUpstreamFailure, "activate offer failed")
		return
	}
	offer.IsActive = true
	co.hub.Broadcast(offer.StreamID, EventOfferActivated, offer)
}

// ClaimOffer decides one claim: reserve a unit or report exhaustion. Claims
// for the same offer are linearized here, and the store increment is itself
// conditional, so concurrent claims can never push claimed_count past the
// limit. Losing the race for the last unit is a normal outcome.
func (co *Coordinator) ClaimOffer(ctx context.Context, c *Client, offerID uuid.UUID) {
	lock := co.offerLock(offerID)
	lock.Lock()
	defer lock.Unlock()

	offer, err := co.store.GetOffer(ctx, offerID)
	if err != nil {
		co.sendError(c, CodeUpstreamFailure, "offer lookup failed")
		return
	}
	if offer == nil {
		co.sendError(c, CodeNotFound, "offer not found")
		return
	}
	if !offer.IsActive {
		co.sendError(c, CodeForbidden, "offer is not active")
		return
	}
	if offer.QuantityLimit != nil && offer.ClaimedCount >= *offer.QuantityLimit {
		co.hub.SendTo(c, EventOfferExhausted, OfferExhaustedPayload{OfferID: offerID})
		return
	}

	res, err := co.store.ConditionallyIncrementOfferClaim(ctx, offerID)
	if err != nil {
		co.logger.Error("offer claim increment failed", zap.String("offer_id", offerID.String()), zap.Error(err))
		co.sendError(c, CodeUpstreamFailure, "claim failed")
		return
	}
	if !res.Claimed {
		co.hub.SendTo(c, EventOfferExhausted, OfferExhaustedPayload{OfferID: offerID})
		return
	}

	if err := co.store.RecordOfferClaim(ctx, offerID, c.Identity); err != nil {
		co.logger.Warn("record offer claim failed", zap.String("offer_id", offerID.String()), zap.Error(err))
	}

	co.hub.SendTo(c, EventOfferClaimed, OfferClaimedPayload{OfferID: offerID, Code: offer.Code})

	offer.ClaimedCount = res.NewCount
	co.hub.Broadcast(offer.StreamID, EventOfferUpdate, OfferUpdatePayload{
		OfferID:      offerID,
		ClaimedCount: res.NewCount,
		Remaining:    offer.Remaining(),
	})
}

// ProductEvent queues a fire-and-forget analytics increment. No reply either
// way; a lost increment is acceptable, a blocked viewer is not.
func (co *Coordinator) ProductEvent(ctx context.Context, c *Client, p ProductEventPayload, kind string) {
	if co.queue == nil {
		co.logger.Debug("analytics queue not configured, dropping product event", zap.String("kind", kind))
		return
	}
	err := co.queue.EnqueueProductEvent(ctx, queue.ProductEventPayload{
		StreamID:  p.StreamID,
		ProductID: p.ProductID,
		Kind:      kind,
	})
	if err != nil {
		co.logger.Warn("enqueue product event failed", zap.String("kind", kind), zap.Error(err))
	}
}

// PinMessage pins one message and unpins any other (host only).
func (co *Coordinator) PinMessage(ctx context.Context, c *Client, p PinMessagePayload) {
	stream, ok := co.requireHost(ctx, c, p.StreamID)
	if !ok {
		return
	}
	if err := co.store.PinChatMessage(ctx, stream.ID, p.MessageID); err != nil {
		if errors.Is(err, ErrNotFound) {
			co.sendError(c, CodeNotFound, "message not found")
			return
		}
		co.sendError(c, CodeUpstreamFailure, "pin failed")
		return
	}
	co.hub.Broadcast(stream.ID, EventMessagePinned, MessagePinnedPayload{StreamID: stream.ID, MessageID: p.MessageID})
}

// HighlightMessage highlights a message (host only).
func (co *Coordinator) HighlightMessage(ctx context.Context, c *Client, messageID uuid.UUID) {
	msg, err := co.store.GetChatMessage(ctx, messageID)
	if err != nil {
		co.sendError(c, CodeUpstreamFailure, "message lookup failed")
		return
	}
	if msg == nil {
		co.sendError(c, CodeNotFound, "message not found")
		return
	}
	if _, ok := co.requireHost(ctx, c, msg.StreamID); !ok {
		return
	}
	if err := co.store.HighlightChatMessage(ctx, messageID); err != nil {
		if errors.Is(err, ErrNotFound) {
			co.sendError(c, CodeNotFound, "message not found")
			return
		}
		co.sendError(c, CodeUpstreamFailure, "highlight failed")
		return
	}
	co.hub.Broadcast(msg.StreamID, EventMessageHighlighted, MessageHighlightedPayload{StreamID: msg.StreamID, MessageID: messageID})
}

// requireHost loads the stream and verifies the caller is its host.
func (co *Coordinator) requireHost(ctx context.Context, c *Client, streamID uuid.UUID) (*models.Stream, bool) {
	stream, err := co.store.GetStream(ctx, streamID)
	if err != nil {
		co.sendError(c, CodeUpstreamFailure, "stream lookup failed")
		return nil, false
	}
	if stream == nil {
		co.sendError(c, CodeNotFound, "stream not found")
		return nil, false
	}
	if c.Identity.CustomerID == nil || *c.Identity.CustomerID != stream.HostID {
		co.sendError(c, CodeForbidden, "host only")
		return nil, false
	}
	return stream, true
}

func (co *Coordinator) offerLock(offerID uuid.UUID) *sync.Mutex {
	return co.offerLockAt(offerID, time.Now())
}

// offerLockAt hands out the gate for an offer, sweeping gates idle past
// offerGateIdleTTL so the map stays bounded by recently claimed offers.
// Sweeping a gate a claimer still holds only relaxes the per-offer
// serialization; the store's conditional increment remains the oversell
// guard.
func (co *Coordinator) offerLockAt(offerID uuid.UUID, now time.Time) *sync.Mutex {
	co.claimMu.Lock()
	defer co.claimMu.Unlock()
	gate, ok := co.claims[offerID]
	if !ok {
		gate = &offerGate{}
		co.claims[offerID] = gate
	}
	gate.lastSeen = now
	if now.Sub(co.claimScan) > offerGateIdleTTL {
		for id, g := range co.claims {
			if now.Sub(g.lastSeen) > offerGateIdleTTL {
				delete(co.claims, id)
			}
		}
		co.claimScan = now
	}
	return &gate.mu
}
