package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplive-labs/backend/internal/models"
	"github.com/shoplive-labs/backend/pkg/queue"
)

// countingLimiter admits a fixed number of messages per identity with no
// refill. Refill behavior is covered by the chat package's own tests.
type countingLimiter struct {
	mu    sync.Mutex
	seen  map[string]int
	allow int
}

func newCountingLimiter(allow int) *countingLimiter {
	return &countingLimiter{seen: make(map[string]int), allow: allow}
}

func (l *countingLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[key]++
	return l.seen[key] <= l.allow
}

// fakeStore is an in-memory Store with the same contract as the Postgres
// adapter: (nil, nil) lookups for absent rows, ErrNotFound on mutations
// against absent rows, conditional peak and claim updates.
type fakeStore struct {
	mu        sync.Mutex
	streams   map[uuid.UUID]*models.Stream
	records   map[uuid.UUID]*models.ViewerRecord
	messages  map[uuid.UUID]*models.ChatMessage
	offers    map[uuid.UUID]*models.Offer
	products  map[uuid.UUID]map[uuid.UUID]*models.StreamProduct
	chatCount map[uuid.UUID]int
	claims    map[uuid.UUID][]models.Identity

	// upsertHook, when set, runs at the top of UpsertViewerRecord so tests
	// can stall one joiner while another races past it.
	upsertHook func(identityKey string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		streams:   make(map[uuid.UUID]*models.Stream),
		records:   make(map[uuid.UUID]*models.ViewerRecord),
		messages:  make(map[uuid.UUID]*models.ChatMessage),
		offers:    make(map[uuid.UUID]*models.Offer),
		products:  make(map[uuid.UUID]map[uuid.UUID]*models.StreamProduct),
		chatCount: make(map[uuid.UUID]int),
		claims:    make(map[uuid.UUID][]models.Identity),
	}
}

func (f *fakeStore) addStream(s *models.Stream) *models.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = models.StreamStatusLive
	}
	f.streams[s.ID] = s
	return s
}

func (f *fakeStore) addOffer(o *models.Offer) *models.Offer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Code == "" {
		o.Code = "deal123456"
	}
	f.offers[o.ID] = o
	return o
}

func (f *fakeStore) addProduct(streamID uuid.UUID, p *models.StreamProduct) *models.StreamProduct {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.StreamID = streamID
	if f.products[streamID] == nil {
		f.products[streamID] = make(map[uuid.UUID]*models.StreamProduct)
	}
	f.products[streamID][p.ProductID] = p
	return p
}

func (f *fakeStore) GetStream(_ context.Context, id uuid.UUID) (*models.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.streams[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) UpsertViewerRecord(_ context.Context, streamID uuid.UUID, identity models.Identity, joinedAt time.Time) (uuid.UUID, error) {
	if f.upsertHook != nil {
		f.upsertHook(identity.Key())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.StreamID == streamID && r.LeftAt == nil && r.Identity().Key() == identity.Key() {
			return r.ID, nil
		}
	}
	r := &models.ViewerRecord{
		ID:         uuid.New(),
		StreamID:   streamID,
		CustomerID: identity.CustomerID,
		GuestID:    identity.GuestID,
		JoinedAt:   joinedAt,
	}
	f.records[r.ID] = r
	return r.ID, nil
}

func (f *fakeStore) CloseViewerRecord(_ context.Context, streamID uuid.UUID, identity models.Identity, leftAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.StreamID == streamID && r.LeftAt == nil && r.Identity().Key() == identity.Key() {
			at := leftAt
			r.LeftAt = &at
			return nil
		}
	}
	return nil
}

func (f *fakeStore) GetOpenViewerRecord(_ context.Context, recordID uuid.UUID) (*models.ViewerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[recordID]
	if !ok || r.LeftAt != nil {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) UpdatePeakViewers(_ context.Context, streamID uuid.UUID, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.streams[streamID]; ok && count > s.PeakViewers {
		s.PeakViewers = count
	}
	return nil
}

func (f *fakeStore) CreateChatMessage(_ context.Context, m *models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	cp := *m
	f.messages[m.ID] = &cp
	return nil
}

func (f *fakeStore) GetChatMessage(_ context.Context, id uuid.UUID) (*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) PinChatMessage(_ context.Context, streamID, messageID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.messages[messageID]
	if !ok || target.StreamID != streamID {
		return ErrNotFound
	}
	for _, m := range f.messages {
		if m.StreamID == streamID {
			m.IsPinned = false
		}
	}
	target.IsPinned = true
	return nil
}

func (f *fakeStore) HighlightChatMessage(_ context.Context, messageID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	m.IsHighlighted = true
	return nil
}

func (f *fakeStore) IncrementReaction(_ context.Context, messageID uuid.UUID, kind string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return 0, ErrNotFound
	}
	if m.Reactions == nil {
		m.Reactions = map[string]int{}
	}
	m.Reactions[kind]++
	return m.Reactions[kind], nil
}

func (f *fakeStore) IncrementChatCounter(_ context.Context, streamID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCount[streamID]++
	return nil
}

func (f *fakeStore) GetOffer(_ context.Context, id uuid.UUID) (*models.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) ActivateOffer(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok {
		return ErrNotFound
	}
	o.IsActive = true
	return nil
}

func (f *fakeStore) ConditionallyIncrementOfferClaim(_ context.Context, id uuid.UUID) (ClaimResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok || !o.IsActive {
		return ClaimResult{}, nil
	}
	if o.QuantityLimit != nil && o.ClaimedCount >= *o.QuantityLimit {
		return ClaimResult{}, nil
	}
	o.ClaimedCount++
	return ClaimResult{Claimed: true, NewCount: o.ClaimedCount}, nil
}

func (f *fakeStore) RecordOfferClaim(_ context.Context, offerID uuid.UUID, identity models.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims[offerID] = append(f.claims[offerID], identity)
	return nil
}

func (f *fakeStore) SetFeaturedProduct(_ context.Context, streamID, productID uuid.UUID, note string) (*models.StreamProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room := f.products[streamID]
	target, ok := room[productID]
	if !ok {
		return nil, nil
	}
	for _, p := range room {
		p.IsPinned = false
	}
	target.IsPinned = true
	target.FeaturedNote = note
	cp := *target
	return &cp, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads []queue.ProductEventPayload
}

func (q *fakeQueue) EnqueueProductEvent(_ context.Context, p queue.ProductEventPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, p)
	return nil
}

func (q *fakeQueue) enqueued() []queue.ProductEventPayload {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.ProductEventPayload(nil), q.payloads...)
}

type fixture struct {
	co    *Coordinator
	store *fakeStore
	hub   *Hub
	queue *fakeQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newFakeStore()
	hub := NewHub(nil, nil, nil)
	q := &fakeQueue{}
	co := NewCoordinator(st, hub, newCountingLimiter(3), q, nil)
	return &fixture{co: co, store: st, hub: hub, queue: q}
}

func hostClient(hostID uuid.UUID) *Client {
	return &Client{
		ID:       uuid.New().String(),
		Identity: models.CustomerIdentity(hostID),
		send:     make(chan Envelope, sendBuffer),
	}
}

func findEvent(msgs []Envelope, event string) (Envelope, bool) {
	for _, m := range msgs {
		if m.Event == event {
			return m, true
		}
	}
	return Envelope{}, false
}

func requireError(t *testing.T, c *Client, code string) {
	t.Helper()
	msg, ok := findEvent(drain(c), EventError)
	require.True(t, ok, "expected an error event")
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &p))
	assert.Equal(t, code, p.Code)
}

func TestCoordinator_JoinStream(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "drop day", AllowChat: true})
	c := newTestClient()

	fx.co.JoinStream(context.Background(), c, stream.ID)

	msgs := drain(c)
	joined, ok := findEvent(msgs, EventStreamJoined)
	require.True(t, ok)

	var p StreamJoinedPayload
	require.NoError(t, json.Unmarshal(joined.Data, &p))
	assert.Equal(t, stream.ID, p.Stream.ID)
	assert.Equal(t, 1, p.ViewerCount)
	assert.NotEqual(t, uuid.Nil, p.SessionID, "join must return a resumable session id")

	_, ok = findEvent(msgs, EventViewerCount)
	assert.True(t, ok, "the joiner is in the room and sees the count update")

	sess, ok := fx.hub.SessionOf(c)
	require.True(t, ok)
	assert.Equal(t, p.SessionID, sess.RecordID)
}

func TestCoordinator_JoinUnknownStream(t *testing.T) {
	fx := newFixture(t)
	c := newTestClient()

	fx.co.JoinStream(context.Background(), c, uuid.New())

	requireError(t, c, CodeNotFound)
	_, joined := fx.hub.SessionOf(c)
	assert.False(t, joined, "a failed join must not register presence")
}

func TestCoordinator_PeakViewersNeverDecreases(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "peak", AllowChat: true})
	ctx := context.Background()

	a, b, c := newTestClient(), newTestClient(), newTestClient()
	fx.co.JoinStream(ctx, a, stream.ID)
	fx.co.JoinStream(ctx, b, stream.ID)

	s, _ := fx.store.GetStream(ctx, stream.ID)
	require.Equal(t, 2, s.PeakViewers)

	fx.co.LeaveStream(ctx, b)
	fx.co.JoinStream(ctx, c, stream.ID)

	s, _ = fx.store.GetStream(ctx, stream.ID)
	assert.Equal(t, 2, s.PeakViewers, "peak must not decrease when the room shrinks and refills")

	d := newTestClient()
	fx.co.JoinStream(ctx, d, stream.ID)
	s, _ = fx.store.GetStream(ctx, stream.ID)
	assert.Equal(t, 3, s.PeakViewers)
}

func TestCoordinator_StalledJoinNeverAnnouncesStaleCount(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "rush", AllowChat: true})
	ctx := context.Background()

	a, b := newTestClient(), newTestClient()
	release := make(chan struct{})
	fx.store.upsertHook = func(key string) {
		if key == a.Identity.Key() {
			<-release
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.co.JoinStream(ctx, a, stream.ID)
	}()
	require.Eventually(t, func() bool { return fx.hub.ViewerCount(stream.ID) == 1 },
		time.Second, time.Millisecond, "the first joiner must be registered before its record write")

	// the second join computes and announces count 2 while the first
	// joiner is still stuck writing its viewer record
	fx.co.JoinStream(ctx, b, stream.ID)
	close(release)
	<-done

	last := -1
	for _, m := range drain(b) {
		if m.Event != EventViewerCount {
			continue
		}
		var p ViewerCountPayload
		require.NoError(t, json.Unmarshal(m.Data, &p))
		last = p.Count
	}
	assert.Equal(t, 2, fx.hub.ViewerCount(stream.ID))
	assert.Equal(t, 2, last, "the last announced count must match the registry, not the stalled joiner's older count")
}

func TestCoordinator_DisconnectClosesRecordOnce(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "bye", AllowChat: true})
	ctx := context.Background()
	c := newTestClient()

	fx.co.JoinStream(ctx, c, stream.ID)
	joined, _ := findEvent(drain(c), EventStreamJoined)
	var p StreamJoinedPayload
	require.NoError(t, json.Unmarshal(joined.Data, &p))

	fx.co.Disconnect(ctx, c)
	fx.co.Disconnect(ctx, c)

	rec, err := fx.store.GetOpenViewerRecord(ctx, p.SessionID)
	require.NoError(t, err)
	assert.Nil(t, rec, "record must be closed after disconnect")
	assert.Equal(t, 0, fx.hub.ViewerCount(stream.ID))
}

func TestCoordinator_ResumeSession(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "resume", AllowChat: true})
	ctx := context.Background()

	first := newTestClient()
	fx.co.JoinStream(ctx, first, stream.ID)
	joined, _ := findEvent(drain(first), EventStreamJoined)
	var p StreamJoinedPayload
	require.NoError(t, json.Unmarshal(joined.Data, &p))

	// same identity on a fresh connection resumes the open record
	second := &Client{ID: uuid.New().String(), Identity: first.Identity, send: make(chan Envelope, sendBuffer)}
	fx.co.ResumeSession(ctx, second, p.SessionID)

	resumed, ok := findEvent(drain(second), EventStreamJoined)
	require.True(t, ok)
	var rp StreamJoinedPayload
	require.NoError(t, json.Unmarshal(resumed.Data, &rp))
	assert.Equal(t, p.SessionID, rp.SessionID, "resume must reuse the original session id")
}

func TestCoordinator_ResumeSomeoneElsesSession(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "resume", AllowChat: true})
	ctx := context.Background()

	first := newTestClient()
	fx.co.JoinStream(ctx, first, stream.ID)
	joined, _ := findEvent(drain(first), EventStreamJoined)
	var p StreamJoinedPayload
	require.NoError(t, json.Unmarshal(joined.Data, &p))

	intruder := newTestClient()
	fx.co.ResumeSession(ctx, intruder, p.SessionID)
	requireError(t, intruder, CodeForbidden)
}

func TestCoordinator_SendMessageRequiresJoin(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "chatty", AllowChat: true})
	c := newTestClient()

	fx.co.SendMessage(context.Background(), c, SendMessagePayload{StreamID: stream.ID, Body: "hi"})
	requireError(t, c, CodeForbidden)
	assert.Empty(t, fx.store.messages)
}

func TestCoordinator_SendMessageBroadcasts(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "chatty", AllowChat: true})
	ctx := context.Background()

	sender, peer := newTestClient(), newTestClient()
	fx.co.JoinStream(ctx, sender, stream.ID)
	fx.co.JoinStream(ctx, peer, stream.ID)
	drain(sender)
	drain(peer)

	fx.co.SendMessage(ctx, sender, SendMessagePayload{StreamID: stream.ID, Body: "anyone here?"})

	for _, c := range []*Client{sender, peer} {
		msg, ok := findEvent(drain(c), EventNewMessage)
		require.True(t, ok)
		var m models.ChatMessage
		require.NoError(t, json.Unmarshal(msg.Data, &m))
		assert.Equal(t, "anyone here?", m.Body)
	}
	assert.Equal(t, 1, fx.store.chatCount[stream.ID])
}

func TestCoordinator_SendMessageRateLimited(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "busy", AllowChat: true})
	ctx := context.Background()

	c := newTestClient()
	fx.co.JoinStream(ctx, c, stream.ID)
	drain(c)

	for i := 0; i < 3; i++ {
		fx.co.SendMessage(ctx, c, SendMessagePayload{StreamID: stream.ID, Body: "spam"})
	}
	drain(c)

	fx.co.SendMessage(ctx, c, SendMessagePayload{StreamID: stream.ID, Body: "spam"})
	requireError(t, c, CodeRateLimited)

	// the rejected message never reached the store
	assert.Len(t, fx.store.messages, 3)
}

func TestCoordinator_ChatDisabled(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "quiet", AllowChat: false})
	ctx := context.Background()

	c := newTestClient()
	fx.co.JoinStream(ctx, c, stream.ID)
	drain(c)

	fx.co.SendMessage(ctx, c, SendMessagePayload{StreamID: stream.ID, Body: "hello?"})
	requireError(t, c, CodeForbidden)
}

func TestCoordinator_ModeratedMessageOnlyToSender(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "curated", AllowChat: true, ModeratedChat: true})
	ctx := context.Background()

	sender, peer := newTestClient(), newTestClient()
	fx.co.JoinStream(ctx, sender, stream.ID)
	fx.co.JoinStream(ctx, peer, stream.ID)
	drain(sender)
	drain(peer)

	fx.co.SendMessage(ctx, sender, SendMessagePayload{StreamID: stream.ID, Body: "pending"})

	pending, ok := findEvent(drain(sender), EventMessagePending)
	require.True(t, ok, "the sender sees their held message")
	var m models.ChatMessage
	require.NoError(t, json.Unmarshal(pending.Data, &m))
	assert.True(t, m.IsModerated)

	assert.Empty(t, drain(peer), "held messages must not reach the room")
	assert.Equal(t, 0, fx.store.chatCount[stream.ID], "held messages do not count until released")
}

func TestCoordinator_AddReaction(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "reactive", AllowChat: true})
	ctx := context.Background()

	c := newTestClient()
	fx.co.JoinStream(ctx, c, stream.ID)
	drain(c)

	msg := &models.ChatMessage{StreamID: stream.ID, Body: "react to me"}
	require.NoError(t, fx.store.CreateChatMessage(ctx, msg))

	fx.co.AddReaction(ctx, c, AddReactionPayload{MessageID: msg.ID, Kind: "heart"})
	fx.co.AddReaction(ctx, c, AddReactionPayload{MessageID: msg.ID, Kind: "heart"})

	msgs := drain(c)
	var counts []int
	for _, m := range msgs {
		if m.Event != EventReactionAdded {
			continue
		}
		var p ReactionAddedPayload
		require.NoError(t, json.Unmarshal(m.Data, &p))
		assert.Equal(t, "heart", p.Kind)
		counts = append(counts, p.Count)
	}
	assert.Equal(t, []int{1, 2}, counts)
}

func TestCoordinator_ClaimOffer(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "deals", AllowChat: true})
	limit := 5
	offer := fx.store.addOffer(&models.Offer{StreamID: stream.ID, Title: "flash", IsActive: true, QuantityLimit: &limit})
	ctx := context.Background()

	c := newTestClient()
	fx.co.JoinStream(ctx, c, stream.ID)
	drain(c)

	fx.co.ClaimOffer(ctx, c, offer.ID)

	msgs := drain(c)
	claimed, ok := findEvent(msgs, EventOfferClaimed)
	require.True(t, ok)
	var cp OfferClaimedPayload
	require.NoError(t, json.Unmarshal(claimed.Data, &cp))
	assert.Equal(t, offer.Code, cp.Code)

	update, ok := findEvent(msgs, EventOfferUpdate)
	require.True(t, ok)
	var up OfferUpdatePayload
	require.NoError(t, json.Unmarshal(update.Data, &up))
	assert.Equal(t, 1, up.ClaimedCount)
	require.NotNil(t, up.Remaining)
	assert.Equal(t, 4, *up.Remaining)

	require.Len(t, fx.store.claims[offer.ID], 1)
}

func TestCoordinator_ClaimInactiveOffer(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "deals", AllowChat: true})
	offer := fx.store.addOffer(&models.Offer{StreamID: stream.ID, Title: "soon", IsActive: false})
	c := newTestClient()

	fx.co.ClaimOffer(context.Background(), c, offer.ID)
	requireError(t, c, CodeForbidden)
}

func TestCoordinator_ConcurrentClaimsNeverOversell(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "scarce", AllowChat: true})
	limit := 1
	offer := fx.store.addOffer(&models.Offer{StreamID: stream.ID, Title: "last one", IsActive: true, QuantityLimit: &limit})
	ctx := context.Background()

	const claimers = 8
	clients := make([]*Client, claimers)
	for i := range clients {
		clients[i] = newTestClient()
		fx.co.JoinStream(ctx, clients[i], stream.ID)
		drain(clients[i])
	}
	for i := range clients {
		drain(clients[i])
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			fx.co.ClaimOffer(ctx, c, offer.ID)
		}(c)
	}
	wg.Wait()

	won, lost := 0, 0
	for _, c := range clients {
		msgs := drain(c)
		if _, ok := findEvent(msgs, EventOfferClaimed); ok {
			won++
		}
		if _, ok := findEvent(msgs, EventOfferExhausted); ok {
			lost++
		}
	}
	assert.Equal(t, 1, won, "exactly one claimer wins the last unit")
	assert.Equal(t, claimers-1, lost, "everyone else sees exhaustion")

	o, _ := fx.store.GetOffer(ctx, offer.ID)
	assert.Equal(t, 1, o.ClaimedCount, "claimed count must never exceed the limit")
	assert.Len(t, fx.store.claims[offer.ID], 1)
}

func TestCoordinator_OfferGatesSweptWhenIdle(t *testing.T) {
	fx := newFixture(t)
	now := time.Now()

	fx.co.offerLockAt(uuid.New(), now)
	fx.co.offerLockAt(uuid.New(), now)

	// fresh activity long after the first two gates went idle sweeps them
	fx.co.offerLockAt(uuid.New(), now.Add(offerGateIdleTTL+time.Minute))

	fx.co.claimMu.Lock()
	defer fx.co.claimMu.Unlock()
	assert.Len(t, fx.co.claims, 1, "idle offer gates must not accumulate")
}

func TestCoordinator_FeatureProductHostOnly(t *testing.T) {
	fx := newFixture(t)
	hostID := uuid.New()
	stream := fx.store.addStream(&models.Stream{Title: "shop", HostID: hostID, AllowChat: true})
	product := fx.store.addProduct(stream.ID, &models.StreamProduct{ProductID: uuid.New(), Name: "lamp"})
	ctx := context.Background()

	viewer := newTestClient()
	fx.co.JoinStream(ctx, viewer, stream.ID)
	drain(viewer)

	fx.co.FeatureProduct(ctx, viewer, FeatureProductPayload{StreamID: stream.ID, ProductID: product.ProductID})
	requireError(t, viewer, CodeForbidden)

	host := hostClient(hostID)
	fx.co.JoinStream(ctx, host, stream.ID)
	drain(host)
	drain(viewer)

	fx.co.FeatureProduct(ctx, host, FeatureProductPayload{StreamID: stream.ID, ProductID: product.ProductID, Note: "50% off"})

	featured, ok := findEvent(drain(viewer), EventProductFeatured)
	require.True(t, ok, "the room sees the featured product")
	var p models.StreamProduct
	require.NoError(t, json.Unmarshal(featured.Data, &p))
	assert.True(t, p.IsPinned)
	assert.Equal(t, "50% off", p.FeaturedNote)
}

func TestCoordinator_PinMessage(t *testing.T) {
	fx := newFixture(t)
	hostID := uuid.New()
	stream := fx.store.addStream(&models.Stream{Title: "pins", HostID: hostID, AllowChat: true})
	ctx := context.Background()

	msg := &models.ChatMessage{StreamID: stream.ID, Body: "pin me"}
	require.NoError(t, fx.store.CreateChatMessage(ctx, msg))
	other := &models.ChatMessage{StreamID: stream.ID, Body: "old pin", IsPinned: true}
	require.NoError(t, fx.store.CreateChatMessage(ctx, other))

	host := hostClient(hostID)
	fx.co.JoinStream(ctx, host, stream.ID)
	drain(host)

	fx.co.PinMessage(ctx, host, PinMessagePayload{StreamID: stream.ID, MessageID: msg.ID})

	pinned, ok := findEvent(drain(host), EventMessagePinned)
	require.True(t, ok)
	var p MessagePinnedPayload
	require.NoError(t, json.Unmarshal(pinned.Data, &p))
	assert.Equal(t, msg.ID, p.MessageID)

	stored, _ := fx.store.GetChatMessage(ctx, msg.ID)
	assert.True(t, stored.IsPinned)
	old, _ := fx.store.GetChatMessage(ctx, other.ID)
	assert.False(t, old.IsPinned, "pinning replaces the previous pin")
}

func TestCoordinator_HighlightMessage(t *testing.T) {
	fx := newFixture(t)
	hostID := uuid.New()
	stream := fx.store.addStream(&models.Stream{Title: "lights", HostID: hostID, AllowChat: true})
	ctx := context.Background()

	msg := &models.ChatMessage{StreamID: stream.ID, Body: "great question"}
	require.NoError(t, fx.store.CreateChatMessage(ctx, msg))

	host := hostClient(hostID)
	fx.co.JoinStream(ctx, host, stream.ID)
	drain(host)

	fx.co.HighlightMessage(ctx, host, msg.ID)

	_, ok := findEvent(drain(host), EventMessageHighlighted)
	require.True(t, ok)
	stored, _ := fx.store.GetChatMessage(ctx, msg.ID)
	assert.True(t, stored.IsHighlighted)
}

func TestCoordinator_ProductEventsEnqueued(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "clicks", AllowChat: true})
	productID := uuid.New()
	c := newTestClient()

	fx.co.ProductEvent(context.Background(), c, ProductEventPayload{StreamID: stream.ID, ProductID: productID}, queue.ProductEventClick)
	fx.co.ProductEvent(context.Background(), c, ProductEventPayload{StreamID: stream.ID, ProductID: productID}, queue.ProductEventCartAdd)

	jobs := fx.queue.enqueued()
	require.Len(t, jobs, 2)
	assert.Equal(t, queue.ProductEventClick, jobs[0].Kind)
	assert.Equal(t, queue.ProductEventCartAdd, jobs[1].Kind)
	assert.Empty(t, drain(c), "analytics events never produce a reply")
}

func TestCoordinator_DispatchUnknownEvent(t *testing.T) {
	fx := newFixture(t)
	c := newTestClient()

	fx.co.Dispatch(context.Background(), c, Envelope{Event: "moonwalk", Data: json.RawMessage(`{}`)})
	requireError(t, c, CodeBadRequest)
}

func TestCoordinator_DispatchRoundTrip(t *testing.T) {
	fx := newFixture(t)
	stream := fx.store.addStream(&models.Stream{Title: "wire", AllowChat: true})
	c := newTestClient()

	data, err := json.Marshal(JoinStreamPayload{StreamID: stream.ID})
	require.NoError(t, err)
	fx.co.Dispatch(context.Background(), c, Envelope{Event: EventJoinStream, Data: data})

	_, ok := findEvent(drain(c), EventStreamJoined)
	assert.True(t, ok)
}
