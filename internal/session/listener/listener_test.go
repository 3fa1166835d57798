package listener

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"avanza/internal/sentinel"
	"avanza/internal/session/cache"
	"avanza/internal/session/models"
)

// scriptedReloader returns canned profiles and can block reloads on demand.
type scriptedReloader struct {
	mu      sync.Mutex
	profile *models.Session
	err     error
	calls   int
	gate    chan struct{} // when non-nil, reloads block until it closes
}

func (r *scriptedReloader) GetProfile(_ context.Context, _ string) (*models.Session, error) {
	r.mu.Lock()
	r.calls++
	profile := r.profile
	err := r.err
	gate := r.gate
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	copied := *profile
	return &copied, nil
}

func (r *scriptedReloader) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type ListenerSuite struct {
	suite.Suite
	bus      *MemoryBus
	cache    *cache.Cache
	reloader *scriptedReloader

	mu        sync.Mutex
	published []*models.Session

	listener *Listener
}

func (s *ListenerSuite) SetupTest() {
	s.bus = NewMemoryBus()
	s.cache = cache.New()
	s.reloader = &scriptedReloader{}
	s.published = nil
	s.listener = New(s.bus, s.reloader, s.cache, s.publish,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func (s *ListenerSuite) publish(session *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, session)
}

func (s *ListenerSuite) publishedSessions() []*models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Session(nil), s.published...)
}

func (s *ListenerSuite) adminSession() *models.Session {
	return &models.Session{
		SubjectID: "sub-1",
		Principal: &models.Principal{
			DisplayName: "Ada Admin",
			Email:       "admin@acme.example",
			Role:        models.RoleAdmin,
		},
		Organization: &models.Organization{ID: "org-acme", Name: "Acme Staffing"},
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(10 * time.Minute),
	}
}

func (s *ListenerSuite) TestAttachSubscribesToBackingRecords() {
	require.NoError(s.T(), s.listener.Attach(s.adminSession()))

	assert.Equal(s.T(), 1, s.bus.SubscriberCount(KindProfile, "sub-1"))
	assert.Equal(s.T(), 1, s.bus.SubscriberCount(KindOrganization, "org-acme"))
	assert.Equal(s.T(), 1, s.bus.SubscriberCount(KindReview, "org-acme"))
}

func (s *ListenerSuite) TestAttachWithoutOrganizationSkipsTenantRecords() {
	session := s.adminSession()
	session.Principal.Role = models.RoleEmployee
	session.Organization = nil

	require.NoError(s.T(), s.listener.Attach(session))

	assert.Equal(s.T(), 1, s.bus.SubscriberCount(KindProfile, "sub-1"))
	assert.Equal(s.T(), 0, s.bus.SubscriberCount(KindOrganization, "org-acme"))
}

func (s *ListenerSuite) TestChangeInvalidatesCacheAndRepublishes() {
	session := s.adminSession()
	s.cache.Put(session.SubjectID, session)
	require.NoError(s.T(), s.listener.Attach(session))

	s.reloader.profile = &models.Session{
		SubjectID: "sub-1",
		Principal: &models.Principal{
			DisplayName: "Ada Renamed",
			Email:       "admin@acme.example",
			Role:        models.RoleAdmin,
		},
		Organization: session.Organization,
	}

	s.bus.Publish(ChangeEvent{Kind: KindProfile, Key: "sub-1"})
	s.listener.Wait()

	_, cached := s.cache.Get("sub-1")
	assert.False(s.T(), cached, "stale entry must be dropped immediately")

	published := s.publishedSessions()
	require.Len(s.T(), published, 1)
	assert.Equal(s.T(), "Ada Renamed", published[0].Principal.DisplayName)
	assert.Equal(s.T(), "access-1", published[0].AccessToken, "reload carries the current token")
}

func (s *ListenerSuite) TestOrganizationChangeTriggersReload() {
	session := s.adminSession()
	require.NoError(s.T(), s.listener.Attach(session))
	s.reloader.profile = session

	s.bus.Publish(ChangeEvent{Kind: KindReview, Key: "org-acme"})
	s.listener.Wait()

	assert.Equal(s.T(), 1, s.reloader.callCount())
	assert.Len(s.T(), s.publishedSessions(), 1)
}

func (s *ListenerSuite) TestFailedReloadPublishesNothing() {
	session := s.adminSession()
	s.cache.Put(session.SubjectID, session)
	require.NoError(s.T(), s.listener.Attach(session))
	s.reloader.err = sentinel.ErrUnavailable

	s.bus.Publish(ChangeEvent{Kind: KindProfile, Key: "sub-1"})
	s.listener.Wait()

	// The invalidation stands even though the reload failed.
	_, cached := s.cache.Get("sub-1")
	assert.False(s.T(), cached)
	assert.Empty(s.T(), s.publishedSessions())
}

func (s *ListenerSuite) TestDetachUnsubscribesEverything() {
	session := s.adminSession()
	require.NoError(s.T(), s.listener.Attach(session))

	s.listener.Detach()

	assert.Equal(s.T(), 0, s.bus.SubscriberCount(KindProfile, "sub-1"))
	assert.Equal(s.T(), 0, s.bus.SubscriberCount(KindOrganization, "org-acme"))
	assert.Equal(s.T(), 0, s.bus.SubscriberCount(KindReview, "org-acme"))
}

func (s *ListenerSuite) TestDetachIsIdempotent() {
	require.NoError(s.T(), s.listener.Attach(s.adminSession()))
	s.listener.Detach()
	s.listener.Detach()
}

func (s *ListenerSuite) TestInFlightReloadDroppedAfterDetach() {
	session := s.adminSession()
	require.NoError(s.T(), s.listener.Attach(session))

	gate := make(chan struct{})
	s.reloader.profile = session
	s.reloader.gate = gate

	s.bus.Publish(ChangeEvent{Kind: KindProfile, Key: "sub-1"})
	s.listener.Detach()
	close(gate)
	s.listener.Wait()

	assert.Empty(s.T(), s.publishedSessions(), "a reload finishing after detach must be discarded")
}

func (s *ListenerSuite) TestLaterChangeWinsOverEarlierReload() {
	session := s.adminSession()
	require.NoError(s.T(), s.listener.Attach(session))

	gate := make(chan struct{})
	s.reloader.profile = session
	s.reloader.gate = gate

	// First change starts a reload that blocks on the gate.
	s.bus.Publish(ChangeEvent{Kind: KindProfile, Key: "sub-1"})

	// Second change bumps the generation, orphaning the first reload, then
	// blocks on the same gate.
	s.bus.Publish(ChangeEvent{Kind: KindProfile, Key: "sub-1"})

	close(gate)
	s.listener.Wait()

	// Only the reload belonging to the newest generation is published.
	assert.Len(s.T(), s.publishedSessions(), 1)
	assert.Equal(s.T(), 2, s.reloader.callCount())
}

func (s *ListenerSuite) TestRecordRefreshRotatesReloadToken() {
	session := s.adminSession()
	require.NoError(s.T(), s.listener.Attach(session))

	rotated := *session
	rotated.AccessToken = "access-2"
	s.listener.RecordRefresh(&rotated)

	s.reloader.profile = session
	s.bus.Publish(ChangeEvent{Kind: KindProfile, Key: "sub-1"})
	s.listener.Wait()

	published := s.publishedSessions()
	require.Len(s.T(), published, 1)
	assert.Equal(s.T(), "access-2", published[0].AccessToken)
}

func (s *ListenerSuite) TestReattachReplacesSubscriptions() {
	first := s.adminSession()
	require.NoError(s.T(), s.listener.Attach(first))

	second := s.adminSession()
	second.SubjectID = "sub-2"
	second.Organization = &models.Organization{ID: "org-beta", Name: "Beta Corp"}
	require.NoError(s.T(), s.listener.Attach(second))

	assert.Equal(s.T(), 0, s.bus.SubscriberCount(KindProfile, "sub-1"))
	assert.Equal(s.T(), 1, s.bus.SubscriberCount(KindProfile, "sub-2"))
	assert.Equal(s.T(), 1, s.bus.SubscriberCount(KindOrganization, "org-beta"))
}

type MemoryBusSuite struct {
	suite.Suite
	bus *MemoryBus
}

func (s *MemoryBusSuite) SetupTest() {
	s.bus = NewMemoryBus()
}

func (s *MemoryBusSuite) TestSubscribeRequiresKindKeyAndHandler() {
	_, err := s.bus.Subscribe("", "key", func(ChangeEvent) {})
	assert.ErrorIs(s.T(), err, sentinel.ErrInvalidInput)
	_, err = s.bus.Subscribe("profile", "", func(ChangeEvent) {})
	assert.ErrorIs(s.T(), err, sentinel.ErrInvalidInput)
	_, err = s.bus.Subscribe("profile", "key", nil)
	assert.ErrorIs(s.T(), err, sentinel.ErrInvalidInput)
}

func (s *MemoryBusSuite) TestPublishReachesMatchingSubscribersOnly() {
	var got []ChangeEvent
	_, err := s.bus.Subscribe(KindProfile, "sub-1", func(e ChangeEvent) { got = append(got, e) })
	require.NoError(s.T(), err)

	s.bus.Publish(ChangeEvent{Kind: KindProfile, Key: "sub-1"})
	s.bus.Publish(ChangeEvent{Kind: KindProfile, Key: "sub-2"})
	s.bus.Publish(ChangeEvent{Kind: KindOrganization, Key: "sub-1"})

	require.Len(s.T(), got, 1)
	assert.Equal(s.T(), "sub-1", got[0].Key)
}

func (s *MemoryBusSuite) TestUnsubscribeIsIdempotent() {
	sub, err := s.bus.Subscribe(KindProfile, "sub-1", func(ChangeEvent) {})
	require.NoError(s.T(), err)

	sub.Unsubscribe()
	sub.Unsubscribe()

	assert.Equal(s.T(), 0, s.bus.SubscriberCount(KindProfile, "sub-1"))
}

func TestListenerSuite(t *testing.T) {
	suite.Run(t, new(ListenerSuite))
}

func TestMemoryBusSuite(t *testing.T) {
	suite.Run(t, new(MemoryBusSuite))
}
