// Package descriptors owns the registered feature vectors of every identity
// and serves per-group snapshots to the matcher.
package descriptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kozaktomas/face-attendance/internal/apperrors"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

// loadTimeout bounds one shared snapshot load.
const loadTimeout = 30 * time.Second

// Store registers descriptors and caches one snapshot per group.
//
// Every group has a generation counter. Register bumps it and drops the
// cached snapshot; a load only installs its result if the generation did
// not move while it ran, so a slow load never resurrects stale descriptors.
type Store struct {
	repo      database.IdentityWriter
	dim       int
	ttl       time.Duration
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	gen   map[string]uint64
	cache map[string]*Snapshot
	loads singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithPublisher sets where identity.registered events go.
func WithPublisher(p events.Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithTTL expires cached snapshots after ttl. Zero keeps them until invalidated.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store for descriptors of dimension dim.
func New(repo database.IdentityWriter, dim int, opts ...Option) *Store {
	s := &Store{
		repo:      repo,
		dim:       dim,
		publisher: &events.NoopPublisher{},
		logger:    logging.Discard(),
		now:       time.Now,
		gen:       make(map[string]uint64),
		cache:     make(map[string]*Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dim returns the configured descriptor dimension.
func (s *Store) Dim() int {
	return s.dim
}

// Register replaces the identity's descriptor set with vectors and marks it
// registered. On a validation error nothing is written.
func (s *Store) Register(ctx context.Context, identityID, groupID string, vectors []facematch.Vector) (*database.Identity, error) {
	if identityID == "" || groupID == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "identity and group are required")
	}
	if len(vectors) == 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "at least one descriptor is required")
	}
	for i, v := range vectors {
		if len(v) != s.dim {
			return nil, apperrors.Newf(apperrors.CodeValidation,
				"descriptor %d has %d dimensions, expected %d", i, len(v), s.dim)
		}
	}

	var previousGroup string
	prev, err := s.repo.GetIdentity(ctx, identityID)
	switch {
	case err == nil:
		if prev.GroupID != groupID {
			previousGroup = prev.GroupID
		}
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("loading identity %s: %w", identityID, err)
	}

	now := s.now()
	identity := &database.Identity{
		ID:           identityID,
		GroupID:      groupID,
		Descriptors:  facematch.CloneAll(vectors),
		Status:       database.IdentityRegistered,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	if err := s.repo.ReplaceDescriptors(ctx, identity); err != nil {
		return nil, fmt.Errorf("replacing descriptors for %s: %w", identityID, err)
	}

	s.Invalidate(groupID)
	if previousGroup != "" {
		s.Invalidate(previousGroup)
	}

	event := events.IdentityRegistered{
		IdentityID:      identityID,
		GroupID:         groupID,
		DescriptorCount: len(vectors),
		PreviousGroupID: previousGroup,
	}
	if err := s.publisher.Publish(ctx, events.TopicIdentityRegistered, event); err != nil {
		s.logger.Warn("failed to publish identity registration", "identity", identityID, "error", err)
	}

	s.logger.Info("identity registered", "identity", identityID, "group", groupID, "descriptors", len(vectors))
	return identity, nil
}

// Get returns the identity with its descriptors.
func (s *Store) Get(ctx context.Context, identityID string) (*database.Identity, error) {
	identity, err := s.repo.GetIdentity(ctx, identityID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.Newf(apperrors.CodeIdentityNotFound, "identity %s not found", identityID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading identity %s: %w", identityID, err)
	}
	return identity, nil
}

// ForGroup returns the group's current snapshot, loading it if the cache is
// empty or expired. Concurrent loads of the same generation are collapsed.
func (s *Store) ForGroup(ctx context.Context, groupID string) (*Snapshot, error) {
	s.mu.Lock()
	if snap, ok := s.cache[groupID]; ok && !s.expired(snap) {
		s.mu.Unlock()
		return snap, nil
	}
	gen := s.gen[groupID]
	s.mu.Unlock()

	key := groupID + "\x00" + strconv.FormatUint(gen, 10)
	// The load is shared, so it must not die with whichever caller started
	// it; each caller still stops waiting when its own ctx ends.
	loadCtx := context.WithoutCancel(ctx)
	ch := s.loads.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(loadCtx, loadTimeout)
		defer cancel()

		descriptors, err := s.repo.GroupDescriptors(loadCtx, groupID)
		if err != nil {
			return nil, fmt.Errorf("loading descriptors for group %s: %w", groupID, err)
		}
		snap := newSnapshot(groupID, descriptors, s.now())

		s.mu.Lock()
		if s.gen[groupID] == gen {
			s.cache[groupID] = snap
		}
		s.mu.Unlock()

		s.logger.Debug("descriptor snapshot loaded", "group", groupID,
			"identities", snap.Identities(), "descriptors", snap.Descriptors())
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (s *Store) expired(snap *Snapshot) bool {
	return s.ttl > 0 && s.now().Sub(snap.LoadedAt) >= s.ttl
}

// Invalidate drops the group's cached snapshot.
func (s *Store) Invalidate(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen[groupID]++
	delete(s.cache, groupID)
}

// Cached reports whether the group currently has a cached snapshot.
func (s *Store) Cached(groupID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cache[groupID]
	return ok
}

// Watch invalidates cached snapshots whenever another process (or this one)
// announces a registration. It blocks until ctx is done or the subscription closes.
func (s *Store) Watch(ctx context.Context, sub events.Subscriber) error {
	ch, cancel, err := sub.Subscribe(events.TopicIdentityRegistered)
	if err != nil {
		return fmt.Errorf("subscribing to registrations: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event events.IdentityRegistered
			if err := msg.Decode(&event); err != nil {
				s.logger.Warn("invalid registration event", "error", err)
				continue
			}
			s.Invalidate(event.GroupID)
			if event.PreviousGroupID != "" {
				s.Invalidate(event.PreviousGroupID)
			}
		}
	}
}
