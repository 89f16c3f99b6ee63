package service

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/kozaktomas/face-attendance/internal/apperrors"
	"github.com/kozaktomas/face-attendance/internal/audit"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/memory"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/registration"
	"github.com/kozaktomas/face-attendance/internal/session"
)

const dim = 128

func unitVector(rng *rand.Rand) facematch.Vector {
	v := make(facematch.Vector, dim)
	var norm float64
	for i := range v {
		x := rng.NormFloat64()
		v[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

func jitter(rng *rand.Rand, v facematch.Vector, amount float64) facematch.Vector {
	out := v.Clone()
	for i := range out {
		out[i] += float32((rng.Float64()*2 - 1) * amount)
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []database.AuditEntry
}

func (r *recordingAudit) Emit(entry database.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingAudit) count(action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *memory.Store
	clock   *clock
	metrics *metrics.Metrics
	audit   *recordingAudit
	svc     *Service
	rng     *rand.Rand
	s1      facematch.Vector
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) newService(mutate func(*config.Config)) *Service {
	cfg := config.Defaults()
	cfg.Extractor.Backend = extractor.BackendSimulated
	if mutate != nil {
		mutate(cfg)
	}
	s.Require().NoError(cfg.Validate())
	svc, err := New(cfg, s.store.Backend(), extractor.NewSimulated(cfg.Matcher.Dim), Options{
		Auditor: s.audit,
		Metrics: s.metrics,
		Clock:   s.clock.Now,
	})
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.clock = &clock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.audit = &recordingAudit{}
	s.svc = s.newService(nil)
	s.rng = rand.New(rand.NewPCG(7, 11))

	s.s1 = unitVector(s.rng)
	_, err := s.svc.RegisterDescriptors(s.ctx, "S1", "CSE-A", []facematch.Vector{
		jitter(s.rng, s.s1, 0.01), jitter(s.rng, s.s1, 0.01), jitter(s.rng, s.s1, 0.01),
	})
	s.Require().NoError(err)
}

func (s *ServiceSuite) createSession(minutes int) *database.Session {
	sess, err := s.svc.CreateSession(s.ctx, session.CreateRequest{
		GroupID: "CSE-A", SubjectID: "math", OwnerID: "t1", Mode: "demo", DurationMinutes: minutes,
	})
	s.Require().NoError(err)
	return sess
}

// Scenario 1: one active session per group.
func (s *ServiceSuite) TestSessionExclusivity() {
	sess := s.createSession(10)
	s.Equal(database.SessionActive, sess.Status)
	s.Equal(s.clock.Now().Add(10*time.Minute), sess.ExpiresAt)

	_, err := s.svc.CreateSession(s.ctx, session.CreateRequest{
		GroupID: "CSE-A", SubjectID: "physics", OwnerID: "t2", Mode: "demo", DurationMinutes: 10,
	})
	s.ErrorIs(err, apperrors.ErrSessionConflict)
}

// Scenario 2: near vectors match, unrelated ones do not.
func (s *ServiceSuite) TestIdentify() {
	result, err := s.svc.Identify(s.ctx, jitter(s.rng, s.s1, 0.01), "CSE-A")
	s.Require().NoError(err)
	s.True(result.Matched)
	s.Equal("S1", result.IdentityID)
	s.Greater(result.Confidence, 0.4)

	result, err = s.svc.Identify(s.ctx, unitVector(s.rng), "CSE-A")
	s.Require().NoError(err)
	s.False(result.Matched)
	s.Empty(result.IdentityID)
	s.Less(result.Confidence, 0.4)

	s.Equal(1.0, testutil.ToFloat64(s.metrics.IdentifyOutcome.WithLabelValues("matched")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.IdentifyOutcome.WithLabelValues("unmatched")))
}

func (s *ServiceSuite) TestIdentifyErrors() {
	_, err := s.svc.Identify(s.ctx, facematch.Vector{1, 2, 3}, "CSE-A")
	s.ErrorIs(err, apperrors.ErrDimensionMismatch)

	_, err = s.svc.Identify(s.ctx, unitVector(s.rng), "CSE-EMPTY")
	s.ErrorIs(err, apperrors.ErrNoCandidates)

	// Dimension is checked before candidates.
	_, err = s.svc.Identify(s.ctx, facematch.Vector{1}, "CSE-EMPTY")
	s.ErrorIs(err, apperrors.ErrDimensionMismatch)
}

func (s *ServiceSuite) TestIdentifySeesNewRegistrations() {
	s2 := unitVector(s.rng)
	result, err := s.svc.Identify(s.ctx, s2, "CSE-A")
	s.Require().NoError(err)
	s.False(result.Matched)

	_, err = s.svc.RegisterDescriptors(s.ctx, "S2", "CSE-A", []facematch.Vector{s2})
	s.Require().NoError(err)

	result, err = s.svc.Identify(s.ctx, s2, "CSE-A")
	s.Require().NoError(err)
	s.Equal("S2", result.IdentityID)
	s.InDelta(1.0, result.Confidence, 1e-9)
}

func (s *ServiceSuite) TestGroupNormalization() {
	result, err := s.svc.Identify(s.ctx, s.s1, "  CSE-A ")
	s.Require().NoError(err)
	s.True(result.Matched)
}

// Scenario 3: marking twice returns the same record.
func (s *ServiceSuite) TestMarkIdempotent() {
	sess := s.createSession(10)

	first, created, err := s.svc.MarkAttendance(s.ctx, sess.ID, "S1", "kiosk")
	s.Require().NoError(err)
	s.True(created)
	second, created, err := s.svc.MarkAttendance(s.ctx, sess.ID, "S1", "kiosk")
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first, second)

	records, err := s.svc.ListSessionAttendance(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Len(records, 1)
}

// Scenario 4: marking after expiry fails.
func (s *ServiceSuite) TestMarkAfterExpiry() {
	sess := s.createSession(10)
	s.clock.Set(sess.ExpiresAt.Add(time.Second))

	_, _, err := s.svc.MarkAttendance(s.ctx, sess.ID, "S1", "kiosk")
	s.ErrorIs(err, apperrors.ErrSessionInactive)
}

func (s *ServiceSuite) TestGetActiveSessionExpiresDurably() {
	sess := s.createSession(10)
	s.clock.Set(sess.ExpiresAt.Add(time.Second))

	active, err := s.svc.GetActiveSession(s.ctx, "CSE-A")
	s.Require().NoError(err)
	s.Nil(active)

	got, err := s.svc.GetSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(database.SessionEnded, got.Status)
}

func (s *ServiceSuite) TestEndSessionThenList() {
	sess := s.createSession(10)
	s.Require().NoError(s.svc.EndSession(s.ctx, sess.ID))
	s.Require().NoError(s.svc.EndSession(s.ctx, sess.ID))

	sessions, err := s.svc.ListSessions(s.ctx, "CSE-A")
	s.Require().NoError(err)
	s.Require().Len(sessions, 1)
	s.Equal(database.SessionEnded, sessions[0].Status)

	s.ErrorIs(s.svc.EndSession(s.ctx, "missing"), apperrors.ErrSessionNotFound)
	s.Equal(1, s.audit.count(audit.ActionSessionEnded), "only the real transition is audited")
}

func (s *ServiceSuite) TestRegisterIdentityFromFrames() {
	frames := registration.NewSliceFrames([][]byte{[]byte("carol-1"), nil, []byte("carol-2")})
	res, err := s.svc.RegisterIdentity(s.ctx, "carol", "CSE-A", frames, 2)
	s.Require().NoError(err)
	s.Equal(2, res.Samples)
	s.Equal(1, res.FramesWithoutFace)

	matches, err := s.svc.IdentifyFrame(s.ctx, []byte("carol-2"), "CSE-A")
	s.Require().NoError(err)
	s.Require().Len(matches, 1)
	s.Equal("carol", matches[0].IdentityID)
}

func (s *ServiceSuite) TestRegisterIdentityWithoutFaces() {
	frames := registration.NewSliceFrames([][]byte{nil, nil})
	_, err := s.svc.RegisterIdentity(s.ctx, "dave", "CSE-A", frames, 0)
	s.ErrorIs(err, apperrors.ErrValidation)

	_, err = s.svc.GetIdentity(s.ctx, "dave")
	s.ErrorIs(err, apperrors.ErrIdentityNotFound)
}

func (s *ServiceSuite) TestListAttendanceAcrossSessions() {
	first := s.createSession(10)
	_, _, err := s.svc.MarkAttendance(s.ctx, first.ID, "S1", "")
	s.Require().NoError(err)
	s.Require().NoError(s.svc.EndSession(s.ctx, first.ID))

	s.clock.Set(s.clock.Now().Add(time.Hour))
	second := s.createSession(10)
	_, _, err = s.svc.MarkAttendance(s.ctx, second.ID, "S1", "")
	s.Require().NoError(err)

	records, err := s.svc.ListAttendance(s.ctx, "S1")
	s.Require().NoError(err)
	s.Len(records, 2)
}

func TestIndexedStrategy(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.Extractor.Backend = extractor.BackendSimulated
	cfg.Matcher.Strategy = string(facematch.StrategyIndexed)
	cfg.Matcher.Dim = dim

	svc, err := New(cfg, memory.New().Backend(), extractor.NewSimulated(dim), Options{})
	require.NoError(t, err)
	assert.Equal(t, facematch.StrategyIndexed, svc.Matcher().Strategy())

	rng := rand.New(rand.NewPCG(1, 2))
	people := make(map[string]facematch.Vector)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		people[id] = unitVector(rng)
		_, err := svc.RegisterDescriptors(ctx, id, "G", []facematch.Vector{people[id]})
		require.NoError(t, err)
	}

	for id, v := range people {
		result, err := svc.Identify(ctx, jitter(rng, v, 0.005), "G")
		require.NoError(t, err)
		assert.Equal(t, id, result.IdentityID)
	}
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	cfg := config.Defaults()
	cfg.Matcher.Strategy = "fuzzy"
	_, err := New(cfg, memory.New().Backend(), extractor.NewSimulated(dim), Options{})
	assert.Error(t, err)
}
