package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/merge"
)

func newDocumentID() string {
	return ulid.Make().String()
}

// Manager is the registry of live sessions
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string

	now          func() time.Time
	newSessionID func() string
	newDocID     func() string
	log          *slog.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger used for lifecycle messages
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithIDGenerators overrides the session and document id generators
func WithIDGenerators(sessionID, documentID func() string) Option {
	return func(m *Manager) {
		if sessionID != nil {
			m.newSessionID = sessionID
		}
		if documentID != nil {
			m.newDocID = documentID
		}
	}
}

// NewManager creates an empty registry
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:     make(map[string]*Session),
		now:          time.Now,
		newSessionID: uuid.NewString,
		newDocID:     newDocumentID,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartMerge builds the conflict plan for in and registers a new OPEN
// session for it.
func (m *Manager) StartMerge(ctx context.Context, in merge.Input) (*Session, error) {
	var last Progress
	report := in.OnProgress
	in.OnProgress = func(stage string, done, total int) {
		last = Progress{Stage: stage, Done: done, Total: total}
		if report != nil {
			report(stage, done, total)
		}
	}

	plan, err := merge.Build(ctx, in)
	if err != nil {
		return nil, err
	}

	s := newSession(m.newSessionID(), plan, last, m.now, m.newDocID)
	m.register(s)

	m.log.Info("merge started",
		"session", s.id,
		"versions", len(plan.Sources),
		"strategy", plan.Strategy,
		"conflicts", plan.ConflictsCount,
		"auto_resolved", plan.AutoResolvedCount)
	return s, nil
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.id]; !exists {
		m.order = append(m.order, s.id)
	}
	m.sessions[s.id] = s
}

// Get returns the session with the given id
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.Invalid("unknown merge session %q", id)
	}
	return s, nil
}

// ResolveConflict applies one resolution
func (m *Manager) ResolveConflict(id string, conflictIndex, variantIndex int) (StatusView, error) {
	s, err := m.Get(id)
	if err != nil {
		return StatusView{}, err
	}
	if err := s.ApplyResolution(conflictIndex, variantIndex); err != nil {
		return StatusView{}, err
	}
	v := s.Status()
	m.log.Info("conflict resolved", "session", id, "conflict", conflictIndex, "variant", variantIndex, "status", v.Status)
	return v, nil
}

// ResolveBulk applies a batch of resolutions atomically
func (m *Manager) ResolveBulk(id string, resolutions []Resolution) (StatusView, error) {
	s, err := m.Get(id)
	if err != nil {
		return StatusView{}, err
	}
	if err := s.ApplyBulk(resolutions); err != nil {
		return StatusView{}, err
	}
	v := s.Status()
	m.log.Info("conflicts resolved", "session", id, "count", len(resolutions), "status", v.Status)
	return v, nil
}

// Finalize produces (or returns the already produced) merged document
func (m *Manager) Finalize(id, name string) (*Result, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	res, err := s.Finalize(name)
	if err != nil {
		return nil, err
	}
	m.log.Info("merge finalized", "session", id, "document", res.DocumentID, "bytes", res.ContentSize)
	return res, nil
}

// Cancel abandons a session
func (m *Manager) Cancel(id string) (StatusView, error) {
	s, err := m.Get(id)
	if err != nil {
		return StatusView{}, err
	}
	if err := s.Cancel(); err != nil {
		return StatusView{}, err
	}
	m.log.Info("merge cancelled", "session", id)
	return s.Status(), nil
}

// GetStatus returns a session summary
func (m *Manager) GetStatus(id string) (StatusView, error) {
	s, err := m.Get(id)
	if err != nil {
		return StatusView{}, err
	}
	return s.Status(), nil
}

// List returns summaries of every session in registration order
func (m *Manager) List() []StatusView {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		sessions = append(sessions, m.sessions[id])
	}
	m.mu.RUnlock()

	out := make([]StatusView, len(sessions))
	for i, s := range sessions {
		out[i] = s.Status()
	}
	return out
}

// Restore registers a session rebuilt from a record, replacing any live
// session with the same id.
func (m *Manager) Restore(r Record) (*Session, error) {
	s, err := FromRecord(r, m.now, m.newDocID)
	if err != nil {
		return nil, err
	}
	m.register(s)
	return s, nil
}

// Forget drops a session from the registry
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return
	}
	delete(m.sessions, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
