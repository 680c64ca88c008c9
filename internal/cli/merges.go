package cli

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/events"
	"github.com/lherron/redline/internal/merge"
	"github.com/lherron/redline/internal/session"
	"github.com/lherron/redline/internal/store"
	"github.com/lherron/redline/internal/webhooks"
)

// MergeView is a session status as seen through the store: the engine
// summary plus the friendly ID and etag of the stored row.
type MergeView struct {
	MergeID string `json:"merge_id"`
	ETag    int64  `json:"etag"`
	session.StatusView
}

// FinalizeView is the response to a finalize call
type FinalizeView struct {
	MergeID string `json:"merge_id"`
	ETag    int64  `json:"etag"`
	*session.Result
}

// mergeService runs session operations against persisted state. Every
// mutation restores the session from its stored record, applies the
// change through the session manager and saves it back with an etag
// check, so the CLI and daemon can share one database.
type mergeService struct {
	// mu serializes mutations; the manager holds one live session per id
	mu sync.Mutex

	store *store.Store
	mgr   *session.Manager
	hooks *webhooks.Dispatcher
	log   *slog.Logger
}

func newMergeService(st *store.Store, hooks *webhooks.Dispatcher, log *slog.Logger, opts ...session.Option) *mergeService {
	if log == nil {
		log = slog.Default()
	}
	opts = append([]session.Option{session.WithLogger(log)}, opts...)
	return &mergeService{
		store: st,
		mgr:   session.NewManager(opts...),
		hooks: hooks,
		log:   log,
	}
}

func view(row *domain.MergeSession, s *session.Session) *MergeView {
	return &MergeView{MergeID: row.ID, ETag: row.ETag, StatusView: s.Status()}
}

// Preview builds the conflict plan without persisting anything
func (ms *mergeService) Preview(ctx context.Context, in merge.Input) (*merge.Plan, error) {
	return merge.Build(ctx, in)
}

// Start builds a plan, opens a session and stores it
func (ms *mergeService) Start(ctx context.Context, in merge.Input) (*MergeView, error) {
	s, err := ms.mgr.StartMerge(ctx, in)
	if err != nil {
		return nil, err
	}
	defer ms.mgr.Forget(s.ID())

	row, err := ms.store.Sessions.Create(s.Record())
	if err != nil {
		return nil, err
	}
	return view(row, s), nil
}

// load restores a stored session into a standalone Session
func (ms *mergeService) load(ref string) (*domain.MergeSession, *session.Session, error) {
	row, rec, err := ms.store.Sessions.Load(ref)
	if err != nil {
		return nil, nil, err
	}
	s, err := session.FromRecord(rec, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	return row, s, nil
}

// errUnchanged lets a mutate callback report that the stored row is
// already current and must not be saved again.
var errUnchanged = errors.New("merge session unchanged")

// mutate restores ref into the manager, runs fn against its session ID and
// saves the result. A zero ifMatch still guards against writes that land
// between the load and the save.
func (ms *mergeService) mutate(ref string, ifMatch int64, eventType string, payload map[string]interface{}, fn func(id string) error) (*domain.MergeSession, *session.Session, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	row, rec, err := ms.store.Sessions.Load(ref)
	if err != nil {
		return nil, nil, err
	}
	if ifMatch > 0 {
		if err := domain.CheckETag(ifMatch, row.ETag); err != nil {
			return nil, nil, err
		}
	}
	s, err := ms.mgr.Restore(rec)
	if err != nil {
		return nil, nil, err
	}
	defer ms.mgr.Forget(s.ID())

	if err := fn(s.ID()); err != nil {
		if errors.Is(err, errUnchanged) {
			return row, s, err
		}
		return nil, nil, err
	}
	saved, err := ms.store.Sessions.Save(s.Record(), row.ETag, eventType, payload)
	if err != nil {
		return nil, nil, err
	}
	return saved, s, nil
}

// Status returns the current view of a stored session
func (ms *mergeService) Status(ref string) (*MergeView, error) {
	row, s, err := ms.load(ref)
	if err != nil {
		return nil, err
	}
	return view(row, s), nil
}

// Conflicts lists the conflicts of a live session
func (ms *mergeService) Conflicts(ref string) ([]merge.Conflict, error) {
	_, s, err := ms.load(ref)
	if err != nil {
		return nil, err
	}
	return s.Conflicts()
}

// Resolve applies one resolution
func (ms *mergeService) Resolve(ref string, conflictIndex, variantIndex int, ifMatch int64) (*MergeView, error) {
	payload := map[string]interface{}{"conflict_index": conflictIndex, "variant_index": variantIndex}
	row, s, err := ms.mutate(ref, ifMatch, events.MergeConflictResolved, payload, func(id string) error {
		_, err := ms.mgr.ResolveConflict(id, conflictIndex, variantIndex)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view(row, s), nil
}

// ResolveBulk applies a batch of resolutions atomically
func (ms *mergeService) ResolveBulk(ref string, resolutions []session.Resolution, ifMatch int64) (*MergeView, error) {
	payload := map[string]interface{}{"count": len(resolutions)}
	row, s, err := ms.mutate(ref, ifMatch, events.MergeBulkResolved, payload, func(id string) error {
		_, err := ms.mgr.ResolveBulk(id, resolutions)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view(row, s), nil
}

// Finalize produces the merged document. Finalizing an already finalized
// session returns the stored result without touching the row.
func (ms *mergeService) Finalize(ref, name string, ifMatch int64) (*FinalizeView, error) {
	current, s, err := ms.load(ref)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.MergeStatusFinalized {
		res, err := s.Finalize(name)
		if err != nil {
			return nil, err
		}
		return &FinalizeView{MergeID: current.ID, ETag: current.ETag, Result: res}, nil
	}

	// A concurrent finalize may have won since the read above.
	var res *session.Result
	row, _, err := ms.mutate(ref, ifMatch, events.MergeFinalized, nil, func(id string) error {
		s, err := ms.mgr.Get(id)
		if err != nil {
			return err
		}
		done := s.CurrentStatus() == domain.MergeStatusFinalized
		if res, err = ms.mgr.Finalize(id, name); err != nil {
			return err
		}
		if done {
			return errUnchanged
		}
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		return &FinalizeView{MergeID: row.ID, ETag: row.ETag, Result: res}, nil
	case err != nil:
		return nil, err
	}
	ms.notify(events.MergeFinalized, row)
	return &FinalizeView{MergeID: row.ID, ETag: row.ETag, Result: res}, nil
}

// Cancel abandons a session
func (ms *mergeService) Cancel(ref string, ifMatch int64) (*MergeView, error) {
	row, s, err := ms.mutate(ref, ifMatch, events.MergeCancelled, nil, func(id string) error {
		_, err := ms.mgr.Cancel(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	ms.notify(events.MergeCancelled, row)
	return view(row, s), nil
}

// List pages through stored sessions
func (ms *mergeService) List(p store.ListParams) ([]domain.MergeSession, string, error) {
	return ms.store.Sessions.List(p)
}

// Events returns the event history of a session
func (ms *mergeService) Events(ref string) ([]domain.Event, error) {
	row, err := ms.store.Sessions.Get(ref)
	if err != nil {
		return nil, err
	}
	return ms.store.Events().List(row.UUID)
}

func (ms *mergeService) notify(event string, row *domain.MergeSession) {
	if !ms.hooks.Enabled() {
		return
	}
	ms.hooks.Dispatch(webhooks.PayloadFor(event, row))
}
