// Package feed implements the cross-party update bus: an append-only,
// in-memory feed of envelopes mirrored to the shared persistence medium and
// reconciled against it whenever another party writes.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roberthayford/nutlip-transaction-bus/internal/storage"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/enums"
	pkgerrors "github.com/roberthayford/nutlip-transaction-bus/pkg/errors"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/logger"
)

// Options configures a Feed.
type Options struct {
	Store  storage.Store
	Logger *logger.Logger
	// Clock and NewID are injectable for tests; defaults are time.Now and uuid.
	Clock func() time.Time
	NewID func() string
}

// Feed owns the in-memory ordered collection of envelopes for one party's
// process. The persisted copy is a mirror, not a second source of truth: on
// disagreement, Reconcile governs.
type Feed struct {
	mu         sync.RWMutex
	envelopes  []Envelope
	index      map[string]int
	generation int64

	store    storage.Store
	log      *logger.Logger
	now      func() time.Time
	newID    func() string
	degraded atomic.Bool
	notifier *notifier
}

// New wires a feed over the given store.
func New(opts Options) (*Feed, error) {
	if opts.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "feed store required")
	}
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Feed{
		index:    make(map[string]int),
		store:    opts.Store,
		log:      opts.Logger,
		now:      now,
		newID:    newID,
		notifier: newNotifier(),
	}, nil
}

// Load primes the in-memory feed from the persisted copy. Malformed data is
// treated as an empty feed; an unreachable medium leaves the feed empty and
// degraded rather than failing the caller.
func (f *Feed) Load(ctx context.Context) {
	state, err := ReadPersisted(ctx, f.store, f.log)
	if err != nil {
		f.setDegraded(ctx, true)
		if f.log != nil {
			f.log.Error(ctx, "loading persisted feed", err)
		}
		return
	}
	f.mu.Lock()
	f.generation = state.Generation
	f.envelopes = Merge(nil, state.Envelopes)
	f.rebuildIndexLocked()
	f.mu.Unlock()
}

// Send constructs a full envelope from the draft, appends it, persists the
// feed and notifies subscribers. The append is visible to this process
// synchronously; other parties converge through reconciliation. The only
// caller-visible failure from persistence is a completely unavailable
// medium; everything else is absorbed behind the degraded indicator.
func (f *Feed) Send(ctx context.Context, draft Draft) (Envelope, error) {
	if draft.Type == "" {
		return Envelope{}, pkgerrors.New(pkgerrors.CodeValidation, "update type required")
	}
	if !draft.Role.IsValid() {
		return Envelope{}, pkgerrors.New(pkgerrors.CodeValidation, "originating role invalid").
			WithDetails(map[string]string{"role": string(draft.Role)})
	}
	if draft.Stage != "" && !draft.Stage.IsValid() {
		return Envelope{}, pkgerrors.New(pkgerrors.CodeValidation, "stage invalid").
			WithDetails(map[string]string{"stage": string(draft.Stage)})
	}

	var payload json.RawMessage
	if draft.Data != nil {
		if raw, ok := draft.Data.(json.RawMessage); ok {
			payload = raw
		} else {
			encoded, err := json.Marshal(draft.Data)
			if err != nil {
				return Envelope{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encoding update payload")
			}
			payload = encoded
		}
	}

	env := Envelope{
		ID:          f.newID(),
		Type:        draft.Type,
		Version:     CurrentPayloadVersion,
		Stage:       draft.Stage,
		Role:        draft.Role,
		Title:       draft.Title,
		Description: draft.Description,
		Data:        payload,
		CreatedAt:   f.now(),
	}

	f.mu.Lock()
	f.envelopes = append(f.envelopes, env)
	f.index[env.ID] = len(f.envelopes) - 1
	f.mu.Unlock()

	err := f.Persist(ctx)
	f.notifier.publish(NoticeFeedChanged)
	return env.clone(), err
}

// SendRequisition runs the multi-append requisition flow: the requisition
// envelope addressed to the opposing conveyancer, then the status update.
// The two appends are deliberately not atomic; a failure partway leaves the
// first one visible, which the domain tolerates.
func (f *Feed) SendRequisition(ctx context.Context, from enums.Role, subject string) ([]Envelope, error) {
	to, ok := from.Counterpart()
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "requisitions flow between conveyancers").
			WithDetails(map[string]string{"role": string(from)})
	}

	requisition, err := f.Send(ctx, Draft{
		Type:        enums.UpdateRequisitionSent,
		Stage:       enums.StageRepliesToRequisitions,
		Role:        from,
		Title:       "Requisition sent",
		Description: subject,
		Data: Requisition{
			RequisitionID: f.newID(),
			Subject:       subject,
			DeliveredTo:   to,
		},
	})
	if err != nil {
		return nil, err
	}

	status, err := f.Send(ctx, Draft{
		Type:  enums.UpdateStatusChanged,
		Stage: enums.StageRepliesToRequisitions,
		Role:  from,
		Title: "Requisitions outstanding",
		Data:  StatusChange{To: "requisitions-outstanding"},
	})
	if err != nil {
		return []Envelope{requisition}, err
	}
	return []Envelope{requisition, status}, nil
}

// MarkRead flips the read flag on the matching envelope and persists. An
// unknown id is a benign no-op: races with reconciliation are expected.
func (f *Feed) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	idx, ok := f.index[id]
	if !ok || f.envelopes[idx].Read {
		f.mu.Unlock()
		return nil
	}
	f.envelopes[idx].Read = true
	f.mu.Unlock()

	err := f.Persist(ctx)
	f.notifier.publish(NoticeFeedChanged)
	return err
}

type query struct {
	stage       enums.Stage
	stageSet    bool
	newestFirst bool
	unreadOnly  bool
}

// QueryOption narrows or reorders UpdatesFor results.
type QueryOption func(*query)

// WithStage keeps only envelopes for the given workflow stage.
func WithStage(stage enums.Stage) QueryOption {
	return func(q *query) {
		q.stage = stage
		q.stageSet = true
	}
}

// NewestFirst reverses the default oldest-first ordering for display.
func NewestFirst() QueryOption {
	return func(q *query) { q.newestFirst = true }
}

// UnreadOnly keeps only envelopes not yet marked read.
func UnreadOnly() QueryOption {
	return func(q *query) { q.unreadOnly = true }
}

// UpdatesFor filters the feed for envelopes relevant to the given role,
// oldest-first unless NewestFirst is requested. The result is recomputed on
// every call so it always reflects the latest reconciled feed.
func (f *Feed) UpdatesFor(role enums.Role, opts ...QueryOption) []Envelope {
	var q query
	for _, opt := range opts {
		opt(&q)
	}

	f.mu.RLock()
	matched := make([]Envelope, 0, len(f.envelopes))
	for _, env := range f.envelopes {
		if q.stageSet && env.Stage != q.stage {
			continue
		}
		if q.unreadOnly && env.Read {
			continue
		}
		if !env.AddressedTo(role) {
			continue
		}
		matched = append(matched, env.clone())
	}
	f.mu.RUnlock()

	if q.newestFirst {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	return matched
}

// UnreadCountFor counts unread envelopes addressed to the role.
func (f *Feed) UnreadCountFor(role enums.Role) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	count := 0
	for _, env := range f.envelopes {
		if !env.Read && env.AddressedTo(role) {
			count++
		}
	}
	return count
}

// Snapshot copies the whole feed, oldest-first.
func (f *Feed) Snapshot() []Envelope {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Envelope, 0, len(f.envelopes))
	for _, env := range f.envelopes {
		out = append(out, env.clone())
	}
	return out
}

// ByID looks up a single envelope.
func (f *Feed) ByID(id string) (Envelope, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	idx, ok := f.index[id]
	if !ok {
		return Envelope{}, false
	}
	return f.envelopes[idx].clone(), true
}

// Degraded reports whether the last persistence write failed; the feed keeps
// serving in-memory state but other parties cannot see its writes.
func (f *Feed) Degraded() bool {
	return f.degraded.Load()
}

// Subscribe registers for feed-changed and reset notices. The returned
// cancel func must be called when the consumer unmounts.
func (f *Feed) Subscribe() (<-chan Notice, func()) {
	return f.notifier.subscribe()
}

// NewID mints an identifier from the feed's id source, so workflow ids and
// envelope ids come from the same sequence in tests.
func (f *Feed) NewID() string {
	return f.newID()
}

// Now reads the feed's clock.
func (f *Feed) Now() time.Time {
	return f.now()
}

// Generation returns the reset generation this feed has converged to.
func (f *Feed) Generation() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.generation
}

// PersistedState is one decoded snapshot of the shared medium.
type PersistedState struct {
	Generation int64
	Envelopes  []Envelope
}

// ReconcileResult describes what a reconciliation pass changed.
type ReconcileResult struct {
	Changed bool
	Reset   bool
	// Adopted counts envelopes taken from the persisted copy.
	Adopted int
	// LocalOnly counts envelopes the persisted copy is missing, typically
	// left over from a degraded write; the caller should re-persist.
	LocalOnly int
}

// Reconcile folds a persisted snapshot into the in-memory feed using the
// deduplicated-union rule. It is idempotent: applying the same snapshot
// twice changes nothing the second time. A snapshot with a newer reset
// generation replaces local state entirely so resets are never undone by a
// union; a snapshot with an older generation predates the reset and is
// ignored.
func (f *Feed) Reconcile(state PersistedState) ReconcileResult {
	f.mu.Lock()

	if state.Generation > f.generation {
		f.generation = state.Generation
		f.envelopes = Merge(nil, state.Envelopes)
		f.rebuildIndexLocked()
		adopted := len(f.envelopes)
		f.mu.Unlock()
		f.notifier.publish(NoticeReset)
		return ReconcileResult{Changed: true, Reset: true, Adopted: adopted}
	}
	if state.Generation < f.generation {
		f.mu.Unlock()
		return ReconcileResult{}
	}

	persistedIDs := make(map[string]struct{}, len(state.Envelopes))
	for _, env := range state.Envelopes {
		persistedIDs[env.ID] = struct{}{}
	}

	merged := Merge(f.envelopes, state.Envelopes)
	result := ReconcileResult{Changed: !equalFeeds(merged, f.envelopes)}
	for _, env := range merged {
		if _, wasLocal := f.index[env.ID]; !wasLocal {
			result.Adopted++
		}
		if _, persisted := persistedIDs[env.ID]; !persisted {
			result.LocalOnly++
		}
	}

	f.envelopes = merged
	f.rebuildIndexLocked()
	f.mu.Unlock()

	if result.Changed {
		f.notifier.publish(NoticeFeedChanged)
	}
	return result
}

// ResetLocal discards all local envelopes and adopts the given generation.
// Used by the reset coordinator after it has cleared the persisted keys.
func (f *Feed) ResetLocal(generation int64) {
	f.mu.Lock()
	f.generation = generation
	f.envelopes = nil
	f.index = make(map[string]int)
	f.mu.Unlock()
	f.notifier.publish(NoticeReset)
}

// Persist mirrors the in-memory feed to the shared medium. Unavailability is
// returned as a typed error; lesser failures are logged and absorbed, since
// losing a local optimistic mirror is not fatal. Either way the degraded
// indicator tracks the outcome.
func (f *Feed) Persist(ctx context.Context) error {
	f.mu.RLock()
	envelopes := f.envelopes
	payload, err := json.Marshal(envelopes)
	f.mu.RUnlock()
	if err != nil {
		f.setDegraded(ctx, true)
		if f.log != nil {
			f.log.Error(ctx, "encoding feed for persistence", err)
		}
		return nil
	}
	if envelopes == nil {
		payload = []byte("[]")
	}

	if err := f.store.Set(ctx, storage.KeyUpdates, payload); err != nil {
		f.setDegraded(ctx, true)
		if errors.Is(err, storage.ErrUnavailable) {
			return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "persisting feed")
		}
		if f.log != nil {
			f.log.Error(ctx, "persisting feed", err)
		}
		return nil
	}
	f.setDegraded(ctx, false)
	return nil
}

// ReadPersisted decodes the shared feed and reset generation. Malformed
// values decode as empty; only an unreachable medium returns an error.
func ReadPersisted(ctx context.Context, store storage.Store, log *logger.Logger) (PersistedState, error) {
	var state PersistedState
	var envelopes []Envelope
	if _, err := storage.GetJSON(ctx, store, storage.KeyUpdates, &envelopes, log); err != nil {
		return PersistedState{}, err
	}
	state.Envelopes = envelopes

	var generation int64
	if _, err := storage.GetJSON(ctx, store, storage.KeyResetGeneration, &generation, log); err != nil {
		return PersistedState{}, err
	}
	state.Generation = generation
	return state, nil
}

func (f *Feed) setDegraded(ctx context.Context, degraded bool) {
	previous := f.degraded.Swap(degraded)
	if degraded && !previous && f.log != nil {
		f.log.Warn(ctx, "feed entering degraded mode; writes stay local")
	}
}

func (f *Feed) rebuildIndexLocked() {
	f.index = make(map[string]int, len(f.envelopes))
	for i, env := range f.envelopes {
		f.index[env.ID] = i
	}
}
