// Package router implements the Command Router: it loads a bill entity by
// replaying (or reusing a cached copy of) its event stream, applies a
// command to it, and appends the resulting events. It never calls the blob
// store, the OCR service, or the notification adapter — those belong to the
// reactive handlers, which themselves come back through this Router to
// apply their own follow-up commands.
package router

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/billcore/billing"
	"github.com/evalgo/billcore/common"
	"github.com/evalgo/billcore/eventlog"
)

// Kind classifies a Router failure for the caller.
type Kind string

const (
	KindBusinessRuleViolation Kind = "BusinessRuleViolation"
	KindNotFound              Kind = "NotFound"
	KindConcurrencyConflict   Kind = "ConcurrencyConflict"
	KindCancelled             Kind = "Cancelled"
	KindTransientFailure      Kind = "TransientFailure"
	KindInternalError         Kind = "InternalError"
)

// Error is the typed error the Router and (downstream) the query service
// surface to callers, per the error taxonomy.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
}

func (e *Error) Error() string { return e.Kind.string() + ": " + e.Message }

func (k Kind) string() string { return string(k) }

func businessRuleError(err *billing.ViolationError) *Error {
	return &Error{Kind: KindBusinessRuleViolation, Reason: string(err.Reason), Message: err.Message}
}

// Result is returned on a successful Dispatch.
type Result struct {
	BillID       string
	NextSequence int
	State        billing.State
}

type cacheEntry struct {
	id    string
	state billing.State
}

// Router is the Command Router. Construct one per process; it is safe for
// concurrent use by many command callers.
type Router struct {
	log        *eventlog.Store
	limits     billing.Limits
	clock      func() time.Time
	maxRetries int

	mu       sync.RWMutex
	cache    map[string]*list.Element // id -> element in lru, Value is cacheEntry
	lru      *list.List               // front = most recently used
	maxCache int                      // 0 = unbounded (router.cacheSize, §6)
	locks    map[string]*sync.Mutex
	poisoned map[string]bool

	logger *common.ContextLogger
}

// New constructs a Router. maxRetries bounds how many times a
// ConcurrencyConflict is retried before it is surfaced to the caller
// (§4.3, default 3, configured via router.retryOnConflict). The in-memory
// entity cache is unbounded until SetMaxCacheEntries is called.
func New(log *eventlog.Store, limits billing.Limits, maxRetries int, logger *common.ContextLogger) *Router {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if logger == nil {
		logger = common.NewContextLogger(nil, map[string]interface{}{"component": "router"})
	}
	return &Router{
		log:        log,
		limits:     limits,
		clock:      time.Now,
		maxRetries: maxRetries,
		cache:      make(map[string]*list.Element),
		lru:        list.New(),
		locks:      make(map[string]*sync.Mutex),
		poisoned:   make(map[string]bool),
		logger:     logger,
	}
}

// SetMaxCacheEntries bounds the number of hot entity states the Router keeps
// in memory (router.cacheSize, §6). Evicting a cold entry only drops the
// cached fold; the next command against it pays a full ReadEntity replay.
// n <= 0 leaves the cache unbounded.
func (r *Router) SetMaxCacheEntries(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxCache = n
	r.evictLocked()
}

// Dispatch applies cmd to the entity it addresses and, on success, appends
// the resulting events. At most one command per entity id is in flight at a
// time.
func (r *Router) Dispatch(ctx context.Context, cmd billing.Command) (Result, error) {
	cmd = assignIDs(cmd)
	id := cmd.BillID()

	if r.isPoisoned(id) {
		return Result{}, &Error{Kind: KindInternalError, Message: "entity " + id + " is poisoned; operator intervention required"}
	}

	lock := r.entityLock(id)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		state, err := r.loadState(ctx, id)
		if err != nil {
			return Result{}, err
		}

		events, err := billing.Apply(cmd, state, r.limits, r.clock())
		if err != nil {
			var vErr *billing.ViolationError
			if errors.As(err, &vErr) {
				return Result{}, businessRuleError(vErr)
			}
			return Result{}, &Error{Kind: KindInternalError, Message: err.Error()}
		}

		newEvents := make([]eventlog.NewEvent, len(events))
		for i, e := range events {
			payload, encErr := encodePayload(e.Kind, e.Payload)
			if encErr != nil {
				r.poison(id)
				return Result{}, &Error{Kind: KindInternalError, Message: encErr.Error()}
			}
			newEvents[i] = eventlog.NewEvent{Kind: string(e.Kind), Payload: payload, Timestamp: e.Timestamp}
		}

		positions, err := r.log.Append(ctx, id, state.NextSequence, newEvents)
		if err != nil {
			if errors.Is(err, eventlog.ErrConcurrencyConflict) {
				r.invalidate(id)
				continue
			}
			if errors.Is(err, eventlog.ErrStorageUnavailable) {
				return Result{}, &Error{Kind: KindTransientFailure, Message: err.Error()}
			}
			r.poison(id)
			return Result{}, &Error{Kind: KindInternalError, Message: err.Error()}
		}

		newState := state
		for i, e := range events {
			e.Position = positions[i]
			newState = billing.Fold(newState, e)
		}
		r.store(id, newState)

		return Result{BillID: id, NextSequence: newState.NextSequence, State: newState}, nil
	}

	return Result{}, &Error{Kind: KindConcurrencyConflict, Message: "exceeded retry budget for " + id}
}

// assignIDs mints a bill id (CreateBill) or file id (AttachFile) when the
// caller left it blank, per the spec's "caller-supplied or router-generated"
// bill id and "unique within the bill" file id (§3). Every other command
// addresses an id the caller must already know, so it passes through
// unchanged.
func assignIDs(cmd billing.Command) billing.Command {
	switch c := cmd.(type) {
	case billing.CreateBill:
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		return c
	case billing.AttachFile:
		if c.FileID == "" {
			c.FileID = uuid.NewString()
		}
		return c
	default:
		return cmd
	}
}

// State returns the Router's best current view of an entity, used by
// reactive handlers that must consult authoritative state rather than a
// possibly-lagging projection (Open Question 4).
func (r *Router) State(ctx context.Context, id string) (billing.State, error) {
	return r.loadState(ctx, id)
}

func (r *Router) loadState(ctx context.Context, id string) (billing.State, error) {
	r.mu.Lock()
	elem, ok := r.cache[id]
	if ok {
		r.lru.MoveToFront(elem)
	}
	r.mu.Unlock()
	if ok {
		return elem.Value.(cacheEntry).state, nil
	}

	events, err := r.log.ReadEntity(ctx, id, 0)
	if err != nil {
		if errors.Is(err, eventlog.ErrStorageUnavailable) {
			return billing.State{}, &Error{Kind: KindTransientFailure, Message: err.Error()}
		}
		return billing.State{}, &Error{Kind: KindInternalError, Message: err.Error()}
	}

	state := billing.State{}
	for _, re := range events {
		payload, decErr := decodePayload(billing.Kind(re.Kind), re.Payload)
		if decErr != nil {
			r.poison(id)
			return billing.State{}, &Error{Kind: KindInternalError, Message: decErr.Error()}
		}
		state = billing.Fold(state, billing.Event{
			EntityID:  re.EntityID,
			Sequence:  re.Sequence,
			Position:  re.Position,
			Kind:      billing.Kind(re.Kind),
			Payload:   payload,
			Timestamp: re.Timestamp,
		})
	}

	r.store(id, state)
	return state, nil
}

func (r *Router) store(id string, state billing.State) {
	r.mu.Lock()
	if elem, ok := r.cache[id]; ok {
		elem.Value = cacheEntry{id: id, state: state}
		r.lru.MoveToFront(elem)
	} else {
		r.cache[id] = r.lru.PushFront(cacheEntry{id: id, state: state})
	}
	r.evictLocked()
	r.mu.Unlock()
}

func (r *Router) invalidate(id string) {
	r.mu.Lock()
	r.removeLocked(id)
	r.mu.Unlock()
}

func (r *Router) poison(id string) {
	r.mu.Lock()
	r.poisoned[id] = true
	r.removeLocked(id)
	r.mu.Unlock()
	r.logger.WithField("bill_id", id).Error("entity poisoned after internal error")
}

// evictLocked drops the least-recently-used cache entries until the cache
// is within maxCache. Callers must hold r.mu.
func (r *Router) evictLocked() {
	if r.maxCache <= 0 {
		return
	}
	for len(r.cache) > r.maxCache {
		oldest := r.lru.Back()
		if oldest == nil {
			return
		}
		r.removeElemLocked(oldest)
	}
}

func (r *Router) removeLocked(id string) {
	if elem, ok := r.cache[id]; ok {
		r.removeElemLocked(elem)
	}
}

func (r *Router) removeElemLocked(elem *list.Element) {
	entry := elem.Value.(cacheEntry)
	delete(r.cache, entry.id)
	r.lru.Remove(elem)
}

func (r *Router) isPoisoned(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.poisoned[id]
}

func (r *Router) entityLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}
