package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/overwatch/internal/entity"
	"github.com/linnemanlabs/overwatch/internal/hub"
)

var tracer = otel.Tracer("github.com/linnemanlabs/overwatch/internal/review")

// Lock contention is retried internally before ErrConflictRetry is
// surfaced; a committed transition holds its lock for well under the
// combined budget.
const (
	lockAttempts   = 20
	lockRetryDelay = 5 * time.Millisecond
)

// Publisher receives the single change event emitted per committed
// transition. *hub.Hub satisfies it.
type Publisher interface {
	Publish(ev hub.Event)
}

// EngineHooks are optional instrumentation callbacks; nil members are
// skipped.
type EngineHooks struct {
	OnTransition     func(entityType, transition, outcome string, seconds float64)
	OnLockRetry      func()
	OnEventPublished func(eventType string)
}

// Engine executes transitions transactionally: validate, commit, stamp
// the audit trail, and emit exactly one change event. Two concurrent
// requests against the same entity id never interleave their
// read-modify-write; distinct ids proceed fully in parallel.
type Engine struct {
	store  Store
	pub    Publisher
	logger log.Logger
	hooks  EngineHooks
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates an Engine. The publisher may be nil, in which case
// committed transitions are not broadcast.
func NewEngine(store Store, pub Publisher, logger log.Logger, hooks EngineHooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		store:  store,
		pub:    pub,
		logger: logger,
		hooks:  hooks,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Apply validates and commits a transition. On failure the store is
// untouched and no event is emitted; on success the result carries the
// full authoritative state.
func (e *Engine) Apply(ctx context.Context, req *TransitionRequest) (*TransitionResult, error) {
	start := e.now()

	ctx, span := tracer.Start(ctx, "review.apply",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("overwatch.entity_type", string(req.Ref.Type)),
			attribute.String("overwatch.entity_id", req.Ref.ID),
			attribute.String("overwatch.transition", string(req.Transition)),
			attribute.String("overwatch.caller_role", string(req.CallerRole)),
		),
	)
	defer span.End()

	res, err := e.apply(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Kind(err))
	} else {
		span.SetAttributes(attribute.String("overwatch.resulting_status", res.ResultingStatus))
	}

	if e.hooks.OnTransition != nil {
		outcome := "ok"
		if err != nil {
			outcome = Kind(err)
		}
		e.hooks.OnTransition(string(req.Ref.Type), string(req.Transition), outcome, time.Since(start).Seconds())
	}
	return res, err
}

func (e *Engine) apply(ctx context.Context, req *TransitionRequest) (*TransitionResult, error) {
	if req.Ref.ID == "" {
		return nil, fmt.Errorf("%w: empty entity id", ErrValidation)
	}

	lock, err := e.acquire(ctx, req.Ref.Key())
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	rec, ok, err := e.store.Get(ctx, req.Ref)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", req.Ref.Key(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.Ref.Key())
	}

	now := e.now().UTC()
	out, err := e.validate(rec, req, now)
	if err != nil {
		return nil, err
	}

	var data json.RawMessage
	if out.deleted {
		if err := e.store.Delete(ctx, req.Ref); err != nil {
			return nil, fmt.Errorf("delete %s: %w", req.Ref.Key(), err)
		}
		data, _ = json.Marshal(map[string]string{"id": req.Ref.ID})
	} else {
		data, err = json.Marshal(out.state)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", req.Ref.Key(), err)
		}
		if err := e.store.Put(ctx, &Record{Ref: req.Ref, Data: data, UpdatedAt: now}); err != nil {
			return nil, fmt.Errorf("commit %s: %w", req.Ref.Key(), err)
		}
	}

	audit := &AuditRecord{
		ID:              ulid.Make().String(),
		EntityID:        req.Ref.ID,
		EntityType:      req.Ref.Type,
		Transition:      req.Transition,
		CallerID:        req.CallerID,
		CallerRole:      req.CallerRole,
		ResultingStatus: out.status,
		Timestamp:       now,
	}
	if err := e.store.AppendAudit(ctx, audit); err != nil {
		// The state change committed; a lost audit row is reported, not
		// rolled back.
		e.logger.Error(ctx, err, "audit append failed",
			"entity", req.Ref.Key(),
			"transition", req.Transition,
		)
	}

	e.publish(out, req.Ref.ID, data, now)

	e.logger.Info(ctx, "transition applied",
		"entity", req.Ref.Key(),
		"transition", req.Transition,
		"caller_id", req.CallerID,
		"caller_role", req.CallerRole,
		"resulting_status", out.status,
	)

	return &TransitionResult{
		Ref:             req.Ref,
		ResultingStatus: out.status,
		State:           data,
		Deleted:         out.deleted,
	}, nil
}

func (e *Engine) validate(rec *Record, req *TransitionRequest, now time.Time) (*outcome, error) {
	switch req.Ref.Type {
	case entity.TypeMilestone:
		var m entity.Milestone
		if err := json.Unmarshal(rec.Data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", req.Ref.Key(), err)
		}
		return applyMilestone(&m, req, now)
	case entity.TypeEvidence:
		var p entity.EvidencePackage
		if err := json.Unmarshal(rec.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", req.Ref.Key(), err)
		}
		return applyEvidence(&p, req, now)
	case entity.TypeIncident:
		var in entity.Incident
		if err := json.Unmarshal(rec.Data, &in); err != nil {
			return nil, fmt.Errorf("decode %s: %w", req.Ref.Key(), err)
		}
		return applyIncident(&in, req, now)
	case entity.TypeAlert:
		var a entity.Alert
		if err := json.Unmarshal(rec.Data, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", req.Ref.Key(), err)
		}
		return applyAlert(&a, req, now)
	default:
		return nil, fmt.Errorf("%w: no transitions for %s", ErrInvalidTransition, req.Ref.Type)
	}
}

// publish emits the single change event for a committed transition.
func (e *Engine) publish(out *outcome, entityID string, payload json.RawMessage, now time.Time) {
	if e.pub == nil {
		return
	}
	e.pub.Publish(hub.Event{
		Type:       out.eventType,
		Channel:    out.channel,
		EntityID:   entityID,
		Payload:    payload,
		ServerTime: now,
	})
	if e.hooks.OnEventPublished != nil {
		e.hooks.OnEventPublished(out.eventType)
	}
}

// acquire takes the per-entity lock, retrying briefly under contention.
func (e *Engine) acquire(ctx context.Context, key string) (*sync.Mutex, error) {
	e.mu.Lock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	e.mu.Unlock()

	for attempt := 0; attempt < lockAttempts; attempt++ {
		if lock.TryLock() {
			return lock, nil
		}
		if e.hooks.OnLockRetry != nil {
			e.hooks.OnLockRetry()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	return nil, fmt.Errorf("%w: entity %s", ErrConflictRetry, key)
}

// Kind classifies an error by its taxonomy sentinel, for metrics labels
// and API error strings.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrIntegrityViolation):
		return "integrity_violation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflictRetry):
		return "conflict_retry"
	default:
		return "internal"
	}
}
