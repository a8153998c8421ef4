package selfheal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nexus-retail/opsplane/infrastructure/errors"
	"github.com/nexus-retail/opsplane/storage"
)

const (
	// DefaultTTL is the idempotency key lifetime, per spec 4.2.
	DefaultTTL = 24 * time.Hour

	waitPollInterval = 500 * time.Millisecond

	// MaxWait bounds the in-flight waiter. The source loops on the TTL
	// alone; this implements the decided open question (spec section 9)
	// of adding an explicit upper bound and a distinct busy failure.
	MaxWait = 30 * time.Second
)

// Result is what Execute returns for a request keyed by an idempotency key.
type Result struct {
	StatusCode int
	Body       string
	Cached     bool
}

// Idempotency wraps storage.IdempotencyRepo with the execute/lock/wait
// protocol described in spec section 4.2.
type Idempotency struct {
	repo *storage.IdempotencyRepo
	now  func() time.Time
}

// NewIdempotency constructs the registry over repo, using time.Now for
// the now() source.
func NewIdempotency(repo *storage.IdempotencyRepo) *Idempotency {
	return &Idempotency{repo: repo, now: time.Now}
}

// Execute runs fn at most once per live key. Concurrent callers sharing a
// key either run fn themselves (winner of the insert race) or block until
// the winner finishes and then receive the cached result. A caller that
// waits longer than MaxWait gets errors.IdempotencyBusy instead of
// blocking forever.
func (idp *Idempotency) Execute(ctx context.Context, key string, ttl time.Duration, fn func() (statusCode int, body string, err error)) (Result, error) {
	deadline := idp.now().Add(MaxWait)

	for {
		now := idp.now()
		rec, err := idp.repo.Lookup(ctx, key, now)
		if err != nil {
			return Result{}, err
		}

		if rec != nil && !rec.Locked {
			body := ""
			if rec.ResponseBody != nil {
				body = *rec.ResponseBody
			}
			status := 0
			if rec.StatusCode != nil {
				status = *rec.StatusCode
			}
			return Result{StatusCode: status, Body: body, Cached: true}, nil
		}

		if rec != nil && rec.Locked {
			if idp.now().After(deadline) {
				return Result{}, errors.IdempotencyBusy(key)
			}
			select {
			case <-time.After(waitPollInterval):
				continue
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}

		claimed, err := idp.repo.TryInsertLocked(ctx, key, ttl, now)
		if err != nil {
			return Result{}, err
		}
		if !claimed {
			continue // lost the insert race; restart at lookup
		}

		status, body, fnErr := fn()
		if fnErr != nil {
			_ = idp.repo.Release(ctx, key)
			return Result{}, fnErr
		}
		if err := idp.repo.Complete(ctx, key, status, body); err != nil {
			return Result{}, err
		}
		return Result{StatusCode: status, Body: body, Cached: false}, nil
	}
}

// GC deletes expired idempotency rows. Run on the idempotency-cleanup
// cadence by the scheduler.
func (idp *Idempotency) GC(ctx context.Context) (int64, error) {
	return idp.repo.GC(ctx, idp.now())
}

// DuplicateKey builds the dup:<businessKey>:<ts> marker key used by the
// duplicate-transaction detection façade.
func DuplicateKey(businessKey string, at time.Time) string {
	return "dup:" + businessKey + ":" + at.Format(time.RFC3339Nano)
}

// IsDuplicate reports whether any dup:<businessKey>:* marker was recorded
// within window, and records the current attempt regardless.
func (idp *Idempotency) IsDuplicate(ctx context.Context, businessKey string, window time.Duration) (bool, error) {
	now := idp.now()
	prefix := "dup:" + businessKey + ":"
	exists, err := idp.repo.DuplicateExists(ctx, prefix, now)
	if err != nil {
		return false, err
	}
	if err := idp.repo.MarkDuplicateSeen(ctx, DuplicateKey(businessKey, now), window, now); err != nil {
		return exists, err
	}
	return exists, nil
}

// MarshalJSON is a convenience for handlers storing arbitrary response
// bodies as the idempotency record's response_body column.
func MarshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
