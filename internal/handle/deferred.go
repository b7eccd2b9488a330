package handle

import (
	"context"
	"sync"

	"rsbridge/internal/abi"
)

// Deferred is a release that could not be performed immediately.
type Deferred struct {
	Kind     Kind
	Elem     *abi.Type
	Addr     uintptr
	Vec      abi.VecValue
	Symbol   string
	Attempts int
	Err      error // last failure
}

type queue struct {
	mu     sync.Mutex
	items  []Deferred
	failed []Deferred
	max    int
}

func (q *queue) push(d Deferred) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.max {
		return false
	}
	q.items = append(q.items, d)
	return true
}

func (q *queue) take() []Deferred {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns the number of queued releases of kind.
func (m *Manager) Pending(kind Kind) int {
	q, ok := m.queues[kind]
	if !ok {
		return 0
	}
	return q.len()
}

// Failed returns releases that exhausted their attempts.
func (m *Manager) Failed() []Deferred {
	var out []Deferred
	for k := range kindNames {
		q := m.queues[Kind(k)]
		q.mu.Lock()
		out = append(out, q.failed...)
		q.mu.Unlock()
	}
	return out
}

// Flush retries every queued release. It returns how many succeeded.
// Releases failing MaxAttempts times move to Failed.
func (m *Manager) Flush(ctx context.Context) (int, error) {
	done := 0
	for k := range kindNames {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		done += m.flushKind(ctx, Kind(k))
	}
	return done, nil
}

func (m *Manager) flushKind(ctx context.Context, kind Kind) int {
	q := m.queues[kind]
	items := q.take()
	done := 0
	var retry, failed []Deferred
	for _, item := range items {
		sym, sig, args := m.dropCall(item)
		_, err := m.natives.CallSig(ctx, sym, sig, args)
		if err == nil {
			done++
			continue
		}
		item.Attempts++
		item.Err = err
		if item.Attempts >= m.opts.MaxAttempts {
			m.log.Error("handle release failed permanently", "type", TypeName(item.Kind, item.Elem), "attempts", item.Attempts, "err", err)
			failed = append(failed, item)
			continue
		}
		retry = append(retry, item)
	}
	q.mu.Lock()
	q.items = append(retry, q.items...)
	q.failed = append(q.failed, failed...)
	q.mu.Unlock()
	return done
}
