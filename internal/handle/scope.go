package handle

import (
	"context"
	"errors"
	"sync"

	"rsbridge/internal/errs"
)

// ErrScopeClosed is returned when a handle is added to a closed scope.
var ErrScopeClosed = errors.New("scope closed")

// Scope releases the handles it tracks, last tracked first, when closed.
type Scope struct {
	m       *Manager
	mu      sync.Mutex
	handles []*Handle
	closed  bool
}

// NewScope returns an empty scope.
func (m *Manager) NewScope() *Scope { return &Scope{m: m} }

// Track adds h to the scope. Tracking into a closed scope releases h and
// reports ErrScopeClosed.
func (s *Scope) Track(ctx context.Context, h *Handle) (*Handle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.Join(ErrScopeClosed, s.m.Release(ctx, h))
	}
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return h, nil
}

func (s *Scope) track(ctx context.Context, h *Handle, err error) (*Handle, error) {
	if err != nil {
		return nil, err
	}
	return s.Track(ctx, h)
}

// Acquire is Manager.Acquire tracked by the scope.
func (s *Scope) Acquire(ctx context.Context, kind Kind, addr uintptr, elem string) (*Handle, error) {
	h, err := s.m.Acquire(kind, addr, elem)
	return s.track(ctx, h, err)
}

// New is Manager.New tracked by the scope.
func (s *Scope) New(ctx context.Context, kind Kind, elem string, value any) (*Handle, error) {
	h, err := s.m.New(ctx, kind, elem, value)
	return s.track(ctx, h, err)
}

// NewVec is Manager.NewVec tracked by the scope.
func (s *Scope) NewVec(ctx context.Context, elem string, values any) (*Handle, error) {
	h, err := s.m.NewVec(ctx, elem, values)
	return s.track(ctx, h, err)
}

// Share is Manager.Share tracked by the scope.
func (s *Scope) Share(ctx context.Context, h *Handle) (*Handle, error) {
	c, err := s.m.Share(ctx, h)
	return s.track(ctx, c, err)
}

// Len returns the number of tracked handles.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Close releases every tracked handle in reverse order. It is idempotent.
func (s *Scope) Close(ctx context.Context) error {
	s.mu.Lock()
	hs := s.handles
	s.handles = nil
	s.closed = true
	s.mu.Unlock()

	var errList []error
	for i := len(hs) - 1; i >= 0; i-- {
		if err := s.m.Release(ctx, hs[i]); err != nil {
			errList = append(errList, err)
		}
	}
	if len(errList) > 0 {
		return &errs.HandleError{Type: "scope", Op: "close", Err: errors.Join(errList...)}
	}
	return nil
}
