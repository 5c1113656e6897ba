package auth

import (
	"context"
	"sync"
)

// RedirectRecorder is a Navigator that records the requested target
// instead of performing it. Server side adapters use it to turn a
// navigation into an HTTP redirect once the pipeline returns.
type RedirectRecorder struct {
	mu      sync.Mutex
	current string
	target  string
	count   int
}

// NewRedirectRecorder returns a recorder for a navigation to currentPath.
func NewRedirectRecorder(currentPath string) *RedirectRecorder {
	return &RedirectRecorder{current: currentPath}
}

// CurrentPath implements Navigator.
func (r *RedirectRecorder) CurrentPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Navigate implements Navigator. The last target wins.
func (r *RedirectRecorder) Navigate(_ context.Context, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = target
	r.count++
	return nil
}

// Target returns the last navigation target and whether one was requested.
func (r *RedirectRecorder) Target() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target, r.count > 0
}

// Count returns the number of navigations requested.
func (r *RedirectRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func navigate(ctx context.Context, logger Logger, target string) {
	nav, ok := NavigatorFromContext(ctx)
	if !ok {
		logger.Warn("navigation requested without navigator", "target", target)
		return
	}
	if err := nav.Navigate(ctx, target); err != nil {
		logger.Error("navigation failed", "target", target, "error", err)
	}
}
