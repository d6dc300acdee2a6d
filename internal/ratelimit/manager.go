package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/wudi/gateway/internal/errors"
)

// Manager owns the gateway's two named limiters and applies whichever one a
// route selects.
type Manager struct {
	global *Limiter
	public *Limiter
}

// NewManager builds the global and public limiters.
func NewManager() *Manager {
	return &Manager{
		global: NewLimiter(Global),
		public: NewLimiter(Public),
	}
}

// Close closes both limiters; neither runs a background goroutine.
func (m *Manager) Close() {
	m.global.Close()
	m.public.Close()
}

// For returns the named limiter for a route: public for routes explicitly
// marked public, global otherwise (spec §4.6).
func (m *Manager) For(public bool) *Limiter {
	if public {
		return m.public
	}
	return m.global
}

// Admit applies the selected policy to r, writing a 429 with Retry-After on
// rejection or context cancellation. It returns true if the request may
// proceed.
func (m *Manager) Admit(w http.ResponseWriter, r *http.Request, public bool) bool {
	limiter := m.For(public)
	err := limiter.Admit(r.Context())
	if err == nil {
		return true
	}

	retryAfter := limiter.RetryAfter()
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	errors.ErrTooManyRequests.WriteJSON(w)
	return false
}
