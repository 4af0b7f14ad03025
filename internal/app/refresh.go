package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"chtbtr/internal/eventbus"
	logx "chtbtr/pkg/logx"
)

type authenticator interface {
	Authenticate(ctx context.Context) error
}

// tokenRefresher renews the chat access token on a cron schedule. A failed
// renewal keeps the previous token.
type tokenRefresher struct {
	log     logx.Logger
	auth    authenticator
	bus     eventbus.Bus
	timeout time.Duration
	spec    string

	mu      sync.Mutex
	c       *cron.Cron
	ctx     context.Context
	running bool

	runs, failures atomic.Uint64
	lastErr        atomic.Pointer[string]
}

// RefreshStats is the token refresh part of /health.
type RefreshStats struct {
	Schedule string    `json:"schedule,omitempty"`
	Runs     uint64    `json:"runs"`
	Failures uint64    `json:"failures"`
	LastErr  string    `json:"last_err,omitempty"`
	Next     time.Time `json:"next,omitzero"`
}

// newTokenRefresher returns a refresher that does nothing for an empty spec.
func newTokenRefresher(spec string, timeout time.Duration, auth authenticator, bus eventbus.Bus, log logx.Logger) (*tokenRefresher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := &tokenRefresher{log: log, auth: auth, bus: bus, timeout: timeout, spec: strings.TrimSpace(spec), ctx: context.Background()}
	if r.spec == "" {
		return r, nil
	}

	cl := cronLogger{log: log}
	r.c = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := r.c.AddFunc(r.spec, r.run); err != nil {
		return nil, fmt.Errorf("chat.token_refresh: %w", err)
	}
	return r, nil
}

func (r *tokenRefresher) Start(ctx context.Context) {
	if r.c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.ctx = ctx
	r.running = true
	r.c.Start()
	r.log.Info("token refresh scheduled", logx.String("schedule", r.spec))
}

// Stop halts the schedule and waits for a running refresh or ctx.
func (r *tokenRefresher) Stop(ctx context.Context) {
	if r.c == nil {
		return
	}
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	select {
	case <-r.c.Stop().Done():
	case <-ctx.Done():
	}
}

func (r *tokenRefresher) run() {
	r.mu.Lock()
	base := r.ctx
	r.mu.Unlock()
	if base.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(base, r.timeout)
	defer cancel()

	r.runs.Add(1)
	start := time.Now()
	if err := r.auth.Authenticate(ctx); err != nil {
		r.failures.Add(1)
		msg := err.Error()
		r.lastErr.Store(&msg)
		r.log.Warn("chat token refresh failed; keeping previous token", logx.Err(err))
		return
	}
	r.lastErr.Store(nil)
	r.log.Debug("chat token refreshed", logx.Duration("took", time.Since(start)))
	r.bus.Publish(eventbus.Event{Type: eventbus.TokenRefreshed, Time: time.Now()})
}

func (r *tokenRefresher) Stats() RefreshStats {
	st := RefreshStats{
		Schedule: r.spec,
		Runs:     r.runs.Load(),
		Failures: r.failures.Load(),
	}
	if p := r.lastErr.Load(); p != nil {
		st.LastErr = *p
	}
	if r.c != nil {
		if es := r.c.Entries(); len(es) > 0 {
			st.Next = es[0].Next
		}
	}
	return st
}

// cronLogger routes cron's internal logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
