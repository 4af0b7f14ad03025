// Package dispatch delivers accepted notifications in the background.
//
// Dispatch enqueues and returns at once; a worker pool sends through the
// chat client under a shared rate limit. Failures are logged, published on
// the event bus and written to the delivery audit. They never reach the
// trigger's caller.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"chtbtr/internal/domain"
	"chtbtr/internal/eventbus"
	rtsup "chtbtr/internal/runtime/supervisor"
	"chtbtr/internal/storage"
	logx "chtbtr/pkg/logx"
)

var (
	ErrQueueFull = errors.New("dispatch queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

// Sender delivers a text to one chat profile.
type Sender interface {
	Send(ctx context.Context, to domain.ProfileID, text string) error
}

// Auditor records delivery outcomes. Errors are logged only.
type Auditor interface {
	AppendAudit(ctx context.Context, rec storage.DeliveryRecord) error
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	audit  Auditor
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	enqWG     sync.WaitGroup
	queue     chan Delivery
	sup       *rtsup.Supervisor
	stopDone  chan struct{}

	dmu   sync.Mutex
	dedup map[uint64]time.Time

	queued, sent, failed, dropped, deduped atomic.Uint64
}

func New(cfg Config, sender Sender, audit Auditor, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		log:    log,
		sender: sender,
		audit:  audit,
		bus:    bus,
		dedup:  map[uint64]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

// Apply updates rate, retry and dedup settings. Worker count and queue size
// take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	cfg.RetryMax = max(0, cfg.RetryMax)
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	cfg.DedupWindow = max(0, cfg.DedupWindow)
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan Delivery, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	sup, q, workers := s.sup, s.queue, s.cfg.Workers
	s.mu.Unlock()

	for i := range workers {
		sup.GoRestart(fmt.Sprintf("dispatch.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("queue", cap(q)))
}

// Stop closes intake and lets workers drain the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.enqWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
		s.log.Info("dispatcher stopped", logx.Int("undelivered", len(q)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Dispatch enqueues d without waiting for delivery.
func (s *Service) Dispatch(ctx context.Context, d Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window, maxEntries := s.cfg.DedupWindow, s.cfg.DedupMaxEntries
	s.enqWG.Add(1)
	s.mu.Unlock()
	defer s.enqWG.Done()

	if window > 0 && !s.dedupAllow(dedupKey(d), window, maxEntries) {
		s.deduped.Add(1)
		s.publish(eventbus.DispatchDeduped, d, nil)
		s.log.Debug("duplicate notification suppressed", logx.String("username", string(d.Username)))
		return nil
	}

	select {
	case q <- d:
		s.queued.Add(1)
		s.publish(eventbus.DispatchQueued, d, nil)
		return nil
	default:
		s.dropped.Add(1)
		s.publish(eventbus.DispatchDropped, d, ErrQueueFull)
		s.log.Warn("notification dropped", logx.String("username", string(d.Username)), logx.Err(ErrQueueFull))
		s.record(d, "dropped", 0, ErrQueueFull, 0)
		return ErrQueueFull
	}
}

func (s *Service) Stats() Stats {
	st := Stats{
		Queued:  s.queued.Load(),
		Sent:    s.sent.Load(),
		Failed:  s.failed.Load(),
		Dropped: s.dropped.Load(),
		Deduped: s.deduped.Load(),
	}
	s.mu.Lock()
	if s.queue != nil {
		st.Pending = len(s.queue)
	}
	s.mu.Unlock()
	return st
}

// Supervisor exposes worker state for /health; nil when stopped.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, d)
		}
	}
}

func (s *Service) deliver(ctx context.Context, d Delivery) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	started := time.Now()
	attempts := 1 + cfg.RetryMax
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if werr := lim.Wait(ctx); werr != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err = s.sender.Send(callCtx, d.To, d.Text)
		cancel()
		if err == nil {
			s.sent.Add(1)
			s.publish(eventbus.DispatchSent, d, nil)
			s.log.Debug("notification sent", logx.String("username", string(d.Username)), logx.Stringer("to", d.To), logx.Int("attempt", attempt))
			s.record(d, "sent", attempt, nil, time.Since(started))
			return
		}
		if attempt == attempts {
			break
		}
		s.log.Debug("notification send failed, retrying", logx.Err(err), logx.Int("attempt", attempt))
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.failed.Add(1)
	s.publish(eventbus.DispatchFailed, d, err)
	s.log.Error("notification delivery failed", logx.String("username", string(d.Username)), logx.Stringer("to", d.To), logx.String("trigger", string(d.Trigger)), logx.Int("attempts", attempts), logx.Err(err))
	s.record(d, "failed", attempts, err, time.Since(started))
}

func (s *Service) publish(typ string, d Delivery, err error) {
	ev := DeliveryEvent{Trigger: d.Trigger, Username: d.Username, To: d.To.String(), At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

func (s *Service) record(d Delivery, outcome string, attempts int, err error, took time.Duration) {
	if s.audit == nil {
		return
	}
	rec := storage.DeliveryRecord{
		At:        time.Now().UTC(),
		Trigger:   string(d.Trigger),
		Username:  d.Username,
		ProfileID: d.To,
		Outcome:   outcome,
		Attempts:  attempts,
		TookMS:    took.Milliseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if aerr := s.audit.AppendAudit(ctx, rec); aerr != nil {
		s.log.Warn("delivery audit write failed", logx.Err(aerr))
	}
}

func dedupKey(d Delivery) uint64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%d|", uint32(d.To))
	_, _ = h.Write([]byte(d.Text))
	return h.Sum64()
}

// dedupAllow reports whether key is outside its suppression window and, if
// so, opens a new window.
func (s *Service) dedupAllow(key uint64, window time.Duration, maxEntries int) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()

	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) >= maxEntries {
		var (
			oldest  uint64
			oldestT time.Time
			set     bool
		)
		for k, t := range s.dedup {
			if !set || t.Before(oldestT) {
				oldest, oldestT, set = k, t, true
			}
		}
		delete(s.dedup, oldest)
	}
	s.dedup[key] = now.Add(window)
	return true
}

// retryDelay is base * 2^(attempt-1), capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(min(d, cfg.RetryMaxDelay)) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
