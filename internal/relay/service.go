// Package relay turns review triggers into chat notifications.
//
// For each trigger the addressee's chat identity and settings are looked up
// concurrently, the matching rule runs, and an accepted notification is
// composed and handed to the dispatcher without waiting for delivery.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"chtbtr/internal/compose"
	"chtbtr/internal/dispatch"
	"chtbtr/internal/domain"
	"chtbtr/internal/rules"
	logx "chtbtr/pkg/logx"
)

type IdentityResolver interface {
	Resolve(ctx context.Context, username domain.Username, displayName string) (domain.ProfileID, bool, error)
}

type SettingsProvider interface {
	OwnerSettings(ctx context.Context, username domain.Username) (domain.OwnerSettings, error)
	ReviewerSettings(ctx context.Context, username domain.Username) (domain.ReviewerSettings, error)
}

// Dispatcher enqueues a delivery and returns without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, d dispatch.Delivery) error
}

type Service struct {
	log      logx.Logger
	ids      IdentityResolver
	settings SettingsProvider
	composer compose.Composer
	out      Dispatcher

	accepted, rejected, unsupported, failed atomic.Uint64
}

func New(ids IdentityResolver, settings SettingsProvider, composer compose.Composer, out Dispatcher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, ids: ids, settings: settings, composer: composer, out: out}
}

// Stats counts trigger outcomes since start.
type Stats struct {
	Accepted    uint64 `json:"accepted"`
	Rejected    uint64 `json:"rejected"`
	Unsupported uint64 `json:"unsupported"`
	Failed      uint64 `json:"failed"`
}

func (s *Service) Stats() Stats {
	return Stats{
		Accepted:    s.accepted.Load(),
		Rejected:    s.rejected.Load(),
		Unsupported: s.unsupported.Load(),
		Failed:      s.failed.Load(),
	}
}

// Handle routes ev to its entry point.
func (s *Service) Handle(ctx context.Context, ev domain.TriggerEvent) error {
	switch ev := ev.(type) {
	case domain.CommentAdded:
		return s.CommentAdded(ctx, ev)
	case domain.PatchStatusChanged:
		return s.PatchStatusChanged(ctx, ev)
	case domain.ReviewerAdded:
		return s.ReviewerAdded(ctx, ev)
	}
	return fmt.Errorf("unknown trigger %T", ev)
}

func (s *Service) CommentAdded(ctx context.Context, ev domain.CommentAdded) error {
	to, set, err := lookup(ctx, s, ev, s.settings.OwnerSettings)
	if err != nil {
		return s.fail(ev, err)
	}
	return s.finish(ctx, ev, to, rules.CommentAdded(ev, set))
}

func (s *Service) PatchStatusChanged(ctx context.Context, ev domain.PatchStatusChanged) error {
	to, set, err := lookup(ctx, s, ev, s.settings.OwnerSettings)
	if err != nil {
		return s.fail(ev, err)
	}
	return s.finish(ctx, ev, to, rules.PatchStatusChanged(ev, set))
}

func (s *Service) ReviewerAdded(ctx context.Context, ev domain.ReviewerAdded) error {
	to, set, err := lookup(ctx, s, ev, s.settings.ReviewerSettings)
	if err != nil {
		return s.fail(ev, err)
	}
	return s.finish(ctx, ev, to, rules.ReviewerAdded(ev, set))
}

// lookup resolves the addressee's profile and loads their settings in
// parallel. Both must succeed.
func lookup[S any](ctx context.Context, s *Service, ev domain.TriggerEvent, load func(context.Context, domain.Username) (S, error)) (domain.ProfileID, S, error) {
	username, displayName := ev.Addressee()

	var (
		id    domain.ProfileID
		found bool
		set   S
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		id, found, err = s.ids.Resolve(gctx, username, displayName)
		return err
	})
	g.Go(func() error {
		var err error
		set, err = load(gctx, username)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, set, &UserMappingError{Username: username, Err: err}
	}
	if !found {
		return 0, set, &UserMappingError{Username: username, Err: ErrIdentityNotFound}
	}
	return id, set, nil
}

func (s *Service) fail(ev domain.TriggerEvent, err error) error {
	s.failed.Add(1)
	username, _ := ev.Addressee()
	s.log.Warn("trigger not processed", logx.String("trigger", string(ev.Kind())), logx.String("username", string(username)), logx.Err(err))
	return err
}

func (s *Service) finish(ctx context.Context, ev domain.TriggerEvent, to domain.ProfileID, v *rules.Violation) error {
	username, _ := ev.Addressee()
	log := s.log.With(logx.String("trigger", string(ev.Kind())), logx.String("username", string(username)))
	if v != nil {
		s.rejected.Add(1)
		log.Debug("notification rejected", logx.Stringer("reason", v.Reason))
		return v
	}

	text, err := s.composer.Compose(ev)
	if errors.Is(err, compose.ErrUnsupported) {
		s.unsupported.Add(1)
		log.Debug("notification dropped", logx.Err(err))
		return nil
	}
	if err != nil {
		return s.fail(ev, err)
	}

	s.accepted.Add(1)
	err = s.out.Dispatch(ctx, dispatch.Delivery{Trigger: ev.Kind(), Username: username, To: to, Text: text})
	if err != nil {
		// Delivery is not awaited; an unqueued message is the dispatcher's
		// failure to report, not the trigger's.
		log.Warn("notification not queued", logx.Stringer("to", to), logx.Err(err))
	}
	return nil
}
