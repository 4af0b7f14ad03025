// Package settings exposes per-user notification preferences by role.
package settings

import (
	"context"

	"chtbtr/internal/domain"
)

// Loader reads a user's settings envelope, creating the defaults on first
// access.
type Loader interface {
	LoadSettings(ctx context.Context, username domain.Username) (domain.Settings, error)
}

// Provider reads settings on every call so edits to a user's document take
// effect without a restart.
type Provider struct {
	store Loader
}

func NewProvider(store Loader) *Provider { return &Provider{store: store} }

func (p *Provider) OwnerSettings(ctx context.Context, username domain.Username) (domain.OwnerSettings, error) {
	s, err := p.store.LoadSettings(ctx, username)
	if err != nil {
		return domain.OwnerSettings{}, err
	}
	return s.Owner(), nil
}

func (p *Provider) ReviewerSettings(ctx context.Context, username domain.Username) (domain.ReviewerSettings, error) {
	s, err := p.store.LoadSettings(ctx, username)
	if err != nil {
		return domain.ReviewerSettings{}, err
	}
	return s.Reviewer(), nil
}
