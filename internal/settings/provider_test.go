package settings

import (
	"context"
	"errors"
	"testing"

	"chtbtr/internal/domain"
)

type loaderFunc func(ctx context.Context, u domain.Username) (domain.Settings, error)

func (f loaderFunc) LoadSettings(ctx context.Context, u domain.Username) (domain.Settings, error) {
	return f(ctx, u)
}

func TestProviderProjectsRoles(t *testing.T) {
	t.Parallel()
	s := domain.DefaultSettings()
	s.V1.AsOwner.SubscribeComment = true
	s.V1.AsReviewer.Subscribe = true

	var asked []domain.Username
	p := NewProvider(loaderFunc(func(_ context.Context, u domain.Username) (domain.Settings, error) {
		asked = append(asked, u)
		return s, nil
	}))

	o, err := p.OwnerSettings(context.Background(), "alice")
	if err != nil || !o.SubscribeComment {
		t.Fatalf("OwnerSettings = %+v, %v", o, err)
	}
	r, err := p.ReviewerSettings(context.Background(), "bob")
	if err != nil || !r.Subscribe {
		t.Fatalf("ReviewerSettings = %+v, %v", r, err)
	}
	if len(asked) != 2 || asked[0] != "alice" || asked[1] != "bob" {
		t.Fatalf("loads = %v", asked)
	}
}

func TestProviderPropagatesErrors(t *testing.T) {
	t.Parallel()
	corrupt := &domain.PersistenceError{Op: "parse settings", Username: "alice", Err: errors.New("bad yaml")}
	p := NewProvider(loaderFunc(func(context.Context, domain.Username) (domain.Settings, error) {
		return domain.Settings{}, corrupt
	}))
	if _, err := p.OwnerSettings(context.Background(), "alice"); !errors.Is(err, corrupt) {
		t.Fatalf("err = %v", err)
	}
	if _, err := p.ReviewerSettings(context.Background(), "alice"); !errors.Is(err, corrupt) {
		t.Fatalf("err = %v", err)
	}
}
