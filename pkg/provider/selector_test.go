package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/lifecycle"
	"github.com/aretw0/max/pkg/ports"
	"github.com/aretw0/max/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProvider struct {
	kind      domain.ProviderKind
	failWith  error
	destroyed []string
}

func (p *recordingProvider) Create(_ context.Context, id string, _ domain.DeploymentConfig) (ports.Supervised, error) {
	if p.failWith != nil {
		return nil, domain.NewCreateError(p.kind, id, p.failWith)
	}
	return lifecycle.New(domain.KindInstallation, id), nil
}

func (p *recordingProvider) Destroy(_ context.Context, id string) error {
	p.destroyed = append(p.destroyed, id)
	return nil
}

func TestSelector(t *testing.T) {
	ctx := context.Background()
	local := &recordingProvider{kind: domain.ProviderInProcess}
	remote := &recordingProvider{kind: domain.ProviderRemote, failWith: errors.New("connection refused")}
	sel := provider.NewSelector[ports.Supervised, string]().
		Register(domain.ProviderInProcess, local).
		Register(domain.ProviderRemote, remote)

	assert.Equal(t, []domain.ProviderKind{domain.ProviderInProcess, domain.ProviderRemote}, sel.Kinds())

	t.Run("routes by kind and remembers the owner", func(t *testing.T) {
		n, err := sel.Create(ctx, "a", domain.DeploymentConfig{Kind: domain.ProviderInProcess})
		require.NoError(t, err)
		assert.Equal(t, domain.StateCreated, n.Health().State)

		require.NoError(t, sel.Destroy(ctx, "a"))
		assert.Equal(t, []string{"a"}, local.destroyed)
		assert.Empty(t, remote.destroyed)

		require.NoError(t, sel.Destroy(ctx, "a"), "second destroy is a no-op")
		assert.Len(t, local.destroyed, 1)
	})

	t.Run("strategy errors pass through unchanged", func(t *testing.T) {
		_, err := sel.Create(ctx, "b", domain.DeploymentConfig{Kind: domain.ProviderRemote})
		assert.ErrorIs(t, err, domain.ErrNodeCreationFailed)
		assert.ErrorContains(t, err, "connection refused")
		require.NoError(t, sel.Destroy(ctx, "b"))
		assert.Empty(t, remote.destroyed)
	})

	t.Run("unregistered and unknown kinds fail creation", func(t *testing.T) {
		_, err := sel.Create(ctx, "c", domain.DeploymentConfig{Kind: domain.ProviderSubprocess})
		assert.ErrorIs(t, err, domain.ErrNodeCreationFailed)

		_, err = sel.Create(ctx, "d", domain.DeploymentConfig{Kind: "docker"})
		assert.ErrorIs(t, err, domain.ErrNodeCreationFailed)
		assert.ErrorIs(t, err, domain.ErrInvalidArgs)
	})

	t.Run("duplicate registration panics", func(t *testing.T) {
		assert.Panics(t, func() { sel.Register(domain.ProviderInProcess, local) })
	})
}
