package max_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/max"
	"github.com/aretw0/max/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const projectConfig = `workspace: acme
installations:
  crm:
    options:
      connector: memory
      settings:
        entities:
          - name: user
            records:
              - {id: u1, fields: {team: core}}
              - {id: u2, fields: {team: kernel}}
autostart: [crm]
`

func TestOpen(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "max.yaml"), []byte(projectConfig), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	eng, err := max.Open(ctx, root)
	require.NoError(t, err)
	defer func() { assert.NoError(t, eng.Close(ctx)) }()
	assert.Equal(t, "acme", eng.Name)
	assert.Equal(t, domain.WorkspaceID("acme"), eng.Workspace().ID())

	rec, err := eng.Sync(ctx, "crm")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSucceeded, rec.Status)

	res, err := eng.Query(ctx, domain.Query{Entity: "user", Match: map[string]any{"team": "core"}})
	require.NoError(t, err)
	require.Len(t, res.Sets, 1)
	require.Len(t, res.Sets[0].Records, 1)
	assert.Equal(t, "u1", res.Sets[0].Records[0].ID)

	_, err = eng.Sync(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownID)
}

func TestOpen_NoConfig(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	eng, err := max.Open(ctx, root)
	require.NoError(t, err)
	defer eng.Close(ctx)

	assert.Equal(t, filepath.Base(root), eng.Name)
	ids, err := eng.Installations().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestOpen_InvalidConfig(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "max.yaml"), []byte("store:\n  kind: tape\n"), 0o644))

	_, err := max.Open(context.Background(), root)
	assert.ErrorIs(t, err, domain.ErrInvalidArgs)
}
