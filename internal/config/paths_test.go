package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindProjectRoot(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	writeFile(t, filepath.Join(root, "max.yaml"), "workspace: acme\n")
	require.NoError(t, os.Mkdir(filepath.Join(root, ".max"), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, got)

	got, err = FindProjectRoot(root)
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestFindProjectRoot_NeedsStateDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "max.yaml"), "workspace: acme\n")

	_, err := FindProjectRoot(root)
	assert.ErrorIs(t, err, ErrNoProject)
}

func TestHome(t *testing.T) {
	t.Setenv(EnvHome, "/tmp/max-home")
	home, err := Home()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/max-home", home)

	t.Setenv(EnvHome, "")
	t.Setenv("HOME", "/home/ada")
	home, err = Home()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/ada", ".max"), home)
}

func TestDevMode(t *testing.T) {
	for v, want := range map[string]bool{"1": true, "true": true, "": false, "0": false, "yes": false} {
		t.Setenv(EnvDev, v)
		assert.Equal(t, want, DevMode(), "MAX_DEV=%q", v)
	}
}

func TestDaemonPaths(t *testing.T) {
	home := t.TempDir()
	p := DaemonPathsFor(home, "/srv/acme")

	hash := ProjectHash("/srv/acme")
	assert.Len(t, hash, 12)
	assert.Equal(t, filepath.Join(home, "daemons", hash), p.Dir)
	assert.Equal(t, filepath.Join(p.Dir, "daemon.sock"), p.Socket)
	assert.NotEqual(t, hash, ProjectHash("/srv/other"))

	require.NoError(t, p.WriteProject("/srv/acme"))
	root, err := p.ReadProject()
	require.NoError(t, err)
	assert.Equal(t, "/srv/acme", root)
}
