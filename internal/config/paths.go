package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables read by the CLI.
const (
	EnvHome = "MAX_HOME"
	EnvDev  = "MAX_DEV"
)

// ErrNoProject is returned when no ancestor directory is a project root.
var ErrNoProject = errors.New("not inside a max project")

// FindProjectRoot walks up from start to the first directory holding both a
// project file and a .max directory.
func FindProjectRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	for {
		if isProjectRoot(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w (searched from %s)", ErrNoProject, start)
		}
		dir = parent
	}
}

func isProjectRoot(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, StateDirName))
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = Find(dir)
	return err == nil
}

// Home returns $MAX_HOME, or ~/.max.
func Home() (string, error) {
	if h := os.Getenv(EnvHome); h != "" {
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, StateDirName), nil
}

// DevMode reports whether MAX_DEV is "1" or "true".
func DevMode() bool {
	v := os.Getenv(EnvDev)
	return v == "1" || v == "true"
}

// DaemonPaths are the files of the daemon serving one project.
type DaemonPaths struct {
	Dir     string
	Socket  string
	PID     string
	Log     string
	Project string
	// Nodes holds the state files of subprocess-hosted children.
	Nodes string
}

// ProjectHash is the first six bytes of sha256(root) in hex.
func ProjectHash(root string) string {
	sum := sha256.Sum256([]byte(root))
	return hex.EncodeToString(sum[:6])
}

// DaemonPathsFor returns the daemon files of root under home/daemons/<hash>/.
func DaemonPathsFor(home, root string) DaemonPaths {
	dir := filepath.Join(home, "daemons", ProjectHash(root))
	return DaemonPaths{
		Dir:     dir,
		Socket:  filepath.Join(dir, "daemon.sock"),
		PID:     filepath.Join(dir, "daemon.pid"),
		Log:     filepath.Join(dir, "daemon.log"),
		Project: filepath.Join(dir, "project.json"),
		Nodes:   dir,
	}
}

// projectFile is the content of project.json.
type projectFile struct {
	Root string `json:"root"`
}

// WriteProject creates the daemon directory and records root in project.json.
func (p DaemonPaths) WriteProject(root string) error {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("create daemon dir: %w", err)
	}
	data, err := json.Marshal(projectFile{Root: root})
	if err != nil {
		return err
	}
	return os.WriteFile(p.Project, data, 0o644)
}

// ReadProject returns the project root recorded in project.json.
func (p DaemonPaths) ReadProject() (string, error) {
	data, err := os.ReadFile(p.Project)
	if err != nil {
		return "", err
	}
	var f projectFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("parse %s: %w", p.Project, err)
	}
	return f.Root, nil
}
