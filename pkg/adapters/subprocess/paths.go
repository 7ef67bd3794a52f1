package subprocess

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aretw0/max/pkg/domain"
)

// Paths locates the state files of one hosted node.
type Paths struct {
	Dir    string
	Socket string
	PID    string
	Log    string
	Spec   string
}

// PathsFor returns the state files of id under root. The directory name is the
// first six bytes of sha256(id) in hex, which keeps socket paths short.
func PathsFor(root, id string) Paths {
	sum := sha256.Sum256([]byte(id))
	dir := filepath.Join(root, "nodes", hex.EncodeToString(sum[:6]))
	return Paths{
		Dir:    dir,
		Socket: filepath.Join(dir, "node.sock"),
		PID:    filepath.Join(dir, "node.pid"),
		Log:    filepath.Join(dir, "node.log"),
		Spec:   filepath.Join(dir, "node.json"),
	}
}

// ReadPID returns the pid recorded in the pid file, or 0 if there is none.
func (p Paths) ReadPID() (int, error) {
	data, err := os.ReadFile(p.PID)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt pid file %s: %w", p.PID, err)
	}
	return pid, nil
}

// WritePID records pid.
func (p Paths) WritePID(pid int) error {
	return os.WriteFile(p.PID, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// CleanStale removes the socket and pid files left by a dead process.
func (p Paths) CleanStale() error {
	var errs []error
	for _, f := range []string{p.Socket, p.PID} {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Spec is the content of node.json: everything a child needs to build its node.
type Spec struct {
	ID      string          `json:"id"`
	Kind    domain.NodeKind `json:"kind"`
	Options map[string]any  `json:"options,omitempty"`
}

// WriteSpec stores s as node.json.
func (p Paths) WriteSpec(s Spec) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.Spec, data, 0o600)
}

// ReadSpec loads a node.json file.
func ReadSpec(path string) (Spec, error) {
	var s Spec
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}
