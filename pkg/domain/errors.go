package domain

import (
	"errors"
	"fmt"
)

// Supervisor-level errors.
var (
	// ErrDuplicateID is returned when registering an id that is already present.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrUnknownID is returned when addressing an id that is not registered.
	ErrUnknownID = errors.New("unknown id")
	// ErrNotStopped is returned when removing a node that is still active.
	ErrNotStopped = errors.New("node not stopped")
)

// Lifecycle errors.
var (
	// ErrInvalidTransition is returned when a lifecycle call is not valid from the current state.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrNotRunning is returned by node operations that require the Running state.
	ErrNotRunning = errors.New("node not running")
)

// Dispatcher-level errors.
var (
	ErrUnknownMethod         = errors.New("unknown method")
	ErrInvalidArgs           = errors.New("invalid arguments")
	ErrTransportDisconnected = errors.New("transport disconnected")
	// ErrInternal marks handler failures that do not belong to any other kind.
	ErrInternal = errors.New("internal error")
)

// Provider-level errors.
var (
	ErrNodeCreationFailed    = errors.New("node creation failed")
	ErrNodeDestructionFailed = errors.New("node destruction failed")
)

// Execution errors.
var (
	// ErrUnresolvedName is reported when a persisted name has no registry entry.
	// Registry lookups signal this by returning false; callers wrap this error.
	ErrUnresolvedName = errors.New("unresolved name")
	// ErrSyncNotFound is returned when a sync record cannot be found in the store.
	ErrSyncNotFound = errors.New("sync not found")
)

// ErrorKind is the wire name of an error category.
type ErrorKind string

const (
	ErrKindDuplicateID           ErrorKind = "duplicate_id"
	ErrKindUnknownID             ErrorKind = "unknown_id"
	ErrKindNotStopped            ErrorKind = "not_stopped"
	ErrKindInvalidTransition     ErrorKind = "invalid_transition"
	ErrKindNotRunning            ErrorKind = "not_running"
	ErrKindUnknownMethod         ErrorKind = "unknown_method"
	ErrKindInvalidArgs           ErrorKind = "invalid_args"
	ErrKindDisconnected          ErrorKind = "transport_disconnected"
	ErrKindNodeCreationFailed    ErrorKind = "node_creation_failed"
	ErrKindNodeDestructionFailed ErrorKind = "node_destruction_failed"
	ErrKindUnresolvedName        ErrorKind = "unresolved_name"
	ErrKindSyncNotFound          ErrorKind = "sync_not_found"
	ErrKindCanceled              ErrorKind = "canceled"
	ErrKindInternal              ErrorKind = "internal"
)

// kindTable is ordered: provider errors wrap strategy errors that may themselves match
// other kinds, so the outermost classification is checked first.
var kindTable = []struct {
	kind ErrorKind
	err  error
}{
	{ErrKindNodeCreationFailed, ErrNodeCreationFailed},
	{ErrKindNodeDestructionFailed, ErrNodeDestructionFailed},
	{ErrKindDuplicateID, ErrDuplicateID},
	{ErrKindUnknownID, ErrUnknownID},
	{ErrKindNotStopped, ErrNotStopped},
	{ErrKindInvalidTransition, ErrInvalidTransition},
	{ErrKindNotRunning, ErrNotRunning},
	{ErrKindUnknownMethod, ErrUnknownMethod},
	{ErrKindInvalidArgs, ErrInvalidArgs},
	{ErrKindDisconnected, ErrTransportDisconnected},
	{ErrKindUnresolvedName, ErrUnresolvedName},
	{ErrKindSyncNotFound, ErrSyncNotFound},
	{ErrKindInternal, ErrInternal},
}

// KindOf classifies err. Unclassified errors are reported as internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range kindTable {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if isCanceled(err) {
		return ErrKindCanceled
	}
	return ErrKindInternal
}

// Sentinel returns the sentinel error for a kind, or nil if the kind has none.
func Sentinel(kind ErrorKind) error {
	for _, k := range kindTable {
		if k.kind == kind {
			return k.err
		}
	}
	return nil
}

// ProviderError wraps a deployment strategy failure without reinterpreting it.
// It matches both the provider sentinel and the underlying error with errors.Is.
type ProviderError struct {
	Op       string // "create" or "destroy"
	Provider ProviderKind
	ID       string
	Err      error
}

// NewCreateError wraps a creation failure.
func NewCreateError(kind ProviderKind, id string, err error) *ProviderError {
	return &ProviderError{Op: "create", Provider: kind, ID: id, Err: err}
}

// NewDestroyError wraps a destruction failure.
func NewDestroyError(kind ProviderKind, id string, err error) *ProviderError {
	return &ProviderError{Op: "destroy", Provider: kind, ID: id, Err: err}
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s node %q (%s): %v", e.Op, e.ID, e.Provider, e.Err)
	}
	return fmt.Sprintf("%s node %q: %v", e.Op, e.ID, e.Err)
}

func (e *ProviderError) sentinel() error {
	if e.Op == "destroy" {
		return ErrNodeDestructionFailed
	}
	return ErrNodeCreationFailed
}

// Unwrap exposes both the provider sentinel and the strategy error.
func (e *ProviderError) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}
