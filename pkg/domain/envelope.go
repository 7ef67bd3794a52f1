package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Request is the envelope a client sends to a Dispatcher.
type Request struct {
	ID uint64 `json:"id"`
	// Path routes the request down the federation, e.g. ["inst-1"] on a workspace
	// dispatcher targets that installation. An empty path targets the receiving node.
	Path   []string        `json:"path,omitempty"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Response is the envelope a Dispatcher returns for exactly one Request.
// A nil Error means success, even when Result is empty.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError carries a failure across a transport with enough detail for the caller
// to decide whether to retry, escalate or surface it.
type RPCError struct {
	Kind    ErrorKind         `json:"kind"`
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
}

// NewRPCError converts err into its wire form.
func NewRPCError(err error, context map[string]string) *RPCError {
	if err == nil {
		return nil
	}
	rpcErr := &RPCError{
		Kind:    KindOf(err),
		Message: err.Error(),
		Context: context,
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if rpcErr.Context == nil {
			rpcErr.Context = make(map[string]string)
		}
		rpcErr.Context["op"] = pe.Op
		rpcErr.Context["node"] = pe.ID
		if pe.Provider != "" {
			rpcErr.Context["provider"] = string(pe.Provider)
		}
	}
	return rpcErr
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap maps the wire kind back to its sentinel so errors.Is works on the caller side.
func (e *RPCError) Unwrap() error {
	if e.Kind == ErrKindCanceled {
		return context.Canceled
	}
	return Sentinel(e.Kind)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ErrorFromRPC turns a wire error back into a Go error. A nil input yields nil.
func ErrorFromRPC(e *RPCError) error {
	if e == nil {
		return nil
	}
	return e
}

// Err returns the response failure, if any.
func (r *Response) Err() error {
	return ErrorFromRPC(r.Error)
}
