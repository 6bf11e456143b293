package node

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is matched by every ConfigurationError.
	ErrConfiguration = errors.New("invalid fork network configuration")

	// ErrNodeFailed is returned when the node task exits before the server became ready.
	ErrNodeFailed = errors.New("fork node failed")

	// ErrAlreadyStarted is returned when Start is called twice on the same controller.
	ErrAlreadyStarted = errors.New("controller already started")
)

// ConfigurationError is a fatal, non retriable error raised before any node is launched.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfiguration, e.Err)
}

func (e *ConfigurationError) Unwrap() []error {
	return []error{ErrConfiguration, e.Err}
}

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Method  string
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s failed with code %d: %s", e.Method, e.Code, e.Message)
}
