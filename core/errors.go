package core

import (
	"errors"
	"fmt"
)

// Configuration errors
var (
	ErrPolarity         = errors.New("ports must have opposite polarity")
	ErrPortTypeMismatch = errors.New("ports must have the same port type")
	ErrEventNotAllowed  = errors.New("event type not allowed")
	ErrForeignPort      = errors.New("port is not owned by this component")
	ErrPortReleased     = errors.New("port has been released")
	ErrNilPort          = errors.New("nil port")
	ErrNilEvent         = errors.New("nil event")
	ErrNilHandler       = errors.New("nil handler")
	ErrNotSubscribed    = errors.New("handler is not subscribed")
	ErrNotChild         = errors.New("component is not a child of this component")
	ErrNilConstructor   = errors.New("nil constructor")
	ErrInitType         = errors.New("init value has the wrong type")
	ErrNilChannel       = errors.New("channel factory returned nil")
	ErrDestroyed        = errors.New("component is destroyed")
	ErrExternalCall     = errors.New("only allowed from the component's handlers")
)

// Request-response errors
var (
	ErrAlreadyAnswered = errors.New("request already answered")
	ErrNotTriggered    = errors.New("request was never triggered")
	ErrResponseTrigger = errors.New("direct responses are sent with Answer, not Trigger")
)

// Registry errors
var (
	ErrUnknownFactory = errors.New("no factory registered under this name")
	ErrFactoryExists  = errors.New("factory already registered")
)

// ConfigurationError reports misuse of the component API. It is returned
// synchronously to the caller and never becomes a fault.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("kompics: %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configError(op string, err error) error {
	return &ConfigurationError{Op: op, Err: err}
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
