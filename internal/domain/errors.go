package domain

import (
	"errors"
	"fmt"
)

// RuntimeQueryError is a container runtime query that timed out, exited
// non-zero or returned unusable output.
type RuntimeQueryError struct {
	Op     string
	Target string
	Err    error
}

func NewRuntimeQueryError(op, target string, err error) *RuntimeQueryError {
	return &RuntimeQueryError{Op: op, Target: target, Err: err}
}

func (e *RuntimeQueryError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("runtime query %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("runtime query %s %s failed: %v", e.Op, e.Target, e.Err)
}

func (e *RuntimeQueryError) Unwrap() error {
	return e.Err
}

// NotFoundError is a routine lookup miss.
type NotFoundError struct {
	Name string
}

func NewNotFoundError(name string) *NotFoundError {
	return &NotFoundError{Name: name}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no container found for %q", e.Name)
}

// ConfigurationError reports a sequencing or setup mistake by the caller.
type ConfigurationError struct {
	Message string
	Err     error
}

func NewConfigurationError(message string, err error) *ConfigurationError {
	return &ConfigurationError{Message: message, Err: err}
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

type InvalidArgumentError struct {
	Message string
}

func NewInvalidArgumentError(message string) *InvalidArgumentError {
	return &InvalidArgumentError{Message: message}
}

func (e *InvalidArgumentError) Error() string {
	return e.Message
}

func IsRuntimeQueryError(err error) bool {
	var target *RuntimeQueryError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsInvalidArgument(err error) bool {
	var target *InvalidArgumentError
	return errors.As(err, &target)
}
