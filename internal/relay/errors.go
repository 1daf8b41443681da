package relay

import "fmt"

// ExternalNetworkError means the relay was asked to join a network that the
// container group has not created yet.
type ExternalNetworkError struct {
	Network string
	Err     error
}

func NewExternalNetworkError(network string, err error) *ExternalNetworkError {
	return &ExternalNetworkError{Network: network, Err: err}
}

func (e *ExternalNetworkError) Error() string {
	return fmt.Sprintf("network %s declared as external, but could not be found", e.Network)
}

func (e *ExternalNetworkError) Unwrap() error {
	return e.Err
}
