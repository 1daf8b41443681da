package event

import (
	"fmt"
)

type UnsupportedEventTypeError struct {
	eventType Kind
}

func NewUnsupportedEventTypeError(eventType Kind) *UnsupportedEventTypeError {
	return &UnsupportedEventTypeError{eventType: eventType}
}

func (e *UnsupportedEventTypeError) Error() string {
	return fmt.Sprintf("Unsupported event type: %s", e.eventType)
}
