package event

import (
	"time"

	"github.com/docker/docker/api/types/events"
)

type Kind string

const (
	KindStart      Kind = "start"
	KindStop       Kind = "stop"
	KindDie        Kind = "die"
	KindConnect    Kind = "connect"
	KindDisconnect Kind = "disconnect"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindStart, KindStop, KindDie, KindConnect, KindDisconnect:
		return true
	}
	return false
}

// ContainerEvent is a membership change in the watched scope.
type ContainerEvent struct {
	ContainerID string
	Name        string
	Kind        Kind
	At          time.Time
}

func fromEventsMessage(msg events.Message) (ContainerEvent, error) {
	ev := ContainerEvent{
		ContainerID: msg.Actor.ID,
		Name:        msg.Actor.Attributes["name"],
		Kind:        Kind(msg.Action),
		At:          time.Unix(0, msg.TimeNano),
	}
	// Network events carry the network as actor and the container as an attribute.
	if msg.Type == events.NetworkEventType {
		ev.ContainerID = msg.Actor.Attributes["container"]
	}
	if !ev.Kind.IsValid() {
		return ContainerEvent{}, NewUnsupportedEventTypeError(ev.Kind)
	}
	return ev, nil
}
