package app

import (
	"fmt"
	"strings"
)

// EntityKind identifies the entity protocol family a service implements.
type EntityKind int

const (
	EntityKindUnknown EntityKind = iota
	EntityKindEventSourced
	EntityKindCrdt
	EntityKindStatelessFunction
)

// Fully-qualified gRPC service names of the entity protocol families. The sidecar
// uses them both as entity_type values in the handshake and as routing targets.
const (
	EventSourcedProtocol      = "cloudstate.eventsourced.EventSourced"
	CrdtProtocol              = "cloudstate.crdt.Crdt"
	StatelessFunctionProtocol = "cloudstate.function.StatelessFunction"
)

// EntityProtocols lists every entity protocol family in declaration order.
var EntityProtocols = []string{EventSourcedProtocol, CrdtProtocol, StatelessFunctionProtocol}

// ProtocolName returns the wire name used as entity_type in the handshake.
func (k EntityKind) ProtocolName() string {
	switch k {
	case EntityKindEventSourced:
		return EventSourcedProtocol
	case EntityKindCrdt:
		return CrdtProtocol
	case EntityKindStatelessFunction:
		return StatelessFunctionProtocol
	default:
		return ""
	}
}

func (k EntityKind) String() string {
	switch k {
	case EntityKindEventSourced:
		return "EventSourced"
	case EntityKindCrdt:
		return "Crdt"
	case EntityKindStatelessFunction:
		return "StatelessFunction"
	default:
		return "Unknown"
	}
}

func (k EntityKind) Valid() bool {
	return k.ProtocolName() != ""
}

// ParseEntityKind accepts short names (eventsourced, crdt, function), the Go names
// (EventSourced, Crdt, StatelessFunction) and the wire names. Matching is case-insensitive.
func ParseEntityKind(raw string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "eventsourced", "event_sourced", "event-sourced", strings.ToLower(EventSourcedProtocol):
		return EntityKindEventSourced, nil
	case "crdt", strings.ToLower(CrdtProtocol):
		return EntityKindCrdt, nil
	case "function", "statelessfunction", "stateless_function", "stateless-function", strings.ToLower(StatelessFunctionProtocol):
		return EntityKindStatelessFunction, nil
	default:
		return EntityKindUnknown, fmt.Errorf("unknown entity kind %q", raw)
	}
}

// IsEntityProtocol reports whether serviceName is one of the entity protocol families.
func IsEntityProtocol(serviceName string) bool {
	for _, name := range EntityProtocols {
		if name == serviceName {
			return true
		}
	}
	return false
}
