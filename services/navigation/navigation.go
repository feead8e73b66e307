// Package navigation consumes status updates from the mobile base's autonomy server. Path
// planning stays on the server; this package only turns its (mode, status) strings into events.
package navigation

import (
	"fmt"
	"strings"
)

// EventKind classifies a status update.
type EventKind int

// Event kinds.
const (
	Unknown EventKind = iota
	GoingToGoal
	GoalReached
	GoalFailed
	GoingHome
	HomeReached
	HomeFailed
)

var kindNames = map[EventKind]string{
	Unknown:     "unknown",
	GoingToGoal: "going_to_goal",
	GoalReached: "goal_reached",
	GoalFailed:  "goal_failed",
	GoingHome:   "going_home",
	HomeReached: "home_reached",
	HomeFailed:  "home_failed",
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is one parsed status update. Goal is empty when the status does not name one.
type Event struct {
	Kind   EventKind `json:"kind"`
	Goal   string    `json:"goal,omitempty"`
	Mode   string    `json:"mode"`
	Status string    `json:"status"`
}

// A Source delivers events in the order the server reported them. Events is closed after Close.
type Source interface {
	Events() <-chan Event
	Close() error
}

// ParseStatus classifies a raw mode and status pair.
//
// The server reports goal runs in mode "go to goal" (older releases say "Goto goal") with statuses
// "Going to <goal>", "Arrived at <goal>" and "Failed to get to <goal>". Homing runs in mode
// "Going home" (or "Go home") and ends with "Arrived at home", "Returned home" or
// "Failed to get home".
func ParseStatus(mode, status string) Event {
	ev := Event{Kind: Unknown, Mode: mode, Status: status}
	m := strings.TrimSpace(mode)
	s := strings.TrimSpace(status)

	switch {
	case strings.EqualFold(m, "go to goal"), strings.EqualFold(m, "goto goal"):
		switch {
		case hasPrefixFold(s, "Arrived at"):
			ev.Kind = GoalReached
			ev.Goal = strings.TrimSpace(s[len("Arrived at"):])
		case hasPrefixFold(s, "Going to"):
			ev.Kind = GoingToGoal
			ev.Goal = strings.TrimSpace(s[len("Going to"):])
		case hasPrefixFold(s, "Failed to get to"):
			ev.Kind = GoalFailed
			ev.Goal = strings.TrimSpace(s[len("Failed to get to"):])
		case hasPrefixFold(s, "Failed"):
			ev.Kind = GoalFailed
		}
	case strings.EqualFold(m, "going home"), strings.EqualFold(m, "go home"):
		switch {
		case strings.EqualFold(s, "Arrived at home"), strings.EqualFold(s, "Returned home"):
			ev.Kind = HomeReached
		case hasPrefixFold(s, "Failed to get home"):
			ev.Kind = HomeFailed
		default:
			ev.Kind = GoingHome
		}
	}
	return ev
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
