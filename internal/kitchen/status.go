package kitchen

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Status is the lifecycle state of a kitchen order.
// The zero value is StatusUnknown and only comes out of ParseStatus.
type Status int

const (
	StatusUnknown Status = iota
	StatusPlaced
	StatusStarted
	StatusReady
	StatusDelivered
)

// Errors returned by the state machine.
var (
	// ErrAlreadyDelivered is informational: the order is terminal and
	// no database action may be taken.
	ErrAlreadyDelivered = errors.New("order is already delivered")
	ErrInvalidStatus    = errors.New("invalid status")
)

var statusNames = map[Status]string{
	StatusPlaced:    "Placed",
	StatusStarted:   "Started",
	StatusReady:     "Ready",
	StatusDelivered: "Delivered",
}

// ActiveStatuses are the statuses shown on the board, in lifecycle order.
var ActiveStatuses = []Status{StatusPlaced, StatusStarted, StatusReady}

// String returns the database spelling of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Valid reports whether s is one of the four lifecycle states.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// ParseStatus converts a database value into a Status.
func ParseStatus(s string) (Status, error) {
	for st, name := range statusNames {
		if name == s {
			return st, nil
		}
	}
	return StatusUnknown, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func (s Status) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return json.Marshal("Unknown")
	}
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	st, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// TimestampField names the per-status timestamp persisted with a transition.
type TimestampField int

const (
	StartedTime TimestampField = iota + 1
	ReadyTime
	DeliveredTime
)

// Column returns the orders table column backing the field.
func (f TimestampField) Column() string {
	switch f {
	case StartedTime:
		return "started_time"
	case ReadyTime:
		return "ready_time"
	case DeliveredTime:
		return "delivered_time"
	}
	return ""
}

func (f TimestampField) String() string {
	switch f {
	case StartedTime:
		return "StartedTime"
	case ReadyTime:
		return "ReadyTime"
	case DeliveredTime:
		return "DeliveredTime"
	}
	return fmt.Sprintf("TimestampField(%d)", int(f))
}

// Transition is one legal step of the order lifecycle.
type Transition struct {
	From  Status
	To    Status
	Field TimestampField
}

// Terminal reports whether the transition ends the lifecycle.
func (t Transition) Terminal() bool {
	return t.To == StatusDelivered
}

// transitions is the whole lifecycle: Placed -> Started -> Ready -> Delivered.
var transitions = map[Status]Transition{
	StatusPlaced:  {From: StatusPlaced, To: StatusStarted, Field: StartedTime},
	StatusStarted: {From: StatusStarted, To: StatusReady, Field: ReadyTime},
	StatusReady:   {From: StatusReady, To: StatusDelivered, Field: DeliveredTime},
}

// Next returns the transition out of current.
// Delivered yields ErrAlreadyDelivered; anything outside the lifecycle
// yields ErrInvalidStatus.
func Next(current Status) (Transition, error) {
	if current == StatusDelivered {
		return Transition{}, ErrAlreadyDelivered
	}
	t, ok := transitions[current]
	if !ok {
		return Transition{}, fmt.Errorf("%w: %s", ErrInvalidStatus, current)
	}
	return t, nil
}
