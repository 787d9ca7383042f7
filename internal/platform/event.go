package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedPayload is returned for bridge payloads that fail validation.
// Malformed events are dropped at this boundary and never reach the
// lifecycle controller.
var ErrMalformedPayload = errors.New("malformed bridge payload")

// EventKind discriminates bridge events.
type EventKind string

const (
	// EventDelivered means the daemon presented the trigger to the user.
	EventDelivered EventKind = "delivered"
	// EventResponse means the user acted on a presented notification.
	EventResponse EventKind = "response"
)

// ResponseAction values carried by EventResponse events.
const (
	ResponseConfirm = "confirm"
	ResponseSnooze  = "snooze"
	ResponseOpen    = "open"
)

// Event is a validated, decoded bridge event.
type Event struct {
	Kind       EventKind
	ReminderID string
	Action     string
	At         time.Time
}

// rawEvent is the loosely-typed wire shape before validation.
type rawEvent struct {
	Type       string `json:"type"`
	ReminderID string `json:"reminder_id"`
	Action     string `json:"action"`
	Timestamp  string `json:"timestamp"`
}

// DecodeEvent parses and validates a bridge payload. It fails closed: any
// missing or unknown field yields ErrMalformedPayload rather than a
// half-populated event.
func DecodeEvent(raw []byte) (Event, error) {
	var re rawEvent
	if err := json.Unmarshal(raw, &re); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if re.ReminderID == "" {
		return Event{}, fmt.Errorf("%w: missing reminder_id", ErrMalformedPayload)
	}

	ev := Event{ReminderID: re.ReminderID, At: time.Now().UTC()}
	if re.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, re.Timestamp)
		if err != nil {
			return Event{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedPayload, re.Timestamp)
		}
		ev.At = t
	}

	switch re.Type {
	case string(EventDelivered):
		ev.Kind = EventDelivered
	case string(EventResponse):
		switch re.Action {
		case ResponseConfirm, ResponseSnooze, ResponseOpen:
			ev.Kind = EventResponse
			ev.Action = re.Action
		default:
			return Event{}, fmt.Errorf("%w: unknown action %q", ErrMalformedPayload, re.Action)
		}
	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedPayload, re.Type)
	}

	return ev, nil
}
