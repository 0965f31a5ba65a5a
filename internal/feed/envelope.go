package feed

import (
	"encoding/json"
	"time"

	"github.com/roberthayford/nutlip-transaction-bus/pkg/enums"
)

// Envelope is the canonical shape of one update on the shared feed.
// Envelopes are immutable once created except for the Read flag; every other
// change is expressed as a new envelope referencing the old one's id in its
// payload.
type Envelope struct {
	ID          string           `json:"id"`
	Type        enums.UpdateType `json:"type"`
	Version     int              `json:"version,omitempty"`
	Stage       enums.Stage      `json:"stage,omitempty"`
	Role        enums.Role       `json:"role"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Data        json.RawMessage  `json:"data,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	Read        bool             `json:"read"`
}

// Draft is the caller-supplied portion of an envelope. Send assigns the id,
// creation instant, payload version and the unread flag.
type Draft struct {
	Type        enums.UpdateType
	Stage       enums.Stage
	Role        enums.Role
	Title       string
	Description string
	Data        any
}

// audienceProbe pulls the optional addressee fields out of an otherwise
// opaque payload.
type audienceProbe struct {
	DeliveredTo enums.Role `json:"deliveredTo"`
	TargetRole  enums.Role `json:"targetRole"`
}

// AddressedTo reports whether the envelope is relevant to the given role:
// the originator sees its own updates, payloads may name an explicit
// audience, and conveyancer updates are implicitly addressed to the other
// side's conveyancer.
func (e Envelope) AddressedTo(role enums.Role) bool {
	if e.Role == role {
		return true
	}
	if counterpart, ok := e.Role.Counterpart(); ok && counterpart == role {
		return true
	}
	if len(e.Data) > 0 {
		var probe audienceProbe
		if err := json.Unmarshal(e.Data, &probe); err == nil {
			if probe.DeliveredTo == role || probe.TargetRole == role {
				return true
			}
		}
	}
	return false
}

// clone returns a copy safe to hand to callers.
func (e Envelope) clone() Envelope {
	out := e
	if e.Data != nil {
		out.Data = make(json.RawMessage, len(e.Data))
		copy(out.Data, e.Data)
	}
	return out
}
