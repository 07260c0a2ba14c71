package model

import "time"

// Event is the JSON body mirrored to the message bus for every membership
// change and relayed chat line.
type Event struct {
	Kind      EntryKind `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	Nickname  string    `json:"nickname"`
	Body      string    `json:"body,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// EventRejected is only published, never archived.
const EventRejected EntryKind = "rejected"

// EntryEvent converts a transcript entry into a bus event.
func EntryEvent(e Entry) Event {
	return Event{
		Kind:      e.Kind,
		SessionID: e.SessionID,
		Nickname:  e.Nickname,
		Body:      e.Body,
		Endpoint:  e.Endpoint,
		Sequence:  e.Sequence,
		Timestamp: e.CreatedAt,
	}
}
