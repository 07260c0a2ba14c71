package model

import "time"

// EntryKind tags a transcript entry.
type EntryKind string

// Transcript entry kinds.
const (
	EntryJoin  EntryKind = "join"
	EntryLeave EntryKind = "leave"
	EntryEvict EntryKind = "evict"
	EntryChat  EntryKind = "chat"
)

// Valid reports whether k is a known entry kind.
func (k EntryKind) Valid() bool {
	switch k {
	case EntryJoin, EntryLeave, EntryEvict, EntryChat:
		return true
	default:
		return false
	}
}

// Entry is one archived relay event.
type Entry struct {
	ID        int64     `json:"id" yaml:"id"`
	SessionID string    `json:"session_id" yaml:"session_id"`
	Nickname  string    `json:"nickname" yaml:"nickname"`
	Kind      EntryKind `json:"kind" yaml:"kind"`
	Body      string    `json:"body,omitempty" yaml:"body,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Sequence  uint64    `json:"sequence" yaml:"sequence"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// EntryFilter narrows a transcript listing. Nil fields do not filter.
type EntryFilter struct {
	Nickname *string
	Kind     *EntryKind
	Limit    *int64
	Offset   *int64
}
