// Package protocol defines the chat frame format and the reserved payload markers.
//
// A frame is UTF-8 text of the form "<nickname>,<payload>". Decoding splits on
// the first comma only, so a payload may itself contain commas while a
// nickname never can.
package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxDatagramSize is the receive buffer size for one datagram.
	MaxDatagramSize = 4096

	// Separator splits the sender from the payload.
	Separator = ","

	// DefaultAddr is the relay's default bind address.
	DefaultAddr = "127.0.0.1:4096"
)

// Reserved payload markers. Sent case-exact, matched case-insensitively.
const (
	MarkerJoin          = "{NEW CLIENT REQUEST}"
	MarkerQuit          = "{QUIT}"
	MarkerNicknameTaken = "{NICKNAME ALREADY EXISTS}"
)

var (
	// ErrMalformedFrame is returned for a frame without a separator, or a
	// sender that could not be framed.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrFrameTooLarge is returned when a frame exceeds MaxDatagramSize.
	ErrFrameTooLarge = errors.New("protocol: frame too large")
)

// Frame is a decoded (sender, payload) pair.
type Frame struct {
	Sender  string
	Payload string
}

// Kind classifies an inbound payload.
type Kind int

// Payload kinds: an ordinary chat line, a registration request and a quit
// request.
const (
	KindChat Kind = iota
	KindJoin
	KindLeave
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindJoin:
		return "join"
	case KindLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// Encode frames a payload for the wire. The sender must not contain a comma
// for the frame to round-trip; use EncodeChecked when that is not known.
func Encode(sender, payload string) []byte {
	return []byte(sender + Separator + payload)
}

// EncodeChecked is Encode with validation of the sender and the frame size.
func EncodeChecked(sender, payload string) ([]byte, error) {
	if sender == "" || strings.Contains(sender, Separator) {
		return nil, fmt.Errorf("%w: sender %q", ErrMalformedFrame, sender)
	}
	data := Encode(sender, payload)
	if len(data) > MaxDatagramSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	return data, nil
}

// Decode parses a frame. The split happens on the first comma only: everything
// after it, further commas included, belongs to the payload. A frame without a
// comma is the only decode failure and yields ErrMalformedFrame.
func Decode(data []byte) (Frame, error) {
	sender, payload, ok := strings.Cut(string(data), Separator)
	if !ok {
		return Frame{}, fmt.Errorf("%w: missing separator", ErrMalformedFrame)
	}
	return Frame{Sender: sender, Payload: payload}, nil
}

// ValidText reports whether data is well-formed UTF-8.
func ValidText(data []byte) bool {
	return utf8.Valid(data)
}

// Classify returns the kind of an inbound payload.
func Classify(payload string) Kind {
	switch {
	case strings.EqualFold(payload, MarkerJoin):
		return KindJoin
	case strings.EqualFold(payload, MarkerQuit):
		return KindLeave
	default:
		return KindChat
	}
}

// IsQuit reports whether a payload is the quit marker.
func IsQuit(payload string) bool {
	return strings.EqualFold(payload, MarkerQuit)
}

// IsNicknameTaken reports whether a relay reply is the rejection marker.
func IsNicknameTaken(payload string) bool {
	return strings.EqualFold(payload, MarkerNicknameTaken)
}

// ChatLine formats a relayed chat message.
func ChatLine(nickname, payload string) string {
	return nickname + " > " + payload
}

// WelcomeNotice is sent privately to a newly joined participant.
func WelcomeNotice(nickname string) string {
	return fmt.Sprintf("Welcome %s! If you ever want to quit, type '{quit}' within the chat client to exit.", nickname)
}

// JoinAnnouncement is sent to everyone else when a participant joins.
func JoinAnnouncement(nickname string) string {
	return nickname + " has joined the chat!"
}
