package server

// State is the relay's mutable session state: the nickname registry and the
// global sequence counter. It is owned by the relay loop goroutine and is
// never touched concurrently.
type State struct {
	Registry *Registry

	// Sequence advances once per accepted non-registration message from any
	// session. It drives the liveness rule.
	Sequence uint64
}

// NewState returns an empty relay state.
func NewState() *State {
	return &State{Registry: NewRegistry()}
}
