package reconcile

// State is the engine's view of its relationship with the room.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
	StateSynced
	StateDiverged
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateSynced:
		return "synced"
	case StateDiverged:
		return "diverged"
	}
	return "unknown"
}

// inRoom reports whether the server has accepted the join.
func (s State) inRoom() bool {
	return s == StateJoined || s == StateSynced || s == StateDiverged
}
