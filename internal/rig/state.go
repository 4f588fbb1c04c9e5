package rig

// State is a RigInstance's position in its connection/initialization
// lifecycle.
type State int

const (
	NotConnected State = iota
	Initializing
	Online
	NotResponding
	Disabled
)

func (s State) String() string {
	switch s {
	case NotConnected:
		return "not_connected"
	case Initializing:
		return "initializing"
	case Online:
		return "online"
	case NotResponding:
		return "not_responding"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}
