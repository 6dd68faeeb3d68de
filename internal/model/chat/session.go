package chat

// SessionState reports whether the widget holds a usable session.
type SessionState int

const (
	Unestablished SessionState = iota
	Active
)

func (s SessionState) String() string {
	if s == Active {
		return "active"
	}
	return "unestablished"
}

// Session is the server-issued conversation handle. Any id <= 0 means no session.
type Session struct {
	ID int64 `json:"id"`
}

// State derives the session state from its id.
func (s Session) State() SessionState {
	if s.ID > 0 {
		return Active
	}
	return Unestablished
}

// Active reports whether messages may be sent under this session.
func (s Session) Active() bool {
	return s.State() == Active
}

// Phase is the orchestrator's position in the startup sequence.
type Phase int

const (
	Bootstrapping Phase = iota
	ResolvingIdentity
	ActivatingSession
	Connected
)

func (p Phase) String() string {
	switch p {
	case ResolvingIdentity:
		return "resolving_identity"
	case ActivatingSession:
		return "activating_session"
	case Connected:
		return "connected"
	default:
		return "bootstrapping"
	}
}
