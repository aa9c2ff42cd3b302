package session

// State is the protocol stage of a session.
type State uint8

const (
	StateNone State = iota
	StateTest
	StateStartup
	StateAuthent
	StateRequest
	StateValid
	StateValidOther
	StateInformation
	StateData
	StateEndTransfer
	StateEndRequest
	StateError
	StateShutdown
	StateClosedChannel
)

var stateNames = [...]string{
	StateNone:          "NONE",
	StateTest:          "TEST",
	StateStartup:       "STARTUP",
	StateAuthent:       "AUTHENT",
	StateRequest:       "REQUEST",
	StateValid:         "VALID",
	StateValidOther:    "VALIDOTHER",
	StateInformation:   "INFORMATION",
	StateData:          "DATA",
	StateEndTransfer:   "ENDTRANSFER",
	StateEndRequest:    "ENDREQUEST",
	StateError:         "ERROR",
	StateShutdown:      "SHUTDOWN",
	StateClosedChannel: "CLOSEDCHANNEL",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// IsTerminal reports whether no further protocol step may follow.
func (s State) IsTerminal() bool {
	return s == StateError || s == StateShutdown || s == StateClosedChannel
}

// Role distinguishes the two halves of a negotiated stage: the side asked to
// validate a packet and the side that receives the validation back.
type Role uint8

const (
	RoleNone Role = iota
	RoleValidating
	RoleAcknowledging
)

// Status is a State paired with the local Role in it.
type Status struct {
	State State
	Role  Role
}

// String renders the historical state names (AUTHENTR, REQUESTD, ...).
// Stages without a role keep their plain name.
func (s Status) String() string {
	switch s.State {
	case StateAuthent, StateRequest:
		switch s.Role {
		case RoleValidating:
			return s.State.String() + "R"
		case RoleAcknowledging:
			return s.State.String() + "D"
		}
	case StateEndTransfer, StateEndRequest:
		switch s.Role {
		case RoleValidating:
			return s.State.String() + "S"
		case RoleAcknowledging:
			return s.State.String() + "R"
		}
	case StateData:
		if s.Role == RoleValidating {
			return "DATAR"
		}
	}
	return s.State.String()
}
