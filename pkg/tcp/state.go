package tcp

import "fmt"

// State represents the connection's position in the client-only TCP
// state machine this stack drives. There is no LISTEN, SYN_RECEIVED,
// CLOSE_WAIT, CLOSING, or LAST_ACK: this stack never accepts inbound
// connections, and a peer FIN in ESTABLISHED or FIN_WAIT_1 moves straight
// to CLOSED.
type State int

const (
	// StateClosed represents a connection that doesn't exist yet, or has
	// fully torn down.
	StateClosed State = iota

	// StateSynSent represents waiting for a SYN+ACK after sending the
	// initial SYN.
	StateSynSent

	// StateEstablished is the open, bidirectional-data state.
	StateEstablished

	// StateFinWait1 represents waiting for an ACK of a locally-sent FIN,
	// or for the peer's own FIN.
	StateFinWait1

	// StateFinWait2 represents having the local FIN acknowledged and
	// waiting for the peer's FIN.
	StateFinWait2
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateSynSent:
		return "SYN_SENT"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// CanSendData reports whether the state allows sending data.
func (s State) CanSendData() bool {
	return s == StateEstablished
}

// CanReceiveData reports whether the state allows receiving data.
func (s State) CanReceiveData() bool {
	return s == StateEstablished || s == StateFinWait1 || s == StateFinWait2
}

// Event represents an event that can trigger a state transition.
type Event int

const (
	// EventActiveOpen represents the client-initiated open (send SYN).
	EventActiveOpen Event = iota

	// EventReceiveSynAck represents receiving a SYN+ACK segment.
	EventReceiveSynAck

	// EventReceiveAck represents receiving a plain ACK segment.
	EventReceiveAck

	// EventReceiveFin represents receiving a FIN segment (with or
	// without ACK piggybacked — the engine ACKs it separately).
	EventReceiveFin

	// EventClose represents a close request from the application.
	EventClose

	// EventReceiveRst represents receiving an RST segment — valid from
	// any state, always aborts to CLOSED.
	EventReceiveRst
)

// String returns the string representation of the event.
func (e Event) String() string {
	switch e {
	case EventActiveOpen:
		return "ACTIVE_OPEN"
	case EventReceiveSynAck:
		return "RECEIVE_SYN_ACK"
	case EventReceiveAck:
		return "RECEIVE_ACK"
	case EventReceiveFin:
		return "RECEIVE_FIN"
	case EventClose:
		return "CLOSE"
	case EventReceiveRst:
		return "RECEIVE_RST"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(e))
	}
}

// StateMachine manages TCP state transitions for a single client
// connection.
type StateMachine struct {
	state State
}

// NewStateMachine creates a new TCP state machine in StateClosed.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateClosed}
}

// GetState returns the current state.
func (sm *StateMachine) GetState() State {
	return sm.state
}

// Transition attempts to transition to a new state based on an event.
// Returns an error if the transition is not valid from the current state.
func (sm *StateMachine) Transition(event Event) error {
	newState, err := sm.nextState(event)
	if err != nil {
		return err
	}

	sm.state = newState
	return nil
}

// SetState directly sets the state (use with caution).
func (sm *StateMachine) SetState(state State) {
	sm.state = state
}

// nextState determines the next state based on current state and event.
// RST aborts to CLOSED from every state.
func (sm *StateMachine) nextState(event Event) (State, error) {
	if event == EventReceiveRst {
		return StateClosed, nil
	}

	switch sm.state {
	case StateClosed:
		switch event {
		case EventActiveOpen:
			return StateSynSent, nil
		default:
			return sm.state, fmt.Errorf("invalid event %s for state %s", event, sm.state)
		}

	case StateSynSent:
		switch event {
		case EventReceiveSynAck:
			return StateEstablished, nil
		default:
			return sm.state, fmt.Errorf("invalid event %s for state %s", event, sm.state)
		}

	case StateEstablished:
		switch event {
		case EventClose:
			return StateFinWait1, nil
		case EventReceiveFin:
			// Peer closed first: this stack still ACKs and considers the
			// flow done, since it never has more to send after issuing
			// its one request.
			return StateClosed, nil
		default:
			return sm.state, nil
		}

	case StateFinWait1:
		switch event {
		case EventReceiveAck:
			return StateFinWait2, nil
		case EventReceiveFin:
			return StateClosed, nil
		default:
			return sm.state, fmt.Errorf("invalid event %s for state %s", event, sm.state)
		}

	case StateFinWait2:
		switch event {
		case EventReceiveFin:
			return StateClosed, nil
		default:
			return sm.state, fmt.Errorf("invalid event %s for state %s", event, sm.state)
		}

	default:
		return sm.state, fmt.Errorf("unknown state %s", sm.state)
	}
}
