// Package fsm is the recognition session transition table.
package fsm

import (
	"fmt"

	"github.com/rbright/vcd/internal/vcerr"
)

type State string

type Event string

const (
	StateNone       State = "none"
	StateReady      State = "ready"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
)

const (
	EventInitialize Event = "initialize"
	EventStart      Event = "start"
	EventStop       Event = "stop"
	EventCancel     Event = "cancel"
	EventResult     Event = "result"
	EventRestart    Event = "restart"
	EventShutdown   Event = "shutdown"
)

// Transition returns the state reached by applying event to current. Illegal pairs return
// current unchanged and an error wrapping vcerr.ErrInvalidState.
func Transition(current State, event Event) (State, error) {
	if event == EventShutdown {
		return StateNone, nil
	}

	switch current {
	case StateNone:
		switch event {
		case EventInitialize:
			return StateReady, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateReady:
		switch event {
		case EventStart:
			return StateRecording, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventStop:
			return StateProcessing, nil
		case EventCancel:
			return StateReady, nil
		case EventRestart:
			// continuous recognition re-arms without leaving recording
			return StateRecording, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateProcessing:
		switch event {
		case EventResult, EventCancel:
			return StateReady, nil
		case EventRestart:
			return StateRecording, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q: %w", current, vcerr.ErrInvalidState)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?: %w", state, event, vcerr.ErrInvalidState)
}
