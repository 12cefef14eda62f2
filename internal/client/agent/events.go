package agent

import (
	"time"

	"github.com/iliyamo/brick-focus/internal/client/replica"
	"github.com/iliyamo/brick-focus/internal/config"
	"github.com/iliyamo/brick-focus/internal/model"
)

// Kind tags an event consumed by the loop.
type Kind int

const (
	RemoteChange Kind = iota
	PollTick
	TimerTick
	UserAction
	MutationDone
)

func (k Kind) String() string {
	switch k {
	case RemoteChange:
		return "remote_change"
	case PollTick:
		return "poll_tick"
	case TimerTick:
		return "timer_tick"
	case UserAction:
		return "user_action"
	case MutationDone:
		return "mutation_done"
	}
	return "unknown"
}

// Op is what a UserAction asks for.
type Op int

const (
	OpLock Op = iota
	OpUnlock
	OpToggle
	OpAddSite
	OpRemoveSite
	OpBlockedAttempt
	OpRebind
	// second half of OpRebind, posted once the old session is released
	opBind
)

// Action is the payload of a UserAction.  Reply, when set, receives the
// outcome once the action has been confirmed or rolled back.
type Action struct {
	Op       Op
	Duration *int
	Domain   string
	Icon     string
	Scope    config.Scope
	Reply    chan error
}

// Done is the payload of a MutationDone: the answer of a remote call made
// off the loop.
type Done struct {
	Focus  *replica.FocusOp
	Result model.FocusResult
	Err    error
	Reply  chan error
}

// Event is one unit of work for the loop.
type Event struct {
	Kind   Kind
	At     time.Time
	Change model.Change
	Action Action
	Done   Done
}
