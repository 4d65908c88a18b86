package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names the kind of activity an Event records.
type Stage string

// Activity stages.
const (
	StageCycleStart   Stage = "CYCLE_START"
	StageCycleDone    Stage = "CYCLE_DONE"
	StageCheckDone    Stage = "CHECK_DONE"
	StageCheckFailed  Stage = "CHECK_FAILED"
	StageChange       Stage = "CHANGE"
	StageWarning      Stage = "WARNING"
	StageEviction     Stage = "EVICTION"
	StageCommand      Stage = "COMMAND"
	StageUnauthorized Stage = "UNAUTHORIZED"
)

// Outcome is the result of a single successful check.
type Outcome string

// Check outcomes.
const (
	OutcomeFirst       Outcome = "first"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeChanged     Outcome = "changed"
	OutcomeSuppressed  Outcome = "suppressed"
	OutcomeUndelivered Outcome = "undelivered"
)

// Event is one entry in the activity stream.
type Event struct {
	// CycleID groups events produced by one scheduler pass. Zero for
	// events that happen outside a cycle, such as commands.
	CycleID [16]byte
	TS      time.Time
	Stage   Stage
	URL     string
	// Source is the extraction path (probe or browser) for check events.
	Source string
	// Kind is the failure kind for CHECK_FAILED and eviction events.
	Kind     string
	Outcome  Outcome
	Attempts int
	// Failures is the consecutive failure count after the check.
	Failures int
	Dur      time.Duration
	ChatID   int64
	Command  string
	Note     string
	// Tally is set on CYCLE_DONE.
	Tally Tally
}

// Tally counts check results within one cycle.
type Tally struct {
	Checked int
	Changed int
	Failed  int
}

// Validate rejects events that sinks cannot interpret.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCycleStart, StageCycleDone:
		if e.CycleID == [16]byte{} {
			return errors.New("cycle events require a cycle id")
		}
	case StageCheckDone:
		if e.URL == "" {
			return errors.New("check done requires url")
		}
		if e.Outcome == "" {
			return errors.New("check done requires outcome")
		}
	case StageCheckFailed:
		if e.URL == "" || e.Kind == "" {
			return errors.New("check failed requires url and kind")
		}
	case StageChange, StageWarning, StageEviction:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StageCommand:
		if e.Command == "" {
			return errors.New("command event requires command")
		}
	case StageUnauthorized:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// CycleUUID returns the cycle id as a uuid.UUID.
func (e Event) CycleUUID() uuid.UUID {
	return uuid.UUID(e.CycleID)
}

// HasCycle reports whether the event belongs to a scheduler pass.
func (e Event) HasCycle() bool {
	return e.CycleID != [16]byte{}
}

// NewCycleID allocates a time-ordered cycle id, falling back to a random one
// when the v7 generator fails.
func NewCycleID() [16]byte {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return UUIDToBytes(id)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
