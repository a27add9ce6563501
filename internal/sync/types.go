package sync

import (
	"errors"
	"fmt"
	"time"

	"offline-sync-service/internal/queue"
)

type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
	StateCooldown State = "cooldown"
)

// Reason says what woke the coordinator.
type Reason string

const (
	ReasonConnectivity Reason = "connectivity_restored"
	ReasonTimer        Reason = "timer"
	ReasonManual       Reason = "manual"
)

type Outcome string

const (
	Delivered Outcome = "delivered"
	Failed    Outcome = "failed"
	Abandoned Outcome = "abandoned"
)

// ErrAbandoned marks an action dropped after exhausting its retry budget.
var ErrAbandoned = errors.New("retry budget exhausted")

// SyncResult is the outcome of one replay attempt. It is not persisted.
type SyncResult struct {
	ActionID  string
	Kind      queue.Kind
	Outcome   Outcome
	Attempts  int
	Err       error
	Timestamp time.Time
}

func (r SyncResult) String() string {
	return fmt.Sprintf("[%s] %s (%d attempts)", r.Outcome, r.ActionID, r.Attempts)
}

// BatchReport summarizes one drain pass.
type BatchReport struct {
	Reason    Reason
	Results   []SyncResult
	Remaining int
}

func (b BatchReport) Count(o Outcome) int {
	n := 0
	for _, r := range b.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// Reporter receives drain progress. The notification dispatcher implements it.
type Reporter interface {
	SyncStarted(reason Reason, pending int)
	SyncFinished(report BatchReport)
}
