// Package notify turns connectivity, sync and push events into short-lived
// user-facing notices.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offline-sync-service/internal/logger"
	syncer "offline-sync-service/internal/sync"
)

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

const (
	ActionOpen    = "open"
	ActionExplore = "explore"
	ActionDismiss = "dismiss"
	ActionClose   = "close"
	ActionRetry   = "retry"
)

const defaultPushBody = "New notification"

var ErrUnknownNotice = errors.New("unknown notice")

type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type Notice struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Actions   []Action  `json:"actions,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Sink renders notices.
type Sink interface {
	Show(n Notice)
	Hide(n Notice)
}

// LogSink writes notices to the service log.
type LogSink struct{}

func (LogSink) Show(n Notice) {
	fields := []zap.Field{zap.String("id", n.ID), zap.String("message", n.Message)}
	switch n.Severity {
	case SeverityError:
		logger.Log.Error("Notice", fields...)
	case SeverityWarning:
		logger.Log.Warn("Notice", fields...)
	default:
		logger.Log.Info("Notice", append(fields, zap.String("severity", string(n.Severity)))...)
	}
}

func (LogSink) Hide(n Notice) {
	logger.Log.Debug("Notice dismissed", zap.String("id", n.ID))
}

type Options struct {
	// DisplayInterval is how long a notice without actions stays visible.
	// Zero keeps notices until dismissed.
	DisplayInterval time.Duration
	// ActionDisplayInterval is how long a notice with actions stays visible.
	// Defaults to ten times DisplayInterval.
	ActionDisplayInterval time.Duration
	Sink                  Sink
	// Retry asks for an immediate drain.
	Retry func() bool
	// Open handles the open/explore action of a notice.
	Open func(n Notice)
}

type posted struct {
	notice Notice
	timer  *time.Timer
}

// Dispatcher keeps the visible notices. Every notice hides itself after its
// display interval; notices carrying actions get the longer one.
type Dispatcher struct {
	interval       time.Duration
	actionInterval time.Duration
	sink           Sink
	retry          func() bool
	open           func(Notice)
	now            func() time.Time

	mu      sync.Mutex
	order   []string
	notices map[string]*posted
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.Sink == nil {
		opts.Sink = LogSink{}
	}
	if opts.ActionDisplayInterval <= 0 {
		opts.ActionDisplayInterval = 10 * opts.DisplayInterval
	}
	return &Dispatcher{
		interval:       opts.DisplayInterval,
		actionInterval: opts.ActionDisplayInterval,
		sink:           opts.Sink,
		retry:          opts.Retry,
		open:           opts.Open,
		now:            time.Now,
		notices:        make(map[string]*posted),
	}
}

func (d *Dispatcher) Post(severity Severity, message string, actions ...Action) Notice {
	n := Notice{
		ID:        uuid.New().String(),
		Severity:  severity,
		Message:   message,
		Actions:   actions,
		CreatedAt: d.now().UTC(),
	}
	p := &posted{notice: n}

	d.mu.Lock()
	d.notices[n.ID] = p
	d.order = append(d.order, n.ID)
	ttl := d.interval
	if len(actions) > 0 {
		ttl = d.actionInterval
	}
	if ttl > 0 {
		p.timer = time.AfterFunc(ttl, func() { d.Dismiss(n.ID) })
	}
	d.mu.Unlock()

	d.sink.Show(n)
	return n
}

// Active returns the visible notices, oldest first.
func (d *Dispatcher) Active() []Notice {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Notice, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.notices[id].notice)
	}
	return out
}

// Dismiss hides a notice. It reports false if the notice is not visible.
func (d *Dispatcher) Dismiss(id string) bool {
	d.mu.Lock()
	p, ok := d.notices[id]
	if !ok {
		d.mu.Unlock()
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(d.notices, id)
	for i, v := range d.order {
		if v == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.mu.Unlock()

	d.sink.Hide(p.notice)
	return true
}

// Select applies a notice action and hides the notice. Only open/explore and
// retry do anything beyond that; any other id just dismisses.
func (d *Dispatcher) Select(noticeID, actionID string) error {
	d.mu.Lock()
	p, ok := d.notices[noticeID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNotice, noticeID)
	}

	switch actionID {
	case ActionOpen, ActionExplore:
		if d.open != nil {
			d.open(p.notice)
		}
	case ActionRetry:
		d.RetryNow()
	}
	d.Dismiss(noticeID)
	return nil
}

// RetryNow requests an immediate drain.
func (d *Dispatcher) RetryNow() bool {
	if d.retry == nil {
		return false
	}
	return d.retry()
}

// OnConnectivityChange is a connectivity listener.
func (d *Dispatcher) OnConnectivityChange(online bool) {
	if online {
		d.Post(SeveritySuccess, "Connection restored")
		return
	}
	d.Post(SeverityWarning, "You are offline")
}

// Deferred announces a write that was queued while offline.
func (d *Dispatcher) Deferred(actionID string) {
	logger.Log.Debug("Announcing deferred write", zap.String("id", actionID))
	d.Post(SeverityInfo, "Saved, will be sent when the connection returns")
}

func (d *Dispatcher) SyncStarted(_ syncer.Reason, pending int) {
	if pending == 0 {
		return
	}
	d.Post(SeverityInfo, fmt.Sprintf("Syncing %d actions...", pending))
}

func (d *Dispatcher) SyncFinished(report syncer.BatchReport) {
	for _, r := range report.Results {
		if r.Outcome == syncer.Abandoned {
			d.Post(SeverityError, fmt.Sprintf("Dropped pending action %s after %d attempts", r.ActionID, r.Attempts))
		}
	}

	switch {
	case report.Count(syncer.Failed) > 0:
		d.Post(SeverityError, "Sync failed", Action{ID: ActionRetry, Label: "Retry now"}, Action{ID: ActionDismiss, Label: "Dismiss"})
	case report.Count(syncer.Delivered) > 0:
		d.Post(SeveritySuccess, "Data synchronized")
	}
}

type pushPayload struct {
	Body    string   `json:"body"`
	Actions []Action `json:"actions"`
}

// HandlePush posts a notice for a push message. An empty payload gets the
// default body; a payload without actions gets open and close.
func (d *Dispatcher) HandlePush(raw []byte) (Notice, error) {
	var p pushPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return Notice{}, fmt.Errorf("failed to decode push payload: %w", err)
		}
	}
	if p.Body == "" {
		p.Body = defaultPushBody
	}
	if len(p.Actions) == 0 {
		p.Actions = []Action{{ID: ActionExplore, Label: "Open"}, {ID: ActionClose, Label: "Close"}}
	}
	return d.Post(SeverityInfo, p.Body, p.Actions...), nil
}
