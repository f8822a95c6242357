package automation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "autoshift/internal/log"
	"autoshift/internal/model"
)

// Notifier receives progress events for a run.
type Notifier interface {
	Notify(ev model.Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ev model.Event)

func (f NotifierFunc) Notify(ev model.Event) { f(ev) }

// Prompter asks the operator to approve a run or a conflicting entry.
// Implementations must return once ctx is done.
type Prompter interface {
	ConfirmRun(ctx context.Context, req RunRequest) (bool, error)
	ConfirmConflict(ctx context.Context, occ model.Occurrence) (bool, error)
}

// ErrConfirmTimeout is returned when nobody answers a confirmation in time.
var ErrConfirmTimeout = errors.New("confirmation timed out")

// RequestKind distinguishes the questions a Broker can ask.
type RequestKind string

const (
	KindRun      RequestKind = "run"
	KindConflict RequestKind = "conflict"
)

// Request is one outstanding question.
type Request struct {
	ID         string            `json:"id"`
	Kind       RequestKind       `json:"kind"`
	Run        *RunRequest       `json:"run,omitempty"`
	Occurrence *model.Occurrence `json:"occurrence,omitempty"`
	Created    time.Time         `json:"created"`
	Deadline   time.Time         `json:"deadline,omitzero"`
}

type pendingRequest struct {
	req    Request
	answer chan bool
}

// Broker is a Prompter whose questions are answered out of band by id, e.g.
// from the HTTP API. Each question is its own future, so answers can never be
// delivered to the wrong one.
type Broker struct {
	timeout time.Duration

	mu        sync.Mutex
	pending   map[string]*pendingRequest
	onRequest func(Request)
}

// NewBroker returns a Broker whose questions expire after timeout (none if 0).
func NewBroker(timeout time.Duration) *Broker {
	return &Broker{
		timeout: timeout,
		pending: make(map[string]*pendingRequest),
	}
}

// OnRequest registers fn to be called whenever a new question is posted.
func (b *Broker) OnRequest(fn func(Request)) {
	b.mu.Lock()
	b.onRequest = fn
	b.mu.Unlock()
}

func (b *Broker) ConfirmRun(ctx context.Context, req RunRequest) (bool, error) {
	return b.ask(ctx, Request{Kind: KindRun, Run: &req})
}

func (b *Broker) ConfirmConflict(ctx context.Context, occ model.Occurrence) (bool, error) {
	return b.ask(ctx, Request{Kind: KindConflict, Occurrence: &occ})
}

func (b *Broker) ask(ctx context.Context, req Request) (bool, error) {
	req.ID = uuid.NewString()
	req.Created = time.Now()

	parent := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(parent, b.timeout, ErrConfirmTimeout)
		defer cancel()
		req.Deadline = req.Created.Add(b.timeout)
	}

	p := &pendingRequest{req: req, answer: make(chan bool, 1)}
	b.mu.Lock()
	b.pending[req.ID] = p
	hook := b.onRequest
	b.mu.Unlock()

	appLog.Info("automation: waiting for confirmation", "id", req.ID, "kind", req.Kind)
	if hook != nil {
		hook(req)
	}

	select {
	case ok := <-p.answer:
		return ok, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, req.ID)
		b.mu.Unlock()
		// An answer may have raced the deadline.
		select {
		case ok := <-p.answer:
			return ok, nil
		default:
		}
		if err := parent.Err(); err != nil {
			return false, err
		}
		return false, fmt.Errorf("%w: %s", ErrConfirmTimeout, req.ID)
	}
}

// Answer resolves the question with the given id.
func (b *Broker) Answer(id string, confirmed bool) error {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: confirmation %q", model.ErrNotFound, id)
	}
	p.answer <- confirmed
	return nil
}

// Pending lists unanswered questions, oldest first.
func (b *Broker) Pending() []Request {
	b.mu.Lock()
	out := make([]Request, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p.req)
	}
	b.mu.Unlock()
	slices.SortFunc(out, func(a, b Request) int { return a.Created.Compare(b.Created) })
	return out
}
