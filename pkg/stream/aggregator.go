package stream

import (
	"log/slog"
	"sync"

	"github.com/choraleia/chathub/pkg/models"
	"github.com/choraleia/chathub/pkg/utils"
	"github.com/google/uuid"
)

// Message is the aggregator's view of an AI message being generated.
type Message struct {
	ID                string
	PreviousMessageID *string
	RetryOfMessageID  *string
	Content           string
	Status            string
}

// Hooks persist message lifecycle transitions. Every message passed to
// OnBegin later receives exactly one of OnEnd or OnError.
type Hooks struct {
	OnBegin func(msg Message) error
	OnItem  func(msg Message, chunk StructuredChunk)
	OnEnd   func(msg Message) error
	OnError func(msg Message, errText string) error
}

type keyState int

const (
	stateIdle keyState = iota
	stateOpen
	stateClosed
)

type runKey struct {
	nodeID   string
	runIndex int
}

type entry struct {
	state keyState
	msg   Message
}

// ErrStreamInterrupted is the error text recorded for messages that were
// still open when the stream ended.
const ErrStreamInterrupted = "The response was interrupted before it completed."

// Aggregator tracks one message per (nodeId, runIndex) of a single turn.
// It is safe for concurrent use: the engine writes chunks while a client
// disconnect may finalize from another goroutine.
type Aggregator struct {
	mu        sync.Mutex
	hooks     Hooks
	entries   map[runKey]*entry
	order     []runKey
	previous  *string
	retryOf   *string
	cancelled bool
	newID     func() string
	logger    *slog.Logger
}

// NewAggregator creates an aggregator for a turn replying to previousID.
// The first message opened carries retryOfID; later messages of the same
// turn chain onto the message opened before them.
func NewAggregator(previousID, retryOfID *string, hooks Hooks) *Aggregator {
	return &Aggregator{
		hooks:    hooks,
		entries:  make(map[runKey]*entry),
		previous: previousID,
		retryOf:  retryOfID,
		newID:    func() string { return uuid.New().String() },
		logger:   utils.GetLogger(),
	}
}

// Ingest applies chunk and returns the message it was attributed to.
func (a *Aggregator) Ingest(chunk StructuredChunk) Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := runKey{nodeID: chunk.Metadata.NodeID, runIndex: chunk.Metadata.RunIndex}
	e, ok := a.entries[key]
	if !ok {
		e = &entry{state: stateIdle}
		a.entries[key] = e
		a.order = append(a.order, key)
	}

	switch e.state {
	case stateClosed:
		return e.msg
	case stateIdle:
		a.open(e)
		if chunk.Type == ChunkBegin {
			return e.msg
		}
	}

	switch chunk.Type {
	case ChunkBegin:
		// First begin wins.
	case ChunkItem:
		e.msg.Content += chunk.Content
		if a.hooks.OnItem != nil {
			a.hooks.OnItem(e.msg, chunk)
		}
	case ChunkEnd:
		e.msg.Status = models.MessageStatusSuccess
		e.state = stateClosed
		a.callEnd(e.msg)
	case ChunkError:
		e.msg.Content += chunk.Content
		e.msg.Status = models.MessageStatusError
		e.state = stateClosed
		a.callError(e.msg, chunk.Content)
	default:
		a.logger.Warn("Ignoring chunk of unknown type", "type", chunk.Type, "nodeId", key.nodeID)
	}
	return e.msg
}

// MarkCancelled records that the turn was cancelled externally. Messages
// still open at FinalizeAll end as cancelled instead of failed.
func (a *Aggregator) MarkCancelled() {
	a.mu.Lock()
	a.cancelled = true
	a.mu.Unlock()
}

// FinalizeAll terminates every message that is still open. It may be called
// any number of times.
func (a *Aggregator) FinalizeAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, key := range a.order {
		e := a.entries[key]
		if e.state != stateOpen {
			continue
		}
		e.state = stateClosed
		if a.cancelled {
			e.msg.Status = models.MessageStatusCancelled
			a.callEnd(e.msg)
			continue
		}
		e.msg.Status = models.MessageStatusError
		a.callError(e.msg, ErrStreamInterrupted)
	}
}

// Messages returns snapshots of every message opened so far, in open order.
func (a *Aggregator) Messages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Message, 0, len(a.order))
	for _, key := range a.order {
		if e := a.entries[key]; e.state != stateIdle {
			out = append(out, e.msg)
		}
	}
	return out
}

func (a *Aggregator) open(e *entry) {
	e.state = stateOpen
	e.msg = Message{
		ID:                a.newID(),
		PreviousMessageID: a.previous,
		RetryOfMessageID:  a.retryOf,
		Status:            models.MessageStatusRunning,
	}
	id := e.msg.ID
	a.previous = &id
	// Only the first message of a turn is the retry; later runs chain off it.
	a.retryOf = nil

	if a.hooks.OnBegin != nil {
		if err := a.hooks.OnBegin(e.msg); err != nil {
			a.logger.Error("Failed to save AI message", "messageId", id, "error", err)
		}
	}
}

func (a *Aggregator) callEnd(msg Message) {
	if a.hooks.OnEnd == nil {
		return
	}
	if err := a.hooks.OnEnd(msg); err != nil {
		a.logger.Error("Failed to finish AI message", "messageId", msg.ID, "error", err)
	}
}

func (a *Aggregator) callError(msg Message, errText string) {
	if a.hooks.OnError == nil {
		return
	}
	if err := a.hooks.OnError(msg, errText); err != nil {
		a.logger.Error("Failed to record AI message error", "messageId", msg.ID, "error", err)
	}
}
