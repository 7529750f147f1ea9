// Package thread implements the conversation log: an ordered,
// deduplicating sequence of conversational events with durable storage
// and a per-session service that tracks the active thread.
package thread

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coday-ai/coday/pkg/events"
)

// RunStatus tracks the state of the agent loop currently driving a
// thread. Transitions: idle → running on the first iteration; running →
// completed when an iteration ends with no tool work; running → stopped
// on an external stop; running → failed on a provider error.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusStopped   RunStatus = "stopped"
	StatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusFailed:
		return true
	}
	return false
}

// Thread is an append-mostly log of conversational events. The only
// mutation besides append is the deduplication rewrite performed by
// AddToolResponses. Messages are mutated only by the loop currently
// driving the thread; Snapshot takes a consistent copy under a read
// lock for persistence and the REST surface.
type Thread struct {
	mu sync.RWMutex

	id           string
	name         string
	summary      string
	createdDate  time.Time
	modifiedDate time.Time
	price        float64
	messages     []events.Event
	runStatus    RunStatus
	stamper      *events.Stamper
}

// New creates an empty thread. An empty name defaults to "untitled".
func New(name string) *Thread {
	if name == "" {
		name = "untitled"
	}
	now := time.Now().UTC()
	return &Thread{
		id:           uuid.NewString(),
		name:         name,
		createdDate:  now,
		modifiedDate: now,
		runStatus:    StatusIdle,
		stamper:      events.NewStamper(),
	}
}

// Doc is the serialized form of a thread, used by every storage backend
// and the wire format of the thread REST surface.
type Doc struct {
	ID           string         `yaml:"id" json:"id"`
	Name         string         `yaml:"name" json:"name"`
	Summary      string         `yaml:"summary" json:"summary"`
	CreatedDate  time.Time      `yaml:"createdDate" json:"createdDate"`
	ModifiedDate time.Time      `yaml:"modifiedDate" json:"modifiedDate"`
	Price        float64        `yaml:"price,omitempty" json:"price,omitempty"`
	Messages     []events.Event `yaml:"messages" json:"messages"`
}

// FromDoc rebuilds a thread from its serialized form. Replay filters
// entries to the conversational subset in one pass; entries failing
// validation (missing timestamp, response without a prior matching
// request, unknown role) are skipped with no error.
func FromDoc(doc Doc) *Thread {
	t := &Thread{
		id:           doc.ID,
		name:         doc.Name,
		summary:      doc.Summary,
		createdDate:  doc.CreatedDate,
		modifiedDate: doc.ModifiedDate,
		price:        doc.Price,
		runStatus:    StatusIdle,
		stamper:      events.NewStamper(),
	}
	if t.id == "" {
		t.id = uuid.NewString()
	}
	if t.name == "" {
		t.name = "untitled"
	}

	seen := make(map[string]bool)
	for _, e := range doc.Messages {
		if !replayable(e, seen) {
			continue
		}
		if e.Type == events.TypeToolRequest {
			seen[e.ToolRequestID] = true
		}
		t.messages = append(t.messages, e)
		t.stamper.Observe(e.Timestamp)
	}
	return t
}

// replayable validates one serialized entry against the requests seen
// so far.
func replayable(e events.Event, requests map[string]bool) bool {
	if e.Timestamp == "" || !events.Conversational(e) {
		return false
	}
	switch e.Type {
	case events.TypeMessage:
		switch e.Role {
		case events.RoleUser, events.RoleAssistant, events.RoleSystem:
			return true
		}
		return false
	case events.TypeToolRequest:
		return e.ToolRequestID != "" && e.Name != ""
	case events.TypeToolResponse:
		return requests[e.ToolRequestID]
	}
	return false
}

// Snapshot returns a consistent copy of the thread for serialization.
func (t *Thread) Snapshot() Doc {
	t.mu.RLock()
	defer t.mu.RUnlock()

	msgs := make([]events.Event, len(t.messages))
	copy(msgs, t.messages)
	return Doc{
		ID:           t.id,
		Name:         t.name,
		Summary:      t.summary,
		CreatedDate:  t.createdDate,
		ModifiedDate: t.modifiedDate,
		Price:        t.price,
		Messages:     msgs,
	}
}

// ID returns the thread's immutable identifier.
func (t *Thread) ID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.id
}

// Name returns the thread's display name.
func (t *Thread) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name
}

// Rename changes the display name. The repository keeps the file for
// the previous name; see FileRepository.
func (t *Thread) Rename(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if name == "" {
		name = "untitled"
	}
	t.name = name
	t.modifiedDate = time.Now().UTC()
}

// Summary returns the model-generated thread summary.
func (t *Thread) Summary() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.summary
}

// SetSummary stores a model-generated summary.
func (t *Thread) SetSummary(summary string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary = summary
	t.modifiedDate = time.Now().UTC()
}

// CreatedDate returns when the thread was created.
func (t *Thread) CreatedDate() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.createdDate
}

// ModifiedDate returns when the thread last changed.
func (t *Thread) ModifiedDate() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.modifiedDate
}

// Price returns the accumulated provider cost of the thread in USD.
func (t *Thread) Price() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.price
}

// AddPrice accumulates provider cost and returns the new total.
func (t *Thread) AddPrice(delta float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.price += delta
	t.modifiedDate = time.Now().UTC()
	return t.price
}

// RunStatus returns the state of the loop driving this thread.
func (t *Thread) RunStatus() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.runStatus
}

// SetRunStatus transitions the run state. Stop signals set
// StatusStopped here; the loop checks it between tool rounds.
func (t *Thread) SetRunStatus(s RunStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runStatus = s
}

// Messages returns a copy of the conversational log.
func (t *Thread) Messages() []events.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	msgs := make([]events.Event, len(t.messages))
	copy(msgs, t.messages)
	return msgs
}

// MessageCount returns the number of logged events.
func (t *Thread) MessageCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// AddUserMessage appends a user message and returns the stored event.
func (t *Thread) AddUserMessage(name, content string) events.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.append(events.NewUserMessage(name, content))
}

// AddAgentMessage appends an assistant message spoken by the agent.
func (t *Thread) AddAgentMessage(name, content string) events.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.append(events.NewAgentMessage(name, content))
}

// AddToolCalls appends one ToolRequest per complete call, in order.
// Calls missing any of id, name, or args are skipped silently: models
// produce partial tool blocks when a response is truncated.
func (t *Thread) AddToolCalls(calls ...events.ToolCall) []events.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	var added []events.Event
	for _, call := range calls {
		if call.ID == "" || call.Name == "" || call.Args == "" {
			continue
		}
		added = append(added, t.append(events.NewToolRequest(call)))
	}
	return added
}

// AddToolResponses appends one ToolResponse per result and rewrites the
// log so at most one execution record of any (name, args) pair remains:
// providers re-issue identical tool calls after context compaction, and
// only the latest pair is worth its tokens. Results with an empty id or
// output, or without a matching prior request, are skipped.
func (t *Thread) AddToolResponses(results ...events.ToolResult) []events.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	var added []events.Event
	for _, res := range results {
		if res.ID == "" || res.Output == "" {
			continue
		}
		req, ok := t.findRequest(res.ID)
		if !ok {
			continue
		}
		t.dropDuplicatePairs(req)
		added = append(added, t.append(events.NewToolResponse(res)))
	}
	return added
}

// findRequest locates the ToolRequest with the given id.
func (t *Thread) findRequest(id string) (events.Event, bool) {
	for _, e := range t.messages {
		if e.Type == events.TypeToolRequest && e.ToolRequestID == id {
			return e, true
		}
	}
	return events.Event{}, false
}

// dropDuplicatePairs removes every ToolRequest prior to req with the
// same (name, args) but a different id, together with its paired
// ToolResponse.
func (t *Thread) dropDuplicatePairs(req events.Event) {
	stale := make(map[string]bool)
	for _, e := range t.messages {
		if e.Type != events.TypeToolRequest {
			continue
		}
		if e.ToolRequestID == req.ToolRequestID {
			break
		}
		if e.Name == req.Name && e.Args == req.Args {
			stale[e.ToolRequestID] = true
		}
	}
	if len(stale) == 0 {
		return
	}

	kept := t.messages[:0]
	for _, e := range t.messages {
		switch e.Type {
		case events.TypeToolRequest, events.TypeToolResponse:
			if stale[e.ToolRequestID] {
				continue
			}
		}
		kept = append(kept, e)
	}
	t.messages = kept
}

// append stamps and stores one event. Caller holds the write lock.
// Re-stamping through the thread's stamper keeps timestamps unique
// within the thread even when events were built in the same nanosecond.
func (t *Thread) append(e events.Event) events.Event {
	e.Timestamp = t.stamper.Next()
	t.messages = append(t.messages, e)
	t.modifiedDate = time.Now().UTC()
	return e
}
