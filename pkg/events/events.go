// Package events defines the conversational event model shared by the
// thread log, the agent runtime, and the session gateway.
package events

// Type identifies the kind of event. It doubles as the wire
// discriminator: decoders drop events whose type they do not know.
type Type string

const (
	// Conversational events. These are the only types a thread persists.
	TypeMessage      Type = "message"
	TypeToolRequest  Type = "tool_request"
	TypeToolResponse Type = "tool_response"

	// Interaction events.
	TypeInvite Type = "invite"
	TypeAnswer Type = "answer"
	TypeChoice Type = "choice"

	// Notification events.
	TypeText  Type = "text"
	TypeWarn  Type = "warn"
	TypeError Type = "error"

	// Session plumbing.
	TypeHeartBeat       Type = "heartbeat"
	TypeProjectSelected Type = "project_selected"
	TypeThreadSelected  Type = "thread_selected"
	TypeFile            Type = "file_event"
)

// Role is the conversational role of a message event.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// FileOperation describes what happened to a watched file.
type FileOperation string

const (
	FileCreated FileOperation = "created"
	FileUpdated FileOperation = "updated"
	FileDeleted FileOperation = "deleted"
)

// Event is the tagged union of everything that flows through a session.
// A single struct with a Type discriminator keeps the wire format flat;
// only the fields of the active variant are set, everything else is
// omitted from JSON and YAML.
//
// Timestamp is an ISO-8601 string and acts as the event's key: it is
// unique within a thread and lexical order equals issue order (see
// Stamper). ParentKey, when set, refers to another event's timestamp.
type Event struct {
	Type      Type   `json:"type" yaml:"type"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	ParentKey string `json:"parentKey,omitempty" yaml:"parentKey,omitempty"`

	// Message. Name is the speaker: the username for user messages,
	// the agent name for assistant messages.
	Role    Role   `json:"role,omitempty" yaml:"role,omitempty"`
	Content string `json:"content,omitempty" yaml:"content,omitempty"`

	// ToolRequest and ToolResponse, paired by ToolRequestID. Name is
	// reused as the tool name on requests. Args is the raw JSON string
	// the provider produced.
	ToolRequestID string `json:"toolRequestId,omitempty" yaml:"toolRequestId,omitempty"`
	Args          string `json:"args,omitempty" yaml:"args,omitempty"`
	Output        string `json:"output,omitempty" yaml:"output,omitempty"`

	// Name is shared by Message (speaker) and ToolRequest (tool name).
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Invite and Choice, answered by Answer via ParentKey.
	Invite           string   `json:"invite,omitempty" yaml:"invite,omitempty"`
	DefaultValue     string   `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	Options          []string `json:"options,omitempty" yaml:"options,omitempty"`
	OptionalQuestion string   `json:"optionalQuestion,omitempty" yaml:"optionalQuestion,omitempty"`
	Answer           string   `json:"answer,omitempty" yaml:"answer,omitempty"`

	// Text, Warn, Error.
	Speaker string `json:"speaker,omitempty" yaml:"speaker,omitempty"`
	Text    string `json:"text,omitempty" yaml:"text,omitempty"`
	Warning string `json:"warning,omitempty" yaml:"warning,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`

	// ProjectSelected and ThreadSelected.
	ProjectName string `json:"projectName,omitempty" yaml:"projectName,omitempty"`
	ThreadName  string `json:"threadName,omitempty" yaml:"threadName,omitempty"`

	// FileEvent.
	Operation FileOperation `json:"operation,omitempty" yaml:"operation,omitempty"`
	Filename  string        `json:"filename,omitempty" yaml:"filename,omitempty"`
	Size      int64         `json:"size,omitempty" yaml:"size,omitempty"`
}

// ToolCall is a provider-issued request to invoke a tool. Args is the
// JSON-encoded argument object exactly as the provider produced it.
type ToolCall struct {
	ID   string
	Name string
	Args string
}

// ToolResult pairs a tool's output with the request that produced it.
type ToolResult struct {
	ID     string
	Output string
}

var knownTypes = map[Type]struct{}{
	TypeMessage:         {},
	TypeToolRequest:     {},
	TypeToolResponse:    {},
	TypeInvite:          {},
	TypeAnswer:          {},
	TypeChoice:          {},
	TypeText:            {},
	TypeWarn:            {},
	TypeError:           {},
	TypeHeartBeat:       {},
	TypeProjectSelected: {},
	TypeThreadSelected:  {},
	TypeFile:            {},
}

// Known reports whether t is a type this build understands.
func Known(t Type) bool {
	_, ok := knownTypes[t]
	return ok
}

// Conversational reports whether the event belongs to the subset a
// thread persists: messages and tool request/response pairs.
func Conversational(e Event) bool {
	switch e.Type {
	case TypeMessage, TypeToolRequest, TypeToolResponse:
		return true
	}
	return false
}

// NewUserMessage builds a user message spoken by name.
func NewUserMessage(name, content string) Event {
	return Event{Type: TypeMessage, Timestamp: Now(), Role: RoleUser, Name: name, Content: content}
}

// NewAgentMessage builds an assistant message spoken by the agent name.
func NewAgentMessage(name, content string) Event {
	return Event{Type: TypeMessage, Timestamp: Now(), Role: RoleAssistant, Name: name, Content: content}
}

// NewToolRequest records a provider tool call on the wire.
func NewToolRequest(call ToolCall) Event {
	return Event{Type: TypeToolRequest, Timestamp: Now(), ToolRequestID: call.ID, Name: call.Name, Args: call.Args}
}

// NewToolResponse records a tool's output, paired to its request by id.
func NewToolResponse(res ToolResult) Event {
	return Event{Type: TypeToolResponse, Timestamp: Now(), ToolRequestID: res.ID, Output: res.Output}
}

// NewInvite asks the user a free-form question.
func NewInvite(invite, defaultValue string) Event {
	return Event{Type: TypeInvite, Timestamp: Now(), Invite: invite, DefaultValue: defaultValue}
}

// NewAnswer carries a user answer; parentKey points at the question
// event being answered, or is empty for an unsolicited message.
func NewAnswer(answer, parentKey string) Event {
	return Event{Type: TypeAnswer, Timestamp: Now(), Answer: answer, ParentKey: parentKey}
}

// NewChoice asks the user to pick one of options.
func NewChoice(options []string, invite, optionalQuestion string) Event {
	return Event{Type: TypeChoice, Timestamp: Now(), Options: options, Invite: invite, OptionalQuestion: optionalQuestion}
}

// NewText is a transient notification shown to the user but never
// persisted on the thread.
func NewText(speaker, text string) Event {
	return Event{Type: TypeText, Timestamp: Now(), Speaker: speaker, Text: text}
}

// NewWarn is a non-fatal warning.
func NewWarn(warning string) Event {
	return Event{Type: TypeWarn, Timestamp: Now(), Warning: warning}
}

// NewError carries a serialized error to the client.
func NewError(msg string) Event {
	return Event{Type: TypeError, Timestamp: Now(), Error: msg}
}

// NewHeartBeat is a keepalive signal.
func NewHeartBeat() Event {
	return Event{Type: TypeHeartBeat, Timestamp: Now()}
}

// NewProjectSelected announces the session's project context.
func NewProjectSelected(projectName string) Event {
	return Event{Type: TypeProjectSelected, Timestamp: Now(), ProjectName: projectName}
}

// NewThreadSelected announces the session's active thread.
func NewThreadSelected(threadName string) Event {
	return Event{Type: TypeThreadSelected, Timestamp: Now(), ThreadName: threadName}
}

// NewFileEvent reports a file change observed in the project workspace.
func NewFileEvent(op FileOperation, filename string, size int64) Event {
	return Event{Type: TypeFile, Timestamp: Now(), Operation: op, Filename: filename, Size: size}
}
