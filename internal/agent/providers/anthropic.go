// Package providers implements AI provider integrations for the Coday agent
// runtime.
//
// This package provides implementations of the agent.Provider interface for
// Anthropic's Claude and OpenAI's GPT models. Each provider consumes its SDK's
// streaming API internally and returns one assembled agent.Completion per
// call: the runtime's contract is iteration-based, so partial tokens are never
// surfaced, only whole assistant turns.
//
// Providers translate the thread's event log into the provider-native message
// shape:
//   - Message events become user/assistant text messages
//   - ToolRequest events become the provider's tool invocation form
//   - ToolResponse events become the provider's tool result form
//
// Transient failures are returned as errors, not retried here. The agent loop
// surfaces them to the session, where the user decides whether to re-ask.
//
// Example Usage:
//
//	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	completion, err := provider.Complete(ctx, &agent.CompletionRequest{
//	    Model:     provider.DefaultModel(agent.SizeBig),
//	    System:    "You are a helpful assistant.",
//	    Messages:  []events.Event{events.NewUserMessage("alice", "Hello!")},
//	    MaxTokens: 1024,
//	})
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/coday-ai/coday/internal/agent"
	"github.com/coday-ai/coday/internal/usage"
	"github.com/coday-ai/coday/pkg/events"
)

const (
	defaultAnthropicBigModel   = "claude-sonnet-4-20250514"
	defaultAnthropicSmallModel = "claude-3-5-haiku-20241022"

	// fallbackMaxTokens guards direct callers; the runtime always sets a limit.
	fallbackMaxTokens = 4096
)

// maxEmptyStreamEvents is the maximum number of consecutive empty events before
// treating the stream as malformed. This protects against streams that flood
// with empty events, which could otherwise cause excessive CPU usage and
// memory pressure.
const maxEmptyStreamEvents = 300

// AnthropicProvider implements the agent.Provider interface for Anthropic's
// Claude API. It converts the thread event log to the Messages API format,
// consumes the SSE stream, and assembles text, tool calls, token usage, and
// the finish reason into a single completion.
//
// AnthropicProvider is safe for concurrent use across multiple goroutines.
// Each Complete() call creates an independent stream.
type AnthropicProvider struct {
	client     anthropic.Client
	bigModel   string
	smallModel string
}

// AnthropicConfig holds configuration for creating an AnthropicProvider.
// All fields except APIKey are optional.
type AnthropicConfig struct {
	// APIKey is the Anthropic API authentication key (required).
	// Format: sk-ant-api03-...
	APIKey string

	// BaseURL overrides the default Anthropic API base URL.
	BaseURL string

	// BigModel is the model used for agents sized BIG.
	// Default: "claude-sonnet-4-20250514"
	BigModel string

	// SmallModel is the model used for agents sized SMALL, such as the
	// thread summarization hook.
	// Default: "claude-3-5-haiku-20241022"
	SmallModel string
}

// NewAnthropicProvider creates a new Anthropic provider instance.
// Returns an error if the API key is empty.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.BigModel == "" {
		config.BigModel = defaultAnthropicBigModel
	}
	if config.SmallModel == "" {
		config.SmallModel = defaultAnthropicSmallModel
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:     anthropic.NewClient(options...),
		bigModel:   config.BigModel,
		smallModel: config.SmallModel,
	}, nil
}

// Name returns the provider identifier used for routing, pricing, and logging.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// DefaultModel returns the configured model for the given size class.
func (p *AnthropicProvider) DefaultModel(size agent.ModelSize) string {
	if size == agent.SizeSmall {
		return p.smallModel
	}
	return p.bigModel
}

// Complete sends one completion request to Claude and assembles the streamed
// response. The stream is consumed internally; the returned completion carries
// the full assistant text, tool calls in the order the model issued them,
// token usage, and the finish reason.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.Completion, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, *params)
	return p.assemble(stream)
}

// buildParams converts a completion request to Anthropic API parameters.
func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest) (*anthropic.MessageNewParams, error) {
	messages, err := threadToAnthropic(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = fallbackMaxTokens
	}

	params := &anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
	}

	// System prompt lives outside the message array in the Anthropic API.
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.System,
			},
		}
	}

	if len(req.Tools) > 0 {
		tools, err := anthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	return params, nil
}

// assemble consumes the SSE stream and builds the completion.
//
// Event handling:
//   - message_start: input and cache token usage
//   - content_block_start: begins a tool_use block (ID and name arrive here)
//   - content_block_delta: text_delta appends assistant text,
//     input_json_delta accumulates tool argument JSON
//   - content_block_stop: finalizes the pending tool call
//   - message_delta: output tokens and the stop reason
//   - message_stop: end of response
//
// Consecutive empty events are counted so a malformed stream cannot spin the
// loop forever.
func (p *AnthropicProvider) assemble(stream *ssestream.Stream[anthropic.MessageStreamEventUnion]) (*agent.Completion, error) {
	var (
		text         strings.Builder
		toolCalls    []events.ToolCall
		pendingTool  *events.ToolCall
		pendingInput strings.Builder
		tokens       usage.Usage
		stopReason   string
	)
	emptyEventCount := 0

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			tokens.InputTokens = messageStart.Message.Usage.InputTokens
			tokens.CacheWriteTokens = messageStart.Message.Usage.CacheCreationInputTokens
			tokens.CacheReadTokens = messageStart.Message.Usage.CacheReadInputTokens
			eventProcessed = true

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				pendingTool = &events.ToolCall{
					ID:   toolUse.ID,
					Name: toolUse.Name,
				}
				pendingInput.Reset()
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					text.WriteString(delta.Text)
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					pendingInput.WriteString(delta.PartialJSON)
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if pendingTool != nil {
				args := pendingInput.String()
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				pendingTool.Args = args
				toolCalls = append(toolCalls, *pendingTool)
				pendingTool = nil
				eventProcessed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				tokens.OutputTokens = messageDelta.Usage.OutputTokens
			}
			if messageDelta.Delta.StopReason != "" {
				stopReason = string(messageDelta.Delta.StopReason)
			}
			eventProcessed = true

		case "message_stop":
			return &agent.Completion{
				Text:         text.String(),
				ToolCalls:    toolCalls,
				Usage:        tokens,
				FinishReason: anthropicFinishReason(stopReason, len(toolCalls)),
			}, nil

		case "error":
			return nil, errors.New("anthropic: stream error")
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				return nil, fmt.Errorf("anthropic: stream appears malformed: received %d consecutive empty events", emptyEventCount)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, anthropicError(err)
	}
	return nil, errors.New("anthropic: stream ended without message_stop")
}

// anthropicError normalizes a terminal stream error. A request rejected
// because the prompt outgrew the model's window is tagged with
// agent.ErrContextWindow; everything else keeps the provider prefix.
func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if msg := anthropicErrorMessage(apiErr.RawJSON()); isPromptTooLong(msg) {
			return fmt.Errorf("%w: %s", agent.ErrContextWindow, msg)
		}
	}
	return fmt.Errorf("anthropic: %w", err)
}

// anthropicErrorMessage pulls the human-readable message out of a raw API
// error body. Returns "" when the body is absent or not the documented shape.
func anthropicErrorMessage(raw string) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(raw), &payload) != nil {
		return ""
	}
	return payload.Error.Message
}

// isPromptTooLong reports whether an API error message is the context window
// overflow rejection.
func isPromptTooLong(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "prompt is too long")
}

// anthropicFinishReason maps the API's stop reason to the runtime's finish
// reason vocabulary.
func anthropicFinishReason(stopReason string, toolCallCount int) agent.FinishReason {
	switch stopReason {
	case "max_tokens":
		return agent.FinishMaxTokens
	case "tool_use":
		return agent.FinishToolUse
	}
	if toolCallCount > 0 {
		return agent.FinishToolUse
	}
	return agent.FinishStop
}

// threadToAnthropic converts thread events to Anthropic message parameters.
//
// The translation is per event: a ToolRequest becomes an assistant message
// holding one tool_use block, a ToolResponse a user message holding one
// tool_result block. The API merges consecutive same-role messages into a
// single turn, so parallel tool rounds remain valid.
func threadToAnthropic(evs []events.Event) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, ev := range evs {
		switch ev.Type {
		case events.TypeMessage:
			if ev.Content == "" {
				continue
			}
			block := anthropic.NewTextBlock(ev.Content)
			if ev.Role == events.RoleAssistant {
				result = append(result, anthropic.NewAssistantMessage(block))
			} else {
				result = append(result, anthropic.NewUserMessage(block))
			}

		case events.TypeToolRequest:
			var input map[string]any
			args := ev.Args
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			if err := json.Unmarshal([]byte(args), &input); err != nil {
				return nil, fmt.Errorf("invalid tool call args for %s: %w", ev.Name, err)
			}
			result = append(result, anthropic.NewAssistantMessage(
				anthropic.NewToolUseBlock(ev.ToolRequestID, input, ev.Name),
			))

		case events.TypeToolResponse:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(ev.ToolRequestID, ev.Output, false),
			))
		}
	}

	return result, nil
}

// anthropicTools converts tool schemas to Anthropic tool parameters.
func anthropicTools(tools []agent.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)

		result = append(result, toolParam)
	}

	return result, nil
}
