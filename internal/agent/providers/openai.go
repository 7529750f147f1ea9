package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/coday-ai/coday/internal/agent"
	"github.com/coday-ai/coday/internal/usage"
	"github.com/coday-ai/coday/pkg/events"
)

const (
	defaultOpenAIBigModel   = "gpt-4.1"
	defaultOpenAISmallModel = "gpt-4.1-mini"
)

// OpenAIProvider implements the agent.Provider interface for OpenAI's chat
// completions API. It streams internally and assembles one completion per
// call, accumulating tool call fragments across chunks by their index.
//
// OpenAIProvider is safe for concurrent use across multiple goroutines.
type OpenAIProvider struct {
	client     *openai.Client
	bigModel   string
	smallModel string
}

// OpenAIConfig holds configuration for creating an OpenAIProvider.
// All fields except APIKey are optional.
type OpenAIConfig struct {
	// APIKey is the OpenAI API authentication key (required).
	// Format: sk-...
	APIKey string

	// BaseURL overrides the default API base URL, for OpenAI-compatible
	// endpoints.
	BaseURL string

	// BigModel is the model used for agents sized BIG.
	// Default: "gpt-4.1"
	BigModel string

	// SmallModel is the model used for agents sized SMALL.
	// Default: "gpt-4.1-mini"
	SmallModel string
}

// NewOpenAIProvider creates a new OpenAI provider instance.
// Returns an error if the API key is empty.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.BigModel == "" {
		config.BigModel = defaultOpenAIBigModel
	}
	if config.SmallModel == "" {
		config.SmallModel = defaultOpenAISmallModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientConfig),
		bigModel:   config.BigModel,
		smallModel: config.SmallModel,
	}, nil
}

// Name returns the provider identifier used for routing, pricing, and logging.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// DefaultModel returns the configured model for the given size class.
func (p *OpenAIProvider) DefaultModel(size agent.ModelSize) string {
	if size == agent.SizeSmall {
		return p.smallModel
	}
	return p.bigModel
}

// Complete sends one completion request and assembles the streamed response.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.Completion, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    threadToOpenAI(req.Messages, req.System),
		Temperature: float32(req.Temperature),
		Stream:      true,
		// Usage arrives in a final chunk with no choices.
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = int(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = openaiTools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, openaiError(err)
	}
	defer stream.Close()

	return assembleOpenAIStream(stream)
}

// openaiError normalizes an API error. Requests rejected for exceeding the
// model's context length are tagged agent.ErrContextWindow; everything else
// keeps the provider prefix.
func openaiError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		if code == "context_length_exceeded" || strings.Contains(apiErr.Message, "maximum context length") {
			return fmt.Errorf("%w: %v", agent.ErrContextWindow, err)
		}
	}
	return fmt.Errorf("openai: %w", err)
}

// assembleOpenAIStream consumes the chunk stream and builds the completion.
//
// OpenAI streams tool calls incrementally: the first fragment for an index
// carries the ID and function name, later fragments append argument JSON.
// The index orders parallel calls, so calls are emitted sorted by it.
func assembleOpenAIStream(stream *openai.ChatCompletionStream) (*agent.Completion, error) {
	var (
		text         strings.Builder
		tokens       usage.Usage
		finishReason openai.FinishReason
	)
	pending := make(map[int]*events.ToolCall)

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, openaiError(err)
		}

		if response.Usage != nil {
			tokens.InputTokens = int64(response.Usage.PromptTokens)
			tokens.OutputTokens = int64(response.Usage.CompletionTokens)
			if response.Usage.PromptTokensDetails != nil {
				tokens.CacheReadTokens = int64(response.Usage.PromptTokensDetails.CachedTokens)
				tokens.InputTokens -= tokens.CacheReadTokens
			}
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call := pending[index]
			if call == nil {
				call = &events.ToolCall{}
				pending[index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.Args += tc.Function.Arguments
			}
		}

		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
	}

	indexes := make([]int, 0, len(pending))
	for index := range pending {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	toolCalls := make([]events.ToolCall, 0, len(pending))
	for _, index := range indexes {
		call := pending[index]
		if call.ID == "" || call.Name == "" {
			continue
		}
		if strings.TrimSpace(call.Args) == "" {
			call.Args = "{}"
		}
		toolCalls = append(toolCalls, *call)
	}

	return &agent.Completion{
		Text:         text.String(),
		ToolCalls:    toolCalls,
		Usage:        tokens,
		FinishReason: openaiFinishReason(finishReason, len(toolCalls)),
	}, nil
}

func openaiFinishReason(reason openai.FinishReason, toolCallCount int) agent.FinishReason {
	switch reason {
	case openai.FinishReasonLength:
		return agent.FinishMaxTokens
	case openai.FinishReasonToolCalls:
		return agent.FinishToolUse
	}
	if toolCallCount > 0 {
		return agent.FinishToolUse
	}
	return agent.FinishStop
}

// threadToOpenAI converts thread events to chat completion messages. The
// system prompt is injected as the first message; tool results become
// role "tool" messages linked by tool_call_id.
func threadToOpenAI(evs []events.Event, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(evs)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, ev := range evs {
		switch ev.Type {
		case events.TypeMessage:
			if ev.Content == "" {
				continue
			}
			role := openai.ChatMessageRoleUser
			if ev.Role == events.RoleAssistant {
				role = openai.ChatMessageRoleAssistant
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:    role,
				Content: ev.Content,
			})

		case events.TypeToolRequest:
			result = append(result, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{
					{
						ID:   ev.ToolRequestID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      ev.Name,
							Arguments: ev.Args,
						},
					},
				},
			})

		case events.TypeToolResponse:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    ev.Output,
				ToolCallID: ev.ToolRequestID,
			})
		}
	}

	return result
}

// openaiTools converts tool schemas to OpenAI function definitions. A schema
// that fails to parse degrades to an empty object schema so one bad tool
// cannot break function calling for the rest.
func openaiTools(tools []agent.ToolSchema) []openai.Tool {
	result := make([]openai.Tool, len(tools))

	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema, &schemaMap); err != nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}

	return result
}
