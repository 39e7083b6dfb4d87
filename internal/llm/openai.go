package llm

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider using the OpenAI Chat Completions API.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider creates a provider with the given API key and default model.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *OpenAIProvider) Name() string {
	return VendorOpenAI
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(chooseModel(req.Model, p.model)),
			Messages: buildOpenAIMessages(req.Messages),
			StreamOptions: openai.ChatCompletionStreamOptionsParam{
				IncludeUsage: openai.Bool(true),
			},
		}
		if tools := buildOpenAITools(req.Tools); len(tools) > 0 {
			params.Tools = tools
		}
		if req.MaxOutputTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
		}

		toolState := newToolCallState()
		var lastUsage *Usage

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				lastUsage = &Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					events <- Event{Type: EventTextDelta, Text: choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					toolState.Add(int(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)
				}
			}
		}
		if err := stream.Err(); err != nil {
			return &UpstreamError{Provider: VendorOpenAI, Err: err}
		}

		for _, call := range toolState.Calls() {
			call := call
			events <- Event{Type: EventToolCall, Tool: &call}
		}
		if lastUsage != nil {
			events <- Event{Type: EventUsage, Use: lastUsage}
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	var result []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if text := collectTextParts(msg.Parts); text != "" {
				result = append(result, openai.SystemMessage(text))
			}
		case RoleUser:
			if text := collectTextParts(msg.Parts); text != "" {
				result = append(result, openai.UserMessage(text))
			}
		case RoleAssistant:
			text, toolCalls := splitAssistantParts(msg.Parts)
			if len(toolCalls) > 0 {
				assistant := openai.ChatCompletionAssistantMessageParam{
					ToolCalls: toolCalls,
				}
				if text != "" {
					assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(text),
					}
				}
				result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
				continue
			}
			if text != "" {
				result = append(result, openai.AssistantMessage(text))
			}
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type != PartToolResult || part.ToolResult == nil {
					continue
				}
				result = append(result, openai.ToolMessage(part.ToolResult.Content, part.ToolResult.ID))
			}
		}
	}
	return result
}

func splitAssistantParts(parts []Part) (string, []openai.ChatCompletionMessageToolCallParam) {
	var texts []string
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: part.ToolCall.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      part.ToolCall.Name,
					Arguments: string(part.ToolCall.Arguments),
				},
			})
		}
	}
	return strings.Join(texts, ""), toolCalls
}

func buildOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		fn := openai.FunctionDefinitionParam{
			Name:       spec.Name,
			Parameters: openai.FunctionParameters(normalizeSchemaForOpenAI(spec.Schema)),
		}
		if spec.Description != "" {
			fn.Description = openai.String(spec.Description)
		}
		tools = append(tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return tools
}

// toolCallState assembles streamed tool calls whose arguments arrive as
// fragments keyed by choice index.
type toolCallState struct {
	byIndex map[int]*partialToolCall
	order   []int
}

type partialToolCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallState() *toolCallState {
	return &toolCallState{byIndex: make(map[int]*partialToolCall)}
}

func (s *toolCallState) Add(index int, id, name, args string) {
	state, ok := s.byIndex[index]
	if !ok {
		state = &partialToolCall{}
		s.byIndex[index] = state
		s.order = append(s.order, index)
	}
	if id != "" {
		state.id = id
	}
	if name != "" {
		state.name = name
	}
	if args != "" {
		state.args.WriteString(args)
	}
}

func (s *toolCallState) Calls() []ToolCall {
	if len(s.order) == 0 {
		return nil
	}
	sort.Ints(s.order)
	calls := make([]ToolCall, 0, len(s.order))
	for _, idx := range s.order {
		state := s.byIndex[idx]
		if state == nil {
			continue
		}
		calls = append(calls, ToolCall{
			ID:        state.id,
			Name:      state.name,
			Arguments: json.RawMessage(state.args.String()),
		})
	}
	return calls
}

// normalizeSchemaForOpenAI ensures schema meets OpenAI's strict requirements:
// - 'required' must include every key in properties
// - 'additionalProperties' must be false
// - unsupported 'format' values must be removed
func normalizeSchemaForOpenAI(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return schema
	}
	return normalizeSchemaRecursive(deepCopyMap(schema))
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]interface{}:
			result[k] = deepCopyMap(val)
		case []interface{}:
			result[k] = deepCopySlice(val)
		default:
			result[k] = v
		}
	}
	return result
}

func deepCopySlice(s []interface{}) []interface{} {
	if s == nil {
		return nil
	}
	result := make([]interface{}, len(s))
	for i, v := range s {
		switch val := v.(type) {
		case map[string]interface{}:
			result[i] = deepCopyMap(val)
		case []interface{}:
			result[i] = deepCopySlice(val)
		default:
			result[i] = v
		}
	}
	return result
}

func normalizeSchemaRecursive(schema map[string]interface{}) map[string]interface{} {
	if format, ok := schema["format"].(string); ok {
		switch format {
		case "date-time", "date", "time", "email":
			// Supported by OpenAI strict mode.
		default:
			delete(schema, "format")
		}
	}

	if props, ok := schema["properties"].(map[string]interface{}); ok && len(props) > 0 {
		for key, val := range props {
			if propSchema, ok := val.(map[string]interface{}); ok {
				props[key] = normalizeSchemaRecursive(propSchema)
			}
		}
		required := make([]string, 0, len(props))
		for key := range props {
			required = append(required, key)
		}
		sort.Strings(required)
		schema["required"] = required
	}

	if items, ok := schema["items"].(map[string]interface{}); ok {
		schema["items"] = normalizeSchemaRecursive(items)
	}

	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if arr, ok := schema[key].([]interface{}); ok {
			for i, item := range arr {
				if itemSchema, ok := item.(map[string]interface{}); ok {
					arr[i] = normalizeSchemaRecursive(itemSchema)
				}
			}
		}
	}

	// additionalProperties that is already a schema map (a free-form map type)
	// stays; everything else becomes false as strict mode requires.
	if schema["type"] == "object" || schema["properties"] != nil {
		if _, isSchemaMap := schema["additionalProperties"].(map[string]interface{}); !isSchemaMap {
			schema["additionalProperties"] = false
		}
	}

	return schema
}
