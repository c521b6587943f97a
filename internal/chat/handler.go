package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"inkwell/api/internal/store"
)

// Tool names in the wire contract.
const (
	ToolReadProjectContent   = "readProjectContent"
	ToolUpdateProjectContent = "updateProjectContent"
)

// maxSteps caps the number of model round-trips in one turn.
const maxSteps = 5

const systemPrompt = "You are a writing assistant helping the user with their project. " +
	"Use readProjectContent to see the current project text and updateProjectContent to rewrite it."

var toolDefinitions = []openai.Tool{
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        ToolReadProjectContent,
			Description: "Read the content of the project the user is currently working on",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        ToolUpdateProjectContent,
			Description: "Replace the content of the project the user is currently working on",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{
						"type":        "string",
						"description": "The full new project content",
					},
				},
				"required": []string{"content"},
			},
		},
	},
}

// Client wraps the OpenAI-compatible upstream.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient builds the upstream client. baseURL is optional and lets tests
// (and local modes) point at a different backend.
func NewClient(apiKey, model, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: model}
}

// Handler serves POST /api/chat.
type Handler struct {
	client *Client
}

func NewHandler(client *Client) *Handler {
	return &Handler{client: client}
}

type requestBody struct {
	Messages       json.RawMessage `json:"messages"`
	ProjectContent string          `json:"projectContent"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if !isJSONArray(body.Messages) {
		writeBadRequest(w, "messages must be a list")
		return
	}
	var messages []store.Message
	if err := json.Unmarshal(body.Messages, &messages); err != nil {
		writeBadRequest(w, "messages must be a list of messages")
		return
	}

	stream := NewStreamWriter(w)
	if err := h.runTurn(r.Context(), stream, messages, body.ProjectContent); err != nil {
		if stream.Started() {
			// Headers are gone; the error becomes a terminal stream event.
			if sendErr := stream.Send(Event{Type: EventError, Error: err.Error()}); sendErr != nil {
				log.Printf("chat: send error event: %v", sendErr)
			}
			return
		}
		writeUpstreamError(w, err)
	}
}

// runTurn drives the model conversation, executing readProjectContent
// server-side and handing updateProjectContent to the consumer as a pending
// part. It returns an error only for failures that were not streamed.
func (h *Handler) runTurn(ctx context.Context, stream *StreamWriter, messages []store.Message, projectContent string) error {
	conv := toModelMessages(messages)

	for step := 0; step < maxSteps; step++ {
		calls, err := h.streamStep(ctx, stream, &conv)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			return stream.Send(Event{Type: EventFinish, Reason: FinishStop})
		}

		pending := false
		var toolMsgs []openai.ChatCompletionMessage
		for _, call := range calls {
			input := json.RawMessage(call.args)
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			if err := stream.Send(Event{Type: EventToolCall, ToolName: call.name, CallID: call.id, Input: input}); err != nil {
				return err
			}
			switch call.name {
			case ToolReadProjectContent:
				output, _ := json.Marshal(map[string]string{"content": projectContent})
				if err := stream.Send(Event{Type: EventToolOutput, CallID: call.id, Output: output}); err != nil {
					return err
				}
				toolMsgs = append(toolMsgs, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: call.id,
					Content:    string(output),
				})
			case ToolUpdateProjectContent:
				// Executed by the consumer; the turn ends here and resumes
				// on the next request with the output filled in.
				pending = true
			default:
				output, _ := json.Marshal(map[string]any{"success": false, "message": "unknown tool " + call.name})
				if err := stream.Send(Event{Type: EventToolOutput, CallID: call.id, Output: output}); err != nil {
					return err
				}
				toolMsgs = append(toolMsgs, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: call.id,
					Content:    string(output),
				})
			}
		}
		if pending {
			return stream.Send(Event{Type: EventFinish, Reason: FinishToolCalls})
		}
		conv = append(conv, toolMsgs...)
	}
	return stream.Send(Event{Type: EventFinish, Reason: FinishStop})
}

type accumulatedCall struct {
	index int
	id    string
	name  string
	args  string
}

// streamStep runs one model call, forwarding deltas, and returns the tool
// calls the model finished with (empty on a plain text stop). The assistant
// message is appended to conv so a follow-up step sees it.
func (h *Handler) streamStep(ctx context.Context, stream *StreamWriter, conv *[]openai.ChatCompletionMessage) ([]accumulatedCall, error) {
	upstream, err := h.client.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    h.client.model,
		Messages: *conv,
		Tools:    toolDefinitions,
	})
	if err != nil {
		return nil, fmt.Errorf("create completion stream: %w", err)
	}
	defer upstream.Close()

	var text strings.Builder
	type builder struct {
		id   string
		name string
		args strings.Builder
	}
	calls := make(map[int]*builder)

	for {
		resp, err := upstream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read completion stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if err := stream.Send(Event{Type: EventTextDelta, Delta: delta.Content}); err != nil {
				return nil, err
			}
		}
		if delta.ReasoningContent != "" {
			if err := stream.Send(Event{Type: EventReasoningDelta, Delta: delta.ReasoningContent}); err != nil {
				return nil, err
			}
		}
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			b, ok := calls[index]
			if !ok {
				b = &builder{}
				calls[index] = b
			}
			if tc.ID != "" {
				b.id = tc.ID
			}
			if tc.Function.Name != "" {
				b.name = tc.Function.Name
			}
			b.args.WriteString(tc.Function.Arguments)
		}
	}

	ordered := make([]accumulatedCall, 0, len(calls))
	for index, b := range calls {
		ordered = append(ordered, accumulatedCall{index: index, id: b.id, name: b.name, args: b.args.String()})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].index < ordered[j].index })

	assistant := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text.String()}
	for _, call := range ordered {
		assistant.ToolCalls = append(assistant.ToolCalls, openai.ToolCall{
			ID:   call.id,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.name,
				Arguments: call.args,
			},
		})
	}
	*conv = append(*conv, assistant)
	return ordered, nil
}

// toModelMessages flattens stored messages into the upstream wire format.
// Tool-call parts with outputs become assistant tool_calls plus tool-role
// results, which is how a resumed turn replays its executed calls.
func toModelMessages(messages []store.Message) []openai.ChatCompletionMessage {
	out := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: systemPrompt}}
	for _, msg := range messages {
		var text strings.Builder
		for _, part := range msg.Parts {
			if part.Type == store.PartText {
				text.WriteString(part.Text)
			}
		}

		if msg.Role != store.RoleAssistant {
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text.String()})
			continue
		}

		assistant := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text.String()}
		var toolMsgs []openai.ChatCompletionMessage
		for _, part := range msg.Parts {
			if part.Type != store.PartToolCall {
				continue
			}
			args := string(part.Input)
			if args == "" {
				args = "{}"
			}
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ToolCall{
				ID:   part.CallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      part.ToolName,
					Arguments: args,
				},
			})
			if part.State == store.ToolStateOutputAvailable {
				toolMsgs = append(toolMsgs, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: part.CallID,
					Content:    string(part.Output),
				})
			}
		}
		out = append(out, assistant)
		out = append(out, toolMsgs...)
	}
	return out
}

func isJSONArray(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

func writeBadRequest(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "failed to run model call",
		"details": err.Error(),
	})
}
