package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/carebridge/carebridge/internal/agents"
)

const agentSystemPrompt = `You are a clinic scheduling assistant.
Use the tools to look up doctors and free slots. When the patient asks to
book, call propose_booking with the chosen doctor and time; the booking
is confirmed elsewhere, never promise it is committed. Keep replies short.`

// maxToolSteps bounds the tool-calling loop per turn.
const maxToolSteps = 6

// Agent is the scheduling responder: an OpenAI function-calling loop over
// the scheduling tools. It can look up doctors and slots and propose a
// booking, but the committing tool is deliberately not in its tool list.
type Agent struct {
	api     *openai.Client
	model   string
	invoker agents.ToolInvoker
}

var _ agents.Responder = (*Agent)(nil)

// NewAgent creates the scheduling responder.
func NewAgent(apiKey, model string, invoker agents.ToolInvoker) *Agent {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Agent{api: openai.NewClient(apiKey), model: model, invoker: invoker}
}

// toolDefinitions describes the tools exposed to the model.
// book_appointment is intentionally absent.
func toolDefinitions() []openai.Tool {
	object := func(props map[string]any, required ...string) json.RawMessage {
		schema := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			schema["required"] = required
		}
		b, _ := json.Marshal(schema)
		return b
	}

	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolListDoctors,
				Description: "List the clinic's doctors and their specialties.",
				Parameters:  object(map[string]any{}),
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolListFreeSlots,
				Description: "List a doctor's free appointment slots.",
				Parameters: object(map[string]any{
					"doctor": map[string]any{"type": "string"},
				}, "doctor"),
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolProposeBooking,
				Description: "Propose booking a doctor at a given time. The patient must confirm before anything is committed.",
				Parameters: object(map[string]any{
					"doctor":  map[string]any{"type": "string"},
					"time":    map[string]any{"type": "string"},
					"patient": map[string]any{"type": "string"},
					"reason":  map[string]any{"type": "string"},
				}, "doctor", "time"),
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolCancelAppointment,
				Description: "Cancel an existing appointment by its ID.",
				Parameters: object(map[string]any{
					"appointment_id": map[string]any{"type": "string"},
				}, "appointment_id"),
			},
		},
	}
}

// Respond implements agents.Responder.
func (a *Agent) Respond(ctx context.Context, input, recentContext string) (agents.Response, error) {
	user := input
	if recentContext != "" {
		user = "Recent conversation:\n" + recentContext + "\n\nCurrent message: " + input
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: agentSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: user},
	}

	var results []agents.ToolResult

	for step := 0; step < maxToolSteps; step++ {
		resp, err := a.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    a.model,
			Messages: messages,
			Tools:    toolDefinitions(),
		})
		if err != nil {
			return agents.Response{}, fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return agents.Response{}, fmt.Errorf("chat completion: no choices returned")
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return agents.Response{
				Text:        msg.Content,
				Confidence:  1.0,
				ToolResults: results,
			}, nil
		}

		messages = append(messages, msg)

		for _, call := range msg.ToolCalls {
			payload, err := a.invoker.Invoke(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
			if err != nil {
				return agents.Response{}, fmt.Errorf("tool %s: %w", call.Function.Name, err)
			}

			results = append(results, agents.ToolResult{
				Name:    call.Function.Name,
				Payload: payload,
			})
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    string(payload),
			})
		}
	}

	return agents.Response{}, fmt.Errorf("tool loop exceeded %d steps", maxToolSteps)
}
