package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"taxrelay.app/relay/common/llm"
	"taxrelay.app/relay/internal/model"
)

const recordClassificationTool = "record_classification"

const systemPrompt = `You classify financial transactions for a small business's VAT records.
Choose exactly one category:
- business_income: money received for goods or services the business sells
- business_expense: money spent on running the business
- personal: transfers or purchases unrelated to the business
- unknown: not enough information to decide
Always answer by calling record_classification. Confidence is your probability that the category is correct.`

type classificationArgs struct {
	Category   string  `json:"category" jsonschema:"enum=business_income,enum=business_expense,enum=personal,enum=unknown"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Reason     string  `json:"reason" jsonschema:"description=One short sentence explaining the decision"`
}

var classificationTool = llm.Tool{
	Name:        recordClassificationTool,
	Description: "Record the category of the transaction and how confident you are.",
	Parameters:  llm.GenerateSchemaFrom(classificationArgs{}),
}

// LLMModel is a Model backed by a tool-calling chat model.
type LLMModel struct {
	client llm.AgentClient
}

func NewLLMModel(client llm.AgentClient) *LLMModel {
	return &LLMModel{client: client}
}

func (m *LLMModel) Predict(ctx context.Context, features Features) (Prediction, error) {
	payload, err := json.Marshal(features)
	if err != nil {
		return Prediction{}, fmt.Errorf("encoding features: %w", err)
	}

	resp, err := m.client.ChatWithTools(ctx, llm.AgentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(payload)},
		},
		Tools:       []llm.Tool{classificationTool},
		Temperature: llm.Temp(0),
	})
	if err != nil {
		slog.DebugContext(ctx, "classifier model call failed", "error", err, "retryable", llm.IsRetryable(ctx, err))
		return Prediction{}, err
	}

	for _, call := range resp.ToolCalls {
		if call.Name != recordClassificationTool {
			continue
		}
		args, err := llm.ParseToolArguments[classificationArgs](call.Arguments)
		if err != nil {
			return Prediction{}, err
		}
		return Prediction{
			Category:   model.Category(args.Category),
			Confidence: args.Confidence,
			Reason:     args.Reason,
		}, nil
	}

	return Prediction{}, errors.New("model did not call " + recordClassificationTool)
}
