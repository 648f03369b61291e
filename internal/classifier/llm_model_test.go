package classifier_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taxrelay.app/relay/common/llm"
	"taxrelay.app/relay/internal/classifier"
	"taxrelay.app/relay/internal/model"
)

var _ = Describe("LLMModel", func() {
	var (
		client *mockAgentClient
		m      *classifier.LLMModel
	)

	BeforeEach(func() {
		client = &mockAgentClient{}
		m = classifier.NewLLMModel(client)
	})

	It("sends features and reads the tool call", func() {
		client.ChatWithToolsFn = func(_ context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
			Expect(req.Tools).To(HaveLen(1))
			Expect(req.Tools[0].Name).To(Equal("record_classification"))
			Expect(req.Messages).To(HaveLen(2))
			Expect(req.Messages[1].Content).To(ContainSubstring(`"direction":"credit"`))
			Expect(*req.Temperature).To(BeZero())
			return &llm.AgentResponse{ToolCalls: []llm.ToolCall{{
				ID:        "call_1",
				Name:      "record_classification",
				Arguments: `{"category":"business_income","confidence":0.87,"reason":"client invoice"}`,
			}}}, nil
		}

		pred, err := m.Predict(context.Background(), classifier.Features{"direction": "credit"})
		Expect(err).ToNot(HaveOccurred())
		Expect(pred.Category).To(Equal(model.CategoryBusinessIncome))
		Expect(pred.Confidence).To(Equal(0.87))
		Expect(pred.Reason).To(Equal("client invoice"))
	})

	It("fails when the model answers in prose", func() {
		client.ChatWithToolsFn = func(context.Context, llm.AgentRequest) (*llm.AgentResponse, error) {
			return &llm.AgentResponse{Content: "It looks like income."}, nil
		}
		_, err := m.Predict(context.Background(), classifier.Features{})
		Expect(err).To(MatchError(ContainSubstring("did not call record_classification")))
	})

	It("fails on malformed arguments", func() {
		client.ChatWithToolsFn = func(context.Context, llm.AgentRequest) (*llm.AgentResponse, error) {
			return &llm.AgentResponse{ToolCalls: []llm.ToolCall{{Name: "record_classification", Arguments: "{"}}}, nil
		}
		_, err := m.Predict(context.Background(), classifier.Features{})
		Expect(err).To(MatchError(ContainSubstring("parse tool arguments")))
	})

	It("propagates client errors", func() {
		client.ChatWithToolsFn = func(context.Context, llm.AgentRequest) (*llm.AgentResponse, error) {
			return nil, errors.New("429 too many requests")
		}
		_, err := m.Predict(context.Background(), classifier.Features{})
		Expect(err).To(MatchError(ContainSubstring("429")))
	})
})
