package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taxrelay.app/relay/internal/http/dto"
	"taxrelay.app/relay/internal/http/handler/webhook"
	"taxrelay.app/relay/internal/model"
	"taxrelay.app/relay/internal/retry"
	"taxrelay.app/relay/internal/service"
	"taxrelay.app/relay/internal/signature"
)

type mockIngestService struct {
	ingestFn func(ctx context.Context, d service.Delivery) (*service.IngestResult, error)
	calls    []service.Delivery
}

func (m *mockIngestService) Ingest(ctx context.Context, d service.Delivery) (*service.IngestResult, error) {
	m.calls = append(m.calls, d)
	if m.ingestFn != nil {
		return m.ingestFn(ctx, d)
	}
	return &service.IngestResult{Outcome: service.OutcomeAccepted}, nil
}

var _ = Describe("DeliveryHandler", func() {
	var (
		router *gin.Engine
		svc    *mockIngestService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		svc = &mockIngestService{}
		h := webhook.NewDeliveryHandler(svc, 64)
		router.POST("/webhooks/:source", h.HandleDelivery)
	})

	post := func(source, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/"+source, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Paystack-Signature", "abc")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("hands the raw body and headers to the service", func() {
		svc.ingestFn = func(_ context.Context, d service.Delivery) (*service.IngestResult, error) {
			return &service.IngestResult{
				Outcome: service.OutcomeAccepted,
				Event:   model.InboundEvent{DeliveryID: "d-1", EventID: "E1", RawEventType: "payment.success"},
				Line:    &model.NormalizedInvoiceLine{LineID: "inv_1"},
			}, nil
		}

		w := post("paystack", `{"id":"E1"}`)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(svc.calls).To(HaveLen(1))
		Expect(svc.calls[0].Source).To(Equal("paystack"))
		Expect(string(svc.calls[0].Payload)).To(Equal(`{"id":"E1"}`))
		Expect(svc.calls[0].Headers.Get("X-Paystack-Signature")).To(Equal("abc"))

		var resp dto.DeliveryResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Status).To(Equal("accepted"))
		Expect(resp.LineID).To(Equal("inv_1"))
		Expect(*resp.NeedsReview).To(BeFalse())
	})

	DescribeTable("acknowledges terminal outcomes with 200",
		func(outcome service.Outcome) {
			svc.ingestFn = func(context.Context, service.Delivery) (*service.IngestResult, error) {
				return &service.IngestResult{Outcome: outcome}, nil
			}
			w := post("paystack", `{}`)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(string(outcome)))
		},
		Entry("duplicate", service.OutcomeDuplicate),
		Entry("unhandled", service.OutcomeUnhandled),
		Entry("dead-lettered", service.OutcomeDeadLettered),
	)

	It("answers 202 when a retry is scheduled", func() {
		next := time.Date(2026, 3, 1, 12, 0, 2, 0, time.UTC)
		svc.ingestFn = func(context.Context, service.Delivery) (*service.IngestResult, error) {
			return &service.IngestResult{
				Outcome:  service.OutcomeRetrying,
				Decision: &retry.Decision{Action: retry.ActionRetry, NextRetryAt: next, AttemptCount: 1},
			}, nil
		}

		w := post("paystack", `{}`)
		Expect(w.Code).To(Equal(http.StatusAccepted))

		var resp dto.DeliveryResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Attempt).To(Equal(1))
		Expect(resp.NextRetryAt).To(Equal("2026-03-01T12:00:02Z"))
	})

	DescribeTable("maps service errors",
		func(err error, status int, body string) {
			svc.ingestFn = func(context.Context, service.Delivery) (*service.IngestResult, error) {
				return &service.IngestResult{Outcome: service.OutcomeRejected}, err
			}
			w := post("paystack", `{}`)
			Expect(w.Code).To(Equal(status))
			Expect(w.Body.String()).To(ContainSubstring(body))
		},
		Entry("signature mismatch", signature.ErrMismatch, http.StatusUnauthorized, "mismatch"),
		Entry("expired signature", fmt.Errorf("%w: skew 6m", signature.ErrExpired), http.StatusUnauthorized, "expired"),
		Entry("missing headers", signature.ErrMissingHeaders, http.StatusUnauthorized, "missing_headers"),
		Entry("unknown source", fmt.Errorf("%w: %q", service.ErrUnknownSource, "x"), http.StatusNotFound, "unknown source"),
		Entry("dedup down", service.ErrDedupUnavailable, http.StatusServiceUnavailable, "temporarily unavailable"),
		Entry("anything else", errors.New("boom"), http.StatusInternalServerError, "failed to ingest delivery"),
	)

	It("rejects empty and oversized bodies before calling the service", func() {
		Expect(post("paystack", "").Code).To(Equal(http.StatusBadRequest))
		Expect(post("paystack", strings.Repeat("x", 65)).Code).To(Equal(http.StatusRequestEntityTooLarge))
		Expect(svc.calls).To(BeEmpty())
	})
})
