// Package httpapi is the thin HTTP glue in front of the dispatch core, implementing
// §6.1's inbound request contract with github.com/gin-gonic/gin the way the teacher's
// api/internal/api/handlers.go wires a *gin.Context per route onto explicit service
// methods. Per spec.md §1, HTTP framing/authentication are explicitly out of the core's
// scope; this package is the "external collaborator" that owns them, translating
// between wire JSON and internal/orchestrator calls.
package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexure-intelligence/momopay-orchestrator/internal/errs"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/orchestrator"
	"github.com/lexure-intelligence/momopay-orchestrator/internal/webhook"
)

// Handlers bundles the orchestrator and webhook reconciler behind gin routes.
type Handlers struct {
	orch        *orchestrator.Orchestrator
	reconciler  *webhook.Reconciler
	logger      *zap.Logger
}

func NewHandlers(orch *orchestrator.Orchestrator, reconciler *webhook.Reconciler, logger *zap.Logger) *Handlers {
	return &Handlers{orch: orch, reconciler: reconciler, logger: logger}
}

// Register attaches every §6.1 route onto router.
func (h *Handlers) Register(router *gin.Engine) {
	router.GET("/health", h.health)

	router.POST("/payments", h.initiatePayment)
	router.GET("/payments/:id", h.getPayment)
	router.POST("/payments/:id/cancel", h.cancelPayment)
	router.POST("/payments/:id/refund", h.refundPayment)

	router.POST("/webhooks/:provider_tag", h.webhookCallback)
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "momopay-orchestrator"})
}

type initiatePaymentBody struct {
	UserID         string         `json:"user_id"`
	Amount         string         `json:"amount"` // decimal string, e.g. "100.00"
	Currency       string         `json:"currency"`
	RecipientPhone string         `json:"recipient_phone"`
	RecipientName  string         `json:"recipient_name"`
	Description    string         `json:"description,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (h *Handlers) initiatePayment(c *gin.Context) {
	var body initiatePaymentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": err.Error()})
		return
	}

	amountMinor, err := parseDecimalToMinorUnits(body.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": "amount must be a decimal string with at most 2 fractional digits"})
		return
	}

	resp, err := h.orch.InitiatePayment(c.Request.Context(), orchestrator.InitiateRequest{
		UserID:         body.UserID,
		AmountMinor:    amountMinor,
		Currency:       body.Currency,
		RecipientPhone: body.RecipientPhone,
		RecipientName:  body.RecipientName,
		Description:    body.Description,
		Metadata:       body.Metadata,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) getPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": "invalid transaction id"})
		return
	}
	tx, err := h.orch.GetTransaction(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, tx)
}

type cancelBody struct {
	UserID string `json:"user_id"`
}

func (h *Handlers) cancelPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": "invalid transaction id"})
		return
	}
	var body cancelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": err.Error()})
		return
	}
	if err := h.orch.Cancel(c.Request.Context(), id, body.UserID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": id.String(), "status": "cancelled"})
}

type refundBody struct {
	Reason string `json:"reason"`
	Amount string `json:"amount,omitempty"`
}

func (h *Handlers) refundPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": "invalid transaction id"})
		return
	}
	var body refundBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": err.Error()})
		return
	}
	var amountMinor int64
	if body.Amount != "" {
		amountMinor, err = parseDecimalToMinorUnits(body.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "detail": "amount must be a decimal string"})
			return
		}
	}
	refund, err := h.orch.Refund(c.Request.Context(), id, body.Reason, amountMinor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, refund)
}

func (h *Handlers) webhookCallback(c *gin.Context) {
	providerTag := c.Param("provider_tag")
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}
	headers := make(map[string]string, len(c.Request.Header))
	for k := range c.Request.Header {
		headers[k] = c.Request.Header.Get(k)
	}

	outcome, err := h.reconciler.Handle(c.Request.Context(), providerTag, payload, headers)
	if err != nil {
		h.logger.Error("webhook processing error", zap.String("provider_tag", providerTag), zap.Error(err))
	}
	// §4.8 step 6: acknowledge 2xx as soon as processing is durable, which includes
	// "durably dropped/dead-lettered" -- the provider never needs to retry delivery
	// for a reason it cannot act on.
	c.JSON(http.StatusOK, gin.H{"outcome": string(outcome)})
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	body := gin.H{"error": kind.String()}
	if e, ok := errs.As(err); ok && e.RetryAfter > 0 {
		c.Header("Retry-After", e.RetryAfter.String())
		body["retry_after_seconds"] = e.RetryAfter.Seconds()
	}
	c.JSON(kind.HTTPStatus(), body)
}
