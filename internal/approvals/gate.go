package approvals

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/workflu/workflu/internal/platform/httpx"
	"github.com/workflu/workflu/internal/shared"
)

// DeferralCounter counts gated mutations per machine-readable reason code.
type DeferralCounter interface {
	CountGuardRejection(reason string)
}

// Gate intercepts gated mutations and defers them pending a human decision.
type Gate struct {
	service *Service
	logger  *slog.Logger
	metrics DeferralCounter
}

// NewGate constructs a Gate.
func NewGate(service *Service, logger *slog.Logger) *Gate {
	return &Gate{service: service, logger: logger}
}

// SetMetrics wires the deferral counter. Optional.
func (g *Gate) SetMetrics(m DeferralCounter) {
	g.metrics = m
}

type deferredBody struct {
	Message    string `json:"message"`
	Code       string `json:"error"`
	ApprovalID string `json:"approvalId"`
	Status     Status `json:"status"`
}

// RequireApproval wraps a route. Exempt requests pass straight through;
// everything else is frozen into a pending approval and answered with 202
// without ever invoking the underlying handler. amountField names the body
// field carrying the monetary amount used for the threshold check.
func (g *Gate) RequireApproval(op OperationType, amountField string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := shared.ActorFromContext(r.Context())
			if actor == nil {
				httpx.Error(w, http.StatusUnauthorized, "authentication required", httpx.CodeUnauthenticated)
				return
			}

			payload, amount, err := g.capture(r, amountField)
			if err != nil {
				g.logger.Error("approval gate read body", slog.Any("error", err))
				httpx.Error(w, http.StatusBadRequest, "invalid request body", httpx.CodeValidation)
				return
			}

			if g.service.Exempt(actor, op, amount) {
				next.ServeHTTP(w, r)
				return
			}

			approval, err := g.service.Submit(r.Context(), op, actor, payload, amount)
			if err != nil {
				if errors.Is(err, ErrDuplicatePending) && approval.ID != uuid.Nil {
					httpx.JSON(w, http.StatusConflict, deferredBody{
						Message:    "An identical operation is already awaiting approval",
						Code:       httpx.CodeApprovalConflict,
						ApprovalID: approval.ID.String(),
						Status:     approval.Status,
					})
					return
				}
				g.logger.Error("approval gate submit", slog.String("operation", string(op)), slog.Any("error", err))
				httpx.Error(w, http.StatusInternalServerError, "approval submission failed", httpx.CodeInternal)
				return
			}

			if g.metrics != nil {
				g.metrics.CountGuardRejection(httpx.CodeApprovalPending)
			}
			httpx.JSON(w, http.StatusAccepted, deferredBody{
				Message:    "Operation deferred pending approval",
				Code:       httpx.CodeApprovalPending,
				ApprovalID: approval.ID.String(),
				Status:     approval.Status,
			})
		})
	}
}

// capture snapshots the body verbatim and extracts the amount field. The body
// is restored so exempt requests reach the handler untouched.
func (g *Gate) capture(r *http.Request, amountField string) (json.RawMessage, float64, error) {
	if r.Body == nil {
		return json.RawMessage("{}"), 0, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, 0, err
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}"), 0, nil
	}
	var amount float64
	if amountField != "" {
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err == nil {
			if v, ok := body[amountField].(float64); ok {
				amount = v
			}
		}
	}
	return json.RawMessage(raw), amount, nil
}
