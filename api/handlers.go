package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/vitwit/batchpay/logger"
	"github.com/vitwit/batchpay/types"
)

// maxBody bounds a submitted roster.
const maxBody = 4 << 20

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	engine Engine
	logger logger.Logger
}

// PaymentView is a ledger record as served by the API.
type PaymentView struct {
	types.PaymentRecord
	DisplayTotal string `json:"displayTotal"`
}

func view(rec types.PaymentRecord) PaymentView {
	return PaymentView{PaymentRecord: rec, DisplayTotal: rec.DisplayTotal()}
}

// --- helpers ---

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", map[string]any{"error": err})
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := map[string]string{"error": err.Error()}
	if code := types.ErrorCode(err); code != "" {
		body["code"] = code
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", map[string]any{"error": err})
	}
	h.writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch types.ErrorCode(err) {
	case types.CodeValidation, types.CodeEncoding:
		return http.StatusUnprocessableEntity
	case types.CodeNotFound:
		return http.StatusNotFound
	case types.CodeUserRejected, types.CodeDuplicateSubmission, types.CodeInvalidTransition:
		return http.StatusConflict
	case types.CodeProviderUnavailable, types.CodePollTransport:
		return http.StatusServiceUnavailable
	case types.CodeSubmission:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- ListPayments ---

func (h *Handlers) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := parseIntDefault(q.Get("page"), 1)
	limit := parseIntDefault(q.Get("limit"), 50)

	var status types.Status
	if s := q.Get("status"); s != "" {
		status = types.Status(s)
		if !status.IsValid() {
			h.writeError(w, types.NewError(types.CodeValidation, "unknown status %q", s))
			return
		}
	}

	records, err := h.engine.History(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	filtered := make([]PaymentView, 0, len(records))
	for _, rec := range records {
		if status == "" || rec.Status == status {
			filtered = append(filtered, view(rec))
		}
	}

	total := len(filtered)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)

	h.writeJSON(w, http.StatusOK, map[string]any{
		"payments": filtered[start:end],
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

// --- GetPayment ---

func (h *Handlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.engine.Lookup(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view(rec))
}

// --- CreatePayment ---

// paymentRequest accepts {"recipients": [...]} or a bare array.
type paymentRequest struct {
	Recipients []types.Recipient `json:"recipients"`
}

func (p *paymentRequest) UnmarshalJSON(data []byte) error {
	var list []types.Recipient
	if err := json.Unmarshal(data, &list); err == nil {
		p.Recipients = list
		return nil
	}
	type plain paymentRequest
	return json.Unmarshal(data, (*plain)(p))
}

func (h *Handlers) CreatePayment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		h.writeError(w, types.WrapError(types.CodeValidation, err, "read body"))
		return
	}
	var req paymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, types.WrapError(types.CodeValidation, err, "invalid request body"))
		return
	}

	payment, err := h.engine.Pay(r.Context(), req.Recipients)
	if err != nil {
		// an unrecorded submission comes back as a plain error carrying the id
		h.writeError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/payments/"+payment.ID)
	h.writeJSON(w, http.StatusAccepted, view(payment.Record))
}

// --- RefreshPayment ---

func (h *Handlers) RefreshPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.engine.Lookup(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	res, skipped, err := h.engine.Refresh(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := map[string]any{
		"id":       id,
		"status":   res.Status,
		"skipped":  skipped,
		"receipts": res.Receipts,
	}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	h.writeJSON(w, http.StatusOK, out)
}
