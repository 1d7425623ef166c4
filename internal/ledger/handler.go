package ledger

import (
	"errors"
	"net/http"
	"strings"

	"papertrade/internal/httputil"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request, userID string) {
	bal := h.svc.Balance(r.Context(), userID)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"balance": bal.String()})
}

type transferRequest struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, amount, ok := h.readTransfer(w, r)
	if !ok {
		return
	}
	bal, err := h.svc.Deposit(r.Context(), userID, amount)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"balance": bal.String()})
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, amount, ok := h.readTransfer(w, r)
	if !ok {
		return
	}
	bal, err := h.svc.Withdraw(r.Context(), userID, amount)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrInsufficientBalance) {
			status = http.StatusConflict
		}
		httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"balance": bal.String()})
}

func (h *Handler) readTransfer(w http.ResponseWriter, r *http.Request) (string, decimal.Decimal, bool) {
	var req transferRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return "", decimal.Zero, false
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "user_id is required"})
		return "", decimal.Zero, false
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid amount"})
		return "", decimal.Zero, false
	}
	return userID, amount, true
}
