package positions

import (
	"errors"
	"net/http"
	"strings"

	"papertrade/internal/httputil"
	"papertrade/internal/ledger"
	"papertrade/internal/model"
	"papertrade/internal/types"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc       *Service
	ledgerSvc *ledger.Service
}

func NewHandler(svc *Service, ledgerSvc *ledger.Service) *Handler {
	return &Handler{svc: svc, ledgerSvc: ledgerSvc}
}

type openTradeRequest struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Size       string `json:"size"`
	Leverage   int64  `json:"leverage"`
	EntryPrice string `json:"entry_price"`
	StopLoss   string `json:"stop_loss,omitempty"`
	TakeProfit string `json:"take_profit,omitempty"`
}

func (h *Handler) Open(w http.ResponseWriter, r *http.Request, userID string) {
	var req openTradeRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	size, err := requiredDecimal(req.Size)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid size"})
		return
	}
	entryPrice, err := requiredDecimal(req.EntryPrice)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid entry_price"})
		return
	}
	stopLoss, err := optionalDecimal(req.StopLoss)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid stop_loss"})
		return
	}
	takeProfit, err := optionalDecimal(req.TakeProfit)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid take_profit"})
		return
	}
	position, err := h.svc.Open(r.Context(), OpenRequest{
		UserID:     userID,
		Symbol:     strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:       types.Side(strings.ToLower(strings.TrimSpace(req.Side))),
		Size:       size,
		Leverage:   req.Leverage,
		EntryPrice: entryPrice,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, openTradeResponse{
		Position: position,
		Balance:  h.ledgerSvc.Balance(r.Context(), userID).String(),
	})
}

type openTradeResponse struct {
	Position model.Position `json:"position"`
	Balance  string         `json:"balance"`
}

type closeTradeRequest struct {
	ExitPrice string `json:"exit_price,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type closedTradeResponse struct {
	Trade   model.TradeRecord `json:"trade"`
	Balance string            `json:"balance"`
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request, userID, positionID string) {
	var req closeTradeRequest
	// The body is optional: a bare close uses the latest market price.
	if r.ContentLength != 0 {
		if err := httputil.ReadJSON(r, &req); err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
			return
		}
	}
	reason := strings.ToLower(strings.TrimSpace(req.Reason))
	if reason != "" && reason != string(types.CloseReasonManual) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "only manual closes may be requested"})
		return
	}
	exitPrice, err := optionalDecimal(req.ExitPrice)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid exit_price"})
		return
	}
	rec, err := h.svc.CloseManual(r.Context(), userID, positionID, exitPrice)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, closedTradeResponse{
		Trade:   rec,
		Balance: h.ledgerSvc.Balance(r.Context(), userID).String(),
	})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request, userID, positionID string) {
	rec, err := h.svc.CancelForUser(r.Context(), userID, positionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, closedTradeResponse{
		Trade:   rec,
		Balance: h.ledgerSvc.Balance(r.Context(), userID).String(),
	})
}

type amendRiskRequest struct {
	StopLoss   string `json:"stop_loss,omitempty"`
	TakeProfit string `json:"take_profit,omitempty"`
}

func (h *Handler) AmendRisk(w http.ResponseWriter, r *http.Request, userID, positionID string) {
	var req amendRiskRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	stopLoss, err := optionalDecimal(req.StopLoss)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid stop_loss"})
		return
	}
	takeProfit, err := optionalDecimal(req.TakeProfit)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid take_profit"})
		return
	}
	position, err := h.svc.AmendRiskForUser(r.Context(), userID, positionID, stopLoss, takeProfit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]model.Position{"position": position})
}

func (h *Handler) OpenPositions(w http.ResponseWriter, r *http.Request, userID string) {
	httputil.WriteJSON(w, http.StatusOK, map[string][]model.Position{"positions": h.svc.OpenForUser(userID)})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request, userID string) {
	httputil.WriteJSON(w, http.StatusOK, map[string][]model.TradeRecord{"trades": h.svc.history.ListForUser(userID)})
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request, userID string) {
	httputil.WriteJSON(w, http.StatusOK, h.svc.Metrics(r.Context(), userID))
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrAlreadyClosed):
		status = http.StatusConflict
	}
	httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: err.Error()})
}

func requiredDecimal(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(raw))
}

func optionalDecimal(raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
