package marketdata

import (
	"net/http"
	"sort"
	"strings"

	"papertrade/internal/httputil"
)

type Handler struct {
	feed *Feed
	WS   http.Handler
}

func NewHandler(feed *Feed, ws http.Handler) *Handler {
	return &Handler{feed: feed, WS: ws}
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "symbol is required"})
		return
	}
	tick, ok := h.feed.Latest(symbol)
	if !ok {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "symbol not supported"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tick)
}

func (h *Handler) Symbols(w http.ResponseWriter, r *http.Request) {
	symbols := h.feed.Symbols()
	sort.Strings(symbols)
	httputil.WriteJSON(w, http.StatusOK, map[string][]string{"symbols": symbols})
}
