package httpserver

import (
	"net/http"

	"papertrade/internal/auth"
	"papertrade/internal/ledger"
	"papertrade/internal/marketdata"
	"papertrade/internal/positions"

	"github.com/go-chi/chi/v5"
)

type RouterDeps struct {
	TradeHandler  *positions.Handler
	LedgerHandler *ledger.Handler
	MarketHandler *marketdata.Handler
	AuthService   *auth.Service
	InternalToken string
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS for browser clients
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Use(SecurityHeaders)
	r.Use(RateLimitMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Route("/v1", func(r chi.Router) {
		r.Get("/market/quote", d.MarketHandler.Quote)
		r.Get("/market/symbols", d.MarketHandler.Symbols)
		r.Get("/market/ws", d.MarketHandler.WS.ServeHTTP)
		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Post("/trades", withUser(d.TradeHandler.Open))
			r.Get("/trades", withUser(d.TradeHandler.History))
			r.Post("/trades/{id}/close", withUserID(d.TradeHandler.Close))
			r.Post("/trades/{id}/cancel", withUserID(d.TradeHandler.Cancel))
			r.Put("/trades/{id}/risk", withUserID(d.TradeHandler.AmendRisk))
			r.Get("/positions", withUser(d.TradeHandler.OpenPositions))
			r.Get("/metrics", withUser(d.TradeHandler.Metrics))
			r.Get("/balance", withUser(d.LedgerHandler.Balance))
		})
		r.Group(func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Post("/internal/deposits", d.LedgerHandler.Deposit)
			r.Post("/internal/withdrawals", d.LedgerHandler.Withdraw)
		})
	})
	return r
}
