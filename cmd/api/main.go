package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"papertrade/internal/auth"
	"papertrade/internal/config"
	"papertrade/internal/history"
	"papertrade/internal/httpserver"
	"papertrade/internal/ledger"
	"papertrade/internal/marketdata"
	"papertrade/internal/positions"
	"papertrade/internal/risk"
	"papertrade/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()

	var st store.Store = store.NewDisabled()
	if cfg.DBDSN != "" {
		pool, err := store.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			log.Fatal(err)
		}
		defer pool.Close()
		pg := store.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal(err)
		}
		st = pg
	} else {
		log.Printf("no DB_DSN configured, running without durable storage")
	}
	state, err := st.LoadState(ctx)
	if err != nil {
		log.Fatal(err)
	}

	bus := marketdata.NewBus()
	feed := marketdata.NewFeed(bus, cfg.FeedInterval)
	ledgerSvc := ledger.NewService(cfg.StartingBalance, st)
	ledgerSvc.Restore(state.Balances)
	historySvc := history.NewService(st)
	historySvc.Restore(state.TradeRecords)
	book := positions.NewService(ledgerSvc, historySvc, feed, st)
	book.Restore(state.OpenPositions)
	if n := len(state.OpenPositions); n > 0 {
		log.Printf("restored %d open positions", n)
	}

	monitor := risk.NewMonitor(book, feed, cfg.SweepInterval)
	authSvc := auth.NewService(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)
	wsHandler := marketdata.NewWSHandler(bus, cfg.WebSocketOrigin)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		TradeHandler:  positions.NewHandler(book, ledgerSvc),
		LedgerHandler: ledger.NewHandler(ledgerSvc),
		MarketHandler: marketdata.NewHandler(feed, wsHandler),
		AuthService:   authSvc,
		InternalToken: cfg.InternalToken,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	feed.Start()
	if err := monitor.Start(); err != nil {
		log.Fatal(err)
	}

	log.Printf("server listening on %s", cfg.HTTPAddr)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		monitor.Stop()
		feed.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
