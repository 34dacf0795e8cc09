// Package main runs the trading engine as one process: the signal
// executor behind an HTTP ingress, the position reconciliation loop,
// the websocket event hub for dashboards, and the Prometheus endpoint.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/events"
	"signal-trade-engine/internal/executor"
	"signal-trade-engine/internal/gateway"
	"signal-trade-engine/internal/gateway/stub"
	"signal-trade-engine/internal/ladder"
	"signal-trade-engine/internal/lifecycle"
	"signal-trade-engine/internal/observability"
	"signal-trade-engine/internal/risk"
	"signal-trade-engine/internal/stats"
	"signal-trade-engine/internal/storage"
	chstore "signal-trade-engine/internal/storage/clickhouse"
	"signal-trade-engine/internal/storage/memory"
	"signal-trade-engine/internal/storage/migrations"
	pgstore "signal-trade-engine/internal/storage/postgres"
)

// Server holds all components of the engine process.
type Server struct {
	limits   *risk.Limits
	gate     *risk.Gate
	ledger   *stats.Ledger
	manager  *lifecycle.Manager
	executor *executor.Executor
	history  storage.TradeHistoryStore
	hub      *events.Hub
	logger   *log.Logger
	started  time.Time
}

// engineStores holds the storage implementations behind the engine.
type engineStores struct {
	riskLimits storage.RiskLimitsStore
	statistics storage.StatisticsStore
	history    storage.TradeHistoryStore
	archive    storage.TradeHistoryAppender // nil without clickhouse
}

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Parse flags (env vars as defaults)
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (optional trade archive)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	demo := flag.Bool("demo", false, "Run against the scripted demo venue with a generated price feed")
	listenAddr := flag.String("listen-addr", ":8080", "HTTP listen address (API, /ws, /metrics)")
	tickInterval := flag.Duration("tick-interval", 10*time.Second, "Position reconciliation interval")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}
	if !*demo {
		logger.Fatal("no exchange gateway configured; run with --demo for the scripted venue")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Create stores
	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Demo venue with a liquid instrument scripted in.
	gw := stub.New()
	gw.SetConstraints(demoInstrument, gateway.SymbolConstraints{LotStep: 0.001, MinQty: 0.001})
	gw.SetPrice(demoInstrument, demoEntryPrice)

	server, err := buildServer(ctx, gw, stores, *tickInterval, logger)
	if err != nil {
		logger.Fatalf("Failed to build engine: %v", err)
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Start HTTP server
	go server.startHTTPServer(*listenAddr)

	// Start the daily statistics reset timer
	go server.runDailyReset(ctx)

	// Feed the demo venue
	go runDemoFeed(ctx, gw, server, logger)

	// Run the engine until cancelled
	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates all required stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*engineStores, func(), error) {
	if useMemory {
		stores := &engineStores{
			riskLimits: memory.NewRiskLimitsStore(),
			statistics: memory.NewStatisticsStore(),
			history:    memory.NewTradeHistoryStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	stores := &engineStores{
		riskLimits: pgstore.NewRiskLimitsStore(pool),
		statistics: pgstore.NewStatisticsStore(pool),
		history:    pgstore.NewTradeHistoryStore(pool),
	}
	cleanup := func() { pool.Close() }

	// ClickHouse archive is optional
	if clickhouseDSN != "" {
		chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		stores.archive = chstore.NewTradeHistoryArchive(chConn)
		cleanup = func() {
			chConn.Close()
			pool.Close()
		}
	}

	return stores, cleanup, nil
}

// buildServer assembles the engine components over the given gateway
// and stores.
func buildServer(ctx context.Context, gw gateway.ExchangeGateway, stores *engineStores, tick time.Duration, logger *log.Logger) (*Server, error) {
	limits := risk.NewLimits(stores.riskLimits)
	if err := limits.Load(ctx); err != nil {
		return nil, err
	}

	ledger := stats.NewLedger(stats.Options{
		Store:   stores.statistics,
		History: stores.history,
		Archive: stores.archive,
		Logger:  log.New(os.Stdout, "[stats] ", log.LstdFlags),
	})
	if err := ledger.Load(ctx); err != nil {
		return nil, err
	}

	hub := events.NewHub(logger)
	go hub.Run()
	sink := events.Multi{hub, events.NewLogSink(log.New(os.Stdout, "[events] ", log.LstdFlags))}

	gate := risk.NewGate(limits, ledger, nil)
	sizer := risk.NewSizer(limits, ledger, logger)

	lad := ladder.New(ladder.Options{
		Gateway: gw,
		Limits:  limits,
		Sink:    sink,
		Logger:  log.New(os.Stdout, "[ladder] ", log.LstdFlags),
	})

	manager := lifecycle.NewManager(lifecycle.Options{
		Gateway:      gw,
		Ladder:       lad,
		Ledger:       ledger,
		Sink:         sink,
		Logger:       log.New(os.Stdout, "[lifecycle] ", log.LstdFlags),
		TickInterval: tick,
	})

	exec := executor.New(executor.Options{
		Gateway: gw,
		Gate:    gate,
		Sizer:   sizer,
		Limits:  limits,
		Ledger:  ledger,
		Manager: manager,
		Ladder:  lad,
		Sink:    sink,
		Logger:  log.New(os.Stdout, "[executor] ", log.LstdFlags),
	})

	return &Server{
		limits:   limits,
		gate:     gate,
		ledger:   ledger,
		manager:  manager,
		executor: exec,
		history:  stores.history,
		hub:      hub,
		logger:   logger,
		started:  time.Now(),
	}, nil
}

// Run starts the reconciliation loop and blocks until the context is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Println("Starting engine...")
	s.manager.Start(ctx)

	<-ctx.Done()

	s.manager.Stop()
	s.hub.Close()
	return ctx.Err()
}

// runDailyReset clears the daily accumulators at every local midnight.
func (s *Server) runDailyReset(ctx context.Context) {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			if err := s.ledger.ResetDaily(ctx); err != nil {
				s.logger.Printf("daily reset failed: %v", err)
			} else {
				s.logger.Println("daily statistics reset")
			}
		}
	}
}

// startHTTPServer starts the HTTP server for the API, events and
// metrics.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Dashboard event stream
	mux.HandleFunc("/ws", s.hub.Handler())

	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/positions", s.handlePositions)
	mux.HandleFunc("/positions/close", s.handleClose)
	mux.HandleFunc("/positions/breakeven", s.handleBreakeven)
	mux.HandleFunc("/signal", s.handleSignal)
	mux.HandleFunc("/limits", s.handleLimits)
	mux.HandleFunc("/statistics", s.handleStatistics)
	mux.HandleFunc("/history", s.handleHistory)

	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status        string      `json:"status"`
	Uptime        string      `json:"uptime"`
	OpenPositions int         `json:"open_positions"`
	Risk          risk.Status `json:"risk"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:        "running",
		Uptime:        time.Since(s.started).String(),
		OpenPositions: s.manager.Count(),
		Risk:          s.gate.Status(),
	})
}

// handlePositions returns a snapshot of every tracked position.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Summaries())
}

// signalRequest is the JSON body accepted by /signal.
type signalRequest struct {
	Instrument string    `json:"instrument"`
	Direction  string    `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	Targets    []float64 `json:"targets"`
	StopLoss   *float64  `json:"stop_loss"`
	Source     string    `json:"source"`
}

// handleSignal runs one signal through the executor.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	sig := &domain.Signal{
		Instrument: req.Instrument,
		Direction:  domain.Direction(req.Direction),
		EntryPrice: req.EntryPrice,
		Targets:    req.Targets,
		StopLoss:   req.StopLoss,
		Source:     req.Source,
		ReceivedAt: time.Now().UnixMilli(),
	}

	result := s.executor.OnSignal(r.Context(), sig)
	code := http.StatusOK
	if result.Status == executor.StatusError {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, result)
}

// handleClose closes a tracked position at market.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	instrument := r.URL.Query().Get("instrument")
	if instrument == "" {
		http.Error(w, "instrument query parameter is required", http.StatusBadRequest)
		return
	}
	if err := s.manager.ClosePosition(r.Context(), instrument); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "instrument": instrument})
}

// handleBreakeven moves a tracked position's stop to breakeven.
func (s *Server) handleBreakeven(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	instrument := r.URL.Query().Get("instrument")
	if instrument == "" {
		http.Error(w, "instrument query parameter is required", http.StatusBadRequest)
		return
	}
	if err := s.manager.MoveToBreakeven(r.Context(), instrument); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "breakeven", "instrument": instrument})
}

// handleLimits reads or replaces the risk configuration.
func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.limits.Snapshot())
	case http.MethodPut:
		var limits domain.RiskLimits
		if err := json.NewDecoder(r.Body).Decode(&limits); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := s.limits.Update(r.Context(), limits); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, s.limits.Snapshot())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleStatistics returns the ledger snapshot.
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Snapshot())
}

// handleHistory returns recent realized outcomes, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.history.GetRecent(r.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, outcomes)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Demo feed parameters.
const (
	demoInstrument = "BTCUSDT"
	demoEntryPrice = 50000.0
)

// demoPath is the deterministic price walk replayed by the demo feed,
// as multipliers of the entry price. It climbs through the ladder
// targets, pulls back, then slides into the trailing stop.
var demoPath = []float64{
	1.000, 1.004, 1.010, 1.022, 1.031, 1.044, 1.052, 1.047,
	1.039, 1.028, 1.016, 1.005, 0.998, 0.990, 0.984, 0.978,
}

// runDemoFeed scripts the demo venue: one signal at start, then the
// price walk on a loop so the reconciler has something to chew on.
func runDemoFeed(ctx context.Context, gw *stub.Gateway, s *Server, logger *log.Logger) {
	// Give the HTTP server and reconcile loop a moment to come up.
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
	}

	stop := demoEntryPrice * 0.95
	sig := &domain.Signal{
		Instrument: demoInstrument,
		Direction:  domain.DirectionLong,
		EntryPrice: demoEntryPrice,
		Targets:    []float64{demoEntryPrice * 1.02, demoEntryPrice * 1.04, demoEntryPrice * 1.06},
		StopLoss:   &stop,
		Source:     "demo",
		ReceivedAt: time.Now().UnixMilli(),
	}

	result := s.executor.OnSignal(ctx, sig)
	logger.Printf("demo signal result: %s %s", result.Status, result.Reason)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	step := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			price := demoEntryPrice * demoPath[step%len(demoPath)]
			gw.SetPrice(demoInstrument, price)
			step++
		}
	}
}
