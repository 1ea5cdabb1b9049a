package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/executor-core/internal/executorcore"
	"github.com/atlas-desktop/executor-core/pkg/types"
)

// Core is the subset of executorcore.Core the API needs: command dispatch
// plus the read-only views behind GET /api/health, /api/account and
// /api/strategies.
type Core interface {
	HandleCommand(ctx context.Context, cmd types.Command)
	Snapshot() []executorcore.RuntimeSummary
	AccountInfo(ctx context.Context) (types.AccountInfo, error)
	BrokerConnected(ctx context.Context) bool
	PlatformConnected() bool
}

// Store is the subset of internal/store.Store the API needs for trade
// history and permanent-delete.
type Store interface {
	DeleteStrategyPermanent(ctx context.Context, id string) (int, error)
	TradeHistory(ctx context.Context, strategyID string, limit int) ([]types.TradeEvent, error)
	OpenTrades(ctx context.Context) ([]types.TradeEvent, error)
}

// StrategyCatalog lists the strategy configs the platform currently offers.
type StrategyCatalog interface {
	AvailableStrategies(ctx context.Context) ([]types.StrategyConfig, error)
}

// Config bundles Server's tunables.
type Config struct {
	Host           string
	Port           int
	Debug          bool
	PlatformOrigin string
}

// Server is the executor's local HTTP/WebSocket surface, consumed by the
// desktop UI shell — never by the platform backend itself.
type Server struct {
	log       *zap.Logger
	cfg       Config
	router    *mux.Router
	httpServer *http.Server
	hub       *Hub
	upgrader  websocket.Upgrader
	limiter   *peerLimiter
	startedAt time.Time

	core    Core
	store   Store
	catalog StrategyCatalog
}

// NewServer builds a Server and registers every route. Call Start to listen.
func NewServer(log *zap.Logger, cfg Config, core Core, store Store, catalog StrategyCatalog, hub *Hub) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		log:       log.Named("api"),
		cfg:       cfg,
		router:    mux.NewRouter(),
		hub:       hub,
		limiter:   newPeerLimiter(),
		startedAt: time.Now(),
		core:      core,
		store:     store,
		catalog:   catalog,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return cfg.Debug || r.Header.Get("Origin") == cfg.PlatformOrigin
			},
		},
	}
	s.setupRoutes()
	return s
}

// Router exposes the underlying mux.Router so cmd/executor can mount
// internal/metrics' /metrics handler on the same listener.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/account", s.handleAccount).Methods(http.MethodGet)
	s.router.HandleFunc("/api/strategies", s.handleListStrategies).Methods(http.MethodGet)
	s.router.HandleFunc("/api/strategies/available", s.handleAvailableStrategies).Methods(http.MethodGet)
	s.router.HandleFunc("/api/strategies/start", s.handleStartStrategy).Methods(http.MethodPost)
	s.router.HandleFunc("/api/strategies/{id}/stop", s.handleStopStrategy).Methods(http.MethodPost)
	s.router.HandleFunc("/api/strategies/{id}/permanent", s.handlePermanentDelete).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/strategies/batch", s.handleBatchDelete).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/trades/open", s.handleTradesOpen).Methods(http.MethodGet)
	s.router.HandleFunc("/api/trades/history", s.handleTradesHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the fully wrapped handler (CORS + rate limit + routes),
// what Start hands to http.Server and what tests can drive directly via
// httptest.NewServer without binding a real port.
func (s *Server) Handler() http.Handler {
	origins := []string{s.cfg.PlatformOrigin}
	if s.cfg.Debug {
		origins = append(origins, "http://localhost:*", "http://127.0.0.1:*")
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	if s.cfg.Debug {
		return corsHandler
	}
	return s.limiter.middleware(corsHandler)
}

// Start runs the HTTP server until Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.log.Info("starting local api server", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snapshot := s.core.Snapshot()

	strategyErrors := make(map[string]string)
	for _, rt := range snapshot {
		if rt.Stats.LastError != "" {
			strategyErrors[rt.Config.ID] = rt.Stats.LastError
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"uptimeSec":         int(time.Since(s.startedAt).Seconds()),
		"brokerConnected":   s.core.BrokerConnected(ctx),
		"platformConnected": s.core.PlatformConnected(),
		"activeRuntimes":    len(snapshot),
		"strategyErrors":    strategyErrors,
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.core.AccountInfo(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

type strategySummary struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Symbol     string              `json:"symbol"`
	Timeframe  types.Timeframe     `json:"timeframe"`
	Status     types.RuntimeStatus `json:"status"`
	TradeCount int                 `json:"tradeCount"`
	PnL        string              `json:"pnl"`
	LastError  string              `json:"lastError,omitempty"`
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	snapshot := s.core.Snapshot()
	out := make([]strategySummary, 0, len(snapshot))
	for _, rt := range snapshot {
		out = append(out, strategySummary{
			ID:         rt.Config.ID,
			Name:       rt.Config.Name,
			Symbol:     rt.Config.Symbol,
			Timeframe:  rt.Config.Timeframe,
			Status:     rt.Status,
			TradeCount: rt.Stats.Trades,
			PnL:        rt.Stats.PnLToday.String(),
			LastError:  rt.Stats.LastError,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAvailableStrategies(w http.ResponseWriter, r *http.Request) {
	configs, err := s.catalog.AvailableStrategies(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

func (s *Server) handleStartStrategy(w http.ResponseWriter, r *http.Request) {
	var cfg types.StrategyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid strategy config: "+err.Error(), http.StatusBadRequest)
		return
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.core.HandleCommand(r.Context(), types.Command{
		ID:        uuid.New().String(),
		Kind:      types.CmdStart,
		Payload:   types.CommandPayload{StrategyID: cfg.ID, Config: &cfg},
		CreatedAt: time.Now().UTC(),
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"id": cfg.ID, "status": "starting"})
}

func (s *Server) handleStopStrategy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.core.HandleCommand(r.Context(), types.Command{
		ID:        uuid.New().String(),
		Kind:      types.CmdStop,
		Payload:   types.CommandPayload{StrategyID: id},
		CreatedAt: time.Now().UTC(),
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "stopping"})
}

func (s *Server) isRunning(id string) bool {
	for _, rt := range s.core.Snapshot() {
		if rt.Config.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) handlePermanentDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()

	wasRunning := s.isRunning(id)
	if wasRunning {
		s.core.HandleCommand(ctx, types.Command{
			ID:      uuid.New().String(),
			Kind:    types.CmdStop,
			Payload: types.CommandPayload{StrategyID: id},
		})
	}

	tradeLogsDeleted, err := s.store.DeleteStrategyPermanent(ctx, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"strategyDeleted":  true,
		"tradeLogsDeleted": tradeLogsDeleted,
		"wasRunning":       wasRunning,
	})
}

func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	results := make(map[string]any, len(ids))
	for _, id := range ids {
		wasRunning := s.isRunning(id)
		if wasRunning {
			s.core.HandleCommand(r.Context(), types.Command{
				ID:      uuid.New().String(),
				Kind:    types.CmdStop,
				Payload: types.CommandPayload{StrategyID: id},
			})
		}
		tradeLogsDeleted, err := s.store.DeleteStrategyPermanent(r.Context(), id)
		if err != nil {
			results[id] = map[string]any{"success": false, "error": err.Error()}
			continue
		}
		results[id] = map[string]any{"success": true, "tradeLogsDeleted": tradeLogsDeleted, "wasRunning": wasRunning}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleTradesOpen(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.OpenTrades(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleTradesHistory(w http.ResponseWriter, r *http.Request) {
	strategyID := r.URL.Query().Get("strategyId")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	trades, err := s.store.TradeHistory(r.Context(), strategyID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &wsClient{
		id:            uuid.New().String(),
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}
