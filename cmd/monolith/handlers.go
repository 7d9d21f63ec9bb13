package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/GobsRuiz/GobsVault/internal/apperr"
	"github.com/GobsRuiz/GobsVault/internal/auth"
	"github.com/GobsRuiz/GobsVault/internal/database"
	"github.com/GobsRuiz/GobsVault/internal/gamification"
	"github.com/GobsRuiz/GobsVault/internal/idempotency"
	"github.com/GobsRuiz/GobsVault/internal/metrics"
	"github.com/GobsRuiz/GobsVault/internal/models"
	"github.com/GobsRuiz/GobsVault/internal/portfolio"
	"github.com/GobsRuiz/GobsVault/internal/prices"
	"github.com/GobsRuiz/GobsVault/internal/quests"
	"github.com/GobsRuiz/GobsVault/internal/trading"
)

type server struct {
	auth      *auth.Service
	trading   *trading.Service
	portfolio *portfolio.Service
	quests    *quests.Service
	gamify    *gamification.Service
	prices    *prices.Service
	idem      *idempotency.Service
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	if status >= 500 {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, status, models.ErrorResponse{Error: "internal error", Code: string(code)})
		return
	}
	writeJSON(w, status, models.ErrorResponse{Error: err.Error(), Code: string(code)})
}

func pathUserID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["userID"])
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid user id")
	}
	return id, nil
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.BadRequest("invalid request body"))
		return
	}
	user, err := s.auth.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.BadRequest("invalid request body"))
		return
	}
	user, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.gamify.GetUser(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.gamify.GetUserStats(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.gamify.RecomputeFromTrades(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *server) handlePrices(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.prices.GetPrices(r.Context(), models.SupportedSymbols)
	if err != nil {
		s.writeError(w, r, apperr.PriceUnavailable(err, "prices unavailable"))
		return
	}
	out := make([]*prices.PriceQuote, 0, len(models.SupportedSymbols))
	for _, symbol := range models.SupportedSymbols {
		out = append(out, quotes[symbol])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleSparkline(w http.ResponseWriter, r *http.Request) {
	symbol := models.CryptoSymbol(mux.Vars(r)["symbol"])
	if !models.IsValidSymbol(symbol) {
		s.writeError(w, r, apperr.BadRequest("unsupported symbol %q", symbol))
		return
	}
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "1h"
	}
	limit := 24
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			s.writeError(w, r, apperr.BadRequest("limit must be 1-500"))
			return
		}
		limit = n
	}
	candles, err := s.prices.GetKlines(r.Context(), symbol, interval, limit)
	if err != nil {
		s.writeError(w, r, apperr.PriceUnavailable(err, "sparkline unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, candles)
}

type tradeExec func(r *http.Request, userID uuid.UUID, req models.TradeRequest) (*models.TradeResult, error)

// handleTrade decodes, then routes through the idempotency layer so a
// retried POST with the same Idempotency-Key replays the stored
// response instead of re-executing.
func (s *server) handleTrade(w http.ResponseWriter, r *http.Request, exec tradeExec) {
	userID, err := pathUserID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		s.writeError(w, r, apperr.BadRequest("invalid request body"))
		return
	}
	var req models.TradeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.writeError(w, r, apperr.BadRequest("invalid request body"))
		return
	}

	key := r.Header.Get("Idempotency-Key")
	status, body, replayed, err := s.idem.Run(r.Context(), key, userID, payload, func() (int, []byte, error) {
		result, err := exec(r, userID, req)
		if err != nil {
			return 0, nil, err
		}
		encoded, err := json.Marshal(result)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, encoded, nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if replayed {
		w.Header().Set("Idempotency-Replayed", "true")
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, func(r *http.Request, userID uuid.UUID, req models.TradeRequest) (*models.TradeResult, error) {
		return s.trading.ExecuteBuy(r.Context(), userID, req)
	})
}

func (s *server) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, func(r *http.Request, userID uuid.UUID, req models.TradeRequest) (*models.TradeResult, error) {
		return s.trading.ExecuteSell(r.Context(), userID, req)
	})
}

func parseTradeFilter(r *http.Request) (database.TradeFilter, error) {
	var f database.TradeFilter
	q := r.URL.Query()
	if raw := q.Get("symbol"); raw != "" {
		symbol := models.CryptoSymbol(raw)
		if !models.IsValidSymbol(symbol) {
			return f, apperr.BadRequest("unsupported symbol %q", raw)
		}
		f.Symbol = &symbol
	}
	if raw := q.Get("type"); raw != "" {
		t := models.TradeType(raw)
		if t != models.TradeTypeBuy && t != models.TradeTypeSell {
			return f, apperr.BadRequest("type must be BUY or SELL")
		}
		f.Type = &t
	}
	if raw := q.Get("start"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, apperr.BadRequest("start must be RFC3339")
		}
		f.Start = &ts
	}
	if raw := q.Get("end"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, apperr.BadRequest("end must be RFC3339")
		}
		f.End = &ts
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return f, apperr.BadRequest("limit must be a positive integer")
		}
		f.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, apperr.BadRequest("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

func (s *server) handleTradeHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter, err := parseTradeFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trades, err := s.trading.GetTradeHistory(r.Context(), userID, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *server) handleTradeStats(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.trading.GetTradeStats(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	valued, err := s.portfolio.GetPortfolioWithValues(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, valued)
}

func (s *server) handlePortfolioSummary(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summary, err := s.portfolio.GetPortfolioSummary(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *server) handlePortfolioHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, apperr.BadRequest("days must be an integer"))
			return
		}
		days = n
	}
	snapshots, err := s.portfolio.GetPortfolioHistory(r.Context(), userID, days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if snapshots == nil {
		snapshots = []models.PortfolioSnapshot{}
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.portfolio.CreatePortfolioSnapshot(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *server) handleQuests(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.quests.GetQuestsWithProgress(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) handleClaimQuest(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	questID, err := uuid.Parse(mux.Vars(r)["questID"])
	if err != nil {
		s.writeError(w, r, apperr.BadRequest("invalid quest id"))
		return
	}
	result, err := s.quests.ClaimQuestReward(r.Context(), userID, questID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePriceFeed upgrades to a websocket and streams price updates
// until the client disconnects.
func (s *server) handlePriceFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.prices.Subscribe()
	defer cancel()

	// reader goroutine detects disconnect
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case update := <-updates:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(update); err != nil {
				return
			}
		}
	}
}

func (s *server) routes(mw ...mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws/prices", s.handlePriceFeed)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(mw...)
	api.HandleFunc("/users", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/users/{userID}", s.handleGetUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID}/stats", s.handleUserStats).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID}/stats/recompute", s.handleRecompute).Methods(http.MethodPost)

	api.HandleFunc("/prices", s.handlePrices).Methods(http.MethodGet)
	api.HandleFunc("/prices/{symbol}/sparkline", s.handleSparkline).Methods(http.MethodGet)

	api.HandleFunc("/users/{userID}/trades/buy", s.handleBuy).Methods(http.MethodPost)
	api.HandleFunc("/users/{userID}/trades/sell", s.handleSell).Methods(http.MethodPost)
	api.HandleFunc("/users/{userID}/trades", s.handleTradeHistory).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID}/trades/stats", s.handleTradeStats).Methods(http.MethodGet)

	api.HandleFunc("/users/{userID}/portfolio", s.handlePortfolio).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID}/portfolio/summary", s.handlePortfolioSummary).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID}/portfolio/history", s.handlePortfolioHistory).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID}/portfolio/snapshot", s.handleSnapshot).Methods(http.MethodPost)

	api.HandleFunc("/users/{userID}/quests", s.handleQuests).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID}/quests/{questID}/claim", s.handleClaimQuest).Methods(http.MethodPost)
	return r
}
