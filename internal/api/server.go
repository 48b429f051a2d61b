package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"perpsim/internal/exchange"
	"perpsim/internal/orderbook"
)

// Server exposes the exchange ledger read-only over HTTP plus a manual order
// entry endpoint, and streams trades and ticks over WebSocket.
type Server struct {
	ex          *exchange.Exchange
	hub         *Hub
	upgrader    websocket.Upgrader
	corsOrigins []string // Allowed CORS origins (empty = allow all)

	// OnTrade, when set, is invoked for every trade created through the
	// order entry endpoint, so manual fills land in the same run record as
	// driver-scheduled ones.
	OnTrade func(orderbook.Trade)
}

func NewServer(ex *exchange.Exchange) *Server {
	s := &Server{
		ex:  ex,
		hub: NewHub(),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}
	return s
}

// SetCORSOrigins restricts CORS to the given origins; an empty slice allows
// all (development mode).
func (s *Server) SetCORSOrigins(origins []string) {
	s.corsOrigins = origins
}

func (s *Server) checkCORSOrigin(origin string) bool {
	if len(s.corsOrigins) == 0 {
		return true
	}
	if origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	allowedOrigins := s.corsOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/users", s.getUsers)
		r.Get("/trades", s.getTrades)
		r.Get("/book", s.getBook)
		r.Get("/mark", s.getMark)
		r.Post("/orders", s.submitOrder)
	})

	r.Get("/ws", s.handleWebSocket)

	return r
}

// HandleTrade broadcasts an executed trade; wired as a driver hook.
func (s *Server) HandleTrade(t orderbook.Trade) {
	s.hub.Broadcast(TradeEvent(t))
}

// HandleTick broadcasts a mark price update; wired as a driver hook.
func (s *Server) HandleTick(hour int, mark decimal.Decimal) {
	s.hub.Broadcast(TickEvent(hour, mark))
}

func (s *Server) getUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ex.UsersSnapshot())
}

func (s *Server) getTrades(w http.ResponseWriter, r *http.Request) {
	trades := s.ex.TradeHistory()
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if limit < len(trades) {
			trades = trades[len(trades)-limit:]
		}
	}
	writeJSON(w, trades)
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ex.Book().Snapshot())
}

func (s *Server) getMark(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"mark_price":   s.ex.MarkPrice(),
		"funding_rate": s.ex.FundingRate(),
	})
}

type OrderRequest struct {
	UserID   string          `json:"user_id"`
	Side     string          `json:"side"` // "buy" or "sell"
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Leverage decimal.Decimal `json:"leverage"`
}

type OrderResponse struct {
	OrderID string            `json:"order_id"`
	Trades  []orderbook.Trade `json:"trades"`
}

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var side orderbook.Side
	switch req.Side {
	case "buy":
		side = orderbook.Buy
	case "sell":
		side = orderbook.Sell
	default:
		http.Error(w, "side must be 'buy' or 'sell'", http.StatusBadRequest)
		return
	}

	order := &orderbook.Order{
		UserID:   req.UserID,
		Side:     side,
		Quantity: req.Quantity,
		Price:    req.Price,
		Leverage: req.Leverage,
	}

	trades, err := s.ex.PlaceOrder(order)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, exchange.ErrUnknownUser) {
			status = http.StatusNotFound
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	for _, t := range trades {
		s.HandleTrade(t)
		if s.OnTrade != nil {
			s.OnTrade(t)
		}
	}

	writeJSON(w, OrderResponse{OrderID: order.ID, Trades: trades})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	s.hub.ServeConn(conn)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}
