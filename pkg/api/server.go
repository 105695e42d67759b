package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/floorswap/floorswap/pkg/crypto"
	"github.com/floorswap/floorswap/pkg/exchange"
)

// Server exposes the settlement engine over REST and WebSocket.
type Server struct {
	engine *exchange.Engine
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

func NewServer(engine *exchange.Engine, log *zap.SugaredLogger) *Server {
	s := &Server{
		engine: engine,
		router: mux.NewRouter(),
		hub:    NewHub(),
		log:    log,
	}
	s.setupRoutes()

	// Feed committed settlements to websocket subscribers
	engine.OnSettlement = func(settlement exchange.Settlement) {
		s.hub.BroadcastToChannel("settlements", settlementInfo(&settlement))
	}

	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Order construction aids
	api.HandleFunc("/orders/hash", s.handleOrderHash).Methods("POST")

	// Nonce query for wallets/UIs
	api.HandleFunc("/nonces/{address}/{nonce}", s.handleNonceQuery).Methods("GET")

	// Match entry points
	api.HandleFunc("/match/ask-with-taker-bid", s.handleMatchAskWithTakerBid).Methods("POST")
	api.HandleFunc("/match/bid-with-taker-ask", s.handleMatchBidWithTakerAsk).Methods("POST")
	api.HandleFunc("/match/ask-with-taker-bid-native", s.handleMatchAskWithTakerBidNative).Methods("POST")

	// Cancellation
	api.HandleFunc("/orders/cancel", s.handleCancelNonces).Methods("POST")
	api.HandleFunc("/orders/cancel-all", s.handleCancelAll).Methods("POST")

	// Settlement records
	api.HandleFunc("/settlements", s.handleRecentSettlements).Methods("GET")
	api.HandleFunc("/settlements/{orderHash}", s.handleGetSettlement).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// REST handlers
// ==============================

func (s *Server) handleOrderHash(w http.ResponseWriter, r *http.Request) {
	var payload MakerOrderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON", "")
		return
	}

	order, err := payload.ToOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	typed := s.engine.Typed()
	orderHash, err := typed.HashOrder(order.Typed())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	digest, err := typed.DigestOrder(order.Typed())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	separator, err := typed.DomainSeparator()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	respondJSON(w, OrderHashResponse{
		OrderHash:       orderHash.Hex(),
		Digest:          common.BytesToHash(digest).Hex(),
		DomainSeparator: separator.Hex(),
	})
}

func (s *Server) handleNonceQuery(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr := common.HexToAddress(vars["address"])
	nonce, err := strconv.ParseUint(vars["nonce"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid nonce", "")
		return
	}

	respondJSON(w, NonceResponse{
		Signer:              addr.Hex(),
		Nonce:               nonce,
		ExecutedOrCancelled: s.engine.IsUserOrderNonceExecutedOrCancelled(addr, nonce),
	})
}

type matchFunc func(*exchange.TakerOrder, *exchange.MakerOrder) (*exchange.Settlement, error)

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request, match matchFunc) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON", "")
		return
	}

	taker, err := req.Taker.ToOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	maker, err := req.Maker.ToOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	// The taker pays or delivers, so the taker must have signed these
	// exact terms. The maker's own signature is checked by the engine.
	sig, err := parseHexBytes("taker signature", req.Taker.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	separator, err := s.engine.Typed().DomainSeparator()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	digest := crypto.TakerOrderDigest(separator, taker.IsAsk, taker.Taker,
		taker.Price, taker.TokenID, taker.Amount, taker.MinPercentageToAsk, taker.Params)
	if !crypto.VerifySignature(taker.Taker, digest, sig) {
		respondError(w, http.StatusUnauthorized, "signature does not recover to taker", "CALLER_SIGNATURE_INVALID")
		return
	}

	settlement, err := match(taker, maker)
	if err != nil {
		status, reason := rejectionStatus(err)
		respondError(w, status, err.Error(), reason)
		return
	}

	respondJSON(w, settlementInfo(settlement))
}

func (s *Server) handleMatchAskWithTakerBid(w http.ResponseWriter, r *http.Request) {
	s.handleMatch(w, r, s.engine.MatchAskWithTakerBid)
}

func (s *Server) handleMatchBidWithTakerAsk(w http.ResponseWriter, r *http.Request) {
	s.handleMatch(w, r, s.engine.MatchBidWithTakerAsk)
}

func (s *Server) handleMatchAskWithTakerBidNative(w http.ResponseWriter, r *http.Request) {
	s.handleMatch(w, r, s.engine.MatchAskWithTakerBidUsingNative)
}

func (s *Server) handleCancelNonces(w http.ResponseWriter, r *http.Request) {
	var req CancelNoncesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON", "")
		return
	}

	sender := common.HexToAddress(req.Sender)
	sig, err := parseHexBytes("signature", req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	separator, err := s.engine.Typed().DomainSeparator()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	if !crypto.VerifySignature(sender, crypto.CancelNoncesDigest(separator, sender, req.Nonces), sig) {
		respondError(w, http.StatusUnauthorized, "signature does not recover to sender", "CALLER_SIGNATURE_INVALID")
		return
	}

	if err := s.engine.CancelOrderNonces(sender, req.Nonces); err != nil {
		status, reason := rejectionStatus(err)
		respondError(w, status, err.Error(), reason)
		return
	}

	respondJSON(w, map[string]interface{}{"cancelled": len(req.Nonces)})
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	var req CancelAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON", "")
		return
	}

	sender := common.HexToAddress(req.Sender)
	sig, err := parseHexBytes("signature", req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	separator, err := s.engine.Typed().DomainSeparator()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	if !crypto.VerifySignature(sender, crypto.CancelAllDigest(separator, sender, req.MinNonce), sig) {
		respondError(w, http.StatusUnauthorized, "signature does not recover to sender", "CALLER_SIGNATURE_INVALID")
		return
	}

	if err := s.engine.CancelAllOrdersForSender(sender, req.MinNonce); err != nil {
		status, reason := rejectionStatus(err)
		respondError(w, status, err.Error(), reason)
		return
	}

	respondJSON(w, map[string]interface{}{"minNonce": req.MinNonce})
}

func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	hash := common.HexToHash(vars["orderHash"])

	settlement, err := s.engine.GetSettlement(hash)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	if settlement == nil {
		respondError(w, http.StatusNotFound, "no settlement for order hash", "")
		return
	}

	respondJSON(w, settlementInfo(settlement))
}

func (s *Server) handleRecentSettlements(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	settlements, err := s.engine.RecentSettlements(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	out := make([]SettlementInfo, len(settlements))
	for i, settlement := range settlements {
		out[i] = settlementInfo(settlement)
	}
	respondJSON(w, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

// rejectionStatus maps an engine rejection to an HTTP status and a
// machine-readable reason code. Front-ends key off the reason.
func rejectionStatus(err error) (int, string) {
	switch {
	case errors.Is(err, exchange.ErrOrderAlreadyExecuted):
		return http.StatusConflict, "ORDER_ALREADY_EXECUTED"
	case errors.Is(err, exchange.ErrInvalidSignature):
		return http.StatusBadRequest, "INVALID_SIGNATURE"
	case errors.Is(err, exchange.ErrOrderExpired):
		return http.StatusBadRequest, "ORDER_EXPIRED"
	case errors.Is(err, exchange.ErrStrategyRejected):
		return http.StatusBadRequest, "STRATEGY_REJECTED"
	case errors.Is(err, exchange.ErrUnsupportedStrategy):
		return http.StatusBadRequest, "UNSUPPORTED_STRATEGY"
	case errors.Is(err, exchange.ErrProceedsBelowMinimum):
		return http.StatusBadRequest, "PROCEEDS_BELOW_MINIMUM"
	case errors.Is(err, exchange.ErrUnsupportedCollection):
		return http.StatusBadRequest, "UNSUPPORTED_COLLECTION"
	case errors.Is(err, exchange.ErrCurrencyNotWhitelisted):
		return http.StatusBadRequest, "CURRENCY_NOT_WHITELISTED"
	case errors.Is(err, exchange.ErrTransferFailed):
		return http.StatusBadRequest, "TRANSFER_FAILED"
	case errors.Is(err, exchange.ErrPaymentFailed):
		return http.StatusBadRequest, "PAYMENT_FAILED"
	case errors.Is(err, exchange.ErrSideMismatch):
		return http.StatusBadRequest, "SIDE_MISMATCH"
	case errors.Is(err, exchange.ErrInvalidOrder):
		return http.StatusBadRequest, "INVALID_ORDER"
	case errors.Is(err, exchange.ErrUnauthorizedCancellation):
		return http.StatusForbidden, "UNAUTHORIZED_CANCELLATION"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Reason: reason})
}
