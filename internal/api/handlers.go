// Package api exposes the engine over HTTP and pushes pool updates over
// WebSocket.
//
// Amounts travel as quoted decimal strings of base units (10^-18 of a
// token), never as JSON numbers.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/0xalpharush/rmm-core/internal/engine"
	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/model"
	"github.com/0xalpharush/rmm-core/internal/ticker"
)

// Handler serves the engine's operations.
type Handler struct {
	engine *engine.Engine
}

// NewHandler creates a Handler.
func NewHandler(e *engine.Engine) *Handler {
	return &Handler{engine: e}
}

// Register mounts every route under /api/v1. hub may be nil.
func (h *Handler) Register(r chi.Router, hub *WSHub) {
	r.Route("/api/v1", func(r chi.Router) {
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Get("/pools", h.ListPools)
		r.Post("/pools", h.CreatePool)
		r.Route("/pools/{poolID}", func(r chi.Router) {
			r.Get("/", h.GetPool)
			r.Get("/reserve", h.GetReserve)
			r.Get("/calibration", h.GetCalibration)
			r.Get("/invariant", h.GetInvariant)
			r.Get("/history", h.GetHistory)

			r.Post("/swap", h.Swap)
			r.Post("/quote", h.Quote)
			r.Post("/allocate", h.Allocate)
			r.Post("/remove", h.Remove)
			r.Post("/lend", h.Lend)
			r.Post("/claim", h.Claim)
			r.Post("/borrow", h.Borrow)
			r.Post("/repay", h.Repay)
			r.Post("/accrue", h.Accrue)
		})

		r.Get("/margin/{owner}", h.GetMargin)
		r.Get("/margin/{owner}/history", h.GetOwnerHistory)
		r.Post("/margin/{owner}/deposit", h.Deposit)
		r.Post("/margin/{owner}/withdraw", h.Withdraw)

		r.Get("/positions/{owner}", h.ListPositions)
		r.Get("/positions/{owner}/{nonce}/{poolID}", h.GetPosition)
	})
}

// --- Request/Response types ---

// CreatePoolRequest is the JSON body for POST /pools. Either Ticker or
// Calibration names the option; Ticker wins when both are set.
type CreatePoolRequest struct {
	Owner             string             `json:"owner"`
	Nonce             uint64             `json:"nonce"`
	Ticker            string             `json:"ticker,omitempty"` // RMM-{strike}-{sigma%}-{YYYYMMDD}
	Calibration       *model.Calibration `json:"calibration,omitempty"`
	RiskyPerLiquidity *uint256.Int       `json:"risky_per_liquidity"`
	DeltaLiquidity    *uint256.Int       `json:"delta_liquidity"`
}

// SwapRequest is the JSON body for POST /pools/{poolID}/swap and /quote.
type SwapRequest struct {
	Owner     string       `json:"owner"`
	Direction string       `json:"direction"` // "risky_in" or "stable_in"
	ExactOut  bool         `json:"exact_out"`
	Amount    *uint256.Int `json:"amount"`
	Limit     *uint256.Int `json:"limit,omitempty"`
}

// LiquidityRequest is the JSON body for allocate, remove, lend, claim and
// repay.
type LiquidityRequest struct {
	Owner          string       `json:"owner"`
	Nonce          uint64       `json:"nonce"`
	DeltaLiquidity *uint256.Int `json:"delta_liquidity"`
}

// BorrowRequest is the JSON body for POST /pools/{poolID}/borrow.
type BorrowRequest struct {
	LiquidityRequest
	Recipient  string       `json:"recipient,omitempty"` // defaults to owner
	MaxPremium *uint256.Int `json:"max_premium,omitempty"`
}

// MarginRequest is the JSON body for deposit and withdraw.
type MarginRequest struct {
	DeltaRisky  *uint256.Int `json:"delta_risky"`
	DeltaStable *uint256.Int `json:"delta_stable"`
}

// InvariantResponse is the body of GET /pools/{poolID}/invariant.
type InvariantResponse struct {
	PoolID    string          `json:"pool_id"`
	Invariant decimal.Decimal `json:"invariant"`
	Price     decimal.Decimal `json:"price"`
	Timestamp uint32          `json:"timestamp"`
}

// --- HTTP Handlers ---

// ListPools handles GET /api/v1/pools
func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.engine.ListPools(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if pools == nil {
		pools = []*model.Pool{}
	}
	writeJSON(w, http.StatusOK, pools)
}

// CreatePool handles POST /api/v1/pools
func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	var cal model.Calibration
	switch {
	case req.Ticker != "":
		parsed, err := ticker.Parse(req.Ticker)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		cal = parsed
	case req.Calibration != nil:
		cal = *req.Calibration
	default:
		writeError(w, "ticker or calibration is required", http.StatusBadRequest)
		return
	}

	pool, err := h.engine.CreatePool(r.Context(), engine.CreatePoolRequest{
		Owner:             req.Owner,
		Nonce:             req.Nonce,
		Calibration:       cal,
		RiskyPerLiquidity: req.RiskyPerLiquidity,
		DeltaLiquidity:    req.DeltaLiquidity,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	slog.Info("pool created",
		"id", pool.ID,
		"ticker", pool.Ticker,
		"owner", req.Owner,
		"liquidity", pool.Reserve.Liquidity.Dec(),
	)
	writeJSON(w, http.StatusCreated, pool)
}

// GetPool handles GET /api/v1/pools/{poolID}
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.engine.GetPool(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// GetReserve handles GET /api/v1/pools/{poolID}/reserve
func (h *Handler) GetReserve(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.GetReserve(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetCalibration handles GET /api/v1/pools/{poolID}/calibration
func (h *Handler) GetCalibration(w http.ResponseWriter, r *http.Request) {
	cal, err := h.engine.GetCalibration(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cal)
}

// GetInvariant handles GET /api/v1/pools/{poolID}/invariant
// Returns the invariant and marginal price at the engine's current time.
func (h *Handler) GetInvariant(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	ctx := r.Context()

	inv, err := h.engine.GetInvariant(ctx, poolID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	price, err := h.engine.GetPrice(ctx, poolID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, InvariantResponse{
		PoolID:    poolID,
		Invariant: inv,
		Price:     price,
		Timestamp: h.engine.Now(),
	})
}

// GetHistory handles GET /api/v1/pools/{poolID}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.History(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Swap handles POST /api/v1/pools/{poolID}/swap
func (h *Handler) Swap(w http.ResponseWriter, r *http.Request) {
	req, ok := h.swapRequest(w, r)
	if !ok {
		return
	}
	res, err := h.engine.Swap(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Quote handles POST /api/v1/pools/{poolID}/quote
// Prices a swap without executing it.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	req, ok := h.swapRequest(w, r)
	if !ok {
		return
	}
	res, err := h.engine.QuoteSwap(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) swapRequest(w http.ResponseWriter, r *http.Request) (engine.SwapRequest, bool) {
	var body SwapRequest
	if !decode(w, r, &body) {
		return engine.SwapRequest{}, false
	}
	if body.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return engine.SwapRequest{}, false
	}
	req := engine.SwapRequest{
		PoolID:   chi.URLParam(r, "poolID"),
		Owner:    body.Owner,
		ExactOut: body.ExactOut,
		Amount:   body.Amount,
		Limit:    body.Limit,
	}
	if err := req.Direction.UnmarshalText([]byte(body.Direction)); err != nil {
		writeEngineError(w, err)
		return engine.SwapRequest{}, false
	}
	return req, true
}

// Allocate handles POST /api/v1/pools/{poolID}/allocate
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	key, req, ok := liquidityRequest(w, r)
	if !ok {
		return
	}
	res, err := h.engine.Allocate(r.Context(), key, req.DeltaLiquidity)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Remove handles POST /api/v1/pools/{poolID}/remove
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	key, req, ok := liquidityRequest(w, r)
	if !ok {
		return
	}
	res, err := h.engine.Remove(r.Context(), key, req.DeltaLiquidity)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Lend handles POST /api/v1/pools/{poolID}/lend
func (h *Handler) Lend(w http.ResponseWriter, r *http.Request) {
	key, req, ok := liquidityRequest(w, r)
	if !ok {
		return
	}
	pos, err := h.engine.Lend(r.Context(), key, req.DeltaLiquidity)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Claim handles POST /api/v1/pools/{poolID}/claim
// A missing or zero delta_liquidity only collects fees.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	key, req, ok := liquidityRequest(w, r)
	if !ok {
		return
	}
	res, err := h.engine.Claim(r.Context(), key, req.DeltaLiquidity)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Borrow handles POST /api/v1/pools/{poolID}/borrow
func (h *Handler) Borrow(w http.ResponseWriter, r *http.Request) {
	var req BorrowRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}
	key := model.PositionKey{Owner: req.Owner, Nonce: req.Nonce, PoolID: chi.URLParam(r, "poolID")}
	res, err := h.engine.Borrow(r.Context(), key, req.Recipient, req.DeltaLiquidity, req.MaxPremium)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Repay handles POST /api/v1/pools/{poolID}/repay
func (h *Handler) Repay(w http.ResponseWriter, r *http.Request) {
	key, req, ok := liquidityRequest(w, r)
	if !ok {
		return
	}
	res, err := h.engine.Repay(r.Context(), key, req.DeltaLiquidity)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Accrue handles POST /api/v1/pools/{poolID}/accrue
func (h *Handler) Accrue(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Accrue(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetMargin handles GET /api/v1/margin/{owner}
func (h *Handler) GetMargin(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.GetMargin(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetOwnerHistory handles GET /api/v1/margin/{owner}/history
func (h *Handler) GetOwnerHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.OwnerHistory(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Deposit handles POST /api/v1/margin/{owner}/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req MarginRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.engine.Deposit(r.Context(), chi.URLParam(r, "owner"), req.DeltaRisky, req.DeltaStable)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Withdraw handles POST /api/v1/margin/{owner}/withdraw
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req MarginRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.engine.Withdraw(r.Context(), chi.URLParam(r, "owner"), req.DeltaRisky, req.DeltaStable)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListPositions handles GET /api/v1/positions/{owner}
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.engine.ListPositions(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if positions == nil {
		positions = []*model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetPosition handles GET /api/v1/positions/{owner}/{nonce}/{poolID}
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	nonce, err := strconv.ParseUint(chi.URLParam(r, "nonce"), 10, 64)
	if err != nil {
		writeError(w, "nonce must be an unsigned integer", http.StatusBadRequest)
		return
	}
	key := model.PositionKey{Owner: chi.URLParam(r, "owner"), Nonce: nonce, PoolID: chi.URLParam(r, "poolID")}
	pos, err := h.engine.GetPosition(r.Context(), key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func liquidityRequest(w http.ResponseWriter, r *http.Request) (model.PositionKey, LiquidityRequest, bool) {
	var req LiquidityRequest
	if !decode(w, r, &req) {
		return model.PositionKey{}, req, false
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return model.PositionKey{}, req, false
	}
	return model.PositionKey{Owner: req.Owner, Nonce: req.Nonce, PoolID: chi.URLParam(r, "poolID")}, req, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// StatusCode maps an engine error to the HTTP status reported for it.
func StatusCode(err error) int {
	switch errs.Kind(err) {
	case "not_found":
		return http.StatusNotFound
	case "invalid_amount", "invalid_calibration", "out_of_domain", "overflow":
		return http.StatusBadRequest
	case "invariant_violation":
		return http.StatusUnprocessableEntity
	case "insufficient_balance", "insufficient_liquidity", "insufficient_float",
		"too_expensive", "curve_bound_exceeded", "locked", "limit_exceeded",
		"pool_expired", "pool_exists":
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		msg = "internal error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "kind": errs.Kind(err)})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
