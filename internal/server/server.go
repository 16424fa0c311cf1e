// Package server exposes the query and admin-ingest surfaces over HTTP/JSON
// using go-chi (spec.md §16). The teacher's gRPC+gRPC-Gateway transport
// depended on generated protobuf bindings this module never had reason to
// vendor; chi is the router the rest of the example pack (AMOORCHING-ATMX's
// market-engine) reaches for when it needs a JSON API over a domain engine,
// and it was already a direct dependency here, so the transport is rebuilt
// on it rather than on hand-authored gRPC stubs.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PerpLedger/internal/fixedpoint"
	"PerpLedger/internal/ingestion"
	"PerpLedger/internal/observability"
	"PerpLedger/internal/persistence"
	"PerpLedger/internal/projection"
	"PerpLedger/internal/query"
)

// Deps collects the dependencies the HTTP server's handlers close over.
type Deps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	AdminIngest   *ingestion.AdminIngestService
	SnapshotMgr   *persistence.SnapshotManager
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
}

// NewRouter builds the chi router exposing query, ingest, and admin routes.
// Per doc §16/§20: health/readiness/metrics at the root, versioned JSON API
// under /api/v1.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", deps.HealthChecker.LivenessHandler)
	r.Get("/readyz", deps.HealthChecker.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/holders/{holderID}", func(r chi.Router) {
			r.Get("/balance/{asset}", deps.getBalance)
			r.Get("/positions", deps.listPositions)
			r.Get("/margin/{marketID}", deps.getMarginSnapshot)
			r.Get("/liquidity/{marketID}", deps.getLiquidityPosition)
			r.Get("/journal", deps.getJournalHistory)
		})

		r.Get("/positions/{positionID}", deps.getPosition)
		r.Get("/positions/{positionID}/liquifunding", deps.listLiquifunding)
		r.Get("/markets/{marketID}/crank-history", deps.listCrankHistory)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/liquidity/deposit", deps.injectDepositLiquidity)
			r.Post("/liquidity/withdraw", deps.injectWithdrawLp)
			r.Post("/prices", deps.injectSetPrice)
			r.Post("/crank", deps.injectCrank)
			r.Post("/shutdown", deps.injectSetShutdown)
			r.Post("/snapshot", deps.takeSnapshot)
			r.Post("/projections/rebuild", deps.rebuildProjections)
			r.Get("/integrity", deps.verifyIntegrity)
		})
	})

	return r
}

// --- query handlers ---

func (d Deps) getBalance(w http.ResponseWriter, r *http.Request) {
	holderID := chi.URLParam(r, "holderID")
	asset := chi.URLParam(r, "asset")

	bal, err := d.QueryService.GetBalance(r.Context(), holderID, asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (d Deps) listPositions(w http.ResponseWriter, r *http.Request) {
	holderID := chi.URLParam(r, "holderID")

	positions, err := d.QueryService.ListPositions(r.Context(), holderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (d Deps) getPosition(w http.ResponseWriter, r *http.Request) {
	positionID, err := uuid.Parse(chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	pos, err := d.QueryService.GetPosition(r.Context(), positionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if pos == nil {
		writeError(w, http.StatusNotFound, errors.New("position not found"))
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (d Deps) listLiquifunding(w http.ResponseWriter, r *http.Request) {
	positionID, err := uuid.Parse(chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	limit := intQueryParam(r, "limit", 100)
	history, err := d.QueryService.ListLiquifundingHistory(r.Context(), positionID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (d Deps) listCrankHistory(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	limit := intQueryParam(r, "limit", 100)

	var kindFilter *string
	if k := r.URL.Query().Get("kind"); k != "" {
		kindFilter = &k
	}

	history, err := d.QueryService.ListCrankHistory(r.Context(), marketID, kindFilter, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (d Deps) getMarginSnapshot(w http.ResponseWriter, r *http.Request) {
	holderID := chi.URLParam(r, "holderID")
	marketID := chi.URLParam(r, "marketID")

	info, err := d.QueryService.GetMarginSnapshot(r.Context(), holderID, marketID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (d Deps) getLiquidityPosition(w http.ResponseWriter, r *http.Request) {
	holderID := chi.URLParam(r, "holderID")
	marketID := chi.URLParam(r, "marketID")

	pos, err := d.QueryService.GetLiquidityPosition(r.Context(), holderID, marketID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (d Deps) getJournalHistory(w http.ResponseWriter, r *http.Request) {
	holderID := chi.URLParam(r, "holderID")
	limit := intQueryParam(r, "limit", 100)

	var after *int64
	if s := r.URL.Query().Get("after_sequence"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		after = &v
	}

	entries, err := d.QueryService.GetJournalHistory(r.Context(), holderID, limit, after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- admin/ingest handlers ---

type depositLiquidityRequest struct {
	Market     string `json:"market"`
	HolderID   string `json:"holder_id"`
	Collateral string `json:"collateral"`
	ToXlp      bool   `json:"to_xlp"`
}

func (d Deps) injectDepositLiquidity(w http.ResponseWriter, r *http.Request) {
	var req depositLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	collateral, err := fixedpoint.FromDecimalString(req.Collateral)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := d.AdminIngest.InjectDepositLiquidity(r.Context(), req.Market, req.HolderID, collateral, req.ToXlp); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type withdrawLpRequest struct {
	Market   string `json:"market"`
	HolderID string `json:"holder_id"`
	Shares   string `json:"shares"`
}

func (d Deps) injectWithdrawLp(w http.ResponseWriter, r *http.Request) {
	var req withdrawLpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shares, err := fixedpoint.FromDecimalString(req.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := d.AdminIngest.InjectWithdrawLp(r.Context(), req.Market, req.HolderID, shares); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type setPriceRequest struct {
	Market    string `json:"market"`
	PriceBase string `json:"price_base"`
	PriceUsd  string `json:"price_usd"`
	Sequence  int64  `json:"sequence"`
}

func (d Deps) injectSetPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	priceBase, err := fixedpoint.FromDecimalString(req.PriceBase)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	priceUsd, err := fixedpoint.FromDecimalString(req.PriceUsd)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := d.AdminIngest.InjectSetPrice(r.Context(), req.Market, priceBase, priceUsd, req.Sequence); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type crankRequest struct {
	Market    string `json:"market"`
	BatchSize int    `json:"batch_size"`
}

func (d Deps) injectCrank(w http.ResponseWriter, r *http.Request) {
	var req crankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := d.AdminIngest.InjectCrank(r.Context(), req.Market, req.BatchSize); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type setShutdownRequest struct {
	Market  string `json:"market"`
	Surface int    `json:"surface"`
	Enabled bool   `json:"enabled"`
}

func (d Deps) injectSetShutdown(w http.ResponseWriter, r *http.Request) {
	var req setShutdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := d.AdminIngest.InjectSetShutdown(r.Context(), req.Market, req.Surface, req.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (d Deps) takeSnapshot(w http.ResponseWriter, r *http.Request) {
	// Snapshots are driven by the orchestrator's periodic ticker
	// (cmd/perpledger); this endpoint exists for on-demand operator use.
	writeError(w, http.StatusNotImplemented, errors.New("on-demand snapshot not wired to this process"))
}

func (d Deps) rebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), d.DB); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (d Deps) verifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := d.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func intQueryParam(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// Serve starts the HTTP server and blocks until ctx is cancelled or the
// server errors. Mirrors the teacher's graceful-shutdown shape.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
