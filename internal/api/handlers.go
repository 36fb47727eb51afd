package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/internal/screener"
	"github.com/mohamedkhairy/momentum-screener/internal/storage"
	"github.com/mohamedkhairy/momentum-screener/internal/tickers"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

// Scanner is the part of the screening pipeline the API drives
type Scanner interface {
	RunScan(ctx context.Context, opts screener.RunOptions) (*models.ScanBatch, error)
	RunScanWithTargetSet(ctx context.Context, symbols []string, opts screener.RunOptions) (*models.ScanBatch, error)
	Current() *models.ScanBatch
	Stage() screener.Stage
	GetStats() screener.Stats
	Thresholds() models.CriteriaThresholds
	Policy() models.MatchPolicy
}

// TickerShuffler holds the session ticker sample
type TickerShuffler interface {
	Current(ctx context.Context) tickers.Result
	ShuffleN(ctx context.Context, n int) tickers.Result
	Size() int
}

// ScanResponse is a batch view after query filters
type ScanResponse struct {
	*models.ScanBatch
	TotalRows  int    `json:"total_rows"`
	MatchCount int    `json:"match_count"`
	Stage      string `json:"stage"`
}

// RefreshRequest is the optional body of POST /scan/refresh
type RefreshRequest struct {
	SampleSize int  `json:"sample_size" validate:"gte=0,lte=5000"`
	Reshuffle  bool `json:"reshuffle"`
}

// TargetsRequest is the body of POST /scan/targets
type TargetsRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=1,max=500,dive,required"`
}

// ShuffleRequest is the optional body of POST /tickers/shuffle
type ShuffleRequest struct {
	SampleSize int `json:"sample_size" validate:"gte=0,lte=5000"`
}

// ScanHandler handles scan and criteria endpoints
type ScanHandler struct {
	scanner Scanner
	archive storage.BatchStore
}

// NewScanHandler creates a new scan handler. archive may be nil.
func NewScanHandler(scanner Scanner, archive storage.BatchStore) *ScanHandler {
	return &ScanHandler{scanner: scanner, archive: archive}
}

// GetScan handles GET /api/v1/scan
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	q, err := parseScanQuery(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	batch := h.scanner.Current()
	if batch == nil {
		respondWithJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": "no data",
			"state": "no_data",
			"stage": h.scanner.Stage().String(),
			"code":  http.StatusNotFound,
		})
		return
	}

	respondWithJSON(w, http.StatusOK, h.view(batch, q))
}

// RefreshScan handles POST /api/v1/scan/refresh
func (h *ScanHandler) RefreshScan(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	// the run is bounded by its own timeout, not the client connection
	batch, err := h.scanner.RunScan(context.WithoutCancel(r.Context()), screener.RunOptions{
		SampleSize: req.SampleSize,
		Reshuffle:  req.Reshuffle,
	})
	h.respondRun(w, batch, err)
}

// ScanTargets handles POST /api/v1/scan/targets
func (h *ScanHandler) ScanTargets(w http.ResponseWriter, r *http.Request) {
	var req TargetsRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	batch, err := h.scanner.RunScanWithTargetSet(context.WithoutCancel(r.Context()), req.Symbols, screener.RunOptions{})
	h.respondRun(w, batch, err)
}

func (h *ScanHandler) respondRun(w http.ResponseWriter, batch *models.ScanBatch, err error) {
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, h.view(batch, scanQuery{}))
	case screener.IsBatchError(err):
		respondWithJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error": err.Error(),
			"code":  http.StatusBadGateway,
			"batch": batch,
		})
	case errors.Is(err, models.ErrSuperseded):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondWithError(w, http.StatusGatewayTimeout, "scan did not complete in time")
	default:
		logger.Error("Scan failed", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "scan failed")
	}
}

// ListHistory handles GET /api/v1/scan/history
func (h *ScanHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		respondWithError(w, http.StatusNotImplemented, "batch archive disabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			respondWithError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	summaries, err := h.archive.List(r.Context(), limit)
	if err != nil {
		logger.Error("Failed to list batches", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"batches": summaries,
		"count":   len(summaries),
	})
}

// GetBatch handles GET /api/v1/scan/{id}
func (h *ScanHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if cur := h.scanner.Current(); cur != nil && cur.ID == id {
		respondWithJSON(w, http.StatusOK, h.view(cur, scanQuery{}))
		return
	}
	if h.archive == nil {
		respondWithError(w, http.StatusNotFound, "Batch not found")
		return
	}

	batch, err := h.archive.Get(r.Context(), id)
	if errors.Is(err, models.ErrBatchNotFound) {
		respondWithError(w, http.StatusNotFound, "Batch not found")
		return
	}
	if err != nil {
		logger.Error("Failed to load batch", logger.ErrorField(err), logger.BatchID(id))
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve batch")
		return
	}

	respondWithJSON(w, http.StatusOK, h.view(batch, scanQuery{}))
}

// GetCriteria handles GET /api/v1/criteria
func (h *ScanHandler) GetCriteria(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"thresholds": h.scanner.Thresholds(),
		"policy":     h.scanner.Policy(),
	})
}

// GetStats handles GET /api/v1/stats
func (h *ScanHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.scanner.GetStats()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"stage":                h.scanner.Stage().String(),
		"runs":                 stats.Runs,
		"failed":               stats.Failed,
		"superseded":           stats.Superseded,
		"last_run_at":          stats.LastRunAt,
		"last_run_duration_ms": stats.LastRunDuration.Milliseconds(),
		"last_row_count":       stats.LastRowCount,
		"last_match_count":     stats.LastMatchCount,
	})
}

func (h *ScanHandler) view(batch *models.ScanBatch, q scanQuery) ScanResponse {
	resp := ScanResponse{
		ScanBatch: q.apply(batch),
		TotalRows: len(batch.Rows),
		Stage:     h.scanner.Stage().String(),
	}
	resp.MatchCount = len(batch.Matches())
	return resp
}

type scanQuery struct {
	sort    string
	matches bool
	search  string
	limit   int
}

func parseScanQuery(r *http.Request) (scanQuery, error) {
	values := r.URL.Query()
	q := scanQuery{
		sort:   values.Get("sort"),
		search: strings.ToUpper(strings.TrimSpace(values.Get("q"))),
	}

	switch q.sort {
	case "", screener.SortByChange, screener.SortByPrice, screener.SortByRelVol:
	default:
		return q, errors.New("sort must be one of change, price, relvol")
	}

	if v := values.Get("matches"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return q, errors.New("matches must be a boolean")
		}
		q.matches = b
	}

	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, errors.New("limit must be a non-negative integer")
		}
		q.limit = n
	}
	return q, nil
}

// apply returns a filtered copy of batch; the input is never modified
func (q scanQuery) apply(batch *models.ScanBatch) *models.ScanBatch {
	out := batch.Clone()
	if q == (scanQuery{}) {
		return out
	}

	rows := out.Rows[:0]
	for _, row := range out.Rows {
		if q.matches && !row.MatchesCriteria {
			continue
		}
		if q.search != "" && !strings.Contains(row.Symbol, q.search) {
			continue
		}
		rows = append(rows, row)
	}
	screener.SortRows(rows, q.sort)
	if q.limit > 0 && len(rows) > q.limit {
		rows = rows[:q.limit]
	}
	out.Rows = rows
	return out
}

// TickerHandler handles the session ticker sample
type TickerHandler struct {
	tickers TickerShuffler
}

// NewTickerHandler creates a new ticker handler
func NewTickerHandler(t TickerShuffler) *TickerHandler {
	return &TickerHandler{tickers: t}
}

// GetTickers handles GET /api/v1/tickers
func (h *TickerHandler) GetTickers(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, tickerResponse(h.tickers.Current(r.Context()), h.tickers.Size()))
}

// Shuffle handles POST /api/v1/tickers/shuffle
func (h *TickerHandler) Shuffle(w http.ResponseWriter, r *http.Request) {
	var req ShuffleRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	n := req.SampleSize
	if n == 0 {
		n = h.tickers.Size()
	}
	res := h.tickers.ShuffleN(r.Context(), n)

	logger.Info("Ticker sample reshuffled",
		logger.Int("size", n),
		logger.Int("symbols", len(res.Symbols)),
		logger.Bool("fallback", res.Fallback),
	)
	respondWithJSON(w, http.StatusOK, tickerResponse(res, n))
}

func tickerResponse(res tickers.Result, size int) map[string]interface{} {
	resp := map[string]interface{}{
		"symbols":  res.Symbols,
		"count":    len(res.Symbols),
		"size":     size,
		"universe": res.Universe,
		"fallback": res.Fallback,
	}
	if res.Warning != nil {
		resp["warning"] = res.Warning.Error()
	}
	return resp
}

// decodeBody decodes and validates a required JSON body
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("invalid request body")
	}
	return validateRequest(dst)
}

// decodeOptionalBody is decodeBody where an empty body keeps the zero value
func decodeOptionalBody(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return validateRequest(dst)
	}
	err := decodeBody(r, dst)
	if err != nil && err.Error() == "request body is required" {
		return validateRequest(dst)
	}
	return err
}

func validateRequest(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.New("invalid " + strings.ToLower(fe.Field()) + ": failed " + fe.Tag())
		}
		return err
	}
	return nil
}
