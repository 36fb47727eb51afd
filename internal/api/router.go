package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohamedkhairy/momentum-screener/internal/config"
	"github.com/mohamedkhairy/momentum-screener/internal/storage"
	"github.com/mohamedkhairy/momentum-screener/internal/wsgateway"
)

// Deps are the collaborators served by the API. Only Scanner is required.
type Deps struct {
	Scanner   Scanner
	Tickers   TickerShuffler
	Archive   storage.BatchStore
	WebSocket http.Handler
	// Ready reports whether backing services are reachable
	Ready func(ctx context.Context) error
}

// NewRouter builds the routes and wraps them in the middleware chain
func NewRouter(deps Deps, cfg config.APIConfig) http.Handler {
	router := mux.NewRouter()
	router.Use(mux.MiddlewareFunc(LoggingMiddleware()))

	scans := NewScanHandler(deps.Scanner, deps.Archive)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/scan", scans.GetScan).Methods(http.MethodGet)
	v1.HandleFunc("/scan/refresh", scans.RefreshScan).Methods(http.MethodPost)
	v1.HandleFunc("/scan/targets", scans.ScanTargets).Methods(http.MethodPost)
	v1.HandleFunc("/scan/history", scans.ListHistory).Methods(http.MethodGet)
	v1.HandleFunc("/scan/{id}", scans.GetBatch).Methods(http.MethodGet)
	v1.HandleFunc("/criteria", scans.GetCriteria).Methods(http.MethodGet)
	v1.HandleFunc("/stats", scans.GetStats).Methods(http.MethodGet)

	if deps.Tickers != nil {
		tickerHandler := NewTickerHandler(deps.Tickers)
		v1.HandleFunc("/tickers", tickerHandler.GetTickers).Methods(http.MethodGet)
		v1.HandleFunc("/tickers/shuffle", tickerHandler.Shuffle).Methods(http.MethodPost)
	}

	if deps.WebSocket != nil {
		router.Handle("/ws", deps.WebSocket)
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := deps.Ready(ctx); err != nil {
				respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "not ready",
					"error":  err.Error(),
				})
				return
			}
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	router.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	router.Handle("/metrics", promhttp.Handler())

	middlewares := ChainMiddleware(
		RecoveryMiddleware(),
		CORSMiddleware(cfg.CORSOrigins),
		RateLimitMiddleware(cfg.RateLimitRPS),
		AuthMiddleware(wsgateway.NewAuthManager(cfg.JWTSecret)),
	)
	return middlewares(router)
}
