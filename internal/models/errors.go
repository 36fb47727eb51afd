package models

import "errors"

var (
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidBar       = errors.New("invalid bar (high < low)")
	ErrInvalidVolume    = errors.New("invalid volume")

	// ErrAcquisition is reported when the ticker source failed and the fallback list was used
	ErrAcquisition = errors.New("ticker acquisition failed")
	// ErrNoTickers is reported when no tickers were available to scan
	ErrNoTickers = errors.New("no tickers to scan")
	// ErrBatchFetch is reported when the market data provider failed for the whole batch
	ErrBatchFetch = errors.New("market data batch fetch failed")
	// ErrNoData is returned when a provider had no bars for a symbol
	ErrNoData = errors.New("no data")
	// ErrSuperseded is returned when a newer run completed first
	ErrSuperseded = errors.New("scan superseded by a newer run")
	// ErrBatchNotFound is returned by batch stores for unknown IDs
	ErrBatchNotFound = errors.New("batch not found")
)
