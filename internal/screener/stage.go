package screener

import (
	"time"

	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

// Stage is a state of the screening pipeline
type Stage string

const (
	StageIdle      Stage = "IDLE"
	StageAcquire   Stage = "ACQUIRE_TICKERS"
	StageFetch     Stage = "FETCH_METRICS"
	StageEvaluate  Stage = "EVALUATE"
	StageFloat     Stage = "ENRICH_FLOAT"
	StageCatalysts Stage = "RESOLVE_CATALYSTS"
	StageAssembled Stage = "ASSEMBLED"
)

// String returns the stage name
func (s Stage) String() string {
	return string(s)
}

// observeStage records how long a stage took
func observeStage(stage Stage, start time.Time) {
	logger.StageDuration.WithLabelValues(stage.String()).Observe(time.Since(start).Seconds())
}
