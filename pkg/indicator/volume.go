package indicator

import (
	"math"
	"time"

	"github.com/sdcoffey/big"
	"github.com/sdcoffey/techan"
)

// volumeSeries converts a window of volumes into a Techan time series.
// Candle periods are positional; only the volume field is populated.
func volumeSeries(volumes []float64) *techan.TimeSeries {
	series := techan.NewTimeSeries()
	start := time.Unix(0, 0).UTC()
	for i, v := range volumes {
		period := techan.NewTimePeriod(start.Add(time.Duration(i)*24*time.Hour), 24*time.Hour)
		candle := techan.NewCandle(period)
		candle.Volume = big.NewDecimal(v)
		series.AddCandle(candle)
	}
	return series
}

// AverageVolume returns the arithmetic mean of volumes over the whole window.
// An empty window or any non-finite input yields 0.
func AverageVolume(volumes []float64) float64 {
	if len(volumes) == 0 {
		return 0
	}
	for _, v := range volumes {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
	}

	series := volumeSeries(volumes)
	sma := techan.NewSimpleMovingAverage(techan.NewVolumeIndicator(series), len(volumes))
	avg := sma.Calculate(series.LastIndex()).Float()
	if math.IsNaN(avg) || math.IsInf(avg, 0) {
		return 0
	}
	return avg
}

// RelativeVolume divides current volume by the average, returning 0 when the
// average is not positive.
func RelativeVolume(current, average float64) float64 {
	if average <= 0 {
		return 0
	}
	rel := current / average
	if math.IsNaN(rel) || math.IsInf(rel, 0) {
		return 0
	}
	return rel
}
