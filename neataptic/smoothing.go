package neataptic

import (
	"fmt"
	"math"
)

// A lossTracker smooths the per-iteration training error before it is
// reported or compared against stopping conditions. Raw per-batch loss is
// noisy enough that early stopping on it fires spuriously.
type lossTracker interface {
	// Add records one raw loss value and returns the smoothed loss.
	Add(loss float64) float64
}

// movingAverageTypes enumerates the recognized smoothing strategies.
var movingAverageTypes = map[string]bool{
	"none":         true,
	"sma":          true,
	"ema":          true,
	"adaptive-ema": true,
	"gaussian":     true,
	"trimmed":      true,
	"wma":          true,
}

// newLossTracker builds a tracker for the given strategy name. The window
// controls history length where applicable; 0 picks a default of 10.
func newLossTracker(name string, window int) (lossTracker, error) {
	if window <= 0 {
		window = 10
	}
	switch name {
	case "", "none":
		return &rawTracker{}, nil
	case "sma":
		return &windowTracker{window: window, combine: Mean}, nil
	case "ema":
		return &emaTracker{alpha: 2.0 / (float64(window) + 1)}, nil
	case "adaptive-ema":
		return &adaptiveEMATracker{baseAlpha: 2.0 / (float64(window) + 1), window: window}, nil
	case "gaussian":
		return &windowTracker{window: window, combine: func(vs []float64) float64 {
			weights := GaussianWeights(len(vs), 0)
			sum := 0.0
			for i, v := range vs {
				sum += v * weights[i]
			}
			return sum
		}}, nil
	case "trimmed":
		return &windowTracker{window: window, combine: func(vs []float64) float64 {
			return TrimmedMean(vs, 0.1)
		}}, nil
	case "wma":
		return &windowTracker{window: window, combine: weightedMovingAverage}, nil
	default:
		return nil, fmt.Errorf("unknown moving average type: %s", name)
	}
}

// rawTracker performs no smoothing.
type rawTracker struct{}

func (t *rawTracker) Add(loss float64) float64 { return loss }

// windowTracker keeps a sliding window of raw values and applies a combine
// function over it. Shared by sma, gaussian, trimmed and wma strategies.
type windowTracker struct {
	window  int
	history []float64
	combine func([]float64) float64
}

func (t *windowTracker) Add(loss float64) float64 {
	t.history = append(t.history, loss)
	if len(t.history) > t.window {
		t.history = t.history[1:]
	}
	return t.combine(t.history)
}

// weightedMovingAverage weights samples linearly, newest heaviest.
func weightedMovingAverage(vs []float64) float64 {
	sum, wsum := 0.0, 0.0
	for i, v := range vs {
		w := float64(i + 1)
		sum += v * w
		wsum += w
	}
	return sum / wsum
}

// emaTracker is a standard exponential moving average.
type emaTracker struct {
	alpha   float64
	value   float64
	started bool
}

func (t *emaTracker) Add(loss float64) float64 {
	if !t.started {
		t.value = loss
		t.started = true
		return t.value
	}
	t.value = t.alpha*loss + (1-t.alpha)*t.value
	return t.value
}

// adaptiveEMATracker scales its smoothing factor with the recent volatility
// of the loss: stable loss smooths harder, volatile loss tracks faster.
type adaptiveEMATracker struct {
	baseAlpha float64
	window    int
	history   []float64
	value     float64
	started   bool
}

func (t *adaptiveEMATracker) Add(loss float64) float64 {
	t.history = append(t.history, loss)
	if len(t.history) > t.window {
		t.history = t.history[1:]
	}
	if !t.started {
		t.value = loss
		t.started = true
		return t.value
	}
	alpha := t.baseAlpha
	if len(t.history) >= 2 {
		mean := Mean(t.history)
		if mean != 0 {
			volatility := math.Abs(Stdev(t.history) / mean)
			alpha = clamp(t.baseAlpha*(1+volatility), t.baseAlpha, 1.0)
		}
	}
	t.value = alpha*loss + (1-alpha)*t.value
	return t.value
}
