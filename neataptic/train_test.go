package neataptic

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleSampleSet() []Sample {
	return []Sample{{Input: []float64{1}, Output: []float64{0}}}
}

func TestTrainValidationFailsFast(t *testing.T) {
	n, err := NewPerceptron(1, 1)
	require.NoError(t, err)
	set := singleSampleSet()
	var validation *ValidationError
	var config *ConfigurationError

	cases := []struct {
		name string
		set  []Sample
		opts TrainOptions
		as   interface{}
	}{
		{"empty set", nil, TrainOptions{Iterations: 1, Rate: 0.1}, &validation},
		{"shape mismatch", []Sample{{Input: []float64{1, 2}, Output: []float64{0}}}, TrainOptions{Iterations: 1, Rate: 0.1}, &validation},
		{"no stopping condition", set, TrainOptions{Rate: 0.1}, &validation},
		{"bad rate", set, TrainOptions{Iterations: 1}, &validation},
		{"bad dropout", set, TrainOptions{Iterations: 1, Rate: 0.1, Dropout: 1}, &validation},
		{"batch larger than set", set, TrainOptions{Iterations: 1, Rate: 0.1, BatchSize: 2}, &validation},
		{"bad momentum", set, TrainOptions{Iterations: 1, Rate: 0.1, Momentum: 1}, &validation},
		{"unknown cost", set, TrainOptions{Iterations: 1, Rate: 0.1, Cost: "focal"}, &config},
		{"unknown clip mode", set, TrainOptions{Iterations: 1, Rate: 0.1, GradientClip: &GradientClip{Mode: "value"}}, &config},
		{"clip norm without maxNorm", set, TrainOptions{Iterations: 1, Rate: 0.1, GradientClip: &GradientClip{Mode: "norm"}}, &validation},
		{"clip percentile out of range", set, TrainOptions{Iterations: 1, Rate: 0.1, GradientClip: &GradientClip{Mode: "percentile", Percentile: 101}}, &validation},
		{"bad loss scale", set, TrainOptions{Iterations: 1, Rate: 0.1, MixedPrecision: &MixedPrecision{LossScale: 0}}, &validation},
		{"bad dynamic scale", set, TrainOptions{Iterations: 1, Rate: 0.1, MixedPrecision: &MixedPrecision{LossScale: 8, Dynamic: &DynamicLossScale{}}}, &validation},
		{"unknown smoothing", set, TrainOptions{Iterations: 1, Rate: 0.1, MovingAverageType: "kalman"}, &config},
		{"checkpoint without save", set, TrainOptions{Iterations: 1, Rate: 0.1, Checkpoint: &Checkpoint{Last: 5}}, &validation},
		{"broken schedule", set, TrainOptions{Iterations: 1, Rate: 0.1, Schedule: &Schedule{Iterations: 5}}, &validation},
		{"nested lookahead", set, TrainOptions{Iterations: 1, Rate: 0.1, Optimizer: func() *Optimizer {
			o, _ := NewOptimizer("lookahead")
			o.Inner, _ = NewOptimizer("lookahead")
			return o
		}()}, &config},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := tc.opts
			_, err := n.Train(tc.set, &opts)
			require.Error(t, err)
			require.ErrorAs(t, err, tc.as)
		})
	}
}

func TestTrainEveryOptimizerMovesTheWeight(t *testing.T) {
	for _, name := range OptimizerNames {
		t.Run(name, func(t *testing.T) {
			n, err := NewPerceptron(1, 1)
			require.NoError(t, err)
			n.Connections[0].Weight = 0.5
			opt, err := NewOptimizer(name)
			require.NoError(t, err)

			_, err = n.Train(singleSampleSet(), &TrainOptions{
				Iterations: 1,
				Rate:       0.2,
				Optimizer:  opt,
			})
			require.NoError(t, err)
			assert.NotEqual(t, 0.5, n.Connections[0].Weight)
		})
	}
}

func TestTrainAdamStepScalesWithRate(t *testing.T) {
	// Adam normalizes the gradient magnitude away, so the first batched
	// update must move the weight by about the learning rate itself, and
	// a different rate must produce a proportionally different step.
	stepAt := func(rate float64) float64 {
		n, err := NewPerceptron(1, 1)
		require.NoError(t, err)
		require.NoError(t, n.Nodes[1].SetSquash("identity"))
		n.Connections[0].Weight = 0.5
		n.Nodes[1].Bias = 0
		opt, err := NewOptimizer("adam")
		require.NoError(t, err)

		_, err = n.Train(singleSampleSet(), &TrainOptions{
			Iterations: 1,
			Rate:       rate,
			Optimizer:  opt,
		})
		require.NoError(t, err)
		return math.Abs(n.Connections[0].Weight - 0.5)
	}

	assert.InDelta(t, 0.2, stepAt(0.2), 1e-3)
	assert.InDelta(t, 0.01, stepAt(0.01), 1e-3)
}

func TestTrainReducesErrorOnLinearProblem(t *testing.T) {
	n, err := NewPerceptron(2, 1)
	require.NoError(t, err)
	require.NoError(t, n.Nodes[2].SetSquash("identity"))
	set := []Sample{
		{Input: []float64{0, 0}, Output: []float64{0}},
		{Input: []float64{0, 1}, Output: []float64{1}},
		{Input: []float64{1, 0}, Output: []float64{1}},
		{Input: []float64{1, 1}, Output: []float64{2}},
	}

	before, err := n.Test(set, "mse")
	require.NoError(t, err)
	result, err := n.Train(set, &TrainOptions{Iterations: 200, Rate: 0.05})
	require.NoError(t, err)

	assert.Less(t, result.Error, before)
	assert.Less(t, result.Error, 0.01)
	assert.Equal(t, 200, result.Iterations)
}

func TestTrainStopsAtErrorTarget(t *testing.T) {
	n, err := NewPerceptron(1, 1)
	require.NoError(t, err)
	require.NoError(t, n.Nodes[1].SetSquash("identity"))
	set := []Sample{{Input: []float64{1}, Output: []float64{0.5}}}

	result, err := n.Train(set, &TrainOptions{Iterations: 10000, Error: 0.001, Rate: 0.1})
	require.NoError(t, err)
	assert.LessOrEqual(t, result.Error, 0.001)
	assert.Less(t, result.Iterations, 10000)
}

func TestTrainEarlyStoppingExhaustsPatience(t *testing.T) {
	n, err := NewPerceptron(1, 1)
	require.NoError(t, err)

	// An absurd min delta means no iteration ever counts as improvement
	// after the first, so patience runs the training down.
	result, err := n.Train(singleSampleSet(), &TrainOptions{
		Iterations:        1000,
		Rate:              0.001,
		EarlyStopPatience: 3,
		EarlyStopMinDelta: 1e9,
	})
	require.NoError(t, err)
	assert.Less(t, result.Iterations, 10)
}

func TestTrainDropoutMaskAfterTraining(t *testing.T) {
	n, err := NewPerceptron(2, 4, 1)
	require.NoError(t, err)

	_, err = n.Train([]Sample{
		{Input: []float64{0, 1}, Output: []float64{1}},
		{Input: []float64{1, 0}, Output: []float64{1}},
	}, &TrainOptions{Iterations: 5, Rate: 0.1, Dropout: 0.25})
	require.NoError(t, err)

	assert.Zero(t, n.Dropout)
	for _, node := range n.Nodes {
		if node.Kind == NodeHidden {
			assert.Equal(t, 0.75, node.Mask, "inference mask must be 1-p")
		}
	}
}

func TestTrainMetricsAndScheduleHooks(t *testing.T) {
	n, err := NewPerceptron(1, 1)
	require.NoError(t, err)

	var metrics []TrainMetrics
	var scheduled []int
	_, err = n.Train(singleSampleSet(), &TrainOptions{
		Iterations:  6,
		Rate:        0.1,
		MetricsHook: func(m TrainMetrics) { metrics = append(metrics, m) },
		Schedule: &Schedule{
			Iterations: 2,
			Function:   func(iteration int, smoothed float64) { scheduled = append(scheduled, iteration) },
		},
	})
	require.NoError(t, err)

	require.Len(t, metrics, 6)
	assert.Equal(t, 1, metrics[0].Iteration)
	assert.Equal(t, 1.0, metrics[0].LossScale)
	assert.Greater(t, metrics[0].GradientNorm, 0.0)
	assert.Equal(t, []int{2, 4, 6}, scheduled)
}

func TestTrainCheckpointCallback(t *testing.T) {
	n, err := NewPerceptron(1, 1)
	require.NoError(t, err)

	var saved []*TrainCheckpoint
	_, err = n.Train(singleSampleSet(), &TrainOptions{
		Iterations: 6,
		Rate:       0.1,
		Checkpoint: &Checkpoint{
			Last: 3,
			Save: func(cp *TrainCheckpoint) error { saved = append(saved, cp); return nil },
		},
	})
	require.NoError(t, err)

	require.Len(t, saved, 2)
	assert.Equal(t, 3, saved[0].Iteration)
	assert.Equal(t, 6, saved[1].Iteration)
	require.NotNil(t, saved[0].Genome)
	_, err = Deserialize(saved[0].Genome)
	require.NoError(t, err)
}

func TestTrainRatePolicyIsApplied(t *testing.T) {
	n, err := NewPerceptron(1, 1)
	require.NoError(t, err)

	var rates []float64
	_, err = n.Train(singleSampleSet(), &TrainOptions{
		Iterations:  4,
		Rate:        0.4,
		RatePolicy:  StepRate(0.5, 2),
		MetricsHook: func(m TrainMetrics) { rates = append(rates, m.Rate) },
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4, 0.2, 0.2, 0.1}, rates)
}

func TestClipGroupNormScalesToBound(t *testing.T) {
	a := NewConnection(NewNode(NodeInput), NewNode(NodeOutput), 0)
	b := NewConnection(NewNode(NodeInput), NewNode(NodeOutput), 0)
	a.TotalDeltaWeight = 3
	b.TotalDeltaWeight = 4

	clipGroupNorm([]*Connection{a, b}, nil, 1)
	norm := math.Hypot(a.TotalDeltaWeight, b.TotalDeltaWeight)
	assert.InDelta(t, 1.0, norm, 1e-12)
	// Direction is preserved.
	assert.InDelta(t, 3.0/4.0, a.TotalDeltaWeight/b.TotalDeltaWeight, 1e-12)

	// Deltas already inside the bound are untouched.
	a.TotalDeltaWeight, b.TotalDeltaWeight = 0.1, 0.1
	clipGroupNorm([]*Connection{a, b}, nil, 1)
	assert.Equal(t, 0.1, a.TotalDeltaWeight)
}

func TestClipGroupPercentileClampsOutliers(t *testing.T) {
	conns := make([]*Connection, 5)
	values := []float64{0.1, 0.2, 0.3, 0.4, 100}
	for i := range conns {
		conns[i] = NewConnection(NewNode(NodeInput), NewNode(NodeOutput), 0)
		conns[i].TotalDeltaWeight = values[i]
	}

	clipGroupPercentile(conns, nil, 75)
	threshold := Percentile([]float64{0.1, 0.2, 0.3, 0.4, 100}, 75)
	for _, conn := range conns {
		assert.LessOrEqual(t, math.Abs(conn.TotalDeltaWeight), threshold)
	}
	assert.Equal(t, 0.1, conns[0].TotalDeltaWeight, "inliers are untouched")
}

func TestTrainGradientClipBoundsUpdate(t *testing.T) {
	n, err := NewPerceptron(1, 1)
	require.NoError(t, err)
	require.NoError(t, n.Nodes[1].SetSquash("identity"))
	n.Connections[0].Weight = 0.5
	before := n.Connections[0].Weight

	// A huge target produces a huge delta; the norm clip bounds the total
	// applied step (weight and bias together) to 1.
	_, err = n.Train([]Sample{{Input: []float64{1}, Output: []float64{1e6}}}, &TrainOptions{
		Iterations:   1,
		Rate:         1,
		GradientClip: &GradientClip{Mode: "norm", MaxNorm: 1},
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, math.Abs(n.Connections[0].Weight-before), 1.0)
}

func TestAdjustLossScaleDynamics(t *testing.T) {
	// Static scaling never changes.
	scale, clean := adjustLossScale(1024, false, 0, true, 5)
	assert.Equal(t, 1024.0, scale)
	assert.Equal(t, 5, clean)

	// Overflow halves and resets the clean counter, floored at 1.
	scale, clean = adjustLossScale(1024, true, 4, true, 3)
	assert.Equal(t, 512.0, scale)
	assert.Zero(t, clean)
	scale, _ = adjustLossScale(1, true, 4, true, 0)
	assert.Equal(t, 1.0, scale)

	// Enough clean updates double the scale.
	scale, clean = adjustLossScale(512, true, 2, false, 0)
	assert.Equal(t, 512.0, scale)
	assert.Equal(t, 1, clean)
	scale, clean = adjustLossScale(512, true, 2, false, clean)
	assert.Equal(t, 1024.0, scale)
	assert.Zero(t, clean)
}

func TestMixedPrecisionOverflowDiscardsBatch(t *testing.T) {
	n, err := NewPerceptron(1, 1)
	require.NoError(t, err)
	conn := n.Connections[0]
	conn.Weight = 0.5
	conn.TotalDeltaWeight = math.Inf(1)
	opt, _ := NewOptimizer("adam")

	norm, overflow := n.applyAccumulated(opt, 0.1, 1024, nil)
	assert.True(t, overflow)
	assert.Zero(t, norm)
	assert.Equal(t, 0.5, conn.Weight, "overflowing batches must not touch the weights")
	assert.Zero(t, conn.TotalDeltaWeight)
}

func TestTestReportsMeanCost(t *testing.T) {
	n, err := NewPerceptron(1, 1)
	require.NoError(t, err)
	require.NoError(t, n.Nodes[1].SetSquash("identity"))
	n.Connections[0].Weight = 1
	n.Nodes[1].Bias = 0

	got, err := n.Test([]Sample{
		{Input: []float64{1}, Output: []float64{1}},
		{Input: []float64{2}, Output: []float64{0}},
	}, "mse")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got, 1e-12)

	_, err = n.Test(nil, "mse")
	require.Error(t, err)
	_, err = n.Test(singleSampleSet(), "focal")
	require.Error(t, err)
}

func TestLoadTrainOptionsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preset.yaml")
	preset := `
iterations: 100
rate: 0.05
batchSize: 2
cost: mse
optimizer:
  type: adamw
  weightDecay: 0.05
mixedPrecision:
  lossScale: 256
  dynamic:
    increaseEvery: 500
gradientClip:
  mode: norm
  maxNorm: 2
movingAverageType: ema
movingAverageWindow: 20
`
	require.NoError(t, os.WriteFile(path, []byte(preset), 0o644))

	opts, err := LoadTrainOptions(path)
	require.NoError(t, err)
	assert.Equal(t, 100, opts.Iterations)
	assert.Equal(t, 0.05, opts.Rate)
	assert.Equal(t, 2, opts.BatchSize)
	require.NotNil(t, opts.Optimizer)
	assert.Equal(t, "adamw", opts.Optimizer.Type)
	assert.Equal(t, 0.05, opts.Optimizer.WeightDecay)
	require.NotNil(t, opts.MixedPrecision)
	assert.Equal(t, 256.0, opts.MixedPrecision.LossScale)
	require.NotNil(t, opts.MixedPrecision.Dynamic)
	assert.Equal(t, 500, opts.MixedPrecision.Dynamic.IncreaseEvery)
	require.NotNil(t, opts.GradientClip)
	assert.Equal(t, "norm", opts.GradientClip.Mode)
	assert.Equal(t, "ema", opts.MovingAverageType)
}

func TestLoadTrainOptionsScalarForms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preset.yaml")
	require.NoError(t, os.WriteFile(path, []byte("iterations: 10\nrate: 0.1\noptimizer: adam\nmixedPrecision: true\n"), 0o644))

	opts, err := LoadTrainOptions(path)
	require.NoError(t, err)
	require.NotNil(t, opts.Optimizer)
	assert.Equal(t, "adam", opts.Optimizer.Type)
	require.NotNil(t, opts.MixedPrecision)
	assert.Equal(t, 1024.0, opts.MixedPrecision.LossScale)
}

func TestLoadTrainOptionsRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preset.yaml")
	require.NoError(t, os.WriteFile(path, []byte("iterations: 10\nlerningRate: 0.1\n"), 0o644))

	_, err := LoadTrainOptions(path)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = LoadTrainOptions(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
