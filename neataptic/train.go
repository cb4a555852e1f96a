package neataptic

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"
)

// Sample is one supervised training example.
type Sample struct {
	Input  []float64 `yaml:"input" json:"input"`
	Output []float64 `yaml:"output" json:"output"`
}

// GradientClip configures gradient clipping over the set of accumulated
// per-connection deltas. Mode "norm" scales the whole delta vector to at
// most MaxNorm, "percentile" clamps each delta to the Percentile-th
// magnitude, and the "layerwiseNorm" and "layerwisePercentile" variants
// apply the same rules per target node's delta group.
//
// SeparateBias clips bias deltas as their own group instead of mixing them
// with the weight deltas.
type GradientClip struct {
	Mode         string  `yaml:"mode"`
	MaxNorm      float64 `yaml:"maxNorm"`
	Percentile   float64 `yaml:"percentile"`
	SeparateBias bool    `yaml:"separateBias"`
}

var gradientClipModes = map[string]bool{
	"norm":                true,
	"percentile":          true,
	"layerwiseNorm":       true,
	"layerwisePercentile": true,
}

// DynamicLossScale adjusts the loss scale while training: halve on overflow,
// double after IncreaseEvery consecutive clean updates.
type DynamicLossScale struct {
	IncreaseEvery int `yaml:"increaseEvery"`
}

// MixedPrecision simulates loss-scaled reduced-precision training: gradients
// are computed at LossScale times their size and unscaled before application,
// with overflowing updates skipped entirely.
type MixedPrecision struct {
	LossScale float64           `yaml:"lossScale"`
	Dynamic   *DynamicLossScale `yaml:"dynamic"`
}

// TrainCheckpoint is the snapshot handed to a checkpoint callback.
type TrainCheckpoint struct {
	Iteration int
	Error     float64
	Best      bool
	Genome    *FlatGenome
}

// Checkpoint configures checkpoint callbacks: Save is invoked every Last
// iterations and, when Best is set, whenever the smoothed error improves.
type Checkpoint struct {
	Last int
	Best bool
	Save func(*TrainCheckpoint) error
}

// Schedule invokes Function every Iterations iterations.
type Schedule struct {
	Iterations int
	Function   func(iteration int, smoothedError float64)
}

// TrainMetrics is the per-iteration record passed to the metrics hook.
type TrainMetrics struct {
	Iteration     int
	Error         float64
	SmoothedError float64
	Rate          float64
	LossScale     float64
	GradientNorm  float64
}

// TrainOptions is the training configuration surface. Unrecognized or
// invalid combinations fail fast with a named error before any iteration
// executes.
type TrainOptions struct {
	Iterations int
	Error      float64
	Rate       float64
	RatePolicy RatePolicy
	Momentum   float64

	BatchSize         int
	AccumulationSteps int
	Dropout           float64
	Shuffle           bool

	Cost           string
	Regularization Regularization
	Optimizer      *Optimizer
	GradientClip   *GradientClip
	MixedPrecision *MixedPrecision

	MovingAverageType   string
	MovingAverageWindow int

	EarlyStopPatience int
	EarlyStopMinDelta float64

	Checkpoint  *Checkpoint
	Schedule    *Schedule
	MetricsHook func(TrainMetrics)

	// Log prints a progress line every Log iterations; 0 disables.
	Log int
}

// TrainResult summarizes a finished training run.
type TrainResult struct {
	Error      float64
	Iterations int
	Time       time.Duration
}

// validateTraining checks the dataset and the full option surface before the
// first iteration runs.
func (n *Network) validateTraining(set []Sample, opts *TrainOptions) error {
	if len(set) == 0 {
		return validationErrorf("dataset", "training set is empty")
	}
	for i, sample := range set {
		if len(sample.Input) != n.Input || len(sample.Output) != n.Output {
			return validationErrorf("dataset",
				"sample %d has shape %dx%d, network expects %dx%d",
				i, len(sample.Input), len(sample.Output), n.Input, n.Output)
		}
	}
	if opts.Iterations <= 0 && opts.Error <= 0 {
		return validationErrorf("options", "missing stopping condition: set Iterations and/or Error")
	}
	if opts.Rate <= 0 {
		return validationErrorf("rate", "learning rate must be positive, got %v", opts.Rate)
	}
	if opts.Dropout < 0 || opts.Dropout >= 1 {
		return validationErrorf("dropout", "must lie in [0, 1), got %v", opts.Dropout)
	}
	if opts.BatchSize < 0 || opts.BatchSize > len(set) {
		return validationErrorf("batchSize", "must lie in [1, len(set)], got %d", opts.BatchSize)
	}
	if opts.AccumulationSteps < 0 {
		return validationErrorf("accumulationSteps", "must be >= 1, got %d", opts.AccumulationSteps)
	}
	if opts.Momentum < 0 || opts.Momentum >= 1 {
		return validationErrorf("momentum", "must lie in [0, 1), got %v", opts.Momentum)
	}
	if opts.Cost != "" {
		if _, err := GetCost(opts.Cost); err != nil {
			return configErrorf("cost", "%v", err)
		}
	}
	if opts.Optimizer != nil {
		if err := opts.Optimizer.validate(); err != nil {
			return err
		}
	}
	if clip := opts.GradientClip; clip != nil {
		if !gradientClipModes[clip.Mode] {
			return configErrorf("gradientClip.mode", "unknown mode %q", clip.Mode)
		}
		switch clip.Mode {
		case "norm", "layerwiseNorm":
			if clip.MaxNorm <= 0 {
				return validationErrorf("gradientClip.maxNorm", "must be positive, got %v", clip.MaxNorm)
			}
		default:
			if clip.Percentile <= 0 || clip.Percentile > 100 {
				return validationErrorf("gradientClip.percentile", "must lie in (0, 100], got %v", clip.Percentile)
			}
		}
	}
	if mp := opts.MixedPrecision; mp != nil {
		if mp.LossScale <= 0 {
			return validationErrorf("mixedPrecision.lossScale", "must be positive, got %v", mp.LossScale)
		}
		if mp.Dynamic != nil && mp.Dynamic.IncreaseEvery <= 0 {
			return validationErrorf("mixedPrecision.dynamic.increaseEvery", "must be positive, got %d", mp.Dynamic.IncreaseEvery)
		}
	}
	if opts.MovingAverageType != "" && !movingAverageTypes[opts.MovingAverageType] {
		return configErrorf("movingAverageType", "unknown type %q", opts.MovingAverageType)
	}
	if opts.EarlyStopPatience < 0 {
		return validationErrorf("earlyStopPatience", "must be >= 0, got %d", opts.EarlyStopPatience)
	}
	if opts.EarlyStopMinDelta < 0 {
		return validationErrorf("earlyStopMinDelta", "must be >= 0, got %v", opts.EarlyStopMinDelta)
	}
	if opts.Checkpoint != nil && opts.Checkpoint.Save == nil {
		return validationErrorf("checkpoint", "Save callback must be set")
	}
	if opts.Schedule != nil && (opts.Schedule.Iterations <= 0 || opts.Schedule.Function == nil) {
		return validationErrorf("schedule", "needs positive Iterations and a Function")
	}
	return nil
}

// Train runs repeated activate/propagate passes over the dataset until a
// stopping condition hits. Deltas always accumulate and are applied at batch
// boundaries (after BatchSize*AccumulationSteps samples), which gives
// clipping and loss scaling a single application point regardless of
// optimizer choice.
func (n *Network) Train(set []Sample, opts *TrainOptions) (*TrainResult, error) {
	if opts == nil {
		opts = &TrainOptions{}
	}
	if err := n.validateTraining(set, opts); err != nil {
		return nil, err
	}

	costName := opts.Cost
	if costName == "" {
		costName = DefaultCost
	}
	cost, _ := GetCost(costName)

	ratePolicy := opts.RatePolicy
	if ratePolicy == nil {
		ratePolicy = FixedRate()
	}
	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = 1
	}
	accumulation := opts.AccumulationSteps
	if accumulation == 0 {
		accumulation = 1
	}
	applyEvery := batchSize * accumulation

	optimizer := opts.Optimizer
	if optimizer == nil {
		// Plain momentum SGD expressed through the same batched path.
		optimizer = &Optimizer{Type: "sgd", Momentum: opts.Momentum}
	}

	tracker, err := newLossTracker(opts.MovingAverageType, opts.MovingAverageWindow)
	if err != nil {
		return nil, configErrorf("movingAverageType", "%v", err)
	}

	lossScale := 1.0
	dynamicScale := false
	increaseEvery := 0
	if opts.MixedPrecision != nil {
		lossScale = opts.MixedPrecision.LossScale
		if opts.MixedPrecision.Dynamic != nil {
			dynamicScale = true
			increaseEvery = opts.MixedPrecision.Dynamic.IncreaseEvery
		}
	}
	cleanUpdates := 0

	n.Dropout = opts.Dropout
	defer n.finishDropout(opts.Dropout)

	samples := make([]Sample, len(set))
	copy(samples, set)

	start := time.Now()
	bestError := math.Inf(1)
	patienceLeft := opts.EarlyStopPatience
	smoothed := math.Inf(1)
	iteration := 0

	for {
		iteration++
		rate := ratePolicy(opts.Rate, iteration)
		if opts.Shuffle {
			rand.Shuffle(len(samples), func(i, j int) { samples[i], samples[j] = samples[j], samples[i] })
		}

		totalLoss := 0.0
		gradientNorm := 0.0
		pending := 0
		for _, sample := range samples {
			output, err := n.Activate(sample.Input, true)
			if err != nil {
				return nil, err
			}
			totalLoss += cost.Fn(sample.Output, output)
			// Accumulate loss-scaled raw gradients; the learning rate is
			// applied by the optimizer once the batch is unscaled.
			if err := n.PropagateWithCost(lossScale, 0, false, opts.Regularization, cost, sample.Output); err != nil {
				return nil, err
			}
			pending++
			if pending == applyEvery {
				norm, overflow := n.applyAccumulated(optimizer, rate, lossScale, opts.GradientClip)
				gradientNorm = norm
				lossScale, cleanUpdates = adjustLossScale(lossScale, dynamicScale, increaseEvery, overflow, cleanUpdates)
				pending = 0
			}
		}
		if pending > 0 {
			norm, overflow := n.applyAccumulated(optimizer, rate, lossScale, opts.GradientClip)
			gradientNorm = norm
			lossScale, cleanUpdates = adjustLossScale(lossScale, dynamicScale, increaseEvery, overflow, cleanUpdates)
		}

		iterError := totalLoss / float64(len(samples))
		smoothed = tracker.Add(iterError)

		if opts.Log > 0 && iteration%opts.Log == 0 {
			fmt.Printf("iteration %d, error %.6f (smoothed %.6f), rate %.4f\n", iteration, iterError, smoothed, rate)
		}
		if opts.MetricsHook != nil {
			opts.MetricsHook(TrainMetrics{
				Iteration:     iteration,
				Error:         iterError,
				SmoothedError: smoothed,
				Rate:          rate,
				LossScale:     lossScale,
				GradientNorm:  gradientNorm,
			})
		}
		if opts.Schedule != nil && iteration%opts.Schedule.Iterations == 0 {
			opts.Schedule.Function(iteration, smoothed)
		}

		improved := smoothed < bestError-opts.EarlyStopMinDelta
		if improved {
			bestError = smoothed
			patienceLeft = opts.EarlyStopPatience
		} else if opts.EarlyStopPatience > 0 {
			patienceLeft--
		}

		if cp := opts.Checkpoint; cp != nil {
			save := cp.Last > 0 && iteration%cp.Last == 0
			if cp.Best && improved {
				save = true
			}
			if save {
				snapshot := &TrainCheckpoint{
					Iteration: iteration,
					Error:     smoothed,
					Best:      cp.Best && improved,
					Genome:    n.Serialize(),
				}
				if err := cp.Save(snapshot); err != nil {
					return nil, fmt.Errorf("checkpoint callback failed at iteration %d: %w", iteration, err)
				}
			}
		}

		if opts.Error > 0 && smoothed <= opts.Error {
			break
		}
		if opts.Iterations > 0 && iteration >= opts.Iterations {
			break
		}
		if opts.EarlyStopPatience > 0 && patienceLeft <= 0 {
			break
		}
	}

	return &TrainResult{Error: smoothed, Iterations: iteration, Time: time.Since(start)}, nil
}

// finishDropout rescales hidden masks after training with dropout p so
// inference sees the expected activation magnitude.
func (n *Network) finishDropout(dropout float64) {
	n.Dropout = 0
	if dropout <= 0 {
		return
	}
	for _, node := range n.Nodes {
		if node.Kind == NodeHidden {
			node.Mask = 1 - dropout
		}
	}
}

// applyAccumulated unscales, clips and applies every pending delta. It
// returns the pre-clip gradient norm and whether the batch overflowed (in
// which case the accumulators are discarded and nothing is applied).
func (n *Network) applyAccumulated(optimizer *Optimizer, rate, lossScale float64, clip *GradientClip) (float64, bool) {
	conns := make([]*Connection, 0, len(n.Connections)+len(n.SelfConns))
	conns = append(conns, n.Connections...)
	conns = append(conns, n.SelfConns...)

	overflow := false
	for _, conn := range conns {
		if !isFinite(conn.TotalDeltaWeight) {
			overflow = true
			break
		}
	}
	if !overflow {
		for _, node := range n.Nodes {
			if node.Kind != NodeInput && !isFinite(node.TotalDeltaBias) {
				overflow = true
				break
			}
		}
	}
	if overflow {
		for _, conn := range conns {
			conn.TotalDeltaWeight = 0
		}
		for _, node := range n.Nodes {
			node.TotalDeltaBias = 0
		}
		return 0, true
	}

	if lossScale != 1 {
		for _, conn := range conns {
			conn.TotalDeltaWeight /= lossScale
		}
		for _, node := range n.Nodes {
			node.TotalDeltaBias /= lossScale
		}
	}

	deltas := make([]float64, 0, len(conns)+len(n.Nodes))
	for _, conn := range conns {
		deltas = append(deltas, conn.TotalDeltaWeight)
	}
	for _, node := range n.Nodes {
		if node.Kind != NodeInput {
			deltas = append(deltas, node.TotalDeltaBias)
		}
	}
	norm := floats.Norm(deltas, 2)

	if clip != nil {
		n.clipAccumulated(conns, clip)
	}

	for _, conn := range conns {
		optimizer.applyConnection(conn, rate)
	}
	for _, node := range n.Nodes {
		if node.Kind != NodeInput {
			optimizer.applyBias(node, rate)
		}
	}
	return norm, false
}

// clipAccumulated applies the configured clipping rule in place on the
// accumulated deltas.
func (n *Network) clipAccumulated(conns []*Connection, clip *GradientClip) {
	biasNodes := make([]*Node, 0, len(n.Nodes))
	for _, node := range n.Nodes {
		if node.Kind != NodeInput {
			biasNodes = append(biasNodes, node)
		}
	}

	switch clip.Mode {
	case "norm":
		if clip.SeparateBias {
			clipGroupNorm(conns, nil, clip.MaxNorm)
			clipGroupNorm(nil, biasNodes, clip.MaxNorm)
		} else {
			clipGroupNorm(conns, biasNodes, clip.MaxNorm)
		}

	case "percentile":
		if clip.SeparateBias {
			clipGroupPercentile(conns, nil, clip.Percentile)
			clipGroupPercentile(nil, biasNodes, clip.Percentile)
		} else {
			clipGroupPercentile(conns, biasNodes, clip.Percentile)
		}

	case "layerwiseNorm", "layerwisePercentile":
		// Layerwise groups: each target node's incoming deltas plus, unless
		// separated, its bias delta.
		for _, node := range biasNodes {
			group := make([]*Connection, 0, len(node.In)+1)
			group = append(group, node.In...)
			if node.Self != nil {
				group = append(group, node.Self)
			}
			biases := []*Node{node}
			if clip.SeparateBias {
				biases = nil
			}
			if clip.Mode == "layerwiseNorm" {
				clipGroupNorm(group, biases, clip.MaxNorm)
			} else {
				clipGroupPercentile(group, biases, clip.Percentile)
			}
		}
		if clip.SeparateBias {
			if clip.Mode == "layerwiseNorm" {
				clipGroupNorm(nil, biasNodes, clip.MaxNorm)
			} else {
				clipGroupPercentile(nil, biasNodes, clip.Percentile)
			}
		}
	}
}

// clipGroupNorm scales a delta group so its L2 norm is at most maxNorm.
func clipGroupNorm(conns []*Connection, nodes []*Node, maxNorm float64) {
	values := make([]float64, 0, len(conns)+len(nodes))
	for _, conn := range conns {
		values = append(values, conn.TotalDeltaWeight)
	}
	for _, node := range nodes {
		values = append(values, node.TotalDeltaBias)
	}
	norm := floats.Norm(values, 2)
	if norm <= maxNorm || norm == 0 {
		return
	}
	scale := maxNorm / norm
	for _, conn := range conns {
		conn.TotalDeltaWeight *= scale
	}
	for _, node := range nodes {
		node.TotalDeltaBias *= scale
	}
}

// clipGroupPercentile clamps each delta in the group to the p-th percentile
// of the group's magnitudes.
func clipGroupPercentile(conns []*Connection, nodes []*Node, p float64) {
	magnitudes := make([]float64, 0, len(conns)+len(nodes))
	for _, conn := range conns {
		magnitudes = append(magnitudes, math.Abs(conn.TotalDeltaWeight))
	}
	for _, node := range nodes {
		magnitudes = append(magnitudes, math.Abs(node.TotalDeltaBias))
	}
	if len(magnitudes) == 0 {
		return
	}
	threshold := Percentile(magnitudes, p)
	for _, conn := range conns {
		conn.TotalDeltaWeight = clamp(conn.TotalDeltaWeight, -threshold, threshold)
	}
	for _, node := range nodes {
		node.TotalDeltaBias = clamp(node.TotalDeltaBias, -threshold, threshold)
	}
}

// adjustLossScale implements the dynamic loss-scale policy: halve on
// overflow, double after increaseEvery consecutive clean updates.
func adjustLossScale(scale float64, dynamic bool, increaseEvery int, overflow bool, clean int) (float64, int) {
	if !dynamic {
		return scale, clean
	}
	if overflow {
		return math.Max(scale/2, 1), 0
	}
	clean++
	if clean >= increaseEvery {
		return scale * 2, 0
	}
	return scale, clean
}

// Test evaluates the mean cost of the network over a dataset without
// touching traces or weights.
func (n *Network) Test(set []Sample, costName string) (float64, error) {
	if len(set) == 0 {
		return 0, validationErrorf("dataset", "test set is empty")
	}
	if costName == "" {
		costName = DefaultCost
	}
	cost, err := GetCost(costName)
	if err != nil {
		return 0, configErrorf("cost", "%v", err)
	}
	total := 0.0
	for i, sample := range set {
		output, err := n.NoTraceActivate(sample.Input)
		if err != nil {
			return 0, fmt.Errorf("test sample %d: %w", i, err)
		}
		total += cost.Fn(sample.Output, output)
	}
	return total / float64(len(set)), nil
}

// --------------------------- YAML presets ---------------------------

// optionsFile is the YAML shape of a training preset. Decoding runs with
// KnownFields so an unrecognized key fails fast.
type optionsFile struct {
	Iterations        int     `yaml:"iterations"`
	Error             float64 `yaml:"error"`
	Rate              float64 `yaml:"rate"`
	Momentum          float64 `yaml:"momentum"`
	BatchSize         int     `yaml:"batchSize"`
	AccumulationSteps int     `yaml:"accumulationSteps"`
	Dropout           float64 `yaml:"dropout"`
	Shuffle           bool    `yaml:"shuffle"`
	Cost              string  `yaml:"cost"`

	Optimizer      *optimizerNode `yaml:"optimizer"`
	GradientClip   *GradientClip  `yaml:"gradientClip"`
	MixedPrecision *mixedPrecNode `yaml:"mixedPrecision"`

	MovingAverageType   string `yaml:"movingAverageType"`
	MovingAverageWindow int    `yaml:"movingAverageWindow"`
	EarlyStopPatience   int    `yaml:"earlyStopPatience"`
	EarlyStopMinDelta   float64 `yaml:"earlyStopMinDelta"`
	Log                 int    `yaml:"log"`
}

// optimizerNode accepts either a bare optimizer name or a mapping with type
// plus hyperparameters.
type optimizerNode struct {
	opt *Optimizer
}

func (o *optimizerNode) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var name string
		if err := value.Decode(&name); err != nil {
			return err
		}
		opt, err := NewOptimizer(name)
		if err != nil {
			return err
		}
		o.opt = opt
		return nil
	}
	var spec struct {
		Type           string   `yaml:"type"`
		Momentum       *float64 `yaml:"momentum"`
		Beta1          *float64 `yaml:"beta1"`
		Beta2          *float64 `yaml:"beta2"`
		Eps            *float64 `yaml:"eps"`
		WeightDecay    *float64 `yaml:"weightDecay"`
		Inner          string   `yaml:"inner"`
		LookaheadK     *int     `yaml:"k"`
		LookaheadAlpha *float64 `yaml:"alpha"`
	}
	if err := value.Decode(&spec); err != nil {
		return err
	}
	opt, err := NewOptimizer(spec.Type)
	if err != nil {
		return err
	}
	if spec.Momentum != nil {
		opt.Momentum = *spec.Momentum
	}
	if spec.Beta1 != nil {
		opt.Beta1 = *spec.Beta1
	}
	if spec.Beta2 != nil {
		opt.Beta2 = *spec.Beta2
	}
	if spec.Eps != nil {
		opt.Eps = *spec.Eps
	}
	if spec.WeightDecay != nil {
		opt.WeightDecay = *spec.WeightDecay
	}
	if spec.Inner != "" {
		inner, err := NewOptimizer(spec.Inner)
		if err != nil {
			return err
		}
		opt.Inner = inner
	}
	if spec.LookaheadK != nil {
		opt.LookaheadK = *spec.LookaheadK
	}
	if spec.LookaheadAlpha != nil {
		opt.LookaheadAlpha = *spec.LookaheadAlpha
	}
	o.opt = opt
	return nil
}

// mixedPrecNode accepts either a bare bool or the full mapping form.
type mixedPrecNode struct {
	mp *MixedPrecision
}

func (m *mixedPrecNode) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var enabled bool
		if err := value.Decode(&enabled); err != nil {
			return err
		}
		if enabled {
			m.mp = &MixedPrecision{LossScale: 1024, Dynamic: &DynamicLossScale{IncreaseEvery: 2000}}
		}
		return nil
	}
	var spec MixedPrecision
	if err := value.Decode(&spec); err != nil {
		return err
	}
	m.mp = &spec
	return nil
}

// LoadTrainOptions reads a YAML training preset. Unknown keys are rejected
// with a ValidationError naming the offending file.
func LoadTrainOptions(path string) (*TrainOptions, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open training preset '%s': %w", path, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	var raw optionsFile
	if err := decoder.Decode(&raw); err != nil {
		return nil, validationErrorf("preset", "failed to parse '%s': %v", path, err)
	}

	opts := &TrainOptions{
		Iterations:          raw.Iterations,
		Error:               raw.Error,
		Rate:                raw.Rate,
		Momentum:            raw.Momentum,
		BatchSize:           raw.BatchSize,
		AccumulationSteps:   raw.AccumulationSteps,
		Dropout:             raw.Dropout,
		Shuffle:             raw.Shuffle,
		Cost:                raw.Cost,
		GradientClip:        raw.GradientClip,
		MovingAverageType:   raw.MovingAverageType,
		MovingAverageWindow: raw.MovingAverageWindow,
		EarlyStopPatience:   raw.EarlyStopPatience,
		EarlyStopMinDelta:   raw.EarlyStopMinDelta,
		Log:                 raw.Log,
	}
	if raw.Optimizer != nil {
		opts.Optimizer = raw.Optimizer.opt
	}
	if raw.MixedPrecision != nil {
		opts.MixedPrecision = raw.MixedPrecision.mp
	}
	return opts, nil
}
