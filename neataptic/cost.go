package neataptic

import (
	"fmt"
	"math"
)

// Cost bundles a loss function with its derivative with respect to the
// network output. The derivative is what Propagate feeds into the output
// nodes' error responsibility.
type Cost struct {
	Name string
	// Fn returns the mean loss over one sample.
	Fn func(target, output []float64) float64
	// Derivative returns d(loss)/d(output) for a single output value.
	Derivative func(target, output float64) float64
}

// CostFunctions maps cost names to implementations, mirroring the activation
// registry.
var CostFunctions = map[string]Cost{
	"mse":           {Name: "mse", Fn: meanSquaredError, Derivative: mseDerivative},
	"mae":           {Name: "mae", Fn: meanAbsoluteError, Derivative: maeDerivative},
	"cross-entropy": {Name: "cross-entropy", Fn: crossEntropy, Derivative: crossEntropyDerivative},
	"binary":        {Name: "binary", Fn: binaryError, Derivative: mseDerivative},
	"hinge":         {Name: "hinge", Fn: hingeLoss, Derivative: hingeDerivative},
}

// DefaultCost is used by Train and Test when no cost name is supplied.
const DefaultCost = "mse"

// GetCost retrieves a cost function by name.
func GetCost(name string) (Cost, error) {
	if fn, ok := CostFunctions[name]; ok {
		return fn, nil
	}
	return Cost{}, fmt.Errorf("unknown cost function: %s", name)
}

// --- Cost Function Implementations ---

func meanSquaredError(target, output []float64) float64 {
	sum := 0.0
	for i := range output {
		d := target[i] - output[i]
		sum += d * d
	}
	return sum / float64(len(output))
}

// mseDerivative is the per-output derivative sign convention Propagate
// expects: output error responsibility = target - output.
func mseDerivative(target, output float64) float64 {
	return target - output
}

func meanAbsoluteError(target, output []float64) float64 {
	sum := 0.0
	for i := range output {
		sum += math.Abs(target[i] - output[i])
	}
	return sum / float64(len(output))
}

func maeDerivative(target, output float64) float64 {
	if target > output {
		return 1
	}
	if target < output {
		return -1
	}
	return 0
}

func crossEntropy(target, output []float64) float64 {
	const eps = 1e-15
	sum := 0.0
	for i := range output {
		o := clamp(output[i], eps, 1-eps)
		sum += -(target[i]*math.Log(o) + (1-target[i])*math.Log(1-o))
	}
	return sum / float64(len(output))
}

func crossEntropyDerivative(target, output float64) float64 {
	return target - output
}

func binaryError(target, output []float64) float64 {
	misses := 0.0
	for i := range output {
		if math.Round(target[i]) != math.Round(output[i]) {
			misses++
		}
	}
	return misses / float64(len(output))
}

func hingeLoss(target, output []float64) float64 {
	sum := 0.0
	for i := range output {
		sum += math.Max(0, 1-target[i]*output[i])
	}
	return sum / float64(len(output))
}

func hingeDerivative(target, output float64) float64 {
	if 1-target*output > 0 {
		return target
	}
	return 0
}
