package neataptic

import (
	"fmt"
	"math"
)

// Activation bundles a squash function with its derivative. Propagation needs
// the derivative at the pre-activation state, so the two always travel as a
// pair.
type Activation struct {
	Name       string
	Fn         func(x float64) float64
	Derivative func(x float64) float64
}

// ActivationFunctions maps function names to squash/derivative pairs. This
// allows mutation methods and configuration to specify activations by name.
var ActivationFunctions = map[string]Activation{
	"logistic":   {Name: "logistic", Fn: logistic, Derivative: logisticDerivative},
	"sigmoid":    {Name: "logistic", Fn: logistic, Derivative: logisticDerivative}, // Alias
	"tanh":       {Name: "tanh", Fn: math.Tanh, Derivative: tanhDerivative},
	"identity":   {Name: "identity", Fn: identity, Derivative: one},
	"step":       {Name: "step", Fn: step, Derivative: zero},
	"relu":       {Name: "relu", Fn: relu, Derivative: reluDerivative},
	"softsign":   {Name: "softsign", Fn: softsign, Derivative: softsignDerivative},
	"sinusoid":   {Name: "sinusoid", Fn: math.Sin, Derivative: math.Cos},
	"gaussian":   {Name: "gaussian", Fn: gaussian, Derivative: gaussianDerivative},
	"bent":       {Name: "bent", Fn: bentIdentity, Derivative: bentIdentityDerivative},
	"bipolar":    {Name: "bipolar", Fn: bipolar, Derivative: zero},
	"hard-tanh":  {Name: "hard-tanh", Fn: hardTanh, Derivative: hardTanhDerivative},
	"absolute":   {Name: "absolute", Fn: math.Abs, Derivative: absoluteDerivative},
	"inverse":    {Name: "inverse", Fn: inverse, Derivative: minusOne},
	"selu":       {Name: "selu", Fn: selu, Derivative: seluDerivative},
	"leaky-relu": {Name: "leaky-relu", Fn: leakyRelu, Derivative: leakyReluDerivative},
}

// DefaultSquash is the activation assigned to freshly created hidden and
// output nodes.
const DefaultSquash = "logistic"

// GetActivation retrieves an activation pair by name.
func GetActivation(name string) (Activation, error) {
	if fn, ok := ActivationFunctions[name]; ok {
		return fn, nil
	}
	return Activation{}, fmt.Errorf("unknown activation function: %s", name)
}

// MutationSquashes is the default closed set a MOD_ACTIVATION mutation picks
// from.
var MutationSquashes = []string{
	"logistic", "tanh", "relu", "identity", "step", "softsign", "sinusoid",
	"gaussian", "bent", "bipolar", "hard-tanh", "absolute", "inverse", "selu",
}

// --- Squash Function Implementations ---

func logistic(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) }

func logisticDerivative(x float64) float64 {
	fx := logistic(x)
	return fx * (1 - fx)
}

func tanhDerivative(x float64) float64 {
	t := math.Tanh(x)
	return 1 - t*t
}

func identity(x float64) float64 { return x }

func one(x float64) float64 { return 1 }

func zero(x float64) float64 { return 0 }

func minusOne(x float64) float64 { return -1 }

func step(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func reluDerivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

func softsign(x float64) float64 { return x / (1 + math.Abs(x)) }

func softsignDerivative(x float64) float64 {
	d := 1 + math.Abs(x)
	return 1 / (d * d)
}

func gaussian(x float64) float64 { return math.Exp(-x * x) }

func gaussianDerivative(x float64) float64 { return -2 * x * math.Exp(-x*x) }

func bentIdentity(x float64) float64 {
	return (math.Sqrt(x*x+1)-1)/2 + x
}

func bentIdentityDerivative(x float64) float64 {
	return x/(2*math.Sqrt(x*x+1)) + 1
}

func bipolar(x float64) float64 {
	if x > 0 {
		return 1
	}
	return -1
}

func hardTanh(x float64) float64 { return clamp(x, -1, 1) }

func hardTanhDerivative(x float64) float64 {
	if x > -1 && x < 1 {
		return 1
	}
	return 0
}

func absoluteDerivative(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

func inverse(x float64) float64 { return 1 - x }

const (
	seluAlpha  = 1.6732632423543772
	seluLambda = 1.0507009873554805
)

func selu(x float64) float64 {
	if x > 0 {
		return seluLambda * x
	}
	return seluLambda * seluAlpha * (math.Exp(x) - 1)
}

func seluDerivative(x float64) float64 {
	if x > 0 {
		return seluLambda
	}
	return seluLambda * seluAlpha * math.Exp(x)
}

func leakyRelu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0.01 * x
}

func leakyReluDerivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0.01
}
