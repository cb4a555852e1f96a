package neataptic

import "math"

// Optimizer selects one of the closed set of batched weight-update rules and
// carries its hyperparameters. The per-parameter scratch accumulators live on
// the connection (or node, for biases) and are allocated lazily on the first
// batched update.
//
// Every rule consumes the accumulated gradient produced by propagation,
// scales its direction by the learning rate and returns the adjustment to
// add to the parameter.
type Optimizer struct {
	Type string

	Momentum    float64 // sgd
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64 // adamw, lion

	// Lookahead wraps an inner optimizer, synchronizing toward a slow
	// parameter copy every K steps.
	Inner          *Optimizer
	LookaheadK     int
	LookaheadAlpha float64
}

// OptimizerNames is the closed set of recognized optimizer types.
var OptimizerNames = []string{
	"sgd", "rmsprop", "adagrad", "adam", "adamw", "amsgrad", "adamax",
	"nadam", "radam", "lion", "adabelief", "lookahead",
}

// NewOptimizer builds an optimizer of the named type with conventional
// default hyperparameters.
func NewOptimizer(name string) (*Optimizer, error) {
	o := &Optimizer{Type: name, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
	switch name {
	case "sgd", "rmsprop", "adagrad", "adam", "amsgrad", "adamax", "nadam", "radam", "adabelief":
	case "adamw":
		o.WeightDecay = 0.01
	case "lion":
		o.Beta1 = 0.9
		o.Beta2 = 0.99
	case "lookahead":
		inner, _ := NewOptimizer("adam")
		o.Inner = inner
		o.LookaheadK = 5
		o.LookaheadAlpha = 0.5
	default:
		return nil, configErrorf("optimizer", "unknown optimizer %q", name)
	}
	return o, nil
}

// validate rejects unknown types, broken hyperparameters and nested
// lookahead before any training step runs.
func (o *Optimizer) validate() error {
	known := false
	for _, name := range OptimizerNames {
		if o.Type == name {
			known = true
			break
		}
	}
	if !known {
		return configErrorf("optimizer", "unknown optimizer %q", o.Type)
	}
	if o.Beta1 < 0 || o.Beta1 >= 1 || o.Beta2 < 0 || o.Beta2 >= 1 {
		return configErrorf("optimizer", "betas must lie in [0, 1), got beta1=%v beta2=%v", o.Beta1, o.Beta2)
	}
	if o.Type == "lookahead" {
		if o.Inner == nil {
			return configErrorf("optimizer", "lookahead requires an inner optimizer")
		}
		if o.Inner.Type == "lookahead" {
			return configErrorf("optimizer", "nested lookahead optimizers are not supported")
		}
		if o.LookaheadK <= 0 {
			return configErrorf("optimizer", "lookahead k must be positive, got %d", o.LookaheadK)
		}
		if o.LookaheadAlpha <= 0 || o.LookaheadAlpha > 1 {
			return configErrorf("optimizer", "lookahead alpha must lie in (0, 1], got %v", o.LookaheadAlpha)
		}
		return o.Inner.validate()
	}
	return nil
}

// optimizerState holds the lazily allocated per-parameter scratch. One struct
// serves every rule: lookahead uses slow/slowInit while its inner rule uses
// the moment fields, which is why nesting lookahead is rejected.
type optimizerState struct {
	step     int
	m        float64 // first moment / momentum velocity
	v        float64 // second moment / squared accumulator
	vhat     float64 // amsgrad maximum, adamax infinity norm
	slow     float64 // lookahead slow parameter
	slowInit bool
}

// step computes the parameter adjustment for one batched update. param is
// the current parameter value, delta the accumulated gradient (signed so
// that adding it descends the loss), and rate the effective learning rate of
// this iteration. Scale-normalizing rules divide out the gradient magnitude,
// so rate is applied to the normalized direction, never to delta itself.
func (o *Optimizer) step(st *optimizerState, param, delta, rate float64) float64 {
	st.step++
	t := float64(st.step)

	switch o.Type {
	case "sgd":
		st.m = o.Momentum*st.m + delta
		return rate * st.m

	case "rmsprop":
		st.v = o.Beta2*st.v + (1-o.Beta2)*delta*delta
		return rate * delta / (math.Sqrt(st.v) + o.Eps)

	case "adagrad":
		st.v += delta * delta
		return rate * delta / (math.Sqrt(st.v) + o.Eps)

	case "adam":
		st.m = o.Beta1*st.m + (1-o.Beta1)*delta
		st.v = o.Beta2*st.v + (1-o.Beta2)*delta*delta
		mhat := st.m / (1 - math.Pow(o.Beta1, t))
		vhat := st.v / (1 - math.Pow(o.Beta2, t))
		return rate * mhat / (math.Sqrt(vhat) + o.Eps)

	case "adamw":
		st.m = o.Beta1*st.m + (1-o.Beta1)*delta
		st.v = o.Beta2*st.v + (1-o.Beta2)*delta*delta
		mhat := st.m / (1 - math.Pow(o.Beta1, t))
		vhat := st.v / (1 - math.Pow(o.Beta2, t))
		// Decoupled weight decay acts on the parameter, not the gradient.
		return rate * (mhat/(math.Sqrt(vhat)+o.Eps) - o.WeightDecay*param)

	case "amsgrad":
		st.m = o.Beta1*st.m + (1-o.Beta1)*delta
		st.v = o.Beta2*st.v + (1-o.Beta2)*delta*delta
		if st.v > st.vhat {
			st.vhat = st.v
		}
		mhat := st.m / (1 - math.Pow(o.Beta1, t))
		return rate * mhat / (math.Sqrt(st.vhat) + o.Eps)

	case "adamax":
		st.m = o.Beta1*st.m + (1-o.Beta1)*delta
		st.vhat = math.Max(o.Beta2*st.vhat, math.Abs(delta))
		mhat := st.m / (1 - math.Pow(o.Beta1, t))
		return rate * mhat / (st.vhat + o.Eps)

	case "nadam":
		st.m = o.Beta1*st.m + (1-o.Beta1)*delta
		st.v = o.Beta2*st.v + (1-o.Beta2)*delta*delta
		mhat := st.m / (1 - math.Pow(o.Beta1, t))
		vhat := st.v / (1 - math.Pow(o.Beta2, t))
		nesterov := o.Beta1*mhat + (1-o.Beta1)*delta/(1-math.Pow(o.Beta1, t))
		return rate * nesterov / (math.Sqrt(vhat) + o.Eps)

	case "radam":
		st.m = o.Beta1*st.m + (1-o.Beta1)*delta
		st.v = o.Beta2*st.v + (1-o.Beta2)*delta*delta
		mhat := st.m / (1 - math.Pow(o.Beta1, t))
		rhoInf := 2/(1-o.Beta2) - 1
		rho := rhoInf - 2*t*math.Pow(o.Beta2, t)/(1-math.Pow(o.Beta2, t))
		if rho <= 4 {
			// Variance is untractable this early; fall back to momentum.
			return rate * mhat
		}
		vhat := math.Sqrt(st.v / (1 - math.Pow(o.Beta2, t)))
		rect := math.Sqrt((rho - 4) * (rho - 2) * rhoInf / ((rhoInf - 4) * (rhoInf - 2) * rho))
		return rate * rect * mhat / (vhat + o.Eps)

	case "lion":
		direction := o.Beta1*st.m + (1-o.Beta1)*delta
		st.m = o.Beta2*st.m + (1-o.Beta2)*delta
		step := 0.0
		if direction > 0 {
			step = rate
		} else if direction < 0 {
			step = -rate
		}
		return step - o.WeightDecay*rate*param

	case "adabelief":
		st.m = o.Beta1*st.m + (1-o.Beta1)*delta
		diff := delta - st.m
		st.v = o.Beta2*st.v + (1-o.Beta2)*diff*diff + o.Eps
		mhat := st.m / (1 - math.Pow(o.Beta1, t))
		vhat := st.v / (1 - math.Pow(o.Beta2, t))
		return rate * mhat / (math.Sqrt(vhat) + o.Eps)

	case "lookahead":
		if !st.slowInit {
			st.slow = param
			st.slowInit = true
		}
		// The inner rule shares the scratch struct; undo this frame's step
		// increment so the shared counter advances once per update.
		st.step--
		inner := o.Inner.step(st, param, delta, rate)
		fast := param + inner
		if st.step%o.LookaheadK == 0 {
			st.slow += o.LookaheadAlpha * (fast - st.slow)
			return st.slow - param
		}
		return inner
	}

	// validate() rejects unknown types before training starts.
	return rate * delta
}

// applyConnection performs one batched update on a connection's weight,
// allocating scratch lazily and resetting the accumulator afterwards.
func (o *Optimizer) applyConnection(c *Connection, rate float64) {
	if c.opt == nil {
		c.opt = &optimizerState{}
	}
	setWeight(c, c.Weight+o.step(c.opt, c.Weight, c.TotalDeltaWeight, rate))
	c.PreviousDeltaWeight = c.TotalDeltaWeight
	c.TotalDeltaWeight = 0
}

// applyBias performs one batched update on a node's bias.
func (o *Optimizer) applyBias(n *Node, rate float64) {
	if n.opt == nil {
		n.opt = &optimizerState{}
	}
	setBias(n, n.Bias+o.step(n.opt, n.Bias, n.TotalDeltaBias, rate))
	n.PreviousDeltaBias = n.TotalDeltaBias
	n.TotalDeltaBias = 0
}
