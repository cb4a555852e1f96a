package neataptic

import "math"

// RatePolicy maps a base learning rate and the current iteration to the
// effective rate for that iteration. Policies are pure functions; Train calls
// the policy once per iteration.
type RatePolicy func(baseRate float64, iteration int) float64

// FixedRate returns the base rate unchanged on every iteration.
func FixedRate() RatePolicy {
	return func(baseRate float64, iteration int) float64 {
		return baseRate
	}
}

// StepRate multiplies the rate by gamma every stepSize iterations.
func StepRate(gamma float64, stepSize int) RatePolicy {
	return func(baseRate float64, iteration int) float64 {
		return baseRate * math.Pow(gamma, math.Floor(float64(iteration)/float64(stepSize)))
	}
}

// ExponentialRate decays the rate continuously: base * gamma^iteration.
func ExponentialRate(gamma float64) RatePolicy {
	return func(baseRate float64, iteration int) float64 {
		return baseRate * math.Pow(gamma, float64(iteration))
	}
}

// InverseRate decays the rate as base / (1 + gamma * iteration^power).
func InverseRate(gamma, power float64) RatePolicy {
	return func(baseRate float64, iteration int) float64 {
		return baseRate / (1 + gamma*math.Pow(float64(iteration), power))
	}
}
