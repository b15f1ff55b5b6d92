package rl

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Policy is a linear softmax policy over strategy actions. Logits are
// W*s + b where W is actions x state and b is the per-action bias.
// Zero-initialized weights produce a uniform distribution, which is the
// safe behavior before any training has happened.
type Policy struct {
	weights *mat.Dense // actions x state
	bias    *mat.VecDense
	states  int
	actions int
}

// NewPolicy creates a zero-initialized policy.
func NewPolicy(stateSize, actionSize int) (*Policy, error) {
	if stateSize <= 0 || actionSize <= 0 {
		return nil, fmt.Errorf("invalid policy dimensions %dx%d", actionSize, stateSize)
	}

	return &Policy{
		weights: mat.NewDense(actionSize, stateSize, nil),
		bias:    mat.NewVecDense(actionSize, nil),
		states:  stateSize,
		actions: actionSize,
	}, nil
}

// NewPolicyFromWeights restores a policy from flat row-major weights.
func NewPolicyFromWeights(stateSize, actionSize int, weights, bias []float64) (*Policy, error) {
	if len(weights) != stateSize*actionSize {
		return nil, fmt.Errorf("weights length %d does not match %dx%d", len(weights), actionSize, stateSize)
	}
	if len(bias) != actionSize {
		return nil, fmt.Errorf("bias length %d does not match %d actions", len(bias), actionSize)
	}

	p, err := NewPolicy(stateSize, actionSize)
	if err != nil {
		return nil, err
	}
	copy(p.weights.RawMatrix().Data, weights)
	copy(p.bias.RawVector().Data, bias)
	return p, nil
}

// StateSize returns the expected state dimension.
func (p *Policy) StateSize() int { return p.states }

// ActionSize returns the number of actions.
func (p *Policy) ActionSize() int { return p.actions }

// Probabilities computes the softmax action distribution for a state.
func (p *Policy) Probabilities(state []float64) ([]float64, error) {
	if len(state) != p.states {
		return nil, fmt.Errorf("state size %d does not match policy %d", len(state), p.states)
	}

	logits := mat.NewVecDense(p.actions, nil)
	logits.MulVec(p.weights, mat.NewVecDense(p.states, state))
	logits.AddVec(logits, p.bias)

	return softmax(logits.RawVector().Data), nil
}

// Update applies one gradient step for the log-softmax of a chosen
// action, scaled by the advantage. For a linear policy the gradient of
// log pi(a|s) is (1 - pi(a))*s for the chosen row and -pi(b)*s for
// every other row.
func (p *Policy) Update(state []float64, action int, advantage, learningRate float64) error {
	if len(state) != p.states {
		return fmt.Errorf("state size %d does not match policy %d", len(state), p.states)
	}
	if action < 0 || action >= p.actions {
		return fmt.Errorf("action %d out of range", action)
	}

	probs, err := p.Probabilities(state)
	if err != nil {
		return err
	}

	step := learningRate * advantage
	for a := 0; a < p.actions; a++ {
		grad := -probs[a]
		if a == action {
			grad = 1 - probs[a]
		}

		for i, s := range state {
			p.weights.Set(a, i, p.weights.At(a, i)+step*grad*s)
		}
		p.bias.SetVec(a, p.bias.AtVec(a)+step*grad)
	}

	return nil
}

// Weights returns the flat row-major weight matrix.
func (p *Policy) Weights() []float64 {
	out := make([]float64, p.states*p.actions)
	copy(out, p.weights.RawMatrix().Data)
	return out
}

// Bias returns the per-action bias vector.
func (p *Policy) Bias() []float64 {
	out := make([]float64, p.actions)
	copy(out, p.bias.RawVector().Data)
	return out
}

// softmax with max subtraction for numerical stability.
func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}

	probs := make([]float64, len(logits))
	sum := 0.0
	for i, l := range logits {
		probs[i] = math.Exp(l - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
