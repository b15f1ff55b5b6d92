package rl

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroPolicyIsUniform(t *testing.T) {
	policy, err := NewPolicy(4, 3)
	require.NoError(t, err)

	probs, err := policy.Probabilities([]float64{0.5, -0.2, 1, 0})
	require.NoError(t, err)
	require.Len(t, probs, 3)

	for _, p := range probs {
		assert.InDelta(t, 1.0/3.0, p, 1e-9)
	}
}

func TestProbabilitiesSumToOne(t *testing.T) {
	policy, err := NewPolicyFromWeights(2, 3,
		[]float64{1.5, -0.5, 0.2, 0.8, -2, 1},
		[]float64{0.1, 0, -0.3},
	)
	require.NoError(t, err)

	probs, err := policy.Probabilities([]float64{0.7, -1.2})
	require.NoError(t, err)

	sum := 0.0
	for _, p := range probs {
		assert.Greater(t, p, 0.0)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestPolicyRejectsWrongStateSize(t *testing.T) {
	policy, err := NewPolicy(4, 2)
	require.NoError(t, err)

	_, err = policy.Probabilities([]float64{1, 2})
	assert.Error(t, err)
}

func TestUpdateShiftsProbabilityTowardAction(t *testing.T) {
	policy, err := NewPolicy(3, 2)
	require.NoError(t, err)

	state := []float64{1, 0.5, -0.2}

	before, err := policy.Probabilities(state)
	require.NoError(t, err)

	// Positive advantage for action 0 should raise its probability.
	for i := 0; i < 10; i++ {
		require.NoError(t, policy.Update(state, 0, 1.0, 0.1))
	}

	after, err := policy.Probabilities(state)
	require.NoError(t, err)
	assert.Greater(t, after[0], before[0])
	assert.Less(t, after[1], before[1])
}

func TestAgentTrainEpisode(t *testing.T) {
	policy, err := NewPolicy(2, 2)
	require.NoError(t, err)

	agent := NewAgent(policy, AgentConfig{LearningRate: 0.05, Gamma: 0.99, EntropyCoeff: 0.01}, 42, zerolog.Nop())

	// Action 0 always rewarded, action 1 always penalized.
	state := []float64{1, 0.5}
	for episode := 0; episode < 50; episode++ {
		steps := []Step{
			{State: state, Action: 0, Reward: 1},
			{State: state, Action: 1, Reward: -1},
		}
		require.NoError(t, agent.TrainEpisode(steps))
	}

	probs, err := policy.Probabilities(state)
	require.NoError(t, err)
	assert.Greater(t, probs[0], probs[1])
	assert.Equal(t, 50, agent.Episodes())
}

func TestAgentRejectsEmptyEpisode(t *testing.T) {
	policy, err := NewPolicy(2, 2)
	require.NoError(t, err)

	agent := NewAgent(policy, AgentConfig{}, 1, zerolog.Nop())
	assert.Error(t, agent.TrainEpisode(nil))
}

func TestSelectActionCoversDistribution(t *testing.T) {
	policy, err := NewPolicy(1, 3)
	require.NoError(t, err)

	agent := NewAgent(policy, AgentConfig{}, 7, zerolog.Nop())

	seen := make(map[int]int)
	for i := 0; i < 300; i++ {
		action, err := agent.SelectAction([]float64{1})
		require.NoError(t, err)
		seen[action]++
	}

	// Uniform policy should hit every action over 300 samples.
	assert.Len(t, seen, 3)
}
