package rl

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog"
)

// AgentConfig holds the REINFORCE hyperparameters.
type AgentConfig struct {
	LearningRate float64
	Gamma        float64
	EntropyCoeff float64
}

// Step is one state/action/reward transition inside an episode.
type Step struct {
	State  []float64
	Action int
	Reward float64
}

// Agent trains a Policy with REINFORCE: Monte Carlo returns, a moving
// average baseline and an entropy bonus to keep the distribution from
// collapsing early.
type Agent struct {
	policy   *Policy
	cfg      AgentConfig
	rng      *rand.Rand
	baseline float64
	episodes int
	log      zerolog.Logger
}

// NewAgent creates an agent around an existing policy.
func NewAgent(policy *Policy, cfg AgentConfig, seed int64, log zerolog.Logger) *Agent {
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.01
	}
	if cfg.Gamma <= 0 || cfg.Gamma > 1 {
		cfg.Gamma = 0.99
	}
	if cfg.EntropyCoeff < 0 {
		cfg.EntropyCoeff = 0
	}

	return &Agent{
		policy: policy,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		log:    log.With().Str("component", "rl_agent").Logger(),
	}
}

// Policy returns the policy being trained.
func (a *Agent) Policy() *Policy { return a.policy }

// Episodes returns the number of episodes trained so far.
func (a *Agent) Episodes() int { return a.episodes }

// SelectAction samples an action from the current policy.
func (a *Agent) SelectAction(state []float64) (int, error) {
	probs, err := a.policy.Probabilities(state)
	if err != nil {
		return 0, err
	}

	r := a.rng.Float64()
	cumulative := 0.0
	for action, p := range probs {
		cumulative += p
		if r < cumulative {
			return action, nil
		}
	}
	return len(probs) - 1, nil
}

// TrainEpisode runs one REINFORCE update over a completed episode.
func (a *Agent) TrainEpisode(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("empty episode")
	}

	returns := a.discountedReturns(steps)

	episodeReturn := returns[0]
	a.updateBaseline(episodeReturn)

	for i, step := range steps {
		advantage := returns[i] - a.baseline

		if a.cfg.EntropyCoeff > 0 {
			probs, err := a.policy.Probabilities(step.State)
			if err != nil {
				return err
			}
			advantage += a.cfg.EntropyCoeff * entropy(probs)
		}

		if err := a.policy.Update(step.State, step.Action, advantage, a.cfg.LearningRate); err != nil {
			return err
		}
	}

	a.episodes++
	a.log.Debug().
		Int("episode", a.episodes).
		Int("steps", len(steps)).
		Float64("return", episodeReturn).
		Float64("baseline", a.baseline).
		Msg("episode trained")

	return nil
}

// discountedReturns computes G_t = r_t + gamma*G_{t+1} back to front.
func (a *Agent) discountedReturns(steps []Step) []float64 {
	returns := make([]float64, len(steps))
	running := 0.0
	for i := len(steps) - 1; i >= 0; i-- {
		running = steps[i].Reward + a.cfg.Gamma*running
		returns[i] = running
	}
	return returns
}

// updateBaseline keeps an exponential moving average of episode returns.
func (a *Agent) updateBaseline(episodeReturn float64) {
	const alpha = 0.1
	if a.episodes == 0 {
		a.baseline = episodeReturn
		return
	}
	a.baseline = (1-alpha)*a.baseline + alpha*episodeReturn
}

func entropy(probs []float64) float64 {
	h := 0.0
	for _, p := range probs {
		if p > 1e-12 {
			h -= p * math.Log(p)
		}
	}
	return h
}
