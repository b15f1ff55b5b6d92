package rl

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/internal/domain"
	"github.com/neolight/smarttrader/internal/regime"
	"github.com/neolight/smarttrader/internal/strategies"
)

// TradeHistory is the slice of the trade ledger the trainer needs.
type TradeHistory interface {
	GetSince(cutoff time.Time) ([]domain.Trade, error)
}

// StateStore provides the current per-strategy performance state.
type StateStore interface {
	GetAll() (map[string]domain.StrategyState, error)
}

// ReturnsStore provides aligned per-cycle return series.
type ReturnsStore interface {
	GetAlignedSeries(strategyIDs []string, limit int) (map[string][]float64, error)
}

// TrainerConfig controls how much history a run consumes and how many
// passes it makes over it.
type TrainerConfig struct {
	CheckpointDir  string
	Episodes       int
	LookbackCycles int
	MinCycles      int
	InitialEquity  float64
	Agent          AgentConfig
}

// Trainer replays recorded strategy returns through the policy and
// writes a fresh checkpoint. It runs in its own process; the trader
// only ever sees the checkpoint file.
type Trainer struct {
	trades  TradeHistory
	states  StateStore
	returns ReturnsStore
	env     *Environment
	cfg     TrainerConfig
	log     zerolog.Logger
}

// NewTrainer wires a trainer against the ledger repositories.
func NewTrainer(trades TradeHistory, states StateStore, returns ReturnsStore, cfg TrainerConfig, log zerolog.Logger) *Trainer {
	if cfg.Episodes <= 0 {
		cfg.Episodes = 50
	}
	if cfg.LookbackCycles <= 0 {
		cfg.LookbackCycles = 500
	}
	if cfg.MinCycles <= 0 {
		cfg.MinCycles = 30
	}
	if cfg.InitialEquity <= 0 {
		cfg.InitialEquity = 100000
	}

	return &Trainer{
		trades:  trades,
		states:  states,
		returns: returns,
		env:     NewEnvironment(),
		cfg:     cfg,
		log:     log.With().Str("service", "rl_trainer").Logger(),
	}
}

// Run executes one training session. It is a no-op (not an error) when
// there is not yet enough recorded history to build an episode.
func (t *Trainer) Run(ctx context.Context) error {
	start := time.Now()

	series, err := t.returns.GetAlignedSeries(strategies.AllStrategyIDs, t.cfg.LookbackCycles)
	if err != nil {
		return fmt.Errorf("failed to load return series: %w", err)
	}

	cycles := seriesLength(series)
	if cycles < t.cfg.MinCycles {
		t.log.Info().
			Int("cycles", cycles).
			Int("required", t.cfg.MinCycles).
			Msg("not enough history to train, skipping")
		return nil
	}

	states, err := t.states.GetAll()
	if err != nil {
		return fmt.Errorf("failed to load strategy states: %w", err)
	}

	recentTrades, err := t.trades.GetSince(time.Now().Add(-ObservationWindow))
	if err != nil {
		return fmt.Errorf("failed to load trade history: %w", err)
	}

	policy, resumed := t.loadOrCreatePolicy()
	agent := NewAgent(policy, t.cfg.Agent, time.Now().UnixNano(), t.log)

	benchmark := syntheticBenchmark(series, cycles)

	for episode := 0; episode < t.cfg.Episodes; episode++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		steps, err := t.buildEpisode(agent, series, states, recentTrades, benchmark, cycles)
		if err != nil {
			return fmt.Errorf("failed to build episode: %w", err)
		}
		if err := agent.TrainEpisode(steps); err != nil {
			return fmt.Errorf("failed to train episode: %w", err)
		}
	}

	path, err := SaveCheckpoint(t.cfg.CheckpointDir, agent.Policy(), agent.Episodes())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	t.log.Info().
		Str("checkpoint", path).
		Int("episodes", agent.Episodes()).
		Int("cycles", cycles).
		Bool("resumed", resumed).
		Dur("duration", time.Since(start)).
		Msg("training run complete")

	return nil
}

// buildEpisode walks the recorded cycles: at each step the agent picks a
// strategy and is rewarded with that strategy's realized return on the
// next cycle.
func (t *Trainer) buildEpisode(
	agent *Agent,
	series map[string][]float64,
	states map[string]domain.StrategyState,
	recentTrades []domain.Trade,
	benchmark []float64,
	cycles int,
) ([]Step, error) {
	steps := make([]Step, 0, cycles-1)
	detector := regime.NewDetector(t.log)

	for cycle := 1; cycle < cycles; cycle++ {
		detector.Update(benchmark[:cycle+1])

		obs := Observation{
			BenchmarkCloses: benchmark[:cycle+1],
			RecentTrades:    recentTrades,
			Equity:          t.cfg.InitialEquity * benchmark[cycle],
			Cash:            t.cfg.InitialEquity * benchmark[cycle],
			InitialEquity:   t.cfg.InitialEquity,
			PeakEquity:      t.cfg.InitialEquity * maxOf(benchmark[:cycle+1]),
			StrategyStates:  states,
			StrategyReturns: truncateSeries(series, cycle+1),
			Regime:          detector.Current(),
		}

		state := t.env.BuildState(obs)
		action, err := agent.SelectAction(state)
		if err != nil {
			return nil, err
		}

		reward := series[strategies.AllStrategyIDs[action]][cycle]
		steps = append(steps, Step{State: state, Action: action, Reward: reward})
	}

	return steps, nil
}

// loadOrCreatePolicy resumes from the latest checkpoint when one exists
// and is compatible, otherwise starts from a fresh uniform policy.
func (t *Trainer) loadOrCreatePolicy() (*Policy, bool) {
	path := LatestCheckpointPath(t.cfg.CheckpointDir)
	cp, err := LoadCheckpoint(path)
	if err == nil {
		if policy, perr := cp.Policy(); perr == nil {
			return policy, true
		}
	}

	policy, _ := NewPolicy(StateSize, ActionSize)
	return policy, false
}

// LatestCheckpointPath returns the well-known checkpoint location under
// a checkpoint directory.
func LatestCheckpointPath(dir string) string {
	return dir + "/" + CheckpointFilename
}

// syntheticBenchmark builds an equal-weight equity curve from the
// recorded strategy returns, used as the market proxy during replay.
func syntheticBenchmark(series map[string][]float64, cycles int) []float64 {
	curve := make([]float64, cycles)
	curve[0] = 1

	for cycle := 1; cycle < cycles; cycle++ {
		mean := 0.0
		for _, s := range series {
			mean += s[cycle]
		}
		mean /= float64(len(series))
		curve[cycle] = curve[cycle-1] * (1 + mean)
	}
	return curve
}

func truncateSeries(series map[string][]float64, n int) map[string][]float64 {
	out := make(map[string][]float64, len(series))
	for id, s := range series {
		if n > len(s) {
			n = len(s)
		}
		out[id] = s[:n]
	}
	return out
}

func seriesLength(series map[string][]float64) int {
	for _, s := range series {
		return len(s)
	}
	return 0
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
