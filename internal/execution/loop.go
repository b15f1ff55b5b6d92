package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/internal/allocation"
	"github.com/neolight/smarttrader/internal/domain"
	"github.com/neolight/smarttrader/internal/regime"
	"github.com/neolight/smarttrader/internal/reliability"
	"github.com/neolight/smarttrader/internal/rl"
	"github.com/neolight/smarttrader/internal/sizing"
	"github.com/neolight/smarttrader/internal/strategies"
	"github.com/neolight/smarttrader/pkg/formulas"
)

// executionBreakerDomain guards order submission separately from the
// per-symbol quote breakers.
const executionBreakerDomain = "execution"

// QuoteProvider supplies the latest price for a symbol.
type QuoteProvider interface {
	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)
}

// AllocatorChain produces and recalls allocation vectors.
type AllocatorChain interface {
	Allocate(inputs allocation.Inputs) (domain.AllocationVector, error)
	Current() (*domain.AllocationVector, error)
}

// TradeLedger is the slice of the trade repository the loop writes to.
type TradeLedger interface {
	Create(trade domain.Trade) error
	GetSince(cutoff time.Time) ([]domain.Trade, error)
}

// StateLedger reads and writes per-strategy performance state.
type StateLedger interface {
	GetAll() (map[string]domain.StrategyState, error)
	Upsert(state domain.StrategyState) error
}

// ReturnsLedger records and reads per-cycle strategy returns.
type ReturnsLedger interface {
	Record(strategyID string, cycle int64, ret float64) error
	GetSeries(strategyID string, limit int) ([]float64, error)
	GetAlignedSeries(strategyIDs []string, limit int) (map[string][]float64, error)
}

// Config holds the loop's cadence and trading thresholds.
type Config struct {
	Symbols                 []string
	BenchmarkSymbol         string
	CycleInterval           time.Duration
	AllocationRefreshCycles int
	InitialEquity           float64
	MinConfidence           float64
	MinNotional             float64
	ReturnsLookback         int
}

// Loop drives one trading cycle at a time on a single goroutine. All
// mutation of broker and window state happens here; other components
// only read snapshots.
type Loop struct {
	cfg        Config
	quotes     QuoteProvider
	registry   *strategies.Registry
	allocators AllocatorChain
	sizer      *sizing.Sizer
	broker     *PaperBroker
	trades     TradeLedger
	states     StateLedger
	returns    ReturnsLedger
	detector   *regime.Detector
	breakers   *reliability.BreakerRegistry
	windows    *PriceWindows
	log        zerolog.Logger

	mu         sync.RWMutex
	cycle      int64
	current    domain.AllocationVector
	peakEquity float64
}

// NewLoop wires the execution loop.
func NewLoop(
	cfg Config,
	quotes QuoteProvider,
	registry *strategies.Registry,
	allocators AllocatorChain,
	sizer *sizing.Sizer,
	broker *PaperBroker,
	trades TradeLedger,
	states StateLedger,
	returns ReturnsLedger,
	detector *regime.Detector,
	breakers *reliability.BreakerRegistry,
	log zerolog.Logger,
) *Loop {
	if cfg.AllocationRefreshCycles <= 0 {
		cfg.AllocationRefreshCycles = 10
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.2
	}
	if cfg.MinNotional <= 0 {
		cfg.MinNotional = 10
	}
	if cfg.ReturnsLookback <= 0 {
		cfg.ReturnsLookback = 200
	}

	return &Loop{
		cfg:        cfg,
		quotes:     quotes,
		registry:   registry,
		allocators: allocators,
		sizer:      sizer,
		broker:     broker,
		trades:     trades,
		states:     states,
		returns:    returns,
		detector:   detector,
		breakers:   breakers,
		windows:    NewPriceWindows(0),
		log:        log.With().Str("service", "execution_loop").Logger(),
		peakEquity: cfg.InitialEquity,
	}
}

// Run executes cycles on the configured interval until the context is
// cancelled. An in-flight cycle always completes before shutdown.
func (l *Loop) Run(ctx context.Context) error {
	l.restoreAllocation()

	ticker := time.NewTicker(l.cfg.CycleInterval)
	defer ticker.Stop()

	l.log.Info().
		Strs("symbols", l.cfg.Symbols).
		Dur("interval", l.cfg.CycleInterval).
		Msg("execution loop started")

	for {
		select {
		case <-ctx.Done():
			l.log.Info().Int64("cycles", l.cycle).Msg("execution loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.safeCycle(ctx)
		}
	}
}

// safeCycle isolates a panicking cycle so one bad cycle cannot take the
// process down.
func (l *Loop) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().
				Interface("panic", r).
				Int64("cycle", l.cycle).
				Msg("cycle panicked, continuing")
		}
	}()

	if err := l.Cycle(ctx); err != nil {
		l.log.Error().Err(err).Int64("cycle", l.cycle).Msg("cycle failed")
	}
}

// Cycle runs one full trading cycle.
func (l *Loop) Cycle(ctx context.Context) error {
	l.mu.Lock()
	l.cycle++
	l.mu.Unlock()

	prices := l.pollQuotes(ctx)
	if len(prices) == 0 {
		return fmt.Errorf("no quotes available this cycle")
	}

	benchmark := l.windows.Closes(l.cfg.BenchmarkSymbol)
	l.detector.Update(benchmark)

	equity := l.broker.Equity(prices)
	if equity > l.peakEquity {
		l.mu.Lock()
		l.peakEquity = equity
		l.mu.Unlock()
	}

	if l.shouldRefreshAllocation() {
		l.refreshAllocation(equity, benchmark)
	}

	realized := l.evaluateAndTrade(prices, benchmark, equity)

	if err := l.recordReturns(realized, equity); err != nil {
		l.log.Error().Err(err).Msg("failed to record strategy returns")
	}
	if err := l.updateStrategyStates(realized); err != nil {
		l.log.Error().Err(err).Msg("failed to update strategy states")
	}

	l.log.Debug().
		Int64("cycle", l.cycle).
		Float64("equity", equity).
		Int("symbols_quoted", len(prices)).
		Msg("cycle complete")

	return nil
}

// pollQuotes fetches every configured symbol, skipping the ones whose
// sources are failing. The quote service's breakers decide when a
// symbol is worth retrying.
func (l *Loop) pollQuotes(ctx context.Context) map[string]float64 {
	prices := make(map[string]float64, len(l.cfg.Symbols))
	for _, symbol := range l.cfg.Symbols {
		quote, err := l.quotes.GetQuote(ctx, symbol)
		if err != nil {
			l.log.Warn().Str("symbol", symbol).Err(err).Msg("quote unavailable, skipping symbol")
			continue
		}

		prices[symbol] = quote.Price
		l.windows.Append(symbol, quote.Price)
	}
	return prices
}

func (l *Loop) shouldRefreshAllocation() bool {
	if l.current.Weights == nil {
		return true
	}
	return l.cycle%int64(l.cfg.AllocationRefreshCycles) == 0
}

// restoreAllocation loads the last persisted vector so a restart does
// not reset to equal weights mid-day.
func (l *Loop) restoreAllocation() {
	previous, err := l.allocators.Current()
	if err != nil {
		l.log.Warn().Err(err).Msg("failed to restore previous allocation")
		return
	}
	if previous != nil {
		l.mu.Lock()
		l.current = *previous
		l.mu.Unlock()
		l.log.Info().Str("method", previous.Method).Msg("restored previous allocation")
	}
}

func (l *Loop) refreshAllocation(equity float64, benchmark []float64) {
	inputs, err := l.buildAllocationInputs(equity, benchmark)
	if err != nil {
		l.log.Warn().Err(err).Msg("failed to build allocation inputs, keeping current allocation")
		return
	}

	vector, err := l.allocators.Allocate(inputs)
	if err != nil {
		l.log.Warn().Err(err).Msg("allocation failed, keeping current allocation")
		return
	}

	l.mu.Lock()
	l.current = vector
	l.mu.Unlock()
}

func (l *Loop) buildAllocationInputs(equity float64, benchmark []float64) (allocation.Inputs, error) {
	ids := l.activeStrategyIDs()

	states, err := l.states.GetAll()
	if err != nil {
		return allocation.Inputs{}, fmt.Errorf("failed to load strategy states: %w", err)
	}

	returns, err := l.returns.GetAlignedSeries(ids, l.cfg.ReturnsLookback)
	if err != nil {
		return allocation.Inputs{}, fmt.Errorf("failed to load return series: %w", err)
	}

	recentTrades, err := l.trades.GetSince(time.Now().Add(-rl.ObservationWindow))
	if err != nil {
		return allocation.Inputs{}, fmt.Errorf("failed to load recent trades: %w", err)
	}

	positions := l.broker.Positions()

	return allocation.Inputs{
		StrategyIDs: ids,
		Returns:     returns,
		States:      states,
		Observation: rl.Observation{
			BenchmarkCloses: benchmark,
			RecentTrades:    recentTrades,
			Equity:          equity,
			Cash:            l.broker.Cash(),
			InitialEquity:   l.cfg.InitialEquity,
			PositionCount:   len(positions),
			PeakEquity:      l.peakEquity,
			TotalPnL:        equity - l.cfg.InitialEquity,
			SymbolDiversity: len(positions),
			StrategyStates:  states,
			StrategyReturns: returns,
			Regime:          l.detector.Current(),
		},
	}, nil
}

// evaluateAndTrade runs every strategy over every quoted symbol and
// executes the actionable signals. Returns realized P&L per strategy.
func (l *Loop) evaluateAndTrade(prices map[string]float64, benchmark []float64, equity float64) map[string]float64 {
	realized := make(map[string]float64)
	states, err := l.states.GetAll()
	if err != nil {
		l.log.Error().Err(err).Msg("failed to load states for sizing, skipping trades")
		return realized
	}

	for _, symbol := range l.cfg.Symbols {
		price, ok := prices[symbol]
		if !ok {
			continue
		}

		window := strategies.Window{
			Symbol:      symbol,
			Closes:      l.windows.Closes(symbol),
			Benchmark:   benchmark,
			HasPosition: l.broker.HasPosition(symbol),
		}

		for _, sig := range l.registry.EvaluateAll(window) {
			if sig.Direction == domain.DirectionHold || sig.Confidence < l.cfg.MinConfidence {
				continue
			}
			l.executeSignal(sig, price, equity, states, realized)
		}
	}
	return realized
}

// executeSignal fills one actionable signal through the execution
// breaker. Buys are gated on being flat, sells close the full position.
func (l *Loop) executeSignal(sig domain.Signal, price, equity float64, states map[string]domain.StrategyState, realized map[string]float64) {
	breaker := l.breakers.Get(executionBreakerDomain)
	if !breaker.CanProceed() {
		l.log.Warn().Str("symbol", sig.Symbol).Msg("execution breaker open, skipping signal")
		return
	}

	var order Order
	switch sig.Direction {
	case domain.DirectionBuy:
		if l.broker.HasPosition(sig.Symbol) {
			return
		}

		decision := l.sizer.Size(states[sig.StrategyID], l.current.Weight(sig.StrategyID), equity)
		if decision.Notional < l.cfg.MinNotional {
			return
		}

		order = Order{
			Symbol:     sig.Symbol,
			Side:       domain.DirectionBuy,
			Quantity:   decision.Notional / price,
			Price:      price,
			StrategyID: sig.StrategyID,
		}

	case domain.DirectionSell:
		pos := l.broker.Position(sig.Symbol)
		if pos == nil {
			return
		}

		order = Order{
			Symbol:     sig.Symbol,
			Side:       domain.DirectionSell,
			Quantity:   pos.Quantity,
			Price:      price,
			StrategyID: sig.StrategyID,
		}

	default:
		return
	}

	trade, err := l.broker.SubmitOrder(order)
	if err != nil {
		breaker.RecordFailure()
		l.log.Warn().Str("symbol", order.Symbol).Err(err).Msg("order rejected")
		return
	}
	breaker.RecordSuccess()

	realized[trade.StrategyID] += trade.RealizedPnL

	if err := l.trades.Create(trade); err != nil {
		l.log.Error().Str("order_id", trade.OrderID).Err(err).Msg("failed to persist trade")
	}
}

// recordReturns writes this cycle's realized return for every active
// strategy, zero included, so the series stay aligned across cycles.
func (l *Loop) recordReturns(realized map[string]float64, equity float64) error {
	if equity <= 0 {
		return fmt.Errorf("non-positive equity %f", equity)
	}

	for _, id := range l.activeStrategyIDs() {
		if err := l.returns.Record(id, l.cycle, realized[id]/equity); err != nil {
			return err
		}
	}
	return nil
}

// updateStrategyStates folds the cycle's fills into each strategy's
// running statistics and refreshes its trailing Sharpe.
func (l *Loop) updateStrategyStates(realized map[string]float64) error {
	states, err := l.states.GetAll()
	if err != nil {
		return err
	}

	for _, id := range l.activeStrategyIDs() {
		state, ok := states[id]
		if !ok {
			state = domain.StrategyState{StrategyID: id}
		}

		if pnl, traded := realized[id]; traded && pnl != 0 {
			state.TotalPnL += pnl
			state.TradeCount++
			if pnl > 0 {
				state.AvgWin = runningMean(state.AvgWin, state.WinCount, pnl)
				state.WinCount++
			} else {
				lossCount := state.TradeCount - 1 - state.WinCount
				state.AvgLoss = runningMean(state.AvgLoss, lossCount, -pnl)
			}
		}

		series, err := l.returns.GetSeries(id, l.cfg.ReturnsLookback)
		if err != nil {
			return err
		}
		if sharpe := formulas.CalculateSharpeRatio(series, 0, 252); sharpe != nil {
			state.Sharpe = *sharpe
		}

		if err := l.states.Upsert(state); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) activeStrategyIDs() []string {
	active := l.registry.Strategies()
	ids := make([]string, len(active))
	for i, s := range active {
		ids[i] = s.ID()
	}
	return ids
}

// Allocation returns the allocation in force.
func (l *Loop) Allocation() domain.AllocationVector {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// CycleCount returns how many cycles have run.
func (l *Loop) CycleCount() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cycle
}

func runningMean(mean float64, count int, value float64) float64 {
	return (mean*float64(count) + value) / float64(count+1)
}
