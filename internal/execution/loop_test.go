package execution

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neolight/smarttrader/internal/allocation"
	"github.com/neolight/smarttrader/internal/domain"
	"github.com/neolight/smarttrader/internal/regime"
	"github.com/neolight/smarttrader/internal/reliability"
	"github.com/neolight/smarttrader/internal/sizing"
	"github.com/neolight/smarttrader/internal/strategies"
)

type scriptedQuotes struct {
	mu     sync.Mutex
	prices map[string]float64
	fail   map[string]bool
}

func (s *scriptedQuotes) GetQuote(_ context.Context, symbol string) (*domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail[symbol] {
		return nil, fmt.Errorf("source down")
	}
	price, ok := s.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("unknown symbol")
	}
	return &domain.Quote{Symbol: symbol, Price: price, FetchedAt: time.Now()}, nil
}

func (s *scriptedQuotes) set(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

type equalChain struct{}

func (equalChain) Allocate(inputs allocation.Inputs) (domain.AllocationVector, error) {
	weights := make(map[string]float64, len(inputs.StrategyIDs))
	for _, id := range inputs.StrategyIDs {
		weights[id] = 1.0 / float64(len(inputs.StrategyIDs))
	}
	return domain.AllocationVector{Method: "equal", Weights: weights, CreatedAt: time.Now()}, nil
}

func (equalChain) Current() (*domain.AllocationVector, error) { return nil, nil }

type memTradeLedger struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (m *memTradeLedger) Create(trade domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	return nil
}

func (m *memTradeLedger) GetSince(time.Time) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Trade{}, m.trades...), nil
}

func (m *memTradeLedger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trades)
}

type memStateLedger struct {
	mu     sync.Mutex
	states map[string]domain.StrategyState
}

func newMemStateLedger() *memStateLedger {
	return &memStateLedger{states: make(map[string]domain.StrategyState)}
}

func (m *memStateLedger) GetAll() (map[string]domain.StrategyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]domain.StrategyState, len(m.states))
	for id, s := range m.states {
		out[id] = s
	}
	return out, nil
}

func (m *memStateLedger) Upsert(state domain.StrategyState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.StrategyID] = state
	return nil
}

type memReturnsLedger struct {
	mu     sync.Mutex
	series map[string][]float64
}

func newMemReturnsLedger() *memReturnsLedger {
	return &memReturnsLedger{series: make(map[string][]float64)}
}

func (m *memReturnsLedger) Record(strategyID string, _ int64, ret float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[strategyID] = append(m.series[strategyID], ret)
	return nil
}

func (m *memReturnsLedger) GetSeries(strategyID string, limit int) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.series[strategyID]
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return append([]float64{}, s...), nil
}

func (m *memReturnsLedger) GetAlignedSeries(strategyIDs []string, limit int) (map[string][]float64, error) {
	out := make(map[string][]float64, len(strategyIDs))
	for _, id := range strategyIDs {
		s, _ := m.GetSeries(id, limit)
		if len(s) == 0 {
			return map[string][]float64{}, nil
		}
		out[id] = s
	}
	return out, nil
}

type loopFixture struct {
	loop    *Loop
	quotes  *scriptedQuotes
	broker  *PaperBroker
	trades  *memTradeLedger
	states  *memStateLedger
	returns *memReturnsLedger
}

func newLoopFixture(t *testing.T, symbols []string) *loopFixture {
	t.Helper()

	quotes := &scriptedQuotes{prices: map[string]float64{}, fail: map[string]bool{}}
	broker := NewPaperBroker(100000, zerolog.Nop())
	trades := &memTradeLedger{}
	states := newMemStateLedger()
	returns := newMemReturnsLedger()

	sizer := sizing.NewSizer(sizing.Config{
		KellyMultiplier:   0.5,
		KellyCap:          0.25,
		MaxPositionPct:    0.20,
		MinTradesForKelly: 10,
		FixedFractionPct:  0.01,
	}, zerolog.Nop())

	loop := NewLoop(
		Config{
			Symbols:                 symbols,
			BenchmarkSymbol:         symbols[0],
			CycleInterval:           time.Second,
			AllocationRefreshCycles: 5,
			InitialEquity:           100000,
			MinConfidence:           0.2,
		},
		quotes,
		strategies.NewRegistry(nil, zerolog.Nop()),
		equalChain{},
		sizer,
		broker,
		trades,
		states,
		returns,
		regime.NewDetector(zerolog.Nop()),
		reliability.NewBreakerRegistry(reliability.BreakerConfig{}, zerolog.Nop()),
		zerolog.Nop(),
	)

	return &loopFixture{loop: loop, quotes: quotes, broker: broker, trades: trades, states: states, returns: returns}
}

func TestCycleFailsWithoutQuotes(t *testing.T) {
	f := newLoopFixture(t, []string{"AAPL"})
	f.quotes.fail["AAPL"] = true

	assert.Error(t, f.loop.Cycle(context.Background()))
}

func TestCycleSkipsFailingSymbol(t *testing.T) {
	f := newLoopFixture(t, []string{"AAPL", "MSFT"})
	f.quotes.set("AAPL", 100)
	f.quotes.fail["MSFT"] = true

	require.NoError(t, f.loop.Cycle(context.Background()))
	assert.Equal(t, 1, f.loop.windows.Len("AAPL"))
	assert.Zero(t, f.loop.windows.Len("MSFT"))
}

func TestCycleRecordsReturnsForAllStrategies(t *testing.T) {
	f := newLoopFixture(t, []string{"AAPL"})
	f.quotes.set("AAPL", 100)

	require.NoError(t, f.loop.Cycle(context.Background()))

	for _, id := range strategies.AllStrategyIDs {
		series, err := f.returns.GetSeries(id, 10)
		require.NoError(t, err)
		assert.Len(t, series, 1, id)
	}
}

func TestTrendingMarketProducesTrades(t *testing.T) {
	f := newLoopFixture(t, []string{"AAPL"})

	price := 100.0
	for cycle := 0; cycle < 80; cycle++ {
		f.quotes.set("AAPL", price)
		require.NoError(t, f.loop.Cycle(context.Background()))
		price *= 1.01
	}

	assert.Greater(t, f.trades.count(), 0, "a persistent uptrend should trigger entries")

	// Allocation was refreshed along the way.
	assert.NotEmpty(t, f.loop.Allocation().Weights)
	assert.Equal(t, int64(80), f.loop.CycleCount())
}

func TestStrategyStatesUpdatedEachCycle(t *testing.T) {
	f := newLoopFixture(t, []string{"AAPL"})
	f.quotes.set("AAPL", 100)

	require.NoError(t, f.loop.Cycle(context.Background()))

	states, err := f.states.GetAll()
	require.NoError(t, err)
	assert.Len(t, states, len(strategies.AllStrategyIDs))
}

func TestExecutionBreakerOpensOnRepeatedRejections(t *testing.T) {
	f := newLoopFixture(t, []string{"AAPL"})

	// Drain the broker so every buy is rejected for insufficient cash.
	_, err := f.broker.SubmitOrder(Order{Symbol: "SPY", Side: domain.DirectionBuy, Quantity: 999, Price: 100, StrategyID: "s"})
	require.NoError(t, err)

	states, err := f.states.GetAll()
	require.NoError(t, err)

	sig := domain.Signal{
		StrategyID: strategies.TurtleTrading,
		Symbol:     "AAPL",
		Direction:  domain.DirectionBuy,
		Confidence: 0.9,
	}
	f.loop.current = domain.AllocationVector{Weights: map[string]float64{strategies.TurtleTrading: 1}}

	realized := map[string]float64{}
	for i := 0; i < 5; i++ {
		f.loop.executeSignal(sig, 100, 100000, states, realized)
	}

	breaker := f.loop.breakers.Get(executionBreakerDomain)
	assert.Equal(t, reliability.StateOpen, breaker.State())

	// Open breaker short-circuits before the broker is touched.
	f.loop.executeSignal(sig, 100, 100000, states, realized)
	assert.Zero(t, f.trades.count())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newLoopFixture(t, []string{"AAPL"})
	f.quotes.set("AAPL", 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.loop.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}
