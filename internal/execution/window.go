package execution

import "sync"

// defaultWindowCapacity bounds how many closes are retained per symbol.
// The longest indicator lookback is 50 bars; 200 leaves headroom for
// volatility and drawdown features.
const defaultWindowCapacity = 200

// PriceWindows accumulates per-symbol price history across cycles and
// hands strategies their evaluation windows.
type PriceWindows struct {
	mu       sync.RWMutex
	capacity int
	closes   map[string][]float64
}

// NewPriceWindows creates the window store.
func NewPriceWindows(capacity int) *PriceWindows {
	if capacity <= 0 {
		capacity = defaultWindowCapacity
	}
	return &PriceWindows{
		capacity: capacity,
		closes:   make(map[string][]float64),
	}
}

// Append records a new close for the symbol, evicting the oldest bar
// once the window is full.
func (w *PriceWindows) Append(symbol string, price float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	series := append(w.closes[symbol], price)
	if len(series) > w.capacity {
		series = series[len(series)-w.capacity:]
	}
	w.closes[symbol] = series
}

// Closes returns a copy of the symbol's series, oldest first.
func (w *PriceWindows) Closes(symbol string) []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	series := w.closes[symbol]
	out := make([]float64, len(series))
	copy(out, series)
	return out
}

// Len returns the number of bars recorded for the symbol.
func (w *PriceWindows) Len(symbol string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.closes[symbol])
}
