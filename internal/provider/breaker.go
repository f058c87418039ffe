package provider

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/nsescan/internal/config"
)

// BreakerStatus is a read-only view of one breaker
type BreakerStatus struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// Breakers holds one circuit breaker per call category. Only network and
// provider_unavailable outcomes count as failures; a missing symbol never trips a breaker.
type Breakers struct {
	cfg      config.BreakerConfig
	onChange func(name string, from, to gobreaker.State)

	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakers creates an empty set; breakers are created on first use
func NewBreakers(cfg config.BreakerConfig, onChange func(name string, from, to gobreaker.State)) *Breakers {
	return &Breakers{
		cfg:      cfg,
		onChange: onChange,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *Breakers) get(name string) *gobreaker.CircuitBreaker {
	b.mu.RLock()
	cb, ok := b.breakers[name]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[name]; ok {
		return cb
	}

	threshold := b.cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	timeout := b.cfg.OpenTimeout.D()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    b.cfg.Interval.D(),
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ev := log.Info()
			if to == gobreaker.StateOpen {
				ev = log.Warn()
			}
			ev.Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state changed")
			if b.onChange != nil {
				b.onChange(name, from, to)
			}
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
	})
	b.breakers[name] = cb
	return cb
}

// Execute runs fn through the named breaker. An open breaker short-circuits
// with a network error and fn is not called.
func (b *Breakers) Execute(name, op, symbol string, fn func() error) error {
	if !b.cfg.Enabled {
		return fn()
	}
	_, err := b.get(name).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Error{Kind: KindNetwork, Op: op, Symbol: symbol, Err: err}
	}
	return err
}

// Status returns every breaker created so far
func (b *Breakers) Status() []BreakerStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]BreakerStatus, 0, len(b.breakers))
	for name, cb := range b.breakers {
		counts := cb.Counts()
		out = append(out, BreakerStatus{
			Name:                name,
			State:               cb.State().String(),
			Requests:            counts.Requests,
			TotalFailures:       counts.TotalFailures,
			ConsecutiveFailures: counts.ConsecutiveFailures,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func isShortCircuit(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
