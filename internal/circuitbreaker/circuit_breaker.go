package circuitbreaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// State mirrors gobreaker.State so gauges export 0=closed, 1=half-open, 2=open
type State int

const (
	StateClosed   = State(gobreaker.StateClosed)
	StateHalfOpen = State(gobreaker.StateHalfOpen)
	StateOpen     = State(gobreaker.StateOpen)
)

func (s State) String() string {
	return gobreaker.State(s).String()
}

var (
	ErrCircuitBreakerOpen = gobreaker.ErrOpenState
	ErrTooManyRequests    = gobreaker.ErrTooManyRequests
)

// Config holds circuit breaker configuration
type Config struct {
	// MaxRequests bounds probes while half-open; that many consecutive
	// successes close the breaker again.
	MaxRequests      uint32
	Interval         time.Duration // clears closed-state counts; 0 never clears
	Timeout          time.Duration // open -> half-open
	FailureThreshold uint32        // consecutive failures that open the breaker
	OnStateChange    func(name string, from State, to State)

	// IsSuccessful classifies a returned error for breaker accounting.
	// Errors it accepts are still returned to the caller. Nil means only a nil error counts.
	IsSuccessful func(err error) bool
}

// DefaultConfig returns sensible defaults for circuit breaker
func DefaultConfig() Config {
	return Config{
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// Counts is the breaker's view of the current generation
type Counts = gobreaker.Counts

// CircuitBreaker guards calls to one downstream dependency
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger
	gb     *gobreaker.CircuitBreaker
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 1
	}
	cb := &CircuitBreaker{name: name, config: config, logger: logger}

	threshold := config.FailureThreshold
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		// config.OnStateChange is read at transition time so RegisterCircuitBreaker
		// can chain onto it after construction
		OnStateChange: func(_ string, from, to gobreaker.State) {
			cb.logger.Info("Circuit breaker state changed",
				zap.String("name", cb.name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if hook := cb.config.OnStateChange; hook != nil {
				hook(cb.name, State(from), State(to))
			}
		},
	}
	if config.IsSuccessful != nil {
		settings.IsSuccessful = config.IsSuccessful
	}
	cb.gb = gobreaker.NewCircuitBreaker(settings)
	return cb
}

// Name returns the breaker name used in logs and metrics
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn if the breaker admits the request. A context that is
// already done is rejected without touching the counters.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	_, err := cb.gb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// Call runs fn through the breaker and returns its value.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// State returns the current state, moving open to half-open once Timeout has passed
func (cb *CircuitBreaker) State() State {
	return State(cb.gb.State())
}

// Counts returns the current counts
func (cb *CircuitBreaker) Counts() Counts {
	return cb.gb.Counts()
}
