package reliability

import (
	"context"

	"camlink/internal/core/domain"
	"camlink/internal/core/ports"
	"camlink/pkg/circuitbreaker"
	"camlink/pkg/retry"

	"go.uber.org/zap"
)

// SessionRepositoryWrapper wraps a SessionRepository with retry logic and a
// circuit breaker. It shields the registry from transient Redis failures:
// short blips are retried, sustained outages trip the breaker so the sweep
// loop and signaling path fail fast instead of piling up on timeouts.
type SessionRepositoryWrapper struct {
	repo   ports.SessionRepository
	logger *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

// NewSessionRepositoryWrapper creates a new wrapper with retry and circuit breaker
func NewSessionRepositoryWrapper(
	repo ports.SessionRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *SessionRepositoryWrapper {
	// Domain outcomes are answers, not failures; retrying them is useless.
	retryConfig.NonRetryableErrors = append(retryConfig.NonRetryableErrors,
		domain.ErrSessionNotFound,
		domain.ErrAlreadyBroadcasting,
	)

	wrapper := &SessionRepositoryWrapper{
		repo:           repo,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("session repository circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

func (w *SessionRepositoryWrapper) Create(ctx context.Context, session *domain.Session) error {
	return w.execute(ctx, func() error {
		return w.repo.Create(ctx, session)
	})
}

func (w *SessionRepositoryWrapper) GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	return executeWithResult(ctx, w, func() (*domain.Session, error) {
		return w.repo.GetByID(ctx, id)
	})
}

func (w *SessionRepositoryWrapper) GetByOwner(ctx context.Context, owner domain.EndpointID) (*domain.Session, error) {
	return executeWithResult(ctx, w, func() (*domain.Session, error) {
		return w.repo.GetByOwner(ctx, owner)
	})
}

func (w *SessionRepositoryWrapper) Update(ctx context.Context, session *domain.Session) error {
	return w.execute(ctx, func() error {
		return w.repo.Update(ctx, session)
	})
}

func (w *SessionRepositoryWrapper) Delete(ctx context.Context, id domain.SessionID) error {
	return w.execute(ctx, func() error {
		return w.repo.Delete(ctx, id)
	})
}

func (w *SessionRepositoryWrapper) ListActive(ctx context.Context) ([]*domain.Session, error) {
	return executeWithResult(ctx, w, func() ([]*domain.Session, error) {
		return w.repo.ListActive(ctx)
	})
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (w *SessionRepositoryWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}

func (w *SessionRepositoryWrapper) execute(ctx context.Context, fn func() error) error {
	if !w.retryConfig.Enabled {
		return fn()
	}
	return retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, fn)
	})
}

// executeWithResult is package-level because methods cannot have their own
// type parameters.
func executeWithResult[T any](ctx context.Context, w *SessionRepositoryWrapper, fn func() (T, error)) (T, error) {
	if !w.retryConfig.Enabled {
		return fn()
	}
	return retry.RetryWithResult(ctx, w.retryConfig, func() (T, error) {
		var zero T
		res, err := w.circuitBreaker.ExecuteWithResult(ctx, func() (interface{}, error) {
			return fn()
		})
		if err != nil {
			return zero, err
		}
		return res.(T), nil
	})
}
