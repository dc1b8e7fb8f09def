package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"card-ledger/api/internal/card"
)

type BreakerConfig struct {
	// QuotaTrips is the number of consecutive quota errors that opens the breaker.
	QuotaTrips  uint32
	OpenTimeout time.Duration
}

// Breaker stops calling the inference service after repeated quota errors.
// While open it answers ErrQuotaExceeded without making a request; while a
// half-open trial call runs, other calls fail as KindUnavailable. Only quota
// errors count as breaker failures.
type Breaker struct {
	next Extractor
	cb   *gobreaker.CircuitBreaker[card.Record]
}

func NewBreaker(next Extractor, cfg BreakerConfig, log *logrus.Entry) *Breaker {
	if cfg.QuotaTrips == 0 {
		cfg.QuotaTrips = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	st := gobreaker.Settings{
		Name:        "extract",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.QuotaTrips
		},
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, ErrQuotaExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("circuit breaker state change")
			}
		},
	}
	return &Breaker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[card.Record](st),
	}
}

func (b *Breaker) Extract(ctx context.Context, image []byte) (card.Record, error) {
	rec, err := b.cb.Execute(func() (card.Record, error) {
		return b.next.Extract(ctx, image)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return card.Record{}, fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		// half-open: a trial call is in flight
		return card.Record{}, Fail(KindUnavailable, err)
	}
	return rec, err
}
