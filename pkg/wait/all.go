package wait

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MultiStrategy evaluates several strategies in order under one deadline.
type MultiStrategy struct {
	timing
	strategies []Strategy
}

var _ Strategy = MultiStrategy{}

// ForAll returns a strategy that is satisfied once every given strategy is.
func ForAll(strategies ...Strategy) MultiStrategy {
	return MultiStrategy{
		timing:     defaultTiming(),
		strategies: append([]Strategy(nil), strategies...),
	}
}

// WithStartupTimeout bounds the total time spent across all strategies.
func (s MultiStrategy) WithStartupTimeout(d time.Duration) MultiStrategy {
	if d > 0 {
		s.startupTimeout = d
	}
	return s
}

func (s MultiStrategy) String() string {
	names := make([]string, 0, len(s.strategies))
	for _, strategy := range s.strategies {
		names = append(names, fmt.Sprint(strategy))
	}
	return "all of [" + strings.Join(names, ", ") + "]"
}

// WaitUntilReady runs each strategy in sequence and stops at the first failure.
func (s MultiStrategy) WaitUntilReady(parent context.Context, target StrategyTarget) error {
	ctx, cancel := s.deadline(parent)
	defer cancel()

	for _, strategy := range s.strategies {
		if strategy == nil {
			continue
		}
		if err := strategy.WaitUntilReady(ctx, target); err != nil {
			if expired := s.expired(parent, ctx, s.String()); expired != nil {
				return expired
			}
			return err
		}
	}

	return nil
}
