// Package intent gates the pipeline: only questions about the supported
// business domains are allowed to reach SQL generation.
package intent

import "context"

// Decision is the outcome of one classification strategy.
type Decision int

const (
	// DecisionUnknown means the strategy could not tell; the next
	// strategy in the chain decides.
	DecisionUnknown Decision = iota
	DecisionAccept
	DecisionReject
)

// Classifier decides whether a question is in-domain. Strategies are
// chained in fixed order; the LLM strategy sits behind the same contract
// as the keyword strategy so tests can substitute a fake.
type Classifier interface {
	Classify(ctx context.Context, question string) (Decision, error)
}

// Chain runs classifiers in order and returns the first definite
// decision. OnAmbiguous decides the outcome when every strategy returns
// unknown or fails; the default is to accept, since a false accept only
// produces an unhelpful generation while a false reject blocks the user.
type Chain struct {
	strategies  []Classifier
	onAmbiguous Decision
}

type ChainOption func(*Chain)

// WithAmbiguousPolicy overrides the outcome for inconclusive chains.
func WithAmbiguousPolicy(d Decision) ChainOption {
	return func(c *Chain) {
		c.onAmbiguous = d
	}
}

func NewChain(strategies []Classifier, opts ...ChainOption) *Chain {
	c := &Chain{
		strategies:  strategies,
		onAmbiguous: DecisionAccept,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) Classify(ctx context.Context, question string) (Decision, error) {
	for _, s := range c.strategies {
		decision, err := s.Classify(ctx, question)
		if err != nil {
			// A broken strategy falls through to the next one; the
			// ambiguity policy covers a fully broken chain.
			continue
		}
		if decision != DecisionUnknown {
			return decision, nil
		}
	}
	return c.onAmbiguous, nil
}
