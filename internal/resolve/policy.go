// Package resolve decides which bin an item label goes to, asking an operator
// when the label has never been seen.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/smartbin/smartbin/internal/bin"
	"github.com/smartbin/smartbin/internal/errors"
)

// SkipAnswer declines to classify an unknown item.
const SkipAnswer = "skip"

// Store is the part of the classification store the policy needs.
type Store interface {
	Lookup(ctx context.Context, label string) (*bin.Record, error)
	RecordHit(ctx context.Context, label string) (int, error)
	Insert(ctx context.Context, label string, color bin.Color) (*bin.Record, error)
}

// Question is what the operator is asked about an unknown item.
type Question struct {
	Label   string
	Choices []bin.Choice
}

// Prompt renders the question for a line-oriented console.
func (q Question) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Unknown item: %s\n", q.Label)
	b.WriteString("Which bin should it go to?\n")
	for _, c := range q.Choices {
		fmt.Fprintf(&b, "  %s: %s (%s)\n", c.Color, c.Meaning, c.Hint)
	}
	fmt.Fprintf(&b, "Type a bin color, or %q to leave it unclassified: ", SkipAnswer)
	return b.String()
}

// Operator answers questions about unknown items.
// Ask returns an error when no answer can be obtained (end of input, interrupt).
type Operator interface {
	Ask(ctx context.Context, q Question) (string, error)
	Tell(msg string)
}

// Outcome labels how a resolution ended.
type Outcome string

const (
	OutcomeHit     Outcome = "hit"
	OutcomeLearned Outcome = "learned"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Option configures a Policy.
type Option func(*Policy)

// WithLogger sets the logger used for resolution events.
func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Policy) {
		p.log = log
	}
}

// WithObserver registers a callback invoked once per resolution with its outcome.
func WithObserver(fn func(Outcome)) Option {
	return func(p *Policy) {
		p.observe = fn
	}
}

// Policy resolves labels against a Store, falling back to an Operator on a miss.
type Policy struct {
	store    Store
	operator Operator
	log      logrus.FieldLogger
	observe  func(Outcome)
}

// NewPolicy creates a Policy.
func NewPolicy(store Store, operator Operator, opts ...Option) *Policy {
	p := &Policy{
		store:    store,
		operator: operator,
		log:      logrus.StandardLogger(),
		observe:  func(Outcome) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolve returns the bin for label. ok is false when the operator skipped it.
// A known label has its usage counter incremented. An unknown label is learned
// from the operator, who is asked again until the answer is a bin or skip.
func (p *Policy) Resolve(ctx context.Context, label string) (bin.Color, bool, error) {
	color, ok, outcome, err := p.resolve(ctx, label)
	p.observe(outcome)
	return color, ok, err
}

func (p *Policy) resolve(ctx context.Context, label string) (bin.Color, bool, Outcome, error) {
	norm := bin.Normalize(label)
	if norm == "" {
		return "", false, OutcomeFailed, errors.NewInvalidRequest("item label must not be empty")
	}

	rec, err := p.store.Lookup(ctx, norm)
	if err != nil {
		return "", false, OutcomeFailed, err
	}
	if rec != nil {
		count, err := p.store.RecordHit(ctx, norm)
		if err != nil {
			return "", false, OutcomeFailed, logicFault(err)
		}
		p.log.WithFields(logrus.Fields{
			"item":  norm,
			"bin":   rec.Color,
			"usage": count,
		}).Debug("known item")
		return rec.Color, true, OutcomeHit, nil
	}

	if p.operator == nil {
		return "", false, OutcomeFailed, errors.NewInvalidRequest(fmt.Sprintf("no classification for %q and no operator to ask", norm))
	}

	q := Question{Label: norm, Choices: bin.Choices()}
	for {
		answer, err := p.operator.Ask(ctx, q)
		if err != nil {
			return "", false, OutcomeFailed, err
		}

		if strings.EqualFold(strings.TrimSpace(answer), SkipAnswer) {
			p.log.WithField("item", norm).Info("item skipped")
			return "", false, OutcomeSkipped, nil
		}

		color, valid := bin.ParseColor(answer)
		if !valid {
			p.operator.Tell(fmt.Sprintf("Invalid choice %q. Please enter yellow, green, brown or %s.", strings.TrimSpace(answer), SkipAnswer))
			continue
		}

		if _, err := p.store.Insert(ctx, norm, color); err != nil {
			return "", false, OutcomeFailed, logicFault(err)
		}
		p.log.WithFields(logrus.Fields{
			"item": norm,
			"bin":  color,
		}).Info("learned new item")
		return color, true, OutcomeLearned, nil
	}
}

// logicFault reports store errors that cannot happen when the store is used
// by a single sequential loop.
func logicFault(err error) error {
	if errors.Is(err, errors.ErrDuplicateLabel) || errors.Is(err, errors.ErrInvalidBinColor) || errors.Is(err, errors.ErrNotFound) {
		return errors.NewInternal(fmt.Errorf("classification store invariant violated: %w", err))
	}
	return err
}

// Answer is an Operator that gives one fixed answer. Asking twice means the
// answer was rejected, which is reported as INVALID_OPERATOR_CHOICE.
type Answer struct {
	value string
	asked bool
	told  []string
}

// NewAnswer returns an Operator that answers value once.
func NewAnswer(value string) *Answer {
	return &Answer{value: value}
}

// Ask implements Operator.
func (a *Answer) Ask(ctx context.Context, q Question) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if a.asked {
		return "", errors.NewInvalidOperatorChoice(a.value)
	}
	a.asked = true
	return a.value, nil
}

// Tell implements Operator.
func (a *Answer) Tell(msg string) {
	a.told = append(a.told, msg)
}

// Messages returns what the policy told this operator.
func (a *Answer) Messages() []string {
	return a.told
}
