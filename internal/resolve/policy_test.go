package resolve

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartbin/smartbin/internal/bin"
	"github.com/smartbin/smartbin/internal/errors"
	"github.com/smartbin/smartbin/internal/logging"
	"github.com/smartbin/smartbin/internal/store"
)

// scripted answers from a fixed list and fails with io.EOF when it runs out.
type scripted struct {
	answers []string
	asked   []Question
	told    []string
}

func (s *scripted) Ask(ctx context.Context, q Question) (string, error) {
	s.asked = append(s.asked, q)
	if len(s.answers) == 0 {
		return "", io.EOF
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

func (s *scripted) Tell(msg string) {
	s.told = append(s.told, msg)
}

// countingStore counts inserts on top of a real store.
type countingStore struct {
	*store.Store
	inserts int
}

func (c *countingStore) Insert(ctx context.Context, label string, color bin.Color) (*bin.Record, error) {
	c.inserts++
	return c.Store.Insert(ctx, label, color)
}

func newTestStore(t *testing.T) *countingStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "waste_items.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &countingStore{Store: s}
}

func newTestPolicy(s Store, op Operator, outcomes *[]Outcome) *Policy {
	return NewPolicy(s, op,
		WithLogger(logging.Discard()),
		WithObserver(func(o Outcome) { *outcomes = append(*outcomes, o) }),
	)
}

func TestResolve_Scenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	op := &scripted{answers: []string{"yellow", "GREEN"}}
	var outcomes []Outcome
	p := newTestPolicy(s, op, &outcomes)

	color, ok, err := p.Resolve(ctx, "Plastic Bottle")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, bin.Yellow, color)

	color, ok, err = p.Resolve(ctx, "plastic bottle")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, bin.Yellow, color)

	color, ok, err = p.Resolve(ctx, "Banana Peel")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, bin.Green, color)

	assert.Len(t, op.asked, 2, "the hit must not ask the operator")
	assert.Equal(t, "plastic bottle", op.asked[0].Label)
	assert.Len(t, op.asked[0].Choices, 3)
	assert.Equal(t, []Outcome{OutcomeLearned, OutcomeHit, OutcomeLearned}, outcomes)

	stats, err := s.Stats(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRecords)
	assert.Equal(t, bin.BinStats{Count: 1, Usage: 2}, stats.PerBin[bin.Yellow])
	assert.Equal(t, bin.BinStats{Count: 1, Usage: 1}, stats.PerBin[bin.Green])
}

func TestResolve_SkipDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	op := &scripted{answers: []string{" SKIP "}}
	var outcomes []Outcome
	p := newTestPolicy(s, op, &outcomes)

	color, ok, err := p.Resolve(ctx, "mystery object")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, bin.Color(""), color)
	assert.Equal(t, 0, s.inserts)
	assert.Equal(t, []Outcome{OutcomeSkipped}, outcomes)

	rec, err := s.Lookup(ctx, "mystery object")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestResolve_InvalidChoicesRetry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	op := &scripted{answers: []string{"blue", "", "recycle", "red", " Brown "}}
	var outcomes []Outcome
	p := newTestPolicy(s, op, &outcomes)

	color, ok, err := p.Resolve(ctx, "pizza box")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, bin.Brown, color)

	assert.Len(t, op.asked, 5)
	require.Len(t, op.told, 4)
	assert.Contains(t, op.told[0], `"blue"`)
	assert.Equal(t, 1, s.inserts, "at most one insert per resolution")
}

func TestResolve_HitIncrementsUsage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Store.Insert(ctx, "can", bin.Yellow)
	require.NoError(t, err)

	op := &scripted{}
	var outcomes []Outcome
	p := newTestPolicy(s, op, &outcomes)

	prev := 1
	for i := 0; i < 3; i++ {
		_, ok, err := p.Resolve(ctx, "  CAN ")
		require.NoError(t, err)
		require.True(t, ok)

		rec, err := s.Lookup(ctx, "can")
		require.NoError(t, err)
		assert.Greater(t, rec.UsageCount, prev)
		prev = rec.UsageCount
	}
	assert.Equal(t, 4, prev)
	assert.Empty(t, op.asked)
	assert.Equal(t, 0, s.inserts)
}

func TestResolve_OperatorErrorAborts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	op := &scripted{answers: []string{"nope"}}
	var outcomes []Outcome
	p := newTestPolicy(s, op, &outcomes)

	_, ok, err := p.Resolve(ctx, "glass jar")
	require.ErrorIs(t, err, io.EOF)
	assert.False(t, ok)
	assert.Equal(t, 0, s.inserts)
	assert.Equal(t, []Outcome{OutcomeFailed}, outcomes)
}

func TestResolve_EmptyLabel(t *testing.T) {
	s := newTestStore(t)
	var outcomes []Outcome
	p := newTestPolicy(s, &scripted{}, &outcomes)

	_, _, err := p.Resolve(context.Background(), "   ")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
}

func TestResolve_NoOperator(t *testing.T) {
	s := newTestStore(t)
	var outcomes []Outcome
	p := newTestPolicy(s, nil, &outcomes)

	_, _, err := p.Resolve(context.Background(), "unknown")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
}

// racingStore simulates another writer inserting the label between lookup and insert.
type racingStore struct {
	*countingStore
}

func (r *racingStore) Insert(ctx context.Context, label string, color bin.Color) (*bin.Record, error) {
	if _, err := r.countingStore.Store.Insert(ctx, label, bin.Brown); err != nil {
		return nil, err
	}
	return r.countingStore.Insert(ctx, label, color)
}

func TestResolve_DuplicateIsLogicFault(t *testing.T) {
	s := &racingStore{countingStore: newTestStore(t)}
	var outcomes []Outcome
	p := newTestPolicy(s, &scripted{answers: []string{"green"}}, &outcomes)

	_, ok, err := p.Resolve(context.Background(), "cup")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, errors.ErrInternal), "got %v", err)
	assert.Contains(t, err.Error(), "DUPLICATE_LABEL")
}

func TestAnswer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var outcomes []Outcome
	p := newTestPolicy(s, NewAnswer("green"), &outcomes)
	color, ok, err := p.Resolve(ctx, "tea bag")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, bin.Green, color)

	bad := NewAnswer("purple")
	p = newTestPolicy(s, bad, &outcomes)
	_, _, err = p.Resolve(ctx, "crisp packet")
	assert.True(t, errors.Is(err, errors.ErrInvalidOperatorChoice), "got %v", err)
	require.Len(t, bad.Messages(), 1)
	assert.Equal(t, 1, s.inserts)
}

func TestAnswer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAnswer("green").Ask(ctx, Question{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQuestion_Prompt(t *testing.T) {
	q := Question{Label: "banana peel", Choices: bin.Choices()}
	prompt := q.Prompt()

	assert.Contains(t, prompt, "banana peel")
	for _, c := range bin.Colors {
		assert.Contains(t, prompt, string(c))
	}
	assert.True(t, strings.Contains(prompt, "skip"))
}
