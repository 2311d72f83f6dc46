package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartbin/smartbin/internal/bin"
	"github.com/smartbin/smartbin/internal/errors"
	"github.com/smartbin/smartbin/internal/resolve"
)

func TestReadLine(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader("plastic bottle\r\n  stats \nlast"), &out)
	ctx := context.Background()

	got, err := c.ReadLine(ctx, "> ")
	require.NoError(t, err)
	assert.Equal(t, "plastic bottle", got)

	got, err = c.ReadLine(ctx, "> ")
	require.NoError(t, err)
	assert.Equal(t, "  stats ", got)

	got, err = c.ReadLine(ctx, "> ")
	require.NoError(t, err)
	assert.Equal(t, "last", got)

	_, err = c.ReadLine(ctx, "> ")
	assert.ErrorIs(t, err, io.EOF)

	_, err = c.ReadLine(ctx, "")
	assert.ErrorIs(t, err, io.EOF, "EOF is sticky")

	assert.Equal(t, "> > > > ", out.String())
}

func TestReadLine_Cancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	c := New(pr, io.Discard)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.ReadLine(ctx, "")
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, errors.ErrInterrupted), "got %v", err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLine did not return after cancellation")
	}
}

func TestAskTell(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader("green\n"), &out)

	var op resolve.Operator = c
	answer, err := op.Ask(context.Background(), resolve.Question{Label: "banana peel", Choices: bin.Choices()})
	require.NoError(t, err)
	assert.Equal(t, "green", answer)

	op.Tell("Invalid choice")
	assert.Contains(t, out.String(), "Unknown item: banana peel")
	assert.Contains(t, out.String(), "Invalid choice\n")
}
