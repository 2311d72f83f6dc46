// Package control runs the interactive sorting loop.
package control

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartbin/smartbin/internal/actuator"
	"github.com/smartbin/smartbin/internal/bin"
	"github.com/smartbin/smartbin/internal/errors"
	"github.com/smartbin/smartbin/internal/metrics"
	"github.com/smartbin/smartbin/internal/report"
)

// Reserved console commands, matched case-insensitively.
const (
	CommandQuit  = "quit"
	CommandStats = "stats"
)

// Prompt is shown before every item label.
const Prompt = "\nDetected item > "

// LineReader yields operator input.
type LineReader interface {
	ReadLine(ctx context.Context, prompt string) (string, error)
}

// Resolver maps an item label to a bin; ok is false for a skipped item.
type Resolver interface {
	Resolve(ctx context.Context, label string) (color bin.Color, ok bool, err error)
}

// Dispatcher routes items to bins.
type Dispatcher interface {
	Dispatch(ctx context.Context, color bin.Color) error
	Mode() actuator.Mode
	Close() error
}

// StatsStore is the classification store as seen by the loop.
type StatsStore interface {
	Stats(ctx context.Context, topN int) (*bin.Stats, error)
	Close() error
}

// Loop owns the store and the actuator link for the lifetime of a session.
type Loop struct {
	Input    LineReader
	Resolver Resolver
	Link     Dispatcher
	Store    StatsStore
	Out      io.Writer
	Log      logrus.FieldLogger
	Metrics  *metrics.Metrics // optional
	TopN     int
}

// Run processes items until quit, end of input or cancellation, then shuts
// down. Shutdown always runs and closes the link before the store.
func (l *Loop) Run(ctx context.Context) error {
	l.banner()

	runErr := l.loop(ctx)
	if errors.Is(runErr, errors.ErrInterrupted) || stderrors.Is(runErr, context.Canceled) {
		fmt.Fprintln(l.Out, "\n\nInterrupted by operator")
		runErr = nil
	}

	return stderrors.Join(runErr, l.Shutdown())
}

func (l *Loop) banner() {
	fmt.Fprintf(l.Out, "\n%s\nSMART BIN - MANUAL CONTROL\n%s\n", strings.Repeat("=", 50), strings.Repeat("=", 50))
	fmt.Fprintln(l.Out, "Enter item names to simulate a detection")
	fmt.Fprintf(l.Out, "Type '%s' to exit\n", CommandQuit)
	fmt.Fprintf(l.Out, "Type '%s' to show statistics\n", CommandStats)
	fmt.Fprintf(l.Out, "Actuator: %s\n", l.Link.Mode())
	fmt.Fprintln(l.Out, strings.Repeat("=", 50))
}

func (l *Loop) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.NewInterrupted(err)
		}

		raw, err := l.Input.ReadLine(ctx, Prompt)
		if stderrors.Is(err, io.EOF) {
			l.Log.Debug("end of input")
			return nil
		}
		if err != nil {
			return err
		}

		input := strings.TrimSpace(raw)
		switch {
		case strings.EqualFold(input, CommandQuit):
			fmt.Fprintln(l.Out, "\nStopping...")
			return nil
		case strings.EqualFold(input, CommandStats):
			l.printStats(ctx)
			continue
		case input == "":
			continue
		}

		if err := l.handle(ctx, input); err != nil {
			if stderrors.Is(err, io.EOF) {
				l.Log.Debug("end of input while asking the operator")
				return nil
			}
			return err
		}
	}
}

// handle resolves and dispatches one item. Only errors that end the session
// are returned; everything else is reported and the loop continues.
func (l *Loop) handle(ctx context.Context, label string) error {
	fmt.Fprintf(l.Out, "\nProcessing: '%s'\n", label)

	color, ok, err := l.Resolver.Resolve(ctx, label)
	if err != nil {
		if fatal(ctx, err) {
			return err
		}
		l.Log.WithError(err).WithField("item", label).Error("resolution failed")
		fmt.Fprintf(l.Out, "Could not classify '%s': %v\n", label, err)
		return nil
	}
	if !ok {
		fmt.Fprintln(l.Out, "Item skipped")
		return nil
	}

	fmt.Fprintf(l.Out, "Sorting: %s -> %s bin\n", label, color)
	start := time.Now()
	err = l.Link.Dispatch(ctx, color)
	if err != nil && ctx.Err() != nil {
		return errors.NewInterrupted(ctx.Err())
	}
	if l.Metrics != nil {
		l.Metrics.RecordDispatch(color, string(l.Link.Mode()), time.Since(start), err)
	}
	if err != nil {
		l.Log.WithError(err).WithField("bin", color).Error("dispatch failed")
		fmt.Fprintf(l.Out, "Sort command failed: %v\n", err)
	}
	return nil
}

func fatal(ctx context.Context, err error) bool {
	return stderrors.Is(err, io.EOF) ||
		ctx.Err() != nil ||
		errors.Is(err, errors.ErrInterrupted) ||
		stderrors.Is(err, context.Canceled)
}

func (l *Loop) printStats(ctx context.Context) {
	stats, err := l.Store.Stats(ctx, l.TopN)
	if err != nil {
		l.Log.WithError(err).Error("failed to read statistics")
		fmt.Fprintf(l.Out, "Statistics unavailable: %v\n", err)
		return
	}
	if err := report.Text(l.Out, stats); err != nil {
		l.Log.WithError(err).Warn("failed to write statistics")
	}
}

// Shutdown closes the link, then the store. Each close is attempted even if
// the other fails or panics.
func (l *Loop) Shutdown() error {
	fmt.Fprintln(l.Out, "\nClosing connections...")

	var errs []error
	if err := closeGuarded("actuator link", l.Link); err != nil {
		errs = append(errs, err)
	} else {
		fmt.Fprintln(l.Out, "  Actuator link closed")
	}
	if err := closeGuarded("classification store", l.Store); err != nil {
		errs = append(errs, err)
	} else {
		fmt.Fprintln(l.Out, "  Classification store closed")
	}

	for _, err := range errs {
		l.Log.WithError(err).Error("shutdown")
	}
	fmt.Fprintln(l.Out, "\nShutdown complete")
	return stderrors.Join(errs...)
}

func closeGuarded(name string, c io.Closer) (err error) {
	if c == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewInternal(fmt.Errorf("closing %s panicked: %v", name, r))
		}
	}()
	if err := c.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}
