// Package actuator drives the sorting hardware over a serial line.
//
// The wire protocol is one ASCII line per item, "<color>\n". The device sends
// no acknowledgement; a command is considered complete after a fixed delay.
package actuator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/smartbin/smartbin/internal/bin"
	"github.com/smartbin/smartbin/internal/errors"
)

// Settings describes the serial device and the protocol timings.
type Settings struct {
	Port            string
	BaudRate        int
	Timeout         time.Duration // serial read timeout
	SettleDelay     time.Duration // wait after opening, while the board resets
	SortDuration    time.Duration // wait after each command for the mechanism
	SimulationDelay time.Duration // wait per item when simulating
	Simulate        bool          // never touch the device
}

// Mode is the fixed operating mode of a Link.
type Mode string

const (
	ModeConnected Mode = "connected"
	ModeSimulated Mode = "simulated"
)

// Port is an open serial device.
type Port interface {
	io.Writer
	io.Closer
}

// Opener opens the named serial device.
type Opener func(name string, baud int, timeout time.Duration) (Port, error)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// OpenSerial opens a real serial device with 8N1 framing.
func OpenSerial(name string, baud int, timeout time.Duration) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		if err := p.SetReadTimeout(timeout); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

// ListPorts enumerates the serial devices present on the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to list serial ports: %w", err))
	}
	if ports == nil {
		ports = []string{}
	}
	return ports, nil
}

// Sleep waits for d, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// session is either connected or simulated and is chosen once.
type session interface {
	mode() Mode
}

type connected struct {
	port Port
}

func (connected) mode() Mode { return ModeConnected }

type simulated struct {
	reason string
}

func (simulated) mode() Mode { return ModeSimulated }

// Option configures Connect.
type Option func(*Link)

// WithOpener replaces the serial opener.
func WithOpener(open Opener) Option {
	return func(l *Link) {
		l.open = open
	}
}

// WithSleeper replaces the wait function.
func WithSleeper(sleep Sleeper) Option {
	return func(l *Link) {
		l.sleep = sleep
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Link) {
		l.log = log
	}
}

// Link is the session with the actuator. Its mode never changes after Connect.
type Link struct {
	settings Settings
	session  session
	open     Opener
	sleep    Sleeper
	log      logrus.FieldLogger

	closeOnce sync.Once
	closeErr  error
}

// Connect opens the actuator described by settings. It never fails: when the
// device cannot be opened the link falls back to simulation and logs why.
func Connect(ctx context.Context, settings Settings, opts ...Option) *Link {
	l := &Link{
		settings: settings,
		open:     OpenSerial,
		sleep:    Sleep,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if settings.Simulate {
		l.session = simulated{reason: "simulation requested"}
		l.log.Info("actuator simulation requested; serial device not opened")
		return l
	}

	port, err := l.open(settings.Port, settings.BaudRate, settings.Timeout)
	if err != nil {
		unavailable := errors.NewActuatorUnavailable(settings.Port, err)
		l.session = simulated{reason: unavailable.Message}
		l.log.WithField("code", unavailable.Code).Warnf("%s; running in simulation mode", unavailable.Message)
		return l
	}

	l.session = connected{port: port}
	l.log.WithFields(logrus.Fields{
		"port": settings.Port,
		"baud": settings.BaudRate,
	}).Info("actuator connected")

	// The board resets when the port opens.
	if err := l.sleep(ctx, settings.SettleDelay); err != nil {
		l.log.WithError(err).Debug("settle wait interrupted")
	}
	return l
}

// Mode reports whether the link drives hardware or simulates it.
func (l *Link) Mode() Mode {
	return l.session.mode()
}

// Reason explains why a simulated link is simulating; empty when connected.
func (l *Link) Reason() string {
	if s, ok := l.session.(simulated); ok {
		return s.reason
	}
	return ""
}

// Dispatch routes one item to color and waits for the mechanism to finish.
// A failed write is reported as ACTUATOR_WRITE_FAILURE; the link stays usable.
func (l *Link) Dispatch(ctx context.Context, color bin.Color) error {
	if !color.Valid() {
		return errors.NewInvalidBinColor(string(color))
	}

	switch s := l.session.(type) {
	case connected:
		if _, err := io.WriteString(s.port, string(color)+"\n"); err != nil {
			return errors.NewActuatorWriteFailure(string(color), err)
		}
		l.log.WithField("bin", color).Info("sort command sent")
		return l.sleep(ctx, l.settings.SortDuration)

	case simulated:
		l.log.WithField("bin", color).Info("simulated sort")
		return l.sleep(ctx, l.settings.SimulationDelay)

	default:
		return errors.NewInternal(fmt.Errorf("unknown actuator session %T", s))
	}
}

// Close releases the serial device. It is safe to call more than once.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		if c, ok := l.session.(connected); ok {
			l.closeErr = c.port.Close()
			l.log.Info("actuator port closed")
		}
	})
	return l.closeErr
}
