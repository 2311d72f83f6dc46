package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/smartbin/smartbin/internal/actuator"
	"github.com/smartbin/smartbin/internal/config"
	"github.com/smartbin/smartbin/internal/console"
	"github.com/smartbin/smartbin/internal/control"
	"github.com/smartbin/smartbin/internal/errors"
	"github.com/smartbin/smartbin/internal/logging"
	"github.com/smartbin/smartbin/internal/mcp"
	"github.com/smartbin/smartbin/internal/metrics"
	"github.com/smartbin/smartbin/internal/report"
	"github.com/smartbin/smartbin/internal/resolve"
	"github.com/smartbin/smartbin/internal/store"
	"github.com/smartbin/smartbin/internal/web"
)

// newCLIApp creates the CLI application with all commands.
// With no command it runs the interactive control loop.
func newCLIApp(in io.Reader, out, errOut io.Writer) *cli.App {
	app := &cli.App{
		Name:      "smartbin",
		Usage:     "Manual waste-sorting controller",
		Version:   Version,
		Reader:    in,
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "home", EnvVars: []string{"SMARTBIN_HOME"}, Usage: "Directory holding config.yaml and the store (default: ~/.smartbin)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("unknown command %q, run 'smartbin --help' for usage", c.Args().First())))
			}
			return runSession(c)
		},
		Commands: []*cli.Command{
			runCmd(),
			statsCmd(),
			listCmd(),
			lookupCmd(),
			exportCmd(),
			importCmd(),
			portsCmd(),
			serveCmd(),
			mcpCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// runCmd creates the run command.
func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Sort items typed on stdin (default command)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "port", Usage: "Serial device of the actuator"},
			&cli.IntFlag{Name: "baud", Usage: "Serial baud rate"},
			&cli.StringFlag{Name: "db", Usage: "Classification store file"},
			&cli.BoolFlag{Name: "simulate", Usage: "Do not open the serial device"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Expose Prometheus metrics on this address (e.g. 127.0.0.1:9420)"},
		},
		Action: runSession,
	}
}

// runSession wires the actuator link, store and operator console into the control loop.
func runSession(c *cli.Context) error {
	cfg, home, err := loadConfig(c)
	if err != nil {
		return outputError(err)
	}
	if c.IsSet("port") {
		cfg.SerialPort = c.String("port")
	}
	if c.IsSet("baud") {
		cfg.BaudRate = c.Int("baud")
	}
	if c.IsSet("db") {
		cfg.DBPath = config.ResolveDBPath(home, c.String("db"))
	}
	if c.Bool("simulate") {
		cfg.Simulate = true
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}
	if err := cfg.Validate(); err != nil {
		return outputError(errors.NewInvalidRequest(err.Error()))
	}

	logger, err := newLogger(c, cfg)
	if err != nil {
		return outputError(err)
	}
	log := logger.WithField("session", ulid.Make().String())

	ctx := c.Context
	link := actuator.Connect(ctx, actuator.Settings{
		Port:            cfg.SerialPort,
		BaudRate:        cfg.BaudRate,
		Timeout:         cfg.SerialTimeout,
		SettleDelay:     cfg.SettleDelay,
		SortDuration:    cfg.SortDuration,
		SimulationDelay: cfg.SimulationDelay,
		Simulate:        cfg.Simulate,
	}, actuator.WithLogger(log))

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		if cerr := link.Close(); cerr != nil {
			log.WithError(cerr).Error("close actuator link")
		}
		return outputError(err)
	}
	log.WithField("db", st.Path()).Info("classification store opened")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	stopMetrics := serveMetrics(ctx, cfg.MetricsAddr, reg, log)
	defer stopMetrics()

	operator := console.New(c.App.Reader, c.App.Writer)
	loop := &control.Loop{
		Input: operator,
		Resolver: resolve.NewPolicy(st, operator,
			resolve.WithLogger(log),
			resolve.WithObserver(func(o resolve.Outcome) { m.RecordResolution(string(o)) }),
		),
		Link:    link,
		Store:   st,
		Out:     c.App.Writer,
		Log:     log,
		Metrics: m,
		TopN:    cfg.StatsTopN,
	}

	if err := loop.Run(ctx); err != nil {
		return outputError(err)
	}
	return nil
}

// serveMetrics exposes reg on addr until the returned stop function is called.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log logrus.FieldLogger) func() {
	if addr == "" {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := web.Run(ctx, srv, log); err != nil {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

// statsCmd creates the stats command.
func statsCmd() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show classification statistics",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "top", Usage: "Length of the most-sorted ranking (default from config)"},
			&cli.BoolFlag{Name: "json", Usage: "Output JSON"},
		},
		Action: func(c *cli.Context) error {
			st, cfg, err := openStore(c)
			if err != nil {
				return outputError(err)
			}
			defer st.Close()

			top := cfg.StatsTopN
			if c.IsSet("top") {
				top = c.Int("top")
			}
			if top < 0 {
				return outputError(errors.NewInvalidRequest("top must not be negative"))
			}

			stats, err := st.Stats(c.Context, top)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(c, stats)
			}
			return report.Text(c.App.Writer, stats)
		},
	}
}

// listCmd creates the list command.
func listCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List learned classifications",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bin", Aliases: []string{"b"}, Usage: "Filter by bin color"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: store.DefaultListLimit, Usage: "Maximum results"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Skip first N results"},
		},
		Action: func(c *cli.Context) error {
			st, _, err := openStore(c)
			if err != nil {
				return outputError(err)
			}
			defer st.Close()

			output, err := st.List(c.Context, store.ListInput{
				Bin:    c.String("bin"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// lookupCmd creates the lookup command.
func lookupCmd() *cli.Command {
	return &cli.Command{
		Name:      "lookup",
		Usage:     "Show the bin learned for an item (does not count as a sort)",
		ArgsUsage: "<item label>",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("item label is required"))
			}
			label := c.Args().First()

			st, _, err := openStore(c)
			if err != nil {
				return outputError(err)
			}
			defer st.Close()

			rec, err := st.Lookup(c.Context, label)
			if err != nil {
				return outputError(err)
			}
			if rec == nil {
				return outputError(errors.NewNotFound(label))
			}
			return outputJSON(c, rec)
		},
	}
}

// exportCmd creates the export command.
func exportCmd() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export classifications to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: <home>/exports/classifications-<timestamp>.jsonl)"},
		},
		Action: func(c *cli.Context) error {
			st, _, err := openStore(c)
			if err != nil {
				return outputError(err)
			}
			defer st.Close()

			path := c.String("path")
			if path == "" {
				home, err := homeDir(c)
				if err != nil {
					return outputError(err)
				}
				path = store.DefaultExportPath(filepath.Join(home, "exports"), time.Now())
			}

			output, err := st.ExportFile(c.Context, path)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// importCmd creates the import command.
func importCmd() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import classifications from a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Import file path"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "Collision mode: error|replace"},
		},
		Action: func(c *cli.Context) error {
			st, _, err := openStore(c)
			if err != nil {
				return outputError(err)
			}
			defer st.Close()

			output, err := st.ImportFile(c.Context, c.String("path"), store.ImportMode(c.String("mode")))
			if err != nil {
				return outputError(err)
			}
			if err := outputJSON(c, output); err != nil {
				return err
			}
			if output.Imported == 0 && len(output.Errors) > 0 {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("%d invalid lines, nothing imported", len(output.Errors))))
			}
			return nil
		},
	}
}

// portsCmd creates the ports command.
func portsCmd() *cli.Command {
	return &cli.Command{
		Name:  "ports",
		Usage: "List serial ports the actuator could be attached to",
		Action: func(c *cli.Context) error {
			ports, err := actuator.ListPorts()
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, map[string]any{"ports": ports})
		},
	}
}

// serveCmd creates the serve command.
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the read-only statistics dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Bind address (default from config: 127.0.0.1)"},
			&cli.IntFlag{Name: "port", Usage: "Listen port (default from config: 8420)"},
		},
		Action: func(c *cli.Context) error {
			st, cfg, err := openStore(c)
			if err != nil {
				return outputError(err)
			}
			defer st.Close()

			if c.IsSet("bind") {
				cfg.WebBind = c.String("bind")
			}
			if c.IsSet("port") {
				cfg.WebPort = c.Int("port")
			}

			log, err := newLogger(c, cfg)
			if err != nil {
				return outputError(err)
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(metrics.NewStoreCollector(st, log))

			srv := web.NewServer(st, web.Options{
				Version:  Version,
				Bind:     cfg.WebBind,
				Port:     cfg.WebPort,
				TopN:     cfg.StatsTopN,
				Gatherer: reg,
				Log:      log,
			})
			if err := web.Run(c.Context, srv, log); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve store tools over MCP (stdio)",
		Action: func(c *cli.Context) error {
			st, cfg, err := openStore(c)
			if err != nil {
				return outputError(err)
			}
			defer st.Close()

			log, err := newLogger(c, cfg)
			if err != nil {
				return outputError(err)
			}
			if err := mcp.Run(st, cfg, Version, log); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

// homeDir returns the smartbin home directory.
func homeDir(c *cli.Context) (string, error) {
	if home := c.String("home"); home != "" {
		return home, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("could not determine home directory: %w", err))
	}
	return filepath.Join(userHome, ".smartbin"), nil
}

// loadConfig loads the configuration from the home directory.
func loadConfig(c *cli.Context) (*config.Config, string, error) {
	home, err := homeDir(c)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(home)
	if err != nil {
		return nil, "", errors.NewInvalidRequest(fmt.Sprintf("config: %v", err))
	}
	return cfg, home, nil
}

// openStore loads the configuration and opens the classification store.
func openStore(c *cli.Context) (*store.Store, *config.Config, error) {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return st, cfg, nil
}

// newLogger builds the diagnostic logger; logs go to stderr, never to the operator stream.
func newLogger(c *cli.Context, cfg *config.Config) (*logrus.Logger, error) {
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, c.App.ErrWriter)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return log, nil
}

// outputJSON marshals result to the app writer as JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if sErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
