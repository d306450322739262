package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dgnsrekt/cdpgrab/internal/api"
	"github.com/dgnsrekt/cdpgrab/internal/cdp"
	"github.com/dgnsrekt/cdpgrab/internal/config"
	"github.com/dgnsrekt/cdpgrab/internal/netutil"
	"github.com/dgnsrekt/cdpgrab/internal/snapshot"
	"github.com/dgnsrekt/cdpgrab/internal/workflow"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultServeLogFile = "logs/cdpgrab_serve.log"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}

	code := run(ctx, os.Args[1:], cfg, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one CLI invocation and returns the process exit code.
func run(ctx context.Context, args []string, cfg *config.Config, stdout, stderr io.Writer) int {
	a := &app{cfg: cfg, stdout: stdout, stderr: stderr}
	defer a.closeLog()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type app struct {
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer

	logFile *lumberjack.Logger
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cdpgrab",
		Short: "Capture HTML and screenshots from pages of a running browser",
		Long: `cdpgrab attaches to a browser that exposes the Chrome DevTools Protocol,
picks a page whose URL contains a keyword and saves its rendered HTML or a
full-page PNG screenshot.

The debugging host defaults to 172.30.0.1:9222 and can be changed with
CDP_HOST / CDP_PORT or --host / --port.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.cfg.CDPHost, "host", a.cfg.CDPHost, "debugging host")
	root.PersistentFlags().IntVar(&a.cfg.CDPPort, "port", a.cfg.CDPPort, "debugging port")
	root.PersistentFlags().StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level (debug|info|warn|error)")

	root.AddCommand(a.fetchHTMLCmd(), a.captureScreenshotCmd(), a.targetsCmd(), a.serveCmd())
	return root
}

func (a *app) fetchHTMLCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "fetch-html <keyword>",
		Short: "Save the rendered HTML of the first page whose URL contains keyword",
		Args:  requireKeyword("fetch-html"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setupLogger(""); err != nil {
				return err
			}
			r := workflow.NewRunner(a.cfg, nil, a.stdout)
			_, err := r.FetchHTML(cmd.Context(), workflow.Request{Keyword: args[0], Output: output})
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default "+a.cfg.HTMLOutput+")")
	return cmd
}

func (a *app) captureScreenshotCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "capture-screenshot <keyword>",
		Short: "Save a full-page PNG of the first page whose URL contains keyword",
		Args:  requireKeyword("capture-screenshot"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setupLogger(""); err != nil {
				return err
			}
			r := workflow.NewRunner(a.cfg, nil, a.stdout)
			_, err := r.CaptureScreenshot(cmd.Context(), workflow.Request{Keyword: args[0], Output: output})
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default "+a.cfg.ScreenshotOutput+")")
	return cmd
}

func (a *app) targetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List debuggable targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setupLogger(""); err != nil {
				return err
			}
			targets, err := workflow.NewRunner(a.cfg, nil, nil).Targets(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range targets {
				_, _ = fmt.Fprintln(a.stdout, t.String())
			}
			return nil
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP capture API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setupLogger(defaultServeLogFile); err != nil {
				return err
			}
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	slog.Info("serve config loaded",
		"cdp_url", cfg.CDPURL(),
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"capture_dir", cfg.CaptureDir,
		"call_timeout_ms", cfg.CallTimeoutMS,
		"log_level", cfg.LogLevel,
	)

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		return fmt.Errorf("select bind address: %w", err)
	}
	addr := ln.Addr().String()

	store, err := snapshot.NewStore(cfg.CaptureDir)
	if err != nil {
		_ = ln.Close()
		return err
	}
	runner := workflow.NewRunner(cfg, nil, nil)
	srv := &http.Server{
		Handler:           api.NewServer(runner, store),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("api shutdown failed", "error", err)
			return err
		}
		slog.Info("api stopped", "addr", addr)
		return nil
	})
	return g.Wait()
}

func requireKeyword(name string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
			return cdp.NewError(cdp.CodeValidation, "usage: cdpgrab "+name+" <keyword> [-o path]", nil)
		}
		return nil
	}
}

// setupLogger installs the default slog logger. Records go to stderr and, when
// a log file is configured, to a rotating file as well.
func (a *app) setupLogger(defaultFile string) error {
	filename := a.cfg.LogFile
	if filename == "" {
		filename = defaultFile
	}

	var w io.Writer = a.stderr
	if filename != "" {
		if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
			return err
		}
		a.logFile = &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    25,
			MaxBackups: 10,
			MaxAge:     14,
			Compress:   true,
		}
		w = io.MultiWriter(a.stderr, a.logFile)
	}

	var slogLevel slog.Level
	switch a.cfg.LogLevel {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}

func (a *app) closeLog() {
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
