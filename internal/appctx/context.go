// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strconv"

	"github.com/stockdesk/stockdesk-cli/internal/api"
	"github.com/stockdesk/stockdesk-cli/internal/config"
	"github.com/stockdesk/stockdesk-cli/internal/output"
	"github.com/stockdesk/stockdesk-cli/internal/session"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config    *config.Config
	Store     *session.Store
	Session   *session.Manager
	Scheduler *session.Scheduler
	API       *api.Client
	Output    *output.Writer
	Logger    *slog.Logger

	// Flags holds the global flag values
	Flags GlobalFlags
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	JSON  bool
	Quiet bool

	BaseURL string

	Verbose int // 0=off, >0 enables debug logging (stacks with -v -v or -vv)
}

// NewApp creates a new App with the given configuration. The session manager
// and the API client share one HTTP client so the refresh cookie set by the
// server rides along on every request.
func NewApp(cfg *config.Config) (*App, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{
		Jar:     jar,
		Timeout: cfg.RequestTimeout,
	}

	logger := newLogger(cfg.Verbose)

	store := session.NewStore()
	artifacts := session.NewArtifactStore(cfg.ConfigDir)
	sess := session.NewManager(store, artifacts, session.Options{
		BaseURL:     cfg.BaseURL,
		LoginPath:   cfg.LoginPath,
		RefreshPath: cfg.RefreshPath,
		LogoutPath:  cfg.LogoutPath,
		HTTPClient:  httpClient,
		Logger:      logger,
	})

	scheduler := session.NewScheduler(store, sess,
		session.WithLead(cfg.RefreshLead),
		session.WithSchedulerLogger(logger),
	)

	apiClient := api.NewClient(cfg.BaseURL, sess, httpClient, logger)

	format := output.FormatJSON
	if cfg.Format == "quiet" {
		format = output.FormatQuiet
	}

	return &App{
		Config:    cfg,
		Store:     store,
		Session:   sess,
		Scheduler: scheduler,
		API:       apiClient,
		Output:    output.New(output.Options{Format: format, Writer: os.Stdout}),
		Logger:    logger,
	}, nil
}

// ApplyFlags applies global flag values to the app configuration.
func (a *App) ApplyFlags() {
	if a.Flags.Quiet {
		a.Output = output.New(output.Options{
			Format: output.FormatQuiet,
			Writer: os.Stdout,
		})
	} else if a.Flags.JSON {
		a.Output = output.New(output.Options{
			Format: output.FormatJSON,
			Writer: os.Stdout,
		})
	}

	// STOCKDESK_DEBUG can raise verbosity without touching flags.
	verboseLevel := a.Flags.Verbose
	if debugEnv := os.Getenv("STOCKDESK_DEBUG"); debugEnv != "" {
		if level, err := strconv.Atoi(debugEnv); err == nil {
			if level > verboseLevel {
				verboseLevel = level
			}
		} else if debugEnv == "true" {
			verboseLevel = 1
		}
	}

	if verboseLevel > a.Config.Verbose {
		a.Logger = newLogger(verboseLevel)
	}
}

// Close releases background resources. Safe to call more than once.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Close()
	}
}

func newLogger(verbose int) *slog.Logger {
	level := slog.LevelWarn
	if verbose > 0 {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// WithApp returns a new context with the app attached.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context, or nil.
func FromContext(ctx context.Context) *App {
	if app, ok := ctx.Value(appKey).(*App); ok {
		return app
	}
	return nil
}
