package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/formentry/internal/config"
	"github.com/ehr/formentry/internal/form/document"
	"github.com/ehr/formentry/internal/form/submission"
	"github.com/ehr/formentry/internal/form/validation"
	"github.com/ehr/formentry/internal/platform/logging"
	"github.com/ehr/formentry/internal/platform/middleware"
	"github.com/ehr/formentry/internal/platform/notify"
	"github.com/ehr/formentry/internal/platform/taskpane"
	"github.com/ehr/formentry/internal/session"
)

// errNotClosable makes submit exit non-zero when the form may not be closed.
var errNotClosable = errors.New("form was not submitted")

// pickers accepted by the url command.
var pickers = map[string]bool{
	"diagnosis":    true,
	"provider":     true,
	"tribe":        true,
	"location":     true,
	"answer":       true,
	"relationship": true,
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "formentry",
		Short:         "OpenMRS form entry client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(urlCmd())
	rootCmd.AddCommand(sessionCmd())

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errNotClosable) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// app carries what every command needs.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	schema   *validation.Schema
	notifier notify.Notifier
	close    func() error
}

func newApp(stderr io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, closeLog := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Console: cfg.IsDev(),
		File:    cfg.LogFile,
		Out:     stderr,
	})

	schema := validation.DefaultSchema()
	if cfg.SchemaFile != "" {
		schema, err = validation.LoadSchema(cfg.SchemaFile)
		if err != nil {
			closeLog()
			return nil, err
		}
		logger.Debug().Str("file", cfg.SchemaFile).Msg("schema loaded")
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		schema:   schema,
		notifier: notify.NewLogNotifier(notify.NewWriterNotifier(stderr), logger),
		close:    closeLog,
	}, nil
}

func (a *app) openSession(doc *document.Document, submitURL string, panel *taskpane.Hub, out io.Writer) *session.Session {
	opts := session.Options{
		TaskpaneURL: a.cfg.TaskpaneURL(),
		SubmitURL:   submitURL,
		Validator:   a.schema,
		Dialer:      submission.NewHTTPDialer(submission.WithTimeout(a.cfg.SubmitTimeout)),
		Notifier:    a.notifier,
		Logger:      a.logger,
		Out:         out,
	}
	if panel != nil {
		opts.Panel = panel
	} else {
		opts.Panel = taskpane.NewWriterPanel(out)
	}
	return session.New(doc, opts)
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a form document against the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			doc, err := document.ParseFile(args[0])
			if err != nil {
				return err
			}
			res := a.schema.Validate(doc)
			if res.OK {
				fmt.Fprintln(cmd.OutOrStdout(), "valid")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), res.Detail)
			return fmt.Errorf("validation failed with code %d", res.Code)
		},
	}
}

func submitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Validate a form document and upload it to the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			doc, err := document.ParseFile(args[0])
			if err != nil {
				return err
			}
			submitURL, _ := cmd.Flags().GetString("url")
			if submitURL == "" {
				submitURL = a.cfg.SubmitURL()
			}

			s := a.openSession(doc, submitURL, nil, cmd.OutOrStdout())
			out := s.Submit(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), out.String())
			if !s.MayClose() {
				return errNotClosable
			}
			return nil
		},
	}
	cmd.Flags().String("url", "", "Upload endpoint (defaults to the SERVER_URL form upload servlet)")
	return cmd
}

func urlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "url PICKER [ARGS...]",
		Short: "Print the task pane URL for a picker",
		Long: "Print the task pane URL for a picker: diagnosis add|remove, provider, tribe,\n" +
			"location [PATH], answer PATH, relationship. answer and relationship read --form.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !pickers[args[0]] {
				return fmt.Errorf("unknown picker %q", args[0])
			}
			a, err := newApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			doc, err := document.ParseString("<form/>")
			if formFile, _ := cmd.Flags().GetString("form"); formFile != "" {
				doc, err = document.ParseFile(formFile)
			}
			if err != nil {
				return err
			}

			s := a.openSession(doc, "", nil, cmd.OutOrStdout())
			_, err = s.Exec(cmd.Context(), strings.Join(args, " "))
			return err
		},
	}
	cmd.Flags().String("form", "", "Form document used to resolve concept and patient ids")
	return cmd
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session FILE",
		Short: "Open a form, serve the task pane bridge and read editing commands from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			doc, err := document.ParseFile(args[0])
			if err != nil {
				return err
			}
			strict, _ := cmd.Flags().GetBool("strict-pane")
			return runSession(cmd.Context(), a, doc, strict, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().Bool("strict-pane", false, "Fail picker commands while no task pane is connected")
	return cmd
}

// newPaneHub builds the hub panel. A strict hub rejects navigation while no
// pane is connected instead of only recording it for the next pane.
func newPaneHub(logger zerolog.Logger, strict bool) *taskpane.Hub {
	if strict {
		return taskpane.NewHub(logger, taskpane.WithStrict())
	}
	return taskpane.NewHub(logger)
}

func runSession(parent context.Context, a *app, doc *document.Document, strict bool, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newPaneHub(a.logger, strict)
	s := a.openSession(doc, a.cfg.SubmitURL(), hub, out)

	e := newBridge(a.logger, taskpane.NewHandler(hub, s.Apply))
	go func() {
		a.logger.Info().Str("addr", a.cfg.TaskpaneAddr).Msg("starting task pane bridge")
		if err := e.Start(a.cfg.TaskpaneAddr); err != nil && err != http.ErrServerClosed {
			a.logger.Error().Err(err).Msg("task pane bridge error")
		}
	}()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, in) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		a.logger.Info().Msg("interrupted")
	}

	a.logger.Info().Msg("shutting down task pane bridge")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("task pane bridge shutdown failed")
	}

	if runErr == nil && !s.MayClose() {
		a.logger.Warn().Msg("session ended without a successful submission")
	}
	return runErr
}

// newBridge builds the Echo server that task pane pages talk to.
func newBridge(logger zerolog.Logger, h *taskpane.Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	h.RegisterRoutes(e.Group("/taskpane"))
	return e
}
