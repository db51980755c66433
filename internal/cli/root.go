// Package cli implements the cobuild-inbox command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cobuilders/inbox/internal/config"
	"github.com/cobuilders/inbox/internal/logging"
	"github.com/spf13/cobra"
)

const closeTimeout = 15 * time.Second

// rootOptions carries persistent flags and the loaded configuration.
type rootOptions struct {
	configFile string
	dbPath     string
	viewer     string
	logLevel   string
	jsonOutput bool
	noColor    bool

	loader   *config.Loader
	cfg      *config.Config
	contexts *config.ContextStore
}

// Execute runs the CLI.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "cobuild-inbox",
		Short:         "Unified inbox for co-builder conversations",
		Long:          "cobuild-inbox lists, reads and sends messages across application and direct conversations.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default: ~/.config/cobuild/config.yaml)")
	flags.StringVar(&opts.dbPath, "db", "", "SQLite database path")
	flags.StringVar(&opts.viewer, "as", "", "act as this user (default: the user selected with 'use')")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "output JSON")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newUseCmd(opts),
		newWhoamiCmd(opts),
		newProfileCmd(opts),
		newApplicationCmd(opts),
		newInboxCmd(opts),
		newHistoryCmd(opts),
		newSendCmd(opts),
		newNoticesCmd(opts),
		newConfigCmd(opts),
	)

	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	o.loader = config.NewLoader()
	if o.configFile != "" {
		o.loader.SetConfigFile(o.configFile)
	}
	if o.dbPath != "" {
		o.loader.Set("database.path", o.dbPath)
	}
	if o.logLevel != "" {
		o.loader.Set("logging.level", o.logLevel)
	}

	cfg, err := o.loader.Load()
	if err != nil {
		return err
	}
	o.cfg = cfg

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cmd.ErrOrStderr(),
		EnableCaller: cfg.Logging.EnableCaller,
		NoColor:      o.noColor || os.Getenv("NO_COLOR") != "",
	})
	o.contexts = config.NewContextStore(cfg.ContextPath())
	return nil
}

// withApp opens the app, runs fn and closes the app, draining notifications.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := NewApp(ctx, o.cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if closeErr := app.Close(closeCtx); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return fn(ctx, app)
}

// resolveViewer returns --as, falling back to the saved context.
func (o *rootOptions) resolveViewer() (string, error) {
	if viewer := strings.TrimSpace(o.viewer); viewer != "" {
		return viewer, nil
	}
	saved, err := o.contexts.Load()
	if err != nil {
		return "", err
	}
	if saved.ViewerID == "" {
		return "", errors.New("no user selected: pass --as <user> or run 'cobuild-inbox use <user>'")
	}
	return saved.ViewerID, nil
}

func (o *rootOptions) palette(out io.Writer) palette {
	return newPalette(out, o.noColor)
}

func writeJSON(out io.Writer, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(payload))
	return err
}
