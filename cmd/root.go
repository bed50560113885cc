package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/andresmejia3/facebench/internal/logging"
	"github.com/andresmejia3/facebench/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Options holds the directory layout and backend configuration shared by every command
type Options struct {
	FramesRoot    string
	LabelsDir     string
	OutputRoot    string
	AnnotatedRoot string
	LogLevel      string
	LogJSON       bool
}

var (
	opts Options

	// Results is the result backend shared by subcommands (filesystem unless --db is set)
	Results store.ResultStore
	// DB is set when results live in PostgreSQL
	DB *store.Store
	// Log is the process logger
	Log *zap.Logger
	// dbURL is the connection string
	dbURL string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facebench",
	Short:   "Face detector benchmark over hand-coded video clips",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		resolveEnv(&opts)

		var err error
		Log, err = logging.New(opts.LogLevel, opts.LogJSON)
		if err != nil {
			return err
		}

		// Only build a connection string from the environment if the user asked for a
		// database in some way; the filesystem store is the default.
		if dbURL == "" {
			dbURL = postgresURLFromEnv()
		}
		if dbURL == "" {
			Results = store.NewFileStore(opts.OutputRoot)
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		Results = DB
		Log.Debug("using PostgreSQL result store")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if Results != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			Results.Close(context.Background())
		}
		if Log != nil {
			_ = Log.Sync()
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.FramesRoot, "frames", "", "Directory of per-clip frame folders (env FACEBENCH_FRAMES, default ./frames)")
	pf.StringVar(&opts.LabelsDir, "labels", "", "Directory of <clip>_hcode.txt annotation files (env FACEBENCH_LABELS, default ./hand_coding)")
	pf.StringVar(&opts.OutputRoot, "output", "", "Directory for results, reports and timing log (env FACEBENCH_OUTPUT, default ./output)")
	pf.StringVar(&opts.AnnotatedRoot, "annotated", "", "Directory for annotated frames (env FACEBENCH_ANNOTATED, default ./annotated)")
	pf.StringVar(&dbURL, "db", "", "PostgreSQL connection string; results are stored on disk when unset")
	pf.StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.BoolVar(&opts.LogJSON, "log-json", false, "Emit JSON logs")
}

// resolveEnv fills unset directory flags from the environment, then from defaults.
func resolveEnv(o *Options) {
	fill := func(v *string, env, def string) {
		if *v != "" {
			return
		}
		if e := os.Getenv(env); e != "" {
			*v = e
			return
		}
		*v = def
	}
	fill(&o.FramesRoot, "FACEBENCH_FRAMES", "frames")
	fill(&o.LabelsDir, "FACEBENCH_LABELS", "hand_coding")
	fill(&o.OutputRoot, "FACEBENCH_OUTPUT", "output")
	fill(&o.AnnotatedRoot, "FACEBENCH_ANNOTATED", "annotated")
}

// postgresURLFromEnv builds a connection string from POSTGRES_* variables, or returns ""
// when POSTGRES_HOST is unset.
func postgresURLFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

func timingLogPath() string {
	return filepath.Join(opts.OutputRoot, "time.txt")
}
