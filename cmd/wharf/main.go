package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ryanoboyle/wharf/internal/apperr"
	"github.com/ryanoboyle/wharf/internal/appconfig"
	"github.com/ryanoboyle/wharf/internal/ignore"
	"github.com/ryanoboyle/wharf/internal/model"
	"github.com/ryanoboyle/wharf/internal/profile"
	"github.com/ryanoboyle/wharf/internal/resolve"
	"github.com/ryanoboyle/wharf/internal/review"
	"github.com/ryanoboyle/wharf/internal/transfer"
	"github.com/ryanoboyle/wharf/internal/uploader"
	"github.com/ryanoboyle/wharf/internal/uploader/local"
	"github.com/ryanoboyle/wharf/internal/uploader/rsync"
	"github.com/ryanoboyle/wharf/internal/uploader/scp"
	"github.com/ryanoboyle/wharf/internal/uploader/sftp"
	"github.com/ryanoboyle/wharf/pkg/logging"
)

// Version information.
const Version = "0.1.0"

// Exit codes, per spec.md §6.
const (
	exitSuccess   = 0
	exitFailure   = 1
	exitCancelled = 2
)

var rootCmd = &cobra.Command{
	Use:   "wharf",
	Short: "Declarative file deployment across SFTP, SCP, rsync, and local targets",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}
		return appconfig.Init()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wharf version %s\n", Version)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the profiles defined in the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := appconfig.Get().ProfilePath
		names, err := profile.List(path)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROFILE")
		for _, n := range names {
			fmt.Fprintln(w, n)
		}
		return w.Flush()
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter profile configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := appconfig.Get().ProfilePath
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}

		if err := os.WriteFile(path, []byte(starterProfile), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}

		fmt.Printf("Wrote starter configuration to %s\n", path)
		return nil
	},
}

const starterProfile = `_global:
  ignore_groups:
    common:
      - .git/**
      - node_modules/**
  default_ignore:
    - common

example:
  from:
    type: file
    src:
      - "."
  to:
    defaults:
      protocol: sftp
      auth_type: ssh_key
      sync_mode: update
    targets:
      - host: example.com
        user: deploy
        dest: /var/www/example
`

var deployCmd = &cobra.Command{
	Use:   "deploy <profile>",
	Short: "Resolve, review, and transfer a profile's changed files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json")
		logLevel, _ := cmd.Flags().GetString("log-level")
		applyLogFlags(jsonLogs, logLevel)

		code, err := runDeploy(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, apperr.Sanitize(err))
		}
		if code != exitSuccess {
			os.Exit(code)
		}
		return nil
	},
}

func applyLogFlags(jsonLogs bool, level string) {
	cfg := appconfig.Get()
	if !jsonLogs {
		jsonLogs = cfg.LogFormat == "json"
	}

	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	if jsonLogs {
		logging.SetJSONHandler(lvl)
	} else {
		logging.SetTextHandler(lvl)
	}
}

// runDeploy wires resolution, the review server, and the transfer
// coordinator together for one profile, blocking until the review
// session ends (confirmed, cancelled, or the process receives a
// termination signal during the review phase).
func runDeploy(name string) (int, error) {
	cfg := appconfig.Get()

	p, err := profile.Load(cfg.ProfilePath, name)
	if err != nil {
		return exitFailure, err
	}

	matcher := ignore.New(nil)
	fs := afero.NewOsFs()

	ctx := context.Background()
	files, changeKinds, err := resolve.Resolve(ctx, fs, ".", p.Source, matcher)
	if err != nil {
		return exitFailure, err
	}

	factory := uploaderFactory(fs)
	state := review.NewServerState(files, p.Targets)
	state.SourceChangeKinds = changeKinds
	hub := review.NewHub()
	reaper := review.NewReaper(state, time.Duration(cfg.UploaderIdleTimeout)*time.Second)

	runner := func(ctx context.Context, targets []model.ResolvedTarget, files []model.UploadFile, diffs []*model.TargetDiff, onProgress func(review.ProgressMessage), onTargetDone func(string, bool)) (review.CompleteMessage, error) {
		return transfer.Run(ctx, transfer.Options{ParallelTargets: len(targets) > 1}, factory, targets, files, diffs, onProgress, onTargetDone)
	}

	core := review.NewCore(state, hub, factory, matcher, ".", p.Source.Type == "file", p.Source.Type, runner)
	server := review.NewServer(cfg.ReviewPort, core, hub, reaper)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	fmt.Printf("Review at http://localhost:%d — open in a browser to confirm or cancel\n", cfg.ReviewPort)

	select {
	case <-state.Abort.Done():
	case sig := <-sigCh:
		logging.Logger().Info("received signal, shutting down", logging.Operation(sig.String()))
		state.Cancelled = true
		state.Abort.Trip()
	case err := <-serverErr:
		if err != nil {
			return exitFailure, err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	switch {
	case state.Cancelled:
		return exitCancelled, nil
	case state.Complete != nil && state.Complete.FailedTargets > 0:
		return exitFailure, fmt.Errorf("%d target(s) failed", state.Complete.FailedTargets)
	default:
		return exitSuccess, nil
	}
}

// uploaderFactory dispatches on a target's protocol to build the
// matching transport handle.
func uploaderFactory(fs afero.Fs) review.UploaderFactory {
	return func(target model.ResolvedTarget) (uploader.Uploader, error) {
		switch target.Protocol {
		case model.ProtocolSFTP:
			return sftp.New(target), nil
		case model.ProtocolSCP:
			return scp.New(target), nil
		case model.ProtocolRsync:
			return rsync.New(target), nil
		case model.ProtocolLocal:
			return local.New(fs, target), nil
		default:
			return nil, apperr.New(apperr.ErrConfigValidation, nil, fmt.Sprintf("unknown protocol %q", target.Protocol))
		}
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(initCmd)

	deployCmd.Flags().Bool("json", false, "emit structured JSON logs instead of text")
	deployCmd.Flags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.AddCommand(deployCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFailure)
	}
}
