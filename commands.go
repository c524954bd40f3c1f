package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/jacokyle01/puzzle-miner/config"
	"github.com/jacokyle01/puzzle-miner/engine"
	"github.com/jacokyle01/puzzle-miner/extract"
	"github.com/jacokyle01/puzzle-miner/models"
	"github.com/jacokyle01/puzzle-miner/primaryserver"
	"github.com/jacokyle01/puzzle-miner/store"
	"github.com/jacokyle01/puzzle-miner/worker"
)

func (a *app) schedulerOptions() engine.SchedulerOptions {
	return engine.SchedulerOptions{Throttle: a.cfg.EngineThrottle, Watchdog: a.cfg.EngineWatchdog}
}

func newServerCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "server [port]",
		Short: "Run the job server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port := a.cfg.Port
			if len(args) == 1 {
				p, err := strconv.Atoi(args[0])
				if err != nil || p <= 0 || p > 65535 {
					return fmt.Errorf("invalid port %q", args[0])
				}
				port = p
			}

			st, err := store.Open(a.cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			srv := primaryserver.NewServer(st, primaryserver.Options{
				QueueSize:           a.cfg.QueueSize,
				MaxRequestBodyBytes: a.cfg.MaxRequestBodyBytes,
				LeaseTimeout:        a.cfg.JobLease,
			}, a.logger)
			if err := srv.Restore(cmd.Context()); err != nil {
				return err
			}
			return srv.StartServer(cmd.Context(), fmt.Sprintf(":%d", port), a.cfg.ReadTimeout, a.cfg.WriteTimeout)
		},
	}
}

func newWorkerCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker [server_url] [engine_path]",
		Short: "Pull extraction jobs from a server and run them",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverURL, enginePath := a.cfg.ServerURL, a.cfg.EnginePath
			if len(args) > 0 {
				serverURL = args[0]
			}
			if len(args) > 1 {
				enginePath = args[1]
			}
			base, err := a.cfg.ExtractOptions()
			if err != nil {
				return err
			}
			return a.runWorker(cmd.Context(), serverURL, enginePath, base)
		},
	}
}

// runWorker keeps one engine alive for the work loop, restarting it with
// backoff whenever it dies.
func (a *app) runWorker(ctx context.Context, serverURL, enginePath string, base extract.Options) error {
	restart := backoff.NewExponentialBackOff()
	restart.MaxElapsedTime = 0

	op := func() error {
		eng, err := worker.StartEngine(ctx, enginePath, a.schedulerOptions(), a.logger)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		defer eng.Close()

		x := extract.New(eng.Evaluator(), extract.WithLogger(a.logger))
		client := worker.NewClient(serverURL, x, worker.Options{
			Name:            a.cfg.WorkerName,
			Base:            base,
			PollInterval:    a.cfg.PollInterval,
			MaxPollInterval: a.cfg.MaxPollInterval,
		}, a.logger)

		err = client.WorkLoop(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		restart.Reset()
		return err
	}
	notify := func(err error, wait time.Duration) {
		a.logger.Error("engine unavailable, restarting", "err", err, "wait", wait)
	}
	return backoff.RetryNotify(op, backoff.WithContext(restart, ctx), notify)
}

func newExtractCommand(a *app) *cobra.Command {
	var (
		user     string
		provider string
		out      string
		analysis bool
		options  string
	)
	cmd := &cobra.Command{
		Use:   "extract <file.pgn>",
		Short: "Extract puzzles from a PGN file with a local engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			if options == "" {
				options = a.cfg.OptionsFile
			}
			opts, err := loadOptions(options)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("analysis") {
				opts.IncludeAnalysis = analysis
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			games, err := extract.GamesFromPGN(f, provider)
			f.Close()
			if err != nil {
				return err
			}

			eng, err := worker.StartEngine(cmd.Context(), a.cfg.EnginePath, a.schedulerOptions(), a.logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			x := extract.New(eng.Evaluator(), extract.WithLogger(a.logger))
			res, err := x.Extract(cmd.Context(), games, models.Identity{provider: user}, opts, nil)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			return writeResult(w, res)
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "account name whose mistakes become puzzles")
	cmd.Flags().StringVar(&provider, "provider", "pgn", "provider the account name belongs to")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write JSON here instead of stdout")
	cmd.Flags().BoolVar(&analysis, "analysis", false, "include per-move analysis")
	cmd.Flags().StringVar(&options, "options", "", "YAML file of extraction thresholds")
	return cmd
}

func loadOptions(path string) (extract.Options, error) {
	return config.LoadExtractOptions(path, extract.DefaultOptions())
}

func writeResult(w io.Writer, res extract.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Puzzles  []models.Puzzle       `json:"puzzles"`
		Analyses []models.GameAnalysis `json:"analyses,omitempty"`
		Skipped  []models.SkippedGame  `json:"skipped,omitempty"`
	}{res.Puzzles, res.Analyses, res.Skipped})
}
