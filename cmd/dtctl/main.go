package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/linklab/link-decision-transformer/internal/logging"
	"github.com/linklab/link-decision-transformer/internal/policy"
	"github.com/linklab/link-decision-transformer/internal/score"
	"github.com/linklab/link-decision-transformer/internal/storage"
	"github.com/linklab/link-decision-transformer/pkg/dt"
)

const (
	defaultStoreKind = storage.KindSQLite
	defaultDBPath    = "dt.db"
	runsDir          = "runs"
	exportsDir       = "exports"
)

func main() {
	if err := run(context.Background(), os.Args, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globals are the root flags shared by every subcommand.
type globals struct {
	storeKind   string
	storeTarget string
	runsDir     string
	exportsDir  string
	logLevel    string
	logFormat   string

	out io.Writer
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	g := &globals{out: stdout}
	cmd := &cli.Command{
		Name:   "dtctl",
		Usage:  "prepare decision-transformer datasets and evaluate policies",
		Writer: stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "store",
				Usage:       "store backend: memory|sqlite|redis",
				Value:       defaultStoreKind,
				Destination: &g.storeKind,
				Sources:     cli.EnvVars("DT_STORE"),
			},
			&cli.StringFlag{
				Name:        "store-target",
				Usage:       "sqlite path or redis address",
				Value:       defaultDBPath,
				Destination: &g.storeTarget,
				Sources:     cli.EnvVars("DT_STORE_TARGET"),
			},
			&cli.StringFlag{
				Name:        "runs-dir",
				Value:       runsDir,
				Destination: &g.runsDir,
				Sources:     cli.EnvVars("DT_RUNS_DIR"),
			},
			&cli.StringFlag{
				Name:        "exports-dir",
				Value:       exportsDir,
				Destination: &g.exportsDir,
				Sources:     cli.EnvVars("DT_EXPORTS_DIR"),
			},
			&cli.StringFlag{
				Name:        "log-level",
				Value:       "info",
				Destination: &g.logLevel,
				Sources:     cli.EnvVars("DT_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "console|json",
				Value:       logging.FormatConsole,
				Destination: &g.logFormat,
				Sources:     cli.EnvVars("DT_LOG_FORMAT"),
			},
		},
		Commands: []*cli.Command{
			createImportCli(g),
			createStatsCli(g),
			createSampleCli(g),
			createEvaluateCli(g),
			createScoreCli(g),
			createRunsCli(g),
			createShowCli(g),
			createExportCli(g),
		},
	}
	return cmd.Run(ctx, args)
}

// open builds the logger and client for one subcommand invocation.
func (g *globals) open(ctx context.Context, extra ...func(*dt.Options)) (context.Context, *dt.Client, error) {
	logger, err := logging.New(g.logLevel, g.logFormat)
	if err != nil {
		return ctx, nil, err
	}
	ctx = logger.WithContext(ctx)

	target := g.storeTarget
	if g.storeKind == storage.KindMemory {
		target = ""
	}
	opts := dt.Options{
		StoreKind:   g.storeKind,
		StoreTarget: target,
		RunsDir:     g.runsDir,
		ExportsDir:  g.exportsDir,
	}
	for _, fn := range extra {
		fn(&opts)
	}
	client, err := dt.New(opts)
	if err != nil {
		return ctx, nil, err
	}
	if err := client.Init(ctx); err != nil {
		_ = client.Close()
		return ctx, nil, err
	}
	return ctx, client, nil
}

func createImportCli(g *globals) *cli.Command {
	name := ""
	file := ""
	format := ""
	action := func(ctx context.Context, _ *cli.Command) error {
		ctx, client, err := g.open(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}
		ext := filepath.Ext(info.Name())
		if name == "" {
			name = strings.TrimSuffix(info.Name(), ext)
		}
		if format == "" {
			format = dt.FormatJSON
			if strings.EqualFold(ext, ".csv") {
				format = dt.FormatStepLog
			}
		}

		summary, err := client.ImportDataset(ctx, dt.ImportRequest{Name: name, Source: f, Format: format})
		if err != nil {
			return err
		}
		fmt.Fprintf(g.out, "imported dataset=%s size=%s trajectories=%s steps=%s\n",
			summary.Name,
			humanize.Bytes(uint64(info.Size())),
			humanize.Comma(int64(summary.Trajectories)),
			humanize.Comma(int64(summary.TotalSteps)),
		)
		return nil
	}
	return &cli.Command{
		Name:  "import",
		Usage: "validate a trajectory file and persist it with its state statistics",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "dataset name (defaults to the file name)", Destination: &name},
			&cli.StringFlag{Name: "file", Destination: &file, Required: true},
			&cli.StringFlag{Name: "format", Usage: "json|csv (defaults to the file extension)", Destination: &format},
		},
		Action: action,
	}
}

func createStatsCli(g *globals) *cli.Command {
	name := ""
	action := func(ctx context.Context, _ *cli.Command) error {
		ctx, client, err := g.open(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		summary, st, err := client.DatasetSummary(ctx, name)
		if err != nil {
			return err
		}
		w := g.out
		fmt.Fprintf(w, "dataset=%s trajectories=%s steps=%s\n",
			summary.Name, humanize.Comma(int64(summary.Trajectories)), humanize.Comma(int64(summary.TotalSteps)))
		fmt.Fprintf(w, "len min=%d max=%d state_dim=%d action_dim=%d\n",
			summary.MinLen, summary.MaxLen, summary.StateDim, summary.ActionDim)
		for i := range st.Mean {
			fmt.Fprintf(w, "feature=%d mean=%.6f std=%.6f\n", i, st.Mean[i], st.Std[i])
		}
		return nil
	}
	return &cli.Command{
		Name:  "stats",
		Usage: "print the summary and state statistics of a stored dataset",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Destination: &name, Required: true},
		},
		Action: action,
	}
}

func createSampleCli(g *globals) *cli.Command {
	req := dt.SampleRequest{}
	contextLen := int64(20)
	batch := int64(1)
	workers := int64(1)
	action := func(ctx context.Context, _ *cli.Command) error {
		ctx, client, err := g.open(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		req.ContextLen = int(contextLen)
		req.BatchSize = int(batch)
		req.Workers = int(workers)
		windows, err := client.SampleWindows(ctx, req)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(g.out)
		for _, w := range windows {
			if err := enc.Encode(w); err != nil {
				return err
			}
		}
		return nil
	}
	return &cli.Command{
		Name:  "sample",
		Usage: "draw fixed-length training windows as JSON lines",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dataset", Destination: &req.Dataset, Required: true},
			&cli.IntFlag{Name: "context-len", Value: contextLen, Destination: &contextLen},
			&cli.IntFlag{Name: "batch", Value: batch, Destination: &batch},
			&cli.IntFlag{Name: "workers", Value: workers, Destination: &workers},
			&cli.IntFlag{Name: "seed", Destination: &req.Seed},
			&cli.FloatFlag{Name: "rtg-scale", Value: 1, Destination: &req.RTGScale},
			&cli.BoolFlag{Name: "discrete", Destination: &req.DiscreteAction},
		},
		Action: action,
	}
}

func createEvaluateCli(g *globals) *cli.Command {
	opts := defaultEvaluateOptions()
	configPath := ""
	action := func(ctx context.Context, cmd *cli.Command) error {
		if configPath != "" {
			if err := applyEvaluateConfig(configPath, &opts, cmd.IsSet); err != nil {
				return fmt.Errorf("load config %s: %w", configPath, err)
			}
		}
		if opts.PolicyPath == "" {
			return errors.New("evaluate requires --policy")
		}
		p, err := policy.LoadLinearFile(opts.PolicyPath)
		if err != nil {
			return err
		}
		var table *score.DatasetStatsTable
		if opts.DatasetStats != "" {
			if table, err = score.LoadDatasetStatsFile(opts.DatasetStats); err != nil {
				return fmt.Errorf("load dataset stats %s: %w", opts.DatasetStats, err)
			}
		}

		ctx, client, err := g.open(ctx, func(o *dt.Options) { o.DatasetStats = table })
		if err != nil {
			return err
		}
		defer client.Close()

		summary, err := client.Evaluate(ctx, opts.request(p))
		if err != nil {
			return err
		}
		report := summary.Report
		w := g.out
		fmt.Fprintf(w, "run_id=%s env=%s episodes=%d\n", summary.RunID, report.Environment, len(report.Episodes))
		fmt.Fprintf(w, "avg_score=%s avg_episode_length=%s\n",
			humanize.CommafWithDigits(report.AvgScore, 3), humanize.CommafWithDigits(report.AvgEpisodeLength, 1))
		if report.NormalizedScore != nil {
			fmt.Fprintf(w, "normalized_score=%.4f\n", *report.NormalizedScore)
		}
		fmt.Fprintf(w, "artifacts=%s\n", summary.ArtifactsDir)
		zerolog.Ctx(ctx).Debug().Str("run_id", summary.RunID).Msg("evaluate command finished")
		return nil
	}
	return &cli.Command{
		Name:  "evaluate",
		Usage: "run a linear policy autoregressively against a built-in environment",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "JSON run config; explicit flags win", Destination: &configPath},
			&cli.StringFlag{Name: "env", Value: opts.Environment, Destination: &opts.Environment},
			&cli.StringFlag{Name: "dataset", Usage: "dataset whose state statistics normalize observations", Destination: &opts.Dataset},
			&cli.StringFlag{Name: "policy", Usage: "linear policy JSON file", Destination: &opts.PolicyPath, Sources: cli.EnvVars("DT_POLICY")},
			&cli.IntFlag{Name: "context-len", Value: opts.ContextLen, Destination: &opts.ContextLen},
			&cli.FloatFlag{Name: "target-return", Value: opts.TargetReturn, Destination: &opts.TargetReturn},
			&cli.FloatFlag{Name: "return-scale", Value: opts.ReturnScale, Destination: &opts.ReturnScale},
			&cli.IntFlag{Name: "episodes", Value: opts.NumEpisodes, Destination: &opts.NumEpisodes},
			&cli.IntFlag{Name: "max-steps", Usage: "0 uses the environment's cap", Destination: &opts.MaxSteps},
			&cli.IntFlag{Name: "seed", Destination: &opts.Seed},
			&cli.IntFlag{Name: "workers", Value: opts.Workers, Destination: &opts.Workers},
			&cli.StringFlag{Name: "score-env", Usage: "reference environment for the normalized score", Destination: &opts.ScoreEnv},
			&cli.StringFlag{
				Name:        "dataset-stats",
				Usage:       "JSON table of precomputed state statistics per dataset",
				Destination: &opts.DatasetStats,
				Sources:     cli.EnvVars("DT_DATASET_STATS"),
			},
		},
		Action: action,
	}
}

func createScoreCli(g *globals) *cli.Command {
	env := ""
	raw := 0.0
	action := func(_ context.Context, _ *cli.Command) error {
		client, err := dt.New(dt.Options{StoreKind: storage.KindMemory, RunsDir: g.runsDir})
		if err != nil {
			return err
		}
		defer client.Close()

		normalized, err := client.NormalizeScore(raw, env)
		if err != nil {
			return err
		}
		fmt.Fprintf(g.out, "env=%s raw=%g normalized=%.6f\n", env, raw, normalized)
		return nil
	}
	return &cli.Command{
		Name:  "score",
		Usage: "normalize a raw return against reference bounds",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env", Destination: &env, Required: true},
			&cli.FloatFlag{Name: "raw", Destination: &raw, Required: true},
		},
		Action: action,
	}
}

func createRunsCli(g *globals) *cli.Command {
	limit := int64(20)
	action := func(ctx context.Context, _ *cli.Command) error {
		ctx, client, err := g.open(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		reports, err := client.Runs(ctx, dt.RunsRequest{Limit: int(limit)})
		if err != nil {
			return err
		}
		for _, r := range reports {
			fmt.Fprintf(g.out, "%s env=%s episodes=%d avg_score=%s created=%s\n",
				r.RunID, r.Environment, len(r.Episodes), humanize.CommafWithDigits(r.AvgScore, 3), relativeTime(r.CreatedAtUTC))
		}
		return nil
	}
	return &cli.Command{
		Name:  "runs",
		Usage: "list evaluation runs, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: limit, Destination: &limit},
		},
		Action: action,
	}
}

func createShowCli(g *globals) *cli.Command {
	runID := ""
	latest := false
	action := func(ctx context.Context, _ *cli.Command) error {
		ctx, client, err := g.open(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		if latest {
			if runID, err = client.LatestRunID(); err != nil {
				return err
			}
		}
		details, err := client.Show(ctx, runID)
		if err != nil {
			return err
		}
		cfg, report := details.Config, details.Report
		w := g.out
		fmt.Fprintf(w, "run_id=%s env=%s dataset=%s policy=%s\n", report.RunID, report.Environment, cfg.Dataset, cfg.PolicyPath)
		fmt.Fprintf(w, "context_len=%d target_return=%g return_scale=%g max_steps=%d seed=%d workers=%d\n",
			cfg.ContextLen, cfg.TargetReturn, cfg.ReturnScale, cfg.MaxSteps, cfg.Seed, cfg.Workers)
		fmt.Fprintf(w, "avg_score=%s avg_episode_length=%s created=%s\n",
			humanize.CommafWithDigits(report.AvgScore, 3), humanize.CommafWithDigits(report.AvgEpisodeLength, 1), relativeTime(report.CreatedAtUTC))
		for _, ep := range details.Episodes {
			fmt.Fprintf(w, "episode=%d return=%g length=%d outcome=%s\n", ep.Episode, ep.Return, ep.Length, ep.Outcome)
		}
		return nil
	}
	return &cli.Command{
		Name:  "show",
		Usage: "print one run's config, report and episodes",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "run-id", Destination: &runID},
			&cli.BoolFlag{Name: "latest", Destination: &latest},
		},
		Action: action,
	}
}

func createExportCli(g *globals) *cli.Command {
	req := dt.ExportRequest{}
	action := func(ctx context.Context, _ *cli.Command) error {
		client, err := dt.New(dt.Options{StoreKind: storage.KindMemory, RunsDir: g.runsDir, ExportsDir: g.exportsDir})
		if err != nil {
			return err
		}
		defer client.Close()

		exported, err := client.Export(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(g.out, "exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
		return nil
	}
	return &cli.Command{
		Name:  "export",
		Usage: "copy a run's artifacts into the exports directory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "run-id", Destination: &req.RunID},
			&cli.BoolFlag{Name: "latest", Destination: &req.Latest},
			&cli.StringFlag{Name: "out", Destination: &req.OutDir},
		},
		Action: action,
	}
}

func relativeTime(createdAtUTC string) string {
	ts, err := time.Parse(time.RFC3339Nano, createdAtUTC)
	if err != nil {
		return createdAtUTC
	}
	return humanize.Time(ts)
}
