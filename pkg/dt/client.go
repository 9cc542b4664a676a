// Package dt is the public entry point: it imports offline trajectory
// datasets, samples fixed-length training windows from them and evaluates
// sequence-conditioned policies against built-in environments.
package dt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/linklab/link-decision-transformer/internal/dataextract"
	"github.com/linklab/link-decision-transformer/internal/dataset"
	"github.com/linklab/link-decision-transformer/internal/model"
	"github.com/linklab/link-decision-transformer/internal/rollout"
	"github.com/linklab/link-decision-transformer/internal/scape"
	"github.com/linklab/link-decision-transformer/internal/score"
	"github.com/linklab/link-decision-transformer/internal/stats"
	"github.com/linklab/link-decision-transformer/internal/storage"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "dt.db"

	// Fixed-width UTC timestamps keep lexical and chronological order equal.
	timestampLayout = "2006-01-02T15:04:05.000000Z07:00"
)

type Options struct {
	StoreKind string
	// StoreTarget is the sqlite path or redis address.
	StoreTarget string
	RunsDir     string
	ExportsDir  string
	References  *score.ReferenceTable
	// DatasetStats supplies precomputed state statistics for datasets that
	// were never imported into the store.
	DatasetStats *score.DatasetStatsTable
	// Now is injectable for deterministic run timestamps.
	Now func() time.Time
}

type Client struct {
	store      storage.Store
	refs       *score.ReferenceTable
	datasets   *score.DatasetStatsTable
	runsDir    string
	exportsDir string
	now        func() time.Time

	initOnce sync.Once
	initErr  error
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	target := opts.StoreTarget
	if target == "" && storeKind == storage.KindSQLite {
		target = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	refs := opts.References
	if refs == nil {
		refs = score.DefaultReferenceTable()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	store, err := storage.NewStore(storeKind, target)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		refs:       refs,
		datasets:   opts.DatasetStats,
		runsDir:    runsDir,
		exportsDir: exportsDir,
		now:        now,
	}, nil
}

func (c *Client) Init(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Import formats. A step log is a CSV with one row per step, see
// dataextract.StepLogOptions for its columns.
const (
	FormatJSON    = "json"
	FormatStepLog = "csv"
)

type ImportRequest struct {
	Name   string
	Source io.Reader
	// Format defaults to FormatJSON.
	Format  string
	StepLog dataextract.StepLogOptions
}

// ImportDataset validates a JSON array of trajectory records (or a CSV step
// log), computes its state statistics and persists both under req.Name.
func (c *Client) ImportDataset(ctx context.Context, req ImportRequest) (model.DatasetSummary, error) {
	if err := c.Init(ctx); err != nil {
		return model.DatasetSummary{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.DatasetSummary{}, errors.New("dataset name is required")
	}
	if req.Source == nil {
		return model.DatasetSummary{}, errors.New("dataset source is required")
	}

	var records []model.TrajectoryRecord
	var err error
	switch strings.ToLower(req.Format) {
	case "", FormatJSON:
		records, err = dataset.DecodeRecords(req.Source)
	case FormatStepLog:
		records, err = dataextract.ExtractStepLogCSV(req.Source, req.StepLog)
		if err != nil {
			err = &dataset.DatasetFormatError{Index: -1, Reason: "step log", Err: err}
		}
	default:
		err = fmt.Errorf("unsupported dataset format %q", req.Format)
	}
	if err != nil {
		return model.DatasetSummary{}, err
	}
	store, err := dataset.New(records, dataset.Options{Name: name})
	if err != nil {
		return model.DatasetSummary{}, err
	}

	if err := c.store.SaveDataset(ctx, model.Dataset{
		VersionedRecord: storage.CurrentVersion(),
		Name:            name,
		Trajectories:    records,
	}); err != nil {
		return model.DatasetSummary{}, fmt.Errorf("save dataset %s: %w", name, err)
	}
	st := store.StateStats()
	st.VersionedRecord = storage.CurrentVersion()
	if err := c.store.SaveStateStats(ctx, st); err != nil {
		return model.DatasetSummary{}, fmt.Errorf("save state stats %s: %w", name, err)
	}

	summary := store.Summary()
	zerolog.Ctx(ctx).Info().
		Str("dataset", name).
		Int("trajectories", summary.Trajectories).
		Int("total_steps", summary.TotalSteps).
		Msg("dataset imported")
	return summary, nil
}

// LoadDataset rebuilds an in-memory trajectory store from a persisted dataset.
func (c *Client) LoadDataset(ctx context.Context, name string, rtgScale float64) (*dataset.Store, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	ds, ok, err := c.store.GetDataset(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("dataset not found: %s", name)
	}
	return dataset.New(ds.Trajectories, dataset.Options{Name: ds.Name, RTGScale: rtgScale})
}

func (c *Client) DatasetSummary(ctx context.Context, name string) (model.DatasetSummary, model.StateStats, error) {
	store, err := c.LoadDataset(ctx, name, 0)
	if err != nil {
		return model.DatasetSummary{}, model.StateStats{}, err
	}
	return store.Summary(), store.StateStats(), nil
}

type SampleRequest struct {
	Dataset        string
	ContextLen     int
	BatchSize      int
	RTGScale       float64
	DiscreteAction bool
	Seed           int64
	Workers        int
}

func (c *Client) SampleWindows(ctx context.Context, req SampleRequest) ([]dataset.Window, error) {
	store, err := c.LoadDataset(ctx, req.Dataset, req.RTGScale)
	if err != nil {
		return nil, err
	}
	sampler, err := dataset.NewSampler(store, req.ContextLen, req.DiscreteAction)
	if err != nil {
		return nil, err
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 1
	}
	return sampler.ParallelBatch(ctx, req.Seed, req.BatchSize, req.Workers)
}

type EvaluateRequest struct {
	Environment string
	// Dataset supplies the state statistics; empty means identity statistics.
	Dataset      string
	Policy       rollout.Policy
	PolicyPath   string
	ContextLen   int
	TargetReturn float64
	ReturnScale  float64
	NumEpisodes  int
	// MaxSteps defaults to the environment's own step cap.
	MaxSteps int
	Seed     int64
	Workers  int
	// ScoreEnv names the reference bounds; it falls back to Dataset.
	ScoreEnv string
}

type EvaluationSummary struct {
	RunID        string
	ArtifactsDir string
	Report       model.EvaluationReport
}

func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluationSummary, error) {
	if err := c.Init(ctx); err != nil {
		return EvaluationSummary{}, err
	}
	if req.Policy == nil {
		return EvaluationSummary{}, errors.New("policy is required")
	}
	spec, err := scape.Lookup(req.Environment)
	if err != nil {
		return EvaluationSummary{}, err
	}
	if req.ReturnScale == 0 {
		req.ReturnScale = 1
	}
	if req.NumEpisodes <= 0 {
		req.NumEpisodes = 1
	}
	if req.MaxSteps <= 0 {
		req.MaxSteps = spec.MaxSteps
	}
	if req.Workers <= 0 {
		req.Workers = 1
	}
	// An explicit score environment must resolve; it is never swapped for another.
	if req.ScoreEnv != "" {
		if _, err := c.refs.Lookup(req.ScoreEnv); err != nil {
			return EvaluationSummary{}, err
		}
	}

	st, err := c.stateStats(ctx, req.Dataset)
	if err != nil {
		return EvaluationSummary{}, err
	}

	factory, err := scape.Factory(spec.Name, req.Seed)
	if err != nil {
		return EvaluationSummary{}, err
	}

	runID := uuid.NewString()
	logger := zerolog.Ctx(ctx).With().Str("run_id", runID).Str("environment", spec.Name).Logger()
	ctx = logger.WithContext(ctx)

	result, err := rollout.EvaluateParallel(ctx, req.Policy, factory, rollout.Config{
		ContextLen:     req.ContextLen,
		TargetReturn:   req.TargetReturn,
		ReturnScale:    req.ReturnScale,
		NumEpisodes:    req.NumEpisodes,
		MaxSteps:       req.MaxSteps,
		ActionDim:      spec.ActionDim,
		DiscreteAction: spec.DiscreteAction,
		Stats:          st,
	}, req.Workers)
	if err != nil {
		return EvaluationSummary{}, err
	}

	report := model.EvaluationReport{
		VersionedRecord:  storage.CurrentVersion(),
		RunID:            runID,
		Environment:      spec.Name,
		Dataset:          req.Dataset,
		ContextLen:       req.ContextLen,
		TargetReturn:     req.TargetReturn,
		ReturnScale:      req.ReturnScale,
		AvgScore:         result.AvgScore,
		AvgEpisodeLength: result.AvgEpisodeLength,
		Episodes:         result.Episodes,
		CreatedAtUTC:     c.now().UTC().Format(timestampLayout),
	}
	normalized, ok, err := c.normalizedScore(result.AvgScore, req.ScoreEnv, req.Dataset, spec.Name)
	if err != nil {
		return EvaluationSummary{}, err
	}
	if ok {
		report.NormalizedScore = &normalized
	}

	if err := c.store.SaveEvaluation(ctx, report); err != nil {
		return EvaluationSummary{}, fmt.Errorf("save evaluation: %w", err)
	}
	artifacts := stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:          runID,
			Environment:    spec.Name,
			Dataset:        req.Dataset,
			PolicyPath:     req.PolicyPath,
			ContextLen:     req.ContextLen,
			TargetReturn:   req.TargetReturn,
			ReturnScale:    req.ReturnScale,
			NumEpisodes:    req.NumEpisodes,
			MaxSteps:       req.MaxSteps,
			DiscreteAction: spec.DiscreteAction,
			Seed:           req.Seed,
			Workers:        req.Workers,
		},
		Report: report,
	}
	runDir, err := stats.WriteRunArtifacts(c.runsDir, artifacts)
	if err != nil {
		return EvaluationSummary{}, err
	}
	if err := stats.AppendRunIndex(c.runsDir, artifacts.IndexEntry()); err != nil {
		return EvaluationSummary{}, err
	}

	return EvaluationSummary{RunID: runID, ArtifactsDir: runDir, Report: report}, nil
}

// stateStats resolves the normalization statistics for dataset: the store
// first, then the precomputed table. No dataset means identity statistics.
func (c *Client) stateStats(ctx context.Context, dataset string) (*model.StateStats, error) {
	if dataset == "" {
		return nil, nil
	}
	loaded, ok, err := c.store.GetStateStats(ctx, dataset)
	if err != nil {
		return nil, err
	}
	if ok {
		return &loaded, nil
	}
	ref, err := c.datasets.Lookup(dataset)
	if err != nil {
		return nil, fmt.Errorf("state stats not found for dataset %s: %w", dataset, err)
	}
	zerolog.Ctx(ctx).Debug().Str("dataset", dataset).Msg("using reference state statistics")
	return &ref, nil
}

// normalizedScore scores against scoreEnv alone when it is set. Otherwise it
// tries the dataset and then the environment name, and environments without
// reference bounds simply produce no normalized score.
func (c *Client) normalizedScore(raw float64, scoreEnv string, fallbacks ...string) (float64, bool, error) {
	if scoreEnv != "" {
		v, err := c.refs.Normalize(raw, scoreEnv)
		if err != nil {
			return 0, false, err
		}
		return v, true, nil
	}
	for _, name := range fallbacks {
		if name == "" {
			continue
		}
		if v, err := c.refs.Normalize(raw, name); err == nil {
			return v, true, nil
		}
	}
	return 0, false, nil
}

func (c *Client) NormalizeScore(raw float64, env string) (float64, error) {
	return c.refs.Normalize(raw, env)
}

type RunsRequest struct {
	Limit int
}

// Runs lists stored evaluation reports, newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]model.EvaluationReport, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}
	reports, err := c.store.ListEvaluations(ctx)
	if err != nil {
		return nil, err
	}
	if len(reports) > req.Limit {
		reports = reports[:req.Limit]
	}
	return reports, nil
}

type RunDetails struct {
	Config   stats.RunConfig
	Report   model.EvaluationReport
	Episodes []model.EpisodeResult
}

// Show assembles one run from the store and its artifacts directory. The
// report comes from the store when present, else from report.json.
func (c *Client) Show(ctx context.Context, runID string) (RunDetails, error) {
	if err := c.Init(ctx); err != nil {
		return RunDetails{}, err
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return RunDetails{}, errors.New("run id is required")
	}

	report, ok, err := c.store.GetEvaluation(ctx, runID)
	if err != nil {
		return RunDetails{}, err
	}
	if !ok {
		report, ok, err = stats.ReadReport(c.runsDir, runID)
		if err != nil {
			return RunDetails{}, err
		}
		if !ok {
			return RunDetails{}, fmt.Errorf("evaluation not found: %s", runID)
		}
	}
	cfg, ok, err := stats.ReadRunConfig(c.runsDir, runID)
	if err != nil {
		return RunDetails{}, err
	}
	if !ok {
		cfg = stats.RunConfig{RunID: runID, Environment: report.Environment, Dataset: report.Dataset}
	}
	episodes, ok, err := stats.ReadEpisodes(c.runsDir, runID)
	if err != nil {
		return RunDetails{}, err
	}
	if !ok {
		episodes = report.Episodes
	}
	return RunDetails{Config: cfg, Report: report, Episodes: episodes}, nil
}

// LatestRunID is the newest entry of the run index.
func (c *Client) LatestRunID() (string, error) {
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		latest, err := c.LatestRunID()
		if err != nil {
			return ExportSummary{}, err
		}
		runID = latest
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// ImportDatasetBytes is ImportDataset over an in-memory payload.
func (c *Client) ImportDatasetBytes(ctx context.Context, name string, data []byte) (model.DatasetSummary, error) {
	return c.ImportDataset(ctx, ImportRequest{Name: name, Source: bytes.NewReader(data)})
}
