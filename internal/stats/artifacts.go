package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/linklab/link-decision-transformer/internal/model"
)

const (
	runIndexFile = "run_index.json"
	configFile   = "config.json"
	reportFile   = "report.json"
	summaryFile  = "summary.json"
	episodesFile = "episodes.csv"
)

// RunConfig records every input that shaped one evaluation run.
type RunConfig struct {
	RunID          string  `json:"run_id"`
	Environment    string  `json:"environment"`
	Dataset        string  `json:"dataset,omitempty"`
	PolicyPath     string  `json:"policy_path,omitempty"`
	ContextLen     int     `json:"context_len"`
	TargetReturn   float64 `json:"target_return"`
	ReturnScale    float64 `json:"return_scale"`
	NumEpisodes    int     `json:"num_episodes"`
	MaxSteps       int     `json:"max_steps"`
	DiscreteAction bool    `json:"discrete_action"`
	Seed           int64   `json:"seed"`
	Workers        int     `json:"workers"`
	StoreKind      string  `json:"store_kind,omitempty"`
}

type RunArtifacts struct {
	Config RunConfig              `json:"config"`
	Report model.EvaluationReport `json:"report"`
}

type RunIndexEntry struct {
	RunID            string   `json:"run_id"`
	Environment      string   `json:"environment"`
	Dataset          string   `json:"dataset,omitempty"`
	ContextLen       int      `json:"context_len"`
	TargetReturn     float64  `json:"target_return"`
	NumEpisodes      int      `json:"num_episodes"`
	AvgScore         float64  `json:"avg_score"`
	AvgEpisodeLength float64  `json:"avg_episode_length"`
	NormalizedScore  *float64 `json:"normalized_score,omitempty"`
	CreatedAtUTC     string   `json:"created_at_utc"`
}

// IndexEntry derives the run index row for a finished run.
func (a RunArtifacts) IndexEntry() RunIndexEntry {
	return RunIndexEntry{
		RunID:            a.Config.RunID,
		Environment:      a.Report.Environment,
		Dataset:          a.Report.Dataset,
		ContextLen:       a.Report.ContextLen,
		TargetReturn:     a.Report.TargetReturn,
		NumEpisodes:      len(a.Report.Episodes),
		AvgScore:         a.Report.AvgScore,
		AvgEpisodeLength: a.Report.AvgEpisodeLength,
		NormalizedScore:  a.Report.NormalizedScore,
		CreatedAtUTC:     a.Report.CreatedAtUTC,
	}
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}
	if artifacts.Report.RunID != "" && artifacts.Report.RunID != artifacts.Config.RunID {
		return "", fmt.Errorf("report run id mismatch: got=%s want=%s", artifacts.Report.RunID, artifacts.Config.RunID)
	}

	if err := WriteRunConfig(baseDir, artifacts.Config.RunID, artifacts.Config); err != nil {
		return "", err
	}
	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := writeJSON(filepath.Join(runDir, reportFile), artifacts.Report); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), SummarizeEpisodes(artifacts.Report.Episodes)); err != nil {
		return "", err
	}
	if err := WriteEpisodes(runDir, artifacts.Report.Episodes); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns runs newest first; equal timestamps keep the later
// appended entry first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ExportRunArtifacts copies a run directory into outDir/<runID>.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, reportFile, episodesFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	summaryPath := filepath.Join(src, summaryFile)
	if _, err := os.Stat(summaryPath); err == nil {
		if err := copyFile(summaryPath, filepath.Join(dst, summaryFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = runID
	}
	if cfg.RunID != runID {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, runID)
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, configFile), cfg)
}

func ReadReport(baseDir, runID string) (model.EvaluationReport, bool, error) {
	var report model.EvaluationReport
	ok, err := readJSON(filepath.Join(baseDir, runID, reportFile), &report)
	return report, ok, err
}

func WriteEpisodes(runDir string, episodes []model.EpisodeResult) error {
	file, err := os.Create(filepath.Join(runDir, episodesFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"episode", "return", "length", "outcome"}); err != nil {
		return err
	}
	for _, ep := range episodes {
		if err := writer.Write([]string{
			strconv.Itoa(ep.Episode),
			strconv.FormatFloat(ep.Return, 'f', -1, 64),
			strconv.Itoa(ep.Length),
			string(ep.Outcome),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadEpisodes(baseDir, runID string) ([]model.EpisodeResult, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, episodesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.EpisodeResult{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 4 {
		return nil, false, fmt.Errorf("episodes header must have 4 columns")
	}

	episodes := make([]model.EpisodeResult, 0, 16)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		ep, err := parseEpisodeRow(record)
		if err != nil {
			return nil, false, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, true, nil
}

func parseEpisodeRow(record []string) (model.EpisodeResult, error) {
	if len(record) < 4 {
		return model.EpisodeResult{}, fmt.Errorf("episodes row must have 4 columns")
	}
	episode, err := strconv.Atoi(record[0])
	if err != nil {
		return model.EpisodeResult{}, fmt.Errorf("episode: %w", err)
	}
	ret, err := strconv.ParseFloat(record[1], 64)
	if err != nil {
		return model.EpisodeResult{}, fmt.Errorf("return: %w", err)
	}
	length, err := strconv.Atoi(record[2])
	if err != nil {
		return model.EpisodeResult{}, fmt.Errorf("length: %w", err)
	}
	return model.EpisodeResult{
		Episode: episode,
		Return:  ret,
		Length:  length,
		Outcome: model.EpisodeOutcome(record[3]),
	}, nil
}

func readJSON(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
