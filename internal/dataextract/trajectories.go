// Package dataextract converts flat step logs into trajectory records.
package dataextract

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/linklab/link-decision-transformer/internal/model"
)

// StepLogOptions names the columns of a step-log CSV. One row is one step;
// rows of the same episode must be contiguous.
type StepLogOptions struct {
	EpisodeColumn     string
	RewardColumn      string
	ObservationPrefix string
	ActionPrefix      string
}

// withDefaults fills empty names and lower-cases all of them, since header
// keys are matched case-insensitively.
func (o StepLogOptions) withDefaults() StepLogOptions {
	if o.EpisodeColumn == "" {
		o.EpisodeColumn = "episode"
	}
	if o.RewardColumn == "" {
		o.RewardColumn = "reward"
	}
	if o.ObservationPrefix == "" {
		o.ObservationPrefix = "obs_"
	}
	if o.ActionPrefix == "" {
		o.ActionPrefix = "act_"
	}
	o.EpisodeColumn = strings.ToLower(strings.TrimSpace(o.EpisodeColumn))
	o.RewardColumn = strings.ToLower(strings.TrimSpace(o.RewardColumn))
	o.ObservationPrefix = strings.ToLower(strings.TrimSpace(o.ObservationPrefix))
	o.ActionPrefix = strings.ToLower(strings.TrimSpace(o.ActionPrefix))
	return o
}

type layout struct {
	episode      int
	reward       int
	observations []int
	actions      []int
}

// ExtractStepLogCSV groups step rows into trajectory records. Observation and
// action columns are ordered by their numeric suffix (obs_0, obs_1, ...);
// columns matching no role, such as a step counter, are ignored.
func ExtractStepLogCSV(in io.Reader, opts StepLogOptions) ([]model.TrajectoryRecord, error) {
	opts = opts.withDefaults()
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("step log is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read step log header: %w", err)
	}
	cols, err := resolveLayout(header, opts)
	if err != nil {
		return nil, err
	}

	var (
		records []model.TrajectoryRecord
		current *model.TrajectoryRecord
		lastID  string
		seen    = make(map[string]bool)
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// csv.ParseError already carries the line.
			return nil, fmt.Errorf("read step log: %w", err)
		}
		// line is the file line of this record, so skipped empty lines count.
		line, _ := reader.FieldPos(0)
		if blankRecord(record) {
			continue
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("step log line %d has %d fields, want %d", line, len(record), len(header))
		}

		id := strings.TrimSpace(record[cols.episode])
		if current == nil || id != lastID {
			if seen[id] {
				return nil, fmt.Errorf("step log line %d: episode %q is not contiguous", line, id)
			}
			seen[id] = true
			records = append(records, model.TrajectoryRecord{})
			current = &records[len(records)-1]
			lastID = id
		}

		obs, err := parseColumns(record, cols.observations, line)
		if err != nil {
			return nil, err
		}
		act, err := parseColumns(record, cols.actions, line)
		if err != nil {
			return nil, err
		}
		reward, err := parseField(record[cols.reward], line, cols.reward)
		if err != nil {
			return nil, err
		}
		current.Observations = append(current.Observations, obs)
		current.Actions = append(current.Actions, act)
		current.Rewards = append(current.Rewards, reward)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("step log has no rows")
	}
	return records, nil
}

// ConvertStepLogCSV writes the records of a step log as the JSON array the
// dataset loader reads.
func ConvertStepLogCSV(in io.Reader, out io.Writer, opts StepLogOptions) (int, error) {
	records, err := ExtractStepLogCSV(in, opts)
	if err != nil {
		return 0, err
	}
	if err := json.NewEncoder(out).Encode(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func resolveLayout(header []string, opts StepLogOptions) (layout, error) {
	cols := layout{episode: -1, reward: -1}
	type indexed struct {
		suffix int
		column int
	}
	var obs, act []indexed
	for i, raw := range header {
		key := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case key == opts.EpisodeColumn:
			cols.episode = i
		case key == opts.RewardColumn:
			cols.reward = i
		case strings.HasPrefix(key, opts.ObservationPrefix), strings.HasPrefix(key, opts.ActionPrefix):
			prefix := opts.ObservationPrefix
			if strings.HasPrefix(key, opts.ActionPrefix) {
				prefix = opts.ActionPrefix
			}
			n, err := strconv.Atoi(strings.TrimPrefix(key, prefix))
			if err != nil || n < 0 {
				return layout{}, fmt.Errorf("column %q: want %s<index>", raw, prefix)
			}
			if prefix == opts.ActionPrefix {
				act = append(act, indexed{n, i})
			} else {
				obs = append(obs, indexed{n, i})
			}
		}
	}
	if cols.episode < 0 {
		return layout{}, fmt.Errorf("step log requires a %q column", opts.EpisodeColumn)
	}
	if cols.reward < 0 {
		return layout{}, fmt.Errorf("step log requires a %q column", opts.RewardColumn)
	}
	if len(obs) == 0 || len(act) == 0 {
		return layout{}, fmt.Errorf("step log requires %s* and %s* columns", opts.ObservationPrefix, opts.ActionPrefix)
	}
	order := func(cs []indexed) []int {
		sort.Slice(cs, func(a, b int) bool { return cs[a].suffix < cs[b].suffix })
		out := make([]int, len(cs))
		for i, c := range cs {
			out[i] = c.column
		}
		return out
	}
	cols.observations = order(obs)
	cols.actions = order(act)
	return cols, nil
}

func parseColumns(record []string, columns []int, line int) ([]float64, error) {
	out := make([]float64, len(columns))
	for i, col := range columns {
		v, err := parseField(record[col], line, col)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseField(raw string, line, col int) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("parse step log line %d column %d: %w", line, col, err)
	}
	return v, nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
