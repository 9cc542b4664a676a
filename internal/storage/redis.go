package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linklab/link-decision-transformer/internal/model"
)

const defaultRedisPrefix = "dt"

// RedisStore keeps JSON payloads under <prefix>:dataset:<name>,
// <prefix>:stats:<name> and <prefix>:eval:<run id>. Evaluation run ids are
// indexed in the sorted set <prefix>:evals scored by creation time.
type RedisStore struct {
	target string
	prefix string

	mu  sync.RWMutex
	rdb *redis.Client
}

// NewRedisStore accepts either host:port or a redis:// URL.
func NewRedisStore(target string) *RedisStore {
	return &RedisStore{target: target, prefix: defaultRedisPrefix}
}

func (s *RedisStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.target == "" {
		return errors.New("redis address is required")
	}
	if s.rdb != nil {
		return nil
	}

	opts := &redis.Options{Addr: s.target}
	if strings.Contains(s.target, "://") {
		parsed, err := redis.ParseURL(s.target)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return err
	}
	s.rdb = rdb
	return nil
}

func (s *RedisStore) SaveDataset(ctx context.Context, dataset model.Dataset) error {
	payload, err := EncodeDataset(dataset)
	if err != nil {
		return err
	}
	return s.set(ctx, "dataset", dataset.Name, payload)
}

func (s *RedisStore) GetDataset(ctx context.Context, name string) (model.Dataset, bool, error) {
	payload, ok, err := s.get(ctx, s.key("dataset", name))
	if err != nil || !ok {
		return model.Dataset{}, false, err
	}
	dataset, err := DecodeDataset(payload)
	if err != nil {
		return model.Dataset{}, false, fmt.Errorf("decode dataset %s: %w", name, err)
	}
	return dataset, true, nil
}

func (s *RedisStore) SaveStateStats(ctx context.Context, stats model.StateStats) error {
	payload, err := EncodeStateStats(stats)
	if err != nil {
		return err
	}
	return s.set(ctx, "stats", stats.Dataset, payload)
}

func (s *RedisStore) GetStateStats(ctx context.Context, dataset string) (model.StateStats, bool, error) {
	payload, ok, err := s.get(ctx, s.key("stats", dataset))
	if err != nil || !ok {
		return model.StateStats{}, false, err
	}
	stats, err := DecodeStateStats(payload)
	if err != nil {
		return model.StateStats{}, false, fmt.Errorf("decode state stats %s: %w", dataset, err)
	}
	return stats, true, nil
}

func (s *RedisStore) SaveEvaluation(ctx context.Context, report model.EvaluationReport) error {
	rdb, err := s.client()
	if err != nil {
		return err
	}
	if report.RunID == "" {
		return errors.New("evaluation record requires a run id")
	}
	payload, err := EncodeEvaluation(report)
	if err != nil {
		return err
	}

	_, err = rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("eval", report.RunID), payload, 0)
		pipe.ZAdd(ctx, s.prefix+":evals", redis.Z{Score: createdScore(report.CreatedAtUTC), Member: report.RunID})
		return nil
	})
	return err
}

func (s *RedisStore) GetEvaluation(ctx context.Context, runID string) (model.EvaluationReport, bool, error) {
	payload, ok, err := s.get(ctx, s.key("eval", runID))
	if err != nil || !ok {
		return model.EvaluationReport{}, false, err
	}
	report, err := DecodeEvaluation(payload)
	if err != nil {
		return model.EvaluationReport{}, false, fmt.Errorf("decode evaluation %s: %w", runID, err)
	}
	return report, true, nil
}

func (s *RedisStore) ListEvaluations(ctx context.Context) ([]model.EvaluationReport, error) {
	rdb, err := s.client()
	if err != nil {
		return nil, err
	}

	ids, err := rdb.ZRange(ctx, s.prefix+":evals", 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key("eval", id)
	}
	values, err := rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	reports := make([]model.EvaluationReport, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		report, err := DecodeEvaluation([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decode evaluation %s: %w", ids[i], err)
		}
		reports = append(reports, report)
	}
	sortNewestFirst(reports)
	return reports, nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rdb == nil {
		return nil
	}
	err := s.rdb.Close()
	s.rdb = nil
	return err
}

func (s *RedisStore) key(kind, name string) string {
	return s.prefix + ":" + kind + ":" + name
}

func (s *RedisStore) set(ctx context.Context, kind, name string, payload []byte) error {
	rdb, err := s.client()
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%s record requires a name", kind)
	}
	return rdb.Set(ctx, s.key(kind, name), payload, 0).Err()
}

func (s *RedisStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	rdb, err := s.client()
	if err != nil {
		return nil, false, err
	}
	payload, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s *RedisStore) client() (*redis.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.rdb == nil {
		return nil, ErrNotInitialized
	}
	return s.rdb, nil
}

func createdScore(createdAtUTC string) float64 {
	ts, err := time.Parse(time.RFC3339Nano, createdAtUTC)
	if err != nil {
		return 0
	}
	return float64(ts.Unix())
}
