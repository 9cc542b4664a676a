package storage

import (
	"encoding/json"
	"errors"

	"github.com/linklab/link-decision-transformer/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion stamps records written by this build.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeDataset(d model.Dataset) ([]byte, error) {
	return json.Marshal(d)
}

func DecodeDataset(data []byte) (model.Dataset, error) {
	var dataset model.Dataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return model.Dataset{}, err
	}
	if err := checkVersion(dataset.VersionedRecord); err != nil {
		return model.Dataset{}, err
	}
	return dataset, nil
}

func EncodeStateStats(s model.StateStats) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeStateStats(data []byte) (model.StateStats, error) {
	var stats model.StateStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return model.StateStats{}, err
	}
	if err := checkVersion(stats.VersionedRecord); err != nil {
		return model.StateStats{}, err
	}
	if len(stats.Mean) != len(stats.Std) {
		return model.StateStats{}, errors.New("state stats mean and std lengths differ")
	}
	return stats, nil
}

func EncodeEvaluation(r model.EvaluationReport) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeEvaluation(data []byte) (model.EvaluationReport, error) {
	var report model.EvaluationReport
	if err := json.Unmarshal(data, &report); err != nil {
		return model.EvaluationReport{}, err
	}
	if err := checkVersion(report.VersionedRecord); err != nil {
		return model.EvaluationReport{}, err
	}
	return report, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
