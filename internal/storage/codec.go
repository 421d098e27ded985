package storage

import (
	"encoding/json"
	"errors"

	"netsynth/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Versioned returns the version stamp new records are written with.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeModel(r model.ModelRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeModel(data []byte) (model.ModelRecord, error) {
	var record model.ModelRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.ModelRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.ModelRecord{}, err
	}
	return record, nil
}

func EncodeCorpusRun(r model.CorpusRun) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeCorpusRun(data []byte) (model.CorpusRun, error) {
	var run model.CorpusRun
	if err := json.Unmarshal(data, &run); err != nil {
		return model.CorpusRun{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.CorpusRun{}, err
	}
	return run, nil
}

func EncodeLayerStats(s model.LayerStats) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeLayerStats(data []byte) (model.LayerStats, error) {
	var stats model.LayerStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return model.LayerStats{}, err
	}
	if err := checkVersion(stats.VersionedRecord); err != nil {
		return model.LayerStats{}, err
	}
	return stats, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
