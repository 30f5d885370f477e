package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"mdjira/internal/etl"
)

// ── JSON File Source ────────────────────────────────────────
// Replays a captured search response (or a bare array of issues) from disk.
// Used for backfills from archived pages and by the replay-directory watcher.

type jsonFileSource struct{}

func init() { etl.RegisterSource(&jsonFileSource{}) }

func (s *jsonFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "json_file",
		Label: "JSON File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Path to a saved search response"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Required: false, Default: "issues", Help: "Dot-separated path to the issue array. Ignored when the root is an array."},
		},
	}
}

func (s *jsonFileSource) Read(ctx context.Context, req etl.ReadRequest) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		records, err := readJSONFile(req.Config)
		if err != nil {
			errCh <- err
			return
		}
		for _, rec := range records {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh
}

func readJSONFile(cfg etl.SourceConfig) ([]etl.Record, error) {
	filePath := cfg.String("filePath", "")
	if filePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	// Navigate to dataPath unless the file is already the issue array.
	if _, isArray := raw.([]any); !isArray {
		raw, err = etl.Lookup(raw, cfg.String("dataPath", "issues"))
		if err != nil {
			return nil, fmt.Errorf("invalid data path: %w", err)
		}
	}

	return toRecords(raw), nil
}

// toRecords converts a decoded JSON value into Records, keeping nesting intact.
func toRecords(raw any) []etl.Record {
	switch v := raw.(type) {
	case []any:
		records := make([]etl.Record, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				records = append(records, etl.NewRecord(m))
			}
		}
		return records
	case map[string]any:
		// Single object → single record.
		return []etl.Record{etl.NewRecord(v)}
	default:
		return nil
	}
}
