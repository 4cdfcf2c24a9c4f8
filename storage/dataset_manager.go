package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"reasoning-trainer/core/errs"
	"reasoning-trainer/core/models"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

// DatasetCatalog persists dataset metadata
type DatasetCatalog interface {
	CreateDataset(ctx context.Context, info models.DatasetInfo) error
	GetDataset(ctx context.Context, id string) (*models.DatasetInfo, error)
	ListDatasets(ctx context.Context) ([]models.DatasetInfo, error)
}

const (
	sampleSize       = 5
	schemaSampleSize = 10
)

var formatsByExt = map[string]models.DatasetFormat{
	".json":  models.DatasetFormatJSON,
	".jsonl": models.DatasetFormatJSONL,
	".csv":   models.DatasetFormatCSV,
	".tsv":   models.DatasetFormatTSV,
	".txt":   models.DatasetFormatText,
}

// DatasetManager stores uploaded training datasets and turns them back into
// training items
type DatasetManager struct {
	blobs   BlobStore
	catalog DatasetCatalog
	logger  arbor.ILogger
	now     func() time.Time
}

// NewDatasetManager creates a new dataset manager
func NewDatasetManager(blobs BlobStore, catalog DatasetCatalog, logger arbor.ILogger) *DatasetManager {
	return &DatasetManager{
		blobs:   blobs,
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
}

// Save stores content and records its metadata. The file must parse in the
// format its extension names.
func (dm *DatasetManager) Save(ctx context.Context, name, description, filename string, content []byte) (*models.DatasetInfo, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errs.Newf(errs.CodeInvalidInput, "dataset name is required")
	}
	if len(content) == 0 {
		return nil, errs.Newf(errs.CodeInvalidInput, "dataset file is empty")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	format, ok := formatsByExt[ext]
	if !ok {
		return nil, errs.Newf(errs.CodeInvalidInput, "unsupported dataset file type %q", ext)
	}

	records, err := parseRecords(format, content)
	if err != nil {
		return nil, errs.New(errs.CodeInvalidInput, fmt.Errorf("failed to parse %s: %w", filename, err))
	}

	id := uuid.NewString()
	info := models.DatasetInfo{
		ID:           id,
		Name:         name,
		Description:  description,
		Filename:     filepath.Base(filename),
		Format:       format,
		SizeBytes:    int64(len(content)),
		ExampleCount: len(records),
		BlobKey:      id + ext,
		CreatedAt:    dm.now(),
	}

	if err := dm.blobs.Put(ctx, info.BlobKey, content, mimetype.Detect(content).String()); err != nil {
		return nil, fmt.Errorf("failed to store dataset file: %w", err)
	}
	if err := dm.catalog.CreateDataset(ctx, info); err != nil {
		if delErr := dm.blobs.Delete(context.WithoutCancel(ctx), info.BlobKey); delErr != nil {
			dm.logger.Warn().Err(delErr).Str("dataset_id", id).Msg("Failed to remove orphaned dataset file")
		}
		return nil, fmt.Errorf("failed to save dataset metadata: %w", err)
	}

	dm.logger.Info().
		Str("dataset_id", id).
		Str("format", string(format)).
		Int("examples", info.ExampleCount).
		Msg("Dataset saved")
	return &info, nil
}

// List returns every dataset, newest first
func (dm *DatasetManager) List(ctx context.Context) ([]models.DatasetInfo, error) {
	return dm.catalog.ListDatasets(ctx)
}

// Get returns a dataset with a sample of its records and an inferred schema
func (dm *DatasetManager) Get(ctx context.Context, id string) (*models.DatasetDetails, error) {
	info, records, err := dm.load(ctx, id)
	if err != nil {
		return nil, err
	}

	sample := records
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}
	schemaRecords := records
	if len(schemaRecords) > schemaSampleSize {
		schemaRecords = schemaRecords[:schemaSampleSize]
	}

	return &models.DatasetDetails{
		Info:       *info,
		SampleData: sample,
		Schema:     inferSchema(schemaRecords),
	}, nil
}

// LoadForTraining converts a dataset into training items. Records without both
// an input and an enhanced prompt are skipped.
func (dm *DatasetManager) LoadForTraining(ctx context.Context, id string) ([]models.TrainingDataItem, error) {
	_, records, err := dm.load(ctx, id)
	if err != nil {
		return nil, err
	}

	items := make([]models.TrainingDataItem, 0, len(records))
	skipped := 0
	for _, r := range records {
		item, ok := toTrainingItem(r)
		if !ok {
			skipped++
			continue
		}
		items = append(items, item)
	}
	if skipped > 0 {
		dm.logger.Warn().Str("dataset_id", id).Int("skipped", skipped).Msg("Skipped dataset records without prompts")
	}
	return items, nil
}

func (dm *DatasetManager) load(ctx context.Context, id string) (*models.DatasetInfo, []map[string]interface{}, error) {
	info, err := dm.catalog.GetDataset(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	content, err := dm.blobs.Get(ctx, info.BlobKey)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, nil, errs.NotFound("dataset file", id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read dataset file: %w", err)
	}

	records, err := parseRecords(info.Format, content)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse dataset %s: %w", id, err)
	}
	return info, records, nil
}

// parseRecords decodes content into one map per example. Non-object JSON
// values are wrapped as {"value": v} and text lines as {"text": line}.
func parseRecords(format models.DatasetFormat, content []byte) ([]map[string]interface{}, error) {
	switch format {
	case models.DatasetFormatJSON:
		dec := json.NewDecoder(bytes.NewReader(content))
		dec.UseNumber()
		var data interface{}
		if err := dec.Decode(&data); err != nil {
			return nil, err
		}
		if list, ok := data.([]interface{}); ok {
			records := make([]map[string]interface{}, len(list))
			for i, v := range list {
				records[i] = asRecord(v)
			}
			return records, nil
		}
		return []map[string]interface{}{asRecord(data)}, nil

	case models.DatasetFormatJSONL:
		var records []map[string]interface{}
		err := eachLine(content, func(n int, line string) error {
			dec := json.NewDecoder(strings.NewReader(line))
			dec.UseNumber()
			var v interface{}
			if err := dec.Decode(&v); err != nil {
				return fmt.Errorf("line %d: %w", n, err)
			}
			records = append(records, asRecord(v))
			return nil
		})
		return records, err

	case models.DatasetFormatCSV, models.DatasetFormatTSV:
		r := csv.NewReader(bytes.NewReader(content))
		if format == models.DatasetFormatTSV {
			r.Comma = '\t'
		}
		rows, err := r.ReadAll()
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		header := rows[0]
		records := make([]map[string]interface{}, 0, len(rows)-1)
		for _, row := range rows[1:] {
			rec := make(map[string]interface{}, len(header))
			for i, col := range header {
				if i < len(row) {
					rec[col] = row[i]
				}
			}
			records = append(records, rec)
		}
		return records, nil

	case models.DatasetFormatText:
		var records []map[string]interface{}
		err := eachLine(content, func(_ int, line string) error {
			records = append(records, map[string]interface{}{"text": line})
			return nil
		})
		return records, err
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

// eachLine calls fn for every non-blank line, trimmed
func eachLine(content []byte, fn func(n int, line string) error) error {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := fn(n, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func asRecord(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"value": v}
}

// inferSchema names the type of each key across records: string, integer,
// float, boolean, array, object, or mixed when records disagree
func inferSchema(records []map[string]interface{}) map[string]string {
	schema := make(map[string]string)
	for _, rec := range records {
		for key, v := range rec {
			t := typeName(v)
			if prev, seen := schema[key]; seen && prev != t {
				t = "mixed"
			}
			schema[key] = t
		}
	}
	return schema
}

func typeName(v interface{}) string {
	switch val := v.(type) {
	case string:
		return "string"
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return "integer"
		}
		return "float"
	case bool:
		return "boolean"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	}
	return "mixed"
}

// toTrainingItem maps a record onto a training item. Both the request field
// names and the instruction-tuning names (input/output) are accepted.
func toTrainingItem(rec map[string]interface{}) (models.TrainingDataItem, bool) {
	item := models.TrainingDataItem{
		InputPrompt:    firstString(rec, "input_prompt", "input", "prompt"),
		EnhancedPrompt: firstString(rec, "enhanced_prompt", "output", "enhanced"),
		Category:       firstString(rec, "category"),
		Difficulty:     firstString(rec, "difficulty"),
	}
	if item.InputPrompt == "" || item.EnhancedPrompt == "" {
		return item, false
	}

	switch steps := rec["reasoning_steps"].(type) {
	case []interface{}:
		for _, s := range steps {
			if str, ok := s.(string); ok && str != "" {
				item.ReasoningSteps = append(item.ReasoningSteps, str)
			}
		}
	case string:
		// delimited text columns from csv/tsv uploads
		for _, s := range strings.Split(steps, "|") {
			if s = strings.TrimSpace(s); s != "" {
				item.ReasoningSteps = append(item.ReasoningSteps, s)
			}
		}
	}
	return item, true
}

func firstString(rec map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := rec[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
