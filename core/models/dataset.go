package models

import "time"

// DatasetFormat is the file format of an uploaded dataset
type DatasetFormat string

const (
	DatasetFormatJSON  DatasetFormat = "json"
	DatasetFormatJSONL DatasetFormat = "jsonl"
	DatasetFormatCSV   DatasetFormat = "csv"
	DatasetFormatTSV   DatasetFormat = "tsv"
	DatasetFormatText  DatasetFormat = "txt"
)

// DatasetInfo is the catalogue entry for an uploaded dataset
type DatasetInfo struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Filename     string        `json:"filename"`
	Format       DatasetFormat `json:"format"`
	SizeBytes    int64         `json:"size_bytes"`
	ExampleCount int           `json:"example_count"`
	BlobKey      string        `json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
}

// DatasetDetails is a dataset entry plus a preview of its contents
type DatasetDetails struct {
	Info       DatasetInfo              `json:"info"`
	SampleData []map[string]interface{} `json:"sample_data"`
	Schema     map[string]string        `json:"schema"`
}
