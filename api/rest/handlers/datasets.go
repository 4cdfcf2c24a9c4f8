package handlers

import (
	"io"
	"net/http"

	"reasoning-trainer/storage"

	"github.com/gorilla/mux"
	"github.com/ternarybob/arbor"
)

const maxUploadSize = 100 << 20

// DatasetHandler handles dataset upload and browsing
type DatasetHandler struct {
	datasets *storage.DatasetManager
	logger   arbor.ILogger
}

// NewDatasetHandler creates a new dataset handler
func NewDatasetHandler(datasets *storage.DatasetManager, logger arbor.ILogger) *DatasetHandler {
	return &DatasetHandler{
		datasets: datasets,
		logger:   logger,
	}
}

// Upload handles POST /data/upload (multipart: file, dataset_name, description)
func (h *DatasetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		badRequest(w, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "Failed to read uploaded file")
		return
	}

	name := r.FormValue("dataset_name")
	if name == "" {
		name = header.Filename
	}

	info, err := h.datasets.Save(r.Context(), name, r.FormValue("description"), header.Filename, content)
	if err != nil {
		h.logger.Warn().Err(err).Str("filename", header.Filename).Msg("Dataset upload rejected")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"dataset_id":    info.ID,
		"name":          info.Name,
		"format":        info.Format,
		"example_count": info.ExampleCount,
		"size_bytes":    info.SizeBytes,
	})
}

// ListDatasets handles GET /data/datasets
func (h *DatasetHandler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := h.datasets.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": datasets,
	})
}

// GetDataset handles GET /data/dataset/{id}
func (h *DatasetHandler) GetDataset(w http.ResponseWriter, r *http.Request) {
	details, err := h.datasets.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}
