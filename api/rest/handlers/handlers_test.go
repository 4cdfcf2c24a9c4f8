package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reasoning-trainer/api/rest/handlers"
	"reasoning-trainer/api/rest/routes"
	"reasoning-trainer/core/enhancer"
	"reasoning-trainer/core/executor"
	"reasoning-trainer/core/logging"
	"reasoning-trainer/core/models"
	"reasoning-trainer/core/monitoring"
	"reasoning-trainer/core/repository"
	"reasoning-trainer/core/testutil"
	"reasoning-trainer/storage"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModels struct{}

func (stubModels) ListModels(context.Context) ([]string, error) {
	return nil, errors.New("connection refused")
}
func (stubModels) DefaultModel() string { return "gpt-oss-20b" }

func newRouter(t *testing.T, remote *testutil.FakeExecutor) http.Handler {
	t.Helper()
	logger := logging.Nop()

	store := repository.NewMemoryStore()
	registry := repository.NewJobRegistry(store, store, logger)
	monitor := monitoring.NewJobMonitor(registry, remote, time.Hour, time.Hour, logger)
	t.Cleanup(monitor.Shutdown)

	blobs, err := storage.NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)
	datasets := storage.NewDatasetManager(blobs, store, logger)

	trainer := executor.NewTrainingExecutor(remote, registry, monitor, datasets, executor.TrainingPaths{
		WorkRoot:         "/tmp",
		TrainedModelsDir: "/opt/models/trained",
		BaseModelPath:    "/opt/models/gpt-oss-20b",
		PythonBin:        "python3",
	}, logger)
	pipeline := enhancer.NewPipeline(remote, enhancer.Options{DefaultModel: "gpt-oss-20b"}, logger)
	costs := monitoring.NewCostTracker(registry, 0.5, time.Hour, logger)
	backend := monitoring.NewBackendChecker(remote, stubModels{}, nil, "", costs, logger)

	r := mux.NewRouter()
	routes.SetupRoutes(r, routes.Handlers{
		Training:  handlers.NewTrainingHandler(trainer, logger),
		Prompts:   handlers.NewPromptHandler(pipeline, logger),
		Models:    handlers.NewModelHandler(trainer, backend),
		Datasets:  handlers.NewDatasetHandler(datasets, logger),
		Dashboard: handlers.NewDashboardHandler(registry, costs, monitoring.NewMetricsExporter(registry, costs)),
		Health:    handlers.NewHealthHandler(backend),
	})
	return r
}

func launchingRemote() *testutil.FakeExecutor {
	return &testutil.FakeExecutor{
		ExecuteFunc: func(_ context.Context, command string) (executor.CommandResult, error) {
			if strings.Contains(command, "nohup") {
				return executor.CommandResult{Success: true, Stdout: "4242\n"}, nil
			}
			return executor.CommandResult{Success: true}, nil
		},
	}
}

func do(t *testing.T, h http.Handler, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

const trainingBody = `{"training_data": [{"input_prompt": "What is 2+2?", "enhanced_prompt": "Explain step by step."}]}`

func TestTrainingLifecycle(t *testing.T) {
	router := newRouter(t, launchingRemote())

	rec := do(t, router, http.MethodPost, "/training/start", "application/json", []byte(trainingBody))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	started := decode(t, rec)
	id := started["training_id"].(string)
	assert.Equal(t, "running", started["status"])
	assert.Equal(t, executor.ModelVersionPrefix+id, started["model_version"])

	rec = do(t, router, http.MethodPost, "/training/stop/"+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decode(t, rec)["status"])

	rec = do(t, router, http.MethodGet, "/training/status/"+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decode(t, rec)["status"])

	rec = do(t, router, http.MethodGet, "/training/"+id+"/events", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["items"], 2)

	rec = do(t, router, http.MethodGet, "/training/jobs?status=running", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["items"])
}

func TestStartTrainingFromYAML(t *testing.T) {
	router := newRouter(t, launchingRemote())
	spec := "training:\n  data:\n    - input_prompt: a\n      enhanced_prompt: b\n  hyperparameters:\n    num_epochs: 2\n"

	rec := do(t, router, http.MethodPost, "/training/start", "application/x-yaml; charset=utf-8", []byte(spec))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decode(t, rec)["example_count"])
}

func TestTrainingErrorStatuses(t *testing.T) {
	unreachable := &testutil.FakeExecutor{
		ExecuteFunc: func(context.Context, string) (executor.CommandResult, error) {
			return executor.CommandResult{}, errors.New("ssh: handshake failed")
		},
	}

	tests := []struct {
		name   string
		remote *testutil.FakeExecutor
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed json", launchingRemote(), http.MethodPost, "/training/start", "{", http.StatusBadRequest},
		{"no data", launchingRemote(), http.MethodPost, "/training/start", `{"training_data": []}`, http.StatusBadRequest},
		{"backend down", unreachable, http.MethodPost, "/training/start", trainingBody, http.StatusBadGateway},
		{"unknown status", launchingRemote(), http.MethodGet, "/training/status/nope", "", http.StatusNotFound},
		{"unknown stop", launchingRemote(), http.MethodPost, "/training/stop/nope", "", http.StatusNotFound},
		{"bad limit", launchingRemote(), http.MethodGet, "/training/x/events?limit=-1", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newRouter(t, tt.remote), tt.method, tt.path, "application/json", []byte(tt.body))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestEnhanceFallsBackWhenModelIsDown(t *testing.T) {
	router := newRouter(t, &testutil.FakeExecutor{})

	rec := do(t, router, http.MethodPost, "/prompt/enhance", "application/json",
		[]byte(`{"prompt": "plan a trip", "enhancement_type": "creativity"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, string(enhancer.OutcomeFallback), body["outcome"])
	assert.Equal(t, enhancer.FallbackText("creativity", "plan a trip"), body["enhanced_prompt"])

	rec = do(t, router, http.MethodPost, "/prompt/enhance", "application/json", []byte(`{"prompt": "  "}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnhanceStreamWritesServerSentEvents(t *testing.T) {
	remote := &testutil.FakeExecutor{
		GenerateStreamFunc: func(context.Context, string, string) <-chan executor.StreamChunk {
			return testutil.Chunks(
				executor.StreamChunk{Success: true, Content: "Think "},
				executor.StreamChunk{Success: true, Content: "carefully."},
				executor.StreamChunk{Success: true, Done: true},
			)
		},
	}
	router := newRouter(t, remote)

	rec := do(t, router, http.MethodPost, "/prompt/enhance/stream", "application/json", []byte(`{"prompt": "p"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 5)

	var last models.GenerationEvent
	for _, frame := range frames {
		require.True(t, strings.HasPrefix(frame, "data: "))
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &last))
	}
	assert.Equal(t, models.GenerationEventComplete, last.Type)
}

func multipartUpload(t *testing.T, filename, content string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("dataset_name", "math"))
	require.NoError(t, mw.WriteField("description", "arithmetic"))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestDatasetUploadAndTrain(t *testing.T) {
	router := newRouter(t, launchingRemote())

	body, contentType := multipartUpload(t, "math.jsonl",
		`{"input_prompt": "What is 2+2?", "enhanced_prompt": "Explain step by step."}`+"\n")
	rec := do(t, router, http.MethodPost, "/data/upload", contentType, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode(t, rec)["dataset_id"].(string)

	rec = do(t, router, http.MethodGet, "/data/datasets", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["items"], 1)

	rec = do(t, router, http.MethodGet, "/data/dataset/"+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["sample_data"], 1)

	rec = do(t, router, http.MethodPost, "/training/start", "application/json", []byte(`{"dataset_id": "`+id+`"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body, contentType = multipartUpload(t, "data.parquet", "PAR1")
	rec = do(t, router, http.MethodPost, "/data/upload", contentType, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/data/dataset/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	router := newRouter(t, launchingRemote())

	rec := do(t, router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, true, body["backend"].(map[string]interface{})["reachable"])

	rec = do(t, router, http.MethodPost, "/training/start", "application/json", []byte(trainingBody))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `trainer_jobs{status="running"} 1`)

	rec = do(t, router, http.MethodGet, "/dashboard/summary", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["jobs"].(map[string]interface{})["running"])

	rec = do(t, router, http.MethodGet, "/model/info", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, router, http.MethodGet, "/model/versions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"base"}, decode(t, rec)["versions"])
}
