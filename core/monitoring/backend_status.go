package monitoring

import (
	"context"
	"strings"
	"time"

	"reasoning-trainer/core/executor"
	"reasoning-trainer/core/models"
	"reasoning-trainer/providers/aws"

	"github.com/ternarybob/arbor"
)

// ModelLister reports which models the inference server has available
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
	DefaultModel() string
}

// InstanceDescriber looks up the cloud instance behind the backend host
type InstanceDescriber interface {
	InstanceStatus(ctx context.Context, instanceID string) (*aws.InstanceInfo, error)
}

// RateSource reports the current hourly price of the backend host
type RateSource interface {
	HourlyPrice() float64
}

// BackendChecker reports on the backend host: whether commands reach it, which
// models it serves and, when it runs on EC2, the instance state
type BackendChecker struct {
	remote      executor.RemoteExecutor
	models      ModelLister
	instances   InstanceDescriber
	instanceID  string
	rates       RateSource
	logger      arbor.ILogger
	now         func() time.Time
}

// NewBackendChecker creates a new backend checker. instances may be nil when
// the host is not an EC2 instance, rates when no price is known.
func NewBackendChecker(
	remote executor.RemoteExecutor,
	modelLister ModelLister,
	instances InstanceDescriber,
	instanceID string,
	rates RateSource,
	logger arbor.ILogger,
) *BackendChecker {
	return &BackendChecker{
		remote:      remote,
		models:      modelLister,
		instances:   instances,
		instanceID:  instanceID,
		rates:       rates,
		logger:      logger,
		now:         time.Now,
	}
}

// Status probes the backend host
func (b *BackendChecker) Status(ctx context.Context) models.BackendStatus {
	status := models.BackendStatus{
		Model:     b.models.DefaultModel(),
		CheckedAt: b.now(),
	}
	if b.rates != nil {
		status.HourlyPrice = b.rates.HourlyPrice()
	}

	result, err := b.remote.Execute(ctx, executor.PingCommand())
	switch {
	case err != nil:
		status.Error = err.Error()
	case !result.Success:
		status.Error = strings.TrimSpace(result.Stderr)
	default:
		status.Reachable = true
	}

	available, err := b.models.ListModels(ctx)
	if err != nil {
		b.logger.Debug().Err(err).Msg("Inference server unavailable")
		if status.Error == "" {
			status.Error = err.Error()
		}
	} else {
		status.ModelLoaded = hasModel(available, status.Model)
	}

	if b.instances != nil && b.instanceID != "" {
		info, err := b.instances.InstanceStatus(ctx, b.instanceID)
		if err != nil {
			b.logger.Warn().Err(err).Str("instance_id", b.instanceID).Msg("Failed to describe backend instance")
		} else {
			status.InstanceID = info.InstanceID
			status.InstanceType = info.InstanceType
			status.State = info.State
			status.PublicIP = info.PublicIP
			status.PrivateIP = info.PrivateIP
		}
	}

	return status
}

// ModelInfo lists the served models and whether the default one is among them
func (b *BackendChecker) ModelInfo(ctx context.Context) (models.ModelInfo, error) {
	info := models.ModelInfo{Model: b.models.DefaultModel()}

	available, err := b.models.ListModels(ctx)
	if err != nil {
		return info, err
	}
	info.AvailableModels = available
	info.Loaded = hasModel(available, info.Model)
	return info, nil
}

// hasModel matches name with or without an Ollama ":tag" suffix
func hasModel(available []string, name string) bool {
	for _, m := range available {
		if m == name || strings.SplitN(m, ":", 2)[0] == name {
			return true
		}
	}
	return false
}
