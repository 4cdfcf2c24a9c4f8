package spec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"reasoning-trainer/core/errs"
	"reasoning-trainer/core/models"

	"gopkg.in/yaml.v3"
)

// TrainingSpec represents a YAML training request
type TrainingSpec struct {
	Training TrainingSpecBody `yaml:"training"`
}

// TrainingSpecBody represents the training section of the spec
type TrainingSpecBody struct {
	Dataset         string                    `yaml:"dataset"`
	Data            []models.TrainingDataItem `yaml:"data"`
	Model           models.ModelConfig        `yaml:"model"`
	Hyperparameters models.TrainingConfig     `yaml:"hyperparameters"`
}

// ParseTrainingSpec parses a YAML training specification into a request with
// defaults applied. Unknown keys are rejected.
//
//	training:
//	  dataset: 6f1c...        # or inline data:
//	  data:
//	    - input_prompt: ...
//	      enhanced_prompt: ...
//	  model:
//	    model_name: gpt-oss-20b
//	  hyperparameters:
//	    num_epochs: 3
func ParseTrainingSpec(specYAML []byte) (*models.TrainingRequest, error) {
	var spec TrainingSpec
	dec := yaml.NewDecoder(bytes.NewReader(specYAML))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errs.Newf(errs.CodeInvalidInput, "training spec is empty")
		}
		return nil, errs.New(errs.CodeInvalidInput, fmt.Errorf("failed to parse YAML: %w", err))
	}

	body := spec.Training
	if len(body.Data) == 0 && body.Dataset == "" {
		return nil, errs.Newf(errs.CodeInvalidInput, "training spec needs either data or a dataset")
	}
	if len(body.Data) > 0 && body.Dataset != "" {
		return nil, errs.Newf(errs.CodeInvalidInput, "training spec may name data or a dataset, not both")
	}
	for i, item := range body.Data {
		if item.InputPrompt == "" || item.EnhancedPrompt == "" {
			return nil, errs.Newf(errs.CodeInvalidInput, "data[%d]: input_prompt and enhanced_prompt are required", i)
		}
	}

	return &models.TrainingRequest{
		TrainingData:   body.Data,
		DatasetID:      body.Dataset,
		ModelConfig:    body.Model.WithDefaults(),
		TrainingConfig: body.Hyperparameters.WithDefaults(),
	}, nil
}
