package frameworks

import (
	"fmt"
	"strconv"

	"reasoning-trainer/core/models"
)

// ValidateModelConfig checks model settings before they are rendered into a script
func ValidateModelConfig(cfg models.ModelConfig) error {
	if cfg.ModelName == "" {
		return fmt.Errorf("model_name is required")
	}
	if cfg.MaxLength <= 0 {
		return fmt.Errorf("max_length must be positive, got %d", cfg.MaxLength)
	}
	if cfg.LearningRate <= 0 || cfg.LearningRate >= 1 {
		return fmt.Errorf("learning_rate must be in (0, 1), got %g", cfg.LearningRate)
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2], got %g", cfg.Temperature)
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		return fmt.Errorf("top_p must be in (0, 1], got %g", cfg.TopP)
	}
	return nil
}

// ValidateTrainingConfig checks hyperparameters before they are rendered into a script
func ValidateTrainingConfig(cfg models.TrainingConfig) error {
	positive := []struct {
		name  string
		value int
	}{
		{"num_epochs", cfg.NumEpochs},
		{"batch_size", cfg.BatchSize},
		{"gradient_accumulation_steps", cfg.GradientAccumulationSteps},
		{"save_steps", cfg.SaveSteps},
		{"eval_steps", cfg.EvalSteps},
		{"logging_steps", cfg.LoggingSteps},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}
	if cfg.WarmupSteps < 0 {
		return fmt.Errorf("warmup_steps must not be negative, got %d", cfg.WarmupSteps)
	}
	if cfg.MaxGradNorm <= 0 {
		return fmt.Errorf("max_grad_norm must be positive, got %g", cfg.MaxGradNorm)
	}
	if cfg.LoRAEnabled() {
		if cfg.LoRAR <= 0 || cfg.LoRAAlpha <= 0 {
			return fmt.Errorf("lora_r and lora_alpha must be positive")
		}
		if cfg.LoRADropout < 0 || cfg.LoRADropout >= 1 {
			return fmt.Errorf("lora_dropout must be in [0, 1), got %g", cfg.LoRADropout)
		}
	}
	return nil
}

// pyFloat renders a float as a Python literal
func pyFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	for _, c := range s {
		if c == '.' || c == 'e' || c == 'E' {
			return s
		}
	}
	return s + ".0"
}

// pyBool renders a bool as a Python literal
func pyBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
