package models

// TrainingDataItem is one prompt-enhancement example supplied by the caller
type TrainingDataItem struct {
	InputPrompt    string   `json:"input_prompt" yaml:"input_prompt"`
	EnhancedPrompt string   `json:"enhanced_prompt" yaml:"enhanced_prompt"`
	ReasoningSteps []string `json:"reasoning_steps,omitempty" yaml:"reasoning_steps"`
	Category       string   `json:"category" yaml:"category"`
	Difficulty     string   `json:"difficulty,omitempty" yaml:"difficulty"`
}

// TrainingRecord is the shape of each entry in the training data file sent to the backend
type TrainingRecord struct {
	Instruction    string   `json:"instruction"`
	Input          string   `json:"input"`
	Output         string   `json:"output"`
	ReasoningSteps []string `json:"reasoning_steps"`
	Category       string   `json:"category"`
	Difficulty     string   `json:"difficulty"`
}

// TrainingInstruction is the instruction attached to every training record
const TrainingInstruction = "Enhance the following prompt for better reasoning:"

// ToRecord converts an item into the backend training record format
func (item TrainingDataItem) ToRecord() TrainingRecord {
	steps := item.ReasoningSteps
	if steps == nil {
		steps = []string{}
	}
	difficulty := item.Difficulty
	if difficulty == "" {
		difficulty = "medium"
	}
	return TrainingRecord{
		Instruction:    TrainingInstruction,
		Input:          item.InputPrompt,
		Output:         item.EnhancedPrompt,
		ReasoningSteps: steps,
		Category:       item.Category,
		Difficulty:     difficulty,
	}
}

// ModelConfig describes the base model and sampling parameters
type ModelConfig struct {
	ModelName    string  `json:"model_name" yaml:"model_name"`
	MaxLength    int     `json:"max_length" yaml:"max_length"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
	TopP         float64 `json:"top_p" yaml:"top_p"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
}

// TrainingConfig holds fine-tuning hyperparameters
type TrainingConfig struct {
	NumEpochs                 int     `json:"num_epochs" yaml:"num_epochs"`
	BatchSize                 int     `json:"batch_size" yaml:"batch_size"`
	GradientAccumulationSteps int     `json:"gradient_accumulation_steps" yaml:"gradient_accumulation_steps"`
	WarmupSteps               int     `json:"warmup_steps" yaml:"warmup_steps"`
	SaveSteps                 int     `json:"save_steps" yaml:"save_steps"`
	EvalSteps                 int     `json:"eval_steps" yaml:"eval_steps"`
	LoggingSteps              int     `json:"logging_steps" yaml:"logging_steps"`
	MaxGradNorm               float64 `json:"max_grad_norm" yaml:"max_grad_norm"`
	UseLoRA                   *bool   `json:"use_lora,omitempty" yaml:"use_lora"`
	LoRAR                     int     `json:"lora_r" yaml:"lora_r"`
	LoRAAlpha                 int     `json:"lora_alpha" yaml:"lora_alpha"`
	LoRADropout               float64 `json:"lora_dropout" yaml:"lora_dropout"`
}

// DefaultModelConfig returns the model settings used when a request leaves them unset
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		ModelName:    "gpt-oss-20b",
		MaxLength:    2048,
		Temperature:  0.7,
		TopP:         0.9,
		LearningRate: 5e-5,
	}
}

// DefaultTrainingConfig returns the hyperparameters used when a request leaves them unset
func DefaultTrainingConfig() TrainingConfig {
	useLoRA := true
	return TrainingConfig{
		NumEpochs:                 3,
		BatchSize:                 4,
		GradientAccumulationSteps: 4,
		WarmupSteps:               100,
		SaveSteps:                 500,
		EvalSteps:                 250,
		LoggingSteps:              50,
		MaxGradNorm:               1.0,
		UseLoRA:                   &useLoRA,
		LoRAR:                     16,
		LoRAAlpha:                 32,
		LoRADropout:               0.1,
	}
}

// WithDefaults fills zero-valued fields from DefaultModelConfig
func (c ModelConfig) WithDefaults() ModelConfig {
	d := DefaultModelConfig()
	if c.ModelName == "" {
		c.ModelName = d.ModelName
	}
	if c.MaxLength == 0 {
		c.MaxLength = d.MaxLength
	}
	if c.Temperature == 0 {
		c.Temperature = d.Temperature
	}
	if c.TopP == 0 {
		c.TopP = d.TopP
	}
	if c.LearningRate == 0 {
		c.LearningRate = d.LearningRate
	}
	return c
}

// WithDefaults fills zero-valued fields from DefaultTrainingConfig
func (c TrainingConfig) WithDefaults() TrainingConfig {
	d := DefaultTrainingConfig()
	if c.NumEpochs == 0 {
		c.NumEpochs = d.NumEpochs
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.GradientAccumulationSteps == 0 {
		c.GradientAccumulationSteps = d.GradientAccumulationSteps
	}
	if c.WarmupSteps == 0 {
		c.WarmupSteps = d.WarmupSteps
	}
	if c.SaveSteps == 0 {
		c.SaveSteps = d.SaveSteps
	}
	if c.EvalSteps == 0 {
		c.EvalSteps = d.EvalSteps
	}
	if c.LoggingSteps == 0 {
		c.LoggingSteps = d.LoggingSteps
	}
	if c.MaxGradNorm == 0 {
		c.MaxGradNorm = d.MaxGradNorm
	}
	if c.UseLoRA == nil {
		c.UseLoRA = d.UseLoRA
	}
	if c.LoRAR == 0 {
		c.LoRAR = d.LoRAR
	}
	if c.LoRAAlpha == 0 {
		c.LoRAAlpha = d.LoRAAlpha
	}
	if c.LoRADropout == 0 {
		c.LoRADropout = d.LoRADropout
	}
	return c
}

// LoRAEnabled reports whether adapter training is switched on
func (c TrainingConfig) LoRAEnabled() bool {
	return c.UseLoRA == nil || *c.UseLoRA
}
