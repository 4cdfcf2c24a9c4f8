package frameworks

import (
	"encoding/json"
	"fmt"
	"strconv"

	"reasoning-trainer/core/models"
)

// File names inside a job's working directory
const (
	ScriptFileName = "train_reasoning_enhancer.py"
	ConfigFileName = "job_config.json"
	DataFileName   = "training_data.json"
	LogFileName    = "training.log"
)

// LoRASetup renders the fine-tuning job for a causal LM with optional LoRA adapters
type LoRASetup struct{}

// JobConfigFile carries every string value the script needs. Strings never
// appear in the script text itself.
type JobConfigFile struct {
	TrainingID    string `json:"training_id"`
	ModelName     string `json:"model_name"`
	BaseModelPath string `json:"base_model_path"`
	OutputDir     string `json:"output_dir"`
	DataFile      string `json:"data_file"`
}

// JobFiles is the content transferred to the job's working directory
type JobFiles struct {
	Script []byte
	Config []byte
	Data   []byte
}

// PrepareJob validates the configuration and renders all job files
func (s *LoRASetup) PrepareJob(
	jobConfig JobConfigFile,
	modelConfig models.ModelConfig,
	trainingConfig models.TrainingConfig,
	items []models.TrainingDataItem,
) (*JobFiles, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("training data is empty")
	}

	script, err := s.GenerateTrainingScript(modelConfig, trainingConfig)
	if err != nil {
		return nil, err
	}

	jobConfig.DataFile = DataFileName
	configJSON, err := json.MarshalIndent(jobConfig, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode job config: %w", err)
	}

	records := make([]models.TrainingRecord, len(items))
	for i, item := range items {
		records[i] = item.ToRecord()
	}
	dataJSON, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode training data: %w", err)
	}

	return &JobFiles{
		Script: []byte(script),
		Config: configJSON,
		Data:   dataJSON,
	}, nil
}

// GenerateTrainingScript renders the Python training script. Only numeric and
// boolean literals are interpolated.
func (s *LoRASetup) GenerateTrainingScript(modelConfig models.ModelConfig, trainingConfig models.TrainingConfig) (string, error) {
	if err := ValidateModelConfig(modelConfig); err != nil {
		return "", fmt.Errorf("invalid model config: %w", err)
	}
	if err := ValidateTrainingConfig(trainingConfig); err != nil {
		return "", fmt.Errorf("invalid training config: %w", err)
	}

	return fmt.Sprintf(scriptTemplate,
		strconv.Itoa(modelConfig.MaxLength),
		pyBool(trainingConfig.LoRAEnabled()),
		strconv.Itoa(trainingConfig.LoRAR),
		strconv.Itoa(trainingConfig.LoRAAlpha),
		pyFloat(trainingConfig.LoRADropout),
		strconv.Itoa(trainingConfig.NumEpochs),
		strconv.Itoa(trainingConfig.BatchSize),
		strconv.Itoa(trainingConfig.GradientAccumulationSteps),
		strconv.Itoa(trainingConfig.WarmupSteps),
		pyFloat(trainingConfig.MaxGradNorm),
		pyFloat(modelConfig.LearningRate),
		strconv.Itoa(trainingConfig.LoggingSteps),
		strconv.Itoa(trainingConfig.SaveSteps),
		strconv.Itoa(trainingConfig.EvalSteps),
	), nil
}

const scriptTemplate = `#!/usr/bin/env python3
import json
import logging
import os

import torch
from datasets import Dataset
from peft import LoraConfig, get_peft_model, prepare_model_for_kbit_training
from transformers import (
    AutoModelForCausalLM,
    AutoTokenizer,
    DataCollatorForLanguageModeling,
    Trainer,
    TrainerCallback,
    TrainingArguments,
)

logging.basicConfig(level=logging.INFO)
logger = logging.getLogger(__name__)

MAX_LENGTH = %s
USE_LORA = %s
LORA_R = %s
LORA_ALPHA = %s
LORA_DROPOUT = %s
NUM_EPOCHS = %s
BATCH_SIZE = %s
GRADIENT_ACCUMULATION_STEPS = %s
WARMUP_STEPS = %s
MAX_GRAD_NORM = %s
LEARNING_RATE = %s
LOGGING_STEPS = %s
SAVE_STEPS = %s
EVAL_STEPS = %s


def load_json(name):
    with open(os.path.join(os.path.dirname(os.path.abspath(__file__)), name), "r") as f:
        return json.load(f)


def format_prompt(instruction, input_text, output_text):
    return f"### Instruction:\n{instruction}\n\n### Input:\n{input_text}\n\n### Response:\n{output_text}"


def tokenize_data(examples, tokenizer):
    prompts = [
        format_prompt(examples["instruction"][i], examples["input"][i], examples["output"][i])
        for i in range(len(examples["instruction"]))
    ]
    tokenized = tokenizer(prompts, truncation=True, padding=False, max_length=MAX_LENGTH, return_tensors=None)
    tokenized["labels"] = tokenized["input_ids"].copy()
    return tokenized


class ProgressCallback(TrainerCallback):
    def on_log(self, args, state, control, logs=None, **kwargs):
        if logs:
            logger.info(json.dumps(logs))

    def on_epoch_end(self, args, state, control, **kwargs):
        loss = None
        for entry in reversed(state.log_history):
            if "loss" in entry:
                loss = entry["loss"]
                break
        epoch = int(round(state.epoch or 0))
        if loss is None:
            print(f"Epoch {epoch}/{NUM_EPOCHS}", flush=True)
        else:
            print(f"Epoch {epoch}/{NUM_EPOCHS} - Loss: {loss:.4f}", flush=True)


def main():
    job = load_json("job_config.json")
    model_path = job["base_model_path"]

    logger.info(f"Loading model {job['model_name']} from {model_path}")
    tokenizer = AutoTokenizer.from_pretrained(model_path)
    if tokenizer.pad_token is None:
        tokenizer.pad_token = tokenizer.eos_token

    model = AutoModelForCausalLM.from_pretrained(
        model_path,
        torch_dtype=torch.float16,
        device_map="auto",
        trust_remote_code=True,
    )
    model = prepare_model_for_kbit_training(model)

    if USE_LORA:
        lora_config = LoraConfig(
            r=LORA_R,
            lora_alpha=LORA_ALPHA,
            target_modules=["q_proj", "v_proj", "k_proj", "o_proj"],
            lora_dropout=LORA_DROPOUT,
            bias="none",
            task_type="CAUSAL_LM",
        )
        model = get_peft_model(model, lora_config)

    dataset = Dataset.from_list(load_json(job["data_file"]))
    tokenized = dataset.map(
        lambda examples: tokenize_data(examples, tokenizer),
        batched=True,
        remove_columns=dataset.column_names,
    )

    split = tokenized.train_test_split(test_size=0.1) if len(tokenized) >= 10 else None
    train_dataset = split["train"] if split else tokenized
    eval_dataset = split["test"] if split else tokenized

    training_args = TrainingArguments(
        output_dir=os.path.join(os.path.dirname(os.path.abspath(__file__)), "results"),
        overwrite_output_dir=True,
        num_train_epochs=NUM_EPOCHS,
        per_device_train_batch_size=BATCH_SIZE,
        gradient_accumulation_steps=GRADIENT_ACCUMULATION_STEPS,
        warmup_steps=WARMUP_STEPS,
        max_grad_norm=MAX_GRAD_NORM,
        learning_rate=LEARNING_RATE,
        fp16=True,
        logging_steps=LOGGING_STEPS,
        save_steps=SAVE_STEPS,
        eval_steps=EVAL_STEPS,
        eval_strategy="steps",
        save_strategy="steps",
        load_best_model_at_end=True,
        ddp_find_unused_parameters=False,
        report_to=[],
    )

    trainer = Trainer(
        model=model,
        args=training_args,
        train_dataset=train_dataset,
        eval_dataset=eval_dataset,
        data_collator=DataCollatorForLanguageModeling(tokenizer=tokenizer, mlm=False),
        callbacks=[ProgressCallback()],
    )

    logger.info("Starting training...")
    trainer.train()

    output_dir = job["output_dir"]
    trainer.save_model(output_dir)
    tokenizer.save_pretrained(output_dir)
    logger.info(f"Training completed. Model saved to {output_dir}")


if __name__ == "__main__":
    main()
`
