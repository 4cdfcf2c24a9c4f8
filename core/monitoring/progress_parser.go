package monitoring

import (
	"regexp"
	"strconv"
	"strings"

	"reasoning-trainer/core/models"
)

const numberPattern = `([-+]?\d*\.?\d+(?:[eE][-+]?\d+)?)`

var (
	epochRe        = regexp.MustCompile(`Epoch\s*[:=]?\s*(\d+)\s*/\s*(\d+)`)
	lossRe         = regexp.MustCompile(`([a-z_]*)loss['"]?\s*[:=]?\s*` + numberPattern)
	learningRateRe = regexp.MustCompile(`learning_rate['"]?\s*[:=]?\s*` + numberPattern)
)

// completionMarker is matched case-sensitively
const completionMarker = "Training completed"

// ProgressUpdate is the partial record update derived from a batch of log lines.
// Nil fields were not observed.
type ProgressUpdate struct {
	CurrentEpoch *int
	Progress     *float64
	Loss         *float64
	EvalLoss     *float64
	LearningRate *float64
	Completed    bool
}

// Empty reports whether the batch carried no recognised signal
func (u ProgressUpdate) Empty() bool {
	return u.CurrentEpoch == nil && u.Progress == nil && u.Loss == nil &&
		u.EvalLoss == nil && u.LearningRate == nil && !u.Completed
}

// ParseProgress scans lines in order; when a field is matched more than once the
// last match wins. totalEpochs comes from the job record; when it is not
// positive the total printed on the epoch line is used instead.
func ParseProgress(lines []string, totalEpochs int) ProgressUpdate {
	var u ProgressUpdate

	for _, line := range lines {
		if strings.Contains(line, "Epoch") {
			parseEpoch(line, totalEpochs, &u)
		}

		lower := strings.ToLower(line)
		if strings.Contains(lower, "loss") {
			parseLoss(lower, &u)
		}
		if strings.Contains(lower, "learning_rate") {
			if m := learningRateRe.FindStringSubmatch(lower); m != nil {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil {
					u.LearningRate = &v
				}
			}
		}

		if strings.Contains(line, completionMarker) {
			u.Completed = true
		}
	}

	if u.Completed {
		full := 100.0
		u.Progress = &full
	}
	return u
}

func parseEpoch(line string, totalEpochs int, u *ProgressUpdate) {
	m := epochRe.FindStringSubmatch(line)
	if m == nil {
		return
	}
	current, err := strconv.Atoi(m[1])
	if err != nil {
		return
	}
	total := totalEpochs
	if total <= 0 {
		if total, err = strconv.Atoi(m[2]); err != nil || total <= 0 {
			return
		}
	}
	if current < 0 {
		current = 0
	}
	if current > total {
		current = total
	}
	progress := float64(current) / float64(total) * 100
	u.CurrentEpoch = &current
	u.Progress = &progress
}

// parseLoss takes the first plain loss value on the line; eval_loss is kept separately
func parseLoss(lower string, u *ProgressUpdate) {
	var lossSet, evalSet bool
	for _, m := range lossRe.FindAllStringSubmatch(lower, -1) {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		if strings.HasSuffix(m[1], "eval_") {
			if !evalSet {
				u.EvalLoss = &v
				evalSet = true
			}
			continue
		}
		if !lossSet {
			u.Loss = &v
			lossSet = true
		}
	}
}

// Apply merges the update into job. Status changes are limited to Completed,
// and the caller is responsible for refusing transitions out of terminal states.
func (u ProgressUpdate) Apply(job *models.TrainingJob) {
	if u.CurrentEpoch != nil {
		job.CurrentEpoch = *u.CurrentEpoch
	}
	if u.Progress != nil {
		job.Progress = *u.Progress
	}
	if u.Loss != nil {
		v := *u.Loss
		job.Loss = &v
	}
	if u.EvalLoss != nil {
		v := *u.EvalLoss
		job.EvalLoss = &v
	}
	if u.LearningRate != nil {
		v := *u.LearningRate
		job.LearningRate = &v
	}
	if u.Completed {
		job.Status = models.TrainingStatusCompleted
		job.Progress = 100
	}
}
