package enhancer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"time"

	"reasoning-trainer/core/executor"
	"reasoning-trainer/core/models"
	"reasoning-trainer/storage/kv"

	"github.com/ternarybob/arbor"
)

// Outcome tells how an enhancement was produced
type Outcome string

const (
	// OutcomeRemote means the backend model produced the text
	OutcomeRemote Outcome = "remote"
	// OutcomeFallback means the backend failed and the local template was used
	OutcomeFallback Outcome = "fallback"
	// OutcomeError means no enhancement was produced at all
	OutcomeError Outcome = "error"
)

// Result is the outcome of a non-streaming enhancement
type Result struct {
	Text    string  `json:"enhanced_prompt"`
	Outcome Outcome `json:"outcome"`
	Model   string  `json:"model,omitempty"`
	Cause   string  `json:"cause,omitempty"`
	Cached  bool    `json:"cached,omitempty"`
}

// Stream progress milestones
const (
	progressAnalyzing     = 10.0
	progressConnecting    = 20.0
	progressFallbackStart = 30.0
	progressContentEnd    = 90.0
	progressDone          = 100.0

	fallbackChunks = 10
)

// Options tunes a Pipeline
type Options struct {
	DefaultModel string
	// ChunkDelay paces fallback chunks in a stream
	ChunkDelay time.Duration
	// ExpectedChunks scales remote stream progress into the content range
	ExpectedChunks int
	Cache          kv.Store
	CacheTTL       time.Duration
}

// Pipeline turns a raw prompt into an enhanced one, using the backend model
// when it is available and a local template when it is not
type Pipeline struct {
	generator executor.Generator
	opts      Options
	logger    arbor.ILogger
}

// NewPipeline creates a new enhancement pipeline
func NewPipeline(generator executor.Generator, opts Options, logger arbor.ILogger) *Pipeline {
	if opts.ExpectedChunks <= 0 {
		opts.ExpectedChunks = 200
	}
	if opts.ChunkDelay < 0 {
		opts.ChunkDelay = 0
	}
	return &Pipeline{
		generator: generator,
		opts:      opts,
		logger:    logger,
	}
}

// Enhance produces an enhanced prompt. Backend failures yield the category's
// fallback template; only an empty prompt or a cancelled context yield
// OutcomeError.
func (p *Pipeline) Enhance(ctx context.Context, prompt, category, model string) Result {
	if strings.TrimSpace(prompt) == "" {
		return Result{Outcome: OutcomeError, Cause: "prompt is empty"}
	}
	model = p.model(model)
	key := cacheKey(model, category, prompt)

	if text, ok := p.cached(ctx, key); ok {
		return Result{Text: text, Outcome: OutcomeRemote, Model: model, Cached: true}
	}

	res := p.generator.Generate(ctx, BuildInstruction(category, prompt), model)
	if err := ctx.Err(); err != nil {
		return Result{Outcome: OutcomeError, Model: model, Cause: err.Error()}
	}
	if !res.Success {
		p.logger.Warn().Str("model", model).Str("cause", res.Error).Msg("Generation failed, using fallback enhancement")
		return p.fallback(category, prompt, model, res.Error)
	}

	text := ExtractEnhanced(res.Text)
	if text == "" {
		p.logger.Warn().Str("model", model).Msg("Model returned an empty enhancement, using fallback")
		return p.fallback(category, prompt, model, "empty response")
	}

	p.remember(ctx, key, text)
	if res.Model != "" {
		model = res.Model
	}
	return Result{Text: text, Outcome: OutcomeRemote, Model: model}
}

func (p *Pipeline) fallback(category, prompt, model, cause string) Result {
	return Result{
		Text:    FallbackText(category, prompt),
		Outcome: OutcomeFallback,
		Model:   model,
		Cause:   cause,
	}
}

// EnhanceStream emits the enhancement as a sequence of events. The channel is
// closed after exactly one complete or error event, or early when ctx is
// cancelled. Progress never decreases.
func (p *Pipeline) EnhanceStream(ctx context.Context, prompt, category, model string) <-chan models.GenerationEvent {
	out := make(chan models.GenerationEvent)

	go func() {
		defer close(out)
		s := &eventStream{ctx: ctx, out: out}

		if strings.TrimSpace(prompt) == "" {
			s.send(models.GenerationEvent{Type: models.GenerationEventError, Message: "prompt is empty"})
			return
		}
		model = p.model(model)

		if !s.status("Analyzing prompt...", progressAnalyzing) {
			return
		}
		if !s.status("Connecting to model...", progressConnecting) {
			return
		}

		cause, ok := p.streamRemote(s, prompt, category, model)
		if !ok {
			s.abort()
			return
		}
		if cause == "" {
			s.send(models.GenerationEvent{Type: models.GenerationEventComplete, Progress: progressDone})
			return
		}

		p.logger.Warn().Str("model", model).Str("cause", cause).Msg("Generation stream failed, streaming fallback enhancement")
		if !p.streamFallback(s, FallbackText(category, prompt)) {
			s.abort()
			return
		}
		if !s.status("Enhancement complete", progressDone) {
			return
		}
		s.send(models.GenerationEvent{Type: models.GenerationEventComplete, Progress: progressDone})
	}()

	return out
}

// streamRemote forwards backend deltas as content events. cause is empty when
// the backend finished with content; ok is false once ctx is cancelled.
func (p *Pipeline) streamRemote(s *eventStream, prompt, category, model string) (cause string, ok bool) {
	chunks := p.generator.GenerateStream(s.ctx, BuildInstruction(category, prompt), model)

	received := 0
	finished := false
	for chunk := range chunks {
		if !chunk.Success {
			cause = chunk.Error
			if cause == "" {
				cause = "stream failed"
			}
			break
		}
		if chunk.Content != "" {
			received++
			progress := progressConnecting + (progressContentEnd-progressConnecting)*
				min(1, float64(received)/float64(p.opts.ExpectedChunks))
			if !s.content(chunk.Content, progress) {
				return "", false
			}
		}
		if chunk.Done {
			finished = true
			break
		}
	}

	if s.ctx.Err() != nil {
		return "", false
	}
	switch {
	case cause != "":
		return cause, true
	case !finished:
		return "stream ended unexpectedly", true
	case received == 0:
		return "empty response", true
	}
	return "", true
}

// streamFallback re-emits text in roughly equal word groups, mapped into the
// upper content range and paced by the chunk delay
func (p *Pipeline) streamFallback(s *eventStream, text string) bool {
	pieces := splitWords(text, fallbackChunks)
	start := max(progressFallbackStart, s.progress)

	for i, piece := range pieces {
		progress := start + (progressContentEnd-start)*float64(i+1)/float64(len(pieces))
		if !s.content(piece, progress) {
			return false
		}
		if p.opts.ChunkDelay > 0 && i < len(pieces)-1 {
			timer := time.NewTimer(p.opts.ChunkDelay)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return false
			case <-timer.C:
			}
		}
	}
	return true
}

func (p *Pipeline) model(model string) string {
	if model == "" || model == executor.BaseModelVersion {
		return p.opts.DefaultModel
	}
	return model
}

func (p *Pipeline) cached(ctx context.Context, key string) (string, bool) {
	if p.opts.Cache == nil {
		return "", false
	}
	value, err := p.opts.Cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			p.logger.Warn().Err(err).Msg("Enhancement cache lookup failed")
		}
		return "", false
	}
	return string(value), true
}

func (p *Pipeline) remember(ctx context.Context, key, text string) {
	if p.opts.Cache == nil {
		return
	}
	if err := p.opts.Cache.Set(ctx, key, []byte(text), p.opts.CacheTTL); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to cache enhancement")
	}
}

func cacheKey(model, category, prompt string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + NormalizeCategory(category) + "\x00" + prompt))
	return "enhance:" + hex.EncodeToString(sum[:])
}

var wordRe = regexp.MustCompile(`\S+\s*`)

// splitWords groups the words of text into at most n pieces. Joined back
// together the pieces reproduce text without its leading whitespace.
func splitWords(text string, n int) []string {
	words := wordRe.FindAllString(text, -1)
	if len(words) == 0 {
		return nil
	}
	size := (len(words) + n - 1) / n

	pieces := make([]string, 0, n)
	for i := 0; i < len(words); i += size {
		end := min(i+size, len(words))
		pieces = append(pieces, strings.Join(words[i:end], ""))
	}
	return pieces
}

// eventStream sends events to the consumer and tracks the last progress value
type eventStream struct {
	ctx      context.Context
	out      chan<- models.GenerationEvent
	progress float64
}

func (s *eventStream) send(ev models.GenerationEvent) bool {
	select {
	case s.out <- ev:
		if ev.Progress > s.progress {
			s.progress = ev.Progress
		}
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *eventStream) status(message string, progress float64) bool {
	return s.send(models.GenerationEvent{Type: models.GenerationEventStatus, Message: message, Progress: progress})
}

func (s *eventStream) content(text string, progress float64) bool {
	return s.send(models.GenerationEvent{Type: models.GenerationEventContent, Content: text, Progress: max(progress, s.progress)})
}

// abort offers a final error event without blocking, in case the consumer is
// still reading after cancellation
func (s *eventStream) abort() {
	select {
	case s.out <- models.GenerationEvent{Type: models.GenerationEventError, Message: "enhancement cancelled", Progress: s.progress}:
	default:
	}
}
