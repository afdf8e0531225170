package aiextract

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/contract-payments/internal/config"
	"github.com/sells-group/contract-payments/internal/cost"
	"github.com/sells-group/contract-payments/internal/model"
	"github.com/sells-group/contract-payments/internal/resilience"
	"github.com/sells-group/contract-payments/pkg/anthropic"
)

// ClarificationSink persists clarification questions.
type ClarificationSink interface {
	CreateClarification(ctx context.Context, c *model.Clarification) error
}

// Result is one successful extraction.
type Result struct {
	Response       *Response
	Clarifications []model.Clarification
	Model          string
	Usage          anthropic.TokenUsage
	CostUSD        float64
	Warnings       []string
	ExtractedAt    time.Time
}

// Audit returns the record kept in the contract's raw_extracted_data.
func (r *Result) Audit() map[string]any {
	return map[string]any{
		"extraction_method":    model.ExtractionAIAssisted,
		"ai_model":             r.Model,
		"extraction_timestamp": r.ExtractedAt.Format(time.RFC3339),
		"response_shape":       r.Response.Shape,
		"extracted_data":       r.Response.Data,
		"clarifications":       r.Response.Clarifications,
		"has_clarifications":   len(r.Response.Clarifications) > 0,
		"token_usage": map[string]int64{
			"prompt_tokens":     r.Usage.InputTokens,
			"completion_tokens": r.Usage.OutputTokens,
			"total_tokens":      r.Usage.InputTokens + r.Usage.OutputTokens,
		},
		"estimated_cost_usd": r.CostUSD,
	}
}

// Extractor asks the model for the payment data of one contract.
type Extractor struct {
	client  anthropic.Client
	cfg     config.AnthropicConfig
	sink    ClarificationSink
	costs   *cost.Calculator
	limiter *rate.Limiter
	retry   *resilience.RetryConfig
	now     func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLimiter paces model calls through a shared limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(e *Extractor) { e.limiter = l }
}

// WithRetry retries transient model failures with the given policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(e *Extractor) {
		if cfg.ShouldRetry == nil {
			cfg.ShouldRetry = IsRetryable
		}
		e.retry = &cfg
	}
}

// WithClock overrides the time source for clarification timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// New creates an Extractor. costs may be nil.
func New(client anthropic.Client, cfg config.AnthropicConfig, sink ClarificationSink, costs *cost.Calculator, opts ...Option) *Extractor {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.TimeoutSecs <= 0 {
		cfg.TimeoutSecs = 60
	}
	e := &Extractor{client: client, cfg: cfg, sink: sink, costs: costs, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract sends the page-marked contract text to the model, validates the
// answer and stores one clarification per question the model asked.
func (e *Extractor) Extract(ctx context.Context, contractID, fileName, text string) (*Result, error) {
	log := zap.L().With(zap.String("contract_id", contractID), zap.String("file", fileName))

	temp := e.cfg.Temperature
	req := anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(SystemInstruction),
		Messages:    []anthropic.Message{{Role: "user", Content: BuildPrompt(fileName, text, e.cfg.MaxPromptChars)}},
		Temperature: &temp,
	}

	resp, err := e.call(ctx, fileName, req)
	if err != nil {
		log.Error("aiextract: model call failed", zap.Error(err))
		return nil, err
	}

	parsed, err := ParseResponse(resp.Text())
	if err != nil {
		log.Error("aiextract: unusable model response", zap.Error(err))
		return nil, err
	}

	result := &Result{
		Response:    parsed,
		Model:       e.cfg.Model,
		Usage:       resp.Usage,
		ExtractedAt: e.now().UTC(),
	}
	if e.costs != nil {
		result.CostUSD = e.costs.Log(e.cfg.Model, fileName, resp.Usage)
	}

	for _, q := range parsed.Clarifications {
		c := model.Clarification{
			ID:             uuid.NewString(),
			ContractID:     contractID,
			FieldName:      q.Field,
			AIQuestion:     q.Question,
			ContextSnippet: q.Context,
			PageNumber:     q.Page,
			CreatedAt:      result.ExtractedAt,
		}
		if e.sink != nil {
			if err := e.sink.CreateClarification(ctx, &c); err != nil {
				log.Warn("aiextract: save clarification", zap.String("field", q.Field), zap.Error(err))
				result.Warnings = append(result.Warnings, "failed to save clarification for "+q.Field)
				continue
			}
		}
		result.Clarifications = append(result.Clarifications, c)
	}

	log.Info("aiextract: extraction complete",
		zap.String("shape", parsed.Shape),
		zap.Int("milestones", len(parsed.Data.Milestones)),
		zap.Int("clarifications", len(result.Clarifications)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return result, nil
}

func (e *Extractor) call(ctx context.Context, fileName string, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	once := func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, Classify(err)
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.TimeoutSecs)*time.Second)
		defer cancel()
		resp, err := e.client.CreateMessage(callCtx, req)
		if err != nil {
			return nil, Classify(err)
		}
		return resp, nil
	}
	if e.retry == nil {
		return once(ctx)
	}
	cfg := *e.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("model_call", fileName)
	}
	return resilience.DoVal(ctx, cfg, once)
}
