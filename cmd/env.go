package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contract-payments/internal/aiextract"
	"github.com/sells-group/contract-payments/internal/archive"
	"github.com/sells-group/contract-payments/internal/clarify"
	"github.com/sells-group/contract-payments/internal/cost"
	"github.com/sells-group/contract-payments/internal/patterns"
	"github.com/sells-group/contract-payments/internal/pdftext"
	"github.com/sells-group/contract-payments/internal/processor"
	"github.com/sells-group/contract-payments/internal/resilience"
	"github.com/sells-group/contract-payments/internal/store"
	anthropicpkg "github.com/sells-group/contract-payments/pkg/anthropic"
)

// appEnv holds the store and services shared by the commands.
type appEnv struct {
	Store     store.Store
	Processor *processor.Processor
	Resolver  *clarify.Resolver
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv builds the full processing environment. mode is passed to
// config validation. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	arc, err := archive.New(ctx, cfg.Archive)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	opts := []processor.Option{
		processor.WithArchive(arc),
		processor.WithLowConfidence(cfg.Extract.LowConfidenceThreshold),
	}
	if cfg.AIEnabled() {
		opts = append(opts, processor.WithAI(newAIExtractor(st)))
	} else {
		zap.L().Info("no anthropic key configured, using pattern extraction only")
	}

	proc := processor.New(st, pdftext.NewExtractor(cfg.Extract), patterns.NewLibrary(), opts...)
	return &appEnv{
		Store:     st,
		Processor: proc,
		Resolver:  clarify.New(st),
	}, nil
}

func newAIExtractor(st store.Store) *aiextract.Extractor {
	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	var opts []aiextract.Option
	if l := processor.NewModelLimiter(cfg.Batch.RateLimitPerSec); l != nil {
		opts = append(opts, aiextract.WithLimiter(l))
	}
	if cfg.Batch.RetryAttempts > 1 {
		retry := resilience.DefaultRetryConfig()
		retry.MaxAttempts = cfg.Batch.RetryAttempts
		retry.InitialBackoff = 2 * time.Second
		opts = append(opts, aiextract.WithRetry(retry))
	}
	return aiextract.New(client, cfg.Anthropic, st, cost.NewCalculator(cfg.Pricing), opts...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}
