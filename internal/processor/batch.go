package processor

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/contract-payments/internal/model"
)

// Confidence bands used in batch statistics.
const (
	HighConfidence   = 85.0
	MediumConfidence = 60.0
)

// BatchError records one file that could not be processed.
type BatchError struct {
	File      string    `json:"file" yaml:"file"`
	Error     string    `json:"error" yaml:"error"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// BatchStats aggregates a batch run.
type BatchStats struct {
	TotalFiles         int       `json:"total_files" yaml:"total_files"`
	Processed          int       `json:"processed_files" yaml:"processed_files"`
	Succeeded          int       `json:"successful_extractions" yaml:"successful_extractions"`
	Failed             int       `json:"failed_extractions" yaml:"failed_extractions"`
	HighConfidence     int       `json:"high_confidence" yaml:"high_confidence"`
	MediumConfidence   int       `json:"medium_confidence" yaml:"medium_confidence"`
	LowConfidence      int       `json:"low_confidence" yaml:"low_confidence"`
	NeedsClarification int       `json:"needs_clarification" yaml:"needs_clarification"`
	TotalMilestones    int       `json:"total_milestones" yaml:"total_milestones"`
	SuccessRate        float64   `json:"success_rate" yaml:"success_rate"`
	AverageConfidence  float64   `json:"average_confidence" yaml:"average_confidence"`
	StartedAt          time.Time `json:"start_time" yaml:"start_time"`
	FinishedAt         time.Time `json:"end_time" yaml:"end_time"`
}

// BatchReport is the outcome of a batch run.
type BatchReport struct {
	Stats     BatchStats            `json:"stats" yaml:"stats"`
	Contracts []model.ProcessResult `json:"contracts" yaml:"contracts"`
	Errors    []BatchError          `json:"errors" yaml:"errors"`
}

// batchCounters are updated concurrently by batch workers.
type batchCounters struct {
	processed          atomic.Int64
	succeeded          atomic.Int64
	failed             atomic.Int64
	high               atomic.Int64
	medium             atomic.Int64
	low                atomic.Int64
	needsClarification atomic.Int64
	milestones         atomic.Int64
	confidenceCentiSum atomic.Int64
}

func (bc *batchCounters) record(res *model.ProcessResult) {
	bc.processed.Add(1)
	if !res.Success {
		bc.failed.Add(1)
		return
	}
	bc.succeeded.Add(1)
	switch {
	case res.ConfidenceScore >= HighConfidence:
		bc.high.Add(1)
	case res.ConfidenceScore >= MediumConfidence:
		bc.medium.Add(1)
	default:
		bc.low.Add(1)
	}
	if res.Status == model.ContractStatusNeedsClarification {
		bc.needsClarification.Add(1)
	}
	bc.milestones.Add(int64(res.PaymentMilestonesCreated))
	bc.confidenceCentiSum.Add(int64(res.ConfidenceScore * 100))
}

// NewModelLimiter returns a limiter allowing perSec model calls per second,
// or nil when perSec is not positive.
func NewModelLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// ListPDFs returns every .pdf file below dir, sorted.
func ListPDFs(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "processor: list %s", dir)
	}
	sort.Strings(files)
	return files, nil
}

// Batch processes files with at most concurrency documents in flight. A
// failing document never stops the batch; only cancellation does.
func (p *Processor) Batch(ctx context.Context, files []string, concurrency int) (*BatchReport, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	log := zap.L().With(zap.Int("files", len(files)), zap.Int("concurrency", concurrency))
	log.Info("processor: starting batch")

	report := &BatchReport{
		Stats:     BatchStats{TotalFiles: len(files), StartedAt: p.now().UTC()},
		Contracts: make([]model.ProcessResult, len(files)),
	}
	var counters batchCounters
	var errMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.ProcessFile(gctx, file)
			if err != nil {
				res = &model.ProcessResult{FileName: filepath.Base(file), Error: err.Error(), Warnings: []string{}}
			}
			counters.record(res)
			report.Contracts[i] = *res
			if !res.Success {
				errMu.Lock()
				report.Errors = append(report.Errors, BatchError{File: file, Error: res.Error, Timestamp: p.now().UTC()})
				errMu.Unlock()
				log.Warn("processor: batch file failed", zap.String("file", file), zap.String("error", res.Error))
			}
			return nil
		})
	}
	waitErr := g.Wait()

	s := &report.Stats
	s.Processed = int(counters.processed.Load())
	s.Succeeded = int(counters.succeeded.Load())
	s.Failed = int(counters.failed.Load())
	s.HighConfidence = int(counters.high.Load())
	s.MediumConfidence = int(counters.medium.Load())
	s.LowConfidence = int(counters.low.Load())
	s.NeedsClarification = int(counters.needsClarification.Load())
	s.TotalMilestones = int(counters.milestones.Load())
	if s.Processed > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.Processed) * 100
	}
	if s.Succeeded > 0 {
		s.AverageConfidence = float64(counters.confidenceCentiSum.Load()) / 100 / float64(s.Succeeded)
	}
	s.FinishedAt = p.now().UTC()
	sort.Slice(report.Errors, func(a, b int) bool { return report.Errors[a].File < report.Errors[b].File })

	log.Info("processor: batch complete",
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Float64("average_confidence", s.AverageConfidence),
	)
	if waitErr != nil {
		return report, eris.Wrap(waitErr, "processor: batch interrupted")
	}
	return report, nil
}

// WriteReport writes the report as YAML for .yaml/.yml paths and JSON
// otherwise.
func (r *BatchReport) WriteReport(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(r)
	default:
		data, err = json.MarshalIndent(r, "", "  ")
	}
	if err != nil {
		return eris.Wrap(err, "processor: encode report")
	}
	return eris.Wrapf(os.WriteFile(path, data, 0o644), "processor: write report %s", path)
}
