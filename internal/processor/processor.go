// Package processor turns contract PDFs into persisted contracts with
// payment milestones, terms and clarification questions.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contract-payments/internal/aiextract"
	"github.com/sells-group/contract-payments/internal/archive"
	"github.com/sells-group/contract-payments/internal/model"
	"github.com/sells-group/contract-payments/internal/patterns"
	"github.com/sells-group/contract-payments/internal/pdftext"
	"github.com/sells-group/contract-payments/internal/store"
)

// AIConfidence is the confidence recorded for model-assisted extractions.
const AIConfidence = 95.0

// DefaultLowConfidence is the threshold below which a review warning is added.
const DefaultLowConfidence = 60.0

// placeholderPrefix names a contract before extraction fills it in.
const placeholderPrefix = "Processing: "

// ErrNotReprocessable is returned by Reprocess for a contract that has no
// archived source or is not in the error state.
var ErrNotReprocessable = eris.New("processor: contract cannot be reprocessed")

// Extractor is the model-assisted extraction step.
type Extractor interface {
	Extract(ctx context.Context, contractID, fileName, text string) (*aiextract.Result, error)
}

// Processor runs the extraction pipeline for one document at a time. It
// holds no per-document state and is safe for concurrent use.
type Processor struct {
	store         store.Store
	text          *pdftext.Extractor
	lib           *patterns.Library
	ai            Extractor
	archive       archive.Archive
	lowConfidence float64
	now           func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithAI enables the model-assisted path. Without it documents are
// processed with patterns only.
func WithAI(x Extractor) Option {
	return func(p *Processor) { p.ai = x }
}

// WithArchive keeps each source PDF for later reprocessing.
func WithArchive(a archive.Archive) Option {
	return func(p *Processor) { p.archive = a }
}

// WithLowConfidence sets the review warning threshold.
func WithLowConfidence(threshold float64) Option {
	return func(p *Processor) {
		if threshold > 0 {
			p.lowConfidence = threshold
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// New creates a Processor.
func New(st store.Store, text *pdftext.Extractor, lib *patterns.Library, opts ...Option) *Processor {
	p := &Processor{
		store:         st,
		text:          text,
		lib:           lib,
		archive:       archive.Nop{},
		lowConfidence: DefaultLowConfidence,
		now:           time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// AIEnabled reports whether model-assisted extraction is configured.
func (p *Processor) AIEnabled() bool { return p.ai != nil }

// ProcessFile reads and processes the PDF at path. Input problems are
// returned as errors before any contract is created.
func (p *Processor) ProcessFile(ctx context.Context, path string) (*model.ProcessResult, error) {
	if _, err := p.text.ValidateFile(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "processor: read %s", path)
	}
	return p.ProcessBytes(ctx, filepath.Base(path), data)
}

// ProcessBytes processes an uploaded PDF. Document-level failures are
// reported in the result; only input and store errors are returned.
func (p *Processor) ProcessBytes(ctx context.Context, name string, data []byte) (*model.ProcessResult, error) {
	if err := p.text.ValidateBytes(name, data); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("file", name))
	log.Info("processor: starting contract")

	c, err := p.createPlaceholder(ctx, name)
	if err != nil {
		return nil, err
	}
	res := &model.ProcessResult{ContractID: c.ID, FileName: name, Warnings: []string{}}

	if p.archive.Enabled() {
		key := archive.Key(c.ID, name)
		if err := p.archive.Put(ctx, key, data); err != nil {
			log.Warn("processor: archive source failed", zap.Error(err))
			res.AddWarning("Failed to archive source PDF: " + err.Error())
		} else {
			c.ArchiveKey = key
		}
	}

	return p.run(ctx, c, name, data, res)
}

// Reprocess runs the pipeline again on the archived source of a contract in
// the error state.
func (p *Processor) Reprocess(ctx context.Context, contractID string) (*model.ProcessResult, error) {
	c, err := p.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c.ArchiveKey == "" {
		return nil, eris.Wrapf(ErrNotReprocessable, "%s has no archived source", contractID)
	}
	if err := c.ResetForReprocessing(); err != nil {
		return nil, eris.Wrapf(ErrNotReprocessable, "%s: %v", contractID, err)
	}
	data, err := p.archive.Get(ctx, c.ArchiveKey)
	if err != nil {
		return nil, eris.Wrapf(err, "processor: load archived source for %s", contractID)
	}

	if err := p.store.DeleteClarifications(ctx, c.ID); err != nil {
		return nil, err
	}
	c.SetConfidence(0)
	if err := p.store.UpdateContract(ctx, c); err != nil {
		return nil, err
	}
	zap.L().Info("processor: reprocessing contract", zap.String("contract_id", c.ID), zap.String("file", c.SourceFile))

	name := c.SourceFile
	if name == "" {
		name = filepath.Base(c.ArchiveKey)
	}
	res := &model.ProcessResult{ContractID: c.ID, FileName: name, Warnings: []string{}}
	return p.run(ctx, c, name, data, res)
}

// Status returns the status report for one contract.
func (p *Processor) Status(ctx context.Context, contractID string) (*model.StatusReport, error) {
	c, err := p.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	n, err := p.store.CountMilestones(ctx, contractID)
	if err != nil {
		return nil, err
	}
	report := model.NewStatusReport(c, n)
	return &report, nil
}

func (p *Processor) run(ctx context.Context, c *model.Contract, name string, data []byte, res *model.ProcessResult) (*model.ProcessResult, error) {
	log := zap.L().With(zap.String("contract_id", c.ID), zap.String("file", name))

	doc, err := p.text.ExtractBytes(ctx, name, data)
	if err != nil {
		return p.fail(ctx, c, res, err)
	}
	for _, issue := range doc.Errors {
		res.AddWarning(issue)
	}
	if !doc.Successful {
		for _, w := range doc.Warnings {
			res.AddWarning(w)
		}
		return p.fail(ctx, c, res, eris.New(pdftext.WarningNoText))
	}

	matches := p.lib.FindAll(doc.Text)
	schedules := patterns.RecognizeSchedules(doc.Tables)
	log.Info("processor: patterns recognized",
		zap.Int("pattern_types", len(matches)),
		zap.Int("matches", matches.Count()),
		zap.Int("schedules", len(schedules)),
	)

	in := mappingInput{
		fileName:  name,
		doc:       doc,
		matches:   matches,
		schedules: schedules,
		now:       p.now(),
	}
	if p.ai != nil {
		ai, err := p.ai.Extract(ctx, c.ID, name, doc.MarkedText())
		if err != nil {
			return p.fail(ctx, c, res, err)
		}
		in.ai = ai
		for _, w := range ai.Warnings {
			res.AddWarning(w)
		}
	}

	mapped := mapExtraction(c, in)
	for _, w := range mapped.warnings {
		res.AddWarning(w)
	}

	target := model.ContractStatusCompleted
	if in.ai != nil && len(in.ai.Clarifications) > 0 {
		target = model.ContractStatusNeedsClarification
	}
	if err := c.TransitionTo(target); err != nil {
		return p.fail(ctx, c, res, err)
	}

	report, err := p.save(ctx, mapped)
	if err != nil {
		return p.fail(ctx, c, res, err)
	}
	for _, w := range report.Warnings {
		res.AddWarning(w)
	}

	confidence := 0.0
	if c.ConfidenceScore != nil {
		confidence = *c.ConfidenceScore
	}
	if confidence < p.lowConfidence {
		res.AddWarning(fmt.Sprintf("Low confidence score (%.1f%%) - manual review recommended", confidence))
	}
	for _, w := range extractionWarnings(doc, matches) {
		res.AddWarning(w)
	}

	res.Success = true
	res.Status = c.Status
	res.ConfidenceScore = confidence
	res.ExtractionMethod = c.ExtractionMethod
	res.PaymentMilestonesCreated = report.MilestonesSaved
	if in.ai != nil {
		res.ClarificationsCreated = len(in.ai.Clarifications)
	}

	log.Info("processor: contract processed",
		zap.String("status", string(c.Status)),
		zap.String("method", string(c.ExtractionMethod)),
		zap.Float64("confidence", confidence),
		zap.Int("milestones", report.MilestonesSaved),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

// save writes the extraction. An extracted contract number that is already
// taken falls back to the placeholder number.
func (p *Processor) save(ctx context.Context, m *mapped) (*store.SaveReport, error) {
	ex := &store.Extraction{Contract: m.contract, Milestones: m.milestones, Terms: m.terms}
	report, err := p.store.SaveExtraction(ctx, ex)
	if errors.Is(err, store.ErrDuplicateContractNumber) && m.placeholderNumber != m.contract.ContractNumber {
		taken := m.contract.ContractNumber
		m.contract.ContractNumber = m.placeholderNumber
		zap.L().Warn("processor: extracted contract number already exists",
			zap.String("contract_id", m.contract.ID),
			zap.String("contract_number", taken),
		)
		report, err = p.store.SaveExtraction(ctx, ex)
		if err == nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Contract number %s already exists; kept %s", taken, m.placeholderNumber))
		}
	}
	return report, err
}

// fail moves the contract to error and records err on the result. The
// update runs even when ctx is already cancelled so no contract is left in
// processing.
func (p *Processor) fail(ctx context.Context, c *model.Contract, res *model.ProcessResult, cause error) (*model.ProcessResult, error) {
	zap.L().Error("processor: contract failed",
		zap.String("contract_id", c.ID),
		zap.String("file", res.FileName),
		zap.Error(cause),
	)
	_ = c.TransitionTo(model.ContractStatusError)
	if err := p.store.UpdateContract(context.WithoutCancel(ctx), c); err != nil {
		return nil, eris.Wrapf(err, "processor: mark %s as error", c.ID)
	}
	res.Success = false
	res.Status = c.Status
	res.Error = failureMessage(cause)
	return res, nil
}

func failureMessage(err error) string {
	var ce *aiextract.ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class.Error()
	}
	return err.Error()
}

func (p *Processor) createPlaceholder(ctx context.Context, name string) (*model.Contract, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		c := &model.Contract{
			ID:               uuid.NewString(),
			ContractName:     placeholderPrefix + name,
			ContractNumber:   PlaceholderNumber(p.now()),
			ClientName:       model.PlaceholderClient,
			Currency:         model.DefaultCurrency,
			Status:           model.ContractStatusProcessing,
			ExtractionMethod: model.ExtractionManual,
			SourceFile:       name,
		}
		c.SetConfidence(0)
		err := p.store.CreateContract(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, store.ErrDuplicateContractNumber) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// PlaceholderNumber returns a temporary contract number T-MMDD-<8 hex>.
func PlaceholderNumber(now time.Time) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("T-%s-%s", now.Format("0102"), hex)
}

func extractionWarnings(doc *pdftext.Document, matches patterns.Matches) []string {
	var out []string
	for _, w := range doc.Warnings {
		out = append(out, w)
	}
	if matches.Count() == 0 {
		out = append(out, "no payment patterns found")
	}
	if doc.Confidence < 50 {
		out = append(out, "low confidence extraction")
	}
	return out
}
