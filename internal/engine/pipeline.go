// Package engine turns rows of delimited input into directory change
// requests. Rows are classified into an object type, state and value
// operation, translated into typed attribute changes against the object
// type's schema, matched to existing directory objects, and handed to a
// submitter for execution.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/isometry/adimport/internal/input"
	"github.com/isometry/adimport/internal/logging"
	"github.com/isometry/adimport/internal/schema"
)

// Submitter executes a change request against the directory and reports the
// distinguished name it acted on.
type Submitter interface {
	Submit(ctx context.Context, request *ChangeRequest) (string, error)
}

// RowSource supplies the input header and rows.
type RowSource interface {
	Header() []string
	Next() (*input.Row, error)
}

// Options configures a pipeline run.
type Options struct {
	Defaults            Defaults
	MatchAttribute      string
	MultiValueDelimiter rune
	ReferenceDelimiter  rune
	EmptyValues         EmptyValuePolicy
	ReferenceFailure    ReferenceFailurePolicy
}

// RowStatus is the outcome of processing one row.
type RowStatus uint8

const (
	StatusApplied RowStatus = iota
	StatusSkipped
	StatusFailed
)

// String returns the status name.
func (s RowStatus) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status by name.
func (s RowStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// RowOutcome records how one row was handled. Action is the change kind the
// builder settled on; rows skipped or failed before a request was built carry
// none.
type RowOutcome struct {
	Line       int       `json:"line"`
	ObjectType string    `json:"object_type"`
	State      string    `json:"state"`
	Action     string    `json:"action,omitempty"`
	Status     RowStatus `json:"status"`
	Target     string    `json:"target,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// Summary aggregates the outcomes of a run. Applied is broken down into
// Created, Modified and Deleted.
type Summary struct {
	RunID    string        `json:"run_id"`
	Applied  int           `json:"applied"`
	Created  int           `json:"created"`
	Modified int           `json:"modified"`
	Deleted  int           `json:"deleted"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Total    int           `json:"total"`
	Outcomes []RowOutcome  `json:"outcomes,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Pipeline processes an input source row by row.
type Pipeline struct {
	registry  *schema.Registry
	querier   DirectoryQuerier
	submitter Submitter
	resolver  IdentityResolver
	opts      Options
	log       logging.Logger
}

// New creates a pipeline. resolver may be nil when the match attribute never
// carries directory identifiers.
func New(registry *schema.Registry, querier DirectoryQuerier, submitter Submitter, resolver IdentityResolver, opts Options, log logging.Logger) *Pipeline {
	if log == nil {
		log = logging.Discard()
	}
	return &Pipeline{
		registry:  registry,
		querier:   querier,
		submitter: submitter,
		resolver:  resolver,
		opts:      opts,
		log:       log,
	}
}

// Run processes every row of the source. Rows that cannot be matched or
// submitted are skipped or failed individually; classification errors,
// unknown attributes in the header, unknown object types and malformed
// references abort the run. The returned summary covers the rows processed
// up to the abort, if any.
func (p *Pipeline) Run(ctx context.Context, source RowSource) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: uuid.NewString()}

	header := source.Header()
	classifier := NewClassifier(header, p.opts.Defaults)

	if err := p.validateHeader(ctx, header, classifier); err != nil {
		summary.Duration = time.Since(start)
		return summary, err
	}

	matchIdx, err := p.matchIndex(header, classifier)
	if err != nil {
		summary.Duration = time.Since(start)
		return summary, err
	}

	translator := NewTranslator(
		NewReferenceResolver(p.querier, p.log),
		p.opts.MultiValueDelimiter,
		p.opts.ReferenceDelimiter,
		p.opts.EmptyValues,
		p.ignoredColumn(),
		p.log,
	)
	builder := NewBuilder(p.querier, p.resolver, p.opts.MatchAttribute, matchIdx, p.log)

	p.log.Info("Starting import run", map[string]any{
		"run_id":  summary.RunID,
		"columns": len(header),
	})

	for {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}

		row, err := source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}

		outcome, err := p.processRow(ctx, classifier, translator, builder, header, row)
		if err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
		p.record(summary, outcome)
	}

	summary.Duration = time.Since(start)
	p.log.Info("Import run complete", map[string]any{
		"run_id":   summary.RunID,
		"created":  summary.Created,
		"modified": summary.Modified,
		"deleted":  summary.Deleted,
		"skipped":  summary.Skipped,
		"failed":   summary.Failed,
		"duration": summary.Duration.String(),
	})
	return summary, nil
}

// processRow handles one row end to end. A non-nil error aborts the run.
func (p *Pipeline) processRow(ctx context.Context, classifier *Classifier, translator *Translator, builder *Builder, header []string, row *input.Row) (RowOutcome, error) {
	class, err := classifier.Classify(row)
	if err != nil {
		return RowOutcome{}, err
	}

	outcome := RowOutcome{
		Line:       row.Line,
		ObjectType: class.ObjectType,
		State:      class.State.String(),
	}

	sch, err := p.registry.Get(ctx, class.ObjectType)
	if err != nil {
		return RowOutcome{}, err
	}

	// Delete rows carry no attribute changes, only the match column is read.
	var changes []AttributeChange
	if class.State != StateDelete {
		changes, err = translator.Translate(ctx, sch, class, header, row)
		if err != nil {
			if IsReferenceResolutionError(err) && p.opts.ReferenceFailure == ReferenceSkip {
				outcome.Status = StatusSkipped
				outcome.Reason = err.Error()
				p.log.Warn("Skipping row, reference did not resolve", map[string]any{
					"line":  row.Line,
					"error": err.Error(),
				})
				return outcome, nil
			}
			return RowOutcome{}, err
		}
	}

	request, skip, err := builder.Build(ctx, class, changes, row)
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Reason = err.Error()
		p.log.Error("Row failed during match", map[string]any{
			"line":  row.Line,
			"error": err.Error(),
		})
		return outcome, nil
	}
	if skip != nil {
		outcome.Status = StatusSkipped
		outcome.Reason = skip.Reason
		fields := map[string]any{
			"line":   row.Line,
			"reason": skip.Reason,
		}
		if len(skip.Matches) > 0 {
			fields["matches"] = skip.Matches
		}
		p.log.Warn("Skipping row", fields)
		return outcome, nil
	}
	outcome.Action = request.Kind.String()

	target, err := p.submitter.Submit(ctx, request)
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Target = request.TargetDN
		outcome.Reason = err.Error()
		p.log.Error("Row failed during submission", map[string]any{
			"line":      row.Line,
			"operation": request.Kind.String(),
			"error":     err.Error(),
		})
		return outcome, nil
	}

	outcome.Status = StatusApplied
	outcome.Target = target
	p.log.Debug("Row applied", map[string]any{
		"line":      row.Line,
		"operation": request.Kind.String(),
		"target":    target,
	})

	if request.Kind != OperationCreate {
		p.invalidateResolver()
	}
	return outcome, nil
}

// validateHeader checks every non-reserved column against the default object
// type's schema up front, so attribute typos fail before any row is applied.
// Inputs routing rows to several object types are checked row by row instead.
func (p *Pipeline) validateHeader(ctx context.Context, header []string, classifier *Classifier) error {
	if p.opts.Defaults.ObjectType == "" || classifier.HasObjectTypeColumn() {
		return nil
	}

	sch, err := p.registry.Get(ctx, p.opts.Defaults.ObjectType)
	if err != nil {
		return err
	}

	ignored := p.ignoredColumn()
	for _, column := range header {
		if IsReservedHeader(column) || (ignored != "" && strings.EqualFold(column, ignored)) {
			continue
		}
		if _, ok := sch.Attribute(column); !ok {
			return &UnknownHeaderAttributeError{ObjectType: p.opts.Defaults.ObjectType, Attribute: column}
		}
	}
	return nil
}

// matchIndex locates the match column. The column is required whenever a row
// can refer to an existing object, which is always the case when the input
// carries a state column.
func (p *Pipeline) matchIndex(header []string, classifier *Classifier) (int, error) {
	idx := -1
	for i, column := range header {
		if strings.EqualFold(column, p.opts.MatchAttribute) {
			idx = i
			break
		}
	}

	needsMatch := p.opts.Defaults.State != StateCreate || classifier.HasStateColumn()
	if needsMatch && idx < 0 {
		return -1, &MissingMatchAttributeError{Attribute: p.opts.MatchAttribute}
	}
	return idx, nil
}

// ignoredColumn names the header column carrying directory identifiers, which
// is consumed by matching and never translated. Empty when the match
// attribute is a regular schema attribute.
func (p *Pipeline) ignoredColumn() string {
	if strings.EqualFold(p.opts.MatchAttribute, ObjectIDMatch) {
		return ObjectIDMatch
	}
	return ""
}

// record folds one outcome into the summary.
func (p *Pipeline) record(summary *Summary, outcome RowOutcome) {
	summary.Total++
	switch outcome.Status {
	case StatusApplied:
		summary.Applied++
		switch outcome.Action {
		case OperationCreate.String():
			summary.Created++
		case OperationModify.String():
			summary.Modified++
		case OperationDelete.String():
			summary.Deleted++
		}
	case StatusSkipped:
		summary.Skipped++
	case StatusFailed:
		summary.Failed++
	}
	summary.Outcomes = append(summary.Outcomes, outcome)
}

// invalidateResolver drops cached identifier lookups after the directory
// changed underneath them.
func (p *Pipeline) invalidateResolver() {
	if inv, ok := p.resolver.(interface{ InvalidateCache() }); ok {
		inv.InvalidateCache()
	}
}
