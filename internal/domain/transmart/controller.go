package transmart

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/warehouse/internal/domain/i2b2"
	"github.com/ehr/warehouse/internal/platform/failure"
	"github.com/ehr/warehouse/pkg/resource"
	"github.com/ehr/warehouse/pkg/tabular"
)

// QueryTypeClinical is the only supported extraction query type.
const QueryTypeClinical = "CLINICAL"

// QueryRunner submits a cohort query and waits for its patient set.
type QueryRunner interface {
	Submit(ctx context.Context, session *resource.Session, query resource.Query, result *resource.Result) error
	WaitForResult(ctx context.Context, session *resource.Session, result *resource.Result) error
}

// Extractor fetches fact records for one batch of select parameters.
type Extractor interface {
	RetrieveClinicalData(ctx context.Context, session *resource.Session, resultID, conceptPaths string, allEncounters bool) ([]Record, error)
}

// Controller drives one query from submission to a filled result set:
// submit, poll, extract in batches, merge.
type Controller struct {
	runner       QueryRunner
	extractor    Extractor
	resourceName string
	batchSize    int
	logger       zerolog.Logger
}

func NewController(runner QueryRunner, extractor Extractor, resourceName string, batchSize int, logger zerolog.Logger) *Controller {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Controller{
		runner:       runner,
		extractor:    extractor,
		resourceName: resourceName,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// selection is the classified select list of a query.
type selection struct {
	queryType  string
	keys       []string          // extraction keys in select order
	aliases    map[string]string // key -> column name
	additional []string          // flat fields copied from each record
	pivot      string
}

// classify splits the select list into concept paths and flat fields. A
// parameter that still contains '/' once the resource prefix is removed is a
// concept path and is translated to its warehouse form.
func (c *Controller) classify(query resource.Query) (*selection, error) {
	sel := &selection{aliases: make(map[string]string), pivot: FieldPatientNum}
	if query.IncludeEncounterFacts {
		sel.pivot = FieldEncounterNum
	}
	columns := map[string]bool{FieldPatientNum: true}
	if query.IncludeEncounterFacts {
		columns[FieldEncounterNum] = true
	}

	prefix := "/" + c.resourceName + "/"
	for _, s := range query.Select {
		raw := s.Parameter.PUI
		key := strings.ReplaceAll(raw, prefix, "")
		if key == "" {
			return nil, failure.QueryShapef("select parameter with an empty path")
		}
		if strings.Contains(key, "/") {
			if query.Type != "" && !strings.EqualFold(query.Type, QueryTypeClinical) {
				return nil, failure.QueryShapef("error in select parameters: too many select parameters, or mixed select parameter types")
			}
			sel.queryType = QueryTypeClinical
			key = i2b2.ToWarehousePath(raw, i2b2.SelectDrop)
			if key == "" {
				return nil, failure.QueryShapef("select path %q has no concept below its category", raw)
			}
		} else {
			sel.additional = append(sel.additional, key)
		}

		if _, dup := sel.aliases[key]; dup {
			return nil, failure.QueryShapef("select parameter %q requested twice", key)
		}
		column := s.Alias
		if column == "" {
			column = key
		}
		if columns[column] {
			return nil, failure.QueryShapef("column %q requested twice", column)
		}
		columns[column] = true
		sel.aliases[key] = column
		sel.keys = append(sel.keys, key)
	}

	if sel.queryType == "" {
		return nil, failure.QueryShapef("unknown query type: no concept path selected")
	}
	if query.IncludeEncounterFacts {
		sel.additional = append(sel.additional, FieldPatientNum)
	}
	return sel, nil
}

// setupColumns lays out the pivot columns and one STRING column per select
// parameter, in select order.
func setupColumns(rs *tabular.ResultSet, sel *selection, encounters bool) error {
	names := []string{FieldPatientNum}
	if encounters {
		names = append(names, FieldEncounterNum)
	}
	for _, k := range sel.keys {
		names = append(names, sel.aliases[k])
	}
	for _, n := range names {
		if err := rs.AppendColumn(tabular.Column{Name: n, DataType: tabular.String}); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs query to completion and fills result. It blocks until the
// result is COMPLETE or ERROR; cancelling ctx ends it with ERROR. Batches
// merged before a failure stay in the result set.
func (c *Controller) Execute(ctx context.Context, session *resource.Session, query resource.Query, result *resource.Result) *resource.Result {
	if result == nil {
		result = &resource.Result{}
	}
	if result.Data == nil {
		result.Data = tabular.New()
	}
	result.DataType = resource.ResultDataTabular
	if result.StartedAt.IsZero() {
		result.StartedAt = time.Now().UTC()
	}
	log := c.logger.With().Str("result_id", result.ID).Logger()

	sel, err := c.classify(query)
	if err != nil {
		return c.fail(log, result, err, "rejected select list")
	}

	if err := c.runner.Submit(ctx, session, query, result); err != nil {
		return c.fail(log, result, err, "submission failed")
	}
	if err := c.runner.WaitForResult(ctx, session, result); err != nil {
		return c.fail(log, result, err, "query did not complete")
	}
	result.Status = resource.StatusRunning
	resource.ReportProgress(ctx, result)

	handle, err := i2b2.ParseHandle(result.ActionID)
	if err != nil {
		return c.fail(log, result, err, "bad execution handle")
	}

	rs := result.Data
	if rs.IsEmpty() {
		if err := setupColumns(rs, sel, query.IncludeEncounterFacts); err != nil {
			return c.fail(log, result, err, "column setup failed")
		}
	}

	batches := PlanBatches(sel.keys, c.batchSize)
	log.Info().
		Str("handle", result.ActionID).
		Int("parameters", len(sel.keys)).
		Int("batches", len(batches)).
		Bool("encounters", query.IncludeEncounterFacts).
		Msg("extracting clinical data")

	for i, batch := range batches {
		records, err := c.extractor.RetrieveClinicalData(ctx, session, handle.ResultInstanceID, batch, query.IncludeEncounterFacts)
		if err != nil {
			return c.fail(log, result, err, "extraction failed")
		}
		matrix := NewFactMatrix(sel.pivot, sel.additional)
		if err := matrix.Fold(records); err != nil {
			return c.fail(log, result, err, "fold failed")
		}
		stats, err := Commit(rs, matrix, sel.aliases)
		if err != nil {
			return c.fail(log, result, err, "merge failed")
		}
		log.Debug().
			Int("batch", i+1).
			Int("records", len(records)).
			Int("updated", stats.Updated).
			Int("appended", stats.Appended).
			Msg("batch merged")
	}

	result.Complete()
	log.Info().Int("rows", rs.Size()).Msg("query complete")
	return result
}

func (c *Controller) fail(log zerolog.Logger, result *resource.Result, err error, msg string) *resource.Result {
	log.Warn().Err(err).Str("status", string(result.Status)).Msg(msg)
	result.Fail(err.Error())
	return result
}
