package i2b2

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/warehouse/internal/platform/failure"
	"github.com/ehr/warehouse/pkg/resource"
	"github.com/ehr/warehouse/pkg/tabular"
)

// TypeName is the resource type reported by the base adapter.
const TypeName = "i2b2XML"

// Name match strategies understood by the ontology cell.
const (
	StrategyExact    = "exact"
	StrategyContains = "contains"
	StrategyLeft     = "left"
	StrategyRight    = "right"
)

// Adapter talks to an i2b2 hive through its XML cells. It browses and
// searches the ontology and runs cohort queries; it does not extract data.
type Adapter struct {
	settings Settings
	cells    *cellClient
	logger   zerolog.Logger
	state    resource.State
}

var _ resource.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*adapterOptions)

type adapterOptions struct {
	client *http.Client
	logger zerolog.Logger
}

// WithHTTPClient sets the client used for cell calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *adapterOptions) { o.client = c }
}

// WithLogger sets the adapter logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *adapterOptions) { o.logger = l }
}

// NewAdapter validates settings and returns a ready adapter.
func NewAdapter(settings Settings, opts ...Option) (*Adapter, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	o := adapterOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Adapter{
		settings: settings,
		cells:    newCellClient(settings, o.client),
		logger:   o.logger.With().Str("resource", settings.ResourceName).Logger(),
		state:    resource.StateReady,
	}, nil
}

func (a *Adapter) Name() string          { return a.settings.ResourceName }
func (a *Adapter) Type() string          { return TypeName }
func (a *Adapter) State() resource.State { return a.state }

// Settings returns the adapter's connection settings.
func (a *Adapter) Settings() Settings { return a.settings }

// QueryDataType is always tabular.
func (a *Adapter) QueryDataType(resource.Query) resource.ResultDataType {
	return resource.ResultDataTabular
}

// GetPathRelationship lists the entities related to path. Only CHILD is
// answered; MODIFIER and TERM are accepted and yield nothing.
func (a *Adapter) GetPathRelationship(ctx context.Context, session *resource.Session, path resource.Entity, rel resource.Relationship) ([]resource.Entity, error) {
	switch rel {
	case resource.RelationshipChild:
		return a.children(ctx, session, path.PUI)
	case resource.RelationshipModifier, resource.RelationshipTerm:
		return []resource.Entity{}, nil
	default:
		return nil, failure.Unsupportedf("%s not supported by this resource", rel)
	}
}

func (a *Adapter) children(ctx context.Context, session *resource.Session, pui string) ([]resource.Entity, error) {
	pui = strings.TrimRight(pui, "/")
	switch depth := Depth(pui); {
	case depth <= 2:
		projects, err := a.cells.Projects(ctx, session)
		if err != nil {
			return nil, err
		}
		out := make([]resource.Entity, 0, len(projects))
		for _, p := range projects {
			out = append(out, resource.Entity{
				PUI:         pui + "/" + p.ID,
				Name:        p.ID,
				DisplayName: p.Name,
				Description: p.Description,
			})
		}
		return out, nil
	case depth == 3:
		concepts, err := a.cells.Categories(ctx, session, ProjectID(pui))
		if err != nil {
			return nil, err
		}
		return ConceptsToEntities(pui, concepts), nil
	default:
		concepts, err := a.cells.Children(ctx, session, ProjectID(pui), ConceptKey(pui))
		if err != nil {
			return nil, err
		}
		return ConceptsToEntities(ProjectBase(pui), concepts), nil
	}
}

// ParseStrategy reads '%' wildcards off a search term: "%x%" is contains,
// "%x" is right, "x%" is left, anything else is exact.
func ParseStrategy(term string) (strategy, stripped string) {
	switch {
	case len(term) >= 2 && strings.HasPrefix(term, "%") && strings.HasSuffix(term, "%"):
		return StrategyContains, term[1 : len(term)-1]
	case strings.HasPrefix(term, "%"):
		return StrategyRight, term[1:]
	case strings.HasSuffix(term, "%"):
		return StrategyLeft, term[:len(term)-1]
	default:
		return StrategyExact, term
	}
}

// SearchPaths searches concept names below path. A nil or resource-level
// path searches every category of every project.
func (a *Adapter) SearchPaths(ctx context.Context, session *resource.Session, path *resource.Entity, term string) ([]resource.Entity, error) {
	strategy, term := ParseStrategy(term)
	return a.searchNames(ctx, session, path, strategy, term)
}

// Find on the base adapter is a name search with an explicit strategy.
func (a *Adapter) Find(ctx context.Context, session *resource.Session, path *resource.Entity, find resource.FindByPath) ([]resource.Entity, error) {
	if find.Strategy == "" {
		return a.SearchPaths(ctx, session, path, find.Term)
	}
	return a.searchNames(ctx, session, path, strings.ToLower(find.Strategy), find.Term)
}

func (a *Adapter) searchNames(ctx context.Context, session *resource.Session, path *resource.Entity, strategy, term string) ([]resource.Entity, error) {
	out := []resource.Entity{}
	search := func(projectID, category string) error {
		concepts, err := a.cells.NameInfo(ctx, session, projectID, category, strategy, term)
		if err != nil {
			return err
		}
		out = append(out, ConceptsToEntities(a.projectBase(projectID), concepts)...)
		return nil
	}
	searchProject := func(projectID string) error {
		categories, err := a.cells.Categories(ctx, session, projectID)
		if err != nil {
			return err
		}
		for _, c := range categories {
			if err := search(projectID, categoryName(c.Key)); err != nil {
				return err
			}
		}
		return nil
	}

	switch {
	case path == nil || Depth(path.PUI) <= 2:
		projects, err := a.cells.Projects(ctx, session)
		if err != nil {
			return nil, err
		}
		for _, p := range projects {
			if err := searchProject(p.ID); err != nil {
				return nil, err
			}
		}
	case Depth(path.PUI) == 3:
		if err := searchProject(ProjectID(path.PUI)); err != nil {
			return nil, err
		}
	default:
		if err := search(ProjectID(path.PUI), Category(path.PUI)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SearchOntology looks concepts up by coding system and code.
func (a *Adapter) SearchOntology(ctx context.Context, session *resource.Session, path *resource.Entity, ontologyType, term string) ([]resource.Entity, error) {
	out := []resource.Entity{}
	search := func(projectID, category string) error {
		concepts, err := a.cells.CodeInfo(ctx, session, projectID, category, ontologyType, term)
		if err != nil {
			return err
		}
		out = append(out, ConceptsToEntities(a.projectBase(projectID), concepts)...)
		return nil
	}

	switch {
	case path == nil || Depth(path.PUI) <= 2:
		projects, err := a.cells.Projects(ctx, session)
		if err != nil {
			return nil, err
		}
		for _, p := range projects {
			if err := search(p.ID, ""); err != nil {
				return nil, err
			}
		}
	case Depth(path.PUI) == 3:
		if err := search(ProjectID(path.PUI), ""); err != nil {
			return nil, err
		}
	default:
		if err := search(ProjectID(path.PUI), Category(path.PUI)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (a *Adapter) projectBase(projectID string) string {
	return "/" + a.settings.ResourceName + "/" + projectID
}

// categoryName is the ontology table code of a category key (\\i2b2\Demo\ -> i2b2).
func categoryName(key string) string {
	parts := strings.Split(ToOntologyPath(key), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// ReturnEntities lists the demographic fields that can be selected without
// an ontology path.
func (a *Adapter) ReturnEntities() []resource.Entity {
	fields := []struct{ pui, name string }{
		{"Patient Id", "Patient Id"},
		{"vital_status_cd", "Vital Status"},
		{"language_cd", "Language"},
		{"birth_date", "Birth Date"},
		{"race_cd", "Race"},
		{"religion_cd", "Religion"},
		{"income_cd", "Income"},
		{"statecityzip_path", "State, City Zip"},
		{"zip_cd", "Zip"},
		{"marital_status_cd", "marital_status_cd"},
		{"age_in_years_num", "Age"},
		{"sex_cd", "Sex"},
	}
	out := make([]resource.Entity, 0, len(fields))
	for _, f := range fields {
		out = append(out, resource.Entity{PUI: f.pui, Name: f.name, DataType: tabular.String})
	}
	return out
}

// projectForQuery picks the project a query runs in from its first clause
// that carries a project-level path.
func projectForQuery(query resource.Query) string {
	for _, w := range query.Where {
		if id := ProjectID(w.Field.PUI); id != "" {
			return id
		}
	}
	for _, s := range query.Select {
		if id := ProjectID(s.Parameter.PUI); id != "" {
			return id
		}
	}
	return ""
}

// Submit translates the where clauses into panels and submits them. On
// success the result carries the execution handle and status SUBMITTED.
func (a *Adapter) Submit(ctx context.Context, session *resource.Session, query resource.Query, result *resource.Result) error {
	if len(query.Where) == 0 {
		return failure.QueryShapef("query has no where clause")
	}
	projectID := projectForQuery(query)
	if projectID == "" {
		return failure.QueryShapef("no project could be resolved from the query paths")
	}
	name := query.Name
	if name == "" {
		name = "warehouse-adapter " + time.Now().UTC().Format(time.RFC3339)
	}

	panels := BuildPanels(query.Where)
	handle, err := a.cells.RunQuery(ctx, session, projectID, name, panels)
	if err != nil {
		return err
	}

	result.ResourceName = a.settings.ResourceName
	result.ProjectID = projectID
	result.ActionID = handle.String()
	result.Status = resource.StatusSubmitted
	result.DataType = resource.ResultDataTabular
	a.logger.Info().
		Str("result_id", result.ID).
		Str("handle", result.ActionID).
		Int("panels", len(panels)).
		Msg("query submitted")
	resource.ReportProgress(ctx, result)
	return nil
}

// CheckForResult asks the query tool for the status of a submitted query.
func (a *Adapter) CheckForResult(ctx context.Context, session *resource.Session, result *resource.Result) (resource.ResultStatus, error) {
	handle, err := ParseHandle(result.ActionID)
	if err != nil {
		return resource.StatusError, err
	}
	inst, err := a.cells.ResultInstance(ctx, session, result.ProjectID, handle)
	if err != nil {
		return resource.StatusError, err
	}
	status, err := statusFromQueryStatus(inst.Status.Name)
	if err != nil {
		return resource.StatusError, err
	}
	a.logger.Debug().
		Str("result_id", result.ID).
		Str("query_status", inst.Status.Name).
		Int("set_size", inst.SetSize).
		Msg("polled query status")
	return status, nil
}

// WaitForResult polls until the submitted query reaches COMPLETE or ERROR,
// the poll timeout passes, or ctx is done. The final status is written to
// result; the returned error explains an ERROR.
func (a *Adapter) WaitForResult(ctx context.Context, session *resource.Session, result *resource.Result) error {
	result.Status = resource.StatusRunning
	resource.ReportProgress(ctx, result)
	status, err := a.settings.Poll.Wait(ctx, func(ctx context.Context) (resource.ResultStatus, error) {
		return a.CheckForResult(ctx, session, result)
	})
	if err != nil {
		return err
	}
	if status == resource.StatusError {
		return failure.Newf("query %s finished with an error status", result.ActionID)
	}
	result.Status = status
	return nil
}

// SubmitAndExecute submits the query and waits for the cohort. The base
// adapter attaches no data; the result is COMPLETE once the patient set is
// ready.
func (a *Adapter) SubmitAndExecute(ctx context.Context, session *resource.Session, query resource.Query, result *resource.Result) *resource.Result {
	if result == nil {
		result = &resource.Result{}
	}
	if err := a.Submit(ctx, session, query, result); err != nil {
		a.fail(result, err, "submission failed")
		return result
	}
	if err := a.WaitForResult(ctx, session, result); err != nil {
		a.fail(result, err, "query did not complete")
		return result
	}
	result.Complete()
	return result
}

func (a *Adapter) fail(result *resource.Result, err error, msg string) {
	a.logger.Warn().Err(err).Str("result_id", result.ID).Msg(msg)
	result.Fail(err.Error())
}
