package transmart

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/warehouse/internal/domain/i2b2"
	"github.com/ehr/warehouse/internal/platform/failure"
	"github.com/ehr/warehouse/pkg/resource"
)

// TypeName is the resource type reported by the decorated adapter.
const TypeName = "i2b2/tranSMART"

// Settings configures the tranSMART layer on top of an i2b2 adapter.
type Settings struct {
	TransmartURL string
	BatchSize    int
	HTTPTimeout  time.Duration
}

// Adapter decorates an i2b2 adapter with tranSMART data extraction, child
// concept patient counts and text search. Everything else is served by the
// wrapped adapter.
type Adapter struct {
	*i2b2.Adapter
	client     *Client
	controller *Controller
	logger     zerolog.Logger
}

var _ resource.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*options)

type options struct {
	client *http.Client
	logger zerolog.Logger
}

// WithHTTPClient sets the client used for tranSMART calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithLogger sets the adapter logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewAdapter wraps base. The tranSMART URL is required.
func NewAdapter(base *i2b2.Adapter, settings Settings, opts ...Option) (*Adapter, error) {
	if settings.TransmartURL == "" {
		return nil, failure.Missingf("missing parameters: transmartURL")
	}
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With().Str("resource", base.Name()).Logger()
	client := NewClient(settings.TransmartURL, o.client, settings.HTTPTimeout)
	return &Adapter{
		Adapter:    base,
		client:     client,
		controller: NewController(base, client, base.Name(), settings.BatchSize, logger),
		logger:     logger,
	}, nil
}

func (a *Adapter) Type() string { return TypeName }

// GetPathRelationship lists related entities through the wrapped adapter and,
// for concept listings, adds each child's patient count. A failed count
// lookup leaves the listing undecorated.
func (a *Adapter) GetPathRelationship(ctx context.Context, session *resource.Session, path resource.Entity, rel resource.Relationship) ([]resource.Entity, error) {
	entities, err := a.Adapter.GetPathRelationship(ctx, session, path, rel)
	if err != nil {
		return nil, err
	}
	if rel != resource.RelationshipChild || i2b2.Depth(path.PUI) <= 3 || len(entities) == 0 {
		return entities, nil
	}

	counts, err := a.client.ChildConceptPatientCounts(ctx, session, i2b2.ConceptKey(path.PUI))
	if err != nil {
		a.logger.Warn().Err(err).Str("pui", path.PUI).Msg("child concept counts unavailable")
		return entities, nil
	}
	for i := range entities {
		n, ok := counts[i2b2.ToWarehousePath(entities[i].PUI, i2b2.SelectDrop)]
		if !ok {
			continue
		}
		if entities[i].Counts == nil {
			entities[i].Counts = make(map[string]int)
		}
		entities[i].Counts["count"] = n
	}
	return entities, nil
}

// Find runs a tranSMART text search over concept paths. Hits are placed
// under the project of path when one is given.
func (a *Adapter) Find(ctx context.Context, session *resource.Session, path *resource.Entity, find resource.FindByPath) ([]resource.Entity, error) {
	hits, err := a.client.FindPaths(ctx, session, find.Term, find.ObservationOnly)
	if err != nil {
		return nil, err
	}
	base := "/" + a.Name()
	if path != nil {
		if project := i2b2.ProjectID(path.PUI); project != "" {
			base += "/" + project
		}
	}

	out := make([]resource.Entity, 0, len(hits))
	for _, h := range hits {
		e := resource.Entity{PUI: base + i2b2.ToOntologyPath(h.ConceptPath)}
		if h.Text != nil {
			e.Attributes = map[string]string{"text": *h.Text}
		}
		out = append(out, e)
	}
	return out, nil
}

// SubmitAndExecute submits the query, waits for the patient set and
// extracts the selected facts into result.
func (a *Adapter) SubmitAndExecute(ctx context.Context, session *resource.Session, query resource.Query, result *resource.Result) *resource.Result {
	return a.controller.Execute(ctx, session, query, result)
}
