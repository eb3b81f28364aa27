package resource

import "context"

// PathResource is implemented by adapters that expose an ontology.
type PathResource interface {
	GetPathRelationship(ctx context.Context, session *Session, path Entity, rel Relationship) ([]Entity, error)
	SearchPaths(ctx context.Context, session *Session, path *Entity, term string) ([]Entity, error)
	SearchOntology(ctx context.Context, session *Session, path *Entity, ontologyType, term string) ([]Entity, error)
	Find(ctx context.Context, session *Session, path *Entity, find FindByPath) ([]Entity, error)
	ReturnEntities() []Entity
}

// QueryResource is implemented by adapters that run queries.
type QueryResource interface {
	// SubmitAndExecute runs the query to a terminal state (or until ctx is
	// done) and writes the outcome into result.
	SubmitAndExecute(ctx context.Context, session *Session, query Query, result *Result) *Result
	QueryDataType(query Query) ResultDataType
}

// Adapter is a full warehouse adapter.
type Adapter interface {
	PathResource
	QueryResource
	Name() string
	Type() string
	State() State
}
