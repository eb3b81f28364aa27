// Package resource holds the resource-agnostic types the research query
// platform exchanges with warehouse adapters: ontology entities, queries,
// results and the session whose token is forwarded upstream.
package resource

import (
	"time"

	"github.com/ehr/warehouse/pkg/tabular"
)

// Entity is a node of an ontology tree, addressed by its PUI
// (platform path, e.g. /resource/project/category/...).
type Entity struct {
	PUI         string            `json:"pui"`
	Name        string            `json:"name,omitempty"`
	DisplayName string            `json:"displayName,omitempty"`
	Description string            `json:"description,omitempty"`
	DataType    tabular.DataType  `json:"dataType,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Counts      map[string]int    `json:"counts,omitempty"`
}

// Relationship names an ontology relationship an adapter can traverse.
type Relationship string

const (
	RelationshipChild    Relationship = "CHILD"
	RelationshipParent   Relationship = "PARENT"
	RelationshipModifier Relationship = "MODIFIER"
	RelationshipTerm     Relationship = "TERM"
)

// LogicalOperator joins a where clause to the clauses before it.
type LogicalOperator string

const (
	OperatorAnd LogicalOperator = "AND"
	OperatorOr  LogicalOperator = "OR"
	OperatorNot LogicalOperator = "NOT"
)

// WhereClause restricts the cohort to patients matching Field.
type WhereClause struct {
	Field     Entity            `json:"field"`
	Operator  LogicalOperator   `json:"operator,omitempty"`
	Predicate string            `json:"predicate,omitempty"`
	Values    map[string]string `json:"values,omitempty"`
}

// SelectClause requests one output column.
type SelectClause struct {
	Parameter Entity `json:"parameter"`
	Alias     string `json:"alias,omitempty"`
}

// Query is a structured cohort query plus the columns to return for it.
type Query struct {
	Name   string         `json:"name,omitempty"`
	Type   string         `json:"type,omitempty"`
	Where  []WhereClause  `json:"where"`
	Select []SelectClause `json:"select"`
	// IncludeEncounterFacts pivots the output per encounter instead of per patient.
	IncludeEncounterFacts bool `json:"includeEncounterFacts,omitempty"`
}

// FindByPath is a free-text path search request.
type FindByPath struct {
	Term            string `json:"term"`
	Strategy        string `json:"strategy,omitempty"`
	ObservationOnly bool   `json:"observationOnly,omitempty"`
}

// Session carries the caller's credentials for upstream calls.
type Session struct {
	UserID string
	Token  string
}

// ResultStatus is the lifecycle state of a query execution.
type ResultStatus string

const (
	StatusCreated   ResultStatus = "CREATED"
	StatusSubmitted ResultStatus = "SUBMITTED"
	StatusRunning   ResultStatus = "RUNNING"
	StatusComplete  ResultStatus = "COMPLETE"
	StatusError     ResultStatus = "ERROR"
)

// Terminal reports whether no further transitions are possible.
func (s ResultStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// ResultDataType describes the shape of a result's data.
type ResultDataType string

const ResultDataTabular ResultDataType = "TABULAR"

// Result tracks one query execution and, once complete, its data.
type Result struct {
	ID           string             `json:"id"`
	ResourceName string             `json:"resourceName"`
	ProjectID    string             `json:"projectId,omitempty"`
	ActionID     string             `json:"actionId,omitempty"`
	Status       ResultStatus       `json:"status"`
	Message      string             `json:"message,omitempty"`
	DataType     ResultDataType     `json:"dataType"`
	Data         *tabular.ResultSet `json:"data,omitempty"`
	StartedAt    time.Time          `json:"startedAt"`
	CompletedAt  *time.Time         `json:"completedAt,omitempty"`
}

// Fail moves the result to ERROR with the given message.
func (r *Result) Fail(msg string) {
	r.Status = StatusError
	r.Message = msg
	now := time.Now().UTC()
	r.CompletedAt = &now
}

// Complete moves the result to COMPLETE.
func (r *Result) Complete() {
	r.Status = StatusComplete
	now := time.Now().UTC()
	r.CompletedAt = &now
}

// State is the readiness of an adapter instance.
type State string

const (
	StateReady State = "READY"
)
