package i2b2

import (
	"context"
	"strings"
	"testing"

	"github.com/ehr/warehouse/internal/platform/failure"
	"github.com/ehr/warehouse/pkg/resource"
	"github.com/ehr/warehouse/pkg/tabular"
)

func newTestAdapter(t *testing.T) (*Adapter, *fakeHive) {
	t.Helper()
	hive, srv := newFakeHive(t)
	a, err := NewAdapter(testSettings(srv.URL))
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return a, hive
}

func TestNewAdapter_MissingParameters(t *testing.T) {
	_, err := NewAdapter(Settings{ResourceName: "demo"})
	if !failure.Is(err, failure.MissingConfiguration) {
		t.Fatalf("expected missing configuration, got %v", err)
	}
	if !strings.Contains(err.Error(), "resourceURL") || !strings.Contains(err.Error(), "domain") {
		t.Errorf("error should name the missing parameters: %v", err)
	}
}

func TestAdapter_Metadata(t *testing.T) {
	a, _ := newTestAdapter(t)
	if a.Name() != "demo" || a.Type() != "i2b2XML" || a.State() != resource.StateReady {
		t.Errorf("unexpected metadata %s %s %s", a.Name(), a.Type(), a.State())
	}
	if a.QueryDataType(resource.Query{}) != resource.ResultDataTabular {
		t.Error("expected tabular data type")
	}
	entities := a.ReturnEntities()
	if len(entities) != 12 {
		t.Fatalf("expected 12 return entities, got %d", len(entities))
	}
	if entities[0].PUI != "Patient Id" || entities[11].PUI != "sex_cd" {
		t.Errorf("unexpected return entities %v ... %v", entities[0], entities[11])
	}
}

func TestAdapter_ChildrenOfResource(t *testing.T) {
	a, hive := newTestAdapter(t)
	got, err := a.GetPathRelationship(context.Background(), nil, resource.Entity{PUI: "/demo"}, resource.RelationshipChild)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(got))
	}
	if got[0].PUI != "/demo/Demo" || got[0].DisplayName != "Demo Project" || got[0].Description != "demo data" {
		t.Errorf("unexpected project entity %+v", got[0])
	}

	reqs := hive.requests("/PMService/getServices")
	if len(reqs) != 1 {
		t.Fatalf("expected one PM call, got %d", len(reqs))
	}
	for _, want := range []string{"<username>demo</username>", "<password>demouser</password>", "<domain>i2b2demo</domain>"} {
		if !strings.Contains(reqs[0], want) {
			t.Errorf("PM request missing %s", want)
		}
	}
}

func TestAdapter_ChildrenOfProject(t *testing.T) {
	a, _ := newTestAdapter(t)
	got, err := a.GetPathRelationship(context.Background(), nil, resource.Entity{PUI: "/demo/Demo"}, resource.RelationshipChild)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].PUI != "/demo/Demo/i2b2/Demographics/" {
		t.Fatalf("unexpected categories %+v", got)
	}
}

func TestAdapter_ChildrenOfConcept(t *testing.T) {
	a, hive := newTestAdapter(t)
	got, err := a.GetPathRelationship(context.Background(), &resource.Session{Token: "tok"},
		resource.Entity{PUI: "/demo/Demo/i2b2/Demographics/"}, resource.RelationshipChild)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 children, got %d", len(got))
	}
	if got[0].PUI != "/demo/Demo/i2b2/Demographics/Age/" {
		t.Errorf("unexpected child PUI %q", got[0].PUI)
	}
	if got[0].DataType != "" {
		t.Errorf("folder should carry no data type, got %q", got[0].DataType)
	}
	if got[1].DataType != tabular.String {
		t.Errorf("leaf should be STRING, got %q", got[1].DataType)
	}
	if got[1].Attributes["totalnum"] != "42" || got[1].Attributes["tablename"] != "concept_dimension" {
		t.Errorf("unexpected attributes %v", got[1].Attributes)
	}

	reqs := hive.requests("/OntologyService/getChildren")
	if len(reqs) != 1 || !strings.Contains(reqs[0], `<parent>\\i2b2\Demographics\</parent>`) {
		t.Errorf("expected parent key in request, got %v", reqs)
	}
	if !strings.Contains(reqs[0], "<project_id>Demo</project_id>") {
		t.Error("expected project id in message header")
	}
}

func TestAdapter_OtherRelationships(t *testing.T) {
	a, _ := newTestAdapter(t)
	path := resource.Entity{PUI: "/demo/Demo/i2b2/Demographics"}
	for _, rel := range []resource.Relationship{resource.RelationshipModifier, resource.RelationshipTerm} {
		got, err := a.GetPathRelationship(context.Background(), nil, path, rel)
		if err != nil || len(got) != 0 {
			t.Errorf("%s: expected empty listing, got %v, %v", rel, got, err)
		}
	}
	_, err := a.GetPathRelationship(context.Background(), nil, path, resource.RelationshipParent)
	if !failure.Is(err, failure.UnsupportedRelationship) {
		t.Errorf("expected unsupported relationship, got %v", err)
	}
}

func TestParseStrategy(t *testing.T) {
	cases := []struct{ in, strategy, term string }{
		{"%asthma%", StrategyContains, "asthma"},
		{"%asthma", StrategyRight, "asthma"},
		{"asthma%", StrategyLeft, "asthma"},
		{"asthma", StrategyExact, "asthma"},
		{"%", StrategyRight, ""},
	}
	for _, tc := range cases {
		s, term := ParseStrategy(tc.in)
		if s != tc.strategy || term != tc.term {
			t.Errorf("ParseStrategy(%q) = %q, %q; want %q, %q", tc.in, s, term, tc.strategy, tc.term)
		}
	}
}

func TestAdapter_SearchPaths(t *testing.T) {
	a, hive := newTestAdapter(t)

	got, err := a.SearchPaths(context.Background(), nil, nil, "%asth%")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// two projects, one category each
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(got))
	}
	if got[0].PUI != "/demo/Demo/i2b2/Diagnoses/Asthma/" || got[1].PUI != "/demo/Other/i2b2/Diagnoses/Asthma/" {
		t.Errorf("unexpected hits %q %q", got[0].PUI, got[1].PUI)
	}
	reqs := hive.requests("/OntologyService/getNameInfo")
	if len(reqs) != 2 {
		t.Fatalf("expected 2 name searches, got %d", len(reqs))
	}
	if !strings.Contains(reqs[0], `<match_str strategy="contains">asth</match_str>`) {
		t.Errorf("unexpected name search %s", reqs[0])
	}
	if !strings.Contains(reqs[0], `category="i2b2"`) {
		t.Errorf("expected category scope in %s", reqs[0])
	}

	got, err = a.SearchPaths(context.Background(), nil, &resource.Entity{PUI: "/demo/Demo/i2b2/Diagnoses"}, "Asthma")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 hit in a category search, got %d", len(got))
	}
}

func TestAdapter_SearchOntology(t *testing.T) {
	a, hive := newTestAdapter(t)
	got, err := a.SearchOntology(context.Background(), nil, &resource.Entity{PUI: "/demo/Demo"}, "ICD10", "J45")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Attributes["basecode"] != "ICD10:J45" {
		t.Fatalf("unexpected result %+v", got)
	}
	reqs := hive.requests("/OntologyService/getCodeInfo")
	if len(reqs) != 1 || !strings.Contains(reqs[0], `<match_str strategy="exact">ICD10:J45</match_str>`) {
		t.Errorf("unexpected code search %v", reqs)
	}
}

func cohortQuery() resource.Query {
	return resource.Query{
		Name: "asthma cohort",
		Where: []resource.WhereClause{
			clause(resource.OperatorAnd, "/demo/Demo/i2b2/Diagnoses/Asthma"),
		},
	}
}

func TestAdapter_SubmitAndExecute(t *testing.T) {
	a, hive := newTestAdapter(t)
	hive.setStatuses("PROCESSING", "QUEUED", "FINISHED")

	result := a.SubmitAndExecute(context.Background(), nil, cohortQuery(), &resource.Result{ID: "r1"})
	if result.Status != resource.StatusComplete {
		t.Fatalf("expected COMPLETE, got %s (%s)", result.Status, result.Message)
	}
	if result.ActionID != "11|22|33" {
		t.Errorf("unexpected handle %q", result.ActionID)
	}
	if result.ProjectID != "Demo" || result.CompletedAt == nil {
		t.Errorf("unexpected result %+v", result)
	}
	if n := hive.pollCount(); n != 3 {
		t.Errorf("expected 3 polls, got %d", n)
	}

	reqs := hive.requests("/QueryToolService/request")
	if !strings.Contains(reqs[0], `<item_key>\\i2b2\Diagnoses\Asthma\</item_key>`) {
		t.Errorf("submission missing item key: %s", reqs[0])
	}
	if !strings.Contains(reqs[0], `<result_output priority_index="10" name="PATIENTSET"></result_output>`) {
		t.Errorf("submission missing patient set output: %s", reqs[0])
	}
	if !strings.Contains(reqs[1], "<query_instance_id>22</query_instance_id>") {
		t.Errorf("status poll missing instance id: %s", reqs[1])
	}
}

func TestAdapter_SubmitAndExecute_QueryError(t *testing.T) {
	a, hive := newTestAdapter(t)
	hive.setStatuses("PROCESSING", "ERROR")

	result := a.SubmitAndExecute(context.Background(), nil, cohortQuery(), &resource.Result{})
	if result.Status != resource.StatusError {
		t.Fatalf("expected ERROR, got %s", result.Status)
	}
	if result.ActionID == "" {
		t.Error("handle should be recorded even when the query fails")
	}
}

func TestAdapter_SubmitAndExecute_CellFailure(t *testing.T) {
	a, hive := newTestAdapter(t)
	hive.failPath("/QueryToolService/request", "ERROR")

	result := a.SubmitAndExecute(context.Background(), nil, cohortQuery(), &resource.Result{})
	if result.Status != resource.StatusError {
		t.Fatalf("expected ERROR, got %s", result.Status)
	}
	if result.ActionID != "" {
		t.Error("no handle should be recorded when submission fails")
	}
	if !strings.Contains(result.Message, "status text") {
		t.Errorf("message should carry the cell status, got %q", result.Message)
	}
}

func TestAdapter_SubmitWithoutWhere(t *testing.T) {
	a, _ := newTestAdapter(t)
	err := a.Submit(context.Background(), nil, resource.Query{}, &resource.Result{})
	if !failure.Is(err, failure.QueryShape) {
		t.Fatalf("expected query shape error, got %v", err)
	}
}

func TestAdapter_TransportFailure(t *testing.T) {
	settings := testSettings("http://127.0.0.1:1")
	a, err := NewAdapter(settings)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	_, err = a.GetPathRelationship(context.Background(), nil, resource.Entity{PUI: "/demo"}, resource.RelationshipChild)
	if !failure.Is(err, failure.Transport) {
		t.Fatalf("expected transport failure, got %v", err)
	}
}

func TestAdapter_ProxyOmitsCredentials(t *testing.T) {
	hive, srv := newFakeHive(t)
	settings := testSettings("http://unused.invalid")
	settings.ProxyURL = srv.URL
	a, err := NewAdapter(settings)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if _, err := a.GetPathRelationship(context.Background(), &resource.Session{Token: "abc"},
		resource.Entity{PUI: "/demo"}, resource.RelationshipChild); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reqs := hive.requests("/PMService/getServices")
	if len(reqs) != 1 {
		t.Fatalf("expected call through the proxy, got %d", len(reqs))
	}
	if strings.Contains(reqs[0], "demouser") {
		t.Error("proxy requests must not carry the password")
	}
}

func TestAdapter_SubmitAndExecute_ReportsProgress(t *testing.T) {
	a, hive := newTestAdapter(t)
	hive.setStatuses("PROCESSING", "FINISHED")

	type report struct {
		status resource.ResultStatus
		handle string
	}
	var reports []report
	ctx := resource.WithProgress(context.Background(), func(_ context.Context, r *resource.Result) {
		reports = append(reports, report{r.Status, r.ActionID})
	})

	result := a.SubmitAndExecute(ctx, nil, cohortQuery(), &resource.Result{ID: "r1"})
	if result.Status != resource.StatusComplete {
		t.Fatalf("expected COMPLETE, got %s (%s)", result.Status, result.Message)
	}
	want := []report{{resource.StatusSubmitted, "11|22|33"}, {resource.StatusRunning, "11|22|33"}}
	if len(reports) != len(want) {
		t.Fatalf("expected %d progress reports, got %+v", len(want), reports)
	}
	for i := range want {
		if reports[i] != want[i] {
			t.Errorf("report %d: expected %+v, got %+v", i, want[i], reports[i])
		}
	}
}
