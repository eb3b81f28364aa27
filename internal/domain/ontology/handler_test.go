package ontology

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/warehouse/internal/platform/failure"
	"github.com/ehr/warehouse/pkg/resource"
)

// ── Fake Path Resource ──

type call struct {
	method string
	path   *resource.Entity
	rel    resource.Relationship
	typ    string
	term   string
	find   resource.FindByPath
}

type fakePaths struct {
	calls []call
	err   error
}

func (f *fakePaths) GetPathRelationship(_ context.Context, _ *resource.Session, path resource.Entity, rel resource.Relationship) ([]resource.Entity, error) {
	f.calls = append(f.calls, call{method: "path", path: &path, rel: rel})
	return []resource.Entity{{PUI: path.PUI + "/child"}}, f.err
}

func (f *fakePaths) SearchPaths(_ context.Context, _ *resource.Session, path *resource.Entity, term string) ([]resource.Entity, error) {
	f.calls = append(f.calls, call{method: "search", path: path, term: term})
	return []resource.Entity{}, f.err
}

func (f *fakePaths) SearchOntology(_ context.Context, _ *resource.Session, path *resource.Entity, typ, term string) ([]resource.Entity, error) {
	f.calls = append(f.calls, call{method: "code", path: path, typ: typ, term: term})
	return []resource.Entity{}, f.err
}

func (f *fakePaths) Find(_ context.Context, _ *resource.Session, path *resource.Entity, find resource.FindByPath) ([]resource.Entity, error) {
	f.calls = append(f.calls, call{method: "find", path: path, find: find})
	return []resource.Entity{}, f.err
}

func (f *fakePaths) ReturnEntities() []resource.Entity {
	return []resource.Entity{{PUI: "sex_cd"}}
}

func serve(t *testing.T, fn func(*Handler) echo.HandlerFunc, paths *fakePaths, target string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return rec, fn(NewHandler(paths))(e.NewContext(req, rec))
}

func TestHandler_GetPathRelationship(t *testing.T) {
	paths := &fakePaths{}
	rec, err := serve(t, func(h *Handler) echo.HandlerFunc { return h.GetPathRelationship }, paths, "/?pui=/demo/Demo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []resource.Entity
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got) != 1 || got[0].PUI != "/demo/Demo/child" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if paths.calls[0].rel != resource.RelationshipChild {
		t.Errorf("expected CHILD by default, got %s", paths.calls[0].rel)
	}

	_, err = serve(t, func(h *Handler) echo.HandlerFunc { return h.GetPathRelationship }, paths, "/?pui=/demo&relationship=modifier")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paths.calls[1].rel != resource.RelationshipModifier {
		t.Errorf("expected MODIFIER, got %s", paths.calls[1].rel)
	}
}

func TestHandler_GetPathRelationship_Errors(t *testing.T) {
	_, err := serve(t, func(h *Handler) echo.HandlerFunc { return h.GetPathRelationship }, &fakePaths{}, "/")
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing pui, got %v", err)
	}

	paths := &fakePaths{err: failure.Unsupportedf("relationship PARENT is not supported")}
	_, err = serve(t, func(h *Handler) echo.HandlerFunc { return h.GetPathRelationship }, paths, "/?pui=/demo&relationship=PARENT")
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unsupported relationship, got %v", err)
	}

	paths = &fakePaths{err: failure.Transportf(context.DeadlineExceeded, "call ONT")}
	_, err = serve(t, func(h *Handler) echo.HandlerFunc { return h.GetPathRelationship }, paths, "/?pui=/demo")
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for transport failure, got %v", err)
	}
}

func TestHandler_SearchScopes(t *testing.T) {
	paths := &fakePaths{}
	if _, err := serve(t, func(h *Handler) echo.HandlerFunc { return h.SearchPaths }, paths, "/?term=asth%25"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paths.calls[0].path != nil || paths.calls[0].term != "asth%" {
		t.Errorf("expected unscoped search for asth%%, got %+v", paths.calls[0])
	}

	if _, err := serve(t, func(h *Handler) echo.HandlerFunc { return h.SearchOntology }, paths, "/?pui=/demo/Demo&type=ICD9&term=493"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := paths.calls[1]
	if got.path == nil || got.path.PUI != "/demo/Demo" || got.typ != "ICD9" || got.term != "493" {
		t.Errorf("unexpected code search %+v", got)
	}

	_, err := serve(t, func(h *Handler) echo.HandlerFunc { return h.SearchOntology }, paths, "/?term=493")
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing type, got %v", err)
	}
}

func TestHandler_Find(t *testing.T) {
	paths := &fakePaths{}
	if _, err := serve(t, func(h *Handler) echo.HandlerFunc { return h.Find }, paths, "/?term=asthma&strategy=contains&observationOnly=true"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := resource.FindByPath{Term: "asthma", Strategy: "contains", ObservationOnly: true}
	if paths.calls[0].find != want {
		t.Errorf("unexpected find %+v", paths.calls[0].find)
	}

	_, err := serve(t, func(h *Handler) echo.HandlerFunc { return h.Find }, paths, "/?term=x&observationOnly=maybe")
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad flag, got %v", err)
	}
}

func TestHandler_ReturnEntities(t *testing.T) {
	rec, err := serve(t, func(h *Handler) echo.HandlerFunc { return h.ReturnEntities }, &fakePaths{}, "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != "[{\"pui\":\"sex_cd\"}]\n" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}
