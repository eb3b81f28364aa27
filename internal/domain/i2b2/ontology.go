package i2b2

import (
	"context"
	"encoding/xml"

	"github.com/ehr/warehouse/pkg/resource"
)

const (
	pmNamespace  = "http://www.i2b2.org/xsd/cell/pm/1.1/"
	ontNamespace = "http://www.i2b2.org/xsd/cell/ont/1.1/"
	ontType      = "core"
)

type getUserConfiguration struct {
	XMLName   xml.Name `xml:"pm:get_user_configuration"`
	Namespace string   `xml:"xmlns:pm,attr"`
	Project   []string `xml:"project"`
}

type configureBody struct {
	Projects []Project `xml:"configure>user>project"`
}

type getCategories struct {
	XMLName   xml.Name `xml:"ont:get_categories"`
	Namespace string   `xml:"xmlns:ont,attr"`
	Type      string   `xml:"type,attr"`
	Blob      bool     `xml:"blob,attr"`
	Hiddens   bool     `xml:"hiddens,attr"`
	Synonyms  bool     `xml:"synonyms,attr"`
}

type getChildren struct {
	XMLName   xml.Name `xml:"ont:get_children"`
	Namespace string   `xml:"xmlns:ont,attr"`
	Type      string   `xml:"type,attr"`
	Blob      bool     `xml:"blob,attr"`
	Hiddens   bool     `xml:"hiddens,attr"`
	Synonyms  bool     `xml:"synonyms,attr"`
	Parent    string   `xml:"parent"`
}

type matchStr struct {
	Strategy string `xml:"strategy,attr"`
	Value    string `xml:",chardata"`
}

type vocabRequest struct {
	XMLName   xml.Name
	Namespace string   `xml:"xmlns:ont,attr"`
	Type      string   `xml:"type,attr"`
	Blob      bool     `xml:"blob,attr"`
	Hiddens   bool     `xml:"hiddens,attr"`
	Synonyms  bool     `xml:"synonyms,attr"`
	Category  string   `xml:"category,attr,omitempty"`
	Match     matchStr `xml:"match_str"`
}

type conceptsBody struct {
	Concepts []Concept `xml:"concepts>concept"`
}

// Projects lists the PM projects visible to the configured user.
func (c *cellClient) Projects(ctx context.Context, session *resource.Session) ([]Project, error) {
	body, err := callCell[configureBody](ctx, c, session, servicePM, "getServices", "",
		getUserConfiguration{Namespace: pmNamespace, Project: []string{"undefined"}})
	if err != nil {
		return nil, err
	}
	return body.Projects, nil
}

// Categories lists the top-level ontology categories of a project.
func (c *cellClient) Categories(ctx context.Context, session *resource.Session, projectID string) ([]Concept, error) {
	body, err := callCell[conceptsBody](ctx, c, session, serviceONT, "getCategories", projectID,
		getCategories{Namespace: ontNamespace, Type: ontType, Synonyms: true})
	if err != nil {
		return nil, err
	}
	return body.Concepts, nil
}

// Children lists the direct children of an ontology key.
func (c *cellClient) Children(ctx context.Context, session *resource.Session, projectID, parentKey string) ([]Concept, error) {
	body, err := callCell[conceptsBody](ctx, c, session, serviceONT, "getChildren", projectID,
		getChildren{Namespace: ontNamespace, Type: ontType, Parent: parentKey})
	if err != nil {
		return nil, err
	}
	return body.Concepts, nil
}

// NameInfo searches concept names in a category.
func (c *cellClient) NameInfo(ctx context.Context, session *resource.Session, projectID, category, strategy, term string) ([]Concept, error) {
	req := vocabRequest{
		XMLName:   xml.Name{Local: "ont:get_name_info"},
		Namespace: ontNamespace,
		Type:      ontType,
		Blob:      true,
		Category:  category,
		Match:     matchStr{Strategy: strategy, Value: term},
	}
	body, err := callCell[conceptsBody](ctx, c, session, serviceONT, "getNameInfo", projectID, req)
	if err != nil {
		return nil, err
	}
	return body.Concepts, nil
}

// CodeInfo searches concepts by coding system and code ("type:term").
func (c *cellClient) CodeInfo(ctx context.Context, session *resource.Session, projectID, category, ontologyType, term string) ([]Concept, error) {
	req := vocabRequest{
		XMLName:   xml.Name{Local: "ont:get_code_info"},
		Namespace: ontNamespace,
		Type:      ontType,
		Blob:      true,
		Category:  category,
		Match:     matchStr{Strategy: "exact", Value: ontologyType + ":" + term},
	}
	body, err := callCell[conceptsBody](ctx, c, session, serviceONT, "getCodeInfo", projectID, req)
	if err != nil {
		return nil, err
	}
	return body.Concepts, nil
}
