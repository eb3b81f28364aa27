package i2b2

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/ehr/warehouse/internal/platform/failure"
	"github.com/ehr/warehouse/pkg/resource"
)

const (
	crcNamespace = "http://www.i2b2.org/xsd/cell/crc/psm/1.1/"
	xsiNamespace = "http://www.w3.org/2001/XMLSchema-instance"

	requestRunQuery     = "CRC_QRY_runQueryInstance_fromQueryDefinition"
	requestResultStatus = "CRC_QRY_getQueryResultInstanceList_fromQueryInstanceId"
)

type psmHeader struct {
	XMLName         xml.Name `xml:"crc:psmheader"`
	Namespace       string   `xml:"xmlns:crc,attr"`
	User            psmUser  `xml:"user"`
	PatientSetLimit int      `xml:"patient_set_limit"`
	EstimatedTime   int      `xml:"estimated_time"`
	QueryMode       string   `xml:"query_mode"`
	RequestType     string   `xml:"request_type"`
}

type psmUser struct {
	Group string `xml:"group,attr"`
	Login string `xml:"login,attr"`
	Name  string `xml:",chardata"`
}

type queryDefinitionRequest struct {
	XMLName         xml.Name        `xml:"crc:request"`
	Namespace       string          `xml:"xmlns:crc,attr"`
	XSINamespace    string          `xml:"xmlns:xsi,attr"`
	XSIType         string          `xml:"xsi:type,attr"`
	QueryDefinition queryDefinition `xml:"query_definition"`
	ResultOutputs   []resultOutput  `xml:"result_output_list>result_output"`
}

type queryDefinition struct {
	Name             string  `xml:"query_name"`
	Timing           string  `xml:"query_timing"`
	SpecificityScale int     `xml:"specificity_scale"`
	Panels           []Panel `xml:"panel"`
}

type resultOutput struct {
	PriorityIndex int    `xml:"priority_index,attr"`
	Name          string `xml:"name,attr"`
}

type instanceRequest struct {
	XMLName         xml.Name `xml:"crc:request"`
	Namespace       string   `xml:"xmlns:crc,attr"`
	XSINamespace    string   `xml:"xmlns:xsi,attr"`
	XSIType         string   `xml:"xsi:type,attr"`
	QueryInstanceID string   `xml:"query_instance_id"`
}

type crcBody struct {
	Response crcResponse `xml:"response"`
}

type crcResponse struct {
	Conditions []struct {
		Type string `xml:"type,attr"`
		Text string `xml:",chardata"`
	} `xml:"status>condition"`
	QueryMasterID   string                `xml:"query_master>query_master_id"`
	QueryInstanceID string                `xml:"query_instance>query_instance_id"`
	ResultInstances []QueryResultInstance `xml:"query_result_instance"`
}

// QueryResultInstance is one output (patient set) of a query instance.
type QueryResultInstance struct {
	ResultInstanceID string          `xml:"result_instance_id"`
	QueryInstanceID  string          `xml:"query_instance_id"`
	SetSize          int             `xml:"set_size"`
	Status           QueryStatusType `xml:"query_status_type"`
}

// QueryStatusType is the CRC status block.
type QueryStatusType struct {
	ID          int    `xml:"status_type_id"`
	Name        string `xml:"name"`
	Description string `xml:"description"`
}

func (r crcResponse) err() error {
	for _, c := range r.Conditions {
		if strings.EqualFold(c.Type, "ERROR") || strings.EqualFold(c.Type, "FATAL_ERROR") {
			return failure.Protocolf(nil, "query tool error: %s", strings.TrimSpace(c.Text))
		}
	}
	return nil
}

func (c *cellClient) psmHeader(requestType string) psmHeader {
	return psmHeader{
		Namespace:   crcNamespace,
		User:        psmUser{Group: "", Login: c.settings.Username, Name: c.settings.Username},
		QueryMode:   "optimize_without_temp_table",
		RequestType: requestType,
	}
}

// RunQuery submits a query definition and returns the execution handle.
func (c *cellClient) RunQuery(ctx context.Context, session *resource.Session, projectID, name string, panels []Panel) (Handle, error) {
	req := queryDefinitionRequest{
		Namespace:    crcNamespace,
		XSINamespace: xsiNamespace,
		XSIType:      "crc:query_definition_requestType",
		QueryDefinition: queryDefinition{
			Name:   name,
			Timing: "ANY",
			Panels: panels,
		},
		ResultOutputs: []resultOutput{{PriorityIndex: 10, Name: "PATIENTSET"}},
	}
	body, err := callCell[crcBody](ctx, c, session, serviceCRC, "request", projectID, c.psmHeader(requestRunQuery), req)
	if err != nil {
		return Handle{}, err
	}
	resp := body.Response
	if err := resp.err(); err != nil {
		return Handle{}, err
	}
	if len(resp.ResultInstances) == 0 || resp.ResultInstances[0].ResultInstanceID == "" {
		return Handle{}, failure.Protocolf(nil, "query submission returned no result instance")
	}
	h := Handle{
		QueryMasterID:    resp.QueryMasterID,
		QueryInstanceID:  resp.QueryInstanceID,
		ResultInstanceID: resp.ResultInstances[0].ResultInstanceID,
	}
	if h.QueryInstanceID == "" {
		h.QueryInstanceID = resp.ResultInstances[0].QueryInstanceID
	}
	return h, nil
}

// ResultInstance fetches the patient-set result instance of a query instance.
func (c *cellClient) ResultInstance(ctx context.Context, session *resource.Session, projectID string, h Handle) (*QueryResultInstance, error) {
	req := instanceRequest{
		Namespace:       crcNamespace,
		XSINamespace:    xsiNamespace,
		XSIType:         "crc:instance_requestType",
		QueryInstanceID: h.QueryInstanceID,
	}
	body, err := callCell[crcBody](ctx, c, session, serviceCRC, "request", projectID, c.psmHeader(requestResultStatus), req)
	if err != nil {
		return nil, err
	}
	if err := body.Response.err(); err != nil {
		return nil, err
	}
	for i := range body.Response.ResultInstances {
		if body.Response.ResultInstances[i].ResultInstanceID == h.ResultInstanceID {
			return &body.Response.ResultInstances[i], nil
		}
	}
	if len(body.Response.ResultInstances) > 0 {
		return &body.Response.ResultInstances[0], nil
	}
	return nil, failure.Protocolf(nil, "no result instance for query instance %s", h.QueryInstanceID)
}
