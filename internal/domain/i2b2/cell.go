package i2b2

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/warehouse/internal/platform/failure"
	"github.com/ehr/warehouse/pkg/resource"
)

// Cell service names as exposed by the hive.
const (
	servicePM  = "PMService"
	serviceONT = "OntologyService"
	serviceCRC = "QueryToolService"
)

const (
	msgNamespace   = "http://www.i2b2.org/xsd/hive/msg/1.1/"
	applicationTag = "warehouse-adapter"
	maxErrorBody   = 2048
)

// cellClient posts i2b2 message envelopes to the hive cells.
type cellClient struct {
	settings Settings
	http     *http.Client
}

func newCellClient(settings Settings, client *http.Client) *cellClient {
	if client == nil {
		timeout := settings.HTTPTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &cellClient{settings: settings, http: client}
}

func (c *cellClient) endpoint(service, operation string) string {
	base := c.settings.ResourceURL
	if c.settings.UseProxy() {
		base = c.settings.ProxyURL
	}
	return strings.TrimRight(base, "/") + "/" + service + "/" + operation
}

type requestEnvelope struct {
	XMLName       xml.Name       `xml:"i2b2:request"`
	Namespace     string         `xml:"xmlns:i2b2,attr"`
	MessageHeader messageHeader  `xml:"message_header"`
	RequestHeader requestHeader  `xml:"request_header"`
	Body          rawMessageBody `xml:"message_body"`
}

type messageHeader struct {
	VersionCompatible string      `xml:"i2b2_version_compatible"`
	Application       application `xml:"sending_application"`
	Facility          string      `xml:"sending_facility>facility_name"`
	Security          security    `xml:"security"`
	MessageNum        string      `xml:"message_control_id>message_num"`
	InstanceNum       int         `xml:"message_control_id>instance_num"`
	ProcessingID      string      `xml:"processing_id>processing_id"`
	ProcessingMode    string      `xml:"processing_id>processing_mode"`
	AcceptAck         string      `xml:"accept_acknowledgement_type"`
	ProjectID         string      `xml:"project_id,omitempty"`
}

type application struct {
	Name    string `xml:"application_name"`
	Version string `xml:"application_version"`
}

type security struct {
	Domain   string `xml:"domain"`
	Username string `xml:"username"`
	Password string `xml:"password"`
}

type requestHeader struct {
	WaitTimeMS int `xml:"result_waittime_ms"`
}

type rawMessageBody struct {
	Inner []byte `xml:",innerxml"`
}

type responseEnvelope[T any] struct {
	XMLName xml.Name       `xml:"response"`
	Header  responseHeader `xml:"response_header"`
	Body    T              `xml:"message_body"`
}

type responseHeader struct {
	Status struct {
		Type string `xml:"type,attr"`
		Text string `xml:",chardata"`
	} `xml:"result_status>status"`
}

func (c *cellClient) envelope(projectID string, body ...interface{}) (*requestEnvelope, error) {
	var inner bytes.Buffer
	for _, b := range body {
		out, err := xml.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("marshal message body: %w", err)
		}
		inner.Write(out)
	}

	sec := security{Domain: c.settings.Domain}
	if !c.settings.UseProxy() {
		sec.Username = c.settings.Username
		sec.Password = c.settings.Password
	}

	return &requestEnvelope{
		Namespace: msgNamespace,
		MessageHeader: messageHeader{
			VersionCompatible: "1.1",
			Application:       application{Name: applicationTag, Version: "1.1"},
			Facility:          applicationTag,
			Security:          sec,
			MessageNum:        uuid.New().String(),
			ProcessingID:      "P",
			ProcessingMode:    "I",
			AcceptAck:         "AL",
			ProjectID:         projectID,
		},
		RequestHeader: requestHeader{WaitTimeMS: 180000},
		Body:          rawMessageBody{Inner: inner.Bytes()},
	}, nil
}

// callCell sends body to service/operation and decodes the message body of
// the response into T. A response status other than DONE is a protocol
// failure carrying the cell's message.
func callCell[T any](ctx context.Context, c *cellClient, session *resource.Session, service, operation, projectID string, body ...interface{}) (*T, error) {
	env, err := c.envelope(projectID, body...)
	if err != nil {
		return nil, err
	}
	payload, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal request envelope: %w", err)
	}

	url := c.endpoint(service, operation)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(append([]byte(xml.Header), payload...)))
	if err != nil {
		return nil, fmt.Errorf("build %s/%s request: %w", service, operation, err)
	}
	req.Header.Set("Content-Type", "application/xml")
	if session != nil && session.Token != "" {
		req.Header.Set("Authorization", "Bearer "+session.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, failure.Transportf(err, "%s/%s", service, operation)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, failure.Transportf(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
			"%s/%s", service, operation)
	}

	var out responseEnvelope[T]
	if err := xml.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, failure.Protocolf(err, "decode %s/%s response", service, operation)
	}
	if st := strings.ToUpper(out.Header.Status.Type); st != "DONE" {
		return nil, failure.Protocolf(nil, "%s/%s returned status %q: %s", service, operation,
			out.Header.Status.Type, strings.TrimSpace(out.Header.Status.Text))
	}
	return &out.Body, nil
}
