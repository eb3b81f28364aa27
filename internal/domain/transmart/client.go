package transmart

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ehr/warehouse/internal/platform/failure"
	"github.com/ehr/warehouse/pkg/resource"
)

const maxErrorBody = 2048

// Client calls the tranSMART REST endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the tranSMART application at baseURL. A nil
// hc gets a client with timeout.
func NewClient(baseURL string, hc *http.Client, timeout time.Duration) *Client {
	if hc == nil {
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// RetrieveClinicalData fetches the fact records of a patient set for a
// pipe-joined batch of concept paths and flat fields.
func (c *Client) RetrieveClinicalData(ctx context.Context, session *resource.Session, resultID, conceptPaths string, allEncounters bool) ([]Record, error) {
	q := url.Values{}
	q.Set("rid", resultID)
	q.Set("conceptPaths", conceptPaths)
	q.Set("gatherAllEncounterFacts", strconv.FormatBool(allEncounters))

	req, err := c.newRequest(ctx, session, http.MethodGet, "/ClinicalData/retrieveClinicalData?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := c.do(req, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ChildConceptPatientCounts returns patient counts of the children of a
// concept key, keyed by child concept path.
func (c *Client) ChildConceptPatientCounts(ctx context.Context, session *resource.Session, conceptKey string) (map[string]int, error) {
	form := url.Values{}
	form.Set("charttype", "childconceptpatientcounts")
	form.Set("concept_key", conceptKey)
	form.Set("concept_level", "")

	req, err := c.newRequest(ctx, session, http.MethodPost, "/chart/childConceptPatientCounts", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var body struct {
		Counts map[string]json.Number `json:"counts"`
	}
	if err := c.do(req, &body); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(body.Counts))
	for path, n := range body.Counts {
		v, err := n.Int64()
		if err != nil {
			return nil, failure.Protocolf(err, "count for %s", path)
		}
		out[path] = int(v)
	}
	return out, nil
}

// PathHit is one text search match.
type PathHit struct {
	ConceptPath string  `json:"conceptPath"`
	Text        *string `json:"text"`
}

// FindPaths runs a free-text search over concept paths.
func (c *Client) FindPaths(ctx context.Context, session *resource.Session, term string, observationOnly bool) ([]PathHit, error) {
	q := url.Values{}
	q.Set("oblyObs", strings.ToUpper(strconv.FormatBool(observationOnly)))
	q.Set("term", term)

	req, err := c.newRequest(ctx, session, http.MethodGet, "/textSearch/findPaths?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var hits []PathHit
	if err := c.do(req, &hits); err != nil {
		return nil, err
	}
	return hits, nil
}

func (c *Client) newRequest(ctx context.Context, session *resource.Session, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build tranSMART request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if session != nil && session.Token != "" {
		req.Header.Set("Authorization", "Bearer "+session.Token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	endpoint := req.URL.Path
	resp, err := c.http.Do(req)
	if err != nil {
		return failure.Transportf(err, "tranSMART %s", endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return failure.Transportf(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
			"tranSMART %s", endpoint)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return failure.Protocolf(err, "decode tranSMART %s response", endpoint)
	}
	return nil
}
