package i2b2

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeHive answers PM, ONT and CRC calls with canned envelopes and records
// every request body per endpoint.
type fakeHive struct {
	mu       sync.Mutex
	bodies   map[string][]string
	statuses []string // query status names returned by successive polls
	polls    int
	fail     map[string]string // path -> non-DONE status type
}

func newFakeHive(t *testing.T) (*fakeHive, *httptest.Server) {
	t.Helper()
	h := &fakeHive{bodies: map[string][]string{}, fail: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(srv.Close)
	return h, srv
}

func (h *fakeHive) requests(path string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.bodies[path]...)
}

func (h *fakeHive) setStatuses(s ...string) {
	h.mu.Lock()
	h.statuses = s
	h.mu.Unlock()
}

func (h *fakeHive) failPath(path, statusType string) {
	h.mu.Lock()
	h.fail[path] = statusType
	h.mu.Unlock()
}

func (h *fakeHive) pollCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.polls
}

func (h *fakeHive) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	body := string(raw)

	h.mu.Lock()
	h.bodies[r.URL.Path] = append(h.bodies[r.URL.Path], body)
	failType := h.fail[r.URL.Path]
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/xml")
	if failType != "" {
		fmt.Fprint(w, hiveResponse(failType, ""))
		return
	}

	switch r.URL.Path {
	case "/PMService/getServices":
		fmt.Fprint(w, hiveResponse("DONE", `<configure><user>
			<project id="Demo"><name>Demo Project</name><path>/Demo</path><description>demo data</description></project>
			<project id="Other"><name>Other</name></project>
		</user></configure>`))
	case "/OntologyService/getCategories":
		fmt.Fprint(w, hiveResponse("DONE", `<concepts>`+
			concept(1, `\\i2b2\Demographics\`, "Demographics", "CA", "")+
			`</concepts>`))
	case "/OntologyService/getChildren":
		fmt.Fprint(w, hiveResponse("DONE", `<concepts>`+
			concept(2, `\\i2b2\Demographics\Age\`, "Age", "FA", "")+
			concept(2, `\\i2b2\Demographics\Sex\`, "Sex", "LA", "<totalnum>42</totalnum>")+
			`</concepts>`))
	case "/OntologyService/getNameInfo", "/OntologyService/getCodeInfo":
		fmt.Fprint(w, hiveResponse("DONE", `<concepts>`+
			concept(3, `\\i2b2\Diagnoses\Asthma\`, "Asthma", "LA", "<basecode>ICD10:J45</basecode>")+
			`</concepts>`))
	case "/QueryToolService/request":
		if strings.Contains(body, requestRunQuery) {
			fmt.Fprint(w, hiveResponse("DONE", crcPayload("RUNNING")))
			return
		}
		h.mu.Lock()
		status := "FINISHED"
		if h.polls < len(h.statuses) {
			status = h.statuses[h.polls]
		}
		h.polls++
		h.mu.Unlock()
		fmt.Fprint(w, hiveResponse("DONE", crcPayload(status)))
	default:
		http.NotFound(w, r)
	}
}

func hiveResponse(statusType, body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<ns5:response xmlns:ns5="http://www.i2b2.org/xsd/hive/msg/1.1/">
  <message_header><i2b2_version_compatible>1.1</i2b2_version_compatible></message_header>
  <response_header><result_status><status type="` + statusType + `">status text</status></result_status></response_header>
  <message_body>` + body + `</message_body>
</ns5:response>`
}

func concept(level int, key, name, visual, extra string) string {
	return fmt.Sprintf(`<concept><level>%d</level><key>%s</key><name>%s</name><synonym_cd>N</synonym_cd>`+
		`<visualattributes>%s</visualattributes><tablename>concept_dimension</tablename>%s</concept>`,
		level, key, name, visual, extra)
}

func crcPayload(status string) string {
	return `<ns4:response xmlns:ns4="http://www.i2b2.org/xsd/cell/crc/psm/1.1/">
  <status><condition type="DONE">DONE</condition></status>
  <query_master><query_master_id>11</query_master_id></query_master>
  <query_instance><query_instance_id>22</query_instance_id></query_instance>
  <query_result_instance>
    <result_instance_id>33</result_instance_id>
    <query_instance_id>22</query_instance_id>
    <set_size>2</set_size>
    <query_status_type><status_type_id>1</status_type_id><name>` + status + `</name></query_status_type>
  </query_result_instance>
</ns4:response>`
}

func testSettings(url string) Settings {
	return Settings{
		ResourceName: "demo",
		ResourceURL:  url,
		Domain:       "i2b2demo",
		Username:     "demo",
		Password:     "demouser",
		Poll:         PollPolicy{Interval: time.Millisecond, Timeout: 5 * time.Second},
	}
}
