package i2b2

import (
	"strconv"
	"strings"
	"time"

	"github.com/ehr/warehouse/internal/platform/failure"
	"github.com/ehr/warehouse/pkg/resource"
	"github.com/ehr/warehouse/pkg/tabular"
)

// Settings is the connection configuration of one i2b2 resource. It is built
// once at startup and never mutated.
type Settings struct {
	ResourceName string
	ResourceURL  string
	Domain       string
	ProxyURL     string
	Username     string
	Password     string
	HTTPTimeout  time.Duration
	Poll         PollPolicy
}

// UseProxy reports whether calls go through the proxy without credentials.
func (s Settings) UseProxy() bool { return s.ProxyURL != "" }

// Validate reports the required parameters that are missing.
func (s Settings) Validate() error {
	var missing []string
	if s.ResourceName == "" {
		missing = append(missing, "resourceName")
	}
	if s.ResourceURL == "" {
		missing = append(missing, "resourceURL")
	}
	if s.Domain == "" {
		missing = append(missing, "domain")
	}
	if len(missing) > 0 {
		return failure.Missingf("missing parameters: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Project is a PM project the user can access.
type Project struct {
	ID          string `xml:"id,attr"`
	Path        string `xml:"path"`
	Name        string `xml:"name"`
	Description string `xml:"description"`
}

// Concept is an ONT concept row.
type Concept struct {
	Level            int       `xml:"level"`
	Key              string    `xml:"key"`
	Name             string    `xml:"name"`
	SynonymCd        string    `xml:"synonym_cd"`
	VisualAttributes string    `xml:"visualattributes"`
	TotalNum         *int      `xml:"totalnum"`
	BaseCode         string    `xml:"basecode"`
	FactTableColumn  string    `xml:"facttablecolumn"`
	TableName        string    `xml:"tablename"`
	ColumnName       string    `xml:"columnname"`
	ColumnDataType   string    `xml:"columndatatype"`
	Operator         string    `xml:"operator"`
	DimCode          string    `xml:"dimcode"`
	Comment          string    `xml:"comment"`
	Tooltip          string    `xml:"tooltip"`
	SourceSystemCd   string    `xml:"sourcesystem_cd"`
	ValueTypeCd      string    `xml:"valuetype_cd"`
	Modifier         *Modifier `xml:"modifier"`
}

// Modifier is the optional modifier block of a concept.
type Modifier struct {
	Level            int    `xml:"level"`
	AppliedPath      string `xml:"applied_path"`
	Key              string `xml:"key"`
	FullName         string `xml:"fullname"`
	Name             string `xml:"name"`
	VisualAttributes string `xml:"visualattributes"`
	SynonymCd        string `xml:"synonym_cd"`
	TotalNum         *int   `xml:"totalnum"`
	BaseCode         string `xml:"basecode"`
	FactTableColumn  string `xml:"facttablecolumn"`
	TableName        string `xml:"tablename"`
	ColumnName       string `xml:"columnname"`
	ColumnDataType   string `xml:"columndatatype"`
	Operator         string `xml:"operator"`
	DimCode          string `xml:"dimcode"`
	Comment          string `xml:"comment"`
	Tooltip          string `xml:"tooltip"`
	SourceSystemCd   string `xml:"sourcesystem_cd"`
}

// ToEntity converts a concept into a platform entity below basePath.
func (c Concept) ToEntity(basePath string) resource.Entity {
	e := resource.Entity{
		PUI:         basePath + ToOntologyPath(c.Key),
		Name:        c.Name,
		DisplayName: c.Name,
	}
	if strings.HasPrefix(c.VisualAttributes, "L") {
		e.DataType = tabular.String
	}

	attrs := map[string]string{
		"level":            strconv.Itoa(c.Level),
		"key":              c.Key,
		"name":             c.Name,
		"synonymCd":        c.SynonymCd,
		"visualattributes": c.VisualAttributes,
		"basecode":         c.BaseCode,
		"facttablecolumn":  c.FactTableColumn,
		"tablename":        c.TableName,
		"columnname":       c.ColumnName,
		"columndatatype":   c.ColumnDataType,
		"operator":         c.Operator,
		"dimcode":          c.DimCode,
		"comment":          c.Comment,
		"tooltip":          c.Tooltip,
		"sourcesystemCd":   c.SourceSystemCd,
		"valuetypeCd":      c.ValueTypeCd,
	}
	if c.TotalNum != nil {
		attrs["totalnum"] = strconv.Itoa(*c.TotalNum)
	}
	if m := c.Modifier; m != nil {
		attrs["modifier.level"] = strconv.Itoa(m.Level)
		attrs["modifier.appliedPath"] = m.AppliedPath
		attrs["modifier.key"] = m.Key
		attrs["modifier.fullname"] = m.FullName
		attrs["modifier.name"] = m.Name
		attrs["modifier.visualattributes"] = m.VisualAttributes
		attrs["modifier.synonymCd"] = m.SynonymCd
		if m.TotalNum != nil {
			attrs["modifier.totalnum"] = strconv.Itoa(*m.TotalNum)
		}
		attrs["modifier.basecode"] = m.BaseCode
		attrs["modifier.facttablecolumn"] = m.FactTableColumn
		attrs["modifier.tablename"] = m.TableName
		attrs["modifier.columnname"] = m.ColumnName
		attrs["modifier.columndatatype"] = m.ColumnDataType
		attrs["modifier.operator"] = m.Operator
		attrs["modifier.dimcode"] = m.DimCode
		attrs["modifier.comment"] = m.Comment
		attrs["modifier.tooltip"] = m.Tooltip
		attrs["modifier.sourcesystemCd"] = m.SourceSystemCd
	}
	e.Attributes = attrs
	return e
}

// ConceptsToEntities converts an ONT listing.
func ConceptsToEntities(basePath string, concepts []Concept) []resource.Entity {
	out := make([]resource.Entity, 0, len(concepts))
	for _, c := range concepts {
		out = append(out, c.ToEntity(basePath))
	}
	return out
}

// Handle is the parsed form of a query execution handle
// "<queryMasterId>|<queryInstanceId>|<resultInstanceId>".
type Handle struct {
	QueryMasterID    string
	QueryInstanceID  string
	ResultInstanceID string
}

func (h Handle) String() string {
	return h.QueryMasterID + "|" + h.QueryInstanceID + "|" + h.ResultInstanceID
}

// ParseHandle splits an execution handle. It needs at least three segments.
func ParseHandle(actionID string) (Handle, error) {
	parts := strings.Split(actionID, "|")
	if len(parts) < 3 || parts[2] == "" {
		return Handle{}, failure.Protocolf(nil, "malformed execution handle %q", actionID)
	}
	return Handle{QueryMasterID: parts[0], QueryInstanceID: parts[1], ResultInstanceID: parts[2]}, nil
}

// statusFromQueryStatus maps a CRC query status name onto an execution status.
func statusFromQueryStatus(name string) (resource.ResultStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "FINISHED", "COMPLETED":
		return resource.StatusComplete, nil
	case "ERROR", "INCOMPLETE", "CANCELLED":
		return resource.StatusError, nil
	case "QUEUED", "PROCESSING", "STARTED", "PAUSED", "SMALL_QUEUE", "MEDIUM_QUEUE", "LARGE_QUEUE":
		return resource.StatusRunning, nil
	default:
		return "", failure.Protocolf(nil, "unknown query status %q", name)
	}
}
