package i2b2

import "strings"

// Number of leading PUI components dropped when translating to a warehouse
// path. The leading empty component (before the first '/') counts.
const (
	// BrowseDrop strips "", resource and project; the ontology table code is kept.
	BrowseDrop = 3
	// SelectDrop also strips the table code; extraction paths start below it.
	SelectDrop = 4
)

// splitPUI splits a platform path on '/', dropping trailing empty components.
func splitPUI(pui string) []string {
	parts := strings.Split(pui, "/")
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// ToWarehousePath converts a platform path into a backslash-delimited
// warehouse path after dropping the first drop components. The result always
// starts and ends with a backslash. A path with no components left after the
// drop yields "", meaning there is no nested path.
func ToWarehousePath(ontologyPath string, drop int) string {
	parts := splitPUI(ontologyPath)
	if drop < 0 {
		drop = 0
	}
	if len(parts) <= drop {
		return ""
	}
	var b strings.Builder
	for _, p := range parts[drop:] {
		b.WriteByte('\\')
		b.WriteString(p)
	}
	b.WriteByte('\\')
	return b.String()
}

// ToOntologyPath converts a warehouse path into its slash-delimited form.
// Doubled separators collapse to a single slash.
func ToOntologyPath(warehousePath string) string {
	return strings.ReplaceAll(strings.ReplaceAll(warehousePath, `\\`, "/"), `\`, "/")
}

// ConceptKey returns the ONT cell key (\\table\a\b\) for a platform path, or
// "" when the path does not reach into a category.
func ConceptKey(ontologyPath string) string {
	p := ToWarehousePath(ontologyPath, BrowseDrop)
	if p == "" {
		return ""
	}
	return `\` + p
}

// Depth returns the number of components of a platform path, counting the
// leading empty component: "/res" is 2, "/res/project" is 3.
func Depth(ontologyPath string) int {
	return len(splitPUI(ontologyPath))
}

// ProjectID returns the project segment of a platform path, or "".
func ProjectID(ontologyPath string) string {
	parts := splitPUI(ontologyPath)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// Category returns the ontology category segment of a platform path, or "".
func Category(ontologyPath string) string {
	parts := splitPUI(ontologyPath)
	if len(parts) < 4 {
		return ""
	}
	return parts[3]
}

// ProjectBase returns "/<resource>/<project>" for a platform path.
func ProjectBase(ontologyPath string) string {
	parts := splitPUI(ontologyPath)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.Join(parts, "/")
}
