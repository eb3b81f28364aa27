package i2b2

import (
	"strings"

	"github.com/ehr/warehouse/pkg/resource"
)

// Predicates understood on a where clause.
const (
	PredicateConstrainValue    = "CONSTRAIN_VALUE"
	PredicateConstrainDate     = "CONSTRAIN_DATE"
	PredicateConstrainModifier = "CONSTRAIN_MODIFIER"
)

// Panel is a CRC panel: its items are OR-ed, panels are AND-ed.
type Panel struct {
	Number               int    `xml:"panel_number"`
	AccuracyScale        int    `xml:"panel_accuracy_scale"`
	Invert               int    `xml:"invert"`
	Timing               string `xml:"panel_timing"`
	TotalItemOccurrences int    `xml:"total_item_occurrences"`
	Items                []Item `xml:"item"`
}

// Item is one criterion inside a panel.
type Item struct {
	HLevel           int               `xml:"hlevel"`
	Name             string            `xml:"item_name"`
	Key              string            `xml:"item_key"`
	IsSynonym        bool              `xml:"item_is_synonym"`
	ConstrainByValue *ConstrainByValue `xml:"constrain_by_value,omitempty"`
	ConstrainByDate  *ConstrainByDate  `xml:"constrain_by_date,omitempty"`
	ConstrainByMod   *ConstrainByMod   `xml:"constrain_by_modifier,omitempty"`
}

type ConstrainByValue struct {
	Operator   string `xml:"value_operator"`
	Constraint string `xml:"value_constraint"`
	Unit       string `xml:"value_unit_of_measure,omitempty"`
	Type       string `xml:"value_type"`
}

type ConstrainByDate struct {
	From string `xml:"date_from,omitempty"`
	To   string `xml:"date_to,omitempty"`
}

type ConstrainByMod struct {
	Name        string `xml:"modifier_name"`
	AppliedPath string `xml:"applied_path"`
	Key         string `xml:"modifier_key"`
}

func newPanel(number int) *Panel {
	return &Panel{
		Number:               number,
		AccuracyScale:        100,
		Timing:               "ANY",
		TotalItemOccurrences: 1,
	}
}

// BuildPanels groups where clauses into CRC panels. AND starts a new panel,
// OR adds to the current one, and NOT places its item in a panel of its own
// with invert set. The first clause opens the first panel whatever its
// operator, unless it is a NOT.
func BuildPanels(where []resource.WhereClause) []Panel {
	var panels []Panel
	next := 1
	current := newPanel(next)

	flush := func() {
		if len(current.Items) > 0 {
			panels = append(panels, *current)
			next++
			current = newPanel(next)
		}
	}

	for _, clause := range where {
		item := itemFromClause(clause)
		switch clause.Operator {
		case resource.OperatorNot:
			flush()
			current.Invert = 1
			current.Items = append(current.Items, item)
			flush()
		case resource.OperatorOr:
			current.Items = append(current.Items, item)
		default:
			flush()
			current.Items = append(current.Items, item)
		}
	}
	flush()
	return panels
}

func itemFromClause(clause resource.WhereClause) Item {
	key := ConceptKey(clause.Field.PUI)
	name := clause.Field.Name
	if name == "" {
		name = key
	}
	item := Item{
		HLevel: strings.Count(strings.Trim(key, `\`), `\`),
		Name:   name,
		Key:    key,
	}

	v := clause.Values
	switch clause.Predicate {
	case PredicateConstrainValue:
		item.ConstrainByValue = &ConstrainByValue{
			Operator:   v["OPERATOR"],
			Constraint: v["CONSTRAINT"],
			Unit:       v["UNIT_OF_MEASURE"],
			Type:       valueOr(v["VALUE_TYPE"], "NUMBER"),
		}
	case PredicateConstrainDate:
		item.ConstrainByDate = &ConstrainByDate{From: v["FROM_DATE"], To: v["TO_DATE"]}
	case PredicateConstrainModifier:
		item.ConstrainByMod = &ConstrainByMod{
			Name:        v["MODIFIER_NAME"],
			AppliedPath: v["APPLIED_PATH"],
			Key:         v["MODIFIER_KEY"],
		}
	}
	return item
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
