// Package models holds the record, audit and report types shared by the
// reconciliation pipeline.
package models

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Category names one of the two record kinds the pipeline reconciles.
type Category string

const (
	CategoryContribution Category = "contribution"
	CategoryFDC          Category = "fdc"
)

// ErrUnknownCategory is returned for any category name outside Categories.
var ErrUnknownCategory = errors.New("unknown record category")

// Categories lists every supported category in processing order.
func Categories() []Category {
	return []Category{CategoryContribution, CategoryFDC}
}

// ParseCategory accepts a case-insensitive category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

func (c Category) Valid() bool {
	return c == CategoryContribution || c == CategoryFDC
}

func (c Category) String() string {
	return string(c)
}

// FieldType constrains the canonical text of a record field.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldDecimal FieldType = "decimal"
	// FieldDate values are ISO calendar dates (YYYY-MM-DD).
	FieldDate    FieldType = "date"
	FieldInteger FieldType = "integer"
)

// FieldSpec describes one category-specific record field.
type FieldSpec struct {
	Name     string
	Type     FieldType
	Required bool
}

// RecordKind is everything the pipeline needs to know about a category:
// how its identifier is named on the wire, how its envelope is shaped and
// which fields its records carry.
type RecordKind struct {
	Category Category
	// FilePrefix starts every generated envelope file name.
	FilePrefix  string
	RootElement string
	ListElement string
	ItemElement string
	// IDField is the record identifier key in delivery and acknowledgement payloads.
	IDField string
	// ObjectField wraps the record body in delivery payloads.
	ObjectField      string
	EligibleStatuses []string
	Fields           []FieldSpec
}

var kinds = map[Category]RecordKind{
	CategoryContribution: {
		Category:         CategoryContribution,
		FilePrefix:       "CONTRIBUTIONS",
		RootElement:      "CONTRIBUTIONS_FILE",
		ListElement:      "CONTRIBUTIONS_LIST",
		ItemElement:      "CONTRIBUTIONS",
		IDField:          "concorContributionId",
		ObjectField:      "concorContributionObj",
		EligibleStatuses: []string{"ACTIVE"},
		Fields: []FieldSpec{
			{Name: "effectiveDate", Type: FieldDate, Required: true},
			{Name: "monthlyContribution", Type: FieldDecimal, Required: true},
			{Name: "upfrontContribution", Type: FieldDecimal},
			{Name: "incomeContributionCap", Type: FieldDecimal},
			{Name: "assessmentDate", Type: FieldDate, Required: true},
			{Name: "applicantName", Type: FieldText},
			{Name: "correspondenceFlag", Type: FieldText},
		},
	},
	CategoryFDC: {
		Category:         CategoryFDC,
		FilePrefix:       "FDC",
		RootElement:      "FDC_FILE",
		ListElement:      "FDC_LIST",
		ItemElement:      "FDC",
		IDField:          "fdcId",
		ObjectField:      "fdcObj",
		EligibleStatuses: []string{"REQUESTED"},
		Fields: []FieldSpec{
			{Name: "sentenceOrderDate", Type: FieldDate, Required: true},
			{Name: "dateCalculated", Type: FieldDate, Required: true},
			{Name: "finalCost", Type: FieldDecimal, Required: true},
			{Name: "lgfsCost", Type: FieldDecimal},
			{Name: "agfsCost", Type: FieldDecimal},
		},
	},
}

// KindFor returns a private copy of the kind for c, safe to customise.
func KindFor(c Category) (*RecordKind, error) {
	k, ok := kinds[c]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	k.EligibleStatuses = slices.Clone(k.EligibleStatuses)
	k.Fields = slices.Clone(k.Fields)
	return &k, nil
}

// MustKind is KindFor for compile-time-known categories.
func MustKind(c Category) *RecordKind {
	k, err := KindFor(c)
	if err != nil {
		panic(err)
	}
	return k
}

// WithStatuses returns a copy of k whose eligible statuses are statuses.
// An empty slice keeps the defaults.
func (k *RecordKind) WithStatuses(statuses []string) *RecordKind {
	cp := *k
	cp.Fields = slices.Clone(k.Fields)
	if len(statuses) > 0 {
		cp.EligibleStatuses = slices.Clone(statuses)
	} else {
		cp.EligibleStatuses = slices.Clone(k.EligibleStatuses)
	}
	return &cp
}

// Field looks up a field by name.
func (k *RecordKind) Field(name string) (FieldSpec, bool) {
	for _, f := range k.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// FieldError explains why a record does not conform to its kind.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}

var decimalPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// Validate checks that every required field is present and every present
// value conforms to its declared type. Unknown fields are rejected so that
// nothing is silently dropped from an envelope.
func (k *RecordKind) Validate(r Record) *FieldError {
	if r.ID <= 0 {
		return &FieldError{Field: k.IDField, Reason: "must be a positive integer"}
	}
	for _, f := range k.Fields {
		v, ok := r.Value(f.Name)
		if !ok {
			if f.Required {
				return &FieldError{Field: f.Name, Reason: "required field is missing"}
			}
			continue
		}
		if reason := checkType(f.Type, v); reason != "" {
			return &FieldError{Field: f.Name, Reason: reason}
		}
	}
	for name := range r.Values {
		if _, ok := k.Field(name); !ok {
			return &FieldError{Field: name, Reason: "not defined for category " + string(k.Category)}
		}
	}
	return nil
}

func checkType(t FieldType, v string) string {
	switch t {
	case FieldDecimal:
		if !decimalPattern.MatchString(v) {
			return fmt.Sprintf("%q is not a decimal", v)
		}
	case FieldInteger:
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Sprintf("%q is not an integer", v)
		}
	case FieldDate:
		if _, err := time.Parse(time.DateOnly, v); err != nil {
			return fmt.Sprintf("%q is not a YYYY-MM-DD date", v)
		}
	case FieldText:
		if !utf8.ValidString(v) {
			return fmt.Sprintf("%q is not valid UTF-8", v)
		}
		for _, r := range v {
			if !isXMLChar(r) {
				return fmt.Sprintf("%q contains character %U which XML cannot carry", v, r)
			}
		}
	}
	return ""
}

// isXMLChar reports whether r is in the XML 1.0 Char production.
func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}
