package search

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/slicol/meshwork/pkg/protocol"
)

// FilterField is the listing attribute a Filter inspects
type FilterField string

const (
	FieldName      FilterField = "name"
	FieldExtension FilterField = "extension"
	FieldType      FilterField = "type"
	FieldSize      FilterField = "size"
)

// Comparison is how a Filter compares the field with its value
type Comparison string

const (
	Contains    Comparison = "contains"
	NotContains Comparison = "not_contains"
	Equals      Comparison = "equals"
	GreaterThan Comparison = "greater"
	LessThan    Comparison = "less"
)

// Filter narrows the results of a search. Text fields compare
// case-insensitively; size compares numerically.
type Filter struct {
	Field      FilterField `json:"field"`
	Comparison Comparison  `json:"comparison"`
	Value      string      `json:"value"`
}

// Validate reports whether the filter can be evaluated
func (f Filter) Validate() error {
	switch f.Field {
	case FieldName, FieldExtension, FieldType:
		switch f.Comparison {
		case Contains, NotContains, Equals:
			return nil
		}
	case FieldSize:
		if _, err := strconv.ParseInt(f.Value, 10, 64); err != nil {
			return fmt.Errorf("%w: size %q is not a number", ErrInvalidFilter, f.Value)
		}
		switch f.Comparison {
		case Equals, GreaterThan, LessThan:
			return nil
		}
	default:
		return fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, f.Field)
	}
	return fmt.Errorf("%w: %s cannot be compared with %q", ErrInvalidFilter, f.Field, f.Comparison)
}

// Check reports whether listing passes the filter. Invalid filters never
// match.
func (f Filter) Check(listing protocol.SharedFileListing) bool {
	if f.Field == FieldSize {
		want, err := strconv.ParseInt(f.Value, 10, 64)
		if err != nil {
			return false
		}
		switch f.Comparison {
		case Equals:
			return listing.Size == want
		case GreaterThan:
			return listing.Size > want
		case LessThan:
			return listing.Size < want
		}
		return false
	}

	var field string
	switch f.Field {
	case FieldName:
		field = listing.Name
	case FieldExtension:
		field = strings.TrimPrefix(path.Ext(listing.Name), ".")
	case FieldType:
		field = listing.Type
	default:
		return false
	}

	field = strings.ToLower(field)
	value := strings.ToLower(f.Value)
	if f.Field == FieldExtension {
		value = strings.TrimPrefix(value, ".")
	}

	switch f.Comparison {
	case Contains:
		return strings.Contains(field, value)
	case NotContains:
		return !strings.Contains(field, value)
	case Equals:
		return field == value
	}
	return false
}
