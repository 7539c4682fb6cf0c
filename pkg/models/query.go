package models

import (
	"errors"
	"fmt"
	"strings"
)

// QueryType selects which manifest field a search value is matched against.
type QueryType string

const (
	QueryTypeNoFilter QueryType = ""
	QueryTypeID       QueryType = "ID"
	QueryTypeName     QueryType = "NAME"
	QueryTypePurl     QueryType = "PURL"
)

var ErrUnknownQueryType = errors.New("unknown query type")

// ParseQueryType is case-insensitive. The empty string and "none" mean no filter.
func ParseQueryType(s string) (QueryType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE", "NOFILTER":
		return QueryTypeNoFilter, nil
	case "ID":
		return QueryTypeID, nil
	case "NAME":
		return QueryTypeName, nil
	case "PURL":
		return QueryTypePurl, nil
	default:
		return QueryTypeNoFilter, fmt.Errorf("%w: %q", ErrUnknownQueryType, s)
	}
}

func (t QueryType) String() string {
	if t == QueryTypeNoFilter {
		return "none"
	}
	return string(t)
}
