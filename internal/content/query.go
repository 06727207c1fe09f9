package content

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/validation"
)

const (
	defaultPage  = 1
	defaultLimit = 50
	maxLimit     = 200
)

// ListQuery selects one page of a collection.
type ListQuery struct {
	Page  int
	Limit int
	Sort  string
}

// Pagination describes the page returned by List.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// ListResult is one page of records.
type ListResult struct {
	Records    []Record
	Pagination Pagination
}

func (q ListQuery) normalized() ListQuery {
	if q.Page < 1 {
		q.Page = defaultPage
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	return q
}

func (q ListQuery) offset() int {
	return (q.Page - 1) * q.Limit
}

func pageCount(total int64, limit int) int {
	if total == 0 || limit <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

// orderClause translates "-createdAt,title" style sort keys into SQL. Keys
// outside the schema's sortable set are rejected.
func orderClause(schema Schema, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		raw = schema.defaultSort
	}
	keys := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
	parts := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		direction := "ASC"
		switch {
		case strings.HasPrefix(key, "-"):
			direction = "DESC"
			key = key[1:]
		case strings.HasPrefix(key, "+"):
			key = key[1:]
		}
		column, ok := schema.sortColumns[key]
		if !ok {
			return "", validation.New("sort", fmt.Sprintf("cannot sort %s by %q", schema.Collection, key))
		}
		parts = append(parts, column+" "+direction)
	}
	// id breaks ties so pages are stable.
	parts = append(parts, "id ASC")
	return strings.Join(parts, ", "), nil
}
