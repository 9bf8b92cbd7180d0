package models

import (
	"math"
	"strings"

	dErrors "officehub/pkg/domain-errors"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// SortColumn names an office column a page may be ordered by.
type SortColumn string

const (
	SortByIdentifier  SortColumn = "identifier"
	SortByName        SortColumn = "name"
	SortByDescription SortColumn = "description"
	SortByCreatedOn   SortColumn = "createdOn"
)

// SortDirection is ASC or DESC.
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// PageRequest selects a zero-based page of offices.
type PageRequest struct {
	Index         int
	Size          int
	SortColumn    SortColumn
	SortDirection SortDirection
	Term          string
}

// NewPageRequest applies defaults and rejects unknown sort settings.
// Empty sortColumn/sortDirection fall back to identifier ASC.
func NewPageRequest(index, size int, sortColumn, sortDirection string) (PageRequest, error) {
	if index < 0 {
		return PageRequest{}, dErrors.New(dErrors.CodeInvalidInput, "page index must not be negative")
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if index > math.MaxInt/size {
		return PageRequest{}, dErrors.New(dErrors.CodeInvalidInput, "page index is too large")
	}

	col := SortByIdentifier
	switch SortColumn(sortColumn) {
	case "":
	case SortByIdentifier, SortByName, SortByDescription, SortByCreatedOn:
		col = SortColumn(sortColumn)
	default:
		return PageRequest{}, dErrors.New(dErrors.CodeInvalidInput, "unknown sort column "+sortColumn)
	}

	dir := SortAsc
	switch SortDirection(strings.ToUpper(sortDirection)) {
	case "", SortAsc:
	case SortDesc:
		dir = SortDesc
	default:
		return PageRequest{}, dErrors.New(dErrors.CodeInvalidInput, "sort direction must be ASC or DESC")
	}

	return PageRequest{Index: index, Size: size, SortColumn: col, SortDirection: dir}, nil
}

// Offset is the number of rows skipped before this page. It saturates at
// math.MaxInt instead of wrapping.
func (p PageRequest) Offset() int {
	if p.Index <= 0 || p.Size <= 0 {
		return 0
	}
	if p.Index > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return p.Index * p.Size
}

// OfficePage is one page of offices plus totals for the whole selection.
type OfficePage struct {
	Offices       []*Office `json:"offices"`
	TotalPages    int       `json:"totalPages"`
	TotalElements int64     `json:"totalElements"`
}

// NewOfficePage computes TotalPages from the total and the page size.
func NewOfficePage(offices []*Office, total int64, p PageRequest) *OfficePage {
	if offices == nil {
		offices = []*Office{}
	}
	pages := 0
	if p.Size > 0 {
		pages = int((total + int64(p.Size) - 1) / int64(p.Size))
	}
	return &OfficePage{Offices: offices, TotalPages: pages, TotalElements: total}
}
