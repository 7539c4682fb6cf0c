package models

// Page is one slice of a paginated listing. PageIndex is 0-based.
type Page[T any] struct {
	PageIndex  int `json:"pageIndex"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
	TotalHits  int `json:"totalHits"`
	Content    []T `json:"content"`
}

func NewPage[T any](content []T, pageIndex, pageSize, totalHits int) Page[T] {
	if content == nil {
		content = []T{}
	}
	totalPages := 0
	if pageSize > 0 {
		totalPages = (totalHits + pageSize - 1) / pageSize
	}
	return Page[T]{
		PageIndex:  pageIndex,
		PageSize:   pageSize,
		TotalPages: totalPages,
		TotalHits:  totalHits,
		Content:    content,
	}
}
