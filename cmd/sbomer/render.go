package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"sbomer/internal/filters"
	"sbomer/internal/query"
	"sbomer/pkg/models"
)

func renderManifests(w io.Writer, items []models.Manifest) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVERSION\tFORMAT\tCREATED")
	for _, m := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			m.ID, m.Name, orDash(m.Version), orDash(m.Format), m.Created.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func renderManifest(w io.Writer, m *models.Manifest) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", m.ID)
	fmt.Fprintf(tw, "Name:\t%s\n", m.Name)
	fmt.Fprintf(tw, "Version:\t%s\n", orDash(m.Version))
	fmt.Fprintf(tw, "Purl:\t%s\n", orDash(m.Purl))
	fmt.Fprintf(tw, "Format:\t%s\n", orDash(m.Format))
	fmt.Fprintf(tw, "Created:\t%s\n", m.Created.UTC().Format(time.RFC3339))
	return tw.Flush()
}

// renderState prints one screen of the browser: the table, or the error
// when there is nothing to show yet, followed by a paging footer.
func renderState(w io.Writer, st query.State, p filters.Params) {
	if st.Err != nil {
		fmt.Fprintf(w, "error: %v (r to retry)\n", st.Err)
	}
	if st.Value != nil {
		_ = renderManifests(w, st.Value)
	}
	fmt.Fprintln(w, footer(st.Total, p))
}

func footer(total int, p filters.Params) string {
	page, _ := strconv.Atoi(p.PageIndex)
	size, _ := strconv.Atoi(p.PageSize)
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	s := fmt.Sprintf("page %d/%d, %d manifests", page, pages, total)
	if p.QueryType != models.QueryTypeNoFilter {
		s += fmt.Sprintf(", %s=%q", p.QueryType, p.QueryValue)
	}
	return s
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
