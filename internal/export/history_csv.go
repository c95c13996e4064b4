package export

import (
	"encoding/csv"
	"io"
	"time"

	"coursewatch/internal/store"
)

// Historical observation CSV. Keep header order EXACT: downstream
// spreadsheets key on column position, not name.
var historyHeader = []string{
	"Timestamp",
	"Subject",
	"CatalogNumber",
	"Section",
	"Status",
	"CourseId",
}

// WriteHistoryCSV writes observation rows in chronological order,
// one row per observation.
func WriteHistoryCSV(w io.Writer, rows []store.ObservationRow) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	if err := cw.Write(historyHeader); err != nil {
		return err
	}

	for _, r := range rows {
		record := []string{
			r.ObservedAt.UTC().Format(time.RFC3339),
			r.Subject,
			r.CatalogNumber,
			r.SectionID,
			string(r.Status),
			r.CourseID,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
