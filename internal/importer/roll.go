package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urnaweb/server/internal/model"
)

var rollColumns = []string{"name", "external_id", "email", "phone"}

// ParseRollCSV reads roll entries from CSV with a header row. The name and
// external_id columns are required; email and phone are optional. Column order is free.
func ParseRollCSV(r io.Reader) ([]model.VoterEntry, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("roll csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, required := range rollColumns[:2] {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("roll csv: missing %q column", required)
		}
	}

	field := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var entries []model.VoterEntry
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read roll csv: %w", err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		line, _ := cr.FieldPos(0)
		entries = append(entries, model.VoterEntry{
			Line:       line,
			Name:       field(rec, "name"),
			ExternalID: field(rec, "external_id"),
			Email:      field(rec, "email"),
			Phone:      field(rec, "phone"),
		})
	}
	return entries, nil
}
