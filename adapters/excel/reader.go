package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"abstats/domain/experiment"
	"abstats/internal"

	"github.com/xuri/excelize/v2"
)

// Event is one row of a traffic log: a recipient's exposure and, when known,
// the outcome
type Event struct {
	Row         int
	RecipientID string
	Outcome     experiment.OutcomeKind
}

// EventReader reads traffic logs from Excel or CSV files. The first row is a
// header; recipient_id is required and outcome is optional.
type EventReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	logger   *internal.Logger
}

// NewEventReader creates a reader that picks the format from the extension
func NewEventReader(filePath string, logger *internal.Logger) *EventReader {
	fileType := "xlsx"
	if strings.ToLower(filepath.Ext(filePath)) == ".csv" {
		fileType = "csv"
	}
	return &EventReader{filePath: filePath, fileType: fileType, logger: logger}
}

// ReadEvents loads every event in file order
func (r *EventReader) ReadEvents() ([]Event, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSV()
	default:
		rows, err = r.readXLSX()
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s file must have a header row and at least one event", strings.ToUpper(r.fileType))
	}

	events, err := parseEvents(rows)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("read %d events from %s", len(events), r.filePath)
	return events, nil
}

// readXLSX reads the first sheet of a workbook
func (r *EventReader) readXLSX() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", r.filePath)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheets[0], err)
	}
	return rows, nil
}

func (r *EventReader) readCSV() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

func parseEvents(rows [][]string) ([]Event, error) {
	recipientCol, outcomeCol := -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "recipient_id", "recipient":
			recipientCol = i
		case "outcome", "converted":
			outcomeCol = i
		}
	}
	if recipientCol < 0 {
		return nil, fmt.Errorf("header has no recipient_id column")
	}

	events := make([]Event, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if recipientCol >= len(row) || strings.TrimSpace(row[recipientCol]) == "" {
			continue
		}
		ev := Event{Row: i + 1, RecipientID: strings.TrimSpace(row[recipientCol])}
		if outcomeCol >= 0 && outcomeCol < len(row) {
			kind, err := parseOutcome(row[outcomeCol])
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i+1, err)
			}
			ev.Outcome = kind
		}
		events = append(events, ev)
	}
	return events, nil
}

// parseOutcome accepts success/failure and the usual boolean spellings. An
// empty cell means the outcome is not known yet.
func parseOutcome(s string) (experiment.OutcomeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "success", "1", "true", "yes", "y":
		return experiment.OutcomeSuccess, nil
	case "failure", "0", "false", "no", "n":
		return experiment.OutcomeFailure, nil
	}
	return "", fmt.Errorf("unrecognized outcome %q", s)
}
