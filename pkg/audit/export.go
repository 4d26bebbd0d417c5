package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Export writes events to w in the given format
func Export(w io.Writer, events []*Event, format ExportFormat) error {
	switch format {
	case ExportFormatCSV:
		return exportCSV(w, events)
	case ExportFormatNDJSON:
		return exportNDJSON(w, events)
	default:
		return exportJSON(w, events)
	}
}

// ContentType returns the MIME type and file extension for a format
func (f ExportFormat) ContentType() (string, string) {
	switch f {
	case ExportFormatCSV:
		return "text/csv", "csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson", "ndjson"
	default:
		return "application/json", "json"
	}
}

// exportJSON exports audit events as JSON array
func exportJSON(w io.Writer, events []*Event) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if events == nil {
		events = []*Event{}
	}
	return encoder.Encode(events)
}

// exportNDJSON exports audit events as newline-delimited JSON
func exportNDJSON(w io.Writer, events []*Event) error {
	encoder := json.NewEncoder(w)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

var csvHeader = []string{
	"ID",
	"Timestamp",
	"UserID",
	"SessionID",
	"Action",
	"ResourceType",
	"ResourceID",
	"Success",
	"IPAddress",
	"UserAgent",
	"RequestID",
	"ErrorMessage",
	"OldValues",
	"NewValues",
}

// exportCSV exports audit events as CSV
func exportCSV(w io.Writer, events []*Event) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		row := []string{
			strconv.FormatInt(event.ID, 10),
			event.Timestamp.UTC().Format(time.RFC3339),
			deref(event.UserID),
			deref(event.SessionID),
			string(event.Action),
			string(event.ResourceType),
			deref(event.ResourceID),
			strconv.FormatBool(event.Success),
			event.IPAddress,
			event.UserAgent,
			event.RequestID,
			event.ErrorMessage,
			string(event.OldValues),
			string(event.NewValues),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}

// deref formats a string pointer, returning empty string for nil
func deref(val *string) string {
	if val == nil {
		return ""
	}
	return *val
}
