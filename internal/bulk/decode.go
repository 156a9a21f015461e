package bulk

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/JonMunkholm/bulkforce/internal/csvutil"
	"github.com/JonMunkholm/bulkforce/internal/record"
	"github.com/JonMunkholm/bulkforce/internal/result"
)

// format is the wire encoding of a response body.
type format int

const (
	formatJSON format = iota
	formatXML
	formatCSV
)

func (f format) String() string {
	switch f {
	case formatXML:
		return "xml"
	case formatCSV:
		return "csv"
	default:
		return "json"
	}
}

// formatOf selects a decoder from the response Content-Type. Anything that
// is neither XML nor CSV is treated as JSON.
func formatOf(h http.Header) format {
	mt, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(h.Get("Content-Type")))
	}
	switch {
	case mt == "application/xml" || mt == "text/xml" || strings.HasSuffix(mt, "+xml"):
		return formatXML
	case mt == "text/csv":
		return formatCSV
	default:
		return formatJSON
	}
}

func decodeInto(f format, body []byte, v any) error {
	switch f {
	case formatXML:
		return xml.Unmarshal(body, v)
	case formatJSON:
		return json.Unmarshal(body, v)
	default:
		return fmt.Errorf("cannot decode %s body into %T", f, v)
	}
}

// decodeServiceError extracts exceptionCode and exceptionMessage from an
// error body. It returns the zero value when the body has neither.
func decodeServiceError(h http.Header, body []byte) serviceError {
	var se serviceError
	if len(bytes.TrimSpace(body)) == 0 {
		return se
	}
	if formatOf(h) == formatXML {
		_ = xml.Unmarshal(body, &se)
		return se
	}
	if err := json.Unmarshal(body, &se); err == nil {
		return se
	}
	// Some endpoints wrap the error in a one-element array.
	var list []serviceError
	if err := json.Unmarshal(body, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return serviceError{}
}

// decodeRows decodes a batch request echo or result part into rows.
func decodeRows(f format, body []byte) ([]record.Row, error) {
	switch f {
	case formatCSV:
		return csvutil.ParseRows(body)
	case formatJSON:
		var rows []record.Row
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unsupported row encoding %s", f)
	}
}

// jsonOutcome mirrors one entry of a JSON load result. Field matching in
// encoding/json is case-insensitive, so Success/Id spellings decode too.
type jsonOutcome struct {
	Success bool                  `json:"success"`
	Created bool                  `json:"created"`
	ID      *string               `json:"id"`
	Errors  []result.OutcomeError `json:"errors"`
	Error   string                `json:"error"`
}

// decodeOutcomes normalises a load result body into outcomes. JSON bodies
// use success/id/errors; CSV bodies use the Id, Success, Created and Error
// columns.
func decodeOutcomes(f format, body []byte) ([]result.Outcome, error) {
	switch f {
	case formatJSON:
		var raw []jsonOutcome
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, err
		}
		out := make([]result.Outcome, len(raw))
		for i, r := range raw {
			out[i] = result.Outcome{Success: r.Success, Created: r.Created, Errors: r.Errors, Error: r.Error}
			if r.ID != nil {
				out[i].ID = *r.ID
			}
		}
		return out, nil

	case formatCSV:
		rows, err := csvutil.ParseRows(body)
		if err != nil {
			return nil, err
		}
		out := make([]result.Outcome, len(rows))
		for i, r := range rows {
			out[i] = result.Outcome{
				Success: csvBool(csvField(r, "Success")),
				Created: csvBool(csvField(r, "Created")),
				ID:      csvField(r, "Id"),
				Error:   csvField(r, "Error"),
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported result encoding %s", f)
	}
}

// csvField looks a column up by name, ignoring case.
func csvField(r record.Row, name string) string {
	if r.Has(name) {
		return r.String(name)
	}
	for _, f := range r {
		if strings.EqualFold(f.Name, name) {
			return record.FormatValue(f.Value)
		}
	}
	return ""
}

func csvBool(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}
