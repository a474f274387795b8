package nse

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind discriminates the response shapes the chain endpoint serves.
type Kind int

const (
	// KindCSV means the body was ready-made CSV text, passed through verbatim.
	KindCSV Kind = iota
	// KindRecords means the body was a JSON {"data": [...]} envelope whose
	// records were converted to rows.
	KindRecords
	// KindUnrecognized covers everything else: malformed JSON, a missing or
	// empty data array, or any other shape.
	KindUnrecognized
)

func (k Kind) String() string {
	switch k {
	case KindCSV:
		return "csv"
	case KindRecords:
		return "records"
	default:
		return "unrecognized"
	}
}

// Payload is the decoded chain response. For KindCSV only Text is set; for
// KindRecords, Columns holds the union of record keys in first-seen order and
// Rows holds one entry per record, in input order.
type Payload struct {
	Kind    Kind
	Text    string
	Columns []string
	Rows    [][]string
}

// DecodePayload classifies a chain response body. CSV is recognized by
// content type or an attachment disposition, matching how the endpoint
// actually signals it; anything else is attempted as a JSON record envelope.
func DecodePayload(contentType, disposition string, body []byte) Payload {
	if strings.HasPrefix(contentType, "text/csv") || strings.HasPrefix(disposition, "attachment") {
		return Payload{Kind: KindCSV, Text: string(body)}
	}

	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Data) == 0 {
		return Payload{Kind: KindUnrecognized}
	}

	columns, rows, err := decodeRecords(envelope.Data)
	if err != nil {
		return Payload{Kind: KindUnrecognized}
	}
	return Payload{Kind: KindRecords, Columns: columns, Rows: rows}
}

// Table renders the payload as CSV text with a header row, regardless of the
// shape it arrived in.
func (p Payload) Table() (string, error) {
	switch p.Kind {
	case KindCSV:
		return p.Text, nil
	case KindRecords:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(p.Columns); err != nil {
			return "", fmt.Errorf("write header: %w", err)
		}
		for _, row := range p.Rows {
			if err := w.Write(row); err != nil {
				return "", fmt.Errorf("write row: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("payload not convertible to table")
	}
}

// decodeRecords flattens keyed JSON records into columns and rows. Column
// order is the order keys are first encountered across records; a record
// missing a column contributes an empty cell. json.Unmarshal into a map would
// lose key order, so records are walked token by token.
func decodeRecords(records []json.RawMessage) ([]string, [][]string, error) {
	var columns []string
	seen := make(map[string]int)
	values := make([]map[string]string, 0, len(records))

	for _, raw := range records {
		fields, order, err := recordFields(raw)
		if err != nil {
			return nil, nil, err
		}
		for _, key := range order {
			if _, ok := seen[key]; !ok {
				seen[key] = len(columns)
				columns = append(columns, key)
			}
		}
		values = append(values, fields)
	}

	rows := make([][]string, 0, len(values))
	for _, fields := range values {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = fields[col]
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

// recordFields decodes one JSON object, preserving key order.
func recordFields(raw json.RawMessage) (map[string]string, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("record is not an object")
	}

	fields := make(map[string]string)
	var order []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("record key is not a string")
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, nil, err
		}
		fields[key] = formatValue(value)
		order = append(order, key)
	}
	return fields, order, nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		// Nested arrays/objects are rare in chain records; keep them as JSON.
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
