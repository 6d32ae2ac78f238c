// Package display renders query and export results in the output
// formats the CLI accepts. Row-oriented formats (table, csv) flatten
// the data through its JSON representation, so commands hand over the
// same structs they would serialize and the column names match the
// json tags callers already see in json output.
package display

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"github.com/canvasledger/cl/errors"
)

// Output formats accepted by Format. Table is the terminal default;
// json, csv, and yaml serve piping and export.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
	FormatYAML  = "yaml"
)

// ParseFormat validates a --format flag value. Empty defaults to table.
func ParseFormat(s string) (string, error) {
	switch s {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatCSV, FormatYAML:
		return s, nil
	default:
		return "", errors.NewValidationf("unknown format %q: must be one of table, json, csv, yaml", s)
	}
}

// Format renders data to w in the given format. json and yaml render
// the value whole and ignore headers; csv and table are row oriented,
// with headers naming and ordering the columns. When headers is empty
// the columns are every key seen across the rows, sorted.
func Format(w io.Writer, data any, format string, headers []string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(data), "encode json")

	case FormatYAML:
		norm, err := normalize(data)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(norm); err != nil {
			return errors.Wrap(err, "encode yaml")
		}
		return errors.Wrap(enc.Close(), "close yaml encoder")

	case FormatCSV:
		rows, err := rowsOf(data)
		if err != nil {
			return err
		}
		cols := columns(rows, headers)
		if len(cols) == 0 {
			return nil
		}
		cw := csv.NewWriter(w)
		if err := cw.Write(cols); err != nil {
			return errors.Wrap(err, "write csv header")
		}
		record := make([]string, len(cols))
		for _, row := range rows {
			for i, col := range cols {
				record[i] = cell(row[col])
			}
			if err := cw.Write(record); err != nil {
				return errors.Wrap(err, "write csv row")
			}
		}
		cw.Flush()
		return errors.Wrap(cw.Error(), "flush csv")

	case FormatTable, "":
		rows, err := rowsOf(data)
		if err != nil {
			return err
		}
		cols := columns(rows, headers)
		if len(cols) == 0 {
			return nil
		}
		td := pterm.TableData{cols}
		for _, row := range rows {
			record := make([]string, len(cols))
			for i, col := range cols {
				record[i] = cell(row[col])
			}
			td = append(td, record)
		}
		out, err := pterm.DefaultTable.WithHasHeader().WithData(td).Srender()
		if err != nil {
			return errors.Wrap(err, "render table")
		}
		_, err = fmt.Fprintln(w, out)
		return errors.Wrap(err, "write table")

	default:
		return errors.NewValidationf("unknown format %q: must be one of table, json, csv, yaml", format)
	}
}

// rowsOf flattens data into key/value rows via its JSON form. A slice
// becomes one row per element, a single object becomes one row, and
// nil becomes no rows.
func rowsOf(data any) ([]map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "marshal rows")
	}

	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single map[string]any
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == nil {
			return nil, nil
		}
		return []map[string]any{single}, nil
	}
	return nil, errors.NewValidationf("value of type %T does not flatten to rows", data)
}

func columns(rows []map[string]any, headers []string) []string {
	if len(headers) > 0 {
		return headers
	}
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// cell renders one value for a csv or table cell. Missing keys and
// null values both render empty; nested values fall back to compact
// JSON rather than Go syntax.
func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}

// normalize rebuilds data as plain maps and slices so the yaml
// encoder emits the json field names rather than Go struct fields.
func normalize(data any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "marshal value")
	}
	var norm any
	if err := json.Unmarshal(raw, &norm); err != nil {
		return nil, errors.Wrap(err, "rebuild value")
	}
	return norm, nil
}
