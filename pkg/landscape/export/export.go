// Package export renders an AuditDump to the two on-disk layouts named
// in spec §6: a single JSON file with all records in table order, or a
// directory of CSV files, one per record type, with sorted-union
// columns. Both layouts can be HMAC-SHA256 signed when a signing key
// is configured in the environment.
package export

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cuemby/landscape/pkg/landscape"
)

// SigningKeyEnvVar is the environment variable export reads a signing
// key from when signing is requested. Its absence with signing enabled
// is an error, per spec §6.
const SigningKeyEnvVar = "LANDSCAPE_EXPORT_SIGNING_KEY"

// recordTypeOrder names the dump's fields in the fixed table order spec §6
// lists them in.
var recordTypeOrder = []string{
	"runs", "nodes", "edges", "rows", "tokens", "token_parents",
	"node_states", "calls", "operations", "artifacts", "routing_events",
	"batches", "batch_members", "batch_outputs", "checkpoints",
	"token_outcomes", "validation_errors", "transform_errors",
}

func recordsByType(dump *landscape.AuditDump) map[string]any {
	return map[string]any{
		"runs":              dump.Runs,
		"nodes":             dump.Nodes,
		"edges":             dump.Edges,
		"rows":              dump.Rows,
		"tokens":            dump.Tokens,
		"token_parents":     dump.TokenParents,
		"node_states":       dump.NodeStates,
		"calls":             dump.Calls,
		"operations":        dump.Operations,
		"artifacts":         dump.Artifacts,
		"routing_events":    dump.RoutingEvents,
		"batches":           dump.Batches,
		"batch_members":     dump.BatchMembers,
		"batch_outputs":     dump.BatchOutputs,
		"checkpoints":       dump.Checkpoints,
		"token_outcomes":    dump.TokenOutcomes,
		"validation_errors": dump.ValidationErrors,
		"transform_errors":  dump.TransformErrors,
	}
}

// recordGroup is one named slice of records inside the JSON bundle.
type recordGroup struct {
	Type string `json:"type"`
	Rows any    `json:"rows"`
}

// WriteJSON writes dump as a single JSON file at path, in table order.
// When sign is true it also writes "<path>.sig" containing the hex
// HMAC-SHA256 of the file contents under the key named by
// SigningKeyEnvVar.
func WriteJSON(dump *landscape.AuditDump, path string, sign bool) error {
	byType := recordsByType(dump)
	bundle := struct {
		Records []recordGroup `json:"records"`
	}{}
	for _, t := range recordTypeOrder {
		bundle.Records = append(bundle.Records, recordGroup{Type: t, Rows: byType[t]})
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("export: marshal json bundle: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("export: write json bundle: %w", err)
	}
	if sign {
		return writeSignature(path, data)
	}
	return nil
}

// WriteCSV writes dump as a directory of CSV files, one per record
// type, at dir. Columns are the sorted union of all keys present
// across a type's records; a type with zero records still gets an
// (empty, header-less) file so the directory layout is stable.
func WriteCSV(dump *landscape.AuditDump, dir string, sign bool) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("export: create csv directory: %w", err)
	}
	byType := recordsByType(dump)
	for _, t := range recordTypeOrder {
		rows, err := toRowMaps(byType[t])
		if err != nil {
			return fmt.Errorf("export: flatten %s: %w", t, err)
		}
		path := filepath.Join(dir, t+".csv")
		data, err := renderCSV(rows)
		if err != nil {
			return fmt.Errorf("export: render %s.csv: %w", t, err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("export: write %s: %w", t, err)
		}
		if sign {
			if err := writeSignature(path, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// toRowMaps converts a slice of typed records (or pointers to them)
// into generic string-keyed maps via a JSON round-trip, so CSV
// rendering doesn't need a type switch per record kind.
func toRowMaps(records any) ([]map[string]any, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func renderCSV(rows []map[string]any) ([]byte, error) {
	columns := map[string]bool{}
	for _, row := range rows {
		for k := range row {
			columns[k] = true
		}
	}
	var sortedColumns []string
	for k := range columns {
		sortedColumns = append(sortedColumns, k)
	}
	sort.Strings(sortedColumns)

	buf := &fileBuffer{}
	w := csv.NewWriter(buf)
	if len(sortedColumns) > 0 {
		if err := w.Write(sortedColumns); err != nil {
			return nil, err
		}
	}
	for _, row := range rows {
		record := make([]string, len(sortedColumns))
		for i, col := range sortedColumns {
			record[i] = stringify(row[col])
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.data, nil
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}

// fileBuffer is a minimal io.Writer accumulator; avoids pulling in
// bytes.Buffer's broader API for what is a pure append sink here.
type fileBuffer struct {
	data []byte
}

func (b *fileBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func writeSignature(contentPath string, data []byte) error {
	key := os.Getenv(SigningKeyEnvVar)
	if key == "" {
		return fmt.Errorf("export: signing requested but %s is not set", SigningKeyEnvVar)
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(data)
	sig := hex.EncodeToString(mac.Sum(nil))
	return os.WriteFile(contentPath+".sig", []byte(sig+"\n"), 0644)
}
