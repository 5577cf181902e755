package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/landscape/pkg/model"
	"github.com/cuemby/landscape/pkg/plugin"
	"github.com/cuemby/landscape/pkg/schema"
)

// jsonlSource reads newline-delimited JSON objects from a file (or
// stdin when path is "-"). A line that fails to parse as a JSON
// object is yielded as a quarantined row rather than aborting the
// stream, per spec §6's source plugin boundary.
type jsonlSource struct {
	plugin.NoopLifecycle
	path        string
	onSuccess   string
	onFailure   string
}

func (s *jsonlSource) Name() string                   { return "jsonl_source" }
func (s *jsonlSource) Config() map[string]any         { return map[string]any{"path": s.path} }
func (s *jsonlSource) Determinism() model.Determinism { return model.Deterministic }
func (s *jsonlSource) PluginVersion() string          { return "1.0.0" }
func (s *jsonlSource) OutputSchema() *schema.Contract { return schema.NewContract(schema.ModeFree, nil, false) }
func (s *jsonlSource) OnSuccess() string               { return s.onSuccess }
func (s *jsonlSource) OnValidationFailure() string     { return s.onFailure }
func (s *jsonlSource) GetFieldResolution() (*plugin.FieldResolution, bool) { return nil, false }
func (s *jsonlSource) GetSchemaContract() (*schema.Contract, bool)         { return nil, false }

func (s *jsonlSource) Load(ctx *plugin.Context) (<-chan plugin.SourceRow, error) {
	var r io.ReadCloser
	if s.path == "-" || s.path == "" {
		r = io.NopCloser(os.Stdin)
	} else {
		f, err := os.Open(s.path)
		if err != nil {
			return nil, fmt.Errorf("jsonl_source: open %s: %w", s.path, err)
		}
		r = f
	}

	ch := make(chan plugin.SourceRow, 16)
	go func() {
		defer close(ch)
		defer r.Close()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var row map[string]any
			if err := json.Unmarshal(line, &row); err != nil {
				ch <- plugin.QuarantinedRow(map[string]any{"raw": string(line)}, s.onFailure, fmt.Errorf("invalid json line: %w", err))
				continue
			}
			ch <- plugin.ValidRow(row)
		}
	}()
	return ch, nil
}

// jsonlSink writes newline-delimited JSON objects to a file (or
// stdout when path is "-"). Flush fsyncs the underlying file so the
// orchestrator's durability requirement (§5) is honored before a
// checkpoint is acknowledged.
type jsonlSink struct {
	plugin.NoopLifecycle
	path string
	file *os.File
	w    *bufio.Writer
}

func (s *jsonlSink) Name() string                   { return "jsonl_sink" }
func (s *jsonlSink) Config() map[string]any         { return map[string]any{"path": s.path} }
func (s *jsonlSink) Determinism() model.Determinism { return model.IOWrite }
func (s *jsonlSink) PluginVersion() string          { return "1.0.0" }
func (s *jsonlSink) InputSchema() *schema.Contract  { return schema.NewContract(schema.ModeFree, nil, false) }
func (s *jsonlSink) Idempotent() bool               { return false }
func (s *jsonlSink) SupportsResume() bool           { return true }
func (s *jsonlSink) ConfigureForResume(*plugin.Context) error   { return s.open(true) }
func (s *jsonlSink) SetResumeFieldResolution(map[string]string) {}
func (s *jsonlSink) ValidateOutputTarget(*plugin.Context) (plugin.TargetValidation, error) {
	return plugin.TargetValidation{Matches: true}, nil
}

func (s *jsonlSink) open(appendMode bool) error {
	if s.file != nil {
		return nil
	}
	if s.path == "-" || s.path == "" {
		s.file = os.Stdout
		s.w = bufio.NewWriter(s.file)
		return nil
	}
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(s.path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("jsonl_sink: open %s: %w", s.path, err)
	}
	s.file = f
	s.w = bufio.NewWriter(f)
	return nil
}

func (s *jsonlSink) Write(rows []map[string]any, ctx *plugin.Context) (plugin.ArtifactDescriptor, error) {
	if err := s.open(false); err != nil {
		return plugin.ArtifactDescriptor{}, err
	}
	var size int64
	for _, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			return plugin.ArtifactDescriptor{}, fmt.Errorf("jsonl_sink: marshal row: %w", err)
		}
		n, _ := s.w.Write(b)
		s.w.WriteByte('\n')
		size += int64(n) + 1
	}
	return plugin.ArtifactDescriptor{
		ArtifactType: "jsonl",
		PathOrURI:    s.path,
		ContentHash:  fmt.Sprintf("lines:%d", len(rows)),
		SizeBytes:    size,
	}, nil
}

func (s *jsonlSink) Flush(*plugin.Context) error {
	if s.w == nil {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("jsonl_sink: flush: %w", err)
	}
	if s.file != nil && s.file != os.Stdout {
		return s.file.Sync()
	}
	return nil
}

// discardSink drops every row it is given; used as the gate's
// on-no-match / on-validation-failure destination in the demo
// pipeline so unmatched rows still reach a terminal COMPLETED outcome
// (and invalid source rows keep their ROUTED outcome) instead of
// leaving the run with an unconfigured edge.
type discardSink struct {
	plugin.NoopLifecycle
	count int
}

func (s *discardSink) Name() string                   { return "discard_sink" }
func (s *discardSink) Config() map[string]any         { return nil }
func (s *discardSink) Determinism() model.Determinism { return model.Deterministic }
func (s *discardSink) PluginVersion() string          { return "1.0.0" }
func (s *discardSink) InputSchema() *schema.Contract  { return schema.NewContract(schema.ModeFree, nil, false) }
func (s *discardSink) Idempotent() bool               { return true }
func (s *discardSink) SupportsResume() bool           { return true }
func (s *discardSink) ConfigureForResume(*plugin.Context) error   { return nil }
func (s *discardSink) SetResumeFieldResolution(map[string]string) {}
func (s *discardSink) ValidateOutputTarget(*plugin.Context) (plugin.TargetValidation, error) {
	return plugin.TargetValidation{Matches: true}, nil
}
func (s *discardSink) Flush(*plugin.Context) error { return nil }
func (s *discardSink) Write(rows []map[string]any, ctx *plugin.Context) (plugin.ArtifactDescriptor, error) {
	s.count += len(rows)
	return plugin.ArtifactDescriptor{ArtifactType: "discard", PathOrURI: "discard://", ContentHash: "n/a", SizeBytes: 0}, nil
}

// exprGate routes rows to "matched" when the configured expression is
// true, falling back to the discard sink's edge label otherwise. The
// engine compiles and evaluates Rules(); the plugin only declares
// them (spec §4.H).
type exprGate struct {
	plugin.NoopLifecycle
	expression string
}

func (g *exprGate) Name() string                   { return "filter_gate" }
func (g *exprGate) Config() map[string]any         { return map[string]any{"expression": g.expression} }
func (g *exprGate) Determinism() model.Determinism { return model.Deterministic }
func (g *exprGate) PluginVersion() string          { return "1.0.0" }
func (g *exprGate) Rules() []plugin.GateRule {
	return []plugin.GateRule{{EdgeLabel: "matched", ExprSrc: g.expression}}
}
func (g *exprGate) OnNoMatch() string           { return "dropped" }
func (g *exprGate) DefaultMode() model.EdgeMode { return model.EdgeMove }
