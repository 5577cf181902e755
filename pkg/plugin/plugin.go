// Package plugin defines the trait contracts every pipeline component
// implements: Source, Transform, BatchTransform, Gate, and Sink. These
// are expressed as Go interfaces rather than duck-typed objects, so
// the orchestrator can dispatch on a node's declared role without
// runtime type inspection beyond a single type switch.
package plugin

import (
	"context"

	"github.com/cuemby/landscape/pkg/model"
	"github.com/cuemby/landscape/pkg/schema"
)

// Base is embedded by every plugin kind and carries the fields common
// to all of them: name, config, determinism classification and plugin
// version. The node id is not part of Base; a plugin receives it with
// each call as Context.NodeID.
type Base interface {
	Name() string
	Config() map[string]any
	Determinism() model.Determinism
	PluginVersion() string
}

// Lifecycle hooks are optional; plugins that don't need them embed
// NoopLifecycle to satisfy the interface with no-ops.
type Lifecycle interface {
	OnStart(ctx *Context) error
	OnComplete(ctx *Context) error
	Close() error
}

// NoopLifecycle implements Lifecycle with no-ops. Embed it in a plugin
// struct to avoid boilerplate when no lifecycle behavior is needed.
type NoopLifecycle struct{}

func (NoopLifecycle) OnStart(*Context) error    { return nil }
func (NoopLifecycle) OnComplete(*Context) error { return nil }
func (NoopLifecycle) Close() error              { return nil }

// Context is the narrow, read-only handle plugins receive. It carries
// run identity and config and lets a plugin append Call records
// without being able to mutate the landscape store directly — only
// the orchestrator and row processor hold that privilege.
type Context struct {
	RunID  string
	NodeID string
	Ctx    context.Context

	// RecordCall is invoked by a plugin to append a Call audit record
	// for one external I/O interaction. The orchestrator supplies the
	// closure; plugins never touch the landscape store directly.
	RecordCall func(callType string, status model.CallStatus, requestHash, responseHash string, latencyMS int64, errPayload *model.ErrorPayload) error
}

// SourceRowKind discriminates SourceRow's two variants.
type SourceRowKind int

const (
	SourceRowValid SourceRowKind = iota
	SourceRowQuarantined
)

// SourceRow is yielded by a Source's Load stream: either a validated
// row ready for token creation, or a quarantined row carrying the
// destination sink and the validation error. Sources must never panic
// mid-stream for a bad row — only for hard I/O failures.
type SourceRow struct {
	Kind        SourceRowKind
	Row         map[string]any
	Destination string
	Err         error
}

func ValidRow(row map[string]any) SourceRow {
	return SourceRow{Kind: SourceRowValid, Row: row}
}

func QuarantinedRow(row map[string]any, destination string, err error) SourceRow {
	return SourceRow{Kind: SourceRowQuarantined, Row: row, Destination: destination, Err: err}
}

// FieldResolution is a source's original->normalized field mapping,
// returned by Source.GetFieldResolution when normalization occurred.
type FieldResolution struct {
	Mapping             map[string]string
	NormalizationVersion string
}

// Source loads rows from outside the engine.
type Source interface {
	Base
	Lifecycle

	OutputSchema() *schema.Contract
	OnSuccess() string
	OnValidationFailure() string // sink name, or "discard"

	// Load streams rows. Parse/validation failures are yielded as
	// SourceRowQuarantined values on the channel; a non-nil error
	// return signals a hard I/O failure that must abort the run.
	Load(ctx *Context) (<-chan SourceRow, error)

	GetFieldResolution() (*FieldResolution, bool)
	GetSchemaContract() (*schema.Contract, bool)
}

// TransformResultKind discriminates TransformResult's variants.
type TransformResultKind int

const (
	TransformSuccess TransformResultKind = iota
	TransformSuccessMulti
	TransformError
)

// TransformResult is the sum type returned by Transform.Process and
// BatchTransform.Process.
type TransformResult struct {
	Kind          TransformResultKind
	Row           map[string]any
	Rows          []map[string]any
	SuccessReason string
	ErrorReason   string
	Retryable     bool
}

func Success(row map[string]any, successReason string) TransformResult {
	return TransformResult{Kind: TransformSuccess, Row: row, SuccessReason: successReason}
}

func SuccessMulti(rows []map[string]any) TransformResult {
	return TransformResult{Kind: TransformSuccessMulti, Rows: rows}
}

func Error(reason string, retryable bool) TransformResult {
	return TransformResult{Kind: TransformError, ErrorReason: reason, Retryable: retryable}
}

// Transform processes one row at a time.
type Transform interface {
	Base
	Lifecycle

	InputSchema() *schema.Contract
	OutputSchema() *schema.Contract
	OnError() string   // sink name, or "discard"
	OnSuccess() string // next edge label / sink name
	CreatesTokens() bool
	TransformAddsFields() bool

	Process(row map[string]any, ctx *Context) TransformResult
}

// BatchTransform processes a buffered window of rows at once.
type BatchTransform interface {
	Base
	Lifecycle

	InputSchema() *schema.Contract
	OutputSchema() *schema.Contract
	OnError() string
	OnSuccess() string

	Process(rows []*schema.PipelineRow, ctx *Context) TransformResult
}

// GateRule is one (edge_label, expression) rule evaluated in order;
// the first whose expression is true wins.
type GateRule struct {
	EdgeLabel string
	ExprSrc   string
}

// Gate exposes routing rules; the engine (not the plugin) evaluates
// the compiled expressions against the row.
type Gate interface {
	Base
	Lifecycle

	Rules() []GateRule
	OnNoMatch() string // edge label, or "" if none configured
	DefaultMode() model.EdgeMode
}

// ArtifactDescriptor is returned by Sink.Write; ContentHash and
// SizeBytes are both required so the resulting Artifact audit record
// is always hashable.
type ArtifactDescriptor struct {
	ArtifactType string
	PathOrURI    string
	ContentHash  string
	SizeBytes    int64
}

// TargetValidation is returned by Sink.ValidateOutputTarget.
type TargetValidation struct {
	Matches bool
	Reason  string
}

// Sink is the terminal write destination for completed rows.
type Sink interface {
	Base
	Lifecycle

	InputSchema() *schema.Contract
	Idempotent() bool
	SupportsResume() bool

	Write(rows []map[string]any, ctx *Context) (ArtifactDescriptor, error)

	// Flush must not return until every write since the last Flush is
	// durable: fsync'd for file sinks, committed for database sinks,
	// awaited for async sinks.
	Flush(ctx *Context) error

	ConfigureForResume(ctx *Context) error
	ValidateOutputTarget(ctx *Context) (TargetValidation, error)
	SetResumeFieldResolution(mapping map[string]string)
}

// Registry resolves a node's configured plugin name to a constructed
// instance. Plugin registration/discovery from external config is out
// of scope; callers build a Registry in-process.
type Registry struct {
	sources         map[string]Source
	transforms      map[string]Transform
	batchTransforms map[string]BatchTransform
	gates           map[string]Gate
	sinks           map[string]Sink
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sources:         make(map[string]Source),
		transforms:      make(map[string]Transform),
		batchTransforms: make(map[string]BatchTransform),
		gates:           make(map[string]Gate),
		sinks:           make(map[string]Sink),
	}
}

func (r *Registry) RegisterSource(name string, s Source)                   { r.sources[name] = s }
func (r *Registry) RegisterTransform(name string, t Transform)             { r.transforms[name] = t }
func (r *Registry) RegisterBatchTransform(name string, t BatchTransform)   { r.batchTransforms[name] = t }
func (r *Registry) RegisterGate(name string, g Gate)                      { r.gates[name] = g }
func (r *Registry) RegisterSink(name string, s Sink)                      { r.sinks[name] = s }

func (r *Registry) Source(name string) (Source, bool)                 { s, ok := r.sources[name]; return s, ok }
func (r *Registry) Transform(name string) (Transform, bool)           { t, ok := r.transforms[name]; return t, ok }
func (r *Registry) BatchTransform(name string) (BatchTransform, bool) { t, ok := r.batchTransforms[name]; return t, ok }
func (r *Registry) Gate(name string) (Gate, bool)                     { g, ok := r.gates[name]; return g, ok }
func (r *Registry) Sink(name string) (Sink, bool)                     { s, ok := r.sinks[name]; return s, ok }
