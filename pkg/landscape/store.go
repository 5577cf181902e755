package landscape

import (
	"github.com/cuemby/landscape/pkg/model"
)

// NodeSpec is the input to RegisterNode: everything the caller already
// knows about a node before the store assigns (or accepts) its id.
type NodeSpec struct {
	NodeID        string // caller-supplied deterministic id, or "" to generate one
	PluginName    string
	PluginVersion string
	NodeType      model.NodeType
	Determinism   model.Determinism
	ConfigHash    string
	SchemaMode    string
	SchemaFields  []string
	Sequence      int
}

// RowSpec is the input to CreateRow.
type RowSpec struct {
	RowID          string
	SourceNodeID   string
	RowIndex       int
	Data           map[string]any
	PayloadRef     string
}

// TokenSpec is the input to CreateToken.
type TokenSpec struct {
	TokenID       string
	RowID         string
	Parents       []string // ordered parent token ids, for joins/coalesces
	ForkGroupID   string
	JoinGroupID   string
	ExpandGroupID string
	Branch        string
	Step          int
}

// NodeStateCompletion is the input to CompleteNodeState.
type NodeStateCompletion struct {
	Status        model.NodeStateStatus
	OutputData    map[string]any
	DurationMS    int64
	Error         *model.ErrorPayload
	SuccessReason string
}

// CallSpec is the input to RecordCall. Parent is either a state id or
// an operation id; exactly one of StateID/OperationID must be set.
type CallSpec struct {
	StateID      string
	OperationID  string
	CallIndex    int
	CallType     string
	Status       model.CallStatus
	RequestData  map[string]any
	ResponseData map[string]any
	LatencyMS    int64
	Error        *model.ErrorPayload
}

// OperationCompletion is the input to CompleteOperation.
type OperationCompletion struct {
	Status        model.OperationStatus
	DurationMS    int64
	InputDataRef  string
	OutputDataRef string
	ErrorMessage  string
}

// AmbiguousLineage is raised by ExplainRow when multiple tokens share
// a sink and the caller did not disambiguate.
type AmbiguousLineage struct {
	RunID string
	RowID string
	Sink  string
}

func (e *AmbiguousLineage) Error() string {
	return "landscape: row " + e.RowID + " in run " + e.RunID + " reached sink " + e.Sink + " via more than one token; pass a token id to disambiguate"
}

// LineageResult is the reconstructed explanation of a token's or row's
// path through the graph, returned by Explain/ExplainRow.
type LineageResult struct {
	RowID           string
	TokenChain      []*model.Token
	NodeStates      []*model.NodeState // ordered by step_index, then attempt
	Calls           []*model.Call      // ordered by call_index within each state
	TerminalOutcome *model.TokenOutcome
	SourcePayload   []byte
	PayloadAvailable bool
}

// Store is the transactional audit store exposing the record-level
// writers and readers of spec §4.E. All writes are per-record and
// transactional: the foreign-key checks the implementation performs
// (see the package doc) and terminal-uniqueness violations raise
// immediately, and the store never silently repairs data. Reads decode
// stored records as they are and do not re-validate enumerated fields;
// invalid enum values are rejected when records are constructed (see
// package model), not when they are read back.
type Store interface {
	BeginRun(configHash, canonicalVersion string, settings map[string]any) (*model.Run, error)
	CompleteRun(runID string, status model.RunStatus) error
	GetRun(runID string) (*model.Run, error)

	RegisterNode(runID string, spec NodeSpec) (*model.Node, error)
	GetNode(runID, nodeID string) (*model.Node, error)

	AddEdge(runID string, edge *model.Edge) error

	CreateRow(runID string, spec RowSpec) (*model.Row, error)
	GetRow(rowID string) (*model.Row, error)

	CreateToken(spec TokenSpec) (*model.Token, error)
	GetToken(tokenID string) (*model.Token, error)

	BeginNodeState(tokenID, nodeID string, stepIndex, attempt int, inputHash string) (*model.NodeState, error)
	CompleteNodeState(stateID string, completion NodeStateCompletion) error
	GetNodeState(stateID string) (*model.NodeState, error)

	RecordCall(spec CallSpec) (*model.Call, error)

	BeginOperation(runID, nodeID string, opType model.OperationType) (*model.Operation, error)
	CompleteOperation(operationID string, completion OperationCompletion) error

	RecordTokenOutcome(runID, tokenID string, outcome model.RowOutcome, opts model.TokenOutcomeOptions) (*model.TokenOutcome, error)
	GetTokenOutcome(tokenID string) (*model.TokenOutcome, error)

	RecordArtifact(artifact *model.Artifact) error
	RecordRoutingEvent(event *model.RoutingEvent) error

	CreateBatch(batch *model.Batch) error
	AddBatchMember(member model.BatchMember) error
	CompleteBatch(batchID string, status model.BatchStatus) error
	GetBatch(batchID string) (*model.Batch, error)
	BatchMembers(batchID string) ([]model.BatchMember, error)
	AddBatchOutput(output model.BatchOutput) error

	CreateCheckpoint(cp *model.Checkpoint) error
	GetLatestCheckpoint(runID string) (*model.Checkpoint, error)
	GetCheckpoints(runID string) ([]*model.Checkpoint, error)
	DeleteCheckpoints(runID string) error

	RecordValidationError(rec *model.ValidationErrorRecord) error
	RecordTransformError(rec *model.TransformErrorRecord) error

	ExplainRow(runID, rowID, sink string) (*LineageResult, error)
	Explain(tokenID string) (*LineageResult, error)

	// Dump collects every audit record belonging to runID, in the table
	// order of spec §6, for export.
	Dump(runID string) (*AuditDump, error)

	Close() error
}

// AuditDump is every record of one run, grouped by record type in the
// fixed table order spec §6 names for export.
type AuditDump struct {
	Runs             []*model.Run
	Nodes            []*model.Node
	Edges            []*model.Edge
	Rows             []*model.Row
	Tokens           []*model.Token
	TokenParents     []model.TokenParent
	NodeStates       []*model.NodeState
	Calls            []*model.Call
	Operations       []*model.Operation
	Artifacts        []*model.Artifact
	RoutingEvents    []*model.RoutingEvent
	Batches          []*model.Batch
	BatchMembers     []model.BatchMember
	BatchOutputs     []model.BatchOutput
	Checkpoints      []*model.Checkpoint
	TokenOutcomes    []*model.TokenOutcome
	ValidationErrors []*model.ValidationErrorRecord
	TransformErrors  []*model.TransformErrorRecord
}
