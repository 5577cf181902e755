package model

import (
	"fmt"
	"time"
)

// RunStatus is the terminal status machine of a Run.
type RunStatus string

const (
	RunExecuting RunStatus = "EXECUTING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// Run represents one execution of a pipeline.
type Run struct {
	RunID            string
	StartedAt        time.Time
	CanonicalVersion string
	ConfigHash       string
	Settings         map[string]any
	Status           RunStatus
	CompletedAt      *time.Time
	SourceSchemaJSON string
	ExportMetadata   map[string]string
}

func (r *Run) validate() {
	switch r.Status {
	case RunExecuting, RunCompleted, RunFailed:
	default:
		panic(fmt.Sprintf("model: invalid RunStatus %q", r.Status))
	}
}

// NewRun constructs an open Run record.
func NewRun(runID, canonicalVersion, configHash string, settings map[string]any) *Run {
	r := &Run{
		RunID:            runID,
		StartedAt:        time.Now().UTC(),
		CanonicalVersion: canonicalVersion,
		ConfigHash:       configHash,
		Settings:         settings,
		Status:           RunExecuting,
	}
	r.validate()
	return r
}

// Complete sets the run's terminal status and stamps its completion
// time. The current status is not checked, so an earlier terminal
// status (a FAILED run that is later resumed) is overwritten.
func (r *Run) Complete(status RunStatus) {
	if status != RunCompleted && status != RunFailed {
		panic(fmt.Sprintf("model: Complete requires a terminal status, got %q", status))
	}
	now := time.Now().UTC()
	r.Status = status
	r.CompletedAt = &now
}

// NodeType enumerates the roles a Node can play in the execution graph.
type NodeType string

const (
	NodeTypeSource      NodeType = "SOURCE"
	NodeTypeTransform   NodeType = "TRANSFORM"
	NodeTypeAggregation NodeType = "AGGREGATION"
	NodeTypeCoalesce    NodeType = "COALESCE"
	NodeTypeGate        NodeType = "GATE"
	NodeTypeSink        NodeType = "SINK"
)

func (t NodeType) valid() bool {
	switch t {
	case NodeTypeSource, NodeTypeTransform, NodeTypeAggregation, NodeTypeCoalesce, NodeTypeGate, NodeTypeSink:
		return true
	}
	return false
}

// Determinism classifies the reproducibility of a node's processing.
type Determinism string

const (
	Deterministic    Determinism = "DETERMINISTIC"
	ExternalCall     Determinism = "EXTERNAL_CALL"
	IOWrite          Determinism = "IO_WRITE"
	NonDeterministic Determinism = "NON_DETERMINISTIC"
)

func (d Determinism) valid() bool {
	switch d {
	case Deterministic, ExternalCall, IOWrite, NonDeterministic:
		return true
	}
	return false
}

// Node is a registered instance of a plugin in the execution graph.
type Node struct {
	NodeID         string
	RunID          string
	PluginName     string
	PluginVersion  string
	NodeType       NodeType
	Determinism    Determinism
	ConfigHash     string
	SchemaMode     string
	SchemaFields   []string
	SequenceInPipe int
}

// NewNode constructs a Node, crashing on any invalid enum value per the
// tier-1 invariant that bad data must fail at construction.
func NewNode(nodeID, runID, pluginName, pluginVersion string, nodeType NodeType, det Determinism, configHash string, sequence int) *Node {
	if !nodeType.valid() {
		panic(fmt.Sprintf("model: invalid NodeType %q", nodeType))
	}
	if !det.valid() {
		panic(fmt.Sprintf("model: invalid Determinism %q", det))
	}
	return &Node{
		NodeID:         nodeID,
		RunID:          runID,
		PluginName:     pluginName,
		PluginVersion:  pluginVersion,
		NodeType:       nodeType,
		Determinism:    det,
		ConfigHash:     configHash,
		SequenceInPipe: sequence,
	}
}

// EdgeMode is the move/copy semantics of an edge.
type EdgeMode string

const (
	EdgeMove EdgeMode = "MOVE"
	EdgeCopy EdgeMode = "COPY"
)

func (m EdgeMode) valid() bool {
	return m == EdgeMove || m == EdgeCopy
}

// Edge is a directed, labeled connection between two nodes.
type Edge struct {
	EdgeID      string
	RunID       string
	FromNode    string
	ToNode      string
	Label       string
	DefaultMode EdgeMode
}

// NewEdge constructs an Edge. An empty label defaults to "continue",
// the linear-edge label named in spec §3.
func NewEdge(edgeID, runID, from, to, label string, mode EdgeMode) *Edge {
	if !mode.valid() {
		panic(fmt.Sprintf("model: invalid EdgeMode %q", mode))
	}
	if label == "" {
		label = "continue"
	}
	return &Edge{EdgeID: edgeID, RunID: runID, FromNode: from, ToNode: to, Label: label, DefaultMode: mode}
}

// Row is one source-yielded record.
type Row struct {
	RowID          string
	RunID          string
	SourceNodeID   string
	RowIndex       int
	SourceDataHash string
	PayloadRef     string
	CreatedAt      time.Time
}

// NewRow constructs a Row.
func NewRow(rowID, runID, sourceNodeID string, rowIndex int, sourceDataHash, payloadRef string) *Row {
	return &Row{
		RowID:          rowID,
		RunID:          runID,
		SourceNodeID:   sourceNodeID,
		RowIndex:       rowIndex,
		SourceDataHash: sourceDataHash,
		PayloadRef:     payloadRef,
		CreatedAt:      time.Now().UTC(),
	}
}

// Token is a row-instance traveling along one DAG path.
type Token struct {
	TokenID       string
	RowID         string
	CreatedAt     time.Time
	ForkGroupID   string
	JoinGroupID   string
	ExpandGroupID string
	Branch        string
	Step          int
}

// NewToken constructs a Token.
func NewToken(tokenID, rowID string) *Token {
	return &Token{TokenID: tokenID, RowID: rowID, CreatedAt: time.Now().UTC()}
}

// TokenParent records one ordered parent of a multi-parent join token.
type TokenParent struct {
	TokenID       string
	ParentTokenID string
	Ordinal       int
}

// NodeStateStatus is the tagged-union discriminant for NodeState.
type NodeStateStatus string

const (
	NodeStateOpen      NodeStateStatus = "OPEN"
	NodeStatePending   NodeStateStatus = "PENDING"
	NodeStateCompleted NodeStateStatus = "COMPLETED"
	NodeStateFailed    NodeStateStatus = "FAILED"
)

// ErrorPayload is a classified, hashed error record attached to a
// FAILED NodeState, Call, Operation, or outcome.
type ErrorPayload struct {
	Kind      ErrorKind
	Message   string
	ErrorHash string
	Retryable bool
}

// NodeState is an attempt by a specific token to execute a specific
// node. The head fields are common to every variant; CompletedAt,
// OutputHash and Error are populated according to Status, per the
// invariants enforced by Complete.
type NodeState struct {
	StateID       string
	TokenID       string
	NodeID        string
	StepIndex     int
	Attempt       int
	InputHash     string
	StartedAt     time.Time
	Status        NodeStateStatus
	CompletedAt   *time.Time
	DurationMS    int64
	OutputHash    string
	SuccessReason string
	Error         *ErrorPayload
}

// OpenNodeState begins a new node_state attempt in the OPEN state.
func OpenNodeState(stateID, tokenID, nodeID string, step, attempt int, inputHash string) *NodeState {
	return &NodeState{
		StateID:   stateID,
		TokenID:   tokenID,
		NodeID:    nodeID,
		StepIndex: step,
		Attempt:   attempt,
		InputHash: inputHash,
		StartedAt: time.Now().UTC(),
		Status:    NodeStateOpen,
	}
}

// Complete transitions an OPEN node_state into one of
// {COMPLETED, FAILED, PENDING}, enforcing the shape invariants of
// spec §3: COMPLETED requires a non-empty output hash; PENDING forbids
// an output hash but requires a completion time; FAILED requires an
// error payload.
func (ns *NodeState) Complete(status NodeStateStatus, outputHash string, durationMS int64, errPayload *ErrorPayload, successReason string) error {
	if ns.Status != NodeStateOpen {
		return fmt.Errorf("model: cannot complete node_state %s from non-OPEN status %q", ns.StateID, ns.Status)
	}
	switch status {
	case NodeStateCompleted:
		if outputHash == "" {
			return fmt.Errorf("model: COMPLETED node_state %s requires a non-empty output_hash", ns.StateID)
		}
	case NodeStatePending:
		if outputHash != "" {
			return fmt.Errorf("model: PENDING node_state %s must not carry an output_hash", ns.StateID)
		}
	case NodeStateFailed:
		if errPayload == nil {
			return fmt.Errorf("model: FAILED node_state %s requires an error payload", ns.StateID)
		}
	default:
		return fmt.Errorf("model: invalid terminal NodeStateStatus %q", status)
	}
	now := time.Now().UTC()
	ns.Status = status
	ns.CompletedAt = &now
	ns.DurationMS = durationMS
	ns.OutputHash = outputHash
	ns.Error = errPayload
	ns.SuccessReason = successReason
	return nil
}

// CallStatus is the outcome of an external I/O call.
type CallStatus string

const (
	CallSuccess CallStatus = "SUCCESS"
	CallFailure CallStatus = "FAILURE"
)

// Call is one external I/O call inside a NodeState or Operation.
// Exactly one of StateID/OperationID is set (the XOR parent named in
// spec §3).
type Call struct {
	CallID       string
	StateID      string
	OperationID  string
	CallIndex    int
	CallType     string
	Status       CallStatus
	RequestHash  string
	ResponseHash string
	Error        *ErrorPayload
	LatencyMS    int64
}

// NewCall constructs a Call attached to a node_state.
func NewCall(callID, stateID string, callIndex int, callType string, status CallStatus, requestHash, responseHash string, latencyMS int64, errPayload *ErrorPayload) (*Call, error) {
	return newCall(callID, stateID, "", callIndex, callType, status, requestHash, responseHash, latencyMS, errPayload)
}

// NewOperationCall constructs a Call attached to an Operation.
func NewOperationCall(callID, operationID string, callIndex int, callType string, status CallStatus, requestHash, responseHash string, latencyMS int64, errPayload *ErrorPayload) (*Call, error) {
	return newCall(callID, "", operationID, callIndex, callType, status, requestHash, responseHash, latencyMS, errPayload)
}

func newCall(callID, stateID, operationID string, callIndex int, callType string, status CallStatus, requestHash, responseHash string, latencyMS int64, errPayload *ErrorPayload) (*Call, error) {
	if (stateID == "") == (operationID == "") {
		return nil, fmt.Errorf("model: call %s must have exactly one of state_id/operation_id", callID)
	}
	if status != CallSuccess && status != CallFailure {
		return nil, fmt.Errorf("model: invalid CallStatus %q", status)
	}
	return &Call{
		CallID:       callID,
		StateID:      stateID,
		OperationID:  operationID,
		CallIndex:    callIndex,
		CallType:     callType,
		Status:       status,
		RequestHash:  requestHash,
		ResponseHash: responseHash,
		LatencyMS:    latencyMS,
		Error:        errPayload,
	}, nil
}

// OperationType distinguishes source loads from sink writes.
type OperationType string

const (
	OperationSourceLoad OperationType = "SOURCE_LOAD"
	OperationSinkWrite  OperationType = "SINK_WRITE"
)

// OperationStatus mirrors NodeStateStatus but at the node level.
type OperationStatus string

const (
	OperationOpen      OperationStatus = "OPEN"
	OperationPending   OperationStatus = "PENDING"
	OperationCompleted OperationStatus = "COMPLETED"
	OperationFailed    OperationStatus = "FAILED"
)

// Operation is source- or sink-level I/O that is not bound to a token.
type Operation struct {
	OperationID   string
	RunID         string
	NodeID        string
	OperationType OperationType
	Status        OperationStatus
	StartedAt     time.Time
	CompletedAt   *time.Time
	DurationMS    int64
	InputDataRef  string
	OutputDataRef string
	ErrorMessage  string
}

// BeginOperation opens a new Operation.
func BeginOperation(operationID, runID, nodeID string, opType OperationType) *Operation {
	return &Operation{
		OperationID:   operationID,
		RunID:         runID,
		NodeID:        nodeID,
		OperationType: opType,
		Status:        OperationOpen,
		StartedAt:     time.Now().UTC(),
	}
}

// Complete transitions an operation to a terminal or pending status.
func (op *Operation) Complete(status OperationStatus, durationMS int64, inputRef, outputRef, errMessage string) error {
	if op.Status != OperationOpen {
		return fmt.Errorf("model: cannot complete operation %s from non-OPEN status %q", op.OperationID, op.Status)
	}
	switch status {
	case OperationCompleted, OperationFailed, OperationPending:
	default:
		return fmt.Errorf("model: invalid terminal OperationStatus %q", status)
	}
	now := time.Now().UTC()
	op.Status = status
	op.CompletedAt = &now
	op.DurationMS = durationMS
	op.InputDataRef = inputRef
	op.OutputDataRef = outputRef
	op.ErrorMessage = errMessage
	return nil
}

// Artifact is the output of a sink write.
type Artifact struct {
	ArtifactID      string
	RunID           string
	ProducedByState string
	SinkNodeID      string
	ArtifactType    string
	PathOrURI       string
	ContentHash     string
	SizeBytes       int64
	IdempotencyKey  string
}

// RoutingEvent records one gate edge-selection decision.
type RoutingEvent struct {
	EventID        string
	StateID        string
	EdgeID         string
	RoutingGroupID string
	Ordinal        int
	Mode           EdgeMode
	ReasonHash     string
	ReasonRef      string
}

// BatchStatus is the lifecycle of an aggregation window.
type BatchStatus string

const (
	BatchDraft     BatchStatus = "DRAFT"
	BatchExecuting BatchStatus = "EXECUTING"
	BatchCompleted BatchStatus = "COMPLETED"
	BatchFailed    BatchStatus = "FAILED"
)

// BatchTrigger is what caused a batch to fire.
type BatchTrigger string

const (
	TriggerCount       BatchTrigger = "COUNT"
	TriggerTime        BatchTrigger = "TIME"
	TriggerEndOfSource BatchTrigger = "END_OF_SOURCE"
	TriggerManual      BatchTrigger = "MANUAL"
)

// Batch is an aggregation window.
type Batch struct {
	BatchID     string
	RunID       string
	NodeID      string
	Status      BatchStatus
	Trigger     BatchTrigger
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// BatchMember is one token buffered in a batch, in ordinal order.
type BatchMember struct {
	BatchID string
	TokenID string
	Ordinal int
}

// BatchOutput is a token or artifact produced when a batch completes.
type BatchOutput struct {
	BatchID    string
	TokenID    string
	ArtifactID string
}

// RowOutcome enumerates a token's terminal or buffered state.
type RowOutcome string

const (
	OutcomeCompleted       RowOutcome = "COMPLETED"
	OutcomeRouted          RowOutcome = "ROUTED"
	OutcomeFailed          RowOutcome = "FAILED"
	OutcomeQuarantined     RowOutcome = "QUARANTINED"
	OutcomeCoalesced       RowOutcome = "COALESCED"
	OutcomeForked          RowOutcome = "FORKED"
	OutcomeExpanded        RowOutcome = "EXPANDED"
	OutcomeBuffered        RowOutcome = "BUFFERED"
	OutcomeConsumedInBatch RowOutcome = "CONSUMED_IN_BATCH"
)

// IsTerminal reports whether the outcome is a terminal state, subject
// to the partial-unique "one terminal outcome per token" constraint.
func (o RowOutcome) IsTerminal() bool {
	switch o {
	case OutcomeCompleted, OutcomeRouted, OutcomeFailed, OutcomeQuarantined, OutcomeCoalesced, OutcomeForked, OutcomeExpanded:
		return true
	}
	return false
}

func (o RowOutcome) valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeRouted, OutcomeFailed, OutcomeQuarantined, OutcomeCoalesced,
		OutcomeForked, OutcomeExpanded, OutcomeBuffered, OutcomeConsumedInBatch:
		return true
	}
	return false
}

// TokenOutcome is the terminal (or buffered) state of a token.
type TokenOutcome struct {
	OutcomeID        string
	RunID            string
	TokenID          string
	Outcome          RowOutcome
	IsTerminal       bool
	RecordedAt       time.Time
	SinkName         string
	BatchID          string
	ForkGroupID      string
	JoinGroupID      string
	ExpandGroupID    string
	ErrorHash        string
	Context          map[string]string
	ExpectedBranches int
}

// TokenOutcomeOptions carries the outcome-specific optional fields.
type TokenOutcomeOptions struct {
	SinkName         string
	BatchID          string
	ForkGroupID      string
	JoinGroupID      string
	ExpandGroupID    string
	ErrorHash        string
	Context          map[string]string
	ExpectedBranches int
}

// NewTokenOutcome validates the outcome-specific required fields called
// out in spec §3 before constructing the record.
func NewTokenOutcome(outcomeID, runID, tokenID string, outcome RowOutcome, opts TokenOutcomeOptions) (*TokenOutcome, error) {
	if !outcome.valid() {
		return nil, fmt.Errorf("model: invalid RowOutcome %q", outcome)
	}
	switch outcome {
	case OutcomeCompleted, OutcomeRouted:
		if opts.SinkName == "" {
			return nil, fmt.Errorf("model: outcome %s requires sink_name", outcome)
		}
	case OutcomeCoalesced:
		if opts.JoinGroupID == "" {
			return nil, fmt.Errorf("model: COALESCED requires join_group_id")
		}
	case OutcomeForked:
		if opts.ForkGroupID == "" || opts.ExpectedBranches <= 0 {
			return nil, fmt.Errorf("model: FORKED requires fork_group_id and expected_branches")
		}
	case OutcomeExpanded:
		if opts.ExpandGroupID == "" || opts.ExpectedBranches <= 0 {
			return nil, fmt.Errorf("model: EXPANDED requires expand_group_id and expected_branches")
		}
	case OutcomeBuffered, OutcomeConsumedInBatch:
		if opts.BatchID == "" {
			return nil, fmt.Errorf("model: %s requires batch_id", outcome)
		}
	}
	return &TokenOutcome{
		OutcomeID:        outcomeID,
		RunID:            runID,
		TokenID:          tokenID,
		Outcome:          outcome,
		IsTerminal:       outcome.IsTerminal(),
		RecordedAt:       time.Now().UTC(),
		SinkName:         opts.SinkName,
		BatchID:          opts.BatchID,
		ForkGroupID:      opts.ForkGroupID,
		JoinGroupID:      opts.JoinGroupID,
		ExpandGroupID:    opts.ExpandGroupID,
		ErrorHash:        opts.ErrorHash,
		Context:          opts.Context,
		ExpectedBranches: opts.ExpectedBranches,
	}, nil
}

// Checkpoint is a crash-recovery marker bound to a topology hash.
type Checkpoint struct {
	CheckpointID             string
	RunID                    string
	TokenID                  string
	NodeID                   string
	SequenceNumber           int64
	CreatedAt                time.Time
	UpstreamTopologyHash     string
	CheckpointNodeConfigHash string
	AggregationState         []byte
	FormatVersion            int
}

// CurrentCheckpointFormatVersion is the format_version written by this
// engine. Resuming a checkpoint with an older version is rejected.
const CurrentCheckpointFormatVersion = 2

// NewCheckpoint constructs a Checkpoint, enforcing that both hash
// fields are present (spec §3: "both hash fields non-empty and
// required at construction").
func NewCheckpoint(checkpointID, runID, tokenID, nodeID string, seq int64, upstreamHash, nodeConfigHash string, aggState []byte) (*Checkpoint, error) {
	if upstreamHash == "" || nodeConfigHash == "" {
		return nil, fmt.Errorf("model: checkpoint requires non-empty upstream and node-config hashes")
	}
	return &Checkpoint{
		CheckpointID:             checkpointID,
		RunID:                    runID,
		TokenID:                  tokenID,
		NodeID:                   nodeID,
		SequenceNumber:           seq,
		CreatedAt:                time.Now().UTC(),
		UpstreamTopologyHash:     upstreamHash,
		CheckpointNodeConfigHash: nodeConfigHash,
		AggregationState:         aggState,
		FormatVersion:            CurrentCheckpointFormatVersion,
	}, nil
}

// NonCanonicalMetadata is stored in place of a payload when a value
// cannot be canonicalized (NaN/Infinity, or another non-representable
// shape); the owning row is quarantined rather than hashed.
type NonCanonicalMetadata struct {
	Repr           string
	TypeName       string
	CanonicalError string
}

// ValidationErrorRecord is an operational error raised by a source.
type ValidationErrorRecord struct {
	ErrorID   string
	RunID     string
	RowID     string
	NodeID    string
	Message   string
	CreatedAt time.Time
}

// TransformErrorRecord is an operational error returned by a transform.
type TransformErrorRecord struct {
	ErrorID   string
	RunID     string
	TokenID   string
	NodeID    string
	Reason    string
	Retryable bool
	CreatedAt time.Time
}
