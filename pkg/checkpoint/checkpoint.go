// Package checkpoint implements durable resume points and the
// recovery logic that reconstructs where a run can safely restart
// after a crash (spec §4.K). A checkpoint pins a sequence number, the
// node the sequence was recorded at, and the upstream topology/config
// hashes the graph had at that moment; resuming is only permitted when
// a freshly-loaded graph hashes identically.
package checkpoint

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/landscape/pkg/graph"
	"github.com/cuemby/landscape/pkg/landscape"
	"github.com/cuemby/landscape/pkg/log"
	"github.com/cuemby/landscape/pkg/model"
)

// Manager creates and prunes checkpoints for one run. Unlike the
// teacher's reconciler, which wakes on a fixed interval independent of
// cluster activity, a Manager is driven by the orchestrator at row
// boundaries: there is no background loop here, since checkpointing
// only ever needs to happen between row processing steps.
type Manager struct {
	store  landscape.Store
	graph  *graph.Graph
	logger zerolog.Logger
}

// NewManager constructs a Manager bound to one run's store and graph.
func NewManager(store landscape.Store, g *graph.Graph) *Manager {
	return &Manager{store: store, graph: g, logger: log.WithComponent("checkpoint")}
}

// Create records a checkpoint at tokenID/nodeID/seq, hashing the
// upstream subgraph of nodeID and the node's own config hash so a
// later resume attempt can verify the graph hasn't drifted.
func (m *Manager) Create(runID, tokenID, nodeID string, seq int64, aggState []byte) (*model.Checkpoint, error) {
	upstreamHash, err := m.graph.ComputeUpstreamTopologyHash(nodeID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: hash upstream topology for %q: %w", nodeID, err)
	}
	info, ok := m.graph.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("checkpoint: unknown node %q", nodeID)
	}
	cp, err := model.NewCheckpoint(uuid.New().String(), runID, tokenID, nodeID, seq, upstreamHash, info.ConfigHash, aggState)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: construct: %w", err)
	}
	if err := m.store.CreateCheckpoint(cp); err != nil {
		return nil, fmt.Errorf("checkpoint: persist: %w", err)
	}
	m.logger.Debug().Str("run_id", runID).Str("node_id", nodeID).Int64("sequence", seq).Msg("checkpoint created")
	return cp, nil
}

// Latest returns the most recent checkpoint for runID, or nil if none
// was ever recorded.
func (m *Manager) Latest(runID string) (*model.Checkpoint, error) {
	cp, err := m.store.GetLatestCheckpoint(runID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: get latest for run %q: %w", runID, err)
	}
	return cp, nil
}

// All returns every checkpoint recorded for runID, oldest first.
func (m *Manager) All(runID string) ([]*model.Checkpoint, error) {
	return m.store.GetCheckpoints(runID)
}

// Prune deletes every checkpoint for runID, called once a run reaches
// a terminal COMPLETED status and no further resume is possible.
func (m *Manager) Prune(runID string) error {
	if err := m.store.DeleteCheckpoints(runID); err != nil {
		return fmt.Errorf("checkpoint: prune run %q: %w", runID, err)
	}
	return nil
}

// CompatibilityResult is the outcome of a resume eligibility check.
type CompatibilityResult struct {
	CanResume bool
	Reason    string
}

// ResumePoint identifies exactly where a resumed run must restart: the
// node the checkpoint was recorded at and the sequence number of the
// last row known to have reached it.
type ResumePoint struct {
	Checkpoint *model.Checkpoint
	NodeID     string
}

// RecoveryManager decides whether, and from where, an interrupted run
// can be resumed. It is grounded on the teacher's reconciler cycle
// shape (load state, compare against current reality, act) but is
// invoked once at startup rather than on a repeating timer, since a
// run's resumability doesn't change between checks.
type RecoveryManager struct {
	store  landscape.Store
	logger zerolog.Logger
}

// NewRecoveryManager constructs a RecoveryManager bound to store.
func NewRecoveryManager(store landscape.Store) *RecoveryManager {
	return &RecoveryManager{store: store, logger: log.WithComponent("checkpoint.recovery")}
}

// CanResume compares the latest checkpoint's topology/config hashes
// against the freshly-loaded graph. A run can only resume if the
// upstream subgraph of the checkpointed node hashes identically to
// what was recorded when the checkpoint was taken (spec §4.K: pipeline
// config changes invalidate outstanding checkpoints).
func (r *RecoveryManager) CanResume(runID string, g *graph.Graph) (CompatibilityResult, error) {
	cp, err := r.store.GetLatestCheckpoint(runID)
	if err != nil {
		return CompatibilityResult{}, fmt.Errorf("checkpoint: get latest checkpoint for run %q: %w", runID, err)
	}
	if cp == nil {
		return CompatibilityResult{CanResume: false, Reason: "no checkpoint recorded for this run"}, nil
	}
	if cp.FormatVersion != model.CurrentCheckpointFormatVersion {
		return CompatibilityResult{CanResume: false, Reason: fmt.Sprintf("checkpoint format_version %d is incompatible with current version %d", cp.FormatVersion, model.CurrentCheckpointFormatVersion)}, nil
	}
	info, ok := g.Node(cp.NodeID)
	if !ok {
		return CompatibilityResult{CanResume: false, Reason: fmt.Sprintf("checkpointed node %q no longer exists in the pipeline graph", cp.NodeID)}, nil
	}
	if info.ConfigHash != cp.CheckpointNodeConfigHash {
		return CompatibilityResult{CanResume: false, Reason: fmt.Sprintf("node %q config_hash changed since checkpoint was recorded", cp.NodeID)}, nil
	}
	upstreamHash, err := g.ComputeUpstreamTopologyHash(cp.NodeID)
	if err != nil {
		return CompatibilityResult{}, fmt.Errorf("checkpoint: recompute upstream topology hash: %w", err)
	}
	if upstreamHash != cp.UpstreamTopologyHash {
		return CompatibilityResult{CanResume: false, Reason: "upstream topology changed since checkpoint was recorded"}, nil
	}
	return CompatibilityResult{CanResume: true}, nil
}

// GetResumePoint returns the point a compatible run should resume
// from. Callers must have already confirmed CanResume.
func (r *RecoveryManager) GetResumePoint(runID string, g *graph.Graph) (*ResumePoint, error) {
	compat, err := r.CanResume(runID, g)
	if err != nil {
		return nil, err
	}
	if !compat.CanResume {
		return nil, fmt.Errorf("checkpoint: run %q is not resumable: %s", runID, compat.Reason)
	}
	cp, err := r.store.GetLatestCheckpoint(runID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: get latest checkpoint for run %q: %w", runID, err)
	}
	return &ResumePoint{Checkpoint: cp, NodeID: cp.NodeID}, nil
}

// GetUnprocessedRows returns every row for runID whose source
// row_index is strictly greater than the checkpoint's sequence
// number, in ascending row_index order: the rows that had not yet
// been fed into the graph when the checkpoint was taken.
func GetUnprocessedRows(store landscape.Store, runID string, cp *model.Checkpoint) ([]*model.Row, error) {
	dump, err := store.Dump(runID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: dump run %q: %w", runID, err)
	}
	var unprocessed []*model.Row
	for _, row := range dump.Rows {
		if int64(row.RowIndex) > cp.SequenceNumber {
			unprocessed = append(unprocessed, row)
		}
	}
	sort.Slice(unprocessed, func(i, j int) bool { return unprocessed[i].RowIndex < unprocessed[j].RowIndex })
	return unprocessed, nil
}

// HandleIncompleteBatches resolves every aggregation batch left
// EXECUTING or DRAFT by a crash (spec §4.K.d): an EXECUTING batch's
// transform may or may not have completed before the crash, so it is
// marked FAILED and its members are returned for replay; a DRAFT batch
// was never dispatched and its members simply replay as if freshly
// buffered.
func HandleIncompleteBatches(store landscape.Store, runID string) ([]model.BatchMember, error) {
	dump, err := store.Dump(runID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: dump run %q: %w", runID, err)
	}
	var toReplay []model.BatchMember
	for _, batch := range dump.Batches {
		if batch.Status != model.BatchExecuting && batch.Status != model.BatchDraft {
			continue
		}
		members, err := store.BatchMembers(batch.BatchID)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: list members of batch %q: %w", batch.BatchID, err)
		}
		if batch.Status == model.BatchExecuting {
			if err := store.CompleteBatch(batch.BatchID, model.BatchFailed); err != nil {
				return nil, fmt.Errorf("checkpoint: mark interrupted batch %q failed: %w", batch.BatchID, err)
			}
		}
		toReplay = append(toReplay, members...)
	}
	return toReplay, nil
}

// CheckpointAge reports how long ago cp was recorded, for orchestrator
// checkpoint-frequency decisions (e.g. "checkpoint every N seconds or
// every M rows, whichever comes first"). A nil checkpoint is reported
// as infinitely old so the first checkpoint always fires promptly.
func CheckpointAge(cp *model.Checkpoint) time.Duration {
	if cp == nil {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(cp.CreatedAt)
}
