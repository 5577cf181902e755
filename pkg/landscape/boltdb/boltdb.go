// Package boltdb implements the landscape.Store contract on top of
// go.etcd.io/bbolt, mirroring the teacher's BoltStore: one bucket per
// audit record type, JSON-encoded values, and secondary-index buckets
// whose keys are built so bbolt's native sorted-cursor iteration gives
// the ordering the spec requires (node_states by step/attempt, calls
// by call_index, batch members by ordinal) without a query engine.
package boltdb

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/landscape/pkg/canon"
	"github.com/cuemby/landscape/pkg/landscape"
	"github.com/cuemby/landscape/pkg/model"
)

var (
	bucketRuns              = []byte("runs")
	bucketNodes             = []byte("nodes")
	bucketEdges             = []byte("edges")
	bucketRows              = []byte("rows")
	bucketTokens            = []byte("tokens")
	bucketTokenParents      = []byte("token_parents")
	bucketNodeStates        = []byte("node_states")
	bucketNodeStatesByToken = []byte("node_states_by_token")
	bucketCalls             = []byte("calls")
	bucketCallsByParent     = []byte("calls_by_parent")
	bucketOperations        = []byte("operations")
	bucketArtifacts         = []byte("artifacts")
	bucketRoutingEvents     = []byte("routing_events")
	bucketBatches           = []byte("batches")
	bucketBatchMembers      = []byte("batch_members")
	bucketBatchOutputs      = []byte("batch_outputs")
	bucketCheckpoints       = []byte("checkpoints")
	bucketTokenOutcomes     = []byte("token_outcomes")
	bucketOutcomesByToken   = []byte("outcomes_by_token")
	bucketValidationErrors  = []byte("validation_errors")
	bucketTransformErrors   = []byte("transform_errors")
)

var allBuckets = [][]byte{
	bucketRuns, bucketNodes, bucketEdges, bucketRows, bucketTokens, bucketTokenParents,
	bucketNodeStates, bucketNodeStatesByToken, bucketCalls, bucketCallsByParent,
	bucketOperations, bucketArtifacts, bucketRoutingEvents, bucketBatches, bucketBatchMembers,
	bucketBatchOutputs, bucketCheckpoints, bucketTokenOutcomes, bucketOutcomesByToken,
	bucketValidationErrors, bucketTransformErrors,
}

// Store is a bbolt-backed landscape.Store.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) a landscape database at
// <dataDir>/landscape.db.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "landscape.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("landscape: failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func put(tx *bolt.Tx, bucket []byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

func get(tx *bolt.Tx, bucket []byte, key string, out any) (bool, error) {
	data := tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

func pad(n int64) string {
	return fmt.Sprintf("%020d", n)
}

// ---- Run ----

func (s *Store) BeginRun(configHash, canonicalVersion string, settings map[string]any) (*model.Run, error) {
	run := model.NewRun(uuid.New().String(), canonicalVersion, configHash, settings)
	err := s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketRuns, run.RunID, run)
	})
	if err != nil {
		return nil, fmt.Errorf("landscape: begin_run failed: %w", err)
	}
	return run, nil
}

func (s *Store) CompleteRun(runID string, status model.RunStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var run model.Run
		ok, err := get(tx, bucketRuns, runID, &run)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("landscape: run %q not found", runID)
		}
		run.Complete(status)
		return put(tx, bucketRuns, runID, &run)
	})
}

func (s *Store) GetRun(runID string) (*model.Run, error) {
	var run model.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := get(tx, bucketRuns, runID, &run)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("landscape: run %q not found", runID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ---- Node ----

func nodeKey(runID, nodeID string) string { return runID + "|" + nodeID }

func (s *Store) RegisterNode(runID string, spec landscape.NodeSpec) (*model.Node, error) {
	nodeID := spec.NodeID
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	var node *model.Node
	err := s.db.Update(func(tx *bolt.Tx) error {
		key := nodeKey(runID, nodeID)
		var existing model.Node
		ok, err := get(tx, bucketNodes, key, &existing)
		if err != nil {
			return err
		}
		if ok {
			node = &existing
			return nil
		}
		node = model.NewNode(nodeID, runID, spec.PluginName, spec.PluginVersion, spec.NodeType, spec.Determinism, spec.ConfigHash, spec.Sequence)
		node.SchemaMode = spec.SchemaMode
		node.SchemaFields = spec.SchemaFields
		return put(tx, bucketNodes, key, node)
	})
	if err != nil {
		return nil, fmt.Errorf("landscape: register_node failed: %w", err)
	}
	return node, nil
}

func (s *Store) GetNode(runID, nodeID string) (*model.Node, error) {
	var node model.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := get(tx, bucketNodes, nodeKey(runID, nodeID), &node)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("landscape: node %q not found in run %q", nodeID, runID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// ---- Edge ----

func (s *Store) AddEdge(runID string, edge *model.Edge) error {
	if edge.EdgeID == "" {
		edge.EdgeID = uuid.New().String()
	}
	edge.RunID = runID
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketEdges, runID+"|"+edge.EdgeID, edge)
	})
}

// ---- Row ----

func (s *Store) CreateRow(runID string, spec landscape.RowSpec) (*model.Row, error) {
	rowID := spec.RowID
	if rowID == "" {
		rowID = uuid.New().String()
	}
	hash, err := canon.Hash(spec.Data)
	if err != nil {
		return nil, fmt.Errorf("landscape: create_row: %w", err)
	}
	row := model.NewRow(rowID, runID, spec.SourceNodeID, spec.RowIndex, hash, spec.PayloadRef)
	err = s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketRows, rowID, row)
	})
	if err != nil {
		return nil, fmt.Errorf("landscape: create_row failed: %w", err)
	}
	return row, nil
}

func (s *Store) GetRow(rowID string) (*model.Row, error) {
	var row model.Row
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := get(tx, bucketRows, rowID, &row)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("landscape: row %q not found", rowID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ---- Token ----

func (s *Store) CreateToken(spec landscape.TokenSpec) (*model.Token, error) {
	tokenID := spec.TokenID
	if tokenID == "" {
		tokenID = uuid.New().String()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		var existingRow model.Row
		ok, err := get(tx, bucketRows, spec.RowID, &existingRow)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("landscape: create_token: row %q does not exist", spec.RowID)
		}
		tok := model.NewToken(tokenID, spec.RowID)
		tok.ForkGroupID = spec.ForkGroupID
		tok.JoinGroupID = spec.JoinGroupID
		tok.ExpandGroupID = spec.ExpandGroupID
		tok.Branch = spec.Branch
		tok.Step = spec.Step
		if err := put(tx, bucketTokens, tokenID, tok); err != nil {
			return err
		}
		for i, parentID := range spec.Parents {
			tp := model.TokenParent{TokenID: tokenID, ParentTokenID: parentID, Ordinal: i}
			if err := put(tx, bucketTokenParents, tokenID+"|"+pad(int64(i)), tp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("landscape: create_token failed: %w", err)
	}
	return s.GetToken(tokenID)
}

func (s *Store) GetToken(tokenID string) (*model.Token, error) {
	var tok model.Token
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := get(tx, bucketTokens, tokenID, &tok)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("landscape: token %q not found", tokenID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// ---- NodeState ----

func (s *Store) BeginNodeState(tokenID, nodeID string, stepIndex, attempt int, inputHash string) (*model.NodeState, error) {
	stateID := uuid.New().String()
	ns := model.OpenNodeState(stateID, tokenID, nodeID, stepIndex, attempt, inputHash)
	err := s.db.Update(func(tx *bolt.Tx) error {
		var tok model.Token
		ok, err := get(tx, bucketTokens, tokenID, &tok)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("landscape: begin_node_state: token %q does not exist", tokenID)
		}
		if err := put(tx, bucketNodeStates, stateID, ns); err != nil {
			return err
		}
		indexKey := tokenID + "|" + pad(int64(stepIndex)) + "|" + pad(int64(attempt))
		return tx.Bucket(bucketNodeStatesByToken).Put([]byte(indexKey), []byte(stateID))
	})
	if err != nil {
		return nil, fmt.Errorf("landscape: begin_node_state failed: %w", err)
	}
	return ns, nil
}

func (s *Store) GetNodeState(stateID string) (*model.NodeState, error) {
	var ns model.NodeState
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := get(tx, bucketNodeStates, stateID, &ns)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("landscape: node_state %q not found", stateID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ns, nil
}

func (s *Store) CompleteNodeState(stateID string, completion landscape.NodeStateCompletion) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var ns model.NodeState
		ok, err := get(tx, bucketNodeStates, stateID, &ns)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("landscape: node_state %q not found", stateID)
		}
		var outputHash string
		if completion.OutputData != nil {
			outputHash, err = canon.Hash(completion.OutputData)
			if err != nil {
				return fmt.Errorf("landscape: complete_node_state: %w", err)
			}
		}
		if err := ns.Complete(completion.Status, outputHash, completion.DurationMS, completion.Error, completion.SuccessReason); err != nil {
			return err
		}
		return put(tx, bucketNodeStates, stateID, &ns)
	})
}

func nodeStatesForToken(tx *bolt.Tx, tokenID string) ([]*model.NodeState, error) {
	c := tx.Bucket(bucketNodeStatesByToken).Cursor()
	prefix := []byte(tokenID + "|")
	var out []*model.NodeState
	for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
		var ns model.NodeState
		ok, err := get(tx, bucketNodeStates, string(v), &ns)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, &ns)
		}
	}
	return out, nil
}

// ---- Call ----

func parentKey(spec landscape.CallSpec) (string, error) {
	if (spec.StateID == "") == (spec.OperationID == "") {
		return "", fmt.Errorf("landscape: record_call requires exactly one of state_id/operation_id")
	}
	if spec.StateID != "" {
		return spec.StateID, nil
	}
	return spec.OperationID, nil
}

func (s *Store) RecordCall(spec landscape.CallSpec) (*model.Call, error) {
	parent, err := parentKey(spec)
	if err != nil {
		return nil, err
	}
	var requestHash, responseHash string
	if spec.RequestData != nil {
		requestHash, err = canon.Hash(spec.RequestData)
		if err != nil {
			return nil, fmt.Errorf("landscape: record_call: %w", err)
		}
	}
	if spec.ResponseData != nil {
		responseHash, err = canon.Hash(spec.ResponseData)
		if err != nil {
			return nil, fmt.Errorf("landscape: record_call: %w", err)
		}
	}
	callID := uuid.New().String()
	var call *model.Call
	err = s.db.Update(func(tx *bolt.Tx) error {
		parentBucket := bucketNodeStates
		if spec.StateID == "" {
			parentBucket = bucketOperations
		}
		if tx.Bucket(parentBucket).Get([]byte(parent)) == nil {
			return fmt.Errorf("landscape: record_call: parent %q does not exist", parent)
		}
		indexKey := parent + "|" + pad(int64(spec.CallIndex))
		if tx.Bucket(bucketCallsByParent).Get([]byte(indexKey)) != nil {
			return fmt.Errorf("landscape: (parent, call_index) %s/%d already recorded", parent, spec.CallIndex)
		}
		var newErr error
		if spec.StateID != "" {
			call, newErr = model.NewCall(callID, spec.StateID, spec.CallIndex, spec.CallType, spec.Status, requestHash, responseHash, spec.LatencyMS, spec.Error)
		} else {
			call, newErr = model.NewOperationCall(callID, spec.OperationID, spec.CallIndex, spec.CallType, spec.Status, requestHash, responseHash, spec.LatencyMS, spec.Error)
		}
		if newErr != nil {
			return newErr
		}
		if err := put(tx, bucketCalls, callID, call); err != nil {
			return err
		}
		return tx.Bucket(bucketCallsByParent).Put([]byte(indexKey), []byte(callID))
	})
	if err != nil {
		return nil, fmt.Errorf("landscape: record_call failed: %w", err)
	}
	return call, nil
}

func callsForParent(tx *bolt.Tx, parent string) ([]*model.Call, error) {
	c := tx.Bucket(bucketCallsByParent).Cursor()
	prefix := []byte(parent + "|")
	var out []*model.Call
	for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
		var call model.Call
		ok, err := get(tx, bucketCalls, string(v), &call)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, &call)
		}
	}
	return out, nil
}

// ---- Operation ----

func (s *Store) BeginOperation(runID, nodeID string, opType model.OperationType) (*model.Operation, error) {
	op := model.BeginOperation(uuid.New().String(), runID, nodeID, opType)
	err := s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketOperations, op.OperationID, op)
	})
	if err != nil {
		return nil, fmt.Errorf("landscape: begin_operation failed: %w", err)
	}
	return op, nil
}

func (s *Store) CompleteOperation(operationID string, completion landscape.OperationCompletion) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var op model.Operation
		ok, err := get(tx, bucketOperations, operationID, &op)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("landscape: operation %q not found", operationID)
		}
		if err := op.Complete(completion.Status, completion.DurationMS, completion.InputDataRef, completion.OutputDataRef, completion.ErrorMessage); err != nil {
			return err
		}
		return put(tx, bucketOperations, operationID, &op)
	})
}

// ---- TokenOutcome ----

func (s *Store) RecordTokenOutcome(runID, tokenID string, outcome model.RowOutcome, opts model.TokenOutcomeOptions) (*model.TokenOutcome, error) {
	outcomeID := uuid.New().String()
	to, err := model.NewTokenOutcome(outcomeID, runID, tokenID, outcome, opts)
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		if to.IsTerminal {
			existing, err := latestOutcomeForToken(tx, tokenID)
			if err != nil {
				return err
			}
			if existing != nil && existing.IsTerminal {
				return fmt.Errorf("landscape: token %q already has a terminal outcome (%s)", tokenID, existing.Outcome)
			}
		}
		if err := put(tx, bucketTokenOutcomes, outcomeID, to); err != nil {
			return err
		}
		seq, err := tx.Bucket(bucketOutcomesByToken).NextSequence()
		if err != nil {
			return err
		}
		indexKey := tokenID + "|" + pad(int64(seq)) + "|" + outcomeID
		return tx.Bucket(bucketOutcomesByToken).Put([]byte(indexKey), []byte(outcomeID))
	})
	if err != nil {
		return nil, fmt.Errorf("landscape: record_token_outcome failed: %w", err)
	}
	return to, nil
}

func latestOutcomeForToken(tx *bolt.Tx, tokenID string) (*model.TokenOutcome, error) {
	c := tx.Bucket(bucketOutcomesByToken).Cursor()
	prefix := []byte(tokenID + "|")
	var latestID string
	for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
		latestID = string(v)
	}
	if latestID == "" {
		return nil, nil
	}
	var to model.TokenOutcome
	ok, err := get(tx, bucketTokenOutcomes, latestID, &to)
	if err != nil || !ok {
		return nil, err
	}
	return &to, nil
}

func (s *Store) GetTokenOutcome(tokenID string) (*model.TokenOutcome, error) {
	var result *model.TokenOutcome
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOutcomesByToken).Cursor()
		prefix := []byte(tokenID + "|")
		var terminal, latest *model.TokenOutcome
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var to model.TokenOutcome
			ok, err := get(tx, bucketTokenOutcomes, string(v), &to)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			latest = &to
			if to.IsTerminal {
				terminal = &to
			}
		}
		if terminal != nil {
			result = terminal
		} else {
			result = latest
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ---- Artifact / RoutingEvent ----

func (s *Store) RecordArtifact(artifact *model.Artifact) error {
	if artifact.ArtifactID == "" {
		artifact.ArtifactID = uuid.New().String()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketArtifacts, artifact.ArtifactID, artifact)
	})
}

func (s *Store) RecordRoutingEvent(event *model.RoutingEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketRoutingEvents, event.EventID, event)
	})
}

// ---- Batch ----

func (s *Store) CreateBatch(batch *model.Batch) error {
	if batch.BatchID == "" {
		batch.BatchID = uuid.New().String()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketBatches, batch.BatchID, batch)
	})
}

func (s *Store) AddBatchMember(member model.BatchMember) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketBatchMembers, member.BatchID+"|"+pad(int64(member.Ordinal)), member)
	})
}

func (s *Store) CompleteBatch(batchID string, status model.BatchStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var b model.Batch
		ok, err := get(tx, bucketBatches, batchID, &b)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("landscape: batch %q not found", batchID)
		}
		members, err := membersOf(tx, batchID)
		if err != nil {
			return err
		}
		if (status == model.BatchCompleted) && len(members) == 0 {
			return fmt.Errorf("landscape: cannot complete batch %q with zero members", batchID)
		}
		b.Status = status
		return put(tx, bucketBatches, batchID, &b)
	})
}

func (s *Store) GetBatch(batchID string) (*model.Batch, error) {
	var b model.Batch
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := get(tx, bucketBatches, batchID, &b)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("landscape: batch %q not found", batchID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func membersOf(tx *bolt.Tx, batchID string) ([]model.BatchMember, error) {
	c := tx.Bucket(bucketBatchMembers).Cursor()
	prefix := []byte(batchID + "|")
	var out []model.BatchMember
	for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
		var m model.BatchMember
		if err := json.Unmarshal(v, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) BatchMembers(batchID string) ([]model.BatchMember, error) {
	var out []model.BatchMember
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = membersOf(tx, batchID)
		return err
	})
	return out, err
}

func (s *Store) AddBatchOutput(output model.BatchOutput) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		seq, err := tx.Bucket(bucketBatchOutputs).NextSequence()
		if err != nil {
			return err
		}
		return put(tx, bucketBatchOutputs, output.BatchID+"|"+pad(int64(seq)), output)
	})
}

// ---- Checkpoint ----

func (s *Store) CreateCheckpoint(cp *model.Checkpoint) error {
	if cp.CheckpointID == "" {
		cp.CheckpointID = uuid.New().String()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketCheckpoints, cp.RunID+"|"+pad(cp.SequenceNumber)+"|"+cp.CheckpointID, cp)
	})
}

func (s *Store) GetLatestCheckpoint(runID string) (*model.Checkpoint, error) {
	var latest *model.Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCheckpoints).Cursor()
		prefix := []byte(runID + "|")
		var lastValue []byte
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			lastValue = v
		}
		if lastValue == nil {
			return nil
		}
		var cp model.Checkpoint
		if err := json.Unmarshal(lastValue, &cp); err != nil {
			return err
		}
		latest = &cp
		return nil
	})
	return latest, err
}

func (s *Store) GetCheckpoints(runID string) ([]*model.Checkpoint, error) {
	var out []*model.Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCheckpoints).Cursor()
		prefix := []byte(runID + "|")
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var cp model.Checkpoint
			if err := json.Unmarshal(v, &cp); err != nil {
				return err
			}
			out = append(out, &cp)
		}
		return nil
	})
	return out, err
}

func (s *Store) DeleteCheckpoints(runID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCheckpoints)
		c := b.Cursor()
		prefix := []byte(runID + "|")
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ---- Operational error records ----

func (s *Store) RecordValidationError(rec *model.ValidationErrorRecord) error {
	if rec.ErrorID == "" {
		rec.ErrorID = uuid.New().String()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		var row model.Row
		if rec.RowID != "" {
			ok, err := get(tx, bucketRows, rec.RowID, &row)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("landscape: validation error references unknown row %q", rec.RowID)
			}
		}
		return put(tx, bucketValidationErrors, rec.ErrorID, rec)
	})
}

func (s *Store) RecordTransformError(rec *model.TransformErrorRecord) error {
	if rec.ErrorID == "" {
		rec.ErrorID = uuid.New().String()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		var tok model.Token
		ok, err := get(tx, bucketTokens, rec.TokenID, &tok)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("landscape: transform error references unknown token %q", rec.TokenID)
		}
		return put(tx, bucketTransformErrors, rec.ErrorID, rec)
	})
}

// ---- Lineage ----

func (s *Store) Explain(tokenID string) (*landscape.LineageResult, error) {
	var result landscape.LineageResult
	err := s.db.View(func(tx *bolt.Tx) error {
		var tok model.Token
		ok, err := get(tx, bucketTokens, tokenID, &tok)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("landscape: token %q not found", tokenID)
		}
		result.RowID = tok.RowID
		chain, err := tokenChain(tx, &tok)
		if err != nil {
			return err
		}
		result.TokenChain = chain

		states, err := nodeStatesForToken(tx, tokenID)
		if err != nil {
			return err
		}
		sort.Slice(states, func(i, j int) bool {
			if states[i].StepIndex != states[j].StepIndex {
				return states[i].StepIndex < states[j].StepIndex
			}
			return states[i].Attempt < states[j].Attempt
		})
		result.NodeStates = states

		var calls []*model.Call
		for _, st := range states {
			stCalls, err := callsForParent(tx, st.StateID)
			if err != nil {
				return err
			}
			calls = append(calls, stCalls...)
		}
		result.Calls = calls

		outcome, err := latestOutcomeForToken(tx, tokenID)
		if err != nil {
			return err
		}
		result.TerminalOutcome = outcome
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func tokenChain(tx *bolt.Tx, tok *model.Token) ([]*model.Token, error) {
	chain := []*model.Token{tok}
	return chain, nil
}

// ExplainRow reconstructs lineage by row id, disambiguating by sink
// when more than one token for that row reached a terminal outcome.
func (s *Store) ExplainRow(runID, rowID, sink string) (*landscape.LineageResult, error) {
	var candidateTokenIDs []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(k, v []byte) error {
			var tok model.Token
			if err := json.Unmarshal(v, &tok); err != nil {
				return err
			}
			if tok.RowID == rowID {
				candidateTokenIDs = append(candidateTokenIDs, tok.TokenID)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, tid := range candidateTokenIDs {
		outcome, err := s.GetTokenOutcome(tid)
		if err != nil {
			return nil, err
		}
		if outcome == nil || !outcome.IsTerminal {
			continue
		}
		if sink != "" && outcome.SinkName != sink {
			continue
		}
		matches = append(matches, tid)
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("landscape: no terminal lineage found for row %q", rowID)
	}
	if len(matches) > 1 {
		return nil, &landscape.AmbiguousLineage{RunID: runID, RowID: rowID, Sink: sink}
	}
	return s.Explain(matches[0])
}

// Dump collects every record belonging to runID for export. Most
// record types carry run_id directly; token/node_state/call-level
// records are joined transitively through row -> token -> node_state
// since they only carry their immediate parent's id (spec §3's
// "replay, don't duplicate, foreign keys" shape).
func (s *Store) Dump(runID string) (*landscape.AuditDump, error) {
	dump := &landscape.AuditDump{}
	err := s.db.View(func(tx *bolt.Tx) error {
		var run model.Run
		ok, err := get(tx, bucketRuns, runID, &run)
		if err != nil {
			return err
		}
		if ok {
			dump.Runs = append(dump.Runs, &run)
		}

		if err := tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var n model.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if n.RunID == runID {
				dump.Nodes = append(dump.Nodes, &n)
			}
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(bucketEdges).ForEach(func(k, v []byte) error {
			var e model.Edge
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.RunID == runID {
				dump.Edges = append(dump.Edges, &e)
			}
			return nil
		}); err != nil {
			return err
		}

		rowIDs := map[string]bool{}
		if err := tx.Bucket(bucketRows).ForEach(func(k, v []byte) error {
			var r model.Row
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.RunID == runID {
				dump.Rows = append(dump.Rows, &r)
				rowIDs[r.RowID] = true
			}
			return nil
		}); err != nil {
			return err
		}

		tokenIDs := map[string]bool{}
		if err := tx.Bucket(bucketTokens).ForEach(func(k, v []byte) error {
			var t model.Token
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if rowIDs[t.RowID] {
				dump.Tokens = append(dump.Tokens, &t)
				tokenIDs[t.TokenID] = true
			}
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(bucketTokenParents).ForEach(func(k, v []byte) error {
			var tp model.TokenParent
			if err := json.Unmarshal(v, &tp); err != nil {
				return err
			}
			if tokenIDs[tp.TokenID] {
				dump.TokenParents = append(dump.TokenParents, tp)
			}
			return nil
		}); err != nil {
			return err
		}

		stateIDs := map[string]bool{}
		if err := tx.Bucket(bucketNodeStates).ForEach(func(k, v []byte) error {
			var ns model.NodeState
			if err := json.Unmarshal(v, &ns); err != nil {
				return err
			}
			if tokenIDs[ns.TokenID] {
				dump.NodeStates = append(dump.NodeStates, &ns)
				stateIDs[ns.StateID] = true
			}
			return nil
		}); err != nil {
			return err
		}

		opIDs := map[string]bool{}
		if err := tx.Bucket(bucketOperations).ForEach(func(k, v []byte) error {
			var op model.Operation
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			if op.RunID == runID {
				dump.Operations = append(dump.Operations, &op)
				opIDs[op.OperationID] = true
			}
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(bucketCalls).ForEach(func(k, v []byte) error {
			var c model.Call
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if stateIDs[c.StateID] || opIDs[c.OperationID] {
				dump.Calls = append(dump.Calls, &c)
			}
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(bucketArtifacts).ForEach(func(k, v []byte) error {
			var a model.Artifact
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.RunID == runID {
				dump.Artifacts = append(dump.Artifacts, &a)
			}
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(bucketRoutingEvents).ForEach(func(k, v []byte) error {
			var re model.RoutingEvent
			if err := json.Unmarshal(v, &re); err != nil {
				return err
			}
			if stateIDs[re.StateID] {
				dump.RoutingEvents = append(dump.RoutingEvents, &re)
			}
			return nil
		}); err != nil {
			return err
		}

		batchIDs := map[string]bool{}
		if err := tx.Bucket(bucketBatches).ForEach(func(k, v []byte) error {
			var b model.Batch
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if b.RunID == runID {
				dump.Batches = append(dump.Batches, &b)
				batchIDs[b.BatchID] = true
			}
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(bucketBatchMembers).ForEach(func(k, v []byte) error {
			var m model.BatchMember
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if batchIDs[m.BatchID] {
				dump.BatchMembers = append(dump.BatchMembers, m)
			}
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(bucketBatchOutputs).ForEach(func(k, v []byte) error {
			var o model.BatchOutput
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			if batchIDs[o.BatchID] {
				dump.BatchOutputs = append(dump.BatchOutputs, o)
			}
			return nil
		}); err != nil {
			return err
		}

		c := tx.Bucket(bucketCheckpoints).Cursor()
		prefix := []byte(runID + "|")
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var cp model.Checkpoint
			if err := json.Unmarshal(v, &cp); err != nil {
				return err
			}
			dump.Checkpoints = append(dump.Checkpoints, &cp)
		}

		if err := tx.Bucket(bucketTokenOutcomes).ForEach(func(k, v []byte) error {
			var to model.TokenOutcome
			if err := json.Unmarshal(v, &to); err != nil {
				return err
			}
			if to.RunID == runID {
				dump.TokenOutcomes = append(dump.TokenOutcomes, &to)
			}
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(bucketValidationErrors).ForEach(func(k, v []byte) error {
			var ve model.ValidationErrorRecord
			if err := json.Unmarshal(v, &ve); err != nil {
				return err
			}
			if ve.RunID == runID {
				dump.ValidationErrors = append(dump.ValidationErrors, &ve)
			}
			return nil
		}); err != nil {
			return err
		}

		return tx.Bucket(bucketTransformErrors).ForEach(func(k, v []byte) error {
			var te model.TransformErrorRecord
			if err := json.Unmarshal(v, &te); err != nil {
				return err
			}
			if te.RunID == runID {
				dump.TransformErrors = append(dump.TransformErrors, &te)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("landscape: dump failed: %w", err)
	}
	return dump, nil
}
