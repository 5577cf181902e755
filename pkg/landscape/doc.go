/*
Package landscape defines the transactional audit-trail store contract
(Store) and its supporting spec types (NodeSpec, RowSpec, TokenSpec,
NodeStateCompletion, CallSpec, OperationCompletion, LineageResult).

The concrete bbolt-backed implementation lives in the boltdb
subpackage, one bucket per audit record type plus a handful of
secondary-index buckets whose keys are built so bbolt's native sorted
cursor iteration produces the ordering the engine needs (node_states by
step/attempt, calls by call_index, batch members by ordinal, checkpoints
by sequence number) without a query layer.

Every write is transactional. The writes that reference a parent record
check that it exists: creating a token against a row that doesn't
exist, opening a node_state for an unknown token, recording a call
against a node_state or operation that was never opened, or recording a
transform error for an unknown token (or a validation error for an
unknown row) fails the call rather than silently storing an orphan
record. The other writes (rows, nodes, edges, batches, batch members and
outputs, checkpoints, token outcomes) do not check that the run, node,
batch or token they name exists. Terminal-outcome uniqueness (spec's "at most
one terminal outcome per token") is enforced inside RecordTokenOutcome
by looking up the token's most recent outcome before writing.
*/
package landscape
