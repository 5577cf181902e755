/*
Package model defines the audit record types recorded by the Landscape
store: Run, Node, Edge, Row, Token, TokenParent, NodeState (a tagged
union over Open/Pending/Completed/Failed), Call, Operation, Artifact,
Batch family, RoutingEvent, Checkpoint, TokenOutcome, and the two
operational error records (ValidationErrorRecord, TransformErrorRecord).

These are the data-flow identities the engine's audit trail is built
from: every row that enters the pipeline becomes a Row, every path a
row takes through the DAG becomes one or more Tokens, and every attempt
by a token to execute a node becomes a NodeState. This package owns
record shape and small constructor-time validity checks only; reading
and writing these records transactionally is the landscape package's
job.

Enumerated fields are strictly typed. Constructors reject an invalid
enum value rather than silently accepting it: NewRun, NewNode and
NewEdge panic, while NewCall, NewTokenOutcome and the NodeState and
Operation Complete methods return an error. BeginOperation does not
check its OperationType, and Batch records have no constructor.
*/
package model
