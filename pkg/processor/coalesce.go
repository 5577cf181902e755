package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/landscape/pkg/graph"
	"github.com/cuemby/landscape/pkg/landscape"
	"github.com/cuemby/landscape/pkg/model"
	"github.com/cuemby/landscape/pkg/schema"
)

// CoalescePolicy decides how many of a coalesce node's incoming
// branches must arrive before it fires (spec §4.I.5.a).
type CoalescePolicy string

const (
	CoalesceRequireAll CoalescePolicy = "require_all"
	CoalesceQuorum     CoalescePolicy = "quorum"
	CoalesceBestEffort CoalescePolicy = "best_effort"
	CoalesceFirst      CoalescePolicy = "first"
)

// MergeStrategy decides how arrived branch rows are combined into one
// output row (spec §4.I.5.b).
type MergeStrategy string

const (
	MergeUnion  MergeStrategy = "union"
	MergeNested MergeStrategy = "nested"
	MergeSelect MergeStrategy = "select"
)

// CoalesceConfig is the join policy for one coalesce node; supplied by
// the caller constructing the Processor since, like aggregation
// triggers, it is plugin-instance configuration rather than graph
// topology.
type CoalesceConfig struct {
	Policy          CoalescePolicy
	ExpectedParents int           // required for require_all and best_effort's fast path
	Quorum          int           // required for quorum
	Timeout         time.Duration // 0 disables the timeout fallback for quorum/best_effort
	MergeStrategy   MergeStrategy
	NextEdgeLabel   string
}

// coalesceJoin is the pending-join state for one row's branches
// arriving at a coalesce node. Keyed by nodeID+rowID since all forked
// branches of a row share its RowID regardless of which fork_group_id
// produced them.
type coalesceJoin struct {
	nodeID    string
	rowID     string
	groupID   string
	members   []bufferedToken
	firstSeen time.Time
	cfg       CoalesceConfig
	completed bool
}

func coalesceKey(nodeID, rowID string) string { return nodeID + "\x00" + rowID }

// processCoalesce implements spec §4.I.5: buffer the incoming branch
// under its row's join, and fire once the configured policy is
// satisfied. A branch arriving after its join already fired (a
// straggler under quorum/best_effort, or any non-first branch under
// the "first" policy) is recorded COALESCED against the same
// join_group_id but does not affect the already-emitted output.
func (p *Processor) processCoalesce(ctx context.Context, token *model.Token, info graph.NodeInfo) error {
	cfg, ok := p.coalesceConfigs[info.ID]
	if !ok {
		return fmt.Errorf("processor: %w", model.NewEngineError(model.ErrOrchestrationInvariant, fmt.Sprintf("coalesce node %q has no configured join policy", info.ID), false, nil))
	}
	row, contract, err := p.loadRow(token)
	if err != nil {
		return err
	}

	key := coalesceKey(info.ID, token.RowID)
	join := p.coalesces[key]
	if join == nil {
		join = &coalesceJoin{nodeID: info.ID, rowID: token.RowID, groupID: newCallID(), cfg: cfg, firstSeen: nowUTC()}
		p.coalesces[key] = join
	}

	if join.completed {
		_, err := p.store.RecordTokenOutcome(p.runID, token.TokenID, model.OutcomeCoalesced, model.TokenOutcomeOptions{JoinGroupID: join.groupID})
		return err
	}

	join.members = append(join.members, bufferedToken{token: token, row: row, contract: contract})

	switch cfg.Policy {
	case CoalesceFirst:
		return p.completeCoalesce(ctx, join)
	case CoalesceRequireAll:
		if cfg.ExpectedParents > 0 && len(join.members) >= cfg.ExpectedParents {
			return p.completeCoalesce(ctx, join)
		}
	case CoalesceQuorum:
		if cfg.Quorum > 0 && len(join.members) >= cfg.Quorum {
			return p.completeCoalesce(ctx, join)
		}
	case CoalesceBestEffort:
		if cfg.ExpectedParents > 0 && len(join.members) >= cfg.ExpectedParents {
			return p.completeCoalesce(ctx, join)
		}
	default:
		return fmt.Errorf("processor: coalesce %q has unknown policy %q", info.ID, cfg.Policy)
	}
	return nil
}

// CheckCoalesceTimeouts fires any quorum/best_effort join whose
// timeout has elapsed since its first branch arrived, the way
// CheckAggregationTimeouts does for aggregation buffers. require_all
// and first joins never time out: require_all has no partial result
// to offer, and first has already fired by definition.
func (p *Processor) CheckCoalesceTimeouts(ctx context.Context, now time.Time) error {
	for _, join := range p.coalesces {
		if join.completed || join.cfg.Timeout <= 0 || len(join.members) == 0 {
			continue
		}
		if join.cfg.Policy != CoalesceQuorum && join.cfg.Policy != CoalesceBestEffort {
			continue
		}
		if now.Sub(join.firstSeen) >= join.cfg.Timeout {
			if err := p.completeCoalesce(ctx, join); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Processor) completeCoalesce(ctx context.Context, join *coalesceJoin) error {
	row, contract, err := mergeMembers(join.cfg.MergeStrategy, join.members)
	if err != nil {
		return fmt.Errorf("processor: merge coalesce %q: %w", join.nodeID, err)
	}

	parents := make([]string, len(join.members))
	for i, m := range join.members {
		parents[i] = m.token.TokenID
	}

	child, err := p.store.CreateToken(landscape.TokenSpec{
		RowID: join.members[0].token.RowID, Parents: parents, JoinGroupID: join.groupID,
	})
	if err != nil {
		return fmt.Errorf("processor: create coalesced token: %w", err)
	}
	p.SeedRow(child.TokenID, row, contract)

	for _, m := range join.members {
		if _, err := p.store.RecordTokenOutcome(p.runID, m.token.TokenID, model.OutcomeCoalesced, model.TokenOutcomeOptions{JoinGroupID: join.groupID}); err != nil {
			return fmt.Errorf("processor: record COALESCED outcome: %w", err)
		}
	}

	join.completed = true
	return p.advance(ctx, child, join.nodeID, join.cfg.NextEdgeLabel)
}

// mergeMembers combines the rows buffered for one join according to
// strategy. union takes the field-level union of every branch's
// contract and data, with a later branch's value winning on key
// collision; nested preserves each branch under its own key (named by
// the token's fork branch label, falling back to its ordinal); select
// simply takes the first-arrived branch verbatim.
func mergeMembers(strategy MergeStrategy, members []bufferedToken) (map[string]any, *schema.Contract, error) {
	switch strategy {
	case MergeSelect, "":
		return members[0].row, members[0].contract, nil

	case MergeNested:
		out := make(map[string]any, len(members))
		for i, m := range members {
			branch := m.token.Branch
			if branch == "" {
				branch = fmt.Sprintf("branch_%d", i)
			}
			out[branch] = m.row
		}
		return out, schema.NewContract(schema.ModeFree, nil, false), nil

	case MergeUnion:
		merged := make(map[string]any)
		var contract *schema.Contract
		for _, m := range members {
			for k, v := range m.row {
				merged[k] = v
			}
			c := m.contract
			if c == nil {
				c = schema.NewContract(schema.ModeFree, nil, false)
			}
			if contract == nil {
				contract = c
				continue
			}
			merged2, err := schema.Merge(contract, c)
			if err != nil {
				return nil, nil, err
			}
			contract = merged2
		}
		if contract == nil {
			contract = schema.NewContract(schema.ModeFree, nil, false)
		}
		return merged, contract, nil

	default:
		return nil, nil, fmt.Errorf("unknown merge strategy %q", strategy)
	}
}
