package schema

import "fmt"

// PipelineRow wraps a row's data alongside the Contract describing it,
// supporting lookup by either the normalized or the original field
// name (spec §3: "PipelineRow wraps a row dict plus its contract and
// supports dual access by normalized or original name").
type PipelineRow struct {
	Contract *Contract
	data     map[string]any
	origToNorm map[string]string
}

// NewPipelineRow constructs a PipelineRow from row data and its
// contract.
func NewPipelineRow(data map[string]any, contract *Contract) *PipelineRow {
	origToNorm := make(map[string]string, len(contract.Fields))
	for _, f := range contract.Fields {
		origToNorm[f.OriginalName] = f.NormalizedName
	}
	return &PipelineRow{Contract: contract, data: data, origToNorm: origToNorm}
}

// Get returns the value for a normalized field name.
func (r *PipelineRow) Get(normalizedName string) (any, bool) {
	v, ok := r.data[normalizedName]
	return v, ok
}

// GetOriginal returns the value for an original (pre-normalization)
// field name, resolved through the contract.
func (r *PipelineRow) GetOriginal(originalName string) (any, bool) {
	norm, ok := r.origToNorm[originalName]
	if !ok {
		return nil, false
	}
	return r.Get(norm)
}

// Set assigns a value under its normalized field name.
func (r *PipelineRow) Set(normalizedName string, value any) {
	r.data[normalizedName] = value
}

// Data returns the underlying row map. Set writes to this same map
// and does not change the contract.
func (r *PipelineRow) Data() map[string]any {
	return r.data
}

// ValidateRequired checks that every required field in the contract
// is present in the row, returning a descriptive error naming the
// first missing field.
func (r *PipelineRow) ValidateRequired() error {
	for _, name := range r.Contract.RequiredFields() {
		if _, ok := r.data[name]; !ok {
			return fmt.Errorf("schema: row missing required field %q", name)
		}
	}
	return nil
}
