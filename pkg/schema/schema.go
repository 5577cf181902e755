// Package schema implements the schema contract that travels with
// rows as they move through the execution graph: the declared or
// inferred field list a node guarantees about its output, and the
// merge/propagation rules that keep that contract accurate across
// transforms, coalesces and gates.
package schema

import "fmt"

// FieldSource classifies how a FieldContract's field came to be known.
type FieldSource string

const (
	SourceDeclared FieldSource = "declared"
	SourceInferred FieldSource = "inferred"
)

// FieldContract describes one field a SchemaContract guarantees.
type FieldContract struct {
	NormalizedName string
	OriginalName   string
	PythonType     string
	Required       bool
	Source         FieldSource
}

// Mode is the strictness discipline of a SchemaContract.
type Mode string

const (
	ModeStrict   Mode = "STRICT"
	ModeFree     Mode = "FREE"
	ModeDynamic  Mode = "DYNAMIC"
	ModeObserved Mode = "OBSERVED"
)

func (m Mode) valid() bool {
	switch m {
	case ModeStrict, ModeFree, ModeDynamic, ModeObserved:
		return true
	}
	return false
}

// Contract is the schema a node guarantees about the rows it emits.
// Fields are kept sorted by NormalizedName so two contracts built from
// the same field set always compare and hash identically.
type Contract struct {
	Mode   Mode
	Fields []FieldContract
	Locked bool
}

// NewContract constructs a Contract, panicking on an invalid Mode per
// the Tier-1 invariant that enum violations must crash at construction.
func NewContract(mode Mode, fields []FieldContract, locked bool) *Contract {
	if !mode.valid() {
		panic(fmt.Sprintf("schema: invalid Mode %q", mode))
	}
	c := &Contract{Mode: mode, Fields: append([]FieldContract(nil), fields...), Locked: locked}
	sortFields(c.Fields)
	return c
}

// FieldByNormalizedName returns the field contract for name, if present.
func (c *Contract) FieldByNormalizedName(name string) (FieldContract, bool) {
	for _, f := range c.Fields {
		if f.NormalizedName == name {
			return f, true
		}
	}
	return FieldContract{}, false
}

// RequiredFields returns the normalized names of every required field.
func (c *Contract) RequiredFields() []string {
	var out []string
	for _, f := range c.Fields {
		if f.Required {
			out = append(out, f.NormalizedName)
		}
	}
	return out
}

// ContractMergeError is raised when two contracts disagree on the
// python_type of a shared field.
type ContractMergeError struct {
	NormalizedName string
	TypeA, TypeB   string
}

func (e *ContractMergeError) Error() string {
	return fmt.Sprintf("schema: conflicting python_type for field %q: %q vs %q", e.NormalizedName, e.TypeA, e.TypeB)
}

// Merge implements the coalesce merge rule of spec §4.C: fields are
// unioned by normalized_name; identical field contracts merge
// unchanged; a python_type conflict on a shared field raises
// ContractMergeError; the result's locked flag is the OR of inputs.
// The merged mode is the stricter of the two inputs (STRICT dominates
// over FREE/DYNAMIC/OBSERVED, matching the conservative default a
// coalesce node should assume about its joined output).
func Merge(a, b *Contract) (*Contract, error) {
	byName := make(map[string]FieldContract)
	order := make([]string, 0, len(a.Fields)+len(b.Fields))

	add := func(f FieldContract) error {
		existing, ok := byName[f.NormalizedName]
		if !ok {
			byName[f.NormalizedName] = f
			order = append(order, f.NormalizedName)
			return nil
		}
		if existing.PythonType != f.PythonType {
			return &ContractMergeError{NormalizedName: f.NormalizedName, TypeA: existing.PythonType, TypeB: f.PythonType}
		}
		merged := existing
		merged.Required = existing.Required || f.Required
		if existing.Source == SourceDeclared || f.Source == SourceDeclared {
			merged.Source = SourceDeclared
		}
		byName[f.NormalizedName] = merged
		return nil
	}

	for _, f := range a.Fields {
		if err := add(f); err != nil {
			return nil, err
		}
	}
	for _, f := range b.Fields {
		if err := add(f); err != nil {
			return nil, err
		}
	}

	fields := make([]FieldContract, 0, len(order))
	for _, name := range order {
		fields = append(fields, byName[name])
	}

	mode := stricterMode(a.Mode, b.Mode)
	return NewContract(mode, fields, a.Locked || b.Locked), nil
}

func stricterMode(a, b Mode) Mode {
	rank := map[Mode]int{ModeObserved: 0, ModeDynamic: 1, ModeFree: 2, ModeStrict: 3}
	if rank[a] >= rank[b] {
		return a
	}
	return b
}

// Propagate implements the §4.C propagation rule for a transform: when
// transformAddsFields is false, the input contract is returned as-is
// (a copy). When true, fields present in outputFieldNames but absent
// from the input contract are appended with source=inferred and
// original_name=normalized_name.
func Propagate(input *Contract, transformAddsFields bool, outputFieldNames []string) *Contract {
	if !transformAddsFields {
		return NewContract(input.Mode, input.Fields, input.Locked)
	}
	fields := append([]FieldContract(nil), input.Fields...)
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.NormalizedName] = true
	}
	for _, name := range outputFieldNames {
		if known[name] {
			continue
		}
		fields = append(fields, FieldContract{
			NormalizedName: name,
			OriginalName:   name,
			PythonType:     "",
			Required:       false,
			Source:         SourceInferred,
		})
		known[name] = true
	}
	return NewContract(input.Mode, fields, input.Locked)
}

func sortFields(fields []FieldContract) {
	for i := 1; i < len(fields); i++ {
		for j := i; j > 0 && fields[j-1].NormalizedName > fields[j].NormalizedName; j-- {
			fields[j-1], fields[j] = fields[j], fields[j-1]
		}
	}
}
