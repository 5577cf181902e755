package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeUnionsFieldsAndOrsLocked(t *testing.T) {
	a := NewContract(ModeStrict, []FieldContract{
		{NormalizedName: "id", OriginalName: "ID", PythonType: "int", Required: true, Source: SourceDeclared},
	}, false)
	b := NewContract(ModeFree, []FieldContract{
		{NormalizedName: "name", OriginalName: "Name", PythonType: "str", Required: false, Source: SourceInferred},
	}, true)

	merged, err := Merge(a, b)
	require.NoError(t, err)
	assert.True(t, merged.Locked)
	assert.Equal(t, ModeStrict, merged.Mode)
	assert.Len(t, merged.Fields, 2)

	f, ok := merged.FieldByNormalizedName("id")
	require.True(t, ok)
	assert.True(t, f.Required)
}

func TestMergeConflictingTypeErrors(t *testing.T) {
	a := NewContract(ModeFree, []FieldContract{{NormalizedName: "x", PythonType: "int"}}, false)
	b := NewContract(ModeFree, []FieldContract{{NormalizedName: "x", PythonType: "str"}}, false)

	_, err := Merge(a, b)
	require.Error(t, err)
	var mergeErr *ContractMergeError
	require.ErrorAs(t, err, &mergeErr)
	assert.Equal(t, "x", mergeErr.NormalizedName)
}

func TestPropagateWithoutNewFieldsReturnsAsIs(t *testing.T) {
	in := NewContract(ModeStrict, []FieldContract{{NormalizedName: "id", PythonType: "int"}}, false)
	out := Propagate(in, false, []string{"id", "extra"})
	assert.Len(t, out.Fields, 1)
}

func TestPropagateAddsInferredFields(t *testing.T) {
	in := NewContract(ModeStrict, []FieldContract{{NormalizedName: "id", PythonType: "int"}}, false)
	out := Propagate(in, true, []string{"id", "computed"})
	require.Len(t, out.Fields, 2)

	f, ok := out.FieldByNormalizedName("computed")
	require.True(t, ok)
	assert.Equal(t, SourceInferred, f.Source)
	assert.Equal(t, "computed", f.OriginalName)
}

func TestPipelineRowDualAccess(t *testing.T) {
	c := NewContract(ModeFree, []FieldContract{{NormalizedName: "user_id", OriginalName: "UserID", PythonType: "int"}}, false)
	row := NewPipelineRow(map[string]any{"user_id": 42.0}, c)

	v, ok := row.Get("user_id")
	require.True(t, ok)
	assert.Equal(t, 42.0, v)

	v, ok = row.GetOriginal("UserID")
	require.True(t, ok)
	assert.Equal(t, 42.0, v)
}

func TestNewContractInvalidModePanics(t *testing.T) {
	assert.Panics(t, func() {
		NewContract(Mode("BOGUS"), nil, false)
	})
}
