package gameconfig

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	valid := []string{
		`{}`,
		`{"difficulty":"hard","player":{"lives":3,"speed":4.5,"color":"#ff00aa"}}`,
		`{"screen":{"width":800,"height":600,"fps":60},"palette":{"bg":"#000000"}}`,
		`{"custom_knob": true}`,
	}
	for _, doc := range valid {
		assert.NoError(t, Validate([]byte(doc)), doc)
	}

	invalid := []string{
		``,
		`[]`,
		`"string"`,
		`{"difficulty":"nightmare"}`,
		`{"player":{"lives":0}}`,
		`{"screen":{"width":800,"depth":3}}`,
		`{"palette":{"bg":"red"}}`,
		`{not json`,
	}
	for _, doc := range invalid {
		err := Validate([]byte(doc))
		assert.ErrorIs(t, err, ErrInvalid, doc)
	}
}

func TestValidate_TooLarge(t *testing.T) {
	doc := `{"title":"` + strings.Repeat("x", MaxDocumentBytes) + `"}`
	assert.ErrorContains(t, Validate([]byte(doc)), "exceeds")
}

func TestApplyPatch(t *testing.T) {
	doc := []byte(`{"difficulty":"easy","player":{"lives":3}}`)
	patch := []byte(`[
		{"op":"replace","path":"/difficulty","value":"hard"},
		{"op":"add","path":"/player/speed","value":6},
		{"op":"remove","path":"/player/lives"}
	]`)

	out, err := ApplyPatch(doc, patch)
	require.NoError(t, err)
	assert.JSONEq(t, `{"difficulty":"hard","player":{"speed":6}}`, string(out))
}

func TestApplyPatch_EmptyDocument(t *testing.T) {
	out, err := ApplyPatch(nil, []byte(`[{"op":"add","path":"/genre","value":"runner"}]`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"genre":"runner"}`, string(out))
}

func TestApplyPatch_Errors(t *testing.T) {
	doc := []byte(`{"difficulty":"easy"}`)

	_, err := ApplyPatch(doc, []byte(`{"op":"add"}`))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = ApplyPatch(doc, []byte(`[{"op":"remove","path":"/missing"}]`))
	assert.ErrorIs(t, err, ErrInvalid)

	// patch applies but the result breaks the schema
	_, err = ApplyPatch(doc, []byte(`[{"op":"replace","path":"/difficulty","value":"impossible"}]`))
	assert.ErrorIs(t, err, ErrInvalid)
}
