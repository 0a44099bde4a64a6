package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretShapeMasker_Name(t *testing.T) {
	m := &SecretShapeMasker{}
	assert.Equal(t, "secret_shapes", m.Name())
}

func TestSecretShapeMasker_AppliesTo(t *testing.T) {
	m := &SecretShapeMasker{}

	assert.True(t, m.AppliesTo(`{"password": "hunter2"}`))
	assert.True(t, m.AppliesTo("api_key: abc123"))
	assert.False(t, m.AppliesTo(`{"name": "run-1"}`))
}

func TestSecretShapeMasker_Mask_JSON(t *testing.T) {
	m := &SecretShapeMasker{}
	input := `{"scope_id":"s1","credentials":{"password":"hunter2","api_key":"abc123"}}`

	out := m.Mask(input)

	assert.Contains(t, out, `"password":"[MASKED]"`)
	assert.Contains(t, out, `"api_key":"[MASKED]"`)
	assert.Contains(t, out, `"scope_id":"s1"`)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "abc123")
}

func TestSecretShapeMasker_Mask_YAML(t *testing.T) {
	m := &SecretShapeMasker{}
	input := "scope_id: s1\ncredentials:\n  token: abc123\n"

	out := m.Mask(input)

	assert.Contains(t, out, "token: '[MASKED]'")
	assert.NotContains(t, out, "abc123")
	assert.Contains(t, out, "scope_id: s1")
}

func TestSecretShapeMasker_Mask_UnparseableReturnsUnchanged(t *testing.T) {
	m := &SecretShapeMasker{}
	input := "password: [1, 2"

	out := m.Mask(input)

	assert.Equal(t, input, out)
}

func TestSecretShapeMasker_Mask_NoSecretFieldsReturnsUnchanged(t *testing.T) {
	m := &SecretShapeMasker{}
	input := `{"scope_id":"s1","name":"run-1"}`

	out := m.Mask(input)

	assert.Equal(t, input, out)
}
