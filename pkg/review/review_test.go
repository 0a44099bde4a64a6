package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeIDOf_ExtractsFromRawJSON(t *testing.T) {
	id, err := scopeIDOf([]byte(`{"scope_id":"scope-42","other":"field"}`))
	assert.NoError(t, err)
	assert.Equal(t, "scope-42", id)
}

func TestScopeIDOf_ErrorsWhenMissing(t *testing.T) {
	_, err := scopeIDOf([]byte(`{"other":"field"}`))
	assert.Error(t, err)
}

func TestScopeIDOf_ErrorsOnInvalidJSON(t *testing.T) {
	_, err := scopeIDOf([]byte(`not json`))
	assert.Error(t, err)
}
