package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeIDFromPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    string
	}{
		{name: "scope present", payload: []byte(`{"scope_id":"case-42","other":1}`), want: "case-42"},
		{name: "scope absent", payload: []byte(`{"other":1}`), want: ""},
		{name: "invalid json", payload: []byte(`not json`), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scopeIDFromPayload(tt.payload))
		})
	}
}
