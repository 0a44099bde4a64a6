package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/governed-swarm/swarmrt/pkg/objectstore"
	"github.com/governed-swarm/swarmrt/pkg/review"
	"github.com/governed-swarm/swarmrt/pkg/stategraph"
)

func TestWriteError_NotFoundMapsTo404(t *testing.T) {
	for _, err := range []error{review.ErrNotFound, objectstore.ErrNotFound} {
		c, rec := newTestContext(http.MethodGet, "/pending")
		writeError(c, err)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
}

func TestWriteError_WrongKindMapsTo409(t *testing.T) {
	c, rec := newTestContext(http.MethodPost, "/approve/1")
	writeError(c, review.ErrWrongKind)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWriteError_StaleEpochMapsTo409(t *testing.T) {
	c, rec := newTestContext(http.MethodPost, "/advance")
	writeError(c, stategraph.ErrStaleEpoch)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWriteError_UnknownMapsTo500WithGenericMessage(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/summary")
	writeError(c, fmt.Errorf("boom: %w", assertInternalSentinel))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal server error", body["error"])
}

var assertInternalSentinel = fmt.Errorf("unexpected failure")
