package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/governed-swarm/swarmrt/pkg/objectstore"
	"github.com/governed-swarm/swarmrt/pkg/review"
	"github.com/governed-swarm/swarmrt/pkg/stategraph"
)

// writeError maps a domain error to an HTTP status and a {error} JSON body
// (§7: "per-endpoint JSON {error} with appropriate HTTP status").
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, review.ErrNotFound), errors.Is(err, objectstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, review.ErrWrongKind):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, stategraph.ErrStaleEpoch):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slog.Error("unhandled api error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
