package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"tutor-realtime/internal/dualwrite"
)

// respondError maps coordinator errors onto HTTP statuses. Partial dual
// writes and unexpected failures are logged, validation faults are not.
func respondError(c *gin.Context, log zerolog.Logger, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dualwrite.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, dualwrite.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, dualwrite.ErrNotFound):
		status = http.StatusNotFound
	}
	if status != http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	log.Error().Err(err).
		Str("request_id", requestIDFromContext(c)).
		Str("path", c.FullPath()).
		Msg(msg)
	c.JSON(status, gin.H{"error": msg})
}
