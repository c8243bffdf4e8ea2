package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/book-expert/media-service/internal/core"
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// respondError maps err onto the job error taxonomy and writes it.
func respondError(c *gin.Context, err error) {
	jobErr, ok := core.AsJobError(err)
	if !ok {
		jobErr = core.NewResourceError("internal server error", err)
	}

	_ = c.Error(err)

	c.AbortWithStatusJSON(jobErr.HTTPStatus(), ErrorResponse{
		Error:   jobErr.Message,
		Details: jobErr.Details,
	})
}

// uploadError classifies a failure to read a multipart field.
func uploadError(err error, missingMessage string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return core.NewValidationError(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	}

	if errors.Is(err, http.ErrMissingFile) {
		return core.NewValidationError(missingMessage)
	}

	return core.NewValidationError(fmt.Sprintf("%s: %v", missingMessage, err))
}
