package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/framewell/studio-qc-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
	// Result carries any partial output gathered before the failure.
	Result any `json:"result,omitempty"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondServiceError unwraps the service-layer error shape; anything else
// degrades to a plain 500.
func RespondServiceError(c *gin.Context, err error) {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		RespondError(c, ae.Status, ae.Code, ae.Err)
		return
	}
	RespondError(c, http.StatusInternalServerError, "internal", err)
}

// RespondServiceErrorWithResult is RespondServiceError plus a partial result
// in the body, for operations that produce usable output before failing.
func RespondServiceErrorWithResult(c *gin.Context, err error, result any) {
	status, code := http.StatusInternalServerError, "internal"
	var ae *apierr.Error
	if errors.As(err, &ae) {
		status, code = ae.Status, ae.Code
		err = ae.Err
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error:  APIError{Message: msg, Code: code},
		Result: result,
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
