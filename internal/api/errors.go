package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/sanitize"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// statusFor maps an error kind onto an HTTP status
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRateLimit:
		return http.StatusTooManyRequests
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindServiceUnavailable, domain.KindCircuitOpen:
		return http.StatusServiceUnavailable
	case domain.KindAuthentication, domain.KindNormalization, domain.KindReasoningParse, domain.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the user-visible error body. Extra fields are merged in.
func (s *Server) respondError(c *gin.Context, err error, extra gin.H) {
	kind := domain.KindOf(err)
	code := statusFor(kind)
	if ra := domain.RetryAfterOf(err); ra > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(ra.Seconds()))))
	}
	if code >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"request_id": requestID(c),
			"error_kind": kind,
			"error":      sanitize.Error(err),
		}).Warn("Request returned an error")
	}

	body := gin.H{"error": domain.APIErrorFrom(err, requestID(c))}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(code, body)
}

// bindError keeps field validation failures and reports anything else as malformed input
func bindError(err error) error {
	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		return valErr
	}
	return domain.NewValidationError("body", "malformed JSON request")
}

// structValidator runs gin's binding validation through the shared domain validator
type structValidator struct{}

func (structValidator) ValidateStruct(obj any) error {
	return domain.ValidateStruct(obj)
}

func (structValidator) Engine() any {
	return domain.Validator()
}
