package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/pillminder/internal/errors"
	"github.com/gmsas95/pillminder/internal/security"
)

// limitActions throttles dose actions so a burst of repeated taps cannot
// queue up behind the per-medicine lock.
func (s *Server) limitActions() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.actions != nil && !s.actions.Allow() {
			s.deps.Metrics.RecordRequestBlocked()
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too many actions, slow down"})
		}
		return c.Next()
	}
}

var statusByCode = map[string]int{
	errors.CodeValidation:       fiber.StatusBadRequest,
	errors.CodeNotFound:         fiber.StatusNotFound,
	errors.CodePermissionDenied: fiber.StatusForbidden,
	errors.CodeAlreadyTaken:     fiber.StatusConflict,
	errors.CodeScanFailed:       fiber.StatusBadGateway,
	errors.CodeAlertFailed:      fiber.StatusBadGateway,
}

// fail writes err as a JSON error. Validation failures carry their field
// messages; unexpected errors are logged and hidden behind a generic text.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	var verr *security.ValidationError
	if errors.As(err, &verr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation failed", "fields": verr.Fields})
	}

	status, ok := statusByCode[errors.GetCode(err)]
	if !ok {
		s.logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	msg := err.Error()
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
