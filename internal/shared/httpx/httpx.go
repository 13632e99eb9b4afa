// Package httpx holds the fiber glue shared by every resource: the error
// handler and request decoding helpers.
package httpx

import (
	"encoding/json"
	"errors"
	"log"
	"strconv"

	"backend-ratemycoffee/internal/shared/apperr"

	"github.com/gofiber/fiber/v2"
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:   fiber.StatusUnprocessableEntity,
	apperr.KindNotFound:     fiber.StatusNotFound,
	apperr.KindConflict:     fiber.StatusConflict,
	apperr.KindUnauthorized: fiber.StatusUnauthorized,
	apperr.KindForbidden:    fiber.StatusForbidden,
	apperr.KindUpstream:     fiber.StatusBadGateway,
	apperr.KindRateLimited:  fiber.StatusTooManyRequests,
}

// Status maps an error kind to its HTTP status.
func Status(kind apperr.Kind) int {
	if code, ok := statusByKind[kind]; ok {
		return code
	}
	return fiber.StatusInternalServerError
}

// ErrorHandler renders every error as {kind, message, errors?}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
	}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		status := Status(ae.Kind)
		if status >= fiber.StatusInternalServerError {
			log.Printf("%s %s: %v", c.Method(), c.Path(), err)
		}
		if ae.RetryAfter > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(ae.RetryAfter))
		}
		return c.Status(status).JSON(ae)
	}

	log.Printf("%s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"kind":    apperr.KindInternal,
		"message": "internal server error",
	})
}

// ParamID reads a positive integer route parameter. Anything else is a
// missing resource.
func ParamID(c *fiber.Ctx, name, resource string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id < 1 {
		return 0, apperr.NotFound(resource + " not found")
	}
	return id, nil
}

// Bind decodes the request body into dst.
func Bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	return nil
}

// PresentKeys returns the top-level keys of a JSON object body. PATCH
// handlers use it to tell an explicit null apart from an absent field.
func PresentKeys(body []byte) (map[string]bool, error) {
	var raw map[string]json.RawMessage
	if len(body) == 0 {
		return map[string]bool{}, nil
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	keys := make(map[string]bool, len(raw))
	for k := range raw {
		keys[k] = true
	}
	return keys, nil
}
