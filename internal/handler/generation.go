// Package handler exposes the HTTP surface over fiber.
package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/tracklab/api/internal/apperrors"
	"github.com/tracklab/api/internal/model"
	"github.com/tracklab/api/internal/service"
	"github.com/tracklab/api/pkg/response"
)

var validate = validator.New()

// GenerationHandler serves the job endpoints.
type GenerationHandler struct {
	svc *service.GenerationService
}

func NewGenerationHandler(svc *service.GenerationService) *GenerationHandler {
	return &GenerationHandler{svc: svc}
}

// Create handles POST /api/generate. It answers 202 immediately; the job
// runs asynchronously and is observed through the job endpoints.
func (h *GenerationHandler) Create(c *fiber.Ctx) error {
	var req model.GenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	req.ApplyDefaults()
	if err := validate.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	ack, err := h.svc.CreateJob(c.Context(), &req)
	if err != nil {
		return writeServiceError(c, err)
	}
	return response.Accepted(c, ack)
}

// Get handles GET /api/jobs/:jobId.
func (h *GenerationHandler) Get(c *fiber.Ctx) error {
	view, err := h.svc.GetJob(c.Context(), c.Params("jobId"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return response.OK(c, view)
}

// List handles GET /api/jobs with limit/offset pagination.
func (h *GenerationHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	jobs, err := h.svc.ListJobs(c.Context(), limit, offset)
	if err != nil {
		return writeServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"jobs": jobs, "count": len(jobs)})
}

// Delete handles DELETE /api/jobs/:jobId. Deletion is idempotent: a
// missing job still answers 204.
func (h *GenerationHandler) Delete(c *fiber.Ctx) error {
	if err := h.svc.DeleteJob(c.Context(), c.Params("jobId")); err != nil {
		return writeServiceError(c, err)
	}
	return response.NoContent(c)
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(c *fiber.Ctx, err error) error {
	var appErr *apperrors.Error
	message := err.Error()
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	switch {
	case errors.Is(err, apperrors.ErrValidation):
		var details interface{}
		if appErr != nil && appErr.Field != "" {
			details = []fiber.Map{{"field": appErr.Field, "message": appErr.Message}}
		}
		return response.ValidationError(c, message, details)
	case errors.Is(err, apperrors.ErrNotFound):
		return response.NotFound(c, message)
	case errors.Is(err, apperrors.ErrSubmission):
		return response.EngineError(c, message)
	default:
		return response.ServiceError(c, "Internal server error")
	}
}

func formatValidationErrors(err error) []fiber.Map {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]fiber.Map, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		out = append(out, fiber.Map{
			"field":   field,
			"message": validationMessage(fe),
		})
	}
	return out
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
