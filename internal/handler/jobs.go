package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/params"
	"github.com/vidlens/engine/internal/plugin"
	"github.com/vidlens/engine/internal/service"
	"github.com/vidlens/engine/internal/store"
	"github.com/vidlens/engine/pkg/response"
)

type JobHandler struct {
	dispatcher *service.Dispatcher
	validator  *validator.Validate
}

func NewJobHandler(d *service.Dispatcher, v *validator.Validate) *JobHandler {
	return &JobHandler{
		dispatcher: d,
		validator:  v,
	}
}

// Dispatch handles POST /api/jobs
func (h *JobHandler) Dispatch(c *fiber.Ctx) error {
	var req model.DispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(model.DispatchResponse{Error: "Invalid request body"})
	}

	if err := h.validator.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(model.DispatchResponse{Error: "Validation failed"})
	}

	result, err := h.dispatcher.Dispatch(c.UserContext(), &req)
	if err != nil {
		result.Error = err.Error()
		if isValidation(err) {
			return c.Status(fiber.StatusBadRequest).JSON(result)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(result)
	}

	if req.RunAsync() {
		return response.Accepted(c, result)
	}
	return response.OK(c, result)
}

// List handles GET /api/jobs?subjectId=
func (h *JobHandler) List(c *fiber.Ctx) error {
	subjectID := c.Query("subjectId")
	if subjectID == "" {
		return response.ValidationError(c, "subjectId is required", nil)
	}

	result, err := h.dispatcher.List(c.UserContext(), subjectID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	result, err := h.dispatcher.Status(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return writeError(c, err, "Job not found")
	}
	return response.OK(c, result)
}

// Results handles GET /api/jobs/:jobId/results
func (h *JobHandler) Results(c *fiber.Ctx) error {
	result, err := h.dispatcher.Results(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return writeError(c, err, "Job not found")
	}
	return response.OK(c, result)
}

func isValidation(err error) bool {
	for _, target := range []error{
		service.ErrInvalidRequest,
		service.ErrUnknownSubject,
		plugin.ErrUnknownJobType,
		params.ErrUnknownParameter,
		params.ErrInvalidValue,
		params.ErrMissingParameter,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func writeError(c *fiber.Ctx, err error, notFound string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return response.NotFound(c, notFound)
	case errors.Is(err, plugin.ErrUnknownJobType):
		return response.Error(c, fiber.StatusBadRequest, response.CodeUnknownJobType, err.Error(), nil)
	case isValidation(err):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, service.ErrAnalyserUnavailable):
		return response.AnalyserError(c, err.Error())
	default:
		return response.ServiceError(c, err.Error())
	}
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
