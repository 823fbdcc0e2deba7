package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/vidlens/engine/internal/model"
	"github.com/vidlens/engine/internal/service"
	"github.com/vidlens/engine/pkg/response"
)

type CatalogHandler struct {
	catalog   *service.Catalog
	validator *validator.Validate
}

func NewCatalogHandler(c *service.Catalog, v *validator.Validate) *CatalogHandler {
	return &CatalogHandler{
		catalog:   c,
		validator: v,
	}
}

// Plugins handles GET /api/plugins
func (h *CatalogHandler) Plugins(c *fiber.Ctx) error {
	return response.OK(c, h.catalog.Plugins())
}

// AnalyserPlugins handles GET /api/analyser/plugins
func (h *CatalogHandler) AnalyserPlugins(c *fiber.Ctx) error {
	result, err := h.catalog.AnalyserPlugins(c.UserContext())
	if err != nil {
		return writeError(c, err, "")
	}
	return response.OK(c, result)
}

// PutSubject handles PUT /api/subjects/:subjectId
func (h *CatalogHandler) PutSubject(c *fiber.Ctx) error {
	var subject model.Subject
	if err := c.BodyParser(&subject); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	subject.ID = c.Params("subjectId")

	if err := h.validator.Struct(&subject); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.catalog.PutSubject(c.UserContext(), &subject); err != nil {
		return writeError(c, err, "")
	}
	return response.OK(c, subject)
}

// GetSubject handles GET /api/subjects/:subjectId
func (h *CatalogHandler) GetSubject(c *fiber.Ctx) error {
	subject, err := h.catalog.GetSubject(c.UserContext(), c.Params("subjectId"))
	if err != nil {
		return writeError(c, err, "Subject not found")
	}
	return response.OK(c, subject)
}
