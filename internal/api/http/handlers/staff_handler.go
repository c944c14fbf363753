package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/staff-store/internal/api/dto"
	"github.com/spec-kit/staff-store/internal/observability"
	"github.com/spec-kit/staff-store/internal/service"
)

// StaffHandler exposes the record collection and the public artifact.
type StaffHandler struct {
	store    *service.StoreService
	staff    *service.StaffService
	exporter *service.ExportService
	metrics  *observability.Metrics
}

// NewStaffHandler constructs handler.
func NewStaffHandler(store *service.StoreService, staff *service.StaffService, exporter *service.ExportService, metrics *observability.Metrics) *StaffHandler {
	return &StaffHandler{store: store, staff: staff, exporter: exporter, metrics: metrics}
}

// List handles GET /api/staff.
func (h *StaffHandler) List(c *fiber.Ctx) error {
	records, meta, tier := h.store.ReadDocument(c.UserContext())
	return c.JSON(fiber.Map{
		"data": records,
		"meta": dto.CollectionMeta{
			Tier:        tier,
			Revision:    meta.Revision,
			LastUpdated: meta.LastUpdated,
			Count:       len(records),
		},
	})
}

// Replace handles PUT /api/staff.
func (h *StaffHandler) Replace(c *fiber.Ctx) error {
	var req dto.ReplaceStaffRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Staff == nil {
		return fiber.NewError(http.StatusBadRequest, "staff array required")
	}

	saved, err := h.staff.Replace(c.UserContext(), req.Staff)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": saved})
}

// Get handles GET /api/staff/records/:id.
func (h *StaffHandler) Get(c *fiber.Ctx) error {
	rec, err := h.staff.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": rec})
}

// Create handles POST /api/staff/records.
func (h *StaffHandler) Create(c *fiber.Ctx) error {
	var req dto.StaffRecordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	rec, err := h.staff.Add(c.UserContext(), req.ToRecord())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": rec})
}

// Update handles PUT /api/staff/records/:id.
func (h *StaffHandler) Update(c *fiber.Ctx) error {
	var req dto.StaffRecordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	rec, err := h.staff.Update(c.UserContext(), c.Params("id"), req.ToRecord())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": rec})
}

// Delete handles DELETE /api/staff/records/:id.
func (h *StaffHandler) Delete(c *fiber.Ctx) error {
	if err := h.staff.Delete(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Artifact handles GET /staff-data.json: the unencrypted public file.
func (h *StaffHandler) Artifact(c *fiber.Ctx) error {
	records, meta, _ := h.store.ReadDocument(c.UserContext())
	body, err := h.exporter.Artifact(records, meta)
	if err != nil {
		return err
	}
	if c.Query("download") != "" {
		c.Attachment(h.exporter.FileName())
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	return c.Send(body)
}

// Export handles POST /api/export: writes the artifact to the export dir.
func (h *StaffHandler) Export(c *fiber.Ctx) error {
	records, meta, _ := h.store.ReadDocument(c.UserContext())
	path, err := h.exporter.Export(records, meta)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"path": path, "count": len(records)}})
}

// Status handles GET /api/status.
func (h *StaffHandler) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"tiers":   h.store.Status(c.UserContext()),
			"metrics": h.metrics.Snapshot(),
		},
	})
}
