package handler

import (
	"errors"

	"orchid-tracker/internal/core/logger"
	"orchid-tracker/internal/features/shipments/domain"
	"orchid-tracker/internal/features/shipments/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// TrackingHandler handles the public tracking lookup.
type TrackingHandler struct {
	trackingService *service.TrackingService
}

// NewTrackingHandler creates a new TrackingHandler.
func NewTrackingHandler(trackingService *service.TrackingService) *TrackingHandler {
	return &TrackingHandler{
		trackingService: trackingService,
	}
}

// ErrorResponse represents an error response with Ray ID.
type ErrorResponse struct {
	// Message is the error description.
	Message string `json:"message"`
	// RayID is the unique request identifier for tracing.
	RayID string `json:"ray_id,omitempty"`
}

func rayID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}

// GetShipment godoc
// @Summary Track a shipment
// @Description Returns the shipment record for a tracking number (OM followed by nine digits)
// @Tags tracking
// @Produce json
// @Param number path string true "Tracking Number"
// @Success 200 {object} domain.ShipmentRecord
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /tracking/{number} [get]
func (h *TrackingHandler) GetShipment(c *fiber.Ctx) error {
	record, err := h.trackingService.Track(c.Context(), c.Params("number"))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTrackingNumber) {
			// The wrapped message names which format rule was broken.
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Message: err.Error(),
				RayID:   rayID(c),
			})
		}
		if errors.Is(err, domain.ErrShipmentNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Message: "no shipment found for this tracking number",
				RayID:   rayID(c),
			})
		}

		logger.Get().Error("Tracking lookup failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Message: "internal server error",
			RayID:   rayID(c),
		})
	}

	return c.JSON(record)
}
