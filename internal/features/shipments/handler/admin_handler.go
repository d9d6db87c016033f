package handler

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"orchid-tracker/internal/core/logger"
	"orchid-tracker/internal/features/shipments/domain"
	"orchid-tracker/internal/features/shipments/reconcile"
	"orchid-tracker/internal/features/shipments/service"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const adminTokenHeader = "X-Admin-Token"

// AdminHandler handles the operator dashboard API.
type AdminHandler struct {
	adminService *service.AdminService

	feedMu    sync.Mutex
	feedSubs  map[chan reconcile.Notification]struct{}
	heartbeat time.Duration
}

// NewAdminHandler creates a new AdminHandler and attaches the notification
// fan-out to the engine feed.
func NewAdminHandler(adminService *service.AdminService, engine *reconcile.Engine) *AdminHandler {
	h := &AdminHandler{
		adminService: adminService,
		feedSubs:     make(map[chan reconcile.Notification]struct{}),
		heartbeat:    15 * time.Second,
	}
	engine.OnChange(h.fanOut)
	return h
}

// Auth is the operator-token middleware for the admin route group.
func (h *AdminHandler) Auth(c *fiber.Ctx) error {
	if !h.adminService.Authorize(c.Get(adminTokenHeader)) {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Message: "invalid admin token",
			RayID:   rayID(c),
		})
	}
	return c.Next()
}

// ListShipmentsResponse is the operator list payload.
type ListShipmentsResponse struct {
	// Shipments is the filtered, sorted shipment list.
	Shipments []domain.ShipmentRecord `json:"shipments"`
	// Highlighted lists tracking numbers with a recent change marker.
	Highlighted []string `json:"highlighted"`
}

// ListShipments godoc
// @Summary List shipments for the operator dashboard
// @Description Returns the reconciled shipment list with optional search, status filter and sorting
// @Tags admin
// @Produce json
// @Param query query string false "Search text (substring or fuzzy)"
// @Param filter query string false "Status filter, or 'all'"
// @Param sort query string false "Sort key: trackingNumber, status, origin, destination"
// @Param X-Admin-Token header string true "Operator token"
// @Success 200 {object} ListShipmentsResponse
// @Failure 401 {object} ErrorResponse
// @Router /admin/shipments [get]
func (h *AdminHandler) ListShipments(c *fiber.Ctx) error {
	shipments := h.adminService.Search(c.Query("query"), c.Query("filter"), c.Query("sort"))

	highlighted := make([]string, 0)
	for _, s := range shipments {
		if h.adminService.Highlighted(s.TrackingNumber) {
			highlighted = append(highlighted, s.TrackingNumber)
		}
	}

	return c.JSON(ListShipmentsResponse{Shipments: shipments, Highlighted: highlighted})
}

// CreateShipment godoc
// @Summary Create a shipment
// @Description Creates a shipment with a custom or generated tracking number
// @Tags admin
// @Accept json
// @Produce json
// @Param shipment body service.CreateShipmentInput true "Shipment details"
// @Param X-Admin-Token header string true "Operator token"
// @Success 201 {object} domain.ShipmentRecord
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/shipments [post]
func (h *AdminHandler) CreateShipment(c *fiber.Ctx) error {
	var input service.CreateShipmentInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Message: "invalid request body",
			RayID:   rayID(c),
		})
	}

	record, err := h.adminService.Create(c.Context(), input)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(record)
}

// AppendStatus godoc
// @Summary Append a tracking event
// @Description Adds one status event to a shipment's history
// @Tags admin
// @Accept json
// @Produce json
// @Param number path string true "Tracking Number"
// @Param event body service.AppendStatusInput true "Event details"
// @Param X-Admin-Token header string true "Operator token"
// @Success 200 {object} domain.ShipmentRecord
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/shipments/{number}/events [post]
func (h *AdminHandler) AppendStatus(c *fiber.Ctx) error {
	var input service.AppendStatusInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Message: "invalid request body",
			RayID:   rayID(c),
		})
	}

	record, err := h.adminService.AppendStatus(c.Context(), c.Params("number"), input)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(record)
}

// EditShipment godoc
// @Summary Edit shipment metadata
// @Description Replaces the descriptive fields of a shipment; history is never touched
// @Tags admin
// @Accept json
// @Produce json
// @Param number path string true "Tracking Number"
// @Param fields body domain.MetadataFields true "Descriptive fields"
// @Param X-Admin-Token header string true "Operator token"
// @Success 200 {object} domain.ShipmentRecord
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/shipments/{number} [patch]
func (h *AdminHandler) EditShipment(c *fiber.Ctx) error {
	var fields domain.MetadataFields
	if err := c.BodyParser(&fields); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Message: "invalid request body",
			RayID:   rayID(c),
		})
	}

	record, err := h.adminService.EditMetadata(c.Context(), c.Params("number"), fields)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(record)
}

// DeleteShipment godoc
// @Summary Delete a shipment
// @Description Removes a shipment; connected dashboards converge via the change stream
// @Tags admin
// @Produce json
// @Param number path string true "Tracking Number"
// @Param X-Admin-Token header string true "Operator token"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/shipments/{number} [delete]
func (h *AdminHandler) DeleteShipment(c *fiber.Ctx) error {
	if err := h.adminService.Delete(c.Context(), c.Params("number")); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{"message": "shipment deleted"})
}

// Feed godoc
// @Summary Stream change notifications
// @Description Server-sent events feed of shipment change notifications for the dashboard
// @Tags admin
// @Produce text/event-stream
// @Param X-Admin-Token header string true "Operator token"
// @Success 200 {string} string "event stream"
// @Failure 401 {object} ErrorResponse
// @Router /admin/shipments/feed [get]
func (h *AdminHandler) Feed(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	sub := h.subscribeFeed()

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.unsubscribeFeed(sub)

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case notification, ok := <-sub:
				if !ok {
					return
				}
				payload, err := json.Marshal(notification)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", notification.Classification, payload)
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
			}

			// A flush error means the client went away.
			if err := w.Flush(); err != nil {
				return
			}
		}
	}))

	return nil
}

func (h *AdminHandler) subscribeFeed() chan reconcile.Notification {
	sub := make(chan reconcile.Notification, 16)
	h.feedMu.Lock()
	h.feedSubs[sub] = struct{}{}
	h.feedMu.Unlock()
	return sub
}

func (h *AdminHandler) unsubscribeFeed(sub chan reconcile.Notification) {
	h.feedMu.Lock()
	delete(h.feedSubs, sub)
	h.feedMu.Unlock()
}

// fanOut forwards engine notifications to every connected feed. A slow
// consumer drops notifications rather than blocking the engine.
func (h *AdminHandler) fanOut(change reconcile.Change) {
	if change.Notification == nil {
		return
	}

	h.feedMu.Lock()
	defer h.feedMu.Unlock()
	for sub := range h.feedSubs {
		select {
		case sub <- *change.Notification:
		default:
		}
	}
}

// writeError maps domain and validation errors onto HTTP responses.
func (h *AdminHandler) writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidTrackingNumber),
		errors.Is(err, domain.ErrSameOriginDestination),
		errors.Is(err, domain.ErrUnknownStatus),
		errors.Is(err, service.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Message: err.Error(),
			RayID:   rayID(c),
		})
	case errors.Is(err, domain.ErrDuplicateTrackingNumber):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Message: err.Error(),
			RayID:   rayID(c),
		})
	case errors.Is(err, domain.ErrShipmentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Message: "no shipment found for this tracking number",
			RayID:   rayID(c),
		})
	default:
		logger.Get().Error("Admin operation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Message: "internal server error",
			RayID:   rayID(c),
		})
	}
}
