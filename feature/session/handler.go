package session

import (
	"errors"

	"finsync/core/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for the session.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the session routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/session")
	group.Get("/", h.HandleStatus)
	group.Post("/token", h.HandleSeed)
	group.Delete("/", h.HandleLogout)
}

// HandleStatus returns the guard state.
// @Summary Session state
// @Tags session
// @Produce json
// @Success 200 {object} Status
// @Router /session [get]
func (h *Handler) HandleStatus(c *fiber.Ctx) error {
	return c.JSON(h.service.Status())
}

// HandleSeed installs a token pair.
// @Summary Seed credentials
// @Tags session
// @Accept json
// @Produce json
// @Param token body TokenRequest true "Token pair"
// @Success 200 {object} Status
// @Router /session/token [post]
func (h *Handler) HandleSeed(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)

	var req TokenRequest
	if err := c.BodyParser(&req); err != nil {
		l.Warn("Seed rejected", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "body must be a JSON token pair",
		})
	}

	st, err := h.service.Seed(c.UserContext(), req)
	if errors.Is(err, ErrInvalidToken) {
		l.Warn("Seed rejected", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		// The guard holds the new token even when persisting it failed.
		l.Error("Failed to persist seeded credentials", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   err.Error(),
			"session": st,
		})
	}
	return c.JSON(st)
}

// HandleLogout drops the credentials.
// @Summary Log out
// @Tags session
// @Success 204
// @Router /session [delete]
func (h *Handler) HandleLogout(c *fiber.Ctx) error {
	if err := h.service.Logout(c.UserContext()); err != nil {
		logger.WithRayID(h.service.logger, c).Error("Logout failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
