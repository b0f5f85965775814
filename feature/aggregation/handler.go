package aggregation

import (
	"errors"
	"strconv"
	"strings"

	"finsync/core/auth"
	"finsync/core/logger"
	"finsync/core/reconcile"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for the aggregation cache.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the sync and cache routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	sync := app.Group("/sync")
	sync.Post("/", h.HandleRefreshAll)
	sync.Get("/status", h.HandleStatus)
	sync.Post("/:collection", h.HandleRefresh)

	cache := app.Group("/cache")
	cache.Get("/:collection", h.HandleList)
	cache.Put("/transactions/:id", h.HandleUpdateTransaction)
	cache.Delete("/:collection/:id", h.HandleForget)
}

// statusFor maps refresh errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidQuery), errors.Is(err, reconcile.ErrInvalidScope):
		return fiber.StatusBadRequest
	case errors.Is(err, reconcile.ErrUnknownEntity):
		return fiber.StatusNotFound
	case errors.Is(err, auth.ErrLoggedOut), errors.Is(err, auth.ErrAuthInvalid):
		return fiber.StatusUnauthorized
	case errors.Is(err, auth.ErrNetwork), errors.Is(err, auth.ErrAuthExpired):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

func (h *Handler) fail(c *fiber.Ctx, msg string, err error) error {
	code := statusFor(err)
	l := logger.WithRayID(h.service.logger, c)
	if code >= fiber.StatusInternalServerError {
		l.Error(msg, zap.Error(err))
	} else {
		l.Warn(msg, zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// HandleRefreshAll refreshes every collection.
// @Summary Refresh all collections
// @Tags sync
// @Produce json
// @Success 200 {array} Summary
// @Router /sync [post]
func (h *Handler) HandleRefreshAll(c *fiber.Ctx) error {
	sums, err := h.service.RefreshAll(c.UserContext())
	if err != nil {
		l := logger.WithRayID(h.service.logger, c)
		l.Warn("Full refresh incomplete", zap.Error(err))
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"error":       err.Error(),
			"collections": sums,
		})
	}
	return c.JSON(sums)
}

// HandleRefresh refreshes one collection. Query parameters: parent (parent key), from and to
// (transaction dates), ids (comma-separated transaction ids).
// @Summary Refresh one collection
// @Tags sync
// @Produce json
// @Param collection path string true "Collection name (e.g. 'accounts')"
// @Success 200 {object} Summary
// @Router /sync/{collection} [post]
func (h *Handler) HandleRefresh(c *fiber.Ctx) error {
	entity := reconcile.EntityType(c.Params("collection"))

	if raw := c.Query("ids"); raw != "" {
		if entity != Transactions {
			return h.fail(c, "Refresh rejected", errors.Join(ErrInvalidQuery, errors.New("ids is only supported for transactions")))
		}
		ids, err := parseIDs(raw)
		if err != nil {
			return h.fail(c, "Refresh rejected", err)
		}
		sums, err := h.service.RefreshTransactionsByID(c.UserContext(), ids)
		if err != nil {
			return h.fail(c, "Refresh failed", err)
		}
		return c.JSON(sums)
	}

	parent, err := parseID(c.Query("parent", "0"))
	if err != nil {
		return h.fail(c, "Refresh rejected", err)
	}
	q := TransactionQuery{From: c.Query("from"), To: c.Query("to")}

	sum, err := h.service.Refresh(c.UserContext(), entity, parent, q)
	if err != nil {
		return h.fail(c, "Refresh failed", err)
	}
	return c.JSON(sum)
}

// HandleStatus returns the last refresh of every collection.
func (h *Handler) HandleStatus(c *fiber.Ctx) error {
	return c.JSON(h.service.Status())
}

// HandleList returns the cached rows of a collection.
func (h *Handler) HandleList(c *fiber.Ctx) error {
	entity := reconcile.EntityType(c.Params("collection"))
	dest, err := NewSlice(entity)
	if err != nil {
		return h.fail(c, "Listing rejected", err)
	}
	if err := h.service.Cached(c.UserContext(), reconcile.ScopeAll(entity), dest); err != nil {
		return h.fail(c, "Listing failed", err)
	}
	return c.JSON(dest)
}

// HandleUpdateTransaction stores a locally edited transaction.
func (h *Handler) HandleUpdateTransaction(c *fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return h.fail(c, "Update rejected", err)
	}
	var t Transaction
	if err := c.BodyParser(&t); err != nil {
		return h.fail(c, "Update rejected", errors.Join(ErrInvalidQuery, err))
	}
	t.ID = id

	sum, err := h.service.UpdateTransaction(c.UserContext(), t)
	if err != nil {
		return h.fail(c, "Update failed", err)
	}
	return c.JSON(sum)
}

// HandleForget removes a cached record and its dependents.
func (h *Handler) HandleForget(c *fiber.Ctx) error {
	entity := reconcile.EntityType(c.Params("collection"))
	sum, err := h.service.Forget(c.UserContext(), entity, c.Params("id"))
	if err != nil {
		return h.fail(c, "Delete failed", err)
	}
	return c.JSON(sum)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, errors.Join(ErrInvalidQuery, errors.New("id "+strconv.Quote(raw)+" is not a positive integer"))
	}
	return id, nil
}

func parseIDs(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := parseID(p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
