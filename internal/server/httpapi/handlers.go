package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fieldops/preshift/internal/model"
	"github.com/fieldops/preshift/internal/server/store"
)

// Handler serves the checklist API over a store.Service.
type Handler struct {
	svc    *store.Service
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a Handler. A nil logger discards output.
func NewHandler(svc *store.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger, now: time.Now}
}

// RegisterRoutes mounts the asset, checklist, event and fault routes on api.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/health", h.Health)
	api.GET("/status", h.Status)

	assets := api.Group("/assets")
	{
		assets.GET("", h.ListAssets)
		assets.GET("/:id", h.GetAsset)
	}

	checklists := api.Group("/checklists")
	{
		checklists.GET("", h.ListChecklists)
		checklists.GET("/active", h.ActiveChecklist)
	}

	events := api.Group("/events")
	{
		events.GET("", h.ListEvents)
		events.GET("/last-failed/:asset_id", h.LastFailedCheck)
		events.GET("/:id", h.GetEvent)
		events.POST("", h.UpsertEvent)
		events.POST("/batch", h.BatchUpsertEvents)
	}

	faults := api.Group("/faults")
	{
		faults.GET("", h.ListFaults)
		faults.GET("/:id", h.GetFault)
		faults.POST("", h.UpsertFault)
		faults.POST("/batch", h.BatchUpsertFaults)
		faults.PATCH("/:id", h.PatchFault)
	}
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": h.now().UTC(),
	})
}

// Status handles GET /status with record counts.
func (h *Handler) Status(c *gin.Context) {
	snap, err := h.svc.Status(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ListAssets handles GET /assets.
func (h *Handler) ListAssets(c *gin.Context) {
	assets, err := h.svc.ListAssets(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(assets))
}

// GetAsset handles GET /assets/:id.
func (h *Handler) GetAsset(c *gin.Context) {
	asset, err := h.svc.GetAsset(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

// ListChecklists handles GET /checklists.
func (h *Handler) ListChecklists(c *gin.Context) {
	checklists, err := h.svc.ListChecklists(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(checklists))
}

// ActiveChecklist handles GET /checklists/active?machine_class=.
func (h *Handler) ActiveChecklist(c *gin.Context) {
	machineClass := c.Query("machine_class")
	if machineClass == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "machine_class query parameter is required"})
		return
	}

	checklist, err := h.svc.ActiveChecklist(c.Request.Context(), machineClass)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, checklist)
}

// ListEvents handles GET /events, optionally filtered by asset_id.
func (h *Handler) ListEvents(c *gin.Context) {
	events, err := h.svc.ListEvents(c.Request.Context(), c.Query("asset_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(events))
}

// GetEvent handles GET /events/:id.
func (h *Handler) GetEvent(c *gin.Context) {
	ev, err := h.svc.GetEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// LastFailedCheck answers with the event or a JSON null.
func (h *Handler) LastFailedCheck(c *gin.Context) {
	ev, err := h.svc.LastFailedCheck(c.Request.Context(), c.Param("asset_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if ev == nil {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte("null"))
		return
	}
	c.JSON(http.StatusOK, ev)
}

// UpsertEvent creates or replaces one event. It answers 201 on create and
// 200 on update.
func (h *Handler) UpsertEvent(c *gin.Context) {
	var ev model.PreShiftCheckEvent
	if err := decodeBody(c, &ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "message": err.Error()})
		return
	}

	action, err := h.svc.UpsertEvent(c.Request.Context(), &ev)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(actionStatus(action), gin.H{"action": action, "event": &ev})
}

// BatchUpsertEvents handles POST /events/batch. Per-record failures are
// reported in the response body, not as an error status.
func (h *Handler) BatchUpsertEvents(c *gin.Context) {
	var events []*model.PreShiftCheckEvent
	if err := decodeBody(c, &events); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "message": err.Error()})
		return
	}
	for i, ev := range events {
		if ev == nil {
			events[i] = &model.PreShiftCheckEvent{}
		}
	}

	c.JSON(http.StatusOK, h.svc.BatchUpsertEvents(c.Request.Context(), events))
}

// ListFaults handles GET /faults with optional asset_id and status filters.
func (h *Handler) ListFaults(c *gin.Context) {
	filter := store.FaultFilter{
		AssetID: c.Query("asset_id"),
		Status:  model.FaultStatus(c.Query("status")),
	}
	faults, err := h.svc.ListFaults(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(faults))
}

// GetFault handles GET /faults/:id.
func (h *Handler) GetFault(c *gin.Context) {
	f, err := h.svc.GetFault(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// UpsertFault creates or replaces one fault.
func (h *Handler) UpsertFault(c *gin.Context) {
	var f model.Fault
	if err := decodeBody(c, &f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "message": err.Error()})
		return
	}

	action, err := h.svc.UpsertFault(c.Request.Context(), &f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(actionStatus(action), gin.H{"action": action, "fault": &f})
}

// BatchUpsertFaults handles POST /faults/batch.
func (h *Handler) BatchUpsertFaults(c *gin.Context) {
	var faults []*model.Fault
	if err := decodeBody(c, &faults); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "message": err.Error()})
		return
	}
	for i, f := range faults {
		if f == nil {
			faults[i] = &model.Fault{}
		}
	}

	c.JSON(http.StatusOK, h.svc.BatchUpsertFaults(c.Request.Context(), faults))
}

// PatchFault applies a partial update to a fault.
func (h *Handler) PatchFault(c *gin.Context) {
	var patch store.FaultPatch
	if err := decodeBody(c, &patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "message": err.Error()})
		return
	}

	f, err := h.svc.PatchFault(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// fail maps service errors onto status codes.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrMissingID), errors.Is(err, store.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal server error",
			"message": err.Error(),
		})
	}
}

func actionStatus(a store.Action) int {
	if a == store.ActionCreated {
		return http.StatusCreated
	}
	return http.StatusOK
}

// decodeBody reads a JSON body without binding validation.
func decodeBody(c *gin.Context, out any) error {
	return json.NewDecoder(c.Request.Body).Decode(out)
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
