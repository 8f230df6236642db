package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/andino-erp/andino-erp/internal/platform/httpx"
	"github.com/andino-erp/andino-erp/internal/shared"
)

// Handler exposes stock operations over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items/{id}", h.getItem)
	r.Get("/items/{id}/overview", h.getItemOverview)
	r.Get("/items/{id}/movements", h.listMovements)
	r.Post("/receipts", h.postReceipt)
	r.Post("/issues", h.postIssue)
	r.Post("/reservations", h.reserve)
	r.Post("/releases", h.release)
	r.Post("/items/{id}/deactivate", h.deactivate)
}

type movementRequest struct {
	ItemID   int64  `json:"item_id" validate:"required"`
	Qty      string `json:"qty" validate:"required"`
	UnitCost string `json:"unit_cost"`
	RefID    string `json:"ref_id"`
	Note     string `json:"note"`
}

type movementResponse struct {
	MovementID    int64  `json:"movement_id"`
	Kind          string `json:"kind"`
	OnHandAfter   string `json:"on_hand_after"`
	ReservedAfter string `json:"reserved_after"`
	UnitCost      string `json:"unit_cost"`
}

func (h *Handler) postReceipt(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := h.decode(w, r)
	if !ok {
		return
	}
	movement, err := h.service.PostReceipt(r.Context(), ReceiptInput{
		ItemID:   req.ItemID,
		Qty:      req.Qty,
		UnitCost: req.UnitCost,
		Note:     req.Note,
		ActorID:  actor,
		RefID:    req.RefID,
	})
	h.respondMovement(w, movement, err)
}

func (h *Handler) postIssue(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := h.decode(w, r)
	if !ok {
		return
	}
	movement, err := h.service.PostIssue(r.Context(), IssueInput{
		ItemID:  req.ItemID,
		Qty:     req.Qty,
		Note:    req.Note,
		ActorID: actor,
		RefID:   req.RefID,
	})
	h.respondMovement(w, movement, err)
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := h.decode(w, r)
	if !ok {
		return
	}
	movement, err := h.service.ReserveStock(r.Context(), ReservationInput{
		ItemID:  req.ItemID,
		Qty:     req.Qty,
		Note:    req.Note,
		ActorID: actor,
		RefID:   req.RefID,
	})
	h.respondMovement(w, movement, err)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := h.decode(w, r)
	if !ok {
		return
	}
	movement, err := h.service.ReleaseStock(r.Context(), ReservationInput{
		ItemID:  req.ItemID,
		Qty:     req.Qty,
		Note:    req.Note,
		ActorID: actor,
		RefID:   req.RefID,
	})
	h.respondMovement(w, movement, err)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "item id must be numeric")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.DeactivateItem(r.Context(), id, actor); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "active": false})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (movementRequest, int64, bool) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return movementRequest{}, 0, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return movementRequest{}, 0, false
	}
	actor, _ := shared.ActorFromContext(r.Context())
	return req, actor, true
}

func (h *Handler) respondMovement(w http.ResponseWriter, movement Movement, err error) {
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movementResponse{
		MovementID:    movement.ID,
		Kind:          string(movement.Kind),
		OnHandAfter:   movement.OnHandAfter.String(),
		ReservedAfter: movement.ReservedAfter.String(),
		UnitCost:      movement.UnitCost.String(),
	})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "item id must be numeric")
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":          item.ID,
		"sku":         item.SKU,
		"name":        item.Name,
		"on_hand":     item.OnHand.String(),
		"reserved":    item.Reserved.String(),
		"available":   item.Available().String(),
		"unit_cost":   item.UnitCost.String(),
		"tracks_cost": item.TracksCost,
		"active":      item.Active,
	})
}

func (h *Handler) getItemOverview(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "item id must be numeric")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	overview, err := h.service.GetItemOverview(r.Context(), id, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	movements := make([]map[string]any, 0, len(overview.Movements))
	for _, m := range overview.Movements {
		movements = append(movements, map[string]any{
			"id":            m.ID,
			"kind":          string(m.Kind),
			"qty":           m.Qty.String(),
			"on_hand_after": m.OnHandAfter.String(),
			"posted_at":     m.PostedAt,
		})
	}
	trail := make([]map[string]any, 0, len(overview.Audit))
	for _, entry := range overview.Audit {
		trail = append(trail, map[string]any{
			"actor_id":    entry.ActorID,
			"action":      entry.Action,
			"occurred_at": entry.At,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"item": map[string]any{
			"id":        overview.Item.ID,
			"sku":       overview.Item.SKU,
			"name":      overview.Item.Name,
			"on_hand":   overview.Item.OnHand.String(),
			"reserved":  overview.Item.Reserved.String(),
			"available": overview.Item.Available().String(),
			"unit_cost": overview.Item.UnitCost.String(),
		},
		"movements": movements,
		"audit":     trail,
	})
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "item id must be numeric")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.ListMovements(r.Context(), MovementFilter{
		ItemID:    id,
		Kind:      MovementKind(r.URL.Query().Get("kind")),
		RefModule: r.URL.Query().Get("ref_module"),
		Limit:     limit,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(movements))
	for _, m := range movements {
		out = append(out, map[string]any{
			"id":             m.ID,
			"kind":           string(m.Kind),
			"qty":            m.Qty.String(),
			"unit_cost":      m.UnitCost.String(),
			"on_hand_after":  m.OnHandAfter.String(),
			"reserved_after": m.ReservedAfter.String(),
			"ref_module":     m.RefModule,
			"ref_id":         m.RefID,
			"posted_at":      m.PostedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrItemNotFound), errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost), errors.Is(err, shared.ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrReservationExceeded), errors.Is(err, ErrItemInactive), errors.Is(err, ErrRecipeReservation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Admission Refused", err.Error())
	case errors.Is(err, ErrNegativeStockOnReversal), errors.Is(err, shared.ErrLockTimeout), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("stock request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
