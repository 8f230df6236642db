package production

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/andino-erp/andino-erp/internal/orders"
	"github.com/andino-erp/andino-erp/internal/platform/httpx"
	"github.com/andino-erp/andino-erp/internal/refdata"
	"github.com/andino-erp/andino-erp/internal/shared"
	"github.com/andino-erp/andino-erp/internal/stock"
)

// Handler exposes the production order lifecycle over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers production routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/start", h.start)
	r.Post("/{id}/output", h.recordOutput)
	r.Post("/{id}/finish", h.finish)
	r.Post("/{id}/cancel", h.cancel)
}

type createRequest struct {
	OutputItemID int64  `json:"output_item_id" validate:"required"`
	Qty          string `json:"qty" validate:"required"`
	Note         string `json:"note"`
}

type outputRequest struct {
	Qty   string `json:"qty" validate:"required"`
	RefID string `json:"ref_id"`
}

type finishRequest struct {
	Qty   string `json:"qty"`
	RefID string `json:"ref_id"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	order, err := h.service.Create(r.Context(), CreateInput{
		OutputItemID: req.OutputItemID,
		Qty:          req.Qty,
		Note:         req.Note,
		ActorID:      actor,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, orders.Payload(order))
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	order, err := h.service.Start(r.Context(), orderID, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders.Payload(order))
}

func (h *Handler) recordOutput(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req outputRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	order, err := h.service.RecordOutput(r.Context(), OutputInput{
		OrderID: orderID,
		Qty:     req.Qty,
		ActorID: actor,
		RefID:   req.RefID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders.Payload(order))
}

func (h *Handler) finish(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req finishRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	order, err := h.service.Finish(r.Context(), FinishInput{
		OrderID: orderID,
		ActorID: actor,
		RefID:   req.RefID,
		Qty:     req.Qty,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders.Payload(order))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	order, err := h.service.Cancel(r.Context(), orderID, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders.Payload(order))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, lines, installments, err := h.service.Get(r.Context(), orderID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders.FullPayload(order, lines, installments))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "order id must be numeric")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, shared.ErrNotFound), errors.Is(err, stock.ErrItemNotFound), errors.Is(err, refdata.ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, orders.ErrValidation), errors.Is(err, stock.ErrInvalidQuantity), errors.Is(err, shared.ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, ErrNotFinished):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, orders.ErrOverRealization), errors.Is(err, stock.ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Admission Refused", err.Error())
	case errors.Is(err, stock.ErrNegativeStockOnReversal), errors.Is(err, shared.ErrLockTimeout), errors.Is(err, shared.ErrIdempotencyConflict), errors.Is(err, orders.ErrDuplicateNumber):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("production request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
