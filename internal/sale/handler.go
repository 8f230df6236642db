package sale

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/andino-erp/andino-erp/internal/ledger"
	"github.com/andino-erp/andino-erp/internal/orderflow"
	"github.com/andino-erp/andino-erp/internal/orders"
	"github.com/andino-erp/andino-erp/internal/platform/httpx"
	"github.com/andino-erp/andino-erp/internal/shared"
	"github.com/andino-erp/andino-erp/internal/stock"
)

// Handler exposes the sales order lifecycle over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers sale routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/confirm", h.confirm)
	r.Post("/{id}/reserve", h.reserve)
	r.Post("/{id}/release", h.release)
	r.Post("/{id}/despatch", h.despatch)
	r.Post("/{id}/payments", h.recordPayment)
	r.Post("/{id}/schedule", h.createSchedule)
	r.Post("/{id}/cancel", h.cancel)
	r.Post("/{id}/close", h.close)
}

type createRequest struct {
	CustomerID   int64         `json:"customer_id" validate:"required"`
	Currency     string        `json:"currency"`
	ExchangeRate string        `json:"exchange_rate"`
	PaymentTerm  string        `json:"payment_term"`
	TaxRate      string        `json:"tax_rate"`
	Note         string        `json:"note"`
	Lines        []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type lineRequest struct {
	ItemID    int64  `json:"item_id" validate:"required"`
	Qty       string `json:"qty" validate:"required"`
	UnitPrice string `json:"unit_price" validate:"required"`
}

type confirmRequest struct {
	Reserve bool `json:"reserve"`
}

type despatchRequest struct {
	RefID string                `json:"ref_id"`
	Lines []despatchLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type despatchLineRequest struct {
	LineID int64  `json:"line_id" validate:"required"`
	Qty    string `json:"qty" validate:"required"`
}

type paymentRequest struct {
	AccountID     int64  `json:"account_id" validate:"required"`
	Amount        string `json:"amount" validate:"required"`
	InstallmentID int64  `json:"installment_id"`
	RefID         string `json:"ref_id"`
}

type scheduleRequest struct {
	Lines []scheduleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type scheduleLineRequest struct {
	Amount  string    `json:"amount" validate:"required"`
	DueDate time.Time `json:"due_date" validate:"required"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	lines := make([]LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, LineInput{ItemID: l.ItemID, Qty: l.Qty, UnitPrice: l.UnitPrice})
	}
	order, err := h.service.Create(r.Context(), CreateInput{
		CustomerID:   req.CustomerID,
		Currency:     req.Currency,
		ExchangeRate: req.ExchangeRate,
		PaymentTerm:  req.PaymentTerm,
		TaxRate:      req.TaxRate,
		Note:         req.Note,
		ActorID:      actor,
		Lines:        lines,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, orders.Payload(order))
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	order, outcomes, err := h.service.Confirm(r.Context(), ConfirmInput{OrderID: orderID, ActorID: actor, Reserve: req.Reserve})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, withOutcomes(orders.Payload(order), outcomes))
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	order, outcomes, err := h.service.ReserveStock(r.Context(), orderID, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, withOutcomes(orders.Payload(order), outcomes))
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	order, err := h.service.ReleaseStock(r.Context(), orderID, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders.Payload(order))
}

func (h *Handler) despatch(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req despatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	input := DespatchInput{OrderID: orderID, ActorID: actor, RefID: req.RefID}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, DespatchLine{LineID: l.LineID, Qty: l.Qty})
	}
	order, err := h.service.Despatch(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders.Payload(order))
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	order, err := h.service.RecordPayment(r.Context(), PaymentInput{
		OrderID:       orderID,
		AccountID:     req.AccountID,
		Amount:        req.Amount,
		InstallmentID: req.InstallmentID,
		ActorID:       actor,
		RefID:         req.RefID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders.Payload(order))
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req scheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	input := ScheduleInput{OrderID: orderID, ActorID: actor}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, orderflow.ScheduleLine{Amount: l.Amount, DueDate: l.DueDate})
	}
	installments, err := h.service.CreateSchedule(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(installments))
	for _, inst := range installments {
		out = append(out, orders.InstallmentPayload(inst))
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"installments": out})
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

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	order, err := h.service.Close(r.Context(), orderID, actor)
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

func withOutcomes(payload map[string]any, outcomes []ReservationOutcome) map[string]any {
	out := make([]map[string]any, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, map[string]any{
			"line_id":   o.LineID,
			"requested": o.Requested.String(),
			"reserved":  o.Reserved.String(),
			"skipped":   o.Skipped,
		})
	}
	payload["reservation_outcomes"] = out
	return payload
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
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, shared.ErrNotFound), errors.Is(err, stock.ErrItemNotFound), errors.Is(err, ledger.ErrAccountNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, orders.ErrValidation), errors.Is(err, stock.ErrInvalidQuantity), errors.Is(err, shared.ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, ErrCancelNotAllowed):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, ErrCreditLimitExceeded), errors.Is(err, orders.ErrOverRealization), errors.Is(err, orders.ErrOverpayment),
		errors.Is(err, orders.ErrScheduleMismatch), errors.Is(err, stock.ErrInsufficientStock), errors.Is(err, stock.ErrReservationExceeded),
		errors.Is(err, ledger.ErrExcessRepayment):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Admission Refused", err.Error())
	case errors.Is(err, shared.ErrLockTimeout), errors.Is(err, shared.ErrIdempotencyConflict), errors.Is(err, orders.ErrDuplicateNumber):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("sale request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
