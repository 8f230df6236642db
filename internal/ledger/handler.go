package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/andino-erp/andino-erp/internal/platform/httpx"
	"github.com/andino-erp/andino-erp/internal/shared"
)

// Handler exposes payment account operations over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts/{id}", h.getAccount)
	r.Get("/accounts/{id}/movements", h.listMovements)
	r.Post("/credits", h.postCredit)
	r.Post("/debits", h.postDebit)
	r.Post("/transfers", h.postTransfer)
	r.Post("/accounts/{id}/deactivate", h.deactivate)
}

type entryRequest struct {
	AccountID int64  `json:"account_id" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
	Memo      string `json:"memo"`
}

type transferRequest struct {
	FromID int64  `json:"from_id" validate:"required"`
	ToID   int64  `json:"to_id" validate:"required"`
	Amount string `json:"amount" validate:"required"`
	Memo   string `json:"memo"`
}

func (h *Handler) postCredit(w http.ResponseWriter, r *http.Request) {
	h.postEntry(w, r, h.service.PostCredit)
}

func (h *Handler) postDebit(w http.ResponseWriter, r *http.Request) {
	h.postEntry(w, r, h.service.PostDebit)
}

func (h *Handler) postEntry(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, req EntryRequest) (Movement, error)) {
	var req entryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	movement, err := fn(r.Context(), EntryRequest{AccountID: req.AccountID, Amount: req.Amount, Memo: req.Memo, ActorID: actor})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movementPayload(movement))
}

func (h *Handler) postTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	out, in, err := h.service.PostTransfer(r.Context(), TransferRequest{
		FromID:  req.FromID,
		ToID:    req.ToID,
		Amount:  req.Amount,
		Memo:    req.Memo,
		ActorID: actor,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"out": movementPayload(out), "in": movementPayload(in)})
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "account id must be numeric")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.DeactivateAccount(r.Context(), id, actor); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "active": false})
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "account id must be numeric")
		return
	}
	account, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":           account.ID,
		"name":         account.Name,
		"kind":         string(account.Kind),
		"currency":     account.Currency,
		"balance":      account.Balance.String(),
		"credit_limit": account.CreditLimit.String(),
		"active":       account.Active,
	})
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "account id must be numeric")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.ListMovements(r.Context(), MovementFilter{AccountID: id, Limit: limit})
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(movements))
	for _, m := range movements {
		out = append(out, movementPayload(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}

func movementPayload(m Movement) map[string]any {
	return map[string]any{
		"id":             m.ID,
		"account_id":     m.AccountID,
		"direction":      string(m.Direction),
		"amount":         m.Amount.String(),
		"balance_before": m.BalanceBefore.String(),
		"balance_after":  m.BalanceAfter.String(),
		"order_id":       m.OrderID,
		"installment_id": m.InstallmentID,
		"memo":           m.Memo,
		"posted_at":      m.PostedAt,
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrCurrencyMismatch), errors.Is(err, shared.ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrCreditLimitExceeded), errors.Is(err, ErrExcessRepayment), errors.Is(err, ErrAccountInactive):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Admission Refused", err.Error())
	case errors.Is(err, shared.ErrLockTimeout):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("ledger request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
