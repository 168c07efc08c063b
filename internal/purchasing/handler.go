package purchasing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockline/stockline/internal/platform/httpx"
	"github.com/stockline/stockline/internal/rbac"
	"github.com/stockline/stockline/internal/shared"
)

// Handler wires HTTP endpoints for purchase orders.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler constructs the purchasing handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchase-orders", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny("purchasing.manage", "purchasing.receive"))
			r.Get("/", h.handleList)
			r.Get("/{id}", h.handleGet)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny("purchasing.manage"))
			r.Post("/", h.handleCreate)
			r.Post("/{id}/order", h.handleMarkOrdered)
			r.Post("/{id}/cancel", h.handleCancel)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny("purchasing.receive"))
			r.Post("/{id}/receive", h.handleReceive)
		})
	})
}

type createRequest struct {
	Number       string              `json:"number"`
	SupplierID   int64               `json:"supplier_id" validate:"required"`
	WarehouseID  int64               `json:"warehouse_id" validate:"required"`
	ExpectedDate string              `json:"expected_date"`
	Notes        string              `json:"notes"`
	Items        []createItemRequest `json:"items" validate:"required,min=1,dive"`
}

type createItemRequest struct {
	ProductID int64   `json:"product_id" validate:"required"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
	Notes     string  `json:"notes"`
}

type receiveRequest struct {
	Lines []receiveLineRequest `json:"lines" validate:"required,min=1,dive"`
	Notes string               `json:"notes"`
}

type receiveLineRequest struct {
	ItemID       int64   `json:"item_id" validate:"required"`
	Quantity     float64 `json:"quantity" validate:"required,gt=0"`
	BinID        int64   `json:"bin_id"`
	BatchID      int64   `json:"batch_id"`
	SerialNumber string  `json:"serial_number"`
}

type orderResponse struct {
	Order PurchaseOrder `json:"order"`
	Items []Item        `json:"items"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Purchase Order", err.Error())
		return
	}
	input := CreateInput{
		Number:      req.Number,
		SupplierID:  req.SupplierID,
		WarehouseID: req.WarehouseID,
		Notes:       req.Notes,
		ActorID:     shared.ActorID(r.Context()),
	}
	if req.ExpectedDate != "" {
		t, err := time.Parse("2006-01-02", req.ExpectedDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid expected_date")
			return
		}
		input.ExpectedDate = t
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: item.UnitPrice, Notes: item.Notes})
	}
	order, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	order, items, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if items == nil {
		items = []Item{}
	}
	httpx.JSON(w, http.StatusOK, orderResponse{Order: order, Items: items})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	filter.SupplierID, _ = strconv.ParseInt(q.Get("supplier_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	orders, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if orders == nil {
		orders = []PurchaseOrder{}
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) handleMarkOrdered(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.MarkOrdered)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.Cancel)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, orderID, actorID int64) error) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	if err := fn(r.Context(), id, shared.ActorID(r.Context())); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Receipt", err.Error())
		return
	}
	input := ReceiveInput{
		OrderID:        id,
		ActorID:        shared.ActorID(r.Context()),
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ReceiveLine{
			ItemID:       line.ItemID,
			Quantity:     line.Quantity,
			BinID:        line.BinID,
			BatchID:      line.BatchID,
			SerialNumber: line.SerialNumber,
		})
	}
	order, items, err := h.service.Receive(r.Context(), input)
	if err != nil {
		h.logger.Warn("receive rejected", slog.Int64("order_id", id), slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderResponse{Order: order, Items: items})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Purchase Order", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func urlID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
