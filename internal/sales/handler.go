package sales

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockline/stockline/internal/platform/httpx"
	"github.com/stockline/stockline/internal/rbac"
	"github.com/stockline/stockline/internal/shared"
)

// Handler wires HTTP endpoints for sales orders.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler constructs the sales handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/sales-orders", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny("sales.manage", "sales.ship"))
			r.Get("/", h.handleList)
			r.Get("/{id}", h.handleGet)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny("sales.manage"))
			r.Post("/", h.handleCreate)
			r.Post("/{id}/confirm", h.handleConfirm)
			r.Post("/{id}/cancel", h.handleCancel)
			r.Post("/{id}/return", h.handleReturn)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny("sales.ship"))
			r.Post("/{id}/pick", h.handlePick)
			r.Post("/{id}/pack", h.handlePack)
			r.Post("/{id}/ship", h.handleShip)
			r.Post("/{id}/deliver", h.handleDeliver)
		})
	})
}

type createRequest struct {
	Number      string              `json:"number"`
	CustomerID  int64               `json:"customer_id" validate:"required"`
	WarehouseID int64               `json:"warehouse_id" validate:"required"`
	Notes       string              `json:"notes"`
	Items       []createItemRequest `json:"items" validate:"required,min=1,dive"`
}

type createItemRequest struct {
	ProductID int64   `json:"product_id" validate:"required"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
	Notes     string  `json:"notes"`
}

type itemsRequest struct {
	ItemIDs []int64 `json:"item_ids"`
}

type shipRequest struct {
	Lines []lineRequest `json:"lines"`
}

type returnRequest struct {
	Lines []lineRequest `json:"lines" validate:"required,min=1,dive"`
	Notes string        `json:"notes"`
}

type lineRequest struct {
	ItemID       int64  `json:"item_id" validate:"required"`
	BinID        int64  `json:"bin_id"`
	BatchID      int64  `json:"batch_id"`
	SerialNumber string `json:"serial_number"`
}

type orderResponse struct {
	Order SalesOrder `json:"order"`
	Items []Item     `json:"items"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Sales Order", err.Error())
		return
	}
	input := CreateInput{
		Number:      req.Number,
		CustomerID:  req.CustomerID,
		WarehouseID: req.WarehouseID,
		Notes:       req.Notes,
		ActorID:     shared.ActorID(r.Context()),
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
	filter.CustomerID, _ = strconv.ParseInt(q.Get("customer_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	orders, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if orders == nil {
		orders = []SalesOrder{}
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.Confirm)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.Cancel)
}

func (h *Handler) handleDeliver(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.MarkDelivered)
}

func (h *Handler) handlePick(w http.ResponseWriter, r *http.Request) {
	h.handleFlag(w, r, h.service.Pick)
}

func (h *Handler) handlePack(w http.ResponseWriter, r *http.Request) {
	h.handleFlag(w, r, h.service.Pack)
}

func (h *Handler) handleFlag(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, orderID, actorID int64, itemIDs []int64) error) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req itemsRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
			return
		}
	}
	if err := fn(r.Context(), id, shared.ActorID(r.Context()), req.ItemIDs); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleShip(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req shipRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
			return
		}
	}
	input := ShipInput{
		OrderID:        id,
		ActorID:        shared.ActorID(r.Context()),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ShipLine{ItemID: line.ItemID, BinID: line.BinID, BatchID: line.BatchID, SerialNumber: line.SerialNumber})
	}
	result, err := h.service.Ship(r.Context(), input)
	if err != nil {
		h.logger.Warn("ship rejected", slog.Int64("order_id", id), slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req returnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Return", err.Error())
		return
	}
	input := ReturnInput{
		OrderID:        id,
		ActorID:        shared.ActorID(r.Context()),
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ReturnLine{ItemID: line.ItemID, BinID: line.BinID, BatchID: line.BatchID, SerialNumber: line.SerialNumber})
	}
	result, err := h.service.Return(r.Context(), input)
	if err != nil {
		h.logger.Warn("return rejected", slog.Int64("order_id", id), slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
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

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Sales Order", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func urlID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
