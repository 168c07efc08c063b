package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stockline/stockline/internal/observability"
	"github.com/stockline/stockline/internal/platform/httpx"
	"github.com/stockline/stockline/internal/rbac"
	"github.com/stockline/stockline/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
	metrics  *observability.Metrics
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validate: validator.New(), metrics: metrics}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("inventory.view", "inventory.post"))
		r.Get("/movements", h.handleListMovements)
		r.Get("/balances", h.handleGetBalance)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("inventory.post"))
		r.Post("/movements", h.handleRecordMovement)
		r.Post("/transfers/{id}/receive", h.handleTransferReceipt)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("inventory.audit"))
		r.Post("/balances/rebuild", h.handleRebuild)
	})
}

// product_id and warehouse_id are validated by the service rather than by
// struct tags: a reversal payload legitimately omits the key, which is
// resolved from the referenced original.
type movementRequest struct {
	ProductID    int64   `json:"product_id"`
	WarehouseID  int64   `json:"warehouse_id"`
	BinID        int64   `json:"bin_id"`
	BatchID      int64   `json:"batch_id"`
	SerialNumber string  `json:"serial_number"`
	MovementType string  `json:"movement_type" validate:"required"`
	Quantity     float64 `json:"quantity"`
	RefType      string  `json:"ref_type"`
	RefID        int64   `json:"ref_id"`
	ApprovedBy   int64   `json:"approved_by"`
	Notes        string  `json:"notes"`
}

type transferReceiptRequest struct {
	WarehouseID  int64  `json:"warehouse_id" validate:"required"`
	BinID        int64  `json:"bin_id"`
	BatchID      int64  `json:"batch_id"`
	SerialNumber string `json:"serial_number"`
	Notes        string `json:"notes"`
}

type keyRequest struct {
	ProductID    int64  `json:"product_id" validate:"required"`
	WarehouseID  int64  `json:"warehouse_id" validate:"required"`
	BinID        int64  `json:"bin_id"`
	BatchID      int64  `json:"batch_id"`
	SerialNumber string `json:"serial_number"`
}

func (h *Handler) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, validationError(err))
		return
	}
	movement, err := h.service.RecordMovement(r.Context(), RecordInput{
		Key: Key{
			ProductID:    req.ProductID,
			WarehouseID:  req.WarehouseID,
			BinID:        req.BinID,
			BatchID:      req.BatchID,
			SerialNumber: req.SerialNumber,
		},
		Type:           MovementType(req.MovementType),
		Quantity:       req.Quantity,
		RefType:        req.RefType,
		RefID:          req.RefID,
		ApprovedBy:     req.ApprovedBy,
		Notes:          req.Notes,
		ActorID:        shared.ActorID(r.Context()),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.logger.Warn("record movement rejected", slog.String("type", req.MovementType), slog.Any("error", err))
		h.metrics.MovementRejected(req.MovementType)
		httpx.RespondError(w, err)
		return
	}
	h.metrics.MovementPosted(string(movement.Type))
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) handleTransferReceipt(w http.ResponseWriter, r *http.Request) {
	issueID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transfer id")
		return
	}
	var req transferReceiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, validationError(err))
		return
	}
	receipt, release, err := h.service.RecordTransferReceipt(r.Context(), TransferReceiptInput{
		TransferOutID: issueID,
		Destination: Key{
			WarehouseID:  req.WarehouseID,
			BinID:        req.BinID,
			BatchID:      req.BatchID,
			SerialNumber: req.SerialNumber,
		},
		ActorID:        shared.ActorID(r.Context()),
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.logger.Warn("transfer receipt rejected", slog.Int64("transfer_out_id", issueID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.MovementPosted(string(TypeTransferIn))
	httpx.JSON(w, http.StatusCreated, map[string]any{"receipt": receipt, "release": release})
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Type: MovementType(q.Get("movement_type"))}
	filter.ProductID, _ = strconv.ParseInt(q.Get("product_id"), 10, 64)
	filter.WarehouseID, _ = strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid from date")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid to date")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if movements == nil {
		movements = []Movement{}
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, err := h.service.GetBalance(r.Context(), key)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, validationError(err))
		return
	}
	balance, err := h.service.RepairBalance(r.Context(), Key{
		ProductID:    req.ProductID,
		WarehouseID:  req.WarehouseID,
		BinID:        req.BinID,
		BatchID:      req.BatchID,
		SerialNumber: req.SerialNumber,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func keyFromQuery(r *http.Request) (Key, error) {
	q := r.URL.Query()
	var key Key
	key.ProductID, _ = strconv.ParseInt(q.Get("product_id"), 10, 64)
	key.WarehouseID, _ = strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	key.BinID, _ = strconv.ParseInt(q.Get("bin_id"), 10, 64)
	key.BatchID, _ = strconv.ParseInt(q.Get("batch_id"), 10, 64)
	key.SerialNumber = q.Get("serial_number")
	if key.ProductID == 0 || key.WarehouseID == 0 {
		return Key{}, shared.NewFieldError(shared.ErrInvalidMovement, "product_id", "warehouse_id")
	}
	return key, nil
}

func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return shared.NewFieldError(shared.ErrInvalidMovement)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field()))
	}
	return shared.NewFieldError(shared.ErrInvalidMovement, fields...)
}
