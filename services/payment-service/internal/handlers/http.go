package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mahmud-sazid/orderflow/libs/saga"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/capture"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/catalogclient"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/model"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/storage"
)

// serviceFeeRate is the per-unit surcharge applied on top of the catalog price.
const serviceFeeRate = 0.2

type Handler struct {
	repo    storage.OrderStore
	catalog *catalogclient.Client
	capture *capture.Worker
	logger  *slog.Logger
}

func New(repo storage.OrderStore, catalog *catalogclient.Client, captureWorker *capture.Worker, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, catalog: catalog, capture: captureWorker, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/orders", h.ListOrders)
	r.Post("/orders", h.CreateOrder)
	r.Get("/orders/{id}", h.GetOrder)
}

func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to Payment Service"})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("list orders failed", "err", err)
		http.Error(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"id"`
		Quantity  int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if req.Quantity <= 0 {
		http.Error(w, "quantity must be positive", http.StatusBadRequest)
		return
	}

	product, err := h.catalog.Get(r.Context(), req.ProductID)
	if catalogclient.IsNotFound(err) {
		http.Error(w, "product not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("catalog lookup failed", "product_id", req.ProductID, "err", err)
		http.Error(w, "product lookup failed", http.StatusBadGateway)
		return
	}

	order := model.Order{
		ProductID: product.ID,
		Price:     product.Price,
		Fee:       serviceFeeRate * product.Price,
		Total:     (1 + serviceFeeRate) * product.Price,
		Quantity:  req.Quantity,
		Status:    saga.StatusPending,
	}
	if err := h.repo.Create(r.Context(), &order); err != nil {
		h.logger.Error("create order failed", "err", err)
		http.Error(w, "failed to create order", http.StatusInternalServerError)
		return
	}
	if err := h.capture.Schedule(r.Context(), order.ID); err != nil {
		h.logger.Error("schedule capture failed", "order_id", order.ID, "err", err)
		http.Error(w, "failed to schedule capture", http.StatusInternalServerError)
		return
	}

	h.logger.Info("order placed", "order_id", order.ID, "product_id", product.ID, "quantity", order.Quantity)
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, err := h.repo.Get(r.Context(), id)
	if storage.IsNotFound(err) {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get order failed", "id", id, "err", err)
		http.Error(w, "failed to load order", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
