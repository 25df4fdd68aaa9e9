package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mahmud-sazid/orderflow/services/inventory-service/internal/model"
	"github.com/mahmud-sazid/orderflow/services/inventory-service/internal/storage"
)

type Handler struct {
	repo   storage.ProductStore
	logger *slog.Logger
}

func New(repo storage.ProductStore, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/products", h.ListProducts)
	r.Post("/product", h.CreateProduct)
	r.Get("/products/{id}", h.GetProduct)
	r.Delete("/products/{id}", h.DeleteProduct)
}

func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to Inventory Service"})
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("list products failed", "err", err)
		http.Error(w, "failed to list products", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string  `json:"name"`
		Price    float64 `json:"price"`
		Quantity int     `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.Price < 0 || req.Quantity < 0 {
		http.Error(w, "price and quantity must be non-negative", http.StatusBadRequest)
		return
	}

	p := model.Product{Name: req.Name, Price: req.Price, Quantity: req.Quantity}
	if err := h.repo.Create(r.Context(), &p); err != nil {
		h.logger.Error("create product failed", "err", err)
		http.Error(w, "failed to create product", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.repo.Get(r.Context(), id)
	if storage.IsNotFound(err) {
		http.Error(w, "product not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get product failed", "id", id, "err", err)
		http.Error(w, "failed to load product", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.repo.Delete(r.Context(), id)
	if storage.IsNotFound(err) {
		http.Error(w, "product not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("delete product failed", "id", id, "err", err)
		http.Error(w, "failed to delete product", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
