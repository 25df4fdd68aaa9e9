package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/mahmud-sazid/orderflow/libs/eventlog"
	"github.com/mahmud-sazid/orderflow/libs/saga"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/capture"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/catalogclient"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/model"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/storage"
)

func fakeCatalog(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/products/P1" {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "P1", "name": "widget", "price": 10.0, "quantity": 25,
			})
			return
		}
		http.Error(w, "product not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) (*httptest.Server, *storage.RedisOrderRepository, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := storage.NewRedisOrderRepository(client)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	worker := capture.NewWorker(client, repo, eventlog.New(client), capture.NewNoopCharger(), logger, capture.Config{
		CaptureDelay: time.Minute,
	})
	catalog := catalogclient.New(fakeCatalog(t).URL)

	r := chi.NewRouter()
	New(repo, catalog, worker, logger).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo, client
}

func TestCreateOrder(t *testing.T) {
	srv, _, client := newTestServer(t)

	resp, err := http.Post(srv.URL+"/orders", "application/json",
		strings.NewReader(`{"id":"P1","quantity":3}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var order model.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if order.ID == "" || order.Status != saga.StatusPending {
		t.Fatalf("unexpected order: %+v", order)
	}
	if order.Price != 10 || order.Fee != 2 || order.Total != 12 {
		t.Fatalf("unexpected pricing: %+v", order)
	}

	// The order is queued for deferred capture.
	queued, _ := client.ZCard(context.Background(), "orders:capture_due").Result()
	if queued != 1 {
		t.Fatalf("expected 1 queued capture, got %d", queued)
	}
}

func TestCreateOrderUnknownProduct(t *testing.T) {
	srv, repo, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/orders", "application/json",
		strings.NewReader(`{"id":"P9","quantity":1}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	orders, _ := repo.List(context.Background())
	if len(orders) != 0 {
		t.Fatalf("no order expected, got %d", len(orders))
	}
}

func TestCreateOrderValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"missing id", `{"quantity":1}`},
		{"zero quantity", `{"id":"P1","quantity":0}`},
		{"negative quantity", `{"id":"P1","quantity":-2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/orders", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestGetOrder(t *testing.T) {
	srv, repo, _ := newTestServer(t)

	o := model.Order{ProductID: "P1", Price: 10, Fee: 2, Total: 12, Quantity: 1, Status: saga.StatusPending}
	if err := repo.Create(context.Background(), &o); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	resp, err := http.Get(srv.URL + "/orders/" + o.ID)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got model.Order
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.ID != o.ID || got.ProductID != "P1" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestGetMissingOrder(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/orders/nope")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
