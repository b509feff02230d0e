package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestRouterUnknownRouteReturnsJSONError(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "route_not_found" {
		t.Errorf("expected route_not_found, got %v", body["error"])
	}
}

func TestRouterMethodNotAllowed(t *testing.T) {
	router := NewRouter(WithCollectionRoutes(NewResortHandlers(&stubResortService{}), ShopMiddleware))

	req := httptest.NewRequest(http.MethodDelete, "/collections/col-1/resort", nil)
	req.Header.Set(ShopHeader, "demo-shop.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestRouterRequestTimeoutIsConfigurable(t *testing.T) {
	blocking := RegistrarFunc(func(r chi.Router) {
		r.Get("/wait", func(w http.ResponseWriter, req *http.Request) {
			<-req.Context().Done()
		})
	})
	router := NewRouter(
		WithRequestTimeout(5*time.Millisecond),
		WithCollectionRoutes(blocking),
	)

	req := httptest.NewRequest(http.MethodGet, "/collections/wait", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
}

func TestRouterHealthRoutes(t *testing.T) {
	router := NewRouter(WithHealthRoutes(NewHealthHandlers(&stubHealthRepository{})))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
