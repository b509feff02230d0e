package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shelfsort/api/internal/platform/httpx"
	"github.com/shelfsort/api/internal/platform/requestctx"
)

// ShopHeader is the request header carrying the tenant shop domain.
const ShopHeader = "X-Shop-Domain"

// ShopMiddleware resolves the tenant from the shop header and stores it on
// the request context. Requests without a shop are rejected before they
// reach any handler.
func ShopMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		shop := strings.TrimSpace(r.Header.Get(ShopHeader))
		if shop == "" {
			httpx.WriteError(r.Context(), w, httpx.NewError("missing_shop", "shop header is required", http.StatusBadRequest))
			return
		}
		next.ServeHTTP(w, r.WithContext(requestctx.WithShop(r.Context(), shop)))
	})
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
