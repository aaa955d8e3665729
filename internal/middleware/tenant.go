package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// DefaultTenantID is the single-tenant default used when no X-Tenant-ID header is set.
const DefaultTenantID = "00000000-0000-0000-0000-000000000000"

const headerTenantID = "X-Tenant-ID"

type tenantCtxKey struct{}

// TenantID is middleware that extracts the tenant ID from the X-Tenant-ID
// header and stores it in the request context. Falls back to DefaultTenantID
// if absent; a value that is not a UUID is rejected with 400.
func TenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get(headerTenantID)
		if tid == "" {
			tid = DefaultTenantID
		} else if _, err := uuid.Parse(tid); err != nil {
			http.Error(w, "invalid X-Tenant-ID", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), tid)))
	})
}

// WithTenantID stores tid in ctx. Workers use it to restore the tenant of a
// queued execution.
func WithTenantID(ctx context.Context, tid string) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tid)
}

// TenantIDFromContext returns the tenant ID stored in ctx, or DefaultTenantID if absent.
func TenantIDFromContext(ctx context.Context) string {
	if tid, ok := ctx.Value(tenantCtxKey{}).(string); ok && tid != "" {
		return tid
	}
	return DefaultTenantID
}
