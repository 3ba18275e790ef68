package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimiter(t *testing.T) {
	h := RateLimiter(1, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i, code := range want {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dns/records", nil))
		if rec.Code != code {
			t.Errorf("request %d: status %d, want %d", i, rec.Code, code)
		}
	}
}
