package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMaxBytes(t *testing.T) {
	t.Parallel()

	h := MaxBytes(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				http.Error(w, "too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		body   string
		status int
	}{
		{body: "small", status: http.StatusNoContent},
		{body: strings.Repeat("x", 64), status: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "http://example.com/dev/dog", strings.NewReader(tc.body))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.status {
			t.Fatalf("body len %d: status = %d, want %d", len(tc.body), rr.Code, tc.status)
		}
	}
}

func TestRequestTimeout_SetsDeadline(t *testing.T) {
	t.Parallel()

	var hasDeadline bool
	h := RequestTimeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example.com/", nil))
	if !hasDeadline {
		t.Fatalf("expected a deadline on the request context")
	}

	var none bool
	RequestTimeout(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, none = r.Context().Deadline()
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example.com/", nil))
	if none {
		t.Fatalf("zero timeout must not set a deadline")
	}
}
