package security

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const itemPayload = `{"id":"sku-1","name":"Mechanical Keyboard","price":"129.99","quantity":1}`

func TestBodyLimitPassesCartPayloadThrough(t *testing.T) {
	limiter := BodyLimit{Max: int64(len(itemPayload))}
	var captured string
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		captured = string(data)
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/carts/default/items", strings.NewReader(itemPayload))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, itemPayload, captured, "handler should see the full item payload")
}

func TestBodyLimitRejectsOversizedSnapshot(t *testing.T) {
	limiter := BodyLimit{Max: 64}
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	snapshot := `{"items":[` + strings.Repeat(itemPayload+",", 10) + itemPayload + `]}`
	req := httptest.NewRequest(http.MethodPut, "/carts/default/content", strings.NewReader(snapshot))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestBodyLimitRejectsDeclaredOversizedLength(t *testing.T) {
	limiter := BodyLimit{Max: 64}
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/carts/default/items", strings.NewReader(itemPayload))
	req.ContentLength = 1 << 20
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}
