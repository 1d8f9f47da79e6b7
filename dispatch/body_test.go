package dispatch

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bindTarget struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func TestBindJSON(t *testing.T) {
	t.Run("decodes valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ann","age":3}`))
		var v bindTarget
		require.NoError(t, BindJSON(req, &v))
		assert.Equal(t, bindTarget{Name: "ann", Age: 3}, v)
	})

	t.Run("rejects unknown fields by default", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ann","extra":true}`))
		var v bindTarget
		assert.Error(t, BindJSON(req, &v))
	})

	t.Run("allows unknown fields when requested", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ann","extra":true}`))
		var v bindTarget
		require.NoError(t, BindJSON(req, &v, true))
		assert.Equal(t, "ann", v.Name)
	})

	t.Run("rejects trailing data", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ann"}{"name":"bob"}`))
		var v bindTarget
		assert.Error(t, BindJSON(req, &v))
	})
}

func TestResponseJSON(t *testing.T) {
	t.Run("writes encoded value", func(t *testing.T) {
		w := httptest.NewRecorder()
		ResponseJSON(w, http.StatusCreated, map[string]string{"message": "hello"})
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"message":"hello"}`, w.Body.String())
	})

	t.Run("encoding failure writes 500", func(t *testing.T) {
		w := httptest.NewRecorder()
		ResponseJSON(w, http.StatusOK, make(chan int))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
