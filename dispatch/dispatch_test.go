package dispatch

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalvas/urlmap"
)

func testHandler(t *testing.T, rules []*urlmap.Rule, opts ...urlmap.Option) *Handler {
	t.Helper()
	m, err := urlmap.New(rules, opts...)
	require.NoError(t, err)
	return NewHandler(m)
}

func TestDispatch(t *testing.T) {
	h := testHandler(t, []*urlmap.Rule{
		urlmap.NewRule("/", "index"),
		urlmap.NewRule("/user/<int:id>", "user_show"),
	})
	h.HandleFunc("index", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "index")
	})
	h.HandleFunc("user_show", func(w http.ResponseWriter, r *http.Request) {
		id, ok := ValueGet(r, "id")
		assert.True(t, ok)
		fmt.Fprintf(w, "user %d", id)
	})

	t.Run("static", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "index", w.Body.String())
	})

	t.Run("placeholder values reach the handler", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/23", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "user 23", w.Body.String())
	})

	t.Run("no match", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/abc", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("endpoint without handler", func(t *testing.T) {
		hh := testHandler(t, []*urlmap.Rule{urlmap.NewRule("/orphan", "orphan")})
		w := httptest.NewRecorder()
		hh.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orphan", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDispatchRedirect(t *testing.T) {
	h := testHandler(t, []*urlmap.Rule{
		urlmap.NewRule("/folder/", "folder"),
	})
	h.HandleFunc("folder", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "folder")
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example.com/folder", nil))
	assert.Equal(t, http.StatusPermanentRedirect, w.Code)
	assert.Equal(t, "http://example.com/folder/", w.Header().Get("Location"))
}

func TestDispatchMethodNotAllowed(t *testing.T) {
	h := testHandler(t, []*urlmap.Rule{
		urlmap.NewRule("/submit", "submit").Methods(http.MethodPost),
	})
	h.HandleFunc("submit", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	t.Run("default handler", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/submit", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		assert.Equal(t, "POST", w.Header().Get("Allow"))
	})

	t.Run("custom handler still gets the Allow header", func(t *testing.T) {
		h.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
		defer func() { h.MethodNotAllowedHandler = nil }()

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/submit", nil))
		assert.Equal(t, http.StatusTeapot, w.Code)
		assert.Equal(t, "POST", w.Header().Get("Allow"))
	})

	t.Run("matching method dispatches", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/submit", nil))
		assert.Equal(t, http.StatusCreated, w.Code)
	})
}

func TestDispatchNotFoundHandler(t *testing.T) {
	h := testHandler(t, []*urlmap.Rule{urlmap.NewRule("/", "index")})
	h.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "custom not found", http.StatusNotFound)
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "custom not found\n", w.Body.String())
}

func TestDispatchSubdomains(t *testing.T) {
	h := testHandler(t, []*urlmap.Rule{
		urlmap.NewRule("/", "index"),
		urlmap.NewRule("/", "api_index").Subdomain("api"),
	}, urlmap.WithSubdomainMatching())
	h.ServerName = "example.com"
	for _, endpoint := range []string{"index", "api_index"} {
		endpoint := endpoint
		h.HandleFunc(endpoint, func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, endpoint)
		})
	}

	t.Run("apex", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example.com/", nil))
		assert.Equal(t, "index", w.Body.String())
	})

	t.Run("subdomain", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://api.example.com/", nil))
		assert.Equal(t, "api_index", w.Body.String())
	})

	t.Run("foreign host", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://evil.test/", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestMiddlewareOrder(t *testing.T) {
	h := testHandler(t, []*urlmap.Rule{urlmap.NewRule("/", "index")})
	h.HandleFunc("index", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("handler"))
	})

	tag := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(name + ">"))
				next.ServeHTTP(w, r)
			})
		}
	}
	h.Use(tag("first"))
	h.Use(tag("second"))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "first>second>handler", w.Body.String())
}

func TestMiddlewareSeesMatchContext(t *testing.T) {
	h := testHandler(t, []*urlmap.Rule{urlmap.NewRule("/user/<int:id>", "user_show")})
	h.HandleFunc("user_show", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule := CurrentRule(r)
			require.NotNil(t, rule)
			w.Header().Set("X-Endpoint", rule.Endpoint())
			next.ServeHTTP(w, r)
		})
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/7", nil))
	assert.Equal(t, "user_show", w.Header().Get("X-Endpoint"))
}

func TestURLFor(t *testing.T) {
	h := testHandler(t, []*urlmap.Rule{
		urlmap.NewRule("/", "index"),
		urlmap.NewRule("/user/<int:id>", "user_show"),
	})
	h.HandleFunc("index", func(w http.ResponseWriter, r *http.Request) {
		url, err := URLFor(r, "user_show", urlmap.Values{"id": 23})
		require.NoError(t, err)
		fmt.Fprint(w, url)
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "/user/23", w.Body.String())
}

func TestContextOutsideDispatch(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	assert.Nil(t, Values(req))
	assert.Nil(t, CurrentRule(req))
	_, ok := ValueGet(req, "id")
	assert.False(t, ok)

	_, err := URLFor(req, "index", nil)
	assert.Error(t, err)
}

func TestSetValues(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = SetValues(req, urlmap.Values{"id": 42})

	id, ok := ValueGet(req, "id")
	assert.True(t, ok)
	assert.Equal(t, 42, id)
	assert.Equal(t, urlmap.Values{"id": 42}, Values(req))
}
