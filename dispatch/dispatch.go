package dispatch

import (
	"context"
	"net/http"
	"strings"

	"github.com/vitalvas/urlmap"
)

// matchContextKey is an unexported type for the single context key.
type matchContextKey struct{}

// ctxKey is the single context key used to store the match result.
var ctxKey = matchContextKey{}

// matchContext holds the matched rule, the extracted values and the adapter
// the request was bound with.
type matchContext struct {
	rule    *urlmap.Rule
	values  urlmap.Values
	adapter *urlmap.MapAdapter
}

// Values returns the converted placeholder values for the current request,
// if any.
func Values(r *http.Request) urlmap.Values {
	if mc, ok := r.Context().Value(ctxKey).(*matchContext); ok {
		return mc.values
	}
	return nil
}

// ValueGet returns the value of a single placeholder by name and a boolean
// indicating whether the placeholder exists.
func ValueGet(r *http.Request, name string) (any, bool) {
	if mc, ok := r.Context().Value(ctxKey).(*matchContext); ok && mc.values != nil {
		val, exists := mc.values[name]
		return val, exists
	}
	return nil, false
}

// CurrentRule returns the matched rule for the current request. This only
// works when called inside the handler of the matched endpoint because the
// matched rule is stored in the request context.
func CurrentRule(r *http.Request) *urlmap.Rule {
	if mc, ok := r.Context().Value(ctxKey).(*matchContext); ok {
		return mc.rule
	}
	return nil
}

// URLFor builds the URL for the given endpoint using the adapter the current
// request was bound with, so script name, server name and scheme carry over.
func URLFor(r *http.Request, endpoint string, values urlmap.Values, opts ...urlmap.BuildOption) (string, error) {
	if mc, ok := r.Context().Value(ctxKey).(*matchContext); ok && mc.adapter != nil {
		return mc.adapter.Build(endpoint, values, opts...)
	}
	return "", &urlmap.BuildError{Endpoint: endpoint, Values: values}
}

// SetValues sets the placeholder values for the given request, returning the
// modified request. This is intended for testing endpoint handlers.
func SetValues(r *http.Request, values urlmap.Values) *http.Request {
	mc := &matchContext{values: values}
	if prev, ok := r.Context().Value(ctxKey).(*matchContext); ok {
		mc.rule = prev.rule
		mc.adapter = prev.adapter
	}
	return r.WithContext(context.WithValue(r.Context(), ctxKey, mc))
}

// MiddlewareFunc is a function which receives an http.Handler and returns
// another http.Handler. It can be used to wrap handlers with additional
// behavior such as logging, authentication, etc.
type MiddlewareFunc func(http.Handler) http.Handler

// Handler dispatches requests over a rule map: each request is bound, the
// path matched and the handler registered for the matched endpoint invoked
// with the converted values in the request context.
type Handler struct {
	// NotFoundHandler is called when no rule matches the request. If nil,
	// http.NotFoundHandler() is used. Corresponds to 404 Not Found per
	// RFC 9110 Section 15.5.5.
	NotFoundHandler http.Handler

	// MethodNotAllowedHandler is called when a rule matches the path but
	// not the method. If nil, a default 405 handler is used. The Allow
	// header is always set before this handler is invoked, per RFC 9110
	// Section 15.5.6.
	MethodNotAllowedHandler http.Handler

	// ServerName pins the canonical server name used to derive subdomains.
	// When empty, the request host is used.
	ServerName string

	rules       *urlmap.Map
	handlers    map[string]http.Handler
	middlewares []MiddlewareFunc
}

// NewHandler creates a dispatcher for the given rule map.
func NewHandler(m *urlmap.Map) *Handler {
	return &Handler{
		rules:    m,
		handlers: make(map[string]http.Handler),
	}
}

// Rules returns the rule map the dispatcher routes over.
func (h *Handler) Rules() *urlmap.Map { return h.rules }

// Handle registers the handler invoked for the given endpoint.
func (h *Handler) Handle(endpoint string, handler http.Handler) *Handler {
	h.handlers[endpoint] = handler
	return h
}

// HandleFunc registers the handler function invoked for the given endpoint.
func (h *Handler) HandleFunc(endpoint string, handler func(http.ResponseWriter, *http.Request)) *Handler {
	return h.Handle(endpoint, http.HandlerFunc(handler))
}

// Use appends middlewares to the chain. Middlewares wrap the matched
// endpoint handler in registration order: the first registered middleware
// is the outermost.
func (h *Handler) Use(mwf ...MiddlewareFunc) {
	h.middlewares = append(h.middlewares, mwf...)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	adapter, err := h.rules.BindToRequest(r, h.ServerName)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rule, values, err := adapter.MatchRule(r.URL.Path, r.Method)
	if err != nil {
		h.serveError(w, r, err)
		return
	}

	handler, ok := h.handlers[rule.Endpoint()]
	if !ok {
		h.notFound(w, r)
		return
	}

	mc := &matchContext{rule: rule, values: values, adapter: adapter}
	r = r.WithContext(context.WithValue(r.Context(), ctxKey, mc))

	for i := len(h.middlewares) - 1; i >= 0; i-- {
		handler = h.middlewares[i](handler)
	}
	handler.ServeHTTP(w, r)
}

func (h *Handler) serveError(w http.ResponseWriter, r *http.Request, err error) {
	switch e := err.(type) {
	case *urlmap.RequestRedirect:
		http.Redirect(w, r, e.URL, e.Code)
		return
	case *urlmap.MethodNotAllowed:
		w.Header().Set("Allow", strings.Join(e.Allowed, ", "))
		if h.MethodNotAllowedHandler != nil {
			h.MethodNotAllowedHandler.ServeHTTP(w, r)
			return
		}
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if err == urlmap.ErrWebsocketMismatch {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.notFound(w, r)
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	if h.NotFoundHandler != nil {
		h.NotFoundHandler.ServeHTTP(w, r)
		return
	}
	http.NotFoundHandler().ServeHTTP(w, r)
}
