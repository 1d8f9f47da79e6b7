// Package dispatch connects a urlmap rule map to net/http: it binds each
// incoming request, matches the path, and invokes the handler registered
// for the matched endpoint with the converted placeholder values stored in
// the request context.
//
// Response semantics follow:
//   - RFC 9110 (HTTP Semantics)
//   - RFC 9112 (HTTP/1.1)
//   - RFC 7538 (308 Permanent Redirect)
//
// # Dispatcher
//
// Create a rule map, wrap it in a Handler and register endpoint handlers:
//
//	m, err := urlmap.New([]*urlmap.Rule{
//		urlmap.NewRule("/", "index"),
//		urlmap.NewRule("/user/<int:id>", "user_show"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	h := dispatch.NewHandler(m)
//	h.HandleFunc("index", IndexHandler)
//	h.HandleFunc("user_show", UserHandler)
//	http.ListenAndServe(":8080", h)
//
// Redirects raised by the rule map (slash normalization, redirect rules,
// default redirects) are answered directly with 308 Permanent Redirect.
// A method mismatch answers 405 with the Allow header set; no match
// answers 404.
//
// # Placeholder Values
//
// Converted values are stored in the request context, accessible via the
// Values and ValueGet functions:
//
//	func UserHandler(w http.ResponseWriter, r *http.Request) {
//		id, _ := dispatch.ValueGet(r, "id")
//		fmt.Fprintf(w, "user %d", id)
//	}
//
// CurrentRule returns the matched rule, and URLFor builds URLs for other
// endpoints with the binding of the current request:
//
//	url, err := dispatch.URLFor(r, "user_show", urlmap.Values{"id": 23})
//
// SetValues sets the placeholder values for a request, intended for testing
// endpoint handlers:
//
//	req = dispatch.SetValues(req, urlmap.Values{"id": 42})
//
// # Middleware
//
// Middleware wraps the matched endpoint handler; the first registered
// middleware is the outermost:
//
//	h.Use(dispatch.RequestIDMiddleware(dispatch.RequestIDConfig{}))
//	h.Use(dispatch.RecoveryMiddleware(dispatch.RecoveryConfig{}))
//
// # Error Handling
//
// The Handler provides two handler fields for error responses:
//
//	h.NotFoundHandler = http.HandlerFunc(custom404Handler)
//	h.MethodNotAllowedHandler = http.HandlerFunc(custom405Handler)
package dispatch
