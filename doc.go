// Package urlmap maps URLs onto endpoint names and back.
//
// Rules are URL templates with typed placeholders, collected in a Map:
//
//	m, err := urlmap.New([]*urlmap.Rule{
//		urlmap.NewRule("/", "index"),
//		urlmap.NewRule("/user/<int:id>", "user").Methods("GET"),
//		urlmap.NewRule("/static/<path:file>", "static"),
//	})
//
// Matching and building go through an adapter bound to a server name:
//
//	adapter, err := m.Bind("example.com")
//	endpoint, values, err := adapter.Match("/user/42", "GET")  // "user", {"id": 42}
//	url, err := adapter.Build("user", urlmap.Values{"id": 42}) // "/user/42"
//
// Overlapping rules are ordered by specificity, not registration order:
// literal segments win over placeholders, and numeric placeholders win over
// generic ones. Trailing-slash and doubled-slash mismatches answer with a
// permanent redirect to the canonical URL instead of a 404.
//
// The package dispatches on path, host or subdomain, method and websocket
// handshakes; it deliberately knows nothing about handlers. See the
// dispatch package for plugging a Map into net/http.
package urlmap
