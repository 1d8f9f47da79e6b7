// Package openapi derives OpenAPI v3.1.0 documents from urlmap rule maps.
//
// See: https://spec.openapis.org/oas/v3.1.0
//
// # Describing a Map
//
// Describe walks the bound rules and produces a Document with one path per
// rule template and one operation per accepted method. Placeholders become
// required path parameters typed after their converter:
//
//	m, _ := urlmap.New([]*urlmap.Rule{
//		urlmap.NewRule("/users", "users_list"),
//		urlmap.NewRule("/users/<int:id>", "users_show"),
//	})
//
//	doc := openapi.Describe(m, openapi.Info{
//		Title:   "User Service",
//		Version: "1.0.0",
//	})
//
// The built-in converters map to schema types as follows:
//
//	int      - integer
//	float    - number
//	uuid     - string, format uuid
//	string   - string
//	any      - string
//	path     - string
//
// Custom converters fall back to a plain string schema.
//
// # Serving the Document
//
// Handler serves the document over HTTP, as JSON by default and as YAML
// when the request path ends in ".yaml" or ".yml":
//
//	h := dispatch.NewHandler(m)
//	docHandler := openapi.Handler(m, info)
//	h.Handle("openapi_json", docHandler)
//	h.Handle("openapi_yaml", docHandler)
//
// Build-only and websocket rules are not part of the document.
package openapi
