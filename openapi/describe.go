package openapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/vitalvas/urlmap"
)

// converterTypeMap maps built-in converter names to OpenAPI type and format.
var converterTypeMap = map[string][2]string{
	"int":     {"integer", ""},
	"float":   {"number", ""},
	"uuid":    {"string", "uuid"},
	"string":  {"string", ""},
	"default": {"string", ""},
	"any":     {"string", ""},
	"path":    {"string", ""},
}

// Describe assembles an OpenAPI Document from the bound rules of a map.
// Build-only and websocket rules are left out: the former never answer a
// request, the latter are not HTTP operations. Each rule becomes one
// operation per accepted method, keyed by its endpoint as the operation ID.
func Describe(m *urlmap.Map, info Info) *Document {
	doc := &Document{
		OpenAPI: "3.1.0",
		Info:    info,
		Paths:   make(map[string]*PathItem),
	}

	for _, rule := range m.Rules() {
		if rule.IsBuildOnly() || rule.IsWebsocket() {
			continue
		}

		path, params := openAPIPath(rule.Template())

		item, ok := doc.Paths[path]
		if !ok {
			item = &PathItem{}
			doc.Paths[path] = item
		}

		op := &Operation{
			OperationID: rule.Endpoint(),
			Parameters:  params,
			Responses: map[string]*Response{
				"default": {Description: "The endpoint response."},
			},
		}

		methods := rule.GetMethods()
		if methods == nil {
			methods = []string{http.MethodGet}
		}
		for _, method := range methods {
			assignOperation(item, method, op)
		}
	}

	return doc
}

// assignOperation assigns an operation to the correct HTTP method field on
// the path item.
func assignOperation(item *PathItem, method string, op *Operation) {
	switch method {
	case http.MethodGet:
		item.Get = op
	case http.MethodPut:
		item.Put = op
	case http.MethodPost:
		item.Post = op
	case http.MethodDelete:
		item.Delete = op
	case http.MethodOptions:
		item.Options = op
	case http.MethodHead:
		item.Head = op
	case http.MethodPatch:
		item.Patch = op
	case http.MethodTrace:
		item.Trace = op
	}
}

// openAPIPath converts a rule template to OpenAPI path format, replacing
// "<converter:name>" placeholders with "{name}", and generates the matching
// path parameter objects.
func openAPIPath(tpl string) (string, []*Parameter) {
	var (
		out    strings.Builder
		params []*Parameter
	)

	rest := tpl
	for {
		open := strings.IndexByte(rest, '<')
		if open < 0 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:open])
		rest = rest[open+1:]

		closing := placeholderEnd(rest)
		if closing < 0 {
			out.WriteByte('<')
			out.WriteString(rest)
			break
		}

		converter, name := splitPlaceholder(rest[:closing])
		rest = rest[closing+1:]

		out.WriteString("{" + name + "}")
		params = append(params, &Parameter{
			Name:     name,
			In:       "path",
			Required: true,
			Schema:   schemaFor(converter),
		})
	}

	return out.String(), params
}

// placeholderEnd returns the index of the closing bracket, skipping over
// quoted converter arguments.
func placeholderEnd(s string) int {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '>':
			return i
		}
	}
	return -1
}

// splitPlaceholder splits placeholder content into its converter and
// variable name. The separating colon sits outside converter arguments and
// quotes; a placeholder without one uses the default converter.
func splitPlaceholder(content string) (converter, name string) {
	var quote byte
	depth := 0
	for i := 0; i < len(content); i++ {
		c := content[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		case ':':
			if depth == 0 {
				head := content[:i]
				if paren := strings.IndexByte(head, '('); paren >= 0 {
					head = head[:paren]
				}
				return head, content[i+1:]
			}
		}
	}
	return "default", content
}

// schemaFor maps a converter name to a parameter schema. Custom converters
// fall back to a plain string.
func schemaFor(converter string) *Schema {
	if typeInfo, ok := converterTypeMap[converter]; ok {
		return &Schema{Type: typeInfo[0], Format: typeInfo[1]}
	}
	return &Schema{Type: "string"}
}

// SortedPaths returns the document's paths in lexicographic order, for
// stable iteration when rendering.
func (d *Document) SortedPaths() []string {
	paths := make([]string, 0, len(d.Paths))
	for p := range d.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
