package urlmap

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/idna"
)

// Map holds the bound rules of an application. Rules are matched and built
// through an adapter obtained from Bind or BindToRequest.
//
// A Map is safe for concurrent use. Matching works on an immutable snapshot
// that is rebuilt lazily after every mutation, so adding rules never blocks
// in-flight matches.
type Map struct {
	mu          sync.Mutex
	rules       []*Rule
	bySignature map[string][]*Rule
	nextID      int

	converters map[string]ConverterFactory

	strictSlashes     bool
	mergeSlashes      bool
	redirectDefaults  bool
	hostMatching      bool
	subdomainMatching bool
	defaultSubdomain  string

	matcher atomic.Pointer[matcher]
}

// Option configures a Map at construction time.
type Option func(*Map)

// WithStrictSlashes sets the map-wide strict slash default. When strict, a
// request whose trailing slash disagrees with the matched rule is redirected
// instead of served. Enabled by default.
func WithStrictSlashes(strict bool) Option {
	return func(m *Map) { m.strictSlashes = strict }
}

// WithMergeSlashes sets the map-wide slash merging default. When merging, a
// path that matches only after collapsing doubled slashes is redirected to
// the collapsed path. Enabled by default.
func WithMergeSlashes(merge bool) Option {
	return func(m *Map) { m.mergeSlashes = merge }
}

// WithRedirectDefaults controls whether matching a rule whose values equal
// another rule's defaults redirects to that rule's canonical URL. Enabled by
// default.
func WithRedirectDefaults(enabled bool) Option {
	return func(m *Map) { m.redirectDefaults = enabled }
}

// WithHostMatching makes rules match their full host template instead of a
// subdomain. Mutually exclusive with WithSubdomainMatching.
func WithHostMatching() Option {
	return func(m *Map) { m.hostMatching = true }
}

// WithSubdomainMatching makes rules match their subdomain template, derived
// from the bound server name. Mutually exclusive with WithHostMatching.
func WithSubdomainMatching() Option {
	return func(m *Map) { m.subdomainMatching = true }
}

// WithDefaultSubdomain sets the subdomain template used by rules without an
// explicit one when subdomain matching is enabled.
func WithDefaultSubdomain(subdomain string) Option {
	return func(m *Map) { m.defaultSubdomain = subdomain }
}

// WithConverter registers a custom converter factory under the given
// placeholder name, overriding a builtin of the same name.
func WithConverter(name string, factory ConverterFactory) Option {
	return func(m *Map) { m.converters[name] = factory }
}

// New creates a Map with the given rules and options.
func New(rules []*Rule, opts ...Option) (*Map, error) {
	m := &Map{
		bySignature:      make(map[string][]*Rule),
		converters:       defaultConverters(),
		strictSlashes:    true,
		mergeSlashes:     true,
		redirectDefaults: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.hostMatching && m.subdomainMatching {
		return nil, fmt.Errorf("urlmap: host matching and subdomain matching are mutually exclusive")
	}
	if err := m.Add(rules...); err != nil {
		return nil, err
	}
	return m, nil
}

// Add binds rules to the map. The whole batch is validated before any rule
// is committed, so a syntax error or collision leaves the map unchanged.
func (m *Map) Add(rules ...*Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range rules {
		if err := r.compile(m); err != nil {
			return err
		}
		if existing := m.findCollision(r); existing != nil {
			return &DuplicateRuleError{Template: r.template, Existing: existing}
		}
		for _, prev := range rules[:i] {
			if prev.signature == r.signature && methodsOverlap(prev.methods, r.methods) {
				return &DuplicateRuleError{Template: r.template, Existing: prev}
			}
		}
	}

	for _, r := range rules {
		r.bound = true
		r.id = m.nextID
		m.nextID++
		m.rules = append(m.rules, r)
		m.bySignature[r.signature] = append(m.bySignature[r.signature], r)
	}
	m.matcher.Store(nil)
	return nil
}

func (m *Map) findCollision(r *Rule) *Rule {
	for _, other := range m.bySignature[r.signature] {
		if methodsOverlap(other.methods, r.methods) {
			return other
		}
	}
	return nil
}

// Rules returns the bound rules in registration order.
func (m *Map) Rules() []*Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Rule(nil), m.rules...)
}

// RulesByEndpoint returns the bound rules for one endpoint in registration
// order.
func (m *Map) RulesByEndpoint(endpoint string) []*Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rules []*Rule
	for _, r := range m.rules {
		if r.endpoint == endpoint {
			rules = append(rules, r)
		}
	}
	return rules
}

// HasEndpoint reports whether any bound rule targets the endpoint.
func (m *Map) HasEndpoint(endpoint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.endpoint == endpoint {
			return true
		}
	}
	return false
}

// snapshot returns the current matcher, rebuilding it after mutations.
func (m *Map) snapshot() *matcher {
	if mt := m.matcher.Load(); mt != nil {
		return mt
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if mt := m.matcher.Load(); mt != nil {
		return mt
	}
	mt := newMatcher(m.rules)
	m.matcher.Store(mt)
	return mt
}

// BindOption configures an adapter created by Bind or BindToRequest.
type BindOption func(*MapAdapter)

// BindScriptName mounts the application under a path prefix. Matching
// strips it implicitly; built URLs carry it.
func BindScriptName(scriptName string) BindOption {
	return func(a *MapAdapter) { a.scriptName = scriptName }
}

// BindSubdomain sets the subdomain of the bound request. Binding an empty
// subdomain explicitly keeps it empty instead of falling back to the map's
// default subdomain.
func BindSubdomain(subdomain string) BindOption {
	return func(a *MapAdapter) {
		a.subdomain = subdomain
		a.subdomainSet = true
	}
}

// BindScheme sets the URL scheme used for matching the websocket class and
// for building external URLs. Defaults to "http".
func BindScheme(scheme string) BindOption {
	return func(a *MapAdapter) { a.scheme = strings.ToLower(scheme) }
}

// BindDefaultMethod sets the method assumed when Match is called with an
// empty method. Defaults to GET.
func BindDefaultMethod(method string) BindOption {
	return func(a *MapAdapter) { a.defaultMethod = strings.ToUpper(method) }
}

// BindQueryArgs attaches query arguments appended to redirect URLs issued
// by Match.
func BindQueryArgs(args url.Values) BindOption {
	return func(a *MapAdapter) { a.queryArgs = args }
}

// Bind returns an adapter matching and building URLs relative to the given
// server name. The server name is normalized to lower case and IDNA ASCII.
func (m *Map) Bind(serverName string, opts ...BindOption) (*MapAdapter, error) {
	normalized, err := normalizeServerName(serverName)
	if err != nil {
		return nil, fmt.Errorf("urlmap: invalid server name %q: %w", serverName, err)
	}
	a := &MapAdapter{
		m:             m,
		serverName:    normalized,
		scriptName:    "/",
		scheme:        "http",
		defaultMethod: "GET",
	}
	for _, opt := range opts {
		opt(a)
	}
	if !strings.HasPrefix(a.scriptName, "/") {
		a.scriptName = "/" + a.scriptName
	}
	if !a.subdomainSet && !m.hostMatching {
		a.subdomain = m.defaultSubdomain
	}
	return a, nil
}

// BindToRequest returns an adapter for an incoming request: scheme from the
// connection, host from the Host header with default ports stripped, query
// args from the URL, and the subdomain derived from serverName when the map
// does subdomain matching. An empty serverName uses the request host. A
// websocket handshake binds the ws or wss scheme.
func (m *Map) BindToRequest(r *http.Request, serverName string, opts ...BindOption) (*MapAdapter, error) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if isWebsocketUpgrade(r) {
		if scheme == "https" {
			scheme = "wss"
		} else {
			scheme = "ws"
		}
	}

	host := stripDefaultPort(strings.ToLower(r.Host), scheme)
	if serverName == "" {
		serverName = host
	} else {
		serverName = stripDefaultPort(strings.ToLower(serverName), scheme)
	}

	subdomain := ""
	if m.subdomainMatching && !m.hostMatching {
		switch {
		case host == serverName:
			subdomain = ""
		case strings.HasSuffix(host, "."+serverName):
			subdomain = host[:len(host)-len(serverName)-1]
		default:
			// the request host does not belong to the bound server name
			subdomain = "<invalid>"
		}
	}

	bindOpts := []BindOption{
		BindScheme(scheme),
		BindQueryArgs(r.URL.Query()),
	}
	if m.subdomainMatching && !m.hostMatching {
		bindOpts = append(bindOpts, BindSubdomain(subdomain))
	}
	bindOpts = append(bindOpts, opts...)

	name := serverName
	if m.hostMatching {
		name = host
	}
	return m.Bind(name, bindOpts...)
}

// isWebsocketUpgrade reports whether the request is a websocket handshake
// per RFC 6455 Section 4.2.1.
func isWebsocketUpgrade(r *http.Request) bool {
	if !httpguts.HeaderValuesContainsToken(r.Header.Values("Connection"), "Upgrade") {
		return false
	}
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func stripDefaultPort(host, scheme string) string {
	h, port, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	switch {
	case port == "80" && (scheme == "http" || scheme == "ws"):
		return h
	case port == "443" && (scheme == "https" || scheme == "wss"):
		return h
	}
	return host
}

// normalizeServerName lowercases the name and applies IDNA/punycode encoding
// to non-ASCII hosts, keeping any port.
func normalizeServerName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	host, port := name, ""
	if h, p, err := net.SplitHostPort(name); err == nil {
		host, port = h, p
	}
	if isASCII(host) {
		return name, nil
	}
	encoded, err := idna.ToASCII(host)
	if err != nil {
		return "", err
	}
	if port != "" {
		return net.JoinHostPort(encoded, port), nil
	}
	return encoded, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
