package urlmap

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

// MapAdapter is a Map bound to a server name, scheme and script prefix. All
// matching and building goes through an adapter; create one per request
// with BindToRequest, or a long-lived one with Bind.
type MapAdapter struct {
	m             *Map
	serverName    string
	scriptName    string
	subdomain     string
	subdomainSet  bool
	scheme        string
	defaultMethod string
	queryArgs     url.Values
}

// ServerName returns the normalized server name the adapter is bound to.
func (a *MapAdapter) ServerName() string { return a.serverName }

// Subdomain returns the bound subdomain.
func (a *MapAdapter) Subdomain() string { return a.subdomain }

// Match matches a decoded request path against the bound map and returns
// the endpoint name and extracted values. The error is ErrNotFound,
// ErrWebsocketMismatch, a *MethodNotAllowed or a *RequestRedirect; anything
// else came out of a custom converter.
func (a *MapAdapter) Match(path, method string) (string, Values, error) {
	rule, values, err := a.MatchRule(path, method)
	if err != nil {
		return "", nil, err
	}
	return rule.Endpoint(), values, nil
}

// MatchRule is Match returning the matched *Rule instead of its endpoint
// name.
func (a *MapAdapter) MatchRule(path, method string) (*Rule, Values, error) {
	if method == "" {
		method = a.defaultMethod
	}
	method = strings.ToUpper(method)
	websocket := a.scheme == "ws" || a.scheme == "wss"

	if path == "" {
		return nil, nil, &RequestRedirect{URL: a.makeRedirectURL("/", nil, nil), Code: 308}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	domain := ""
	switch {
	case a.m.hostMatching:
		domain = a.serverName
	case a.m.subdomainMatching:
		domain = a.subdomain
	}

	res := a.m.snapshot().match(domain, path, method, websocket)
	switch {
	case res.err != nil:
		return nil, nil, res.err
	case res.redirectPath != "":
		return nil, nil, &RequestRedirect{URL: a.makeRedirectURL(res.redirectPath, nil, nil), Code: 308}
	case res.rule != nil:
		return a.postProcess(res.rule, res.values, method, path)
	case len(res.allowed) > 0:
		allowed := make([]string, 0, len(res.allowed))
		for m := range res.allowed {
			allowed = append(allowed, m)
		}
		sort.Strings(allowed)
		return nil, nil, &MethodNotAllowed{Allowed: allowed}
	case res.wsMismatch:
		return nil, nil, ErrWebsocketMismatch
	}
	return nil, nil, ErrNotFound
}

// postProcess applies the redirect semantics of a matched rule: alias rules
// redirect to the canonical URL, rules shadowed by a sibling's defaults
// redirect there, and redirect rules go wherever they point.
func (a *MapAdapter) postProcess(rule *Rule, values Values, method, path string) (*Rule, Values, error) {
	if a.m.redirectDefaults {
		if rule.alias {
			if target, ok := a.aliasRedirectURL(rule, values, method, path); ok {
				return nil, nil, &RequestRedirect{URL: target, Code: 308}
			}
		}
		if target, ok := a.defaultRedirectURL(rule, values, method); ok {
			return nil, nil, &RequestRedirect{URL: target, Code: 308}
		}
	}
	if rule.redirectTo != "" {
		return nil, nil, &RequestRedirect{URL: a.resolveRedirectTarget(rule, values), Code: 308}
	}
	return rule, values, nil
}

// defaultRedirectURL finds an earlier build candidate for the same endpoint
// whose defaults pin exactly the matched values and redirects to it, so
// "/page/1" collapses onto "/page".
func (a *MapAdapter) defaultRedirectURL(rule *Rule, values Values, method string) (string, bool) {
	for _, r := range a.m.snapshot().byEndpoint[rule.endpoint] {
		if r == rule {
			break
		}
		if !r.providesDefaultsFor(rule) || !r.suitableFor(values, method) {
			continue
		}
		merged := make(Values, len(values)+len(r.defaults))
		for k, v := range values {
			merged[k] = v
		}
		for k, v := range r.defaults {
			merged[k] = v
		}
		domain, path, query, err := r.build(merged, true)
		if err != nil {
			continue
		}
		return a.makeRedirectURL(path, query, &domain), true
	}
	return "", false
}

func (a *MapAdapter) aliasRedirectURL(rule *Rule, values Values, method, path string) (string, bool) {
	target, err := a.Build(rule.endpoint, values, BuildMethod(method), ForceExternal(), DropUnknown())
	if err != nil {
		return "", false
	}
	if len(a.queryArgs) > 0 {
		target += "?" + a.queryArgs.Encode()
	}
	// an alias without a canonical sibling would redirect to itself
	if u, err := url.Parse(target); err == nil && u.Path == a.joinScript(path) {
		return "", false
	}
	return target, true
}

// resolveRedirectTarget interpolates "<name>" placeholders in a redirect
// rule's target and resolves it against the bound root URL.
func (a *MapAdapter) resolveRedirectTarget(rule *Rule, values Values) string {
	target := redirectPlaceholderRe.ReplaceAllStringFunc(rule.redirectTo, func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := values[name]
		if !ok {
			return match
		}
		if conv, ok := rule.converters[name]; ok {
			if s, err := conv.ToURL(value); err == nil {
				return s
			}
		}
		return fmt.Sprint(value)
	})

	scheme := a.scheme
	if scheme == "" {
		scheme = "http"
	}
	script := a.scriptName
	if !strings.HasSuffix(script, "/") {
		script += "/"
	}
	base, err := url.Parse(scheme + "://" + a.hostFor(nil) + script)
	if err != nil {
		return target
	}
	ref, err := url.Parse(target)
	if err != nil {
		return target
	}
	return base.ResolveReference(ref).String()
}

var redirectPlaceholderRe = regexp.MustCompile(`<([a-zA-Z_][a-zA-Z0-9_]*)>`)

// Test reports whether the path would match any rule, counting redirects as
// a match.
func (a *MapAdapter) Test(path, method string) bool {
	_, _, err := a.MatchRule(path, method)
	if err == nil {
		return true
	}
	var redirect *RequestRedirect
	return errors.As(err, &redirect)
}

// AllowedMethods returns the methods accepted at the given path, suitable
// for an Allow or Access-Control-Allow-Methods header.
func (a *MapAdapter) AllowedMethods(path string) []string {
	_, _, err := a.MatchRule(path, "--")
	var mna *MethodNotAllowed
	if errors.As(err, &mna) {
		return mna.Allowed
	}
	return nil
}

// BuildOption configures one Build call.
type BuildOption func(*buildOptions)

type buildOptions struct {
	method        string
	scheme        string
	schemeSet     bool
	forceExternal bool
	dropUnknown   bool
}

// BuildMethod restricts building to rules accepting the given method.
func BuildMethod(method string) BuildOption {
	return func(o *buildOptions) { o.method = strings.ToUpper(method) }
}

// ForceExternal builds an absolute URL even for the bound domain.
func ForceExternal() BuildOption {
	return func(o *buildOptions) { o.forceExternal = true }
}

// BuildScheme overrides the adapter scheme for this URL.
func BuildScheme(scheme string) BuildOption {
	return func(o *buildOptions) {
		o.scheme = strings.ToLower(scheme)
		o.schemeSet = true
	}
}

// DropUnknown discards values that have no placeholder instead of appending
// them as query parameters.
func DropUnknown() BuildOption {
	return func(o *buildOptions) { o.dropUnknown = true }
}

// Build is the reverse of Match: it renders a URL for an endpoint from the
// given values. Rules are tried most-specific first and the first one whose
// placeholders are all covered wins; nil values are dropped, extra values
// become query parameters. URLs for another domain, scheme class or an
// explicit ForceExternal come out absolute, everything else root-relative
// with the script prefix.
func (a *MapAdapter) Build(endpoint string, values Values, opts ...BuildOption) (string, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	clean := make(Values, len(values))
	for k, v := range values {
		if v != nil {
			clean[k] = v
		}
	}

	mt := a.m.snapshot()
	var lastErr error
	for _, r := range mt.byEndpoint[endpoint] {
		if !r.suitableFor(clean, o.method) {
			continue
		}
		domain, path, query, err := r.build(clean, !o.dropUnknown)
		if err != nil {
			lastErr = err
			continue
		}
		return a.assembleBuilt(r, domain, path, query, &o), nil
	}
	return "", a.buildError(mt, endpoint, values, o.method, lastErr)
}

func (a *MapAdapter) assembleBuilt(r *Rule, domain, path string, query url.Values, o *buildOptions) string {
	scheme := a.scheme
	if o.schemeSet {
		scheme = o.scheme
	}

	external := o.forceExternal || r.websocket
	var host string
	if a.m.hostMatching {
		host = domain
		if host == "" {
			host = a.serverName
		} else if !strings.EqualFold(host, a.serverName) {
			external = true
		}
	} else {
		if domain != a.subdomain {
			external = true
		}
		host = a.serverName
		if domain != "" {
			host = domain + "." + a.serverName
		}
	}

	if r.websocket {
		switch scheme {
		case "https", "wss":
			scheme = "wss"
		default:
			scheme = "ws"
		}
	}

	full := a.quotePath(a.joinScript(path))
	if query != nil {
		full += "?" + query.Encode()
	}
	if !external {
		return full
	}

	if encoded, err := idna.ToASCII(host); err == nil {
		host = encoded
	}
	var b strings.Builder
	if scheme != "" {
		b.WriteString(scheme)
		b.WriteByte(':')
	}
	b.WriteString("//")
	b.WriteString(host)
	b.WriteString(full)
	return b.String()
}

// buildError assembles the failure with the closest usable suggestion: a
// rule of the same endpoint missing the fewest values, or the most similar
// endpoint name.
func (a *MapAdapter) buildError(mt *matcher, endpoint string, values Values, method string, cause error) error {
	be := &BuildError{Endpoint: endpoint, Values: values, Method: method, cause: cause}

	if rules := mt.byEndpoint[endpoint]; len(rules) > 0 {
		best := rules[0]
		bestMissing := len(rules[0].arguments)
		for _, r := range rules {
			missing := 0
			for name := range r.arguments {
				if _, ok := values[name]; ok {
					continue
				}
				if _, ok := r.defaults[name]; ok {
					continue
				}
				missing++
			}
			if missing < bestMissing {
				best, bestMissing = r, missing
			}
		}
		be.Suggested = best
		return be
	}

	bestScore := 0.6
	for other, rules := range mt.byEndpoint {
		if score := similarity(endpoint, other); score > bestScore {
			bestScore = score
			be.Suggested = rules[0]
		}
	}
	return be
}

// similarity is a normalized edit-distance ratio in [0, 1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(editDistance(a, b))/float64(longest)
}

func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// makeRedirectURL renders an absolute URL for a redirect answer, carrying
// the adapter's bound query arguments.
func (a *MapAdapter) makeRedirectURL(pathInfo string, query url.Values, domainPart *string) string {
	merged := url.Values{}
	for k, vs := range query {
		merged[k] = vs
	}
	for k, vs := range a.queryArgs {
		merged[k] = append(merged[k], vs...)
	}

	scheme := a.scheme
	full := a.quotePath(a.joinScript(pathInfo))
	if len(merged) > 0 {
		full += "?" + merged.Encode()
	}

	host := a.hostFor(domainPart)
	if encoded, err := idna.ToASCII(host); err == nil {
		host = encoded
	}

	var b strings.Builder
	if scheme != "" {
		b.WriteString(scheme)
		b.WriteByte(':')
	}
	b.WriteString("//")
	b.WriteString(host)
	b.WriteString(full)
	return b.String()
}

// hostFor composes the host for an absolute URL. With host matching the
// domain part is the host itself; otherwise it is the subdomain prepended
// to the server name.
func (a *MapAdapter) hostFor(domainPart *string) string {
	if a.m.hostMatching {
		if domainPart != nil && *domainPart != "" {
			return *domainPart
		}
		return a.serverName
	}
	sub := a.subdomain
	if domainPart != nil {
		sub = *domainPart
	}
	if sub == "" {
		return a.serverName
	}
	return sub + "." + a.serverName
}

func (a *MapAdapter) joinScript(path string) string {
	script := strings.TrimSuffix(a.scriptName, "/")
	return script + path
}

// quotePath percent-encodes a decoded path for the wire, leaving the
// characters allowed in path segments intact.
func (a *MapAdapter) quotePath(path string) string {
	u := url.URL{Path: path}
	return u.EscapedPath()
}
