package urlmap

import (
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"strings"
)

// Values carries the variable values extracted by Match or supplied to
// Build, keyed by placeholder name.
type Values map[string]any

// Rule maps one URL template onto an endpoint name. Rules are configured
// with chained calls and become immutable once added to a Map:
//
//	urlmap.NewRule("/user/<int:id>", "user").Methods("GET")
type Rule struct {
	template   string
	endpoint   string
	methods    map[string]struct{}
	defaults   Values
	subdomain  *string
	host       string
	strictOpt  *bool
	mergeOpt   *bool
	websocket  bool
	buildOnly  bool
	alias      bool
	redirectTo string

	err error

	// everything below is populated by compile
	bound    bool
	id       int
	isBranch bool
	strict   bool
	merge    bool

	pathParts  []*rulePart
	domainPart *rulePart

	buildDomain []buildOp
	buildPath   []buildOp

	varOrder   []string
	converters map[string]Converter
	convNames  map[string]string
	arguments  map[string]struct{}

	// absorbTrailing marks leaf rules ending in a slash-accepting
	// placeholder; a trailing slash on the request folds into that value.
	absorbTrailing bool

	signature string
}

// rulePart is one matchable unit of a compiled rule: a single path segment,
// the folded trailing pattern after a slash-accepting placeholder, or the
// host/subdomain pattern.
type rulePart struct {
	static    bool
	content   string
	isolating bool
	varNames  []string
	weight    partWeight
	re        *regexp.Regexp
}

type buildOp struct {
	variable bool
	text     string
}

// partWeight orders sibling patterns: parts with literal text before purely
// dynamic ones, earlier and longer literals first, then more placeholders
// before fewer, then cheaper converters (numbers before strings before
// slash-accepting ones).
type partWeight struct {
	statics []staticWeight
	args    []int
}

type staticWeight struct {
	pos    int
	length int
}

func (w partWeight) less(o partWeight) bool {
	if len(w.statics) != len(o.statics) {
		return len(w.statics) > len(o.statics)
	}
	for i := range w.statics {
		a, b := w.statics[i], o.statics[i]
		if a.pos != b.pos {
			return a.pos < b.pos
		}
		if a.length != b.length {
			return a.length > b.length
		}
	}
	if len(w.args) != len(o.args) {
		return len(w.args) > len(o.args)
	}
	for i := range w.args {
		if w.args[i] != o.args[i] {
			return w.args[i] < o.args[i]
		}
	}
	return false
}

// NewRule creates an unbound rule for the given path template and endpoint
// name. The template must start with "/"; a trailing "/" marks a branch URL
// that strict slash handling will redirect to.
func NewRule(template, endpoint string) *Rule {
	return &Rule{template: template, endpoint: endpoint}
}

func (r *Rule) frozen() bool {
	if r.bound {
		r.err = fmt.Errorf("rule %q is already bound and cannot be changed", r.template)
		return true
	}
	return false
}

// Methods restricts the rule to the given HTTP methods. Methods are
// normalized to upper case and GET implies HEAD. Without this call the rule
// accepts every method.
func (r *Rule) Methods(methods ...string) *Rule {
	if r.frozen() {
		return r
	}
	r.methods = make(map[string]struct{}, len(methods)+1)
	for _, m := range methods {
		r.methods[strings.ToUpper(m)] = struct{}{}
	}
	if _, ok := r.methods["GET"]; ok {
		r.methods["HEAD"] = struct{}{}
	}
	return r
}

// Defaults attaches default values merged into every match result. A rule
// whose defaults mirror the matched values of a more specific sibling makes
// that sibling redirect here (see the Map redirect defaults option).
func (r *Rule) Defaults(defaults Values) *Rule {
	if r.frozen() {
		return r
	}
	r.defaults = defaults
	return r
}

// Subdomain sets the subdomain template matched when the map does subdomain
// matching. Placeholders are allowed.
func (r *Rule) Subdomain(subdomain string) *Rule {
	if r.frozen() {
		return r
	}
	r.subdomain = &subdomain
	return r
}

// Host sets the full host template matched when the map does host matching.
// Placeholders are allowed.
func (r *Rule) Host(host string) *Rule {
	if r.frozen() {
		return r
	}
	r.host = host
	return r
}

// StrictSlashes overrides the map-wide strict slash setting for this rule.
func (r *Rule) StrictSlashes(strict bool) *Rule {
	if r.frozen() {
		return r
	}
	r.strictOpt = &strict
	return r
}

// MergeSlashes overrides the map-wide slash merging setting for this rule.
// When disabled, doubled slashes in the template and the request path are
// matched literally.
func (r *Rule) MergeSlashes(merge bool) *Rule {
	if r.frozen() {
		return r
	}
	r.mergeOpt = &merge
	return r
}

// Websocket marks the rule as matching only websocket handshakes (ws or wss
// scheme on the bound adapter). Websocket rules accept only GET, HEAD and
// OPTIONS methods and always build absolute ws/wss URLs.
func (r *Rule) Websocket() *Rule {
	if r.frozen() {
		return r
	}
	r.websocket = true
	return r
}

// BuildOnly excludes the rule from matching. It still participates in URL
// building.
func (r *Rule) BuildOnly() *Rule {
	if r.frozen() {
		return r
	}
	r.buildOnly = true
	return r
}

// Alias marks the rule as an alias for its endpoint: matching it redirects
// to the URL built from the canonical rule when default redirects are
// enabled. Alias rules are considered last when building.
func (r *Rule) Alias() *Rule {
	if r.frozen() {
		return r
	}
	r.alias = true
	return r
}

// RedirectTo makes every match of this rule answer with a redirect to the
// given target instead of the endpoint. "<name>" placeholders in the target
// are replaced with the matched values.
func (r *Rule) RedirectTo(target string) *Rule {
	if r.frozen() {
		return r
	}
	r.redirectTo = target
	return r
}

// Endpoint returns the endpoint name.
func (r *Rule) Endpoint() string { return r.endpoint }

// Template returns the path template the rule was created with.
func (r *Rule) Template() string { return r.template }

// GetMethods returns the accepted methods sorted, or nil when the rule
// accepts every method.
func (r *Rule) GetMethods() []string {
	if r.methods == nil {
		return nil
	}
	methods := make([]string, 0, len(r.methods))
	for m := range r.methods {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// GetDefaults returns a copy of the rule defaults.
func (r *Rule) GetDefaults() Values {
	if r.defaults == nil {
		return nil
	}
	defaults := make(Values, len(r.defaults))
	for k, v := range r.defaults {
		defaults[k] = v
	}
	return defaults
}

// GetHost returns the host template, if any.
func (r *Rule) GetHost() string { return r.host }

// GetSubdomain returns the subdomain template and whether one was set.
func (r *Rule) GetSubdomain() (string, bool) {
	if r.subdomain == nil {
		return "", false
	}
	return *r.subdomain, true
}

// IsWebsocket reports whether the rule matches websocket handshakes only.
func (r *Rule) IsWebsocket() bool { return r.websocket }

// IsBuildOnly reports whether the rule is excluded from matching.
func (r *Rule) IsBuildOnly() bool { return r.buildOnly }

// Variable describes one placeholder of a bound rule.
type Variable struct {
	Name      string
	Converter string
}

// Variables returns the placeholders of a bound rule in template order,
// host/subdomain placeholders first.
func (r *Rule) Variables() []Variable {
	vars := make([]Variable, 0, len(r.varOrder))
	for _, name := range r.varOrder {
		vars = append(vars, Variable{Name: name, Converter: r.convNames[name]})
	}
	return vars
}

func (r *Rule) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<Rule %q", r.template)
	if r.host != "" {
		fmt.Fprintf(&b, " host %q", r.host)
	} else if r.subdomain != nil {
		fmt.Fprintf(&b, " subdomain %q", *r.subdomain)
	}
	if methods := r.GetMethods(); methods != nil {
		fmt.Fprintf(&b, " (%s)", strings.Join(methods, ", "))
	}
	fmt.Fprintf(&b, " -> %s>", r.endpoint)
	return b.String()
}

// compile validates the rule against the map configuration and builds the
// match parts, the build program, the weighting and the collision
// signature. It does not mark the rule bound; Add does that once the whole
// batch validated.
func (r *Rule) compile(m *Map) error {
	if r.err != nil {
		return &RuleSyntaxError{Template: r.template, Err: r.err}
	}
	if r.bound {
		return &RuleSyntaxError{Template: r.template, Err: fmt.Errorf("rule is already bound to a map")}
	}
	if !strings.HasPrefix(r.template, "/") {
		return &RuleSyntaxError{Template: r.template, Err: fmt.Errorf("path templates must start with a slash")}
	}
	if r.host != "" && r.subdomain != nil {
		return &RuleSyntaxError{Template: r.template, Err: fmt.Errorf("host and subdomain are mutually exclusive")}
	}

	r.strict = m.strictSlashes
	if r.strictOpt != nil {
		r.strict = *r.strictOpt
	}
	r.merge = m.mergeSlashes
	if r.mergeOpt != nil {
		r.merge = *r.mergeOpt
	}

	if r.websocket {
		for method := range r.methods {
			switch method {
			case "GET", "HEAD", "OPTIONS":
			default:
				return &RuleSyntaxError{
					Template: r.template,
					Err:      fmt.Errorf("websocket rules cannot accept method %s", method),
				}
			}
		}
	}

	r.converters = make(map[string]Converter)
	r.convNames = make(map[string]string)
	r.arguments = make(map[string]struct{})
	r.varOrder = nil
	r.pathParts = nil
	r.domainPart = nil
	r.buildDomain = nil
	r.buildPath = nil

	var sig strings.Builder

	// host or subdomain pattern, depending on the map mode
	switch {
	case m.hostMatching:
		sig.WriteString("host:")
		if err := r.compileDomain(m, r.host, &sig); err != nil {
			return &RuleSyntaxError{Template: r.template, Err: err}
		}
	case m.subdomainMatching:
		tpl := m.defaultSubdomain
		if r.subdomain != nil {
			tpl = *r.subdomain
		}
		sig.WriteString("subdomain:")
		if err := r.compileDomain(m, tpl, &sig); err != nil {
			return &RuleSyntaxError{Template: r.template, Err: err}
		}
	}
	sig.WriteString("|path:")

	if err := r.compilePath(m, &sig); err != nil {
		return &RuleSyntaxError{Template: r.template, Err: err}
	}

	if r.isBranch {
		sig.WriteString("|branch")
	}
	if r.websocket {
		sig.WriteString("|ws")
	}
	r.signature = sig.String()

	for k := range r.defaults {
		r.arguments[k] = struct{}{}
	}
	return nil
}

func (r *Rule) compileDomain(m *Map, tpl string, sig *strings.Builder) error {
	tokens, err := parseTemplate(tpl)
	if err != nil {
		return err
	}

	var content strings.Builder
	var vars []string
	dynamic := false
	for _, tok := range tokens {
		if !tok.variable {
			content.WriteString(regexp.QuoteMeta(tok.static))
			sig.WriteString(tok.static)
			r.buildDomain = append(r.buildDomain, buildOp{text: tok.static})
			continue
		}
		dynamic = true
		conv, err := r.makeConverter(m, tok)
		if err != nil {
			return err
		}
		fmt.Fprintf(&content, "(?P<%s>%s)", tok.name, conv.Regexp())
		fmt.Fprintf(sig, "<%s(%s)>", tok.converter, tok.args)
		r.buildDomain = append(r.buildDomain, buildOp{variable: true, text: tok.name})
		vars = append(vars, tok.name)
	}

	part := &rulePart{static: !dynamic, content: tpl, isolating: true, varNames: vars}
	if dynamic {
		part.content = content.String()
		part.re, err = compileRegexp("^(?:" + part.content + ")$")
		if err != nil {
			return err
		}
	}
	r.domainPart = part
	return nil
}

// segPiece is one token of a single path segment: either a literal chunk or
// a placeholder.
type segPiece struct {
	literal string
	pos     int

	variable bool
	name     string
	conv     Converter
}

func (r *Rule) compilePath(m *Map, sig *strings.Builder) error {
	r.isBranch = strings.HasSuffix(r.template, "/")
	trimmed := strings.TrimSuffix(r.template, "/")
	body := strings.TrimPrefix(trimmed, "/")

	tokens, err := parseTemplate(body)
	if err != nil {
		return err
	}

	// split the token stream into path segments on literal slashes
	segments := [][]segPiece{nil}
	for _, tok := range tokens {
		if tok.variable {
			conv, err := r.makeConverter(m, tok)
			if err != nil {
				return err
			}
			fmt.Fprintf(sig, "<%s(%s)>", tok.converter, tok.args)
			last := len(segments) - 1
			segments[last] = append(segments[last], segPiece{variable: true, name: tok.name, conv: conv})
			continue
		}
		sig.WriteString(tok.static)
		text := tok.static
		offset := 0
		for {
			slash := strings.IndexByte(text, '/')
			chunk := text
			if slash >= 0 {
				chunk = text[:slash]
			}
			if chunk != "" {
				last := len(segments) - 1
				segments[last] = append(segments[last], segPiece{literal: chunk, pos: tok.pos + offset})
			}
			if slash < 0 {
				break
			}
			segments = append(segments, nil)
			text = text[slash+1:]
			offset += slash + 1
		}
	}
	if body == "" {
		segments = nil
	}

	// with slash merging, empty segments from doubled slashes vanish
	if r.merge {
		kept := segments[:0]
		for _, seg := range segments {
			if len(seg) > 0 {
				kept = append(kept, seg)
			}
		}
		segments = kept
	}

	// everything from the first slash-accepting placeholder onward folds
	// into one trailing part
	foldAt := -1
	for i, seg := range segments {
		for _, piece := range seg {
			if piece.variable && !piece.conv.PartIsolating() {
				foldAt = i
				break
			}
		}
		if foldAt >= 0 {
			break
		}
	}

	emit := func(segs [][]segPiece, folded bool) error {
		var content strings.Builder
		var raw strings.Builder
		var names []string
		var weight partWeight
		dynamic := false
		for i, seg := range segs {
			if i > 0 {
				content.WriteString("/")
			}
			for _, piece := range seg {
				if piece.variable {
					dynamic = true
					fmt.Fprintf(&content, "(?P<%s>%s)", piece.name, piece.conv.Regexp())
					names = append(names, piece.name)
					weight.args = append(weight.args, piece.conv.Weight())
					continue
				}
				content.WriteString(regexp.QuoteMeta(piece.literal))
				raw.WriteString(piece.literal)
				weight.statics = append(weight.statics, staticWeight{pos: piece.pos, length: len(piece.literal)})
			}
		}
		if !dynamic {
			r.pathParts = append(r.pathParts, &rulePart{static: true, content: raw.String(), isolating: true})
			return nil
		}
		part := &rulePart{
			content:   content.String(),
			isolating: !folded,
			varNames:  names,
			weight:    weight,
		}
		re, err := compileRegexp("^(?:" + part.content + ")$")
		if err != nil {
			return err
		}
		part.re = re
		r.pathParts = append(r.pathParts, part)
		return nil
	}

	stop := len(segments)
	if foldAt >= 0 {
		stop = foldAt
	}
	for _, seg := range segments[:stop] {
		if err := emit([][]segPiece{seg}, false); err != nil {
			return err
		}
	}
	if foldAt >= 0 {
		if err := emit(segments[foldAt:], true); err != nil {
			return err
		}
	}

	if foldAt >= 0 && !r.isBranch && len(segments) > 0 {
		lastSeg := segments[len(segments)-1]
		if len(lastSeg) > 0 {
			lastPiece := lastSeg[len(lastSeg)-1]
			r.absorbTrailing = lastPiece.variable && !lastPiece.conv.PartIsolating()
		}
	}

	r.compileBuildPath(tokens)
	return nil
}

// compileBuildPath turns the template tokens back into a build program,
// normalizing doubled slashes in literal text when the rule merges slashes.
func (r *Rule) compileBuildPath(tokens []templateToken) {
	r.buildPath = append(r.buildPath, buildOp{text: "/"})
	for _, tok := range tokens {
		if tok.variable {
			r.buildPath = append(r.buildPath, buildOp{variable: true, text: tok.name})
			continue
		}
		r.buildPath = append(r.buildPath, buildOp{text: tok.static})
	}
	if r.isBranch && r.template != "/" {
		r.buildPath = append(r.buildPath, buildOp{text: "/"})
	}

	// fuse adjacent literals so slash runs can be collapsed across them
	fused := r.buildPath[:0]
	for _, op := range r.buildPath {
		if !op.variable && len(fused) > 0 && !fused[len(fused)-1].variable {
			fused[len(fused)-1].text += op.text
			continue
		}
		fused = append(fused, op)
	}
	r.buildPath = fused

	if r.merge {
		for i := range r.buildPath {
			if r.buildPath[i].variable {
				continue
			}
			for strings.Contains(r.buildPath[i].text, "//") {
				r.buildPath[i].text = strings.ReplaceAll(r.buildPath[i].text, "//", "/")
			}
		}
	}
}

func (r *Rule) makeConverter(m *Map, tok templateToken) (Converter, error) {
	factory, ok := m.converters[tok.converter]
	if !ok {
		return nil, fmt.Errorf("unknown converter %q", tok.converter)
	}
	args, err := parseConverterArgs(tok.args)
	if err != nil {
		return nil, fmt.Errorf("converter %q: %w", tok.converter, err)
	}
	conv, err := factory(args)
	if err != nil {
		return nil, fmt.Errorf("converter %q: %w", tok.converter, err)
	}
	if _, dup := r.converters[tok.name]; dup {
		return nil, fmt.Errorf("duplicate placeholder %q", tok.name)
	}
	r.converters[tok.name] = conv
	r.convNames[tok.name] = tok.converter
	r.varOrder = append(r.varOrder, tok.name)
	r.arguments[tok.name] = struct{}{}
	return conv, nil
}

// methodsOverlap reports whether two method sets share at least one method.
// A nil set means every method.
func methodsOverlap(a, b map[string]struct{}) bool {
	if a == nil || b == nil {
		return true
	}
	for m := range a {
		if _, ok := b[m]; ok {
			return true
		}
	}
	return false
}

// suitableFor reports whether the rule can build a URL from the given
// values: the method is accepted, every placeholder has a value or a
// default, and supplied values agree with the defaults.
func (r *Rule) suitableFor(values Values, method string) bool {
	if method != "" && r.methods != nil {
		if _, ok := r.methods[method]; !ok {
			return false
		}
	}
	for name := range r.arguments {
		if _, ok := r.defaults[name]; ok {
			continue
		}
		if _, ok := values[name]; !ok {
			return false
		}
	}
	for name, def := range r.defaults {
		if given, ok := values[name]; ok && !equalValues(given, def) {
			return false
		}
	}
	return true
}

// providesDefaultsFor reports whether matching other should redirect to this
// rule: same endpoint, same placeholder set, and this rule pins some of the
// placeholders with defaults.
func (r *Rule) providesDefaultsFor(other *Rule) bool {
	if r == other || r.buildOnly || len(r.defaults) == 0 || r.endpoint != other.endpoint {
		return false
	}
	if len(r.arguments) != len(other.arguments) {
		return false
	}
	for name := range r.arguments {
		if _, ok := other.arguments[name]; !ok {
			return false
		}
	}
	return true
}

// build renders the domain and path for the given values. Unknown extra
// values become query parameters when appendUnknown is set. Values must
// cover every placeholder; call suitableFor first.
func (r *Rule) build(values Values, appendUnknown bool) (domain, path string, query url.Values, err error) {
	render := func(ops []buildOp) (string, error) {
		var b strings.Builder
		for _, op := range ops {
			if !op.variable {
				b.WriteString(op.text)
				continue
			}
			value, ok := values[op.text]
			if !ok {
				value = r.defaults[op.text]
			}
			s, err := r.converters[op.text].ToURL(value)
			if err != nil {
				return "", err
			}
			b.WriteString(s)
		}
		return b.String(), nil
	}

	if domain, err = render(r.buildDomain); err != nil {
		return "", "", nil, err
	}
	if path, err = render(r.buildPath); err != nil {
		return "", "", nil, err
	}

	if appendUnknown {
		query = url.Values{}
		for name, value := range values {
			if _, ok := r.arguments[name]; ok {
				continue
			}
			appendQueryValue(query, name, value)
		}
		if len(query) == 0 {
			query = nil
		}
	}
	return domain, path, query, nil
}

func appendQueryValue(query url.Values, name string, value any) {
	switch v := value.(type) {
	case nil:
	case []string:
		for _, item := range v {
			query.Add(name, item)
		}
	case []any:
		for _, item := range v {
			if item == nil {
				continue
			}
			if s, err := valueString(item); err == nil {
				query.Add(name, s)
			}
		}
	default:
		if s, err := valueString(v); err == nil {
			query.Add(name, s)
		}
	}
}

func equalValues(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// convertCaptures turns the raw regexp captures of a matched rule into typed
// values. With absorb set, the request's trailing slash is appended to the
// final captured value.
func (r *Rule) convertCaptures(domainRaw, pathRaw []string, absorb bool) (Values, error) {
	values := make(Values, len(r.varOrder)+len(r.defaults))
	raw := append(append([]string(nil), domainRaw...), pathRaw...)
	for i, name := range r.varOrder {
		s := raw[i]
		if absorb && i == len(r.varOrder)-1 {
			s += "/"
		}
		v, err := r.converters[name].ToValue(s)
		if err != nil {
			return nil, err
		}
		values[name] = v
	}
	for k, v := range r.defaults {
		values[k] = v
	}
	return values, nil
}
