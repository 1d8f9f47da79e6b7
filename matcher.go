package urlmap

import (
	"errors"
	"sort"
	"strings"
)

// node is one state of the matching tree. Static edges are keyed by the
// literal segment text and are always tried before the dynamic edges, which
// are kept sorted by weight.
type node struct {
	static  map[string]*node
	dynamic []*edge
	rules   []*Rule
}

type edge struct {
	part   *rulePart
	target *node
}

// matcher is an immutable snapshot of a Map's bound rules: the matching
// tree plus the per-endpoint build index. Maps swap in a fresh matcher
// after every mutation, so readers never need a lock.
type matcher struct {
	root       *node
	byEndpoint map[string][]*Rule
}

func newMatcher(rules []*Rule) *matcher {
	mt := &matcher{
		root:       &node{},
		byEndpoint: make(map[string][]*Rule),
	}
	for _, r := range rules {
		mt.byEndpoint[r.endpoint] = append(mt.byEndpoint[r.endpoint], r)
		if !r.buildOnly {
			mt.insert(r)
		}
	}
	for _, endpointRules := range mt.byEndpoint {
		sortBuildCandidates(endpointRules)
	}
	mt.sortEdges(mt.root)
	return mt
}

// sortBuildCandidates orders the rules tried by Build: canonical rules
// before aliases, rules consuming more placeholders first so extra values
// end up in the path instead of the query string, then more defaults first,
// then registration order.
func sortBuildCandidates(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.alias != b.alias {
			return !a.alias
		}
		if len(a.arguments) != len(b.arguments) {
			return len(a.arguments) > len(b.arguments)
		}
		if len(a.defaults) != len(b.defaults) {
			return len(a.defaults) > len(b.defaults)
		}
		return a.id < b.id
	})
}

func (mt *matcher) insert(r *Rule) {
	cur := mt.root
	for _, part := range r.pathParts {
		if part.static {
			if cur.static == nil {
				cur.static = make(map[string]*node)
			}
			next, ok := cur.static[part.content]
			if !ok {
				next = &node{}
				cur.static[part.content] = next
			}
			cur = next
			continue
		}
		var next *node
		for _, e := range cur.dynamic {
			if e.part.content == part.content && e.part.isolating == part.isolating {
				next = e.target
				break
			}
		}
		if next == nil {
			next = &node{}
			cur.dynamic = append(cur.dynamic, &edge{part: part, target: next})
		}
		cur = next
	}
	cur.rules = append(cur.rules, r)
}

func (mt *matcher) sortEdges(n *node) {
	sort.SliceStable(n.dynamic, func(i, j int) bool {
		return n.dynamic[i].part.weight.less(n.dynamic[j].part.weight)
	})
	for _, next := range n.static {
		mt.sortEdges(next)
	}
	for _, e := range n.dynamic {
		mt.sortEdges(e.target)
	}
}

// matchResult is the outcome of one matcher run.
type matchResult struct {
	rule   *Rule
	values Values

	// redirectPath is set instead of rule when the path matched a strict
	// rule up to its trailing slash, or only after collapsing doubled
	// slashes.
	redirectPath string

	allowed    map[string]struct{}
	wsMismatch bool

	// err carries a non-recoverable converter error
	err error
}

type matchContext struct {
	domain    string
	method    string
	websocket bool

	path     string
	trailing bool

	allowed    map[string]struct{}
	wsMismatch bool
}

func (ctx *matchContext) recordAllowed(methods map[string]struct{}) {
	if ctx.allowed == nil {
		ctx.allowed = make(map[string]struct{})
	}
	for m := range methods {
		ctx.allowed[m] = struct{}{}
	}
}

type hit struct {
	rule     *Rule
	values   Values
	redirect string
	err      error
}

func (mt *matcher) match(domain, path, method string, websocket bool) matchResult {
	parts, trailing := splitPath(path)
	ctx := &matchContext{
		domain:    domain,
		method:    method,
		websocket: websocket,
		path:      path,
		trailing:  trailing,
	}

	h := mt.walk(mt.root, ctx, parts, nil)

	// retry with doubled slashes collapsed; acceptance is gated on the
	// matched rule's slash merging setting
	if h == nil && hasEmptyPart(parts) {
		collapsed := collapseParts(parts)
		cctx := &matchContext{
			domain:     ctx.domain,
			method:     method,
			websocket:  websocket,
			path:       joinParts(collapsed, trailing),
			trailing:   trailing,
			allowed:    ctx.allowed,
			wsMismatch: ctx.wsMismatch,
		}
		h2 := mt.walk(mt.root, cctx, collapsed, nil)
		ctx.allowed = cctx.allowed
		ctx.wsMismatch = cctx.wsMismatch
		if h2 != nil {
			switch {
			case h2.err != nil || h2.redirect != "":
				h = h2
			case h2.rule.merge && (method == "GET" || method == "HEAD"):
				h = &hit{redirect: cctx.path}
			}
		}
	}

	res := matchResult{allowed: ctx.allowed, wsMismatch: ctx.wsMismatch}
	if h != nil {
		res.rule = h.rule
		res.values = h.values
		res.redirectPath = h.redirect
		res.err = h.err
	}
	return res
}

// walk advances one path part per recursion step, static edge first, then
// dynamic edges in weight order, backtracking on failure. raw accumulates
// the captured placeholder texts.
func (mt *matcher) walk(n *node, ctx *matchContext, parts []string, raw []string) *hit {
	if len(parts) == 0 {
		return mt.terminal(n, ctx, raw)
	}

	if next, ok := n.static[parts[0]]; ok {
		if h := mt.walk(next, ctx, parts[1:], raw); h != nil {
			return h
		}
	}

	for _, e := range n.dynamic {
		target := parts[0]
		rest := parts[1:]
		if !e.part.isolating {
			// the folded trailing pattern consumes the whole remainder
			target = strings.Join(parts, "/")
			rest = nil
		}
		m := e.part.re.FindStringSubmatch(target)
		if m == nil {
			continue
		}
		next := raw
		for i, name := range e.part.re.SubexpNames() {
			if name != "" {
				next = append(next[:len(next):len(next)], m[i])
			}
		}
		if h := mt.walk(e.target, ctx, rest, next); h != nil {
			return h
		}
	}
	return nil
}

// terminal evaluates the rules bound at a tree node in three passes: rules
// whose slash form matches the request exactly, then lenient rules that
// accept either form, then strict rules worth a slash redirect. Within each
// pass rules keep registration order.
func (mt *matcher) terminal(n *node, ctx *matchContext, raw []string) *hit {
	// pass 1: exact slash form, including trailing slash absorption into a
	// final slash-accepting placeholder
	for _, r := range n.rules {
		if r.isBranch == ctx.trailing {
			if h := mt.evalRule(r, ctx, raw, false); h != nil {
				return h
			}
		} else if !r.isBranch && ctx.trailing && r.absorbTrailing {
			if h := mt.evalRule(r, ctx, raw, true); h != nil {
				return h
			}
		}
	}

	// pass 2: lenient rules accept the other slash form as-is
	for _, r := range n.rules {
		if r.strict || r.isBranch == ctx.trailing {
			continue
		}
		if !r.isBranch && ctx.trailing && r.absorbTrailing {
			continue
		}
		if h := mt.evalRule(r, ctx, raw, false); h != nil {
			return h
		}
	}

	// pass 3: strict rules in the other slash form trigger a redirect for
	// safe methods
	if ctx.method == "GET" || ctx.method == "HEAD" {
		for _, r := range n.rules {
			if !r.strict || r.isBranch == ctx.trailing {
				continue
			}
			if r.methods != nil {
				if _, ok := r.methods[ctx.method]; !ok {
					continue
				}
			}
			if !r.domainMatches(ctx.domain) {
				continue
			}
			if r.isBranch {
				return &hit{redirect: ctx.path + "/"}
			}
			return &hit{redirect: strings.TrimSuffix(ctx.path, "/")}
		}
	}
	return nil
}

// evalRule checks domain, method and websocket class, then converts the
// captures. A constraint validation failure makes the matcher move on to
// the next alternative.
func (mt *matcher) evalRule(r *Rule, ctx *matchContext, raw []string, absorb bool) *hit {
	domainRaw, ok := r.captureDomain(ctx.domain)
	if !ok {
		return nil
	}
	if r.methods != nil {
		if _, ok := r.methods[ctx.method]; !ok {
			ctx.recordAllowed(r.methods)
			return nil
		}
	}
	if r.websocket != ctx.websocket {
		ctx.wsMismatch = true
		return nil
	}
	values, err := r.convertCaptures(domainRaw, raw, absorb)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return nil
		}
		return &hit{err: err}
	}
	return &hit{rule: r, values: values}
}

func (r *Rule) domainMatches(domain string) bool {
	_, ok := r.captureDomain(domain)
	return ok
}

// captureDomain matches the host or subdomain pattern and returns the raw
// captures. Rules without a domain pattern match any domain.
func (r *Rule) captureDomain(domain string) ([]string, bool) {
	if r.domainPart == nil {
		return nil, true
	}
	if r.domainPart.static {
		return nil, r.domainPart.content == domain
	}
	m := r.domainPart.re.FindStringSubmatch(domain)
	if m == nil {
		return nil, false
	}
	var raw []string
	for i, name := range r.domainPart.re.SubexpNames() {
		if name != "" {
			raw = append(raw, m[i])
		}
	}
	return raw, true
}

// splitPath splits a decoded request path into its segments and whether it
// carried a trailing slash. Doubled slashes produce empty segments, which
// only rules with slash merging disabled can match.
func splitPath(path string) (parts []string, trailing bool) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil, true
	}
	if strings.HasSuffix(path, "/") {
		trailing = true
		path = path[:len(path)-1]
	}
	return strings.Split(path, "/"), trailing
}

func hasEmptyPart(parts []string) bool {
	for _, p := range parts {
		if p == "" {
			return true
		}
	}
	return false
}

func collapseParts(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinParts(parts []string, trailing bool) string {
	path := "/" + strings.Join(parts, "/")
	if trailing && len(parts) > 0 {
		path += "/"
	}
	return path
}
