package urlmap

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned by Match when no rule's path pattern matched.
// Triggers 404 Not Found per RFC 9110 Section 15.5.5.
var ErrNotFound = errors.New("urlmap: no matching rule was found")

// ErrWebsocketMismatch is returned by Match when a rule matched the path
// but the rule's websocket flag does not agree with the bound URL scheme.
// It signals a bad request (the route exists, but for the other protocol
// class), not a missing route.
var ErrWebsocketMismatch = errors.New("urlmap: rule requires a websocket connection")

// ErrValidation is the sentinel wrapped by converter ToValue errors when a
// value is recognized by the converter's pattern but rejected by its
// constraints. The matcher recovers from it by trying the next alternative;
// it never reaches the caller. Any other error returned by a converter
// propagates, since it signals a bug in caller-supplied code.
var ErrValidation = errors.New("invalid value")

// RequestRedirect is returned by Match when the request should be answered
// with a redirect instead of being dispatched: the path matched only after
// slash normalization, a matched rule carries a redirect target, or the
// matched values equal another rule's defaults. The dispatcher is expected
// to turn it into a real redirect response.
type RequestRedirect struct {
	// URL is the absolute target URL, query string included.
	URL string

	// Code is the suggested response status. Defaults to 308 Permanent
	// Redirect (RFC 9110 Section 15.4.9), which preserves the request
	// method across the redirect.
	Code int
}

func (e *RequestRedirect) Error() string {
	return fmt.Sprintf("urlmap: request redirect to %s", e.URL)
}

// MethodNotAllowed is returned by Match when at least one rule matched the
// path but none accepted the request method. Triggers 405 Method Not Allowed
// per RFC 9110 Section 15.5.6.
type MethodNotAllowed struct {
	// Allowed is the sorted union of every method accepted at the matched
	// path, suitable for the Allow response header. HEAD is always present
	// when GET is.
	Allowed []string
}

func (e *MethodNotAllowed) Error() string {
	return fmt.Sprintf("urlmap: method is not allowed, valid methods: %s", strings.Join(e.Allowed, ", "))
}

// RuleSyntaxError reports a malformed rule template: bad placeholder syntax,
// an unknown converter name, or converter arguments that could not be
// parsed or applied. It is only ever returned at bind time.
type RuleSyntaxError struct {
	// Template is the offending rule template.
	Template string

	Err error
}

func (e *RuleSyntaxError) Error() string {
	return fmt.Sprintf("urlmap: invalid rule %q: %v", e.Template, e.Err)
}

func (e *RuleSyntaxError) Unwrap() error { return e.Err }

// DuplicateRuleError reports two rules with the same static/variable
// signature on path and host/subdomain, the same websocket flag, and
// overlapping method sets. Returned at bind time.
type DuplicateRuleError struct {
	// Template is the template of the rejected rule.
	Template string

	// Existing is the previously bound rule it collides with.
	Existing *Rule
}

func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("urlmap: rule %q collides with already bound rule %q", e.Template, e.Existing.Template())
}

// BuildError is returned by Build when no rule for the endpoint could be
// built from the supplied values. It carries a suggestion naming the
// closest usable endpoint, the values that were missing, or the methods
// that would have worked.
type BuildError struct {
	Endpoint string
	Values   Values
	Method   string

	// Suggested is the closest-matching rule, if any.
	Suggested *Rule

	cause error
}

func (e *BuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "urlmap: could not build URL for endpoint %q", e.Endpoint)
	if e.Method != "" {
		fmt.Fprintf(&b, " (%s)", e.Method)
	}
	if len(e.Values) > 0 {
		fmt.Fprintf(&b, " with values %v", sortedKeys(e.Values))
	}
	b.WriteByte('.')

	if e.Suggested == nil {
		return b.String()
	}

	if e.Suggested.Endpoint() != e.Endpoint {
		fmt.Fprintf(&b, " Did you mean %q instead?", e.Suggested.Endpoint())
		return b.String()
	}

	if missing := e.missingValues(); len(missing) > 0 {
		fmt.Fprintf(&b, " Did you forget to specify values %v?", missing)
		return b.String()
	}

	if e.Method != "" && e.Suggested.methods != nil {
		if _, ok := e.Suggested.methods[e.Method]; !ok {
			fmt.Fprintf(&b, " Did you mean to use methods %v?", e.Suggested.GetMethods())
		}
	}

	return b.String()
}

func (e *BuildError) Unwrap() error { return e.cause }

// missingValues returns the suggested rule's required variables that were
// not supplied and have no default.
func (e *BuildError) missingValues() []string {
	if e.Suggested == nil {
		return nil
	}
	var missing []string
	for _, name := range e.Suggested.varOrder {
		if _, ok := e.Values[name]; ok {
			continue
		}
		if _, ok := e.Suggested.defaults[name]; ok {
			continue
		}
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return missing
}

func sortedKeys(v Values) []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
