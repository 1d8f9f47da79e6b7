package urlmap

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Converter weights used for route ordering. Lower weights sort earlier, so
// numeric segments are preferred over generic strings, and path segments are
// tried last.
const (
	weightNumber  = 50
	weightDefault = 100
	weightPath    = 200
)

// Converter parses one URL placeholder. Regexp supplies the pattern matched
// against the raw path segment, ToValue turns the captured text into a typed
// value and ToURL does the reverse for URL building.
//
// A converter whose PartIsolating reports false may match across "/"
// boundaries; its pattern is folded together with everything after it into a
// single trailing pattern.
type Converter interface {
	Regexp() string
	PartIsolating() bool
	Weight() int
	ToValue(s string) (any, error)
	ToURL(v any) (string, error)
}

// ConverterFactory builds a converter from the arguments of one placeholder,
// e.g. the "2, signed=true" in "<int(2, signed=true):id>". A new converter is
// created per placeholder at bind time.
type ConverterFactory func(args *ConverterArgs) (Converter, error)

// ConverterArgs holds the parsed placeholder arguments: positional values
// followed by name=value pairs. Values are string, int64, float64, bool or
// nil depending on the literal used in the template.
type ConverterArgs struct {
	positional []any
	keyword    map[string]any
}

// bindNames maps positional arguments onto parameter names so factories can
// look everything up by name.
func (a *ConverterArgs) bindNames(names ...string) error {
	if len(a.positional) > len(names) {
		return fmt.Errorf("too many arguments: got %d positional, want at most %d", len(a.positional), len(names))
	}
	for i, v := range a.positional {
		if _, ok := a.keyword[names[i]]; ok {
			return fmt.Errorf("argument %q given both positionally and by name", names[i])
		}
		if a.keyword == nil {
			a.keyword = make(map[string]any)
		}
		a.keyword[names[i]] = v
	}
	a.positional = nil
	return nil
}

// Strings returns all positional arguments as strings. Used by converters
// taking a free-form list, like "any".
func (a *ConverterArgs) Strings() []string {
	out := make([]string, 0, len(a.positional))
	for _, v := range a.positional {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

func (a *ConverterArgs) checkKnown(names ...string) error {
	for k := range a.keyword {
		known := false
		for _, n := range names {
			if k == n {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown argument %q", k)
		}
	}
	return nil
}

func (a *ConverterArgs) intArg(name string) (int, bool, error) {
	v, ok := a.keyword[name]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int64:
		return int(n), true, nil
	case float64:
		if n == float64(int(n)) {
			return int(n), true, nil
		}
	}
	return 0, false, fmt.Errorf("argument %q must be an integer", name)
}

func (a *ConverterArgs) floatArg(name string) (float64, bool, error) {
	v, ok := a.keyword[name]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int64:
		return float64(n), true, nil
	case float64:
		return n, true, nil
	}
	return 0, false, fmt.Errorf("argument %q must be a number", name)
}

func (a *ConverterArgs) boolArg(name string, def bool) (bool, error) {
	v, ok := a.keyword[name]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("argument %q must be a boolean", name)
	}
	return b, nil
}

func defaultConverters() map[string]ConverterFactory {
	return map[string]ConverterFactory{
		"default": newStringConverter,
		"string":  newStringConverter,
		"any":     newAnyConverter,
		"path":    newPathConverter,
		"int":     newIntConverter,
		"float":   newFloatConverter,
		"uuid":    newUUIDConverter,
	}
}

// stringConverter matches a single non-empty path segment. It is the default
// for placeholders without an explicit converter.
type stringConverter struct {
	regex string
}

func newStringConverter(args *ConverterArgs) (Converter, error) {
	if err := args.bindNames("minlength", "maxlength", "length"); err != nil {
		return nil, err
	}
	if err := args.checkKnown("minlength", "maxlength", "length"); err != nil {
		return nil, err
	}

	if length, ok, err := args.intArg("length"); err != nil {
		return nil, err
	} else if ok {
		return &stringConverter{regex: fmt.Sprintf("[^/]{%d}", length)}, nil
	}

	minlength, ok, err := args.intArg("minlength")
	if err != nil {
		return nil, err
	}
	if !ok {
		minlength = 1
	}
	if minlength < 1 {
		return nil, fmt.Errorf("minlength must be at least 1")
	}
	if maxlength, ok, err := args.intArg("maxlength"); err != nil {
		return nil, err
	} else if ok {
		return &stringConverter{regex: fmt.Sprintf("[^/]{%d,%d}", minlength, maxlength)}, nil
	}
	return &stringConverter{regex: fmt.Sprintf("[^/]{%d,}", minlength)}, nil
}

func (c *stringConverter) Regexp() string      { return c.regex }
func (c *stringConverter) PartIsolating() bool { return true }
func (c *stringConverter) Weight() int         { return weightDefault }

func (c *stringConverter) ToValue(s string) (any, error) { return s, nil }

func (c *stringConverter) ToURL(v any) (string, error) { return valueString(v) }

// anyConverter matches one of a fixed set of segment values.
type anyConverter struct {
	items []string
	regex string
}

func newAnyConverter(args *ConverterArgs) (Converter, error) {
	if len(args.keyword) > 0 {
		return nil, fmt.Errorf("any converter takes only positional arguments")
	}
	items := args.Strings()
	if len(items) == 0 {
		return nil, fmt.Errorf("any converter needs at least one value")
	}
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = regexp.QuoteMeta(item)
	}
	return &anyConverter{
		items: items,
		regex: "(?:" + strings.Join(quoted, "|") + ")",
	}, nil
}

func (c *anyConverter) Regexp() string      { return c.regex }
func (c *anyConverter) PartIsolating() bool { return true }
func (c *anyConverter) Weight() int         { return weightDefault }

func (c *anyConverter) ToValue(s string) (any, error) { return s, nil }

func (c *anyConverter) ToURL(v any) (string, error) {
	s, err := valueString(v)
	if err != nil {
		return "", err
	}
	for _, item := range c.items {
		if s == item {
			return s, nil
		}
	}
	return "", fmt.Errorf("%q is not one of %s", s, strings.Join(c.items, ", "))
}

// pathConverter matches like the default converter but accepts slashes. It is
// not part isolating, so everything after it in the template folds into one
// trailing pattern.
type pathConverter struct{}

func newPathConverter(args *ConverterArgs) (Converter, error) {
	if len(args.positional) > 0 || len(args.keyword) > 0 {
		return nil, fmt.Errorf("path converter takes no arguments")
	}
	return pathConverter{}, nil
}

func (pathConverter) Regexp() string      { return "[^/].*?" }
func (pathConverter) PartIsolating() bool { return false }
func (pathConverter) Weight() int         { return weightPath }

func (pathConverter) ToValue(s string) (any, error) { return s, nil }

func (pathConverter) ToURL(v any) (string, error) { return valueString(v) }

// intConverter matches decimal integers and yields int values.
type intConverter struct {
	regex       string
	fixedDigits int
	min, max    *int
	signed      bool
}

func newIntConverter(args *ConverterArgs) (Converter, error) {
	if err := args.bindNames("fixed_digits", "min", "max", "signed"); err != nil {
		return nil, err
	}
	if err := args.checkKnown("fixed_digits", "min", "max", "signed"); err != nil {
		return nil, err
	}

	c := &intConverter{}
	var err error
	if c.signed, err = args.boolArg("signed", false); err != nil {
		return nil, err
	}
	if n, ok, err := args.intArg("fixed_digits"); err != nil {
		return nil, err
	} else if ok {
		c.fixedDigits = n
	}
	if n, ok, err := args.intArg("min"); err != nil {
		return nil, err
	} else if ok {
		c.min = &n
	}
	if n, ok, err := args.intArg("max"); err != nil {
		return nil, err
	} else if ok {
		c.max = &n
	}

	c.regex = `\d+`
	if c.signed {
		c.regex = `-?\d+`
	}
	return c, nil
}

func (c *intConverter) Regexp() string      { return c.regex }
func (c *intConverter) PartIsolating() bool { return true }
func (c *intConverter) Weight() int         { return weightNumber }

func (c *intConverter) ToValue(s string) (any, error) {
	if c.fixedDigits > 0 && len(strings.TrimPrefix(s, "-")) != c.fixedDigits {
		return nil, fmt.Errorf("%w: %q is not %d digits", ErrValidation, s, c.fixedDigits)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an integer", ErrValidation, s)
	}
	if err := c.checkRange(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (c *intConverter) ToURL(v any) (string, error) {
	n, err := valueInt(v)
	if err != nil {
		return "", err
	}
	if err := c.checkRange(n); err != nil {
		return "", err
	}
	s := strconv.Itoa(n)
	if c.fixedDigits > 0 {
		for len(s) < c.fixedDigits {
			s = "0" + s
		}
	}
	return s, nil
}

func (c *intConverter) checkRange(n int) error {
	if c.min != nil && n < *c.min {
		return fmt.Errorf("%w: %d is below the minimum %d", ErrValidation, n, *c.min)
	}
	if c.max != nil && n > *c.max {
		return fmt.Errorf("%w: %d is above the maximum %d", ErrValidation, n, *c.max)
	}
	return nil
}

// floatConverter matches decimal numbers containing a dot and yields float64
// values.
type floatConverter struct {
	regex    string
	min, max *float64
	signed   bool
}

func newFloatConverter(args *ConverterArgs) (Converter, error) {
	if err := args.bindNames("min", "max", "signed"); err != nil {
		return nil, err
	}
	if err := args.checkKnown("min", "max", "signed"); err != nil {
		return nil, err
	}

	c := &floatConverter{}
	var err error
	if c.signed, err = args.boolArg("signed", false); err != nil {
		return nil, err
	}
	if f, ok, err := args.floatArg("min"); err != nil {
		return nil, err
	} else if ok {
		c.min = &f
	}
	if f, ok, err := args.floatArg("max"); err != nil {
		return nil, err
	} else if ok {
		c.max = &f
	}

	c.regex = `\d+\.\d+`
	if c.signed {
		c.regex = `-?\d+\.\d+`
	}
	return c, nil
}

func (c *floatConverter) Regexp() string      { return c.regex }
func (c *floatConverter) PartIsolating() bool { return true }
func (c *floatConverter) Weight() int         { return weightNumber }

func (c *floatConverter) ToValue(s string) (any, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a number", ErrValidation, s)
	}
	if c.min != nil && f < *c.min {
		return nil, fmt.Errorf("%w: %v is below the minimum %v", ErrValidation, f, *c.min)
	}
	if c.max != nil && f > *c.max {
		return nil, fmt.Errorf("%w: %v is above the maximum %v", ErrValidation, f, *c.max)
	}
	return f, nil
}

func (c *floatConverter) ToURL(v any) (string, error) {
	f, err := valueFloat(v)
	if err != nil {
		return "", err
	}
	if c.min != nil && f < *c.min {
		return "", fmt.Errorf("%v is below the minimum %v", f, *c.min)
	}
	if c.max != nil && f > *c.max {
		return "", fmt.Errorf("%v is above the maximum %v", f, *c.max)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	// keep the dot so the built URL matches the pattern again
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s, nil
}

// uuidConverter matches RFC 9562 textual UUIDs and yields uuid.UUID values.
type uuidConverter struct{}

func newUUIDConverter(args *ConverterArgs) (Converter, error) {
	if len(args.positional) > 0 || len(args.keyword) > 0 {
		return nil, fmt.Errorf("uuid converter takes no arguments")
	}
	return uuidConverter{}, nil
}

func (uuidConverter) Regexp() string {
	return `[A-Fa-f0-9]{8}-[A-Fa-f0-9]{4}-[A-Fa-f0-9]{4}-[A-Fa-f0-9]{4}-[A-Fa-f0-9]{12}`
}

func (uuidConverter) PartIsolating() bool { return true }
func (uuidConverter) Weight() int         { return weightDefault }

func (uuidConverter) ToValue(s string) (any, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a uuid", ErrValidation, s)
	}
	return id, nil
}

func (uuidConverter) ToURL(v any) (string, error) {
	switch id := v.(type) {
	case uuid.UUID:
		return id.String(), nil
	case string:
		parsed, err := uuid.Parse(id)
		if err != nil {
			return "", fmt.Errorf("%q is not a uuid", id)
		}
		return parsed.String(), nil
	}
	return "", fmt.Errorf("cannot convert %T to a uuid", v)
}

func valueString(v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", fmt.Errorf("cannot convert nil to a string")
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	}
	return fmt.Sprint(v), nil
}

func valueInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed, nil
		}
	}
	return 0, fmt.Errorf("cannot convert %v (%T) to an integer", v, v)
}

func valueFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		if parsed, err := strconv.ParseFloat(n, 64); err == nil {
			return parsed, nil
		}
	}
	return 0, fmt.Errorf("cannot convert %v (%T) to a number", v, v)
}
