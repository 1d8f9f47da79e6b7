package urlmap

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// regexpCache caches compiled segment patterns. The number of unique
// patterns is bounded by the number of bound rules, so the cache grows to a
// fixed size and stays there.
var regexpCache sync.Map

// compileRegexp returns a cached *regexp.Regexp for the given pattern,
// compiling and caching it on first use.
func compileRegexp(pattern string) (*regexp.Regexp, error) {
	if v, ok := regexpCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	actual, _ := regexpCache.LoadOrStore(pattern, re)

	return actual.(*regexp.Regexp), nil
}

// templateToken is one piece of a rule template: either literal text or a
// "<converter(args):name>" placeholder.
type templateToken struct {
	static string

	variable  bool
	converter string
	args      string
	name      string

	// pos is the byte offset of the token in the template. Static token
	// positions feed into route weighting.
	pos int
}

// placeholderRe splits the inside of a "<...>" placeholder into converter
// name, raw argument text and variable name. The converter prefix is
// optional.
var placeholderRe = regexp.MustCompile(`^(?:([a-zA-Z_][a-zA-Z0-9_]*)(?:\((.*)\))?:)?([a-zA-Z_][a-zA-Z0-9_]*)$`)

// parseTemplate splits a rule or host template into static and placeholder
// tokens. Placeholders cannot nest and "<" / ">" cannot appear bare in
// static text.
func parseTemplate(tpl string) ([]templateToken, error) {
	var tokens []templateToken
	pos := 0
	for pos < len(tpl) {
		open := strings.IndexByte(tpl[pos:], '<')
		if open < 0 {
			if strings.IndexByte(tpl[pos:], '>') >= 0 {
				return nil, fmt.Errorf("unexpected %q in template", ">")
			}
			tokens = append(tokens, templateToken{static: tpl[pos:], pos: pos})
			break
		}
		open += pos
		if open > pos {
			static := tpl[pos:open]
			if strings.IndexByte(static, '>') >= 0 {
				return nil, fmt.Errorf("unexpected %q in template", ">")
			}
			tokens = append(tokens, templateToken{static: static, pos: pos})
		}
		end := strings.IndexByte(tpl[open:], '>')
		if end < 0 {
			return nil, fmt.Errorf("unclosed placeholder at offset %d", open)
		}
		end += open
		inner := tpl[open+1 : end]
		if strings.IndexByte(inner, '<') >= 0 {
			return nil, fmt.Errorf("nested placeholder at offset %d", open)
		}
		m := placeholderRe.FindStringSubmatch(inner)
		if m == nil {
			return nil, fmt.Errorf("malformed placeholder %q", "<"+inner+">")
		}
		converter := m[1]
		if converter == "" {
			converter = "default"
		}
		tokens = append(tokens, templateToken{
			variable:  true,
			converter: converter,
			args:      m[2],
			name:      m[3],
			pos:       open,
		})
		pos = end + 1
	}
	return tokens, nil
}

// parseConverterArgs parses the raw argument text of a placeholder into
// positional and keyword arguments. Arguments are comma separated; values
// are quoted strings, bare words, integers, floats, booleans or nil.
func parseConverterArgs(raw string) (*ConverterArgs, error) {
	args := &ConverterArgs{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}

	items, err := splitArgs(raw)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if name, value, ok := splitKeyword(item); ok {
			lit, err := parseLiteral(strings.TrimSpace(value))
			if err != nil {
				return nil, err
			}
			if args.keyword == nil {
				args.keyword = make(map[string]any)
			}
			if _, dup := args.keyword[name]; dup {
				return nil, fmt.Errorf("duplicate argument %q", name)
			}
			args.keyword[name] = lit
			continue
		}
		if len(args.keyword) > 0 {
			return nil, fmt.Errorf("positional argument after keyword argument")
		}
		lit, err := parseLiteral(item)
		if err != nil {
			return nil, err
		}
		args.positional = append(args.positional, lit)
	}
	return args, nil
}

// splitArgs splits on commas that are not inside quotes.
func splitArgs(raw string) ([]string, error) {
	var items []string
	var quote byte
	start := 0
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ',':
			items = append(items, raw[start:i])
			start = i + 1
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated string in converter arguments")
	}
	items = append(items, raw[start:])
	return items, nil
}

// splitKeyword splits "name=value" items. The name must be an identifier so
// quoted values containing "=" stay positional.
func splitKeyword(item string) (name, value string, ok bool) {
	eq := strings.IndexByte(item, '=')
	if eq < 0 {
		return "", "", false
	}
	name = strings.TrimSpace(item[:eq])
	if !isIdentifier(name) {
		return "", "", false
	}
	return name, item[eq+1:], true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func parseLiteral(s string) (any, error) {
	if s == "" {
		return nil, fmt.Errorf("empty converter argument")
	}
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') {
		if s[len(s)-1] != s[0] {
			return nil, fmt.Errorf("unterminated string %q", s)
		}
		return s[1 : len(s)-1], nil
	}
	switch strings.ToLower(s) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "none", "nil":
		return nil, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9', c == '_', c == ' ':
		default:
			return nil, fmt.Errorf("malformed converter argument %q", s)
		}
	}
	return s, nil
}
