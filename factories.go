package urlmap

import "strings"

// Submount prefixes the path templates of the given unbound rules, so a
// whole group can be mounted under one path:
//
//	urlmap.Submount("/blog",
//		urlmap.NewRule("/", "blog_index"),
//		urlmap.NewRule("/<int:id>", "blog_show"),
//	)
func Submount(prefix string, rules ...*Rule) []*Rule {
	prefix = strings.TrimSuffix(prefix, "/")
	for _, r := range rules {
		if r.frozen() {
			continue
		}
		r.template = prefix + r.template
	}
	return rules
}

// Subdomain assigns the given subdomain template to every rule that does
// not carry one yet.
func Subdomain(subdomain string, rules ...*Rule) []*Rule {
	for _, r := range rules {
		if r.frozen() {
			continue
		}
		if r.subdomain == nil {
			r.subdomain = &subdomain
		}
	}
	return rules
}

// EndpointPrefix prefixes the endpoint names of the given unbound rules.
func EndpointPrefix(prefix string, rules ...*Rule) []*Rule {
	for _, r := range rules {
		if r.frozen() {
			continue
		}
		r.endpoint = prefix + r.endpoint
	}
	return rules
}

// Merge flattens groups of rules into one slice, for combining factory
// results when constructing a Map.
func Merge(groups ...[]*Rule) []*Rule {
	var out []*Rule
	for _, group := range groups {
		out = append(out, group...)
	}
	return out
}
