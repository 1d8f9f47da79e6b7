package urlmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleSyntaxErrors(t *testing.T) {
	cases := map[string]*Rule{
		"missing leading slash": NewRule("nope", "ep"),
		"unclosed placeholder":  NewRule("/x/<int:y", "ep"),
		"unknown converter":     NewRule("/x/<bogus:y>", "ep"),
		"bad converter args":    NewRule("/x/<int(wat=1):y>", "ep"),
		"malformed args":        NewRule("/x/<int(min=0;max=5):y>", "ep"),
		"duplicate placeholder": NewRule("/<a>/<a>", "ep"),
		"host and subdomain":    NewRule("/x", "ep").Host("a.example").Subdomain("a"),
		"websocket with post":   NewRule("/x", "ep").Websocket().Methods("POST"),
	}
	for name, rule := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New([]*Rule{rule})
			var syntax *RuleSyntaxError
			assert.ErrorAs(t, err, &syntax, "rule %q", rule.Template())
		})
	}
}

func TestRuleIsImmutableOnceBound(t *testing.T) {
	r := NewRule("/x", "ep")
	m := mustMap(t, []*Rule{r})

	r.Methods("POST")
	assert.Error(t, r.err)

	// the bound state is unaffected
	a := mustBind(t, m, "example.org")
	endpoint, _, err := a.Match("/x", "GET")
	require.NoError(t, err)
	assert.Equal(t, "ep", endpoint)
}

func TestRuleCannotBeBoundTwice(t *testing.T) {
	r := NewRule("/x", "ep")
	mustMap(t, []*Rule{r})

	_, err := New([]*Rule{r})
	var syntax *RuleSyntaxError
	assert.ErrorAs(t, err, &syntax)
}

func TestRuleAccessors(t *testing.T) {
	r := NewRule("/user/<int:id>", "user").
		Methods("get", "post").
		Defaults(Values{"page": 1})
	mustMap(t, []*Rule{r})

	assert.Equal(t, "user", r.Endpoint())
	assert.Equal(t, "/user/<int:id>", r.Template())
	assert.Equal(t, []string{"GET", "HEAD", "POST"}, r.GetMethods())
	assert.Equal(t, Values{"page": 1}, r.GetDefaults())
	assert.False(t, r.IsWebsocket())
	assert.False(t, r.IsBuildOnly())
	assert.Equal(t, []Variable{{Name: "id", Converter: "int"}}, r.Variables())
}

func TestRuleString(t *testing.T) {
	r := NewRule("/user/<int:id>", "user").Methods("GET")
	assert.Equal(t, `<Rule "/user/<int:id>" (GET, HEAD) -> user>`, r.String())
}

func TestBuildOnlyRules(t *testing.T) {
	m := mustMap(t, []*Rule{
		NewRule("/static/<path:file>", "static").BuildOnly(),
	})
	a := mustBind(t, m, "example.org")

	_, _, err := a.Match("/static/app.js", "GET")
	assert.ErrorIs(t, err, ErrNotFound)

	url, err := a.Build("static", Values{"file": "app.js"})
	require.NoError(t, err)
	assert.Equal(t, "/static/app.js", url)
}

func TestSubmount(t *testing.T) {
	m := mustMap(t, Submount("/blog",
		NewRule("/", "blog_index"),
		NewRule("/<int:id>", "blog_show"),
	))
	a := mustBind(t, m, "example.org")

	endpoint, _, err := a.Match("/blog/", "GET")
	require.NoError(t, err)
	assert.Equal(t, "blog_index", endpoint)

	endpoint, values, err := a.Match("/blog/42", "GET")
	require.NoError(t, err)
	assert.Equal(t, "blog_show", endpoint)
	assert.Equal(t, 42, values["id"])
}

func TestEndpointPrefix(t *testing.T) {
	m := mustMap(t, EndpointPrefix("blog/",
		NewRule("/post/<int:id>", "show"),
	))
	a := mustBind(t, m, "example.org")

	endpoint, _, err := a.Match("/post/1", "GET")
	require.NoError(t, err)
	assert.Equal(t, "blog/show", endpoint)
}

func TestSubdomainFactory(t *testing.T) {
	m := mustMap(t, Merge(
		Subdomain("docs",
			NewRule("/", "docs_index"),
			NewRule("/", "special").Subdomain("special"),
		),
		[]*Rule{NewRule("/", "index")},
	), WithSubdomainMatching())

	t.Run("applies to rules without a subdomain", func(t *testing.T) {
		a := mustBind(t, m, "example.com", BindSubdomain("docs"))
		endpoint, _, err := a.Match("/", "GET")
		require.NoError(t, err)
		assert.Equal(t, "docs_index", endpoint)
	})

	t.Run("existing subdomains are kept", func(t *testing.T) {
		a := mustBind(t, m, "example.com", BindSubdomain("special"))
		endpoint, _, err := a.Match("/", "GET")
		require.NoError(t, err)
		assert.Equal(t, "special", endpoint)
	})

	t.Run("bare rules stay on the apex", func(t *testing.T) {
		a := mustBind(t, m, "example.com", BindSubdomain(""))
		endpoint, _, err := a.Match("/", "GET")
		require.NoError(t, err)
		assert.Equal(t, "index", endpoint)
	})
}

func TestDefaultSubdomainOption(t *testing.T) {
	m := mustMap(t, []*Rule{
		NewRule("/", "index"),
	}, WithSubdomainMatching(), WithDefaultSubdomain("www"))

	a := mustBind(t, m, "example.com")
	endpoint, _, err := a.Match("/", "GET")
	require.NoError(t, err)
	assert.Equal(t, "index", endpoint)

	a = mustBind(t, m, "example.com", BindSubdomain(""))
	_, _, err = a.Match("/", "GET")
	assert.ErrorIs(t, err, ErrNotFound)
}
