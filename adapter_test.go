package urlmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBasics(t *testing.T) {
	m := mustMap(t, []*Rule{
		NewRule("/", "index"),
		NewRule("/user/<int:id>", "user"),
		NewRule("/bar/", "bar"),
	})
	a := mustBind(t, m, "example.org")

	t.Run("root", func(t *testing.T) {
		url, err := a.Build("index", nil)
		require.NoError(t, err)
		assert.Equal(t, "/", url)
	})

	t.Run("placeholder values", func(t *testing.T) {
		url, err := a.Build("user", Values{"id": 42})
		require.NoError(t, err)
		assert.Equal(t, "/user/42", url)
	})

	t.Run("branch keeps its trailing slash", func(t *testing.T) {
		url, err := a.Build("bar", nil)
		require.NoError(t, err)
		assert.Equal(t, "/bar/", url)
	})

	t.Run("extra values become query parameters", func(t *testing.T) {
		url, err := a.Build("user", Values{"id": 42, "q": "go"})
		require.NoError(t, err)
		assert.Equal(t, "/user/42?q=go", url)
	})

	t.Run("nil values are dropped", func(t *testing.T) {
		url, err := a.Build("user", Values{"id": 42, "q": nil})
		require.NoError(t, err)
		assert.Equal(t, "/user/42", url)
	})

	t.Run("list values expand", func(t *testing.T) {
		url, err := a.Build("user", Values{"id": 42, "tag": []string{"a", "b"}})
		require.NoError(t, err)
		assert.Equal(t, "/user/42?tag=a&tag=b", url)
	})

	t.Run("drop unknown", func(t *testing.T) {
		url, err := a.Build("user", Values{"id": 42, "q": "go"}, DropUnknown())
		require.NoError(t, err)
		assert.Equal(t, "/user/42", url)
	})

	t.Run("force external", func(t *testing.T) {
		url, err := a.Build("user", Values{"id": 42}, ForceExternal())
		require.NoError(t, err)
		assert.Equal(t, "http://example.org/user/42", url)
	})

	t.Run("round trip", func(t *testing.T) {
		url, err := a.Build("user", Values{"id": 23})
		require.NoError(t, err)
		endpoint, values, err := a.Match(url, "GET")
		require.NoError(t, err)
		assert.Equal(t, "user", endpoint)
		assert.Equal(t, Values{"id": 23}, values)
	})
}

func TestBuildEscaping(t *testing.T) {
	m := mustMap(t, []*Rule{NewRule("/über/<name>", "umlaut")})
	a := mustBind(t, m, "example.org")

	url, err := a.Build("umlaut", Values{"name": "a b"})
	require.NoError(t, err)
	assert.Equal(t, "/%C3%BCber/a%20b", url)

	endpoint, values, err := a.Match("/über/a b", "GET")
	require.NoError(t, err)
	assert.Equal(t, "umlaut", endpoint)
	assert.Equal(t, "a b", values["name"])
}

func TestBuildMethodSelection(t *testing.T) {
	m := mustMap(t, []*Rule{
		NewRule("/read", "ep").Methods("GET"),
		NewRule("/write", "ep").Methods("POST"),
	})
	a := mustBind(t, m, "example.org")

	url, err := a.Build("ep", nil)
	require.NoError(t, err)
	assert.Equal(t, "/read", url)

	url, err = a.Build("ep", nil, BuildMethod("POST"))
	require.NoError(t, err)
	assert.Equal(t, "/write", url)
}

func TestBuildPrefersConsumingMoreValues(t *testing.T) {
	m := mustMap(t, []*Rule{
		NewRule("/<path:bar>", "item"),
		NewRule("/<path:bar>/<path:blub>", "item"),
	})
	a := mustBind(t, m, "example.org")

	// both values end up in the path of the second rule, not in the query
	// string of the first
	url, err := a.Build("item", Values{"bar": "blub", "blub": "bar"})
	require.NoError(t, err)
	assert.Equal(t, "/blub/bar", url)
}

func TestBuildWithScriptName(t *testing.T) {
	m := mustMap(t, []*Rule{NewRule("/user/<int:id>", "user")})
	a := mustBind(t, m, "example.org", BindScriptName("/app"))

	url, err := a.Build("user", Values{"id": 7})
	require.NoError(t, err)
	assert.Equal(t, "/app/user/7", url)

	url, err = a.Build("user", Values{"id": 7}, ForceExternal())
	require.NoError(t, err)
	assert.Equal(t, "http://example.org/app/user/7", url)

	_, _, err = a.Match("", "GET")
	var redirect *RequestRedirect
	require.ErrorAs(t, err, &redirect)
	assert.Equal(t, "http://example.org/app/", redirect.URL)
}

func TestBuildErrors(t *testing.T) {
	m := mustMap(t, []*Rule{
		NewRule("/user/<int:id>", "user"),
		NewRule("/posts", "posts").Methods("GET"),
	})
	a := mustBind(t, m, "example.org")

	t.Run("unknown endpoint suggests the closest name", func(t *testing.T) {
		_, err := a.Build("usr", nil)
		var be *BuildError
		require.ErrorAs(t, err, &be)
		require.NotNil(t, be.Suggested)
		assert.Equal(t, "user", be.Suggested.Endpoint())
		assert.Contains(t, be.Error(), `Did you mean "user" instead?`)
	})

	t.Run("missing values are named", func(t *testing.T) {
		_, err := a.Build("user", nil)
		var be *BuildError
		require.ErrorAs(t, err, &be)
		assert.Contains(t, be.Error(), "Did you forget to specify values [id]?")
	})

	t.Run("method mismatch names the valid methods", func(t *testing.T) {
		_, err := a.Build("posts", nil, BuildMethod("DELETE"))
		var be *BuildError
		require.ErrorAs(t, err, &be)
		assert.Contains(t, be.Error(), "Did you mean to use methods [GET HEAD]?")
	})

	t.Run("totally unknown endpoint", func(t *testing.T) {
		_, err := a.Build("zzz-nothing-alike", nil)
		var be *BuildError
		require.ErrorAs(t, err, &be)
		assert.Nil(t, be.Suggested)
	})
}

func TestRedirectDefaults(t *testing.T) {
	m := mustMap(t, []*Rule{
		NewRule("/page/", "page").Defaults(Values{"n": 1}),
		NewRule("/page/<int:n>", "page"),
	})
	a := mustBind(t, m, "example.org")

	t.Run("matching the default value redirects to the canonical url", func(t *testing.T) {
		_, _, err := a.Match("/page/1", "GET")
		var redirect *RequestRedirect
		require.ErrorAs(t, err, &redirect)
		assert.Equal(t, "http://example.org/page/", redirect.URL)
	})

	t.Run("other values match normally", func(t *testing.T) {
		endpoint, values, err := a.Match("/page/2", "GET")
		require.NoError(t, err)
		assert.Equal(t, "page", endpoint)
		assert.Equal(t, 2, values["n"])
	})

	t.Run("canonical url carries the default", func(t *testing.T) {
		endpoint, values, err := a.Match("/page/", "GET")
		require.NoError(t, err)
		assert.Equal(t, "page", endpoint)
		assert.Equal(t, 1, values["n"])
	})

	t.Run("building the default value picks the canonical rule", func(t *testing.T) {
		url, err := a.Build("page", Values{"n": 1})
		require.NoError(t, err)
		assert.Equal(t, "/page/", url)

		url, err = a.Build("page", Values{"n": 2})
		require.NoError(t, err)
		assert.Equal(t, "/page/2", url)
	})

	t.Run("disabled map wide", func(t *testing.T) {
		m := mustMap(t, []*Rule{
			NewRule("/page/", "page").Defaults(Values{"n": 1}),
			NewRule("/page/<int:n>", "page"),
		}, WithRedirectDefaults(false))
		a := mustBind(t, m, "example.org")

		endpoint, values, err := a.Match("/page/1", "GET")
		require.NoError(t, err)
		assert.Equal(t, "page", endpoint)
		assert.Equal(t, 1, values["n"])
	})
}

func TestAliasRedirect(t *testing.T) {
	m := mustMap(t, []*Rule{
		NewRule("/canonical", "page"),
		NewRule("/legacy", "page").Alias(),
	})
	a := mustBind(t, m, "example.org")

	_, _, err := a.Match("/legacy", "GET")
	var redirect *RequestRedirect
	require.ErrorAs(t, err, &redirect)
	assert.Equal(t, "http://example.org/canonical", redirect.URL)

	endpoint, _, err := a.Match("/canonical", "GET")
	require.NoError(t, err)
	assert.Equal(t, "page", endpoint)

	// aliases are never chosen when building
	url, err := a.Build("page", nil)
	require.NoError(t, err)
	assert.Equal(t, "/canonical", url)
}

func TestRedirectTo(t *testing.T) {
	m := mustMap(t, []*Rule{
		NewRule("/old/<name>", "old").RedirectTo("/new/<name>"),
		NewRule("/gone", "gone").RedirectTo("https://elsewhere.example/x"),
	})
	a := mustBind(t, m, "example.org")

	t.Run("interpolates matched values", func(t *testing.T) {
		_, _, err := a.Match("/old/report", "GET")
		var redirect *RequestRedirect
		require.ErrorAs(t, err, &redirect)
		assert.Equal(t, "http://example.org/new/report", redirect.URL)
		assert.Equal(t, 308, redirect.Code)
	})

	t.Run("absolute targets pass through", func(t *testing.T) {
		_, _, err := a.Match("/gone", "GET")
		var redirect *RequestRedirect
		require.ErrorAs(t, err, &redirect)
		assert.Equal(t, "https://elsewhere.example/x", redirect.URL)
	})
}

func TestSubdomainBuilding(t *testing.T) {
	m := mustMap(t, []*Rule{
		NewRule("/", "index"),
		NewRule("/dash", "dash").Subdomain("<tenant>"),
	}, WithSubdomainMatching())
	a := mustBind(t, m, "example.com", BindSubdomain("it"))

	t.Run("other subdomain is external", func(t *testing.T) {
		url, err := a.Build("index", nil)
		require.NoError(t, err)
		assert.Equal(t, "http://example.com/", url)
	})

	t.Run("bound subdomain is internal", func(t *testing.T) {
		url, err := a.Build("dash", Values{"tenant": "it"})
		require.NoError(t, err)
		assert.Equal(t, "/dash", url)
	})

	t.Run("foreign tenant is external", func(t *testing.T) {
		url, err := a.Build("dash", Values{"tenant": "other"})
		require.NoError(t, err)
		assert.Equal(t, "http://other.example.com/dash", url)
	})

	t.Run("matching extracts the subdomain value", func(t *testing.T) {
		endpoint, values, err := a.Match("/dash", "GET")
		require.NoError(t, err)
		assert.Equal(t, "dash", endpoint)
		assert.Equal(t, "it", values["tenant"])
	})
}

func TestSubdomainRedirectDefaults(t *testing.T) {
	m := mustMap(t, []*Rule{
		NewRule("/foo", "foo").Subdomain("test").Defaults(Values{"bar": 42}),
		NewRule("/foo/<int:bar>", "foo").Subdomain("test"),
	}, WithSubdomainMatching())
	a := mustBind(t, m, "localhost", BindSubdomain("test"))

	_, _, err := a.Match("/foo/42", "GET")
	var redirect *RequestRedirect
	require.ErrorAs(t, err, &redirect)
	assert.Equal(t, "http://test.localhost/foo", redirect.URL)
}

func TestHostMatching(t *testing.T) {
	m := mustMap(t, []*Rule{
		NewRule("/", "www").Host("www.example.com"),
		NewRule("/", "tenant").Host("<name>.example.com"),
		NewRule("/files/<path:file>", "files").Host("cdn.example.net"),
	}, WithHostMatching())

	t.Run("static host wins", func(t *testing.T) {
		a := mustBind(t, m, "www.example.com")
		endpoint, values, err := a.Match("/", "GET")
		require.NoError(t, err)
		assert.Equal(t, "www", endpoint)
		assert.Empty(t, values)
	})

	t.Run("host placeholders capture", func(t *testing.T) {
		a := mustBind(t, m, "foo.example.com")
		endpoint, values, err := a.Match("/", "GET")
		require.NoError(t, err)
		assert.Equal(t, "tenant", endpoint)
		assert.Equal(t, "foo", values["name"])
	})

	t.Run("foreign host is not matched", func(t *testing.T) {
		a := mustBind(t, m, "www.example.com")
		_, _, err := a.Match("/files/x", "GET")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("building for another host is external", func(t *testing.T) {
		a := mustBind(t, m, "www.example.com")
		url, err := a.Build("files", Values{"file": "app.js"})
		require.NoError(t, err)
		assert.Equal(t, "http://cdn.example.net/files/app.js", url)

		url, err = a.Build("www", nil)
		require.NoError(t, err)
		assert.Equal(t, "/", url)
	})

	t.Run("slash redirect keeps the bound host", func(t *testing.T) {
		m := mustMap(t, []*Rule{
			NewRule("/sub/", "sub").Host("www.example.com"),
		}, WithHostMatching())
		a := mustBind(t, m, "www.example.com")

		_, _, err := a.Match("/sub", "GET")
		var redirect *RequestRedirect
		require.ErrorAs(t, err, &redirect)
		assert.Equal(t, "http://www.example.com/sub/", redirect.URL)
	})
}

func TestWebsocketBuilding(t *testing.T) {
	m := mustMap(t, []*Rule{NewRule("/live", "live").Websocket()})
	a := mustBind(t, m, "example.org")

	url, err := a.Build("live", nil)
	require.NoError(t, err)
	assert.Equal(t, "ws://example.org/live", url)

	url, err = a.Build("live", nil, BuildScheme("https"))
	require.NoError(t, err)
	assert.Equal(t, "wss://example.org/live", url)
}

func TestRedirectKeepsQueryArgs(t *testing.T) {
	m := mustMap(t, []*Rule{NewRule("/branch/", "branch")})
	a, err := m.Bind("example.org", BindQueryArgs(map[string][]string{"aha": {"muhaha"}}))
	require.NoError(t, err)

	_, _, err = a.Match("/branch", "GET")
	var redirect *RequestRedirect
	require.ErrorAs(t, err, &redirect)
	assert.Equal(t, "http://example.org/branch/?aha=muhaha", redirect.URL)
}
