package callback

import (
	"html/template"
	"io"
	"net/url"
	"sort"
)

const pageStyle = `
dd code {
  padding: 4px;
  line-height: 1.25rem;
}
nav {
  display: flex;
  width: min-content;
}
nav a {
  white-space: nowrap;
}
nav a + a {
  margin-left: 1rem;
}`

var pages = template.Must(template.New("layout").Parse(`
{{- define "header" -}}
<!DOCTYPE html>
<html>
<head><title>Okta Debug</title><style>` + pageStyle + `</style></head>
<body>
<h1>Okta Debugging Mode On</h1>
{{- end -}}

{{- define "items" -}}
<dl>
{{- range . }}
<dt><code>{{ .Key }}</code></dt>
<dd><code>{{ .Value }}</code></dd>
{{- end }}
</dl>
{{- end -}}

{{- define "preview" -}}
{{ template "header" }}
<h2>Preview Redirect</h2>
<nav>
<a id="continue" href="{{ .URL }}" title="Sign in with Okta and redirect back here.">Continue to Okta</a>
<a id="test-callback" href="{{ .TestCallbackURL }}" title="Bypass Okta for debugging.">Test callback</a>
</nav>
{{ template "items" .Items }}
</body>
</html>
{{- end -}}

{{- define "test-callback" -}}
{{ template "header" }}
{{- if .Reason }}
<h2>Rejected</h2>
<p id="reason">{{ .Reason }}</p>
{{- else }}
<h2>Success!</h2>
<p id="reason">Passed code and state checks.</p>
{{- end }}
{{ template "items" .Items }}
</body>
</html>
{{- end -}}
`))

type pageItem struct {
	Key   string
	Value string
}

// queryItems lists the query's values sorted by key.
func queryItems(q url.Values) []pageItem {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make([]pageItem, 0, len(keys))
	for _, k := range keys {
		for _, v := range q[k] {
			items = append(items, pageItem{Key: k, Value: v})
		}
	}
	return items
}

type previewPage struct {
	URL             string
	TestCallbackURL string
	Items           []pageItem
}

func renderPreview(w io.Writer, authEndpoint, redirectURL, testCallbackURL string, q url.Values) error {
	items := append([]pageItem{
		{Key: "authorization_endpoint", Value: authEndpoint},
		{Key: "url", Value: redirectURL},
	}, queryItems(q)...)
	return pages.ExecuteTemplate(w, "preview", previewPage{
		URL:             redirectURL,
		TestCallbackURL: testCallbackURL,
		Items:           items,
	})
}

type testCallbackPage struct {
	Reason string
	Items  []pageItem
}

func renderTestCallback(w io.Writer, reason string, q url.Values) error {
	return pages.ExecuteTemplate(w, "test-callback", testCallbackPage{
		Reason: reason,
		Items:  queryItems(q),
	})
}
