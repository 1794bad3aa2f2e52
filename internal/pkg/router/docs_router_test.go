package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fiberParam = regexp.MustCompile(`:([A-Za-z]+)`)

func TestOpenAPIDocumentValid(t *testing.T) {
	doc, err := LoadOpenAPI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Almanac Subscription API", doc.Info.Title)
}

func TestOpenAPIDocumentsEveryRoute(t *testing.T) {
	doc, err := LoadOpenAPI(context.Background())
	require.NoError(t, err)

	app := newTestApp(t)
	checked := 0
	for _, route := range app.GetRoutes(true) {
		if !strings.HasPrefix(route.Path, APIPrefix) || route.Method == http.MethodHead {
			continue
		}
		path := fiberParam.ReplaceAllString(route.Path, "{$1}")
		item := doc.Paths.Find(path)
		if !assert.NotNil(t, item, "undocumented path %s", path) {
			continue
		}
		assert.NotNil(t, item.GetOperation(route.Method), "undocumented operation %s %s", route.Method, path)
		checked++
	}
	assert.Equal(t, 18, checked)
}

func TestDocsServed(t *testing.T) {
	app := newTestApp(t)
	DocsRouter{}.InstallRouter(app)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, DocsBasePath+docsFile, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, DocsBasePath+"v1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
