package router

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
)

const (
	DocsBasePath = "/docs/api/"
	docsFile     = "openapi.yml"
)

//go:embed openapi.yml
var OpenAPIDocument []byte

// LoadOpenAPI parses and validates the embedded API document.
func LoadOpenAPI(ctx context.Context) (*openapi3.T, error) {
	doc, err := openapi3.NewLoader().LoadFromData(OpenAPIDocument)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	return doc, nil
}

// DocsRouter serves the API document under /docs/api/openapi.yml and the
// Swagger UI under /docs/api/v1.
type DocsRouter struct{}

// InstallRouter serves the OpenAPI document and Swagger UI.
func (DocsRouter) InstallRouter(app *fiber.App) {
	if _, err := LoadOpenAPI(context.Background()); err != nil {
		panic(err)
	}
	app.Use(swagger.New(swagger.Config{
		BasePath:    DocsBasePath,
		FilePath:    docsFile,
		FileContent: OpenAPIDocument,
		Path:        "v1",
		Title:       "Almanac API",
	}))
}
