package handlers

import (
	_ "embed"
	"io"
	"net/http"
	"strings"
)

// openAPIPath is where the router mounts OpenAPIJSON.
const openAPIPath = "/v1/openapi.json"

//go:embed openapi.json
var openAPIDocument []byte

var docsPage = strings.NewReplacer("{{openapi}}", openAPIPath).Replace(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <title>Visdom render API</title>
    <meta name="description" content="Generate, render and repair formula animations" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <style>body { margin: 0; } redoc { display: block; height: 100vh; }</style>
  </head>
  <body>
    <redoc spec-url="{{openapi}}" hide-download-button></redoc>
    <script src="https://cdn.jsdelivr.net/npm/redoc@2.2.0/bundles/redoc.standalone.js"></script>
  </body>
</html>`)

// OpenAPIJSON serves the embedded API description.
func (a *App) OpenAPIJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(openAPIDocument)
}

// OpenAPIDocs serves a Redoc page over OpenAPIJSON.
func (a *App) OpenAPIDocs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, docsPage)
}
