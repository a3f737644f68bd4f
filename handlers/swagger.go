package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the splash API.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>splash API - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// resourcePaths lists the routes every resource shares.
func resourcePaths(name string) string {
	return fmt.Sprintf(`
    "/api/v1/%[1]s": {
      "get": { "summary": "List %[1]s", "parameters": [{"name":"page","in":"query"},{"name":"page_size","in":"query"},{"name":"include_archived","in":"query"}], "responses": { "200": { "description": "documents" }, "400": { "description": "bad page argument" } } },
      "post": { "summary": "Create one of %[1]s", "responses": { "201": { "description": "uid and splash_md" }, "422": { "description": "invalid payload" } } }
    },
    "/api/v1/%[1]s/archived": { "get": { "summary": "List archived %[1]s", "responses": { "200": { "description": "documents" } } } },
    "/api/v1/%[1]s/{uid}": {
      "get": { "summary": "Get one of %[1]s", "responses": { "200": { "description": "document" }, "404": { "description": "not found" } } },
      "put": { "summary": "Replace one of %[1]s", "parameters": [{"name":"If-Match","in":"header"}], "responses": { "200": { "description": "uid and splash_md" }, "412": { "description": "etag mismatch" } } },
      "patch": { "summary": "Archive or restore one of %[1]s", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"archive_action":{"type":"string","enum":["archive","restore"]}}}}}}, "responses": { "200": { "description": "uid and splash_md" }, "409": { "description": "already in that state" } } },
      "delete": { "summary": "Not supported", "responses": { "405": { "description": "not implemented" } } }
    },`, name)
}

var swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "splash", "version": "v1" },
  "paths": {` +
	resourcePaths("teams") + resourcePaths("pages") + resourcePaths("references") +
	resourcePaths("users") + resourcePaths("compounds") + `
    "/api/v1/idtokensignin": {
      "post": { "summary": "Exchange an id token for an access token", "parameters": [{"name":"provider","in":"query"}], "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"token":{"type":"string"}}}}}}, "responses": { "200": { "description": "access token and user" }, "401": { "description": "invalid id token or unknown user" } } }
    },
    "/api/v1/logout": { "post": { "summary": "Revoke the presented access token", "responses": { "200": { "description": "logged out" } } } },
    "/api/v1/settings": { "get": { "summary": "Client sign-in settings", "responses": { "200": { "description": "settings" } } } },
    "/api/v1/pages/{uid}/versions": { "get": { "summary": "Every revision of a page", "responses": { "200": { "description": "revisions, oldest first" } } } },
    "/api/v1/pages/{uid}/versions/{version}": { "get": { "summary": "One revision of a page", "responses": { "200": { "description": "page" }, "400": { "description": "bad version" }, "404": { "description": "version not found" } } } },
    "/api/v1/pages/{uid}/num_versions": { "get": { "summary": "Number of revisions", "responses": { "200": { "description": "count" } } } },
    "/api/v1/pages/page_type/{page_type}": { "get": { "summary": "Pages of one type", "responses": { "200": { "description": "pages" } } } },
    "/api/v1/references/doi/{doi}": { "get": { "summary": "Reference by DOI", "responses": { "200": { "description": "reference" }, "404": { "description": "not found" } } } },
    "/api/v1/teams/user/{user_uid}": { "get": { "summary": "Teams of a user", "responses": { "200": { "description": "teams" } } } },
    "/api/v1/users/me": { "get": { "summary": "The signed-in user", "responses": { "200": { "description": "user" } } } },
    "/api/v1/compounds/species/{species}": { "get": { "summary": "Compounds of one species", "responses": { "200": { "description": "compounds" } } } },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
