package handlers

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

// DocsHandler serves the OpenAPI description of the API plus a small
// interactive viewer around it.
type DocsHandler struct {
	document *openapi3.T
}

// NewDocsHandler builds the OpenAPI document once; it never changes at
// runtime.
func NewDocsHandler() *DocsHandler {
	return &DocsHandler{document: buildOpenAPIDocument()}
}

// ServeOpenAPI handles GET /openapi.json.
func (handler *DocsHandler) ServeOpenAPI(responseWriter http.ResponseWriter, request *http.Request) {
	writeJsonAndRespond(responseWriter, http.StatusOK, handler.document)
}

// ServeDocs handles GET /api-docs with a Swagger UI page pointed at the
// served document.
func (handler *DocsHandler) ServeDocs(responseWriter http.ResponseWriter, request *http.Request) {
	responseWriter.Header().Set("Content-Type", "text/html; charset=utf-8")
	responseWriter.WriteHeader(http.StatusOK)
	responseWriter.Write([]byte(swaggerUIPage)) // nolint:errcheck
}

const swaggerUIPage = `<!DOCTYPE html>
<html>
<head>
  <title>magpie-previews API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = () => {
      SwaggerUIBundle({ url: "/openapi.json", dom_id: "#swagger-ui" });
    };
  </script>
</body>
</html>
`

func buildOpenAPIDocument() *openapi3.T {
	errorSchema := openapi3.NewObjectSchema().
		WithProperty("error", openapi3.NewStringSchema())
	statusSchema := openapi3.NewObjectSchema().
		WithProperty("status", openapi3.NewStringSchema())

	deploymentSchema := openapi3.NewObjectSchema().
		WithProperty("prNumber", openapi3.NewIntegerSchema()).
		WithProperty("repoOwner", openapi3.NewStringSchema()).
		WithProperty("repoName", openapi3.NewStringSchema()).
		WithProperty("projectSlug", openapi3.NewStringSchema()).
		WithProperty("deploymentId", openapi3.NewStringSchema()).
		WithProperty("branch", openapi3.NewStringSchema()).
		WithProperty("commitSha", openapi3.NewStringSchema()).
		WithProperty("cloneUrl", openapi3.NewStringSchema()).
		WithProperty("framework", openapi3.NewStringSchema()).
		WithProperty("dbType", openapi3.NewStringSchema()).
		WithProperty("appPort", openapi3.NewIntegerSchema()).
		WithProperty("exposedAppPort", openapi3.NewIntegerSchema()).
		WithProperty("exposedDbPort", openapi3.NewIntegerSchema()).
		WithProperty("status", openapi3.NewStringSchema()).
		WithProperty("url", openapi3.NewStringSchema()).
		WithProperty("commentId", openapi3.NewInt64Schema()).
		WithProperty("createdAt", openapi3.NewStringSchema().WithFormat("date-time")).
		WithProperty("updatedAt", openapi3.NewStringSchema().WithFormat("date-time"))

	eventSchema := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewStringSchema()).
		WithProperty("deploymentId", openapi3.NewStringSchema()).
		WithProperty("kind", openapi3.NewStringSchema()).
		WithProperty("detail", openapi3.NewStringSchema()).
		WithProperty("createdAt", openapi3.NewStringSchema().WithFormat("date-time"))

	jsonResponse := func(description string, schema *openapi3.Schema) *openapi3.ResponseRef {
		return &openapi3.ResponseRef{
			Value: openapi3.NewResponse().WithDescription(description).WithJSONSchema(schema),
		}
	}

	deploymentIDParameter := openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: openapi3.NewPathParameter("deploymentId").
				WithDescription("deployment identifier, <projectSlug>-<prNumber>").
				WithSchema(openapi3.NewStringSchema()),
		},
	}

	healthPath := &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "getHealth",
			Summary:     "Liveness and uptime",
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusOK, jsonResponse("service is alive",
					openapi3.NewObjectSchema().
						WithProperty("status", openapi3.NewStringSchema()).
						WithProperty("timestamp", openapi3.NewStringSchema().WithFormat("date-time")).
						WithProperty("uptime", openapi3.NewStringSchema()))),
			),
		},
	}

	webhookPath := &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "receiveWebhook",
			Summary:     "Signature-verified pull_request webhook sink",
			RequestBody: &openapi3.RequestBodyRef{
				Value: openapi3.NewRequestBody().
					WithDescription("pull_request event payload, HMAC-signed via X-Hub-Signature-256").
					WithJSONSchema(openapi3.NewObjectSchema()),
			},
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusOK, jsonResponse("action handled", statusSchema)),
				openapi3.WithStatus(http.StatusUnauthorized, jsonResponse("signature verification failed", errorSchema)),
				openapi3.WithStatus(http.StatusInternalServerError, jsonResponse("pipeline failure", errorSchema)),
			),
		},
	}

	previewsPath := &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listPreviews",
			Summary:     "List all tracked preview deployments",
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusOK, jsonResponse("tracked deployments, newest first",
					openapi3.NewObjectSchema().
						WithProperty("deployments", openapi3.NewArraySchema().WithItems(deploymentSchema)))),
			),
		},
	}

	previewPath := &openapi3.PathItem{
		Parameters: deploymentIDParameter,
		Get: &openapi3.Operation{
			OperationID: "getPreview",
			Summary:     "Inspect one preview with its live container status",
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusOK, jsonResponse("the deployment record", deploymentSchema)),
				openapi3.WithStatus(http.StatusNotFound, jsonResponse("unknown deployment", errorSchema)),
			),
		},
		Delete: &openapi3.Operation{
			OperationID: "deletePreview",
			Summary:     "Tear down a preview manually",
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusOK, jsonResponse("preview torn down", statusSchema)),
				openapi3.WithStatus(http.StatusBadRequest, jsonResponse("missing deployment id", errorSchema)),
				openapi3.WithStatus(http.StatusNotFound, jsonResponse("unknown deployment", errorSchema)),
			),
		},
	}

	redeployPath := &openapi3.PathItem{
		Parameters: deploymentIDParameter,
		Post: &openapi3.Operation{
			OperationID: "redeployPreview",
			Summary:     "Rebuild a preview at its recorded commit",
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusOK, jsonResponse("the refreshed deployment record", deploymentSchema)),
				openapi3.WithStatus(http.StatusNotFound, jsonResponse("unknown deployment", errorSchema)),
			),
		},
	}

	eventsPath := &openapi3.PathItem{
		Parameters: deploymentIDParameter,
		Get: &openapi3.Operation{
			OperationID: "listPreviewEvents",
			Summary:     "Lifecycle audit trail of one preview, newest first",
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusOK, jsonResponse("recorded events",
					openapi3.NewObjectSchema().
						WithProperty("events", openapi3.NewArraySchema().WithItems(eventSchema)))),
			),
		},
	}

	return &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "magpie-previews",
			Description: "Per-pull-request preview environment daemon: deploys PR heads behind a path-routed reverse proxy and tears them down when the PR closes.",
			Version:     "1.0.0",
		},
		Paths: openapi3.NewPaths(
			openapi3.WithPath("/health", healthPath),
			openapi3.WithPath("/webhook/github", webhookPath),
			openapi3.WithPath("/api/previews", previewsPath),
			openapi3.WithPath("/api/previews/{deploymentId}", previewPath),
			openapi3.WithPath("/api/previews/{deploymentId}/redeploy", redeployPath),
			openapi3.WithPath("/api/previews/{deploymentId}/events", eventsPath),
		),
	}
}
