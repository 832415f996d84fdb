package webapi

import (
	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/germanamz/geoprompt/pkg/applet"
	"github.com/go-openapi/spec"
)

// BasePath is the prefix of every API route.
const BasePath = "/api/v1"

// OpenAPIPath serves the OpenAPI document.
const OpenAPIPath = BasePath + "/openapi.json"

// RegisterRoutes adds the API web service to container.
func RegisterRoutes(container *restful.Container, handler *Handler) {
	ws := new(restful.WebService)

	ws.
		Path(BasePath).
		Consumes(restful.MIME_JSON).
		Produces(restful.MIME_JSON)

	ws.
		Route(ws.GET("/health").
			To(handler.Health).
			Doc("Health check").
			Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
			Writes(HealthResponse{}).
			Returns(200, "OK", HealthResponse{}))

	ws.
		Route(ws.POST("/generate").
			To(handler.Generate).
			Doc("Generate a construction from a prompt and draw it").
			Metadata(restfulspec.KeyOpenAPITags, []string{"construction"}).
			Reads(GenerateRequest{}).
			Writes(applet.Result{}).
			Returns(200, "OK", applet.Result{}).
			Returns(400, "Bad Request", ErrorResponse{}).
			Returns(409, "Generation In Progress", applet.Result{}).
			Returns(412, "Generator Not Configured", applet.Result{}).
			Returns(422, "Command Rejected", applet.Result{}).
			Returns(502, "Upstream Error", applet.Result{}).
			Returns(503, "Applet Not Ready", applet.Result{}))

	ws.
		Route(ws.POST("/run").
			To(handler.Run).
			Doc("Run commands verbatim").
			Metadata(restfulspec.KeyOpenAPITags, []string{"construction"}).
			Reads(RunRequest{}).
			Writes(StatusResponse{}).
			Returns(200, "OK", StatusResponse{}).
			Returns(400, "Bad Request", ErrorResponse{}).
			Returns(422, "Command Rejected", ErrorResponse{}).
			Returns(503, "Applet Not Ready", ErrorResponse{}))

	ws.
		Route(ws.POST("/clear").
			To(handler.Clear).
			Doc("Remove every object from the construction").
			Metadata(restfulspec.KeyOpenAPITags, []string{"construction"}).
			Writes(StatusResponse{}).
			Returns(200, "OK", StatusResponse{}).
			Returns(422, "Command Rejected", ErrorResponse{}))

	container.Add(ws)
}

// RegisterOpenAPI serves the OpenAPI document for the web services already
// registered on container.
func RegisterOpenAPI(container *restful.Container, version string) {
	container.Add(restfulspec.NewOpenAPIService(restfulspec.Config{
		WebServices: container.RegisteredWebServices(),
		APIPath:     OpenAPIPath,
		PostBuildSwaggerObjectHandler: func(swo *spec.Swagger) {
			swo.Info = &spec.Info{
				InfoProps: spec.InfoProps{
					Title:       "geoprompt API",
					Description: "Natural-language geometry constructions for GeoGebra",
					Version:     version,
				},
			}
			swo.Tags = []spec.Tag{
				{TagProps: spec.TagProps{Name: "health", Description: "Health checks"}},
				{TagProps: spec.TagProps{Name: "construction", Description: "Construction operations"}},
			}
		},
	}))
}
