package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	appfs "github.com/SkTech0/VirtualClassroom-sub000/fs"
)

const openapiFile = "assets/openapi.yaml"

func registerDocsAPI(e *echo.Echo) {
	e.GET("/openapi.yaml", func(ctx echo.Context) error {
		doc, err := appfs.FS.ReadFile(openapiFile)
		if err != nil {
			return err
		}
		return ctx.Blob(http.StatusOK, "application/yaml", doc)
	})
}
