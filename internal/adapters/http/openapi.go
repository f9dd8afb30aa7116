package httpadapter

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var openAPISpec []byte

var (
	openAPIOnce sync.Once
	openAPIJSON []byte
	openAPIErr  error
)

// loadOpenAPI parses and validates the embedded document once per process.
func loadOpenAPI() ([]byte, error) {
	openAPIOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData(openAPISpec)
		if err != nil {
			openAPIErr = fmt.Errorf("load openapi document: %w", err)
			return
		}
		if err := doc.Validate(context.Background()); err != nil {
			openAPIErr = fmt.Errorf("validate openapi document: %w", err)
			return
		}
		openAPIJSON, openAPIErr = doc.MarshalJSON()
	})
	return openAPIJSON, openAPIErr
}

func (rt *Router) openAPI(w http.ResponseWriter, r *http.Request) {
	body, err := loadOpenAPI()
	if err != nil {
		rt.logger.Error("openapi_unavailable", "request_id", requestIDFromContext(r.Context()), "error", err)
		writeDetail(w, http.StatusInternalServerError, internalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
