package openapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/vitalvas/urlmap"
	"gopkg.in/yaml.v3"
)

// Handler returns an http.Handler serving the OpenAPI document describing
// the given rule map. Requests whose path ends in ".yaml" or ".yml" get the
// YAML rendering, everything else gets JSON. The document is built and
// serialized once, on first request.
func Handler(m *urlmap.Map, info Info) http.Handler {
	var (
		once     sync.Once
		jsonData []byte
		yamlData []byte
		buildErr error
	)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			defer func() {
				if rv := recover(); rv != nil {
					buildErr = fmt.Errorf("%v", rv)
				}
			}()
			doc := Describe(m, info)
			jsonData, buildErr = json.MarshalIndent(doc, "", "  ")
			if buildErr != nil {
				return
			}
			yamlData, buildErr = yaml.Marshal(doc)
		})
		if buildErr != nil {
			http.Error(w, "failed to serialize OpenAPI document", http.StatusInternalServerError)
			return
		}

		if strings.HasSuffix(r.URL.Path, ".yaml") || strings.HasSuffix(r.URL.Path, ".yml") {
			w.Header().Set("Content-Type", "application/x-yaml")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(yamlData)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(jsonData)
	})
}
