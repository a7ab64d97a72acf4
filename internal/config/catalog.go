package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelSeed is one entry of the model catalog the registry is seeded
// with at startup. UpstreamID is the identifier the provider expects;
// PublicID is what clients send.
type ModelSeed struct {
	PublicID          string `yaml:"id"`
	UpstreamID        string `yaml:"upstream_id"`
	Name              string `yaml:"name"`
	OwnedBy           string `yaml:"owned_by"`
	SupportsStreaming bool   `yaml:"streaming"`
	SupportsFiles     bool   `yaml:"files"`
}

// ModelCatalog is the YAML document shape for MODEL_CATALOG_PATH.
type ModelCatalog struct {
	Models []ModelSeed `yaml:"models"`
}

// LoadCatalog parses the model catalog file. When path is empty the
// built-in defaults are returned.
func LoadCatalog(path string) (ModelCatalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ModelCatalog{}, fmt.Errorf("read model catalog %q: %w", path, err)
	}

	var catalog ModelCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return ModelCatalog{}, fmt.Errorf("parse model catalog %q: %w", path, err)
	}

	if len(catalog.Models) == 0 {
		return ModelCatalog{}, fmt.Errorf("model catalog %q lists no models", path)
	}
	for i, m := range catalog.Models {
		if m.PublicID == "" {
			return ModelCatalog{}, fmt.Errorf("model catalog %q: models[%d] has no id", path, i)
		}
		if m.UpstreamID == "" {
			return ModelCatalog{}, fmt.Errorf("model catalog %q: model %q has no upstream_id", path, m.PublicID)
		}
	}

	return catalog, nil
}

// DefaultCatalog mirrors the provider's stock model lineup, including
// the suffix variants that share a base upstream model.
func DefaultCatalog() ModelCatalog {
	return ModelCatalog{Models: []ModelSeed{
		{PublicID: "glm-4.6", UpstreamID: "GLM-4-6-API-V1", Name: "GLM-4.6", OwnedBy: "z.ai", SupportsStreaming: true, SupportsFiles: true},
		{PublicID: "glm-4.6-nothinking", UpstreamID: "GLM-4-6-API-V1", Name: "GLM-4.6-NOTHINKING", OwnedBy: "z.ai", SupportsStreaming: true, SupportsFiles: true},
		{PublicID: "glm-4.6-search", UpstreamID: "GLM-4-6-API-V1", Name: "GLM-4.6-SEARCH", OwnedBy: "z.ai", SupportsStreaming: true, SupportsFiles: true},
		{PublicID: "glm-4.6-advanced-search", UpstreamID: "GLM-4-6-API-V1", Name: "GLM-4.6-ADVANCED-SEARCH", OwnedBy: "z.ai", SupportsStreaming: true, SupportsFiles: true},
		{PublicID: "glm-4.5V", UpstreamID: "glm-4.5v", Name: "GLM-4.5V", OwnedBy: "z.ai", SupportsStreaming: true, SupportsFiles: true},
		{PublicID: "glm-4.5", UpstreamID: "0727-360B-API", Name: "GLM-4.5", OwnedBy: "z.ai", SupportsStreaming: true, SupportsFiles: true},
	}}
}
