package http

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPIYAML []byte

// APIVersion is stamped into info.version of the served document.
var APIVersion = "dev"

var (
	openAPIJSON     []byte
	openAPIJSONOnce sync.Once
	openAPIJSONErr  error
)

// getOpenAPIJSON returns the OpenAPI document as JSON, converted once.
func getOpenAPIJSON() ([]byte, error) {
	openAPIJSONOnce.Do(func() {
		openAPIJSON, openAPIJSONErr = openAPIToJSON(openAPIYAML, APIVersion)
	})
	return openAPIJSON, openAPIJSONErr
}

func openAPIToJSON(src []byte, version string) ([]byte, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("parsing openapi.yaml: %w", err)
	}

	if info, ok := doc["info"].(map[string]interface{}); ok && version != "" {
		info["version"] = version
	}

	out, err := jsonCompatible(doc)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(out, "", "  ")
}

// jsonCompatible rejects non-string map keys, which JSON cannot represent.
func jsonCompatible(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case map[string]interface{}:
		for k, val := range v {
			conv, err := jsonCompatible(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			v[k] = conv
		}
		return v, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v", k)
			}
			conv, err := jsonCompatible(val)
			if err != nil {
				return nil, err
			}
			out[key] = conv
		}
		return out, nil
	case []interface{}:
		for i, val := range v {
			conv, err := jsonCompatible(val)
			if err != nil {
				return nil, err
			}
			v[i] = conv
		}
		return v, nil
	default:
		return v, nil
	}
}
