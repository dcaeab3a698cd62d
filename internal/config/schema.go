package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

const schemaID = "https://github.com/haasonsaas/chatline/chatline.schema.json"

var (
	schemaOnce  sync.Once
	schemaBytes []byte
	schemaErr   error
)

// JSONSchema describes chatline.yaml. Field names follow the yaml tags and
// unknown keys are rejected, matching Load.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		reflector := jsonschema.Reflector{
			FieldNameTag:               "yaml",
			AllowAdditionalProperties:  false,
			RequiredFromJSONSchemaTags: true,
			ExpandedStruct:             true,
		}
		s := reflector.Reflect(&Config{})
		s.ID = jsonschema.ID(schemaID)
		s.Title = "chatline configuration"
		schemaBytes, schemaErr = json.MarshalIndent(s, "", "  ")
	})
	return schemaBytes, schemaErr
}
