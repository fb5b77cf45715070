package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from
// the Go Scenario struct using invopop/jsonschema.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Scenario{})
	s.ID = "https://github.com/ormasoftchile/radrun/schemas/scenario-v1.json"
	s.Title = "RADIUS Test Scenario v1"
	s.Description = "Schema for radrun scenario YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// GenerateProfileJSONSchema produces a JSON Schema Draft 2020-12 document
// from the Go Profile struct.
func GenerateProfileJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Profile{})
	s.ID = "https://github.com/ormasoftchile/radrun/schemas/profile-v1.json"
	s.Title = "RADIUS Server Profile v1"
	s.Description = "Schema for radrun server profile YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal profile schema: %w", err)
	}
	return data, nil
}
