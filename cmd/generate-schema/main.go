// Command generate-schema writes the JSON schema of the tenantfs
// configuration file, for editor completion and CI validation.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/tenantfs/pkg/config"
)

func main() {
	outputFile := "config.schema.json"
	if len(os.Args) > 1 {
		outputFile = os.Args[1]
	}

	if err := run(outputFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("JSON schema written to %s\n", outputFile)
}

func run(outputFile string) error {
	data, err := generate()
	if err != nil {
		return err
	}
	return os.WriteFile(outputFile, data, 0o644)
}

func generate() ([]byte, error) {
	reflector := jsonschema.Reflector{
		// Property names follow the configuration file, not Go fields.
		FieldNameTag:              "mapstructure",
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "tenantfs configuration"
	schema.Description = "Configuration schema for the tenantfs file server"
	schema.Version = "1.0.0"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}
