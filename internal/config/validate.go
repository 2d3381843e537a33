package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

// ValidateSettings checks raw settings (as loaded from config.yaml or set
// through `config set`) against the embedded JSON schema before they are
// decoded into Config. Findings are sorted so the message is stable.
func ValidateSettings(settings map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewGoLoader(settings),
	)
	if err != nil {
		return fmt.Errorf("validate config schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	findings := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		findings = append(findings, schemaErr.String())
	}
	sort.Strings(findings)
	return fmt.Errorf("config schema validation failed: %s", strings.Join(findings, "; "))
}
