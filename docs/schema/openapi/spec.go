// Package openapi embeds the registry API description for runtime
// distribution.
package openapi

import _ "embed"

// RegistriesSpec contains the OpenAPI document for the registry API.
//
//go:embed registries.yaml
var RegistriesSpec []byte

// Spec returns a copy of the embedded OpenAPI YAML.
func Spec() []byte {
	return append([]byte(nil), RegistriesSpec...)
}
