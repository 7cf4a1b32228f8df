package blob

import (
	"fmt"

	yamlv3 "gopkg.in/yaml.v3"
)

const CurrentSchemaVersion = 1

var validFileTypes = map[string]bool{
	"missions":         true,
	"deleted_missions": true,
	"metrics":          true,
}

// SchemaHeader is the envelope every store document starts with. Validation
// reads only these two fields, so a structurally damaged document body still
// passes here and is caught by the watchdog instead.
type SchemaHeader struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
}

// ValidateHeader checks that content carries a parseable header of the
// expected file type at a supported schema version. An empty expected type
// accepts any known type.
func ValidateHeader(content []byte, expected string) error {
	var h SchemaHeader
	if err := yamlv3.Unmarshal(content, &h); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	switch {
	case h.SchemaVersion < 1:
		return fmt.Errorf("invalid schema_version %d (must be >= 1)", h.SchemaVersion)
	case h.SchemaVersion > CurrentSchemaVersion:
		return fmt.Errorf("unsupported schema_version %d (max supported: %d)", h.SchemaVersion, CurrentSchemaVersion)
	case h.FileType == "":
		return fmt.Errorf("missing file_type")
	case !validFileTypes[h.FileType]:
		return fmt.Errorf("unknown file_type: %q", h.FileType)
	case expected != "" && h.FileType != expected:
		return fmt.Errorf("file_type mismatch: got %q, expected %q", h.FileType, expected)
	}
	return nil
}
