package configutil

import (
	"slices"
	"strings"
)

// Schema lists the keys a settings block may carry. Keys compare
// case-, underscore- and hyphen-insensitively.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// SettingsError reports every problem in one settings block at once, so a
// config file can be fixed in a single pass.
type SettingsError struct {
	Path    string
	Missing []string
	Unknown []string
}

func (e *SettingsError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(e.Unknown, ", "))
	}
	return e.Path + ": " + strings.Join(parts, "; ")
}

// ValidateSettings checks the settings block found at path (for example
// "vendors.stt.settings") against schema. Blank strings count as missing.
func ValidateSettings(path string, input map[string]any, schema Schema) error {
	known := make(map[string]bool, len(schema.Required)+len(schema.Optional))
	for _, k := range schema.Optional {
		known[normalizeKey(k)] = true
	}
	for _, k := range schema.Required {
		known[normalizeKey(k)] = true
	}

	present := make(map[string]bool, len(input))
	serr := &SettingsError{Path: path}
	for k, v := range input {
		nk := normalizeKey(k)
		if !isBlank(v) {
			present[nk] = true
		}
		if !known[nk] && !schema.AllowUnknown {
			serr.Unknown = append(serr.Unknown, k)
		}
	}
	for _, k := range schema.Required {
		if !present[normalizeKey(k)] {
			serr.Missing = append(serr.Missing, k)
		}
	}
	if len(serr.Missing) == 0 && len(serr.Unknown) == 0 {
		return nil
	}
	slices.Sort(serr.Missing)
	slices.Sort(serr.Unknown)
	return serr
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}
