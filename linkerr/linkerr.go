// Package linkerr implements the DSA link SDK's error taxonomy: a small
// set of enumerated kinds, each carrying a category, a stable numeric
// code, and a human-readable message. Kinds are matched with
// errors.Is; wrapped context uses fmt.Errorf("...: %w", err) the way
// every other package in this module does.
package linkerr

import "fmt"

// Category groups kinds by the phase of the link lifecycle that raises
// them.
type Category int

const (
	CategoryPath Category = iota
	CategoryValue
	CategoryConfig
	CategoryBuilder
	CategoryStream
	CategoryPermission
	CategoryDeserialization
	CategoryInternal
)

func (c Category) String() string {
	switch c {
	case CategoryPath:
		return "path"
	case CategoryValue:
		return "value"
	case CategoryConfig:
		return "config"
	case CategoryBuilder:
		return "builder"
	case CategoryStream:
		return "stream"
	case CategoryPermission:
		return "permission"
	case CategoryDeserialization:
		return "deserialization"
	default:
		return "internal"
	}
}

// Kind enumerates the taxonomy from spec.md §7. Kind implements error
// directly so a bare Kind value can be returned and matched with
// errors.Is(err, linkerr.PathNotFound).
type Kind struct {
	Category Category
	Code     int
	message  string
}

func (k Kind) Error() string { return k.message }

// Is lets errors.Is match on Kind equality by (Category, Code) rather
// than requiring the exact same message string — callers that wrap a
// Kind with additional context (fmt.Errorf("%s: %w", path, linkerr.PathNotFound))
// still match errors.Is(err, linkerr.PathNotFound).
func (k Kind) Is(target error) bool {
	other, ok := target.(Kind)
	if !ok {
		return false
	}
	return k.Category == other.Category && k.Code == other.Code
}

var (
	PathNotFound = Kind{CategoryPath, 1, "path-not-found"}

	ConfigValueNotFound    = Kind{CategoryConfig, 10, "config-value-not-found"}
	AttributeValueNotFound = Kind{CategoryConfig, 11, "attribute-value-not-found"}
	InvalidConfigName      = Kind{CategoryConfig, 12, "invalid-config-name"}
	InvalidRemoveOperation = Kind{CategoryConfig, 13, "invalid-remove-operation"}

	NotAValueNode = Kind{CategoryValue, 20, "not-a-value-node"}
	InvalidValue  = Kind{CategoryValue, 21, "invalid-value"}

	InvalidStream                      = Kind{CategoryStream, 30, "invalid-stream"}
	InvalidTableReplaceModifierIndex    = Kind{CategoryStream, 31, "invalid-table-replace-modifier-index"}

	InvalidEditorType      = Kind{CategoryBuilder, 40, "invalid-editor-type"}
	EditorTypeNotAllowed   = Kind{CategoryBuilder, 41, "editor-type-not-allowed"}
	NoNodeDefinedYet       = Kind{CategoryBuilder, 42, "no-node-defined-yet"}
	EmptyNameSpecified     = Kind{CategoryBuilder, 43, "empty-name-specified"}
	InvalidNameCharacters  = Kind{CategoryBuilder, 44, "invalid-name-characters"}

	InvalidLinkTypeSpecified = Kind{CategoryPermission, 50, "invalid-link-type-specified"}
	NodeIsNotWritable        = Kind{CategoryPermission, 51, "node-is-not-writable"}
	InvalidPermissionSpecified = Kind{CategoryPermission, 52, "invalid-permission-specified"}

	InvalidDslinkJSON = Kind{CategoryDeserialization, 60, "invalid-dslink-json"}
	NoDslinkJSONFound = Kind{CategoryDeserialization, 61, "no-dslink-json-found"}

	InternalError = Kind{CategoryInternal, 99, "internal-error"}
)

// Wrap attaches additional context to a Kind the way every other
// package in this module wraps errors: fmt.Errorf with %w.
func Wrap(k Kind, context string) error {
	return fmt.Errorf("%s: %w", context, k)
}
