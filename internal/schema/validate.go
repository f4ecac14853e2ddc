package schema

import (
	"fmt"
	"strconv"

	"toolgate/internal/domain"
)

// fieldIssue is a single validation failure collected during the walk.
type fieldIssue struct {
	path   string
	reason string
}

// Validate checks an argument map against the schema. It returns nil on
// success, or a *domain.Error with code VALIDATION_ERROR listing every field
// that failed. A permissive schema accepts anything, including nil args.
func (s *Schema) Validate(args map[string]any) error {
	if s.Permissive() {
		return nil
	}

	var issues []fieldIssue
	validateObject(s.root, args, "", &issues)

	if len(issues) == 0 {
		return nil
	}
	err := domain.NewError(domain.CodeValidation, "invalid arguments: %d field error(s)", len(issues))
	for _, is := range issues {
		err.WithField(is.path, is.reason)
	}
	return err
}

func validateObject(f *Field, value map[string]any, path string, issues *[]fieldIssue) {
	for _, name := range f.Required {
		if _, ok := value[name]; !ok {
			*issues = append(*issues, fieldIssue{path: join(path, name), reason: "required"})
		}
	}
	for name, pf := range f.Properties {
		v, ok := value[name]
		if !ok {
			continue
		}
		validateValue(pf, v, join(path, name), issues)
	}
}

func validateValue(f *Field, value any, path string, issues *[]fieldIssue) {
	switch f.Type {
	case TypeString:
		if _, ok := value.(string); !ok {
			// No cross-type coercion into strings: a number stays a number.
			*issues = append(*issues, fieldIssue{path, fmt.Sprintf("expected string, got %T", value)})
		}

	case TypeInteger:
		if reason := checkInteger(value); reason != "" {
			*issues = append(*issues, fieldIssue{path, reason})
		}

	case TypeNumber:
		if reason := checkNumber(value); reason != "" {
			*issues = append(*issues, fieldIssue{path, reason})
		}

	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			*issues = append(*issues, fieldIssue{path, fmt.Sprintf("expected boolean, got %T", value)})
		}

	case TypeObject:
		m, ok := value.(map[string]any)
		if !ok {
			*issues = append(*issues, fieldIssue{path, fmt.Sprintf("expected object, got %T", value)})
			return
		}
		validateObject(f, m, path, issues)

	case TypeArray:
		items, ok := value.([]any)
		if !ok {
			*issues = append(*issues, fieldIssue{path, fmt.Sprintf("expected array, got %T", value)})
			return
		}
		if f.Items != nil {
			for i, item := range items {
				validateValue(f.Items, item, fmt.Sprintf("%s[%d]", path, i), issues)
			}
		}

	default:
		// Unknown declared type: permissive.
	}
}

// checkInteger accepts native integers, whole floats (the shape JSON
// unmarshaling produces), and numeric strings. Returns a reason on failure.
func checkInteger(value any) string {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return ""
	case float64:
		if v == float64(int64(v)) {
			return ""
		}
		return "expected integer, got non-whole number"
	case float32:
		if v == float32(int64(v)) {
			return ""
		}
		return "expected integer, got non-whole number"
	case string:
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			return ""
		}
		return fmt.Sprintf("expected integer, got string %q", v)
	default:
		return fmt.Sprintf("expected integer, got %T", value)
	}
}

func checkNumber(value any) string {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return ""
	case string:
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return ""
		}
		return fmt.Sprintf("expected number, got string %q", v)
	default:
		return fmt.Sprintf("expected number, got %T", value)
	}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
