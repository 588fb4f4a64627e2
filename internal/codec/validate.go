package codec

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"time"

	"github.com/s3db/s3db/internal/schema"
)

// Validate checks a flattened document against every attribute the schema
// version declares (spec.md §4.2 step 2). Required-field absence, type
// mismatch, and Validator constraint failures are all collected rather than
// short-circuited on the first error, matching the teacher's
// multi-error validation reporting in store.go.
func Validate(sv *schema.SchemaVersion, flat map[string]interface{}) ValidationErrors {
	var errs ValidationErrors

	for _, attr := range sv.Attributes {
		v, present := flat[attr.Name]
		if !present || v == nil {
			if attr.Required {
				errs = append(errs, &ValidationError{Path: attr.Name, Reason: "required attribute is missing"})
			}
			continue
		}
		if err := validateOne(attr, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// ValidatePartial checks only the attributes actually present in flat,
// skipping the required-field check entirely (spec.md §3: patch "mutates
// without reading," so it cannot know whether an absent required field is
// genuinely missing from the record or simply untouched by this patch).
func ValidatePartial(sv *schema.SchemaVersion, flat map[string]interface{}) ValidationErrors {
	var errs ValidationErrors
	for _, attr := range sv.Attributes {
		v, present := flat[attr.Name]
		if !present || v == nil {
			continue
		}
		if err := validateOne(attr, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func validateOne(attr schema.Attribute, v interface{}) *ValidationError {
	if err := validateType(attr, v); err != nil {
		return err
	}
	if attr.Validate == nil {
		return nil
	}
	return validateConstraints(attr, v)
}

func validateType(attr schema.Attribute, v interface{}) *ValidationError {
	switch attr.Type {
	case schema.TypeString, schema.TypeSecret:
		if _, ok := v.(string); !ok {
			return typeErr(attr, "string", v)
		}
	case schema.TypeNumber:
		switch v.(type) {
		case float64, float32, int, int64:
		default:
			return typeErr(attr, "number", v)
		}
	case schema.TypeBoolean:
		if _, ok := v.(bool); !ok {
			return typeErr(attr, "boolean", v)
		}
	case schema.TypeDate:
		s, ok := v.(string)
		if !ok {
			return typeErr(attr, "date (RFC3339 string)", v)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return &ValidationError{Path: attr.Name, Reason: "not a valid RFC3339 date: " + err.Error()}
		}
	case schema.TypeURL:
		s, ok := v.(string)
		if !ok {
			return typeErr(attr, "url string", v)
		}
		if _, err := url.ParseRequestURI(s); err != nil {
			return &ValidationError{Path: attr.Name, Reason: "not a valid URL: " + err.Error()}
		}
	case schema.TypeEmail:
		s, ok := v.(string)
		if !ok {
			return typeErr(attr, "email string", v)
		}
		if _, err := mail.ParseAddress(s); err != nil {
			return &ValidationError{Path: attr.Name, Reason: "not a valid email address"}
		}
	case schema.TypeObject:
		if _, ok := v.(map[string]interface{}); !ok {
			return typeErr(attr, "object", v)
		}
	case schema.TypeArray:
		if _, ok := v.([]interface{}); !ok {
			return typeErr(attr, "array", v)
		}
	}
	return nil
}

func typeErr(attr schema.Attribute, want string, got interface{}) *ValidationError {
	return &ValidationError{Path: attr.Name, Reason: fmt.Sprintf("expected %s, got %T", want, got)}
}

func validateConstraints(attr schema.Attribute, v interface{}) *ValidationError {
	val := attr.Validate

	if s, ok := v.(string); ok {
		if val.MinLength != nil && len(s) < *val.MinLength {
			return &ValidationError{Path: attr.Name, Reason: fmt.Sprintf("length %d is below minLength %d", len(s), *val.MinLength)}
		}
		if val.Pattern != "" {
			re, err := regexp.Compile(val.Pattern)
			if err != nil {
				return &ValidationError{Path: attr.Name, Reason: "invalid pattern in schema: " + err.Error()}
			}
			if !re.MatchString(s) {
				return &ValidationError{Path: attr.Name, Reason: fmt.Sprintf("value does not match pattern %q", val.Pattern)}
			}
		}
		if len(val.Enum) > 0 && !containsString(val.Enum, s) {
			return &ValidationError{Path: attr.Name, Reason: fmt.Sprintf("value %q is not one of %v", s, val.Enum)}
		}
	}

	if n, ok := asFloat(v); ok {
		if val.Min != nil && n < *val.Min {
			return &ValidationError{Path: attr.Name, Reason: fmt.Sprintf("value %v is below min %v", n, *val.Min)}
		}
		if val.Max != nil && n > *val.Max {
			return &ValidationError{Path: attr.Name, Reason: fmt.Sprintf("value %v is above max %v", n, *val.Max)}
		}
	}

	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
