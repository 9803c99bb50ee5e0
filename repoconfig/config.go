/*
Package repoconfig reads and validates the preview-config.yml file that every
repository under preview carries at its root, and resolves the application
framework when the file does not name one.

The parser is strict: required fields have no defaults, unknown framework or
database values are rejected, and the error always names the offending field
so it can be surfaced verbatim in the PR failure comment.
*/
package repoconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sasta-kro/magpie-previews/models"
)

// ConfigFileName is the well-known file name probed at the repo root.
const ConfigFileName = "preview-config.yml"

var (
	// ErrConfigMissing means the cloned repository has no preview-config.yml.
	ErrConfigMissing = errors.New("preview config file not found")

	// ErrConfigInvalid means the file exists but fails YAML parsing or the
	// field schema. ValidationError wraps it with the offending field.
	ErrConfigInvalid = errors.New("preview config is invalid")
)

// ValidationError reports a single schema violation. Field carries the yaml
// key name as it appears in the file, so the message is actionable for the
// repo author reading the PR comment.
type ValidationError struct {
	Field  string
	Reason string
}

func (validationError *ValidationError) Error() string {
	return fmt.Sprintf("invalid preview config: field %q %s", validationError.Field, validationError.Reason)
}

// Unwrap makes errors.Is(err, ErrConfigInvalid) hold for every ValidationError.
func (validationError *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// schemaValidator is shared across Parse calls; validator instances cache
// struct metadata and are safe for concurrent use.
var schemaValidator = newSchemaValidator()

func newSchemaValidator() *validator.Validate {
	schemaValidator := validator.New()

	// report field names by their yaml tag so validation errors reference the
	// keys the repo author actually wrote
	schemaValidator.RegisterTagNameFunc(func(field reflect.StructField) string {
		tagName := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if tagName == "" || tagName == "-" {
			return field.Name
		}
		return tagName
	})

	return schemaValidator
}

// Parse reads preview-config.yml from the root of workDir and returns the
// validated configuration. the returned config has health_check_path
// normalized to start with "/".
func Parse(workDir string) (*models.RepoPreviewConfig, error) {
	path := filepath.Join(workDir, ConfigFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: expected %s at repository root", ErrConfigMissing, ConfigFileName)
		}
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}

	// probe the shape of env_file before the typed decode. decoding a yaml
	// sequence into a string field produces an opaque type error; the probe
	// lets us reject it with a message that names the actual mistake.
	var shape struct {
		EnvFile yaml.Node `yaml:"env_file"`
	}
	if err := yaml.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if shape.EnvFile.Kind == yaml.SequenceNode {
		return nil, &ValidationError{Field: "env_file", Reason: "must be a single path, not a list"}
	}

	var repoConfig models.RepoPreviewConfig
	if err := yaml.Unmarshal(data, &repoConfig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	if err := schemaValidator.Struct(&repoConfig); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
			return nil, translateFieldError(fieldErrors[0])
		}
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	for _, entry := range repoConfig.Env {
		key, _, found := strings.Cut(entry, "=")
		if !found || key == "" {
			return nil, &ValidationError{Field: "env", Reason: fmt.Sprintf("entry %q must be KEY=VALUE", entry)}
		}
	}

	if !strings.HasPrefix(repoConfig.HealthCheckPath, "/") {
		repoConfig.HealthCheckPath = "/" + repoConfig.HealthCheckPath
	}

	return &repoConfig, nil
}

// translateFieldError converts a validator field error into a ValidationError
// with a human-readable reason.
func translateFieldError(fieldError validator.FieldError) *ValidationError {
	var reason string
	switch fieldError.Tag() {
	case "required":
		reason = "is required"
	case "oneof":
		reason = fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fieldError.Param(), " ", ", "))
	case "gt":
		reason = fmt.Sprintf("must be greater than %s", fieldError.Param())
	default:
		reason = fmt.Sprintf("failed %q validation", fieldError.Tag())
	}
	return &ValidationError{Field: fieldError.Field(), Reason: reason}
}
