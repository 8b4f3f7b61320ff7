package config

import (
	"net/http"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	namePattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	prefixPattern = regexp.MustCompile(`^/[^?#\s]*$`)
	pathPattern   = regexp.MustCompile(`^(/[^?#\s]*)?$`)
)

// forwardableMethods bounds the methods a routing entry may list.
var forwardableMethods = []any{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// Validate checks a single routing entry. Cross-entry rules (unique names and
// prefixes) are enforced by Config.
func (b BackendConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Name,
			validation.Required,
			validation.Match(namePattern).Error("must be lowercase letters, digits, '-' or '_'"),
		),
		validation.Field(&b.Prefix,
			validation.Required,
			validation.Match(prefixPattern).Error("must start with '/' and carry no query"),
		),
		validation.Field(&b.BaseURL,
			validation.Required,
			validation.By(validBaseURL),
		),
		validation.Field(&b.UpstreamPath,
			validation.Match(pathPattern).Error("must be empty or start with '/'"),
		),
		validation.Field(&b.Methods,
			validation.Each(validation.In(forwardableMethods...)),
		),
	)
}
