package scope

import (
	"fmt"
	"regexp"

	"github.com/kailas-cloud/aigov/internal/domain"
)

// DefaultUnit is used when a client has no sub-unit.
const DefaultUnit = "-"

var (
	idRegex      = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
	featureRegex = regexp.MustCompile(`^[a-z0-9_.-]{1,64}$`)
)

// Scope is the billing boundary a quota or usage record applies to (immutable value object).
type Scope struct {
	client string
	unit   string
}

// New validates and creates a scope. An empty unit becomes DefaultUnit.
func New(client, unit string) (Scope, error) {
	if unit == "" {
		unit = DefaultUnit
	}
	if !idRegex.MatchString(client) {
		return Scope{}, fmt.Errorf("%w: client %q", domain.ErrInvalidScope, client)
	}
	if !idRegex.MatchString(unit) {
		return Scope{}, fmt.Errorf("%w: unit %q", domain.ErrInvalidScope, unit)
	}
	return Scope{client: client, unit: unit}, nil
}

// Client returns the tenant identifier.
func (s Scope) Client() string { return s.client }

// Unit returns the sub-unit identifier.
func (s Scope) Unit() string { return s.unit }

// Key returns the composite "client:unit" identifier used in storage keys.
func (s Scope) Key() string { return s.client + ":" + s.unit }

func (s Scope) String() string { return s.Key() }

// ValidateFeature checks a feature name.
func ValidateFeature(feature string) error {
	if !featureRegex.MatchString(feature) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidFeature, feature)
	}
	return nil
}
