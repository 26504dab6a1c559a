// Package config contains utility structs/functions and types
// for validating the configurations across the module.
package config

// Config defines the minimal interface for a configuration
// in order to be validated.
type Config interface {
	// Validate checks the configuration.
	Validate(ac *AnomalyCollector)
}

// Empty is a configuration without fields.
type Empty struct{}

// Validate does nothing.
func (*Empty) Validate(_ *AnomalyCollector) {}
