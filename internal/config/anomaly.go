package config

import (
	"iter"
	"slices"
)

type anomaly struct {
	field    string
	reason   string
	actual   any
	fallback any
}

// AnomalyCollector is an utility struct for collecting anomalies.
type AnomalyCollector struct {
	anomalies []*anomaly
}

func newAnomalyCollector() *AnomalyCollector {
	return &AnomalyCollector{
		anomalies: []*anomaly{},
	}
}

func (ac *AnomalyCollector) add(field, reason string, actual, fallback any) {
	ac.anomalies = append(ac.anomalies, &anomaly{
		field:    field,
		reason:   reason,
		actual:   actual,
		fallback: fallback,
	})
}

func (ac *AnomalyCollector) iter() iter.Seq[*anomaly] {
	return slices.Values(ac.anomalies)
}

func (ac *AnomalyCollector) reset() {
	ac.anomalies = ac.anomalies[:0]
}

func (ac *AnomalyCollector) count() int {
	return len(ac.anomalies)
}

// NewAnomalyCollector returns an empty anomaly collector.
// It is meant for validating a configuration outside of a [Validator].
func NewAnomalyCollector() *AnomalyCollector {
	return newAnomalyCollector()
}

// Fields returns the fields of the collected anomalies.
func (ac *AnomalyCollector) Fields() []string {
	fields := make([]string, 0, len(ac.anomalies))
	for _, an := range ac.anomalies {
		fields = append(fields, an.field)
	}
	return fields
}
