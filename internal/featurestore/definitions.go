// Package featurestore maps feature group configuration to SageMaker Feature Store
// definitions, assembles offline-store dataset queries and builds online inference
// vectors.
package featurestore

import "github.com/savaki/sagemaker-mlops/internal/models"

// FeatureType is a SageMaker Feature Store feature type.
type FeatureType string

const (
	Fractional FeatureType = "Fractional"
	Integral   FeatureType = "Integral"
	String     FeatureType = "String"
)

// Definition is one feature definition.
type Definition struct {
	FeatureName string
	FeatureType FeatureType
}

// TypeOf maps a column type to a feature type: float is Fractional, long is Integral,
// everything else is String.
func TypeOf(columnType string) FeatureType {
	switch columnType {
	case "float":
		return Fractional
	case "long":
		return Integral
	default:
		return String
	}
}

// FeatureDefinitions converts column schemas to feature definitions, keeping order.
func FeatureDefinitions(columns []models.ColumnSchema) []Definition {
	defs := make([]Definition, 0, len(columns))
	for _, c := range columns {
		defs = append(defs, Definition{FeatureName: c.Name, FeatureType: TypeOf(c.Type)})
	}
	return defs
}
