package policy

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"
	"gopkg.in/yaml.v3"
)

//go:embed template.rego
var policyContent string

// Validator checks synthesized CloudFormation templates against the deployment guardrails.
type Validator struct {
	allow      rego.PreparedEvalQuery
	violations rego.PreparedEvalQuery
}

type ValidationResult struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
}

func (r *ValidationResult) Err() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("template rejected: %s", strings.Join(r.Violations, "; "))
}

func NewValidator(ctx context.Context) (*Validator, error) {
	prepare := func(query string) (rego.PreparedEvalQuery, error) {
		return rego.New(
			rego.Query(query),
			rego.Module("template.rego", policyContent),
		).PrepareForEval(ctx)
	}

	allow, err := prepare("data.mlops.template.allow")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy query: %w", err)
	}
	violations, err := prepare("data.mlops.template.violations")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare violations query: %w", err)
	}

	return &Validator{
		allow:      allow,
		violations: violations,
	}, nil
}

// ValidateTemplate evaluates the Resources section of a decoded template.
func (v *Validator) ValidateTemplate(ctx context.Context, template map[string]interface{}) (*ValidationResult, error) {
	input := map[string]interface{}{
		"Resources": template["Resources"],
	}

	results, err := v.allow.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 {
		return &ValidationResult{
			Allowed:    false,
			Violations: []string{"policy evaluation returned no results"},
		}, nil
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return &ValidationResult{
			Allowed:    false,
			Violations: []string{"policy evaluation returned non-boolean result"},
		}, nil
	}
	if allowed {
		return &ValidationResult{Allowed: true}, nil
	}

	violations, err := v.getViolations(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get violations: %w", err)
	}
	return &ValidationResult{Allowed: false, Violations: violations}, nil
}

// ValidateFile reads a JSON or YAML template from disk and validates it.
func (v *Validator) ValidateFile(ctx context.Context, path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", path, err)
	}

	var template map[string]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &template)
	default:
		err = json.Unmarshal(data, &template)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", path, err)
	}

	return v.ValidateTemplate(ctx, template)
}

func (v *Validator) getViolations(ctx context.Context, input map[string]interface{}) ([]string, error) {
	results, err := v.violations.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate violations: %w", err)
	}
	if len(results) == 0 {
		return []string{"unknown policy violation"}, nil
	}

	// Rego sets come back as slices
	var violations []string
	if items, ok := results[0].Expressions[0].Value.([]interface{}); ok {
		for _, item := range items {
			if s, ok := item.(string); ok {
				violations = append(violations, s)
			}
		}
	}

	if len(violations) == 0 {
		return []string{"policy validation failed but no specific violations found"}, nil
	}
	sort.Strings(violations)
	return violations, nil
}
