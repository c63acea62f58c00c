package featurestore

import (
	"fmt"
	"strings"
)

// InferenceColumns is the column order the fraud model was trained with.
var InferenceColumns = []string{
	"incident_severity",
	"num_vehicles_involved",
	"num_injuries",
	"num_witnesses",
	"police_report_available",
	"injury_claim",
	"vehicle_claim",
	"total_claim_amount",
	"incident_month",
	"incident_day",
	"incident_dow",
	"incident_hour",
	"driver_relationship_self",
	"driver_relationship_na",
	"driver_relationship_spouse",
	"driver_relationship_child",
	"driver_relationship_other",
	"incident_type_collision",
	"incident_type_breakin",
	"incident_type_theft",
	"collision_type_front",
	"collision_type_rear",
	"collision_type_side",
	"collision_type_na",
	"authorities_contacted_police",
	"authorities_contacted_none",
	"authorities_contacted_fire",
	"authorities_contacted_ambulance",
	"customer_age",
	"customer_education",
	"months_as_customer",
	"policy_deductable",
	"policy_annual_premium",
	"policy_liability",
	"auto_year",
	"num_claims_past_year",
	"num_insurers_past_5_years",
	"customer_gender_male",
	"customer_gender_female",
	"policy_state_ca",
	"policy_state_wa",
	"policy_state_az",
	"policy_state_or",
	"policy_state_nv",
	"policy_state_id",
}

// Record is a feature record keyed by feature name.
type Record map[string]string

// Vector blends records and renders the values of columns as CSV. Earlier records win
// when a feature appears in more than one. A missing column is an error.
func Vector(columns []string, records ...Record) (string, error) {
	values := make([]string, 0, len(columns))
	for _, c := range columns {
		v, ok := lookup(c, records)
		if !ok {
			return "", fmt.Errorf("feature %s missing from records", c)
		}
		values = append(values, v)
	}
	return strings.Join(values, ","), nil
}

func lookup(column string, records []Record) (string, bool) {
	for _, r := range records {
		if v, ok := r[column]; ok {
			return v, true
		}
	}
	return "", false
}
