package orchestrator

import (
	"context"

	"legal-research-engine/internal/apperr"
)

// ChecklistStep is one actionable item in a procedural checklist.
type ChecklistStep struct {
	Step     string `json:"step"`
	Deadline string `json:"deadline,omitempty"`
	Evidence string `json:"evidence,omitempty"`
}

var procedureChecklists = map[string][]ChecklistStep{
	"appeal": {
		{Step: "Prepare the appellate complaint (апеляційна скарга)"},
		{Step: "Pay the court fee and attach proof of payment"},
		{Step: "File within the statutory period", Deadline: "see calculate_procedural_deadlines"},
		{Step: "Serve copies on all parties to the case"},
	},
	"cassation": {
		{Step: "Prepare the cassation complaint (касаційна скарга)"},
		{Step: "Confirm the point-of-law grounds required for cassation review"},
		{Step: "Pay the court fee and attach proof of payment"},
		{Step: "File within the statutory period", Deadline: "see calculate_procedural_deadlines"},
	},
	"monetary_claim": {
		{Step: "Calculate principal, interest (проценти), and penalty (неустойка/пеня) separately"},
		{Step: "Attach documentary proof of the underlying obligation"},
		{Step: "Attach the calculation as a claim annex"},
	},
}

// MonetaryClaim is one line item in calculate_monetary_claims's output.
type MonetaryClaim struct {
	Kind   string  `json:"kind"` // principal | interest | penalty
	Amount float64 `json:"amount"`
}

// MonetaryClaimResult sums the claim's components, per spec §4.9's AMOUNTS
// handling.
type MonetaryClaimResult struct {
	Claims []MonetaryClaim `json:"claims"`
	Total  float64         `json:"total"`
}

// BuildProceduralChecklist implements `build_procedural_checklist`.
func BuildProceduralChecklist(ctx context.Context, action string) ([]ChecklistStep, error) {
	steps, ok := procedureChecklists[action]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "no checklist for action: "+action)
	}
	return steps, nil
}

// CalculateMonetaryClaims implements `calculate_monetary_claims`: sums a set
// of claim components (principal/interest/penalty) supplied by the caller.
// This is arithmetic, not inference — the model supplies the line items,
// the tool only totals them, keeping the computation auditable.
func CalculateMonetaryClaims(claims []MonetaryClaim) MonetaryClaimResult {
	var total float64
	for _, c := range claims {
		total += c.Amount
	}
	return MonetaryClaimResult{Claims: claims, Total: total}
}
