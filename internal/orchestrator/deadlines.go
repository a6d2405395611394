package orchestrator

import (
	"time"

	"legal-research-engine/internal/apperr"
)

// deadlineRule is one procedure-code/action pair's statutory period, in
// calendar days, per the Civil/Commercial/Administrative/Criminal Procedure
// Codes. This is a fixed table, not a model call — deadlines are a matter of
// statute, not inference.
type deadlineRule struct {
	procedureCode string
	action        string
	days          int
}

var deadlineTable = []deadlineRule{
	{"cpc", "appeal", 30},
	{"cpc", "cassation", 30},
	{"cpc", "objection", 10},
	{"commercial", "appeal", 20},
	{"commercial", "cassation", 20},
	{"acp", "appeal", 30},
	{"acp", "cassation", 30},
	{"cpc_criminal", "appeal", 30},
	{"cpc_criminal", "cassation", 90},
}

// procedureCodeActs names the governing code for each procedure_code, used
// to populate the `norms.act` field of a deadline result.
var procedureCodeActs = map[string]string{
	"cpc":          "Цивільний процесуальний кодекс України",
	"commercial":   "Господарський процесуальний кодекс України",
	"acp":          "Кодекс адміністративного судочинства України",
	"cpc_criminal": "Кримінальний процесуальний кодекс України",
}

// DeadlineVariant is one computed rule application (today the table has
// exactly one rule per procedure/action pair, but the shape leaves room for
// future renewal-of-term variants without breaking callers).
type DeadlineVariant struct {
	Rule      string `json:"rule"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// DeadlineNorm names the governing code for the tool's result.
type DeadlineNorm struct {
	Act string `json:"act"`
}

// DeadlineResult is the calculate_procedural_deadlines tool's output.
type DeadlineResult struct {
	ProcedureCode string            `json:"procedure_code"`
	AppealType    string            `json:"appeal_type"`
	Days          int               `json:"days"`
	EventDate     time.Time         `json:"event_date"`
	EndDate       time.Time         `json:"end_date"`
	Variants      []DeadlineVariant `json:"variants"`
	Norms         DeadlineNorm      `json:"norms"`
}

// CalculateProceduralDeadline implements `calculate_procedural_deadlines`:
// looks up the statutory period for (procedure_code, appeal_type) and adds
// it to the event date, per spec §4.9's deterministic-tool contract and the
// S1 scenario of spec §8.
func CalculateProceduralDeadline(procedureCode, appealType string, eventDate time.Time) (*DeadlineResult, error) {
	for _, r := range deadlineTable {
		if r.procedureCode == procedureCode && r.action == appealType {
			endDate := eventDate.AddDate(0, 0, r.days)
			return &DeadlineResult{
				ProcedureCode: procedureCode,
				AppealType:    appealType,
				Days:          r.days,
				EventDate:     eventDate,
				EndDate:       endDate,
				Variants: []DeadlineVariant{{
					Rule:      "from_event_date",
					StartDate: eventDate.Format("2006-01-02"),
					EndDate:   endDate.Format("2006-01-02"),
				}},
				Norms: DeadlineNorm{Act: procedureCodeActs[procedureCode]},
			}, nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "no deadline rule for procedure_code="+procedureCode+" appeal_type="+appealType)
}
