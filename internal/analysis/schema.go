package analysis

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Dashboard is the validated LLM result: four score cards, a six-axis radar,
// a narrative block, and exactly three recommendations. The schema is closed;
// unknown fields are rejected rather than ignored.
type Dashboard struct {
	SessionID        string            `json:"session_id"`
	Cards            *Cards            `json:"cards"`
	BusinessOverview *BusinessOverview `json:"business_overview"`
	Recommendations  []Recommendation  `json:"recommendations"`
}

type Cards struct {
	OverallScore         *ScoreDelta `json:"overall_score"`
	CustomerSatisfaction *ScoreDelta `json:"customer_satisfaction"`
	TeamEfficiency       *ScoreDelta `json:"team_efficiency"`
	SalesPerformance     *ScoreDelta `json:"sales_performance"`
}

type ScoreDelta struct {
	Score *float64 `json:"score"`
	Delta *float64 `json:"delta"`
}

type BusinessOverview struct {
	Radar         *Radar         `json:"radar"`
	MainChallenge *MainChallenge `json:"main_challenge"`
}

type Radar struct {
	Sales         *float64 `json:"sales"`
	Team          *float64 `json:"team"`
	Marketing     *float64 `json:"marketing"`
	Systems       *float64 `json:"systems"`
	Profitability *float64 `json:"profitability"`
	Time          *float64 `json:"time"`
}

type MainChallenge struct {
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Statistics map[string]any `json:"statistics"`
	Solution   map[string]any `json:"solution"`
}

type Recommendation struct {
	Title string `json:"title"`
}

// ValidateDashboard parses and validates raw completion output. On success
// the session_id field is overwritten with the caller-supplied correlation
// id; the model's echoed id is never trusted. Returns DecodeError for
// malformed JSON and SchemaError (with the full violation list) for
// non-conformant content.
func ValidateDashboard(rawText, correlationID string) (*Dashboard, error) {
	var probe any
	if err := json.Unmarshal([]byte(rawText), &probe); err != nil {
		return nil, &DecodeError{Err: err}
	}

	dec := json.NewDecoder(strings.NewReader(rawText))
	dec.DisallowUnknownFields()
	var d Dashboard
	if err := dec.Decode(&d); err != nil {
		return nil, &SchemaError{Violations: []Violation{decodeViolation(err)}}
	}

	if violations := d.violations(); len(violations) > 0 {
		return nil, &SchemaError{Violations: violations}
	}

	d.SessionID = correlationID
	if d.BusinessOverview.MainChallenge.Statistics == nil {
		d.BusinessOverview.MainChallenge.Statistics = map[string]any{}
	}
	if d.BusinessOverview.MainChallenge.Solution == nil {
		d.BusinessOverview.MainChallenge.Solution = map[string]any{}
	}
	return &d, nil
}

func decodeViolation(err error) Violation {
	msg := err.Error()
	if field, ok := strings.CutPrefix(msg, "json: unknown field "); ok {
		return Violation{Field: strings.Trim(field, `"`), Issue: "unknown field"}
	}
	return Violation{Field: "$", Issue: msg}
}

func (d *Dashboard) violations() []Violation {
	var out []Violation
	add := func(field, issue string) {
		out = append(out, Violation{Field: field, Issue: issue})
	}

	if d.Cards == nil {
		add("cards", "required")
	} else {
		checkCard(&out, "cards.overall_score", d.Cards.OverallScore)
		checkCard(&out, "cards.customer_satisfaction", d.Cards.CustomerSatisfaction)
		checkCard(&out, "cards.team_efficiency", d.Cards.TeamEfficiency)
		checkCard(&out, "cards.sales_performance", d.Cards.SalesPerformance)
	}

	if d.BusinessOverview == nil {
		add("business_overview", "required")
	} else {
		if d.BusinessOverview.Radar == nil {
			add("business_overview.radar", "required")
		} else {
			r := d.BusinessOverview.Radar
			checkAxis(&out, "business_overview.radar.sales", r.Sales)
			checkAxis(&out, "business_overview.radar.team", r.Team)
			checkAxis(&out, "business_overview.radar.marketing", r.Marketing)
			checkAxis(&out, "business_overview.radar.systems", r.Systems)
			checkAxis(&out, "business_overview.radar.profitability", r.Profitability)
			checkAxis(&out, "business_overview.radar.time", r.Time)
		}
		if d.BusinessOverview.MainChallenge == nil {
			add("business_overview.main_challenge", "required")
		} else {
			mc := d.BusinessOverview.MainChallenge
			if strings.TrimSpace(mc.Title) == "" {
				add("business_overview.main_challenge.title", "must not be empty")
			}
			if strings.TrimSpace(mc.Body) == "" {
				add("business_overview.main_challenge.body", "must not be empty")
			}
		}
	}

	if len(d.Recommendations) != 3 {
		add("recommendations", "exactly 3 recommendations required")
	}
	for i, rec := range d.Recommendations {
		if strings.TrimSpace(rec.Title) == "" {
			add("recommendations["+strconv.Itoa(i)+"].title", "must not be empty")
		}
	}

	return out
}

func checkCard(out *[]Violation, field string, card *ScoreDelta) {
	if card == nil {
		*out = append(*out, Violation{Field: field, Issue: "required"})
		return
	}
	checkBoundedInt(out, field+".score", card.Score, 0, 100)
	checkBoundedInt(out, field+".delta", card.Delta, -100, 100)
}

func checkBoundedInt(out *[]Violation, field string, value *float64, min, max float64) {
	if value == nil {
		*out = append(*out, Violation{Field: field, Issue: "required"})
		return
	}
	if !isInteger(*value) {
		*out = append(*out, Violation{Field: field, Issue: "must be an integer"})
		return
	}
	if *value < min || *value > max {
		*out = append(*out, Violation{Field: field, Issue: "out of range"})
	}
}

func checkAxis(out *[]Violation, field string, value *float64) {
	if value == nil {
		*out = append(*out, Violation{Field: field, Issue: "required"})
		return
	}
	if *value < 0.0 || *value > 1.0 {
		*out = append(*out, Violation{Field: field, Issue: "out of range"})
	}
}

func isInteger(v float64) bool {
	return v == math.Trunc(v)
}
