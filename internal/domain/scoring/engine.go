// Package scoring computes raw totals, subscale totals, completion and
// clinical interpretation for a set of item responses against a validated
// scale. Scoring is a pure function of its inputs; it never touches
// storage and never mutates the scale.
package scoring

import (
	"errors"
	"fmt"

	"github.com/psicore/psicore/internal/domain/catalog"
)

// ErrValidation marks a response that references an unknown item or an
// unknown symbolic answer value. These are caller errors, never scale
// configuration defects.
var ErrValidation = errors.New("response validation error")

func validationErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ItemResponse is one answered item. Exactly one of Value, Values or Text
// is expected depending on the item's question type: Value for single-
// choice types, Values for checklist and ranking, Text for free text.
type ItemResponse struct {
	Item   int      `json:"item"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Options tunes a single scoring run.
type Options struct {
	// InterpretationThreshold is the minimum completion percentage at
	// which an interpretation is attached to the result. Zero means the
	// default of 100: only fully answered instruments are interpreted.
	InterpretationThreshold float64
}

func (o Options) threshold() float64 {
	if o.InterpretationThreshold <= 0 {
		return 100
	}
	return o.InterpretationThreshold
}

// SubscaleScore is the aggregated total of one subscale.
type SubscaleScore struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	ScoreMin int    `json:"score_min"`
	ScoreMax int    `json:"score_max"`
}

// Result is the outcome of a scoring run. Interpretation is nil whenever
// completion fell below the configured threshold; raw and subscale totals
// are still reported for partial data.
type Result struct {
	ScaleID        string                      `json:"scale_id"`
	ScaleVersion   int                         `json:"scale_version"`
	RawScore       int                         `json:"raw_score"`
	ScoreMin       int                         `json:"score_min"`
	ScoreMax       int                         `json:"score_max"`
	Subscales      []SubscaleScore             `json:"subscales,omitempty"`
	AnsweredItems  int                         `json:"answered_items"`
	TotalItems     int                         `json:"total_items"`
	Completion     float64                     `json:"completion_pct"`
	MissingItems   []int                       `json:"missing_items,omitempty"`
	Interpretation *catalog.InterpretationRule `json:"interpretation,omitempty"`
}

// Complete reports whether every item that counts toward completion was
// answered.
func (r *Result) Complete() bool {
	return r.AnsweredItems == r.TotalItems
}

// Score resolves each response through its item's effective response
// source, applies the reverse transform where configured, and aggregates
// raw and subscale totals. Free-text answers never contribute to the
// numeric score and count toward completion only when the item is flagged
// required.
func Score(responses []ItemResponse, scale *catalog.ValidatedScale, opts Options) (*Result, error) {
	res := &Result{
		ScaleID:      scale.ID,
		ScaleVersion: scale.Version,
		ScoreMin:     scale.ScoreMin,
		ScoreMax:     scale.ScoreMax,
		TotalItems:   scale.ScorableItemCount(),
	}

	answered := make(map[int]bool, len(responses))
	subTotals := make(map[string]int)

	for _, resp := range responses {
		item, ok := scale.Item(resp.Item)
		if !ok {
			return nil, validationErrorf("unknown item number %d", resp.Item)
		}
		if answered[resp.Item] {
			return nil, validationErrorf("duplicate response for item %d", resp.Item)
		}

		if item.Type == catalog.QuestionFreeText {
			if resp.Text == "" {
				continue
			}
			answered[resp.Item] = true
			if item.Required {
				res.AnsweredItems++
			}
			continue
		}

		score, err := itemScore(scale, item, resp)
		if err != nil {
			return nil, err
		}
		answered[resp.Item] = true
		res.AnsweredItems++
		res.RawScore += score
		if item.SubscaleCode != "" {
			subTotals[item.SubscaleCode] += score
		}
	}

	for i := range scale.Items {
		item := &scale.Items[i]
		if item.Required && !answered[item.Number] {
			res.MissingItems = append(res.MissingItems, item.Number)
		}
	}

	for _, sub := range scale.Subscales {
		total, ok := subTotals[sub.Code]
		if !ok {
			continue
		}
		res.Subscales = append(res.Subscales, SubscaleScore{
			Code:     sub.Code,
			Name:     sub.Name,
			Score:    total,
			ScoreMin: sub.ScoreMin,
			ScoreMax: sub.ScoreMax,
		})
	}

	if res.TotalItems > 0 {
		res.Completion = float64(res.AnsweredItems) / float64(res.TotalItems) * 100
	}

	if res.Completion >= opts.threshold() {
		rule, err := scale.Interpret(res.RawScore)
		if err != nil {
			// Unreachable for a validated scale; surfacing it means the
			// catalog let a non-partitioning range set through.
			return nil, err
		}
		res.Interpretation = rule
	}

	return res, nil
}

// itemScore resolves one response to its numeric contribution. Multi-value
// answers (checklist, ranking) sum the scores of every selected option;
// the reverse transform applies per resolved option score.
func itemScore(scale *catalog.ValidatedScale, item *catalog.ScaleItem, resp ItemResponse) (int, error) {
	values := resp.Values
	if len(values) == 0 {
		if resp.Value == "" {
			return 0, validationErrorf("item %d: empty response value", item.Number)
		}
		values = []string{resp.Value}
	}

	min, max, ok := scale.SourceBounds(item.Number)
	if !ok {
		return 0, validationErrorf("item %d does not accept scored responses", item.Number)
	}

	total := 0
	for _, v := range values {
		raw, ok := scale.OptionScore(item.Number, v)
		if !ok {
			return 0, validationErrorf("item %d: unknown option value %q", item.Number, v)
		}
		if item.Reverse {
			raw = (max + min) - raw
		}
		total += raw
	}
	return total, nil
}
