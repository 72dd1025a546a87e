// Package catalog holds immutable, validated definitions of standardized
// psychometric instruments: items, response options, subscales and
// interpretation ranges. Definitions are validated once at load time;
// anything the scoring engine consumes afterwards is guaranteed consistent.
package catalog

import (
	"encoding/json"
	"fmt"
	"time"
)

// QuestionType classifies how an item is presented and answered.
type QuestionType string

const (
	QuestionLikert               QuestionType = "likert"
	QuestionDichotomous          QuestionType = "dichotomous"
	QuestionVisualAnalog         QuestionType = "visual_analog"
	QuestionNumeric              QuestionType = "numeric"
	QuestionMultipleChoice       QuestionType = "multiple_choice"
	QuestionFreeText             QuestionType = "free_text"
	QuestionRanking              QuestionType = "ranking"
	QuestionSemanticDifferential QuestionType = "semantic_differential"
	QuestionChecklist            QuestionType = "checklist"
	QuestionFrequency            QuestionType = "frequency"
)

var validQuestionTypes = map[QuestionType]bool{
	QuestionLikert: true, QuestionDichotomous: true, QuestionVisualAnalog: true,
	QuestionNumeric: true, QuestionMultipleChoice: true, QuestionFreeText: true,
	QuestionRanking: true, QuestionSemanticDifferential: true,
	QuestionChecklist: true, QuestionFrequency: true,
}

// AdministrationMode says who fills the instrument in.
type AdministrationMode string

const (
	ModeSelf     AdministrationMode = "self"     // completed by the patient alone
	ModeHetero   AdministrationMode = "hetero"   // clinician interviews the patient
	ModeFlexible AdministrationMode = "flexible" // either
)

var validModes = map[AdministrationMode]bool{
	ModeSelf: true, ModeHetero: true, ModeFlexible: true,
}

// ResponseOption maps a symbolic answer value to a numeric score and a
// display label. Order is significant for rendering only, never for scoring.
type ResponseOption struct {
	Value string `json:"value"`
	Score int    `json:"score"`
	Label string `json:"label"`
	Order int    `json:"order,omitempty"`
}

// Subscale is a named grouping of items reported independently of the
// overall total.
type Subscale struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	ScoreMin int    `json:"score_min"`
	ScoreMax int    `json:"score_max"`
}

// InterpretationRule maps a closed score range [Min,Max] to a clinical
// severity label and guidance text. Ranges for a scale must partition the
// scale's full score range; this is enforced at load time.
type InterpretationRule struct {
	Min             int    `json:"min"`
	Max             int    `json:"max"`
	Severity        string `json:"severity"`
	Description     string `json:"description,omitempty"`
	Recommendations string `json:"recommendations,omitempty"`
}

// Contains reports whether score falls inside the rule's closed range.
func (r InterpretationRule) Contains(score int) bool {
	return score >= r.Min && score <= r.Max
}

// ScaleItem is a single question of an instrument. An item takes its
// response options from exactly one effective source: its own Options,
// its response group, or the scale-global options, in that order of
// precedence.
type ScaleItem struct {
	Number        int              `json:"number"`
	Text          string           `json:"text"`
	Type          QuestionType     `json:"type"`
	SubscaleCode  string           `json:"subscale_code,omitempty"`
	ResponseGroup string           `json:"response_group,omitempty"`
	Options       []ResponseOption `json:"options,omitempty"`
	Reverse       bool             `json:"reverse,omitempty"`
	Required      bool             `json:"required,omitempty"`
}

// Definition is the raw, unvalidated form of a scale as published by an
// administrator or loaded from a JSON file.
type Definition struct {
	ID              string                      `json:"id"`
	Version         int                         `json:"version"`
	Name            string                      `json:"name"`
	Abbreviation    string                      `json:"abbreviation"`
	Mode            AdministrationMode          `json:"mode"`
	TotalItems      int                         `json:"total_items"`
	ScoreMin        int                         `json:"score_min"`
	ScoreMax        int                         `json:"score_max"`
	ScoringMethod   string                      `json:"scoring_method,omitempty"`
	GlobalOptions   []ResponseOption            `json:"global_options,omitempty"`
	ResponseGroups  map[string][]ResponseOption `json:"response_groups,omitempty"`
	Subscales       []Subscale                  `json:"subscales,omitempty"`
	Items           []ScaleItem                 `json:"items"`
	Interpretations []InterpretationRule        `json:"interpretations"`
	PublishedAt     time.Time                   `json:"published_at,omitempty"`
}

// ParseDefinition decodes a JSON scale definition. It does not validate;
// callers pass the result through Load.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse scale definition: %w", err)
	}
	return def, nil
}

// ValidatedScale is a Definition that passed all load-time checks, with the
// effective response source resolved per item. It is immutable for the
// lifetime of the process.
type ValidatedScale struct {
	Definition

	itemsByNumber   map[int]*ScaleItem
	sources         map[int][]ResponseOption
	optionScores    map[int]map[string]int
	subscalesByCode map[string]*Subscale
}

// Item returns the item with the given number.
func (s *ValidatedScale) Item(number int) (*ScaleItem, bool) {
	it, ok := s.itemsByNumber[number]
	return it, ok
}

// Source returns the effective response options for the given item number.
// Free-text items have no source.
func (s *ValidatedScale) Source(number int) ([]ResponseOption, bool) {
	opts, ok := s.sources[number]
	return opts, ok
}

// OptionScore resolves a symbolic answer value to its configured numeric
// score through the item's effective source.
func (s *ValidatedScale) OptionScore(number int, value string) (int, bool) {
	scores, ok := s.optionScores[number]
	if !ok {
		return 0, false
	}
	score, ok := scores[value]
	return score, ok
}

// SourceBounds returns the minimum and maximum option score of the item's
// effective source. Used by the reverse-scoring transform.
func (s *ValidatedScale) SourceBounds(number int) (min, max int, ok bool) {
	opts, found := s.sources[number]
	if !found || len(opts) == 0 {
		return 0, 0, false
	}
	min, max = opts[0].Score, opts[0].Score
	for _, o := range opts[1:] {
		if o.Score < min {
			min = o.Score
		}
		if o.Score > max {
			max = o.Score
		}
	}
	return min, max, true
}

// SubscaleByCode returns the subscale declared under the given code.
func (s *ValidatedScale) SubscaleByCode(code string) (*Subscale, bool) {
	sub, ok := s.subscalesByCode[code]
	return sub, ok
}

// Interpret returns the single interpretation rule whose range contains the
// given raw total. Because ranges are validated to partition the score
// range, a miss for an in-range total is a configuration defect.
func (s *ValidatedScale) Interpret(total int) (*InterpretationRule, error) {
	for i := range s.Interpretations {
		if s.Interpretations[i].Contains(total) {
			return &s.Interpretations[i], nil
		}
	}
	return nil, configErrorf(s.ID, "no interpretation range contains total %d", total)
}

// Scorable reports whether the item can contribute to the numeric score:
// it has an effective source assigning numeric scores to discrete values.
// Free-text items are never scorable.
func (s *ValidatedScale) Scorable(item *ScaleItem) bool {
	if item.Type == QuestionFreeText {
		return false
	}
	opts, ok := s.sources[item.Number]
	return ok && len(opts) > 0
}

// ScorableItemCount returns the number of items that participate in
// completion math: every scorable item plus free-text items explicitly
// flagged required.
func (s *ValidatedScale) ScorableItemCount() int {
	n := 0
	for i := range s.Items {
		it := &s.Items[i]
		if s.Scorable(it) || (it.Type == QuestionFreeText && it.Required) {
			n++
		}
	}
	return n
}
