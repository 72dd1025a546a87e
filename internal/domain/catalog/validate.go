package catalog

import (
	"errors"
	"fmt"
	"sort"
)

// ErrConfig marks a scale configuration defect detected at load time.
// A scale that fails validation never activates; this error is never
// produced at scoring time for a validated scale.
var ErrConfig = errors.New("scale configuration error")

func configErrorf(scaleID, format string, args ...interface{}) error {
	return fmt.Errorf("%w: scale %q: %s", ErrConfig, scaleID, fmt.Sprintf(format, args...))
}

// Load validates a raw definition and returns an immutable ValidatedScale.
// All structural invariants are enforced here, never at scoring time:
//   - item numbers are contiguous 1..N and N matches the declared total;
//   - every non-free-text item resolves a response source, with precedence
//     item-specific options > response group > scale-global options;
//   - referenced response groups and subscale codes exist;
//   - interpretation ranges partition [ScoreMin, ScoreMax] exactly.
func Load(def Definition) (*ValidatedScale, error) {
	if def.ID == "" {
		return nil, configErrorf("(unnamed)", "id is required")
	}
	if def.Version < 1 {
		return nil, configErrorf(def.ID, "version must be >= 1, got %d", def.Version)
	}
	if def.Name == "" {
		return nil, configErrorf(def.ID, "name is required")
	}
	if !validModes[def.Mode] {
		return nil, configErrorf(def.ID, "invalid administration mode %q", def.Mode)
	}
	if def.ScoreMax < def.ScoreMin {
		return nil, configErrorf(def.ID, "score range [%d,%d] is inverted", def.ScoreMin, def.ScoreMax)
	}
	if len(def.Items) == 0 {
		return nil, configErrorf(def.ID, "scale has no items")
	}
	if def.TotalItems != 0 && def.TotalItems != len(def.Items) {
		return nil, configErrorf(def.ID, "declared %d items, found %d", def.TotalItems, len(def.Items))
	}

	vs := &ValidatedScale{
		Definition:      def,
		itemsByNumber:   make(map[int]*ScaleItem, len(def.Items)),
		sources:         make(map[int][]ResponseOption),
		optionScores:    make(map[int]map[string]int),
		subscalesByCode: make(map[string]*Subscale, len(def.Subscales)),
	}
	vs.TotalItems = len(def.Items)

	for i := range def.Subscales {
		sub := &vs.Subscales[i]
		if sub.Code == "" {
			return nil, configErrorf(def.ID, "subscale %d has empty code", i)
		}
		if sub.ScoreMax < sub.ScoreMin {
			return nil, configErrorf(def.ID, "subscale %q range [%d,%d] is inverted", sub.Code, sub.ScoreMin, sub.ScoreMax)
		}
		if _, dup := vs.subscalesByCode[sub.Code]; dup {
			return nil, configErrorf(def.ID, "duplicate subscale code %q", sub.Code)
		}
		vs.subscalesByCode[sub.Code] = sub
	}

	for i := range vs.Items {
		item := &vs.Items[i]
		if !validQuestionTypes[item.Type] {
			return nil, configErrorf(def.ID, "item %d: invalid question type %q", item.Number, item.Type)
		}
		if _, dup := vs.itemsByNumber[item.Number]; dup {
			return nil, configErrorf(def.ID, "duplicate item number %d", item.Number)
		}
		vs.itemsByNumber[item.Number] = item

		if item.SubscaleCode != "" {
			if _, ok := vs.subscalesByCode[item.SubscaleCode]; !ok {
				return nil, configErrorf(def.ID, "item %d references unknown subscale %q", item.Number, item.SubscaleCode)
			}
		}

		source, err := resolveSource(def, item)
		if err != nil {
			return nil, err
		}
		if source != nil {
			vs.sources[item.Number] = source
			scores := make(map[string]int, len(source))
			for _, opt := range source {
				if opt.Value == "" {
					return nil, configErrorf(def.ID, "item %d: response option with empty value", item.Number)
				}
				if _, dup := scores[opt.Value]; dup {
					return nil, configErrorf(def.ID, "item %d: duplicate option value %q", item.Number, opt.Value)
				}
				scores[opt.Value] = opt.Score
			}
			vs.optionScores[item.Number] = scores
		}
	}

	// Item numbers must be contiguous 1..N.
	for n := 1; n <= len(vs.Items); n++ {
		if _, ok := vs.itemsByNumber[n]; !ok {
			return nil, configErrorf(def.ID, "item numbers not contiguous: missing item %d", n)
		}
	}

	if err := validatePartition(def); err != nil {
		return nil, err
	}

	return vs, nil
}

// resolveSource picks the item's effective response source. Item-specific
// options take precedence over the response group, which takes precedence
// over scale-global options. Free-text items carry no source; every other
// item must resolve one.
func resolveSource(def Definition, item *ScaleItem) ([]ResponseOption, error) {
	if item.ResponseGroup != "" {
		if _, ok := def.ResponseGroups[item.ResponseGroup]; !ok {
			return nil, configErrorf(def.ID, "item %d references unknown response group %q", item.Number, item.ResponseGroup)
		}
	}
	if len(item.Options) > 0 {
		return item.Options, nil
	}
	if item.ResponseGroup != "" {
		group := def.ResponseGroups[item.ResponseGroup]
		if len(group) == 0 {
			return nil, configErrorf(def.ID, "response group %q is empty", item.ResponseGroup)
		}
		return group, nil
	}
	if len(def.GlobalOptions) > 0 {
		return def.GlobalOptions, nil
	}
	if item.Type == QuestionFreeText {
		return nil, nil
	}
	return nil, configErrorf(def.ID, "item %d has no resolvable response source", item.Number)
}

// validatePartition checks that the interpretation ranges cover
// [ScoreMin, ScoreMax] with no gaps and no overlaps, on integer scores.
func validatePartition(def Definition) error {
	if len(def.Interpretations) == 0 {
		return configErrorf(def.ID, "no interpretation ranges defined")
	}

	rules := make([]InterpretationRule, len(def.Interpretations))
	copy(rules, def.Interpretations)
	sort.Slice(rules, func(i, j int) bool { return rules[i].Min < rules[j].Min })

	for _, r := range rules {
		if r.Max < r.Min {
			return configErrorf(def.ID, "interpretation range [%d,%d] (%s) is inverted", r.Min, r.Max, r.Severity)
		}
		if r.Severity == "" {
			return configErrorf(def.ID, "interpretation range [%d,%d] has no severity label", r.Min, r.Max)
		}
	}

	if rules[0].Min != def.ScoreMin {
		return configErrorf(def.ID, "interpretation ranges start at %d, scale minimum is %d", rules[0].Min, def.ScoreMin)
	}
	for i := 1; i < len(rules); i++ {
		prev, cur := rules[i-1], rules[i]
		switch {
		case cur.Min <= prev.Max:
			return configErrorf(def.ID, "interpretation ranges [%d,%d] and [%d,%d] overlap", prev.Min, prev.Max, cur.Min, cur.Max)
		case cur.Min != prev.Max+1:
			return configErrorf(def.ID, "gap between interpretation ranges [%d,%d] and [%d,%d]", prev.Min, prev.Max, cur.Min, cur.Max)
		}
	}
	if last := rules[len(rules)-1]; last.Max != def.ScoreMax {
		return configErrorf(def.ID, "interpretation ranges end at %d, scale maximum is %d", last.Max, def.ScoreMax)
	}
	return nil
}
