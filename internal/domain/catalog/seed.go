package catalog

// Built-in instrument definitions used by the sandbox environment and by
// tests. Production deployments publish their own definitions through the
// admin API; these cover the three response-source shapes the engine has to
// handle (scale-global options, shared response groups, item-specific
// overrides).

// SeedDefinitions returns the built-in definitions in publish order.
func SeedDefinitions() []Definition {
	return []Definition{seedPHQ9(), seedSTAI(), seedBDI()}
}

// seedPHQ9: nine likert items scored 0-3 over scale-global options.
func seedPHQ9() Definition {
	items := make([]ScaleItem, 0, 9)
	texts := []string{
		"Little interest or pleasure in doing things",
		"Feeling down, depressed, or hopeless",
		"Trouble falling or staying asleep, or sleeping too much",
		"Feeling tired or having little energy",
		"Poor appetite or overeating",
		"Feeling bad about yourself",
		"Trouble concentrating on things",
		"Moving or speaking slowly, or being fidgety or restless",
		"Thoughts that you would be better off dead",
	}
	for i, text := range texts {
		items = append(items, ScaleItem{
			Number: i + 1, Text: text, Type: QuestionLikert, Required: true,
		})
	}
	return Definition{
		ID:           "phq9",
		Version:      1,
		Name:         "Patient Health Questionnaire-9",
		Abbreviation: "PHQ-9",
		Mode:         ModeSelf,
		TotalItems:   9,
		ScoreMin:     0,
		ScoreMax:     27,
		GlobalOptions: []ResponseOption{
			{Value: "0", Score: 0, Label: "Not at all", Order: 1},
			{Value: "1", Score: 1, Label: "Several days", Order: 2},
			{Value: "2", Score: 2, Label: "More than half the days", Order: 3},
			{Value: "3", Score: 3, Label: "Nearly every day", Order: 4},
		},
		Items: items,
		Interpretations: []InterpretationRule{
			{Min: 0, Max: 4, Severity: "minimal", Description: "Minimal depression"},
			{Min: 5, Max: 9, Severity: "mild", Description: "Mild depression"},
			{Min: 10, Max: 14, Severity: "moderate", Description: "Moderate depression"},
			{Min: 15, Max: 19, Severity: "moderately_severe", Description: "Moderately severe depression"},
			{Min: 20, Max: 27, Severity: "severe", Description: "Severe depression"},
		},
	}
}

// seedSTAI: state and trait halves share per-group response options and
// report as independent subscales. Abbreviated item set.
func seedSTAI() Definition {
	state := []ResponseOption{
		{Value: "1", Score: 1, Label: "Not at all", Order: 1},
		{Value: "2", Score: 2, Label: "Somewhat", Order: 2},
		{Value: "3", Score: 3, Label: "Moderately so", Order: 3},
		{Value: "4", Score: 4, Label: "Very much so", Order: 4},
	}
	trait := []ResponseOption{
		{Value: "1", Score: 1, Label: "Almost never", Order: 1},
		{Value: "2", Score: 2, Label: "Sometimes", Order: 2},
		{Value: "3", Score: 3, Label: "Often", Order: 3},
		{Value: "4", Score: 4, Label: "Almost always", Order: 4},
	}
	return Definition{
		ID:           "stai",
		Version:      1,
		Name:         "State-Trait Anxiety Inventory (short form)",
		Abbreviation: "STAI",
		Mode:         ModeFlexible,
		TotalItems:   6,
		ScoreMin:     6,
		ScoreMax:     24,
		ResponseGroups: map[string][]ResponseOption{
			"estado": state,
			"rasgo":  trait,
		},
		Subscales: []Subscale{
			{Code: "estado", Name: "State anxiety", ScoreMin: 3, ScoreMax: 12},
			{Code: "rasgo", Name: "Trait anxiety", ScoreMin: 3, ScoreMax: 12},
		},
		Items: []ScaleItem{
			{Number: 1, Text: "I feel calm", Type: QuestionLikert, ResponseGroup: "estado", SubscaleCode: "estado", Reverse: true, Required: true},
			{Number: 2, Text: "I feel tense", Type: QuestionLikert, ResponseGroup: "estado", SubscaleCode: "estado", Required: true},
			{Number: 3, Text: "I am worried", Type: QuestionLikert, ResponseGroup: "estado", SubscaleCode: "estado", Required: true},
			{Number: 4, Text: "I feel rested", Type: QuestionFrequency, ResponseGroup: "rasgo", SubscaleCode: "rasgo", Reverse: true, Required: true},
			{Number: 5, Text: "I feel nervous and restless", Type: QuestionFrequency, ResponseGroup: "rasgo", SubscaleCode: "rasgo", Required: true},
			{Number: 6, Text: "I worry too much over things that do not matter", Type: QuestionFrequency, ResponseGroup: "rasgo", SubscaleCode: "rasgo", Required: true},
		},
		Interpretations: []InterpretationRule{
			{Min: 6, Max: 11, Severity: "low", Description: "Low anxiety"},
			{Min: 12, Max: 17, Severity: "moderate", Description: "Moderate anxiety"},
			{Min: 18, Max: 24, Severity: "high", Description: "High anxiety"},
		},
	}
}

// seedBDI: every item carries fully independent option wording, abbreviated
// to three items.
func seedBDI() Definition {
	return Definition{
		ID:           "bdi21",
		Version:      1,
		Name:         "Beck Depression Inventory (abbreviated)",
		Abbreviation: "BDI",
		Mode:         ModeSelf,
		TotalItems:   3,
		ScoreMin:     0,
		ScoreMax:     6,
		Items: []ScaleItem{
			{Number: 1, Text: "Sadness", Type: QuestionMultipleChoice, Required: true, Options: []ResponseOption{
				{Value: "a", Score: 0, Label: "I do not feel sad", Order: 1},
				{Value: "b", Score: 1, Label: "I feel sad", Order: 2},
				{Value: "c", Score: 2, Label: "I am sad all the time", Order: 3},
				{Value: "d", Score: 3, Label: "I am so sad I can't stand it", Order: 4},
			}},
			{Number: 2, Text: "Pessimism", Type: QuestionMultipleChoice, Required: true, Options: []ResponseOption{
				{Value: "a", Score: 0, Label: "I am not discouraged about the future", Order: 1},
				{Value: "b", Score: 1, Label: "I feel discouraged about the future", Order: 2},
				{Value: "c", Score: 2, Label: "I feel I have nothing to look forward to", Order: 3},
				{Value: "d", Score: 3, Label: "I feel the future is hopeless", Order: 4},
			}},
			{Number: 3, Text: "Additional remarks", Type: QuestionFreeText},
		},
		Interpretations: []InterpretationRule{
			{Min: 0, Max: 2, Severity: "minimal"},
			{Min: 3, Max: 4, Severity: "mild"},
			{Min: 5, Max: 6, Severity: "moderate"},
		},
	}
}
