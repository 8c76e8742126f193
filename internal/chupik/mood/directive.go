package mood

// Category is the discretised mood score.
type Category string

const (
	VeryPositive Category = "very positive"
	Positive     Category = "positive"
	Neutral      Category = "neutral"
	Negative     Category = "negative"
	VeryNegative Category = "very negative"
)

// EnergyLevel is the discretised energy.
type EnergyLevel string

const (
	EnergyLow    EnergyLevel = "low"
	EnergyMedium EnergyLevel = "medium"
	EnergyHigh   EnergyLevel = "high"
)

// CategoryOf maps a score to its category. Neutral is the closed range
// [-1, 1]; scores strictly between 1 and 2 fall through to negative.
func CategoryOf(score float64) Category {
	switch {
	case score >= 6:
		return VeryPositive
	case score >= 2:
		return Positive
	case score >= -1 && score <= 1:
		return Neutral
	case score >= -5:
		return Negative
	default:
		return VeryNegative
	}
}

// LevelOf maps an energy value to its level.
func LevelOf(energy float64) EnergyLevel {
	switch {
	case energy > 7:
		return EnergyHigh
	case energy > 3:
		return EnergyMedium
	default:
		return EnergyLow
	}
}

var categoryTone = map[Category]string{
	VeryPositive: "You are in a great mood: joke a lot, use plenty of emoji and be openly upbeat.",
	Positive:     "You are in a good mood: be friendlier than usual and sprinkle in an emoji or two.",
	Neutral:      "You are in your usual mood: friendly, relaxed, no extra emotion.",
	Negative:     "You feel a bit down: be more sympathetic, offer support, joke less.",
	VeryNegative: "You feel low: keep a calm, gentle tone and focus on understanding and support.",
}

var energyPace = map[EnergyLevel]string{
	EnergyHigh:   "Your energy is high: answer briskly and with enthusiasm.",
	EnergyMedium: "Your energy is normal.",
	EnergyLow:    "Your energy is low: keep answers short and unhurried.",
}

// Directive returns the generation tone instruction for a category and
// energy level. The text is a pure function of its arguments.
func Directive(c Category, l EnergyLevel) string {
	return "Current mood: " + string(c) + ". Energy: " + string(l) + ".\n" +
		categoryTone[c] + " " + energyPace[l]
}
