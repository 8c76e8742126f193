package nlp

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/devdenneg/chupik/internal/chupik/knowledge"
)

// selfDeclarationPrefixes open every message entity extraction looks at.
var selfDeclarationPrefixes = []string{
	"my name is", "call me", "i am", "i'm", "im", "i live in", "i work",
	"i love", "i like", "i adore", "my favorite", "my favourite", "my age is",
}

const valueRunes = `[\p{L}][\p{L}\p{N} '\-]*`

var entityPatterns = []struct {
	field    knowledge.Field
	patterns []*regexp.Regexp
}{
	{knowledge.FieldName, []*regexp.Regexp{
		regexp.MustCompile(`^(?i:my name is|call me)\s+([\p{L}\p{N}][\p{L}\p{N}'\-]*)`),
	}},
	{knowledge.FieldAge, []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(?:i am|i'm|im)\s+(\d{1,3})\s*(?:years?\s*old|yo)\b`),
		regexp.MustCompile(`(?i)^my age is\s+(\d{1,3})\b`),
	}},
	{knowledge.FieldCity, []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(?:i am from|i'm from|im from|i live in)\s+(` + valueRunes + `)`),
	}},
	{knowledge.FieldWork, []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(?:i work as(?: an?)?|i am an?|i'm an?|im an?)\s+(` + valueRunes + `)`),
		regexp.MustCompile(`(?i)^i work (?:at|for|in)\s+(` + valueRunes + `)`),
	}},
	{knowledge.FieldLikes, []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(?:i love|i like|i adore|my favou?rite(?: thing)? is)\s+(` + valueRunes + `)`),
	}},
}

// valueStops cut a captured value at the first connective.
var valueStops = []string{" and ", " but ", " because ", " so ", " since ", " which "}

// ExtractEntities returns the self-declared profile attributes in text.
// Nothing is extracted unless text opens with a self-referential phrase.
// Name candidates must start with an uppercase letter, be 2 to 30 runes
// long, hold at most two digits and not be a stop-word.
func ExtractEntities(text string) map[knowledge.Field]string {
	text = strings.TrimSpace(text)
	head := lower(text)
	opens := false
	for _, p := range selfDeclarationPrefixes {
		if strings.HasPrefix(head, p+" ") {
			opens = true
			break
		}
	}
	if !opens {
		return nil
	}

	var out map[knowledge.Field]string
	for _, ep := range entityPatterns {
		for _, re := range ep.patterns {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			value := trimValue(m[1])
			if ep.field == knowledge.FieldName && !plausibleName(value) {
				continue
			}
			if value == "" {
				continue
			}
			if out == nil {
				out = make(map[knowledge.Field]string)
			}
			out[ep.field] = value
			break
		}
	}
	return out
}

func trimValue(v string) string {
	for _, stop := range valueStops {
		if i := strings.Index(strings.ToLower(v), stop); i >= 0 {
			v = v[:i]
		}
	}
	v = strings.TrimSpace(v)
	if utf8.RuneCountInString(v) > 40 {
		v = strings.TrimSpace(string([]rune(v)[:40]))
	}
	return v
}

func plausibleName(name string) bool {
	n := utf8.RuneCountInString(name)
	if n < 2 || n > 30 || stopWords[lower(name)] {
		return false
	}
	first, _ := utf8.DecodeRuneInString(name)
	if !unicode.IsUpper(first) {
		return false
	}
	digits := 0
	for _, r := range name {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return digits <= 2
}
