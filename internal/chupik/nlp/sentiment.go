package nlp

import (
	"regexp"

	"github.com/devdenneg/chupik/internal/chupik/mood"
)

// sentimentFamilies are checked in order; the first matching family wins.
// Patterns anchor on a word start only, so stems like "depress" also match
// "depressed".
var sentimentFamilies = []struct {
	sentiment mood.Sentiment
	re        *regexp.Regexp
}{
	{mood.Joy, regexp.MustCompile(`\b(?:awesome|great|cool|happy|glad|yay|amazing|fantastic|excellent|hooray|woohoo|nailed it|love it|success|finally worked)`)},
	{mood.Sadness, regexp.MustCompile(`\b(?:sad|unhappy|depress|miserable|upset|unfortunately|crying|lonely|heartbroken|gloomy|awful day|feel bad)`)},
	{mood.Anger, regexp.MustCompile(`\b(?:angry|hate|furious|annoying|damn|wtf|pissed|rage|sucks|terrible|infuriat|fed up)`)},
}

// DetectSentiment returns the first sentiment family matching text, or
// mood.SentimentNone.
func DetectSentiment(text string) mood.Sentiment {
	l := lower(text)
	for _, f := range sentimentFamilies {
		if f.re.MatchString(l) {
			return f.sentiment
		}
	}
	return mood.SentimentNone
}
