package nlp

import "strings"

// Intent is a conversational intent the classifier can answer locally.
type Intent string

const (
	IntentNone         Intent = ""
	IntentGreeting     Intent = "greeting"
	IntentFarewell     Intent = "farewell"
	IntentGratitude    Intent = "gratitude"
	IntentHowAreYou    Intent = "how_are_you"
	IntentCreator      Intent = "creator"
	IntentCapabilities Intent = "capabilities"
	IntentJoke         Intent = "joke"
	IntentBoredom      Intent = "boredom"
	IntentBotIdentity  Intent = "bot_identity"
)

var (
	greetingWords  = map[string]bool{"hi": true, "hello": true, "hey": true, "hiya": true, "howdy": true, "greetings": true, "yo": true, "sup": true, "heya": true}
	farewellWords  = []string{"bye", "goodbye", "cya", "goodnight", "farewell", "see you later", "good night"}
	gratitudeWords = []string{"thanks", "thank you", "thx", "ty", "cheers", "appreciate it", "much appreciated"}

	howAreYouPhrases    = []string{"how are you", "how are things", "hows it going", "how is it going", "how you doing", "how are you doing", "whats up"}
	creatorPhrases      = []string{"who made you", "who created you", "who built you", "who wrote you", "who is your creator", "whos your creator", "who is your author"}
	capabilityPhrases   = []string{"what can you do", "what are you capable of", "your features", "what do you do", "what are your skills"}
	jokeWords           = []string{"joke", "jokes", "pun", "make me laugh", "something funny"}
	boredomPhrases      = []string{"bored", "im bored", "so boring", "boring", "nothing to do"}
	botIdentityPhrases  = []string{"who are you", "what are you", "whats your name", "what is your name", "your name"}
	selfIdentityPhrases = []string{"who am i"}
)

// DetectIntent matches text against the intent catalog. Only whole words and
// whole phrases count, so "hi" inside "this" never reads as a greeting.
func DetectIntent(text string) Intent {
	c := strings.Join(strings.Fields(clean(text)), " ")
	if c == "" {
		return IntentNone
	}

	first, _, _ := strings.Cut(c, " ")
	if greetingWords[first] {
		return IntentGreeting
	}

	switch {
	case containsAnyPhrase(c, farewellWords):
		return IntentFarewell
	case containsAnyPhrase(c, gratitudeWords):
		return IntentGratitude
	case containsAnyPhrase(c, howAreYouPhrases):
		return IntentHowAreYou
	case containsAnyPhrase(c, creatorPhrases):
		return IntentCreator
	case containsAnyPhrase(c, capabilityPhrases):
		return IntentCapabilities
	case containsAnyPhrase(c, jokeWords):
		return IntentJoke
	case containsAnyPhrase(c, boredomPhrases):
		return IntentBoredom
	case containsAnyPhrase(c, botIdentityPhrases) && !containsAnyPhrase(c, selfIdentityPhrases):
		return IntentBotIdentity
	}
	return IntentNone
}
