package nlp

import (
	"strings"

	"github.com/devdenneg/chupik/internal/chupik/knowledge"
	"github.com/devdenneg/chupik/internal/chupik/mood"
)

// Templates are the canned replies. Placeholders: {name} is the addressee,
// {user} the quoted contributor, {text} the quoted text and {value} an
// extracted attribute. Every list may be overridden from the YAML overlay.
type Templates struct {
	Sentiment map[mood.Sentiment][]string  `yaml:"sentiment"`
	Intents   map[Intent][]string          `yaml:"intents"`
	Entities  map[knowledge.Field][]string `yaml:"entities"`
	Recall    []string                     `yaml:"recall"`
	Fallback  []string                     `yaml:"fallback"`
}

// DefaultTemplates returns the built-in replies.
func DefaultTemplates() Templates {
	return Templates{
		Sentiment: map[mood.Sentiment][]string{
			mood.Joy: {
				"Yesss, {name}! Love that energy! 🔥",
				"That's awesome, {name}! 🎉",
				"Now we're talking, {name}! 😎",
			},
			mood.Sadness: {
				"Hey {name}, hang in there. I'm here 🫂",
				"Sorry to hear that, {name}. It'll get better 💙",
				"Sending you a virtual hug, {name} 🤗",
			},
			mood.Anger: {
				"Whoa, {name}, deep breaths! 😤",
				"I feel you, {name}. That's annoying for sure.",
				"Easy, {name}! Let's not break anything 😅",
			},
		},
		Intents: map[Intent][]string{
			IntentGreeting:     {"Hey {name}! 👋", "Yo {name}! What's up? 😎", "Hi there, {name}!"},
			IntentFarewell:     {"See you, {name}! 👋", "Bye {name}, don't be a stranger!"},
			IntentGratitude:    {"Anytime, {name}! 😉", "You got it, {name}!"},
			IntentHowAreYou:    {"All good, {name}! Just hanging out in the chat 😎", "Living my best bot life, {name}. You?"},
			IntentCreator:      {"I was built by a friendly dev who wanted a chat buddy 🛠"},
			IntentCapabilities: {"I chat, remember facts (/learn), set reminders, do quick math and keep the vibe going, {name} 😉"},
			IntentJoke:         {"Why do programmers prefer dark mode? Because light attracts bugs 🐛", "I told my computer I needed a break. It said: no problem, I'll go to sleep 😴"},
			IntentBoredom:      {"Bored, {name}? Ask me anything or tell me something I don't know 😉", "Let's fix that, {name}! Want a joke?"},
			IntentBotIdentity:  {"I'm Chupik, the resident chat bot 😎", "Chupik here, your friendly group-chat sidekick!"},
		},
		Entities: map[knowledge.Field][]string{
			knowledge.FieldName:  {"Nice to meet you, {value}! 👋 Got it!"},
			knowledge.FieldAge:   {"Wow, {value}! {name}, great age! 😊"},
			knowledge.FieldCity:  {"{value}? {name}, I hear it's lovely there! 🏙"},
			knowledge.FieldWork:  {"{value}? Respect, {name}! 💼"},
			knowledge.FieldLikes: {"Mmm, {value}... {name}, you have good taste! 😋"},
		},
		Recall: []string{
			`I remember @{user} saying: "{text}..."`,
			`Looks like @{user} already mentioned this: "{text}..."`,
			`{name}, here's what I have from @{user}: "{text}..."`,
			`Aha! I recall @{user}'s words: "{text}..." 🧐`,
		},
		Fallback: []string{
			"Not sure about that... try again? 🤔",
			"Hmm, {name}, my brain just lagged. Say that once more?",
			"I got nothing on that one, {name} 🤷",
		},
	}
}

// Merge returns t with every non-empty list in overlay replacing its
// counterpart.
func (t Templates) Merge(overlay Templates) Templates {
	out := Templates{
		Sentiment: make(map[mood.Sentiment][]string, len(t.Sentiment)),
		Intents:   make(map[Intent][]string, len(t.Intents)),
		Entities:  make(map[knowledge.Field][]string, len(t.Entities)),
		Recall:    t.Recall,
		Fallback:  t.Fallback,
	}
	for k, v := range t.Sentiment {
		out.Sentiment[k] = v
	}
	for k, v := range t.Intents {
		out.Intents[k] = v
	}
	for k, v := range t.Entities {
		out.Entities[k] = v
	}
	for k, v := range overlay.Sentiment {
		if len(v) > 0 {
			out.Sentiment[k] = v
		}
	}
	for k, v := range overlay.Intents {
		if len(v) > 0 {
			out.Intents[k] = v
		}
	}
	for k, v := range overlay.Entities {
		if len(v) > 0 {
			out.Entities[k] = v
		}
	}
	if len(overlay.Recall) > 0 {
		out.Recall = overlay.Recall
	}
	if len(overlay.Fallback) > 0 {
		out.Fallback = overlay.Fallback
	}
	return out
}

// Fill substitutes the placeholders in tmpl.
func Fill(tmpl, name, user, text, value string) string {
	return strings.NewReplacer("{name}", name, "{user}", user, "{text}", text, "{value}", value).Replace(tmpl)
}
