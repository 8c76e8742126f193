package nlp

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/devdenneg/chupik/internal/chupik/memory"
	"github.com/devdenneg/chupik/internal/chupik/mood"
)

// Rand is the random source used for template choice. *rand.Rand satisfies
// it; GlobalRand is safe for concurrent use.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

type globalRand struct{}

func (globalRand) IntN(n int) int   { return rand.IntN(n) }
func (globalRand) Float64() float64 { return rand.Float64() }

// GlobalRand draws from the math/rand/v2 top-level source.
var GlobalRand Rand = globalRand{}

// ProactiveHook composes an unprompted remark from the recent history. The
// main topic is the most frequent non-stop-word token of the user messages.
// It returns "" when the history has no user messages or no usable tokens.
func ProactiveHook(history []memory.Message, rnd Rand) string {
	var users []string
	seenUser := make(map[string]bool)
	var texts []string
	for _, m := range history {
		if m.Role != memory.RoleUser {
			continue
		}
		texts = append(texts, m.Content)
		if m.Sender != "" && !seenUser[m.Sender] {
			seenUser[m.Sender] = true
			users = append(users, m.Sender)
		}
	}
	if len(texts) == 0 {
		return ""
	}

	topic := mainTopic(texts)
	if topic == "" {
		return ""
	}
	target := "everyone"
	if len(users) > 0 {
		target = "@" + users[rnd.IntN(len(users))]
	}

	switch p := rnd.Float64(); {
	case p < 0.4:
		return pick(rnd, []string{
			fmt.Sprintf("So what do you all really think about %s? 😉", topic),
			fmt.Sprintf("%s, how do you feel about %s? Any thoughts?", target, topic),
			fmt.Sprintf("Honestly, is %s a big deal or overrated? What do you say?", topic),
			fmt.Sprintf("Curious about %s... does it actually affect your life? 🤔", topic),
		})
	case p < 0.6:
		return fmt.Sprintf("Hmm, %s... I remember someone here mentioning something like that. Coincidence? 😉", topic)
	case p < 0.8:
		return pick(rnd, []string{
			"Okay, that's settled. So, plans for the weekend? 🍻",
			"Alright, moving on. Any juicier news? 🔥",
			"By the way, has anyone seen what's trending right now?",
			fmt.Sprintf("Sure, %s is great, but I've been thinking about something else...", topic),
		})
	default:
		return pick(rnd, shortComments(dominantSentiment(texts), topic, users))
	}
}

func mainTopic(texts []string) string {
	freq := make(map[string]int)
	for _, t := range Tokenize(strings.Join(texts, " ")) {
		if !stopWords[t] {
			freq[t]++
		}
	}
	if len(freq) == 0 {
		return ""
	}
	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})
	return words[0]
}

func dominantSentiment(texts []string) mood.Sentiment {
	counts := make(map[mood.Sentiment]int)
	for _, t := range texts {
		if s := DetectSentiment(t); s != mood.SentimentNone {
			counts[s]++
		}
	}
	best, bestN := mood.SentimentNone, 0
	for _, s := range []mood.Sentiment{mood.Joy, mood.Sadness, mood.Anger} {
		if counts[s] > bestN {
			best, bestN = s, counts[s]
		}
	}
	return best
}

func shortComments(s mood.Sentiment, topic string, users []string) []string {
	switch s {
	case mood.Joy:
		mentions := make([]string, 0, 3)
		for _, u := range users {
			if len(mentions) == 3 {
				break
			}
			mentions = append(mentions, "@"+u)
		}
		who := "you all"
		if len(mentions) > 0 {
			who = strings.Join(mentions, ", ")
		}
		return []string{fmt.Sprintf("Love the energy here! %s, you're on fire! 🔥", who), "Such good vibes in here! ✨"}
	case mood.Sadness:
		return []string{"Feels a bit gloomy... it's going to be okay, folks! 🫂", "Chin up, everyone! 😉"}
	case mood.Anger:
		return []string{"Whoa, it's heating up! Easy there, folks. 😤", "Let's keep it friendly, peace and love! ✌️"}
	}
	return []string{fmt.Sprintf("I see %s just won't let you go! 😎", topic), "Fun watching you all..."}
}

func pick(rnd Rand, options []string) string {
	return options[rnd.IntN(len(options))]
}
