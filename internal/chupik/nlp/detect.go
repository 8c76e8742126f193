package nlp

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	personaResetRes = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:go|get|switch|come) back to (?:normal|default|yourself|your usual self)\b`),
		regexp.MustCompile(`\bbe yourself(?: again)?\b`),
		regexp.MustCompile(`\bstop pretending\b`),
		regexp.MustCompile(`\breset (?:your )?persona\b`),
	}
	personaSwitchRes = []*regexp.Regexp{
		regexp.MustCompile(`^(?:from now on )?(?:be|become)\s+([\p{L}\s'\-]+)`),
		regexp.MustCompile(`^(?:answer|talk|speak|reply|respond) like\s+([\p{L}\s'\-]+)`),
		regexp.MustCompile(`^(?:from now on )?(?:now )?you are(?: now)?\s+([\p{L}\s'\-]+)`),
		regexp.MustCompile(`^(?:act like|pretend to be)\s+([\p{L}\s'\-]+)`),
	}
)

// DetectPersonaChange recognises requests to adopt or drop a custom persona.
// reset is true for "go back to normal" style requests; otherwise a non-empty
// persona is the requested description.
func DetectPersonaChange(text string) (persona string, reset bool) {
	l := strings.TrimSpace(lower(text))
	for _, re := range personaResetRes {
		if re.MatchString(l) {
			return "", true
		}
	}
	for _, re := range personaSwitchRes {
		m := re.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		desc := strings.TrimSpace(m[1])
		if utf8.RuneCountInString(desc) > 2 {
			return desc, false
		}
	}
	return "", false
}

var instructionPrefixes = []string{"don't", "dont", "do not", "never", "always", "stop", "please"}

// DetectBehavioralInstruction returns the rule text when text is a standing
// instruction such as "never use emoji" or "always answer in French".
// Reminder requests are not instructions.
func DetectBehavioralInstruction(text string) string {
	t := strings.TrimSpace(text)
	l := lower(t)
	if strings.Contains(l, "remind me") {
		return ""
	}
	for _, p := range instructionPrefixes {
		if !strings.HasPrefix(l, p+" ") {
			continue
		}
		rest := strings.Fields(l[len(p):])
		if len(rest) < 2 {
			return ""
		}
		return strings.TrimRight(t, ".!")
	}
	return ""
}

// ReminderRequest is a parsed "remind me in N units" request.
type ReminderRequest struct {
	Amount int
	Unit   string
	Delay  time.Duration
	// Text is what to remind about; it may be empty.
	Text string
}

// MaxReminderDelay bounds how far ahead a reminder may be scheduled.
const MaxReminderDelay = 7 * 24 * time.Hour

var reminderRe = regexp.MustCompile(`(?i)\bremind me\s+in\s+(\d+)\s*(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h)\b(?:\s*(?:to|about|that|of)\s+(.+))?`)

// DetectReminder parses a reminder request. Zero amounts and delays past
// MaxReminderDelay are rejected.
func DetectReminder(text string) (ReminderRequest, bool) {
	m := reminderRe.FindStringSubmatch(text)
	if m == nil {
		return ReminderRequest{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return ReminderRequest{}, false
	}

	var unit time.Duration
	var name string
	switch u := strings.ToLower(m[2]); {
	case strings.HasPrefix(u, "s"):
		unit, name = time.Second, "second"
	case strings.HasPrefix(u, "m"):
		unit, name = time.Minute, "minute"
	default:
		unit, name = time.Hour, "hour"
	}
	if time.Duration(n) > MaxReminderDelay/unit {
		return ReminderRequest{}, false
	}
	if n != 1 {
		name += "s"
	}
	return ReminderRequest{
		Amount: n,
		Unit:   name,
		Delay:  time.Duration(n) * unit,
		Text:   strings.TrimRight(strings.TrimSpace(m[3]), ".!?"),
	}, true
}

var complexMarkers = []string{
	"explain", "why", "how does", "how do", "compare", "difference between",
	"write", "code", "analyze", "analyse", "translate", "summarize",
	"summarise", "describe", "essay", "story", "poem", "recipe", "plan",
}

var codeFragments = []string{"{", "}", "def ", "class ", "import ", "=>", "```"}

// IsComplex reports whether text should go straight to the generation
// service: more than ten words, a complexity marker, or code.
func IsComplex(text string) bool {
	if len(strings.Fields(text)) > 10 {
		return true
	}
	if containsAnyPhrase(strings.Join(strings.Fields(clean(text)), " "), complexMarkers) {
		return true
	}
	for _, f := range codeFragments {
		if strings.Contains(text, f) {
			return true
		}
	}
	return false
}

var webSearchPhrases = []string{
	"google it", "google for", "search the web", "search online", "search the internet",
	"look it up", "look up online", "on the internet", "latest news", "news today",
	"exchange rate", "stock price",
}

// WebSearchReply answers requests NeedsWebSearch recognises.
const WebSearchReply = "😅 I'd love to help, but I can't browse the internet in real time. I only know what I've learned and what was said here. Try a search engine for fresh info! 🌐"

// NeedsWebSearch reports whether text asks for live web information.
func NeedsWebSearch(text string) bool {
	return containsAnyPhrase(strings.Join(strings.Fields(clean(text)), " "), webSearchPhrases)
}
