package nlp

import (
	"math"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/devdenneg/chupik/internal/chupik/knowledge"
	"github.com/devdenneg/chupik/internal/chupik/memory"
	"github.com/devdenneg/chupik/internal/chupik/mood"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("Hello, WORLD! I am an Über-fan of Go's pizza.")
	want := []string{"hello", "world", "über", "fan", "gos", "pizza"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "pizza with pineapple", "pizza with pineapple", 1},
		{"disjoint", "pizza pineapple", "weather forecast", 0},
		{"empty side", "ok", "pizza pineapple", 0},
		{"half overlap", "pizza pasta", "pizza salad", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Similarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Similarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSolveArithmetic(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		matched bool
	}{
		{"2 + 2", "= 4 ", true},
		{"what is 7 / 2?", "= 3.5 ", true},
		{"5 / 0", DivisionByZeroReply, true},
		{"6 x 7", "= 42 ", true},
		{"6×7", "= 42 ", true},
		{"9 ÷ 3", "= 3 ", true},
		{"10 - 15", "= -5 ", true},
		{"0.1 + 0.2", "= 0.3 ", true},
		{"no maths here", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := SolveArithmetic(tt.in)
			if ok != tt.matched {
				t.Fatalf("matched = %v, want %v", ok, tt.matched)
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("SolveArithmetic(%q) = %q, want it to contain %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDetectSentiment(t *testing.T) {
	tests := []struct {
		in   string
		want mood.Sentiment
	}{
		{"this is AWESOME", mood.Joy},
		{"I'm so unhappy today", mood.Sadness},
		{"feeling depressed", mood.Sadness},
		{"I hate mondays", mood.Anger},
		{"the meeting is at noon", mood.SentimentNone},
	}
	for _, tt := range tests {
		if got := DetectSentiment(tt.in); got != tt.want {
			t.Errorf("DetectSentiment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		in   string
		want Intent
	}{
		{"hi", IntentGreeting},
		{"Hello there!", IntentGreeting},
		{"this is not a greeting", IntentNone},
		{"ok bye", IntentFarewell},
		{"thank you so much", IntentGratitude},
		{"how are you?", IntentHowAreYou},
		{"who made you", IntentCreator},
		{"what can you do", IntentCapabilities},
		{"tell me a joke", IntentJoke},
		{"i'm bored", IntentBoredom},
		{"who are you", IntentBotIdentity},
		{"who are you to tell me who am I", IntentNone},
		{"", IntentNone},
	}
	for _, tt := range tests {
		if got := DetectIntent(tt.in); got != tt.want {
			t.Errorf("DetectIntent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractEntities(t *testing.T) {
	tests := []struct {
		in   string
		want map[knowledge.Field]string
	}{
		{"My name is Alice", map[knowledge.Field]string{knowledge.FieldName: "Alice"}},
		{"call me maybe", nil},
		{"call me Later", nil},
		{"my name is R2D2X9", nil},
		{"I am 25 years old", map[knowledge.Field]string{knowledge.FieldAge: "25"}},
		{"I live in New York and love it", map[knowledge.Field]string{knowledge.FieldCity: "New York"}},
		{"I work as a developer", map[knowledge.Field]string{knowledge.FieldWork: "developer"}},
		{"I love pizza, obviously", map[knowledge.Field]string{knowledge.FieldLikes: "pizza"}},
		{"Yesterday my name is Bob", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ExtractEntities(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractEntities = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestDetectPersonaChange(t *testing.T) {
	tests := []struct {
		in      string
		persona string
		reset   bool
	}{
		{"be a grumpy pirate", "a grumpy pirate", false},
		{"answer like Shakespeare", "shakespeare", false},
		{"now you are a cat", "a cat", false},
		{"be ok", "", false},
		{"go back to normal please", "", true},
		{"stop pretending", "", true},
		{"what's up", "", false},
	}
	for _, tt := range tests {
		persona, reset := DetectPersonaChange(tt.in)
		if persona != tt.persona || reset != tt.reset {
			t.Errorf("DetectPersonaChange(%q) = (%q, %v), want (%q, %v)", tt.in, persona, reset, tt.persona, tt.reset)
		}
	}
}

func TestDetectBehavioralInstruction(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Never use emoji!", "Never use emoji"},
		{"always answer in French", "always answer in French"},
		{"don't swear", ""},
		{"don't swear at people", "don't swear at people"},
		{"please remind me in 5 minutes to stretch", ""},
		{"I never said that", ""},
	}
	for _, tt := range tests {
		if got := DetectBehavioralInstruction(tt.in); got != tt.want {
			t.Errorf("DetectBehavioralInstruction(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectReminder(t *testing.T) {
	tests := []struct {
		in    string
		ok    bool
		delay time.Duration
		text  string
		unit  string
	}{
		{"remind me in 10 minutes to call mom", true, 10 * time.Minute, "call mom", "minutes"},
		{"Remind me in 1 hour about the oven!", true, time.Hour, "the oven", "hour"},
		{"remind me in 30 sec", true, 30 * time.Second, "", "seconds"},
		{"remind me in 0 minutes", false, 0, "", ""},
		{"remind me in 9999 hours", false, 0, "", ""},
		{"remind me later", false, 0, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := DetectReminder(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if got.Delay != tt.delay || got.Text != tt.text || got.Unit != tt.unit {
				t.Errorf("DetectReminder = %+v", got)
			}
		})
	}
}

func TestIsComplex(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"hi", false},
		{"one two three four five six seven eight nine ten eleven", true},
		{"explain recursion", true},
		{"why", true},
		{"whyyy", false},
		{"func() { }", true},
		{"what is 2 + 2", false},
	}
	for _, tt := range tests {
		if got := IsComplex(tt.in); got != tt.want {
			t.Errorf("IsComplex(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNeedsWebSearch(t *testing.T) {
	if !NeedsWebSearch("can you google it for me") {
		t.Error("expected web search request")
	}
	if NeedsWebSearch("googled nothing") {
		t.Error("unexpected web search match")
	}
}

func TestProactiveHook(t *testing.T) {
	if got := ProactiveHook(nil, GlobalRand); got != "" {
		t.Fatalf("empty history produced %q", got)
	}

	history := []memory.Message{
		{Role: memory.RoleUser, Sender: "alice", Content: "pizza tonight?"},
		{Role: memory.RoleUser, Sender: "bob", Content: "pizza again, really"},
		{Role: memory.RoleAgent, Sender: "chupik", Content: "burgers burgers burgers"},
	}
	rnd := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 50; i++ {
		if got := ProactiveHook(history, rnd); got == "" {
			t.Fatal("expected a hook")
		}
	}
	if topic := mainTopic([]string{"pizza tonight?", "pizza again, really"}); topic != "pizza" {
		t.Fatalf("mainTopic = %q", topic)
	}
}

func TestTemplatesMerge(t *testing.T) {
	overlay := Templates{
		Intents:  map[Intent][]string{IntentJoke: {"knock knock"}},
		Fallback: []string{"huh?"},
	}
	got := DefaultTemplates().Merge(overlay)
	if got.Intents[IntentJoke][0] != "knock knock" || got.Fallback[0] != "huh?" {
		t.Fatalf("overlay not applied: %+v", got)
	}
	if len(got.Intents[IntentGreeting]) == 0 || len(got.Recall) == 0 {
		t.Fatal("defaults lost")
	}
}
