package nlp

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/devdenneg/chupik/internal/chupik/knowledge"
	"github.com/devdenneg/chupik/internal/chupik/mood"
)

// Confidence levels the classifier assigns.
const (
	ConfidenceCertain       = 1.0
	ConfidenceIntent        = 0.95
	ConfidenceNameAck       = 0.95
	ConfidenceEntityAck     = 0.9
	ConfidenceShortEmotion  = 0.85
	ConfidenceUnnamedSelf   = 0.8
	ConfidenceRecall        = 0.7
	ConfidenceLongEmotion   = 0.4
	shortEmotionMaxWords    = 4
	defaultGreetingCooldown = 30 * time.Minute
)

// Kind tells which classification stage produced a Result.
type Kind string

const (
	KindNone       Kind = ""
	KindSentiment  Kind = "sentiment"
	KindArithmetic Kind = "arithmetic"
	KindIntent     Kind = "intent"
	KindSuppressed Kind = "suppressed"
	KindEntity     Kind = "entity"
	KindRecall     Kind = "recall"
	KindSelfQuery  Kind = "self_query"
)

// Input is one message to classify.
type Input struct {
	ConversationID string
	SenderID       string
	SenderName     string
	Text           string
	At             time.Time
}

// Result is the classifier's answer. An empty Text with zero Confidence
// means nothing matched. Sentiment is reported whichever stage answered.
type Result struct {
	Text       string
	Confidence float64
	Kind       Kind
	Intent     Intent
	Sentiment  mood.Sentiment
	Entities   map[knowledge.Field]string
}

// Knowledge is the part of the knowledge store the classifier reads and
// writes.
type Knowledge interface {
	FactsExcluding(contributorID string) []knowledge.Fact
	Profile(userID string) (knowledge.Profile, bool)
	SetProfileField(ctx context.Context, userID string, f knowledge.Field, value, username string, now time.Time) error
}

// Config tunes the Classifier.
type Config struct {
	// GreetingCooldown suppresses a repeated greeting from the same identity.
	// Default: 30 minutes.
	GreetingCooldown time.Duration
	// CandidateThreshold is the minimum similarity for a fact to be ranked.
	// Default: 0.2.
	CandidateThreshold float64
	// RecallThreshold is the similarity the best fact must exceed to be
	// quoted. Default: 0.45.
	RecallThreshold float64
	// RecallCandidates caps the ranked list. Default: 5.
	RecallCandidates int
	// QuoteRunes is how much of a recalled fact is quoted. Default: 100.
	QuoteRunes int
	// Templates default to DefaultTemplates.
	Templates *Templates
	// Rand defaults to GlobalRand.
	Rand Rand
}

// Classifier answers messages locally when it can. It is safe for
// concurrent use.
type Classifier struct {
	cfg       Config
	templates Templates
	knowledge Knowledge
	greeted   *cache.Cache
}

// NewClassifier builds a Classifier over kb.
func NewClassifier(cfg Config, kb Knowledge) *Classifier {
	if cfg.GreetingCooldown <= 0 {
		cfg.GreetingCooldown = defaultGreetingCooldown
	}
	if cfg.CandidateThreshold <= 0 {
		cfg.CandidateThreshold = 0.2
	}
	if cfg.RecallThreshold <= 0 {
		cfg.RecallThreshold = 0.45
	}
	if cfg.RecallCandidates <= 0 {
		cfg.RecallCandidates = 5
	}
	if cfg.QuoteRunes <= 0 {
		cfg.QuoteRunes = 100
	}
	if cfg.Rand == nil {
		cfg.Rand = GlobalRand
	}
	tmpl := DefaultTemplates()
	if cfg.Templates != nil {
		tmpl = tmpl.Merge(*cfg.Templates)
	}
	return &Classifier{
		cfg:       cfg,
		templates: tmpl,
		knowledge: kb,
		// Entries only need to outlive the cooldown; comparisons use the
		// message time, the TTL just bounds memory.
		greeted: cache.New(2*cfg.GreetingCooldown, cfg.GreetingCooldown),
	}
}

// Templates returns the effective reply templates.
func (c *Classifier) Templates() Templates {
	return c.templates
}

// Classify runs the stages in priority order and returns the first confident
// answer: sentiment, arithmetic, intent, self-declaration, recall of a similar
// fact, then questions about the sender's own profile. A long emotional
// message does not stop the pipeline; its sentiment reply is only used when
// no later stage answers.
func (c *Classifier) Classify(ctx context.Context, in Input) Result {
	profile, hasProfile := c.knowledge.Profile(in.SenderID)
	name := profile.Name
	if name == "" {
		name = "friend"
	}

	sentiment := DetectSentiment(in.Text)
	var emotional *Result
	if r, ok := c.emotion(in.Text, name, sentiment); ok {
		if r.Confidence == ConfidenceShortEmotion {
			return r
		}
		emotional = &r
	}

	if answer, ok := SolveArithmetic(in.Text); ok {
		return Result{Text: answer, Confidence: ConfidenceCertain, Kind: KindArithmetic, Sentiment: sentiment}
	}

	if intent := DetectIntent(in.Text); intent != IntentNone {
		if intent == IntentGreeting && c.greetedRecently(in.SenderID, in.At) {
			return Result{Kind: KindSuppressed, Intent: intent, Sentiment: sentiment}
		}
		if opts := c.templates.Intents[intent]; len(opts) > 0 {
			if intent == IntentGreeting {
				c.greeted.SetDefault(in.SenderID, in.At)
			}
			return Result{
				Text:       Fill(pick(c.cfg.Rand, opts), name, "", "", ""),
				Confidence: ConfidenceIntent,
				Kind:       KindIntent,
				Intent:     intent,
				Sentiment:  sentiment,
			}
		}
	}

	if ents := ExtractEntities(in.Text); len(ents) > 0 {
		if r, ok := c.learnEntities(ctx, in, ents, profile.Name, name); ok {
			r.Sentiment = sentiment
			return r
		}
	}

	if r, ok := c.recall(in, profile.Name); ok {
		r.Sentiment = sentiment
		return r
	}

	if hasProfile {
		if r, ok := selfQuery(in.Text, profile); ok {
			r.Sentiment = sentiment
			return r
		}
	}

	if emotional != nil {
		return *emotional
	}
	return Result{Sentiment: sentiment}
}

// Emotion returns the sentiment stage of Classify on its own. It touches no
// cooldowns and learns nothing, so it is safe for text that skips Classify.
func (c *Classifier) Emotion(in Input) (Result, bool) {
	profile, _ := c.knowledge.Profile(in.SenderID)
	name := profile.Name
	if name == "" {
		name = "friend"
	}
	return c.emotion(in.Text, name, DetectSentiment(in.Text))
}

func (c *Classifier) emotion(text, name string, sentiment mood.Sentiment) (Result, bool) {
	if sentiment == mood.SentimentNone {
		return Result{}, false
	}
	opts := c.templates.Sentiment[sentiment]
	if len(opts) == 0 {
		return Result{}, false
	}
	conf := ConfidenceLongEmotion
	if len(strings.Fields(text)) < shortEmotionMaxWords {
		conf = ConfidenceShortEmotion
	}
	return Result{
		Text:       Fill(pick(c.cfg.Rand, opts), name, "", "", ""),
		Confidence: conf,
		Kind:       KindSentiment,
		Sentiment:  sentiment,
	}, true
}

func (c *Classifier) greetedRecently(senderID string, now time.Time) bool {
	v, ok := c.greeted.Get(senderID)
	if !ok {
		return false
	}
	last, ok := v.(time.Time)
	return ok && now.Sub(last) < c.cfg.GreetingCooldown
}

// entityAckOrder decides which acknowledgement wins when several attributes
// were declared at once.
var entityAckOrder = []knowledge.Field{knowledge.FieldAge, knowledge.FieldCity, knowledge.FieldLikes, knowledge.FieldWork}

func (c *Classifier) learnEntities(ctx context.Context, in Input, ents map[knowledge.Field]string, knownName, addressee string) (Result, bool) {
	username := in.SenderName
	if username == "" {
		username = "User_" + in.SenderID
	}

	if declared, ok := ents[knowledge.FieldName]; ok && !strings.EqualFold(declared, knownName) {
		c.saveField(ctx, in, knowledge.FieldName, declared, username)
		return Result{
			Text:       Fill(pick(c.cfg.Rand, c.templates.Entities[knowledge.FieldName]), addressee, "", "", declared),
			Confidence: ConfidenceNameAck,
			Kind:       KindEntity,
			Entities:   ents,
		}, true
	}

	for _, f := range entityAckOrder {
		if v, ok := ents[f]; ok {
			c.saveField(ctx, in, f, v, username)
		}
	}
	for _, f := range entityAckOrder {
		v, ok := ents[f]
		if !ok || len(c.templates.Entities[f]) == 0 {
			continue
		}
		return Result{
			Text:       Fill(pick(c.cfg.Rand, c.templates.Entities[f]), addressee, "", "", v),
			Confidence: ConfidenceEntityAck,
			Kind:       KindEntity,
			Entities:   ents,
		}, true
	}
	return Result{}, false
}

func (c *Classifier) saveField(ctx context.Context, in Input, f knowledge.Field, value, username string) {
	if err := c.knowledge.SetProfileField(ctx, in.SenderID, f, value, username, in.At); err != nil {
		slog.Warn("nlp: failed to store profile field", "sender", in.SenderID, "field", f, "err", err)
	}
}

// Match is a fact ranked by similarity to a query.
type Match struct {
	Fact  knowledge.Fact
	Score float64
}

// RankFacts scores facts against query and returns those above threshold,
// best first, at most limit of them.
func RankFacts(query string, facts []knowledge.Fact, threshold float64, limit int) []Match {
	var out []Match
	for _, f := range facts {
		if s := Similarity(query, f.Text); s > threshold {
			out = append(out, Match{Fact: f, Score: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (c *Classifier) recall(in Input, knownName string) (Result, bool) {
	matches := RankFacts(in.Text, c.knowledge.FactsExcluding(in.SenderID), c.cfg.CandidateThreshold, c.cfg.RecallCandidates)
	if len(matches) == 0 || matches[0].Score <= c.cfg.RecallThreshold {
		return Result{}, false
	}
	best := matches[0].Fact
	who := best.ContributorName
	if who == "" {
		who = "Unknown"
	}
	addressee := knownName
	if addressee == "" {
		addressee = "Listen"
	}
	quote := []rune(best.Text)
	if len(quote) > c.cfg.QuoteRunes {
		quote = quote[:c.cfg.QuoteRunes]
	}
	return Result{
		Text:       Fill(pick(c.cfg.Rand, c.templates.Recall), addressee, who, string(quote), ""),
		Confidence: ConfidenceRecall,
		Kind:       KindRecall,
	}, true
}

var selfQueries = []struct {
	field   knowledge.Field
	phrases []string
	answer  string
}{
	{knowledge.FieldName, []string{"who am i", "whats my name", "what is my name"}, "You're {value}! I never forget my people 😉"},
	{knowledge.FieldCity, []string{"where am i from", "where do i live"}, "You're from {value}! I remember everything 🏙"},
	{knowledge.FieldAge, []string{"how old am i"}, "You're {value}, if memory serves 😉"},
	{knowledge.FieldWork, []string{"where do i work", "what do i do for a living", "whats my job", "what is my job"}, "Last I heard: {value} 💼"},
	{knowledge.FieldLikes, []string{"what do i like"}, "You like {value}! 😋"},
}

// UnnamedSelfReply answers "who am I" when the profile has no name.
const UnnamedSelfReply = "We've met, but I didn't catch your name. Remind me?"

func selfQuery(text string, p knowledge.Profile) (Result, bool) {
	c := strings.Join(strings.Fields(clean(text)), " ")
	for _, q := range selfQueries {
		if !containsAnyPhrase(c, q.phrases) {
			continue
		}
		if v := p.Get(q.field); v != "" {
			return Result{Text: Fill(q.answer, "", "", "", v), Confidence: ConfidenceCertain, Kind: KindSelfQuery}, true
		}
		if q.field == knowledge.FieldName {
			return Result{Text: UnnamedSelfReply, Confidence: ConfidenceUnnamedSelf, Kind: KindSelfQuery}, true
		}
	}
	return Result{}, false
}
