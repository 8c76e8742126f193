package knowledge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var t0 = time.Date(2026, 2, 24, 10, 0, 0, 0, time.UTC)

type countingSaver struct {
	names map[string]int
	last  map[string]any
}

func newCountingSaver() *countingSaver {
	return &countingSaver{names: make(map[string]int), last: make(map[string]any)}
}

func (c *countingSaver) Save(_ context.Context, name string, v any) error {
	c.names[name]++
	c.last[name] = v
	return nil
}

func TestAddFact_NormalisesKeyAndKeepsDuplicates(t *testing.T) {
	s := NewStore(Config{}, nil)
	ctx := context.Background()

	if _, err := s.AddFact(ctx, "  Creator ", "Denis", "@u1", "alice", t0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddFact(ctx, "creator", "Denis", "@u1", "alice", t0.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	got := s.FactsFor("CREATOR")
	if len(got) != 2 {
		t.Fatalf("FactsFor = %d facts, want 2 (duplicates kept)", len(got))
	}
	if got[0].Key != "creator" {
		t.Errorf("key = %q, want normalised", got[0].Key)
	}
}

func TestAddFact_RejectsEmpty(t *testing.T) {
	s := NewStore(Config{}, nil)
	if _, err := s.AddFact(context.Background(), " ", "x", "@u", "u", t0); !errors.Is(err, ErrEmptyFact) {
		t.Fatalf("err = %v, want ErrEmptyFact", err)
	}
}

func TestAddFact_EvictsGloballyOldest(t *testing.T) {
	s := NewStore(Config{MaxFacts: 10}, nil)
	ctx := context.Background()

	// Interleave keys so eviction has to cross key boundaries.
	for i := 0; i < 25; i++ {
		key := fmt.Sprintf("k%d", i%3)
		if _, err := s.AddFact(ctx, key, fmt.Sprintf("f%02d", i), "@u", "u", t0.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
		if n := s.TotalFacts(); n > 10 {
			t.Fatalf("after insert %d total = %d, exceeds cap", i, n)
		}
	}

	if n := s.TotalFacts(); n != 10 {
		t.Fatalf("total = %d, want 10", n)
	}
	kept := make(map[string]bool)
	for _, key := range []string{"k0", "k1", "k2"} {
		for _, f := range s.FactsFor(key) {
			kept[f.Text] = true
		}
	}
	for i := 0; i < 25; i++ {
		text := fmt.Sprintf("f%02d", i)
		if want := i >= 15; kept[text] != want {
			t.Errorf("fact %s kept=%v, want %v", text, kept[text], want)
		}
	}
}

func TestAddFact_EvictionCanEmptyAKey(t *testing.T) {
	s := NewStore(Config{MaxFacts: 2}, nil)
	ctx := context.Background()
	s.AddFact(ctx, "lonely", "only fact", "@u", "u", t0)
	s.AddFact(ctx, "busy", "a", "@u", "u", t0.Add(time.Minute))
	s.AddFact(ctx, "busy", "b", "@u", "u", t0.Add(2*time.Minute))

	if got := s.FactsFor("lonely"); len(got) != 0 {
		t.Fatalf("expected the oldest key to be evicted entirely, got %v", got)
	}
	if st := s.Stats(); st.TotalKeys != 1 {
		t.Fatalf("TotalKeys = %d, want 1", st.TotalKeys)
	}
}

func TestAddFact_SameTimestampEvictsByInsertionOrder(t *testing.T) {
	s := NewStore(Config{MaxFacts: 2}, nil)
	ctx := context.Background()
	s.AddFact(ctx, "a", "first", "@u", "u", t0)
	s.AddFact(ctx, "b", "second", "@u", "u", t0)
	s.AddFact(ctx, "c", "third", "@u", "u", t0)

	if len(s.FactsFor("a")) != 0 || len(s.FactsFor("b")) != 1 || len(s.FactsFor("c")) != 1 {
		t.Fatal("expected the first inserted fact to be evicted on a timestamp tie")
	}
}

func TestAddRawMessage(t *testing.T) {
	s := NewStore(Config{}, nil)
	ctx := context.Background()

	if !s.AddRawMessage(ctx, "The Quick brown fox jumps over the dog", "@u", "u", t0) {
		t.Fatal("expected message to be stored")
	}
	if got := s.FactsFor("the quick brown fox jumps"); len(got) != 1 {
		t.Fatalf("expected fact under the first five words, got %v", got)
	}
	if s.AddRawMessage(ctx, "too short", "@u", "u", t0) {
		t.Error("short messages should be skipped")
	}
	if s.AddRawMessage(ctx, "/learn a | b c", "@u", "u", t0) {
		t.Error("commands should be skipped")
	}
}

func TestDeleteFact(t *testing.T) {
	s := NewStore(Config{}, nil)
	ctx := context.Background()
	s.AddFact(ctx, "pizza", "alice likes it", "@alice", "alice", t0)
	s.AddFact(ctx, "pizza", "bob likes it", "@bob", "bob", t0.Add(time.Second))
	s.AddFact(ctx, "pizza", "alice loves it", "@alice", "alice", t0.Add(2*time.Second))

	if err := s.DeleteFact(ctx, "pizza", "@carol"); !errors.Is(err, ErrNotContributor) {
		t.Fatalf("err = %v, want ErrNotContributor", err)
	}
	if err := s.DeleteFact(ctx, "pasta", "@alice"); !errors.Is(err, ErrFactNotFound) {
		t.Fatalf("err = %v, want ErrFactNotFound", err)
	}

	if err := s.DeleteFact(ctx, "PIZZA", "@alice"); err != nil {
		t.Fatal(err)
	}
	got := s.FactsFor("pizza")
	if len(got) != 2 || got[0].Text != "bob likes it" || got[1].Text != "alice loves it" {
		t.Fatalf("expected exactly the first alice fact removed, got %+v", got)
	}

	s.DeleteFact(ctx, "pizza", "@alice")
	s.DeleteFact(ctx, "pizza", "@bob")
	if err := s.DeleteFact(ctx, "pizza", "@bob"); !errors.Is(err, ErrFactNotFound) {
		t.Fatalf("key should be gone once empty, err = %v", err)
	}
}

func TestContextFor_NoQueryIsMostRecentFirst(t *testing.T) {
	s := NewStore(Config{}, nil)
	ctx := context.Background()
	s.AddFact(ctx, "old", "o", "@u", "u", t0)
	s.AddFact(ctx, "new", "n", "@u", "u", t0.Add(time.Hour))

	groups := s.ContextFor("")
	if len(groups) != 2 || groups[0].Key != "new" || groups[1].Key != "old" {
		t.Fatalf("groups = %+v", groups)
	}
}

func TestContextFor_OnlyLastThreePerKey(t *testing.T) {
	s := NewStore(Config{}, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.AddFact(ctx, "topic", fmt.Sprintf("v%d", i), "@u", "u", t0.Add(time.Duration(i)*time.Minute))
	}
	groups := s.ContextFor("")
	if len(groups) != 1 || len(groups[0].Facts) != 3 {
		t.Fatalf("groups = %+v", groups)
	}
	if groups[0].Facts[0].Text != "v4" {
		t.Errorf("first fact = %q, want newest", groups[0].Facts[0].Text)
	}
}

func TestContextFor_RelevanceBeatsRecency(t *testing.T) {
	s := NewStore(Config{RelevantLimit: 1, RecentLimit: 1, ContextLimit: 10}, nil)
	ctx := context.Background()
	s.AddFact(ctx, "pizza toppings", "pineapple is controversial", "@u", "u", t0)
	s.AddFact(ctx, "weather", "it rains a lot", "@u", "u", t0.Add(time.Minute))
	s.AddFact(ctx, "music", "jazz on fridays", "@u", "u", t0.Add(2*time.Minute))

	groups := s.ContextFor("what about pizza")
	if len(groups) != 2 {
		t.Fatalf("groups = %+v, want relevant + recent", groups)
	}
	if groups[0].Key != "pizza toppings" {
		t.Errorf("first group = %q, want the relevant key", groups[0].Key)
	}
	if groups[1].Key != "music" {
		t.Errorf("second group = %q, want the most recent key", groups[1].Key)
	}
}

func TestContextFor_CapAndDedup(t *testing.T) {
	s := NewStore(Config{}, nil)
	ctx := context.Background()
	for i := 0; i < 150; i++ {
		s.AddFact(ctx, fmt.Sprintf("cats %d", i), "cats are great", "@u", "u", t0.Add(time.Duration(i)*time.Second))
	}
	groups := s.ContextFor("cats")
	total := 0
	seen := make(map[uint64]bool)
	for _, g := range groups {
		for _, f := range g.Facts {
			if seen[f.Seq] {
				t.Fatalf("fact %d selected twice", f.Seq)
			}
			seen[f.Seq] = true
			total++
		}
	}
	// All facts are relevant, so the 50 relevant and 50 recent overlap.
	if total != 50 {
		t.Fatalf("selected %d facts, want 50", total)
	}
}

func TestSearch(t *testing.T) {
	s := NewStore(Config{}, nil)
	ctx := context.Background()
	s.AddFact(ctx, "creator", "Denis built me", "@u", "u", t0)
	s.AddFact(ctx, "creator city", "Moscow", "@u", "u", t0)
	s.AddFact(ctx, "food", "the creator likes pizza", "@u", "u", t0)

	got := s.Search("creator", 10)
	if len(got) != 3 {
		t.Fatalf("Search returned %d results", len(got))
	}
	if got[0].Key != "creator" || got[0].Relevance != 100 {
		t.Errorf("top result = %+v", got[0])
	}
	if got[1].Key != "creator city" || got[1].Relevance != 50 {
		t.Errorf("second result = %+v", got[1])
	}
	if got[2].Key != "food" || got[2].Relevance != 10 {
		t.Errorf("third result = %+v", got[2])
	}
}

func TestFactsExcluding(t *testing.T) {
	s := NewStore(Config{}, nil)
	ctx := context.Background()
	s.AddFact(ctx, "a", "mine", "@me", "me", t0)
	s.AddFact(ctx, "b", "theirs", "@them", "them", t0)

	got := s.FactsExcluding("@me")
	if len(got) != 1 || got[0].Text != "theirs" {
		t.Fatalf("FactsExcluding = %+v", got)
	}
}

func TestRules_SoftDeleteKeepsIndicesStable(t *testing.T) {
	saver := newCountingSaver()
	s := NewStore(Config{}, saver)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if idx := s.AddRule(ctx, "!room", fmt.Sprintf("rule %d", i), "@u", "u", t0); idx != i {
			t.Fatalf("AddRule index = %d, want %d", idx, i)
		}
	}
	if err := s.RemoveRule(ctx, "!room", 1); err != nil {
		t.Fatal(err)
	}

	active := s.ActiveRules("!room")
	if len(active) != 3 {
		t.Fatalf("active = %d, want 3", len(active))
	}
	wantIdx := []int{0, 2, 3}
	for i, r := range active {
		if r.Index != wantIdx[i] || r.Text != fmt.Sprintf("rule %d", wantIdx[i]) {
			t.Errorf("active[%d] = %+v", i, r)
		}
	}

	// Index 3 still addresses "rule 3" after the earlier deletion.
	if err := s.RemoveRule(ctx, "!room", 3); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveRule(ctx, "!room", 1); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("removing twice: err = %v", err)
	}
	if err := s.RemoveRule(ctx, "!room", 9); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("out of range: err = %v", err)
	}
	if saver.names[RulesSnapshot] != 6 {
		t.Fatalf("rules saved %d times, want 6", saver.names[RulesSnapshot])
	}
}

func TestProfiles(t *testing.T) {
	saver := newCountingSaver()
	s := NewStore(Config{}, saver)
	ctx := context.Background()

	if _, ok := s.Profile("@u"); ok {
		t.Fatal("unexpected profile for unknown identity")
	}
	if err := s.SetProfileField(ctx, "@u", FieldName, "Alice", "alice", t0); err != nil {
		t.Fatal(err)
	}
	if err := s.SetProfileField(ctx, "@u", FieldCity, "Berlin", "alice", t0); err != nil {
		t.Fatal(err)
	}
	if err := s.SetProfileField(ctx, "@u", Field("shoe size"), "42", "alice", t0); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("err = %v, want ErrUnknownField", err)
	}

	p, ok := s.Profile("@u")
	if !ok || p.Name != "Alice" || p.City != "Berlin" {
		t.Fatalf("profile = %+v", p)
	}
	if s.NameOf("@u") != "Alice" {
		t.Fatalf("NameOf = %q", s.NameOf("@u"))
	}
	if lines := p.Lines(); len(lines) != 2 || lines[0] != "Name: Alice" {
		t.Fatalf("Lines = %v", lines)
	}
	if saver.names[ProfilesSnapshot] != 2 {
		t.Fatalf("profiles saved %d times, want 2", saver.names[ProfilesSnapshot])
	}
}

func TestRestoreFacts_ContinuesSequence(t *testing.T) {
	s := NewStore(Config{}, nil)
	s.RestoreFacts(map[string][]Fact{
		"a": {{Key: "a", Text: "x", Timestamp: t0, Seq: 41}},
	})
	f, err := s.AddFact(context.Background(), "b", "y", "@u", "u", t0)
	if err != nil {
		t.Fatal(err)
	}
	if f.Seq != 42 {
		t.Fatalf("Seq = %d, want 42", f.Seq)
	}
}

func TestRestoreFacts_RenumbersMissingSequence(t *testing.T) {
	tests := []struct {
		name string
		seqs [3]uint64
	}{
		{"missing", [3]uint64{0, 0, 0}},
		{"duplicated", [3]uint64{7, 7, 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(Config{MaxFacts: 3}, nil)
			s.RestoreFacts(map[string][]Fact{
				"alpha": {{Key: "alpha", Text: "alpha stuff", Timestamp: t0, Seq: tt.seqs[0]}},
				"beta":  {{Key: "beta", Text: "beta stuff", Timestamp: t0.Add(time.Minute), Seq: tt.seqs[1]}},
				"gamma": {{Key: "gamma", Text: "gamma stuff", Timestamp: t0.Add(2 * time.Minute), Seq: tt.seqs[2]}},
			})

			n := 0
			for _, g := range s.ContextFor("beta stuff") {
				n += len(g.Facts)
			}
			if n != 3 {
				t.Errorf("ContextFor returned %d facts, want 3", n)
			}

			f, err := s.AddFact(context.Background(), "delta", "delta stuff", "@u", "u", t0.Add(3*time.Minute))
			if err != nil {
				t.Fatal(err)
			}
			if f.Seq != 4 {
				t.Errorf("Seq = %d, want 4", f.Seq)
			}
			if got := s.TotalFacts(); got != 3 {
				t.Fatalf("TotalFacts = %d, want 3", got)
			}
			if len(s.FactsFor("alpha")) != 0 || len(s.FactsFor("beta")) != 1 {
				t.Error("eviction did not drop exactly the oldest fact")
			}
		})
	}
}

func TestStats(t *testing.T) {
	s := NewStore(Config{MaxFacts: 100}, nil)
	ctx := context.Background()
	s.AddFact(ctx, "a", "1", "@alice", "alice", t0)
	s.AddFact(ctx, "a", "2", "@alice", "alice", t0)
	s.AddFact(ctx, "b", "3", "@bob", "bob", t0)

	st := s.Stats()
	if st.TotalFacts != 3 || st.TotalKeys != 2 || st.UsagePercent != 3 {
		t.Fatalf("stats = %+v", st)
	}
	if st.TopContributors[0].Name != "alice" || st.TopContributors[0].Count != 2 {
		t.Fatalf("top = %+v", st.TopContributors)
	}
}
