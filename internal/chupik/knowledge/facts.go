package knowledge

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Fact is one contributor-attributed piece of knowledge.
type Fact struct {
	Key             string    `json:"key"`
	Text            string    `json:"text"`
	ContributorID   string    `json:"contributor_id"`
	ContributorName string    `json:"contributor_name"`
	Timestamp       time.Time `json:"timestamp"`
	// Seq orders facts that share a timestamp by insertion.
	Seq uint64 `json:"seq"`
}

// FactGroup is a run of facts sharing a key, as presented in prompts.
type FactGroup struct {
	Key   string
	Facts []Fact
}

// NormalizeKey lowercases and trims a fact key.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// RestoreFacts replaces all facts with a persisted document. Seq identifies
// a fact, so a document with missing or repeated sequence numbers is
// renumbered oldest first.
func (s *Store) RestoreFacts(doc map[string][]Fact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.facts = make(map[string][]Fact, len(doc))
	s.nextSeq = 1

	keys := make([]string, 0, len(doc))
	for key, list := range doc {
		if len(list) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	type slot struct {
		key string
		i   int
	}
	var slots []slot
	seen := make(map[uint64]bool)
	renumber := false
	for _, key := range keys {
		list := append([]Fact(nil), doc[key]...)
		s.facts[key] = list
		for i, f := range list {
			slots = append(slots, slot{key, i})
			if f.Seq == 0 || seen[f.Seq] {
				renumber = true
			}
			seen[f.Seq] = true
			if f.Seq >= s.nextSeq {
				s.nextSeq = f.Seq + 1
			}
		}
	}
	if !renumber {
		return
	}

	sort.SliceStable(slots, func(a, b int) bool {
		return olderThan(s.facts[slots[a].key][slots[a].i], s.facts[slots[b].key][slots[b].i])
	})
	for n, sl := range slots {
		s.facts[sl.key][sl.i].Seq = uint64(n + 1)
	}
	s.nextSeq = uint64(len(slots) + 1)
}

// AddFact appends a fact under the normalised key. Duplicates are kept. When
// the global total exceeds MaxFacts the globally oldest facts are evicted,
// whatever their key.
func (s *Store) AddFact(ctx context.Context, key, text, contributorID, contributorName string, now time.Time) (Fact, error) {
	key = NormalizeKey(key)
	text = strings.TrimSpace(text)
	if key == "" || text == "" {
		return Fact{}, ErrEmptyFact
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f := Fact{
		Key:             key,
		Text:            text,
		ContributorID:   contributorID,
		ContributorName: contributorName,
		Timestamp:       now,
		Seq:             s.nextSeq,
	}
	s.nextSeq++
	s.facts[key] = append(s.facts[key], f)

	s.evictLocked()
	s.persistLocked(ctx, FactsSnapshot)
	return f, nil
}

// AddRawMessage stores a chat message verbatim, keyed by its first five
// words. Commands and messages shorter than three words are ignored.
func (s *Store) AddRawMessage(ctx context.Context, text, contributorID, contributorName string, now time.Time) bool {
	words := strings.Fields(text)
	if len(words) < 3 || strings.HasPrefix(words[0], "/") {
		return false
	}
	if len(words) > 5 {
		words = words[:5]
	}
	_, err := s.AddFact(ctx, strings.Join(words, " "), text, contributorID, contributorName, now)
	return err == nil
}

// evictLocked drops the globally oldest facts until the total is back at
// MaxFacts. Must be called with mu held.
func (s *Store) evictLocked() {
	total := s.totalLocked()
	if total <= s.config.MaxFacts {
		return
	}

	all := make([]Fact, 0, total)
	for _, list := range s.facts {
		all = append(all, list...)
	}
	sort.Slice(all, func(i, j int) bool { return olderThan(all[i], all[j]) })

	doomed := make(map[uint64]bool, total-s.config.MaxFacts)
	for _, f := range all[:total-s.config.MaxFacts] {
		doomed[f.Seq] = true
	}
	for key, list := range s.facts {
		kept := list[:0]
		for _, f := range list {
			if !doomed[f.Seq] {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			delete(s.facts, key)
			continue
		}
		s.facts[key] = kept
	}
}

func olderThan(a, b Fact) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Seq < b.Seq
}

func (s *Store) totalLocked() int {
	n := 0
	for _, list := range s.facts {
		n += len(list)
	}
	return n
}

// TotalFacts returns the number of stored facts.
func (s *Store) TotalFacts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalLocked()
}

// FactsFor returns the facts stored under key, oldest first.
func (s *Store) FactsFor(key string) []Fact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Fact(nil), s.facts[NormalizeKey(key)]...)
}

// FactsExcluding returns every fact not contributed by contributorID, in a
// stable order (by key, then insertion).
func (s *Store) FactsExcluding(contributorID string) []Fact {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Fact
	for _, key := range s.sortedKeysLocked() {
		for _, f := range s.facts[key] {
			if f.ContributorID != contributorID {
				out = append(out, f)
			}
		}
	}
	return out
}

// RecentFacts returns up to n facts, newest first.
func (s *Store) RecentFacts(n int) []Fact {
	s.mu.Lock()
	var all []Fact
	for _, list := range s.facts {
		all = append(all, list...)
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return olderThan(all[j], all[i]) })
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// DeleteFact removes the first fact under key contributed by contributorID.
// The key disappears once its last fact is gone.
func (s *Store) DeleteFact(ctx context.Context, key, contributorID string) error {
	key = NormalizeKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.facts[key]
	if !ok {
		return ErrFactNotFound
	}
	for i, f := range list {
		if f.ContributorID != contributorID {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(s.facts, key)
		} else {
			s.facts[key] = list
		}
		s.persistLocked(ctx, FactsSnapshot)
		return nil
	}
	return ErrNotContributor
}

type scoredFact struct {
	fact      Fact
	relevance int
}

// ContextFor selects the facts to show the generation service for query.
//
// Only the newest PerKeyContext facts of each key are candidates. Each
// candidate scores +3 for every query word (longer than two characters)
// found in its key and +1 for every one found in its text. The top
// RelevantLimit scoring facts are merged with the RecentLimit newest ones,
// deduplicated, capped at ContextLimit, then grouped by key in order of
// first appearance. Without a usable query only recency counts.
func (s *Store) ContextFor(query string) []FactGroup {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []scoredFact
	for _, key := range s.sortedKeysLocked() {
		list := s.facts[key]
		if len(list) > s.config.PerKeyContext {
			list = list[len(list)-s.config.PerKeyContext:]
		}
		for _, f := range list {
			candidates = append(candidates, scoredFact{fact: f})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	var words []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if utf8.RuneCountInString(w) > 2 {
			words = append(words, w)
		}
	}

	byRecency := make([]scoredFact, len(candidates))
	copy(byRecency, candidates)
	sort.SliceStable(byRecency, func(i, j int) bool {
		return olderThan(byRecency[j].fact, byRecency[i].fact)
	})

	var selected []scoredFact
	if len(words) == 0 {
		selected = byRecency
	} else {
		for i := range candidates {
			keyLower := candidates[i].fact.Key
			textLower := strings.ToLower(candidates[i].fact.Text)
			for _, w := range words {
				if strings.Contains(keyLower, w) {
					candidates[i].relevance += 3
				}
				if strings.Contains(textLower, w) {
					candidates[i].relevance++
				}
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].relevance != candidates[j].relevance {
				return candidates[i].relevance > candidates[j].relevance
			}
			return olderThan(candidates[j].fact, candidates[i].fact)
		})

		var relevant []scoredFact
		for _, c := range candidates {
			if c.relevance <= 0 || len(relevant) == s.config.RelevantLimit {
				break
			}
			relevant = append(relevant, c)
		}
		recent := byRecency
		if len(recent) > s.config.RecentLimit {
			recent = recent[:s.config.RecentLimit]
		}

		seen := make(map[uint64]bool, len(relevant)+len(recent))
		for _, c := range append(relevant, recent...) {
			if seen[c.fact.Seq] {
				continue
			}
			seen[c.fact.Seq] = true
			selected = append(selected, c)
		}
	}

	if len(selected) > s.config.ContextLimit {
		selected = selected[:s.config.ContextLimit]
	}

	var groups []FactGroup
	index := make(map[string]int)
	for _, c := range selected {
		i, ok := index[c.fact.Key]
		if !ok {
			i = len(groups)
			index[c.fact.Key] = i
			groups = append(groups, FactGroup{Key: c.fact.Key})
		}
		groups[i].Facts = append(groups[i].Facts, c.fact)
	}
	return groups
}

// SearchResult is a key matched by Search.
type SearchResult struct {
	Key       string
	Facts     []Fact
	Relevance int
}

// Search ranks keys against query for the /facts command: an exact key match
// scores 100, a key containing the query 50, a query containing the key 30,
// and every fact whose text contains the query adds 10.
func (s *Store) Search(query string, limit int) []SearchResult {
	query = NormalizeKey(query)
	if query == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var results []SearchResult
	for _, key := range s.sortedKeysLocked() {
		relevance := 0
		switch {
		case key == query:
			relevance = 100
		case strings.Contains(key, query):
			relevance = 50
		case strings.Contains(query, key):
			relevance = 30
		}
		for _, f := range s.facts[key] {
			if strings.Contains(strings.ToLower(f.Text), query) {
				relevance += 10
			}
		}
		if relevance > 0 {
			results = append(results, SearchResult{
				Key:       key,
				Facts:     append([]Fact(nil), s.facts[key]...),
				Relevance: relevance,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Relevance > results[j].Relevance })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Contributor is a row of Stats.TopContributors.
type Contributor struct {
	Name  string
	Count int
}

// Stats summarises the fact store.
type Stats struct {
	TotalFacts      int
	TotalKeys       int
	MaxFacts        int
	UsagePercent    float64
	TopContributors []Contributor
}

// Stats returns fact totals and the five most prolific contributors.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, list := range s.facts {
		for _, f := range list {
			name := f.ContributorName
			if name == "" {
				name = f.ContributorID
			}
			counts[name]++
		}
	}
	top := make([]Contributor, 0, len(counts))
	for name, n := range counts {
		top = append(top, Contributor{Name: name, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Name < top[j].Name
	})
	if len(top) > 5 {
		top = top[:5]
	}

	total := s.totalLocked()
	return Stats{
		TotalFacts:      total,
		TotalKeys:       len(s.facts),
		MaxFacts:        s.config.MaxFacts,
		UsagePercent:    float64(total) * 100 / float64(s.config.MaxFacts),
		TopContributors: top,
	}
}

func (s *Store) sortedKeysLocked() []string {
	keys := make([]string, 0, len(s.facts))
	for k := range s.facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
