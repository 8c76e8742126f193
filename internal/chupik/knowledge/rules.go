package knowledge

import (
	"context"
	"strings"
	"time"
)

// Rule is a behavioural instruction given to the agent in one conversation.
// Removed rules stay in place with Active=false so that indices never shift.
type Rule struct {
	Text            string    `json:"text"`
	ContributorID   string    `json:"contributor_id"`
	ContributorName string    `json:"contributor_name"`
	Timestamp       time.Time `json:"timestamp"`
	Active          bool      `json:"active"`
}

// IndexedRule is an active rule together with its original position.
type IndexedRule struct {
	Index int
	Rule
}

// RestoreRules replaces all rules with a persisted document.
func (s *Store) RestoreRules(doc map[string][]Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = cloneRules(doc)
}

// AddRule appends a rule and returns its zero-based index.
func (s *Store) AddRule(ctx context.Context, conversationID, text, contributorID, contributorName string, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules[conversationID] = append(s.rules[conversationID], Rule{
		Text:            strings.TrimSpace(text),
		ContributorID:   contributorID,
		ContributorName: contributorName,
		Timestamp:       now,
		Active:          true,
	})
	s.persistLocked(ctx, RulesSnapshot)
	return len(s.rules[conversationID]) - 1
}

// ActiveRules returns the conversation's active rules in insertion order.
func (s *Store) ActiveRules(conversationID string) []IndexedRule {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []IndexedRule
	for i, r := range s.rules[conversationID] {
		if r.Active {
			out = append(out, IndexedRule{Index: i, Rule: r})
		}
	}
	return out
}

// RemoveRule deactivates the rule at its original zero-based index.
func (s *Store) RemoveRule(ctx context.Context, conversationID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.rules[conversationID]
	if index < 0 || index >= len(list) || !list[index].Active {
		return ErrRuleNotFound
	}
	list[index].Active = false
	s.persistLocked(ctx, RulesSnapshot)
	return nil
}
