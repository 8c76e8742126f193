package knowledge

import (
	"context"
	"strings"
	"time"
)

// Field names a profile attribute learned from self-declarations.
type Field string

const (
	FieldName  Field = "name"
	FieldAge   Field = "age"
	FieldCity  Field = "city"
	FieldWork  Field = "work"
	FieldLikes Field = "likes"
)

// Profile is what an identity has told the agent about itself.
type Profile struct {
	Name      string    `json:"name,omitempty"`
	Age       string    `json:"age,omitempty"`
	City      string    `json:"city,omitempty"`
	Work      string    `json:"work,omitempty"`
	Likes     string    `json:"likes,omitempty"`
	Username  string    `json:"username,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Empty reports whether no attribute is known.
func (p Profile) Empty() bool {
	return p.Name == "" && p.Age == "" && p.City == "" && p.Work == "" && p.Likes == ""
}

// Get returns the value of one attribute.
func (p Profile) Get(f Field) string {
	switch f {
	case FieldName:
		return p.Name
	case FieldAge:
		return p.Age
	case FieldCity:
		return p.City
	case FieldWork:
		return p.Work
	case FieldLikes:
		return p.Likes
	}
	return ""
}

// Lines renders the known attributes as "Label: value" lines.
func (p Profile) Lines() []string {
	var out []string
	for _, f := range []struct {
		label string
		value string
	}{
		{"Name", p.Name},
		{"Age", p.Age},
		{"City", p.City},
		{"Work", p.Work},
		{"Likes", p.Likes},
	} {
		if f.value != "" {
			out = append(out, f.label+": "+f.value)
		}
	}
	return out
}

// RestoreProfiles replaces all profiles with a persisted document.
func (s *Store) RestoreProfiles(doc map[string]Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = cloneProfiles(doc)
}

// SetProfileField records one attribute for the identity.
func (s *Store) SetProfileField(ctx context.Context, userID string, f Field, value, username string, now time.Time) error {
	value = strings.TrimSpace(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.profiles[userID]
	switch f {
	case FieldName:
		p.Name = value
	case FieldAge:
		p.Age = value
	case FieldCity:
		p.City = value
	case FieldWork:
		p.Work = value
	case FieldLikes:
		p.Likes = value
	default:
		return ErrUnknownField
	}
	if username != "" {
		p.Username = username
	}
	p.UpdatedAt = now
	s.profiles[userID] = p

	s.persistLocked(ctx, ProfilesSnapshot)
	return nil
}

// Profile returns the identity's profile and whether anything is known.
func (s *Store) Profile(userID string) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	return p, ok && !p.Empty()
}

// NameOf returns the self-declared name of the identity, or "".
func (s *Store) NameOf(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[userID].Name
}
