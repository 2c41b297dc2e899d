package service

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/MayoPickle/tofu-chillsync/internal/domain"
)

const (
	maxNameLength = 40
	maxChatLength = 1000
)

// Sanitizer strips markup from user supplied text. Clients render names and
// chat as plain text, so entities are decoded again after stripping.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *Sanitizer) text(in string, limit int) string {
	out := html.UnescapeString(s.policy.Sanitize(in))
	out = strings.TrimSpace(out)
	if utf8.RuneCountInString(out) > limit {
		out = string([]rune(out)[:limit])
	}
	return out
}

// Name cleans a display name, falling back to the default host name.
func (s *Sanitizer) Name(in string) string {
	if out := s.text(in, maxNameLength); out != "" {
		return out
	}
	return domain.DefaultHostName
}

// Chat cleans a chat line; an empty result means nothing to post.
func (s *Sanitizer) Chat(in string) string {
	return s.text(in, maxChatLength)
}

// Label cleans room names and themes, using def when nothing is left.
func (s *Sanitizer) Label(in, def string) string {
	if out := s.text(in, maxNameLength*2); out != "" {
		return out
	}
	return def
}
