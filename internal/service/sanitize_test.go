package service

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/MayoPickle/tofu-chillsync/internal/domain"
)

func TestSanitizer(t *testing.T) {
	s := NewSanitizer()

	assert.Equal(t, "Bob", s.Name("  <a href='x'>Bob</a> "))
	assert.Equal(t, domain.DefaultHostName, s.Name("<img src=x>"))
	assert.Equal(t, "Tom & Jerry", s.Name("Tom &amp; Jerry"))
	assert.Equal(t, maxNameLength, utf8.RuneCountInString(s.Name(strings.Repeat("é", 100))))

	assert.Equal(t, "", s.Chat("<script>x</script>"))
	assert.Equal(t, "a < b", s.Chat("a < b"))

	assert.Equal(t, "Fallback", s.Label("", "Fallback"))
}
