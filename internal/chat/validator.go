package chat

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Content limits for a single relayed line.
const (
	MaxMessageBytes = 4096
	MaxTextChars    = 2000
)

// Content errors. Their text is shown to the sender as-is.
var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrInvalidUTF8    = errors.New("message contains invalid UTF-8")
	ErrMessageTooLong = errors.New("message is too long")
)

// ValidateMessage rejects content that must not be relayed: blank lines,
// invalid UTF-8, and anything over MaxMessageBytes or MaxTextChars.
func ValidateMessage(content string) error {
	switch {
	case strings.TrimSpace(content) == "":
		return ErrEmptyMessage
	case len(content) > MaxMessageBytes:
		return ErrMessageTooLong
	case !utf8.ValidString(content):
		return ErrInvalidUTF8
	case utf8.RuneCountInString(content) > MaxTextChars:
		return ErrMessageTooLong
	}
	return nil
}
