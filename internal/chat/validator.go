package chat

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max frame size
	MaxTextChars    = 2000 // max character count
)

var (
	ErrEmpty       = errors.New("chat: message text is empty")
	ErrTooLarge    = errors.New("chat: message too large")
	ErrInvalidUTF8 = errors.New("chat: message contains invalid UTF-8")
)

// ValidateMessage checks that inbound content can be handed to a dialogue.
func ValidateMessage(text string) error {
	if len(text) == 0 {
		return ErrEmpty
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("%w: exceeds %d byte limit", ErrTooLarge, MaxMessageBytes)
	}
	if !utf8.ValidString(text) {
		return ErrInvalidUTF8
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("%w: exceeds %d character limit", ErrTooLarge, MaxTextChars)
	}
	return nil
}
