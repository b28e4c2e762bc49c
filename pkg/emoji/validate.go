// Package emoji validates message reactions.
package emoji

import (
	"errors"

	"github.com/forPelevin/gomoji"
)

// ErrInvalidReaction is returned when a reaction is not exactly one emoji.
var ErrInvalidReaction = errors.New("reaction must be a single emoji")

// ValidateReaction checks that reaction is one emoji and nothing else.
func ValidateReaction(reaction string) error {
	found := gomoji.CollectAll(reaction)
	switch {
	case len(found) != 1:
		return ErrInvalidReaction
	case found[0].Character != reaction:
		// other characters around the emoji
		return ErrInvalidReaction
	}
	return nil
}
