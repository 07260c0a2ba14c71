package model

import (
	"errors"
	"fmt"
)

// MaxNicknameLength is the longest nickname a participant may choose.
const MaxNicknameLength = 32

// Nickname validation errors.
var (
	ErrNicknameEmpty        = errors.New("nickname must not be empty")
	ErrNicknameTooLong      = fmt.Errorf("nickname must not exceed %d characters", MaxNicknameLength)
	ErrNicknameInvalidChars = errors.New("nickname must contain only letters and digits")
)

// ValidateNickname checks that a nickname is 1-32 ASCII letters or digits.
// The relay itself accepts any comma-free sender; this stricter rule is what
// participants enforce before asking to join.
func ValidateNickname(name string) error {
	if len(name) == 0 {
		return ErrNicknameEmpty
	}
	if len(name) > MaxNicknameLength {
		return ErrNicknameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return ErrNicknameInvalidChars
		}
	}
	return nil
}
