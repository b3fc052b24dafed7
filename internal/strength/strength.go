// Package strength scores stored passwords and generates new ones.
package strength

import (
	"strings"

	"github.com/nbutton23/zxcvbn-go"
)

// Level is the coarse strength bucket shown to the owner.
type Level string

const (
	Weak   Level = "Weak"
	Medium Level = "Medium"
	Strong Level = "Strong"
)

const (
	lowercase = "abcdefghijklmnopqrstuvwxyz"
	uppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits    = "0123456789"
	special   = "!@#$%^&*()-_=+[]{}|;:,.<>?"
)

// Result of Classify. Score is the 0..100 composition score; Guessability
// is the zxcvbn score 0..4.
type Result struct {
	Level        Level
	Score        int
	Guessability int
	Feedback     []string
}

// Classify scores password by length and character classes, then caps the
// level by how guessable zxcvbn finds it: a zxcvbn score of 0 is always
// Weak and 1 or 2 is at most Medium.
func Classify(password string) Result {
	var (
		score    int
		feedback []string
	)

	switch n := len([]rune(password)); {
	case n >= 16:
		score += 40
	case n >= 12:
		score += 30
	case n >= 8:
		score += 20
	default:
		score += 10
		feedback = append(feedback, "Password should be at least 12 characters")
	}

	classes := []struct {
		set    string
		points int
		hint   string
	}{
		{lowercase, 10, "Add lowercase letters"},
		{uppercase, 15, "Add uppercase letters"},
		{digits, 15, "Add numbers"},
		{special, 20, "Add special characters (!@#$%^&*)"},
	}
	for _, c := range classes {
		if strings.ContainsAny(password, c.set) {
			score += c.points
		} else {
			feedback = append(feedback, c.hint)
		}
	}

	level := Weak
	switch {
	case score >= 80:
		level = Strong
	case score >= 50:
		level = Medium
	}

	guess := 0
	if password != "" {
		guess = zxcvbn.PasswordStrength(password, nil).Score
	}

	capped := level
	switch {
	case guess == 0:
		capped = Weak
	case guess <= 2 && level == Strong:
		capped = Medium
	}
	if capped != level {
		feedback = append(feedback, "Avoid common words, names and predictable patterns")
		level = capped
	}

	if len(feedback) == 0 {
		feedback = []string{"Great password!"}
	}

	return Result{Level: level, Score: score, Guessability: guess, Feedback: feedback}
}
