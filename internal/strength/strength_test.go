package strength

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		password  string
		wantLevel Level
		wantScore int
	}{
		{name: "empty", password: "", wantLevel: Weak, wantScore: 10},
		{name: "lowercase only", password: "abcdefgh", wantLevel: Weak, wantScore: 30},
		{name: "common with digits", password: "password123", wantLevel: Weak, wantScore: 45},
		{name: "mixed ten", password: "Kq7vzr3mxw", wantLevel: Medium, wantScore: 60},
		{name: "random long", password: "t7#Vq9!mZ2$wLp4&xR", wantLevel: Strong, wantScore: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.password)
			assert.Equal(t, tt.wantLevel, got.Level)
			assert.Equal(t, tt.wantScore, got.Score)
			assert.NotEmpty(t, got.Feedback)
		})
	}
}

func TestClassify_Feedback(t *testing.T) {
	got := Classify("abc")
	assert.Contains(t, got.Feedback, "Password should be at least 12 characters")
	assert.Contains(t, got.Feedback, "Add uppercase letters")
	assert.Contains(t, got.Feedback, "Add numbers")
	assert.Contains(t, got.Feedback, "Add special characters (!@#$%^&*)")
	assert.NotContains(t, got.Feedback, "Add lowercase letters")

	strong := Classify("t7#Vq9!mZ2$wLp4&xR")
	assert.Equal(t, []string{"Great password!"}, strong.Feedback)
}

func TestClassify_GuessableIsCapped(t *testing.T) {
	got := Classify("Password1!")

	assert.Equal(t, 80, got.Score)
	assert.NotEqual(t, Strong, got.Level)
	assert.LessOrEqual(t, got.Guessability, 2)
	assert.Contains(t, got.Feedback, "Avoid common words, names and predictable patterns")
}

func TestGenerate_LengthClamp(t *testing.T) {
	for in, want := range map[int]int{0: MinLength, 3: MinLength, 8: 8, 20: 20, 64: 64, 500: MaxLength} {
		pw, err := Generate(Options{Length: in, Uppercase: true, Digits: true, Special: true})
		require.NoError(t, err)
		assert.Len(t, pw, want, "requested %d", in)
	}
}

func TestGenerate_Classes(t *testing.T) {
	for i := 0; i < 200; i++ {
		pw, err := Generate(Options{Length: MinLength, Uppercase: true, Digits: true, Special: true})
		require.NoError(t, err)
		require.True(t, strings.ContainsAny(pw, lowercase), pw)
		require.True(t, strings.ContainsAny(pw, uppercase), pw)
		require.True(t, strings.ContainsAny(pw, digits), pw)
		require.True(t, strings.ContainsAny(pw, special), pw)
	}
}

func TestGenerate_OnlyLowercase(t *testing.T) {
	pw, err := Generate(Options{Length: 32})
	require.NoError(t, err)
	assert.Len(t, pw, 32)
	assert.False(t, strings.ContainsAny(pw, uppercase+digits+special), pw)
}

func TestGenerate_Distinct(t *testing.T) {
	a, err := Generate(DefaultOptions)
	require.NoError(t, err)
	b, err := Generate(DefaultOptions)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, DefaultLength)
}
