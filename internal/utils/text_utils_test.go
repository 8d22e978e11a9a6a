package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Your OTP Is 1234", "your otp is 1234"},
		{"fullwidth digits", "code ４８２９", "code 4829"},
		{"collapses whitespace", "  hello \n\t world  ", "hello world"},
		{"invalid utf8 dropped", "ok\xffay", "okay"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeText(tc.in))
		})
	}
}

func TestSenderSuffix(t *testing.T) {
	assert.Equal(t, "HDFCBK", SenderSuffix("VM-HDFCBK"))
	assert.Equal(t, "SBIINB", SenderSuffix(" sbiinb "))
	assert.Equal(t, "+919876543210", SenderSuffix("+919876543210"))
	assert.Equal(t, "AD-", SenderSuffix("ad-"))
}

func TestTextProcessor_TruncateText(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	assert.Equal(t, "short", tp.TruncateText("short", 10))
	assert.Equal(t, "abc...", tp.TruncateText("abcdef", 3))
	// "é" is two bytes; cutting in the middle must not leave a broken rune
	assert.Equal(t, "a...", tp.TruncateText("aé", 2))
}

func TestTextProcessor_CleanBody(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())
	assert.Equal(t, "fine", tp.CleanBody("fine"))
	assert.Equal(t, "bad", tp.CleanBody("b\xc3ad"))
}
