package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"6281234567890", "6281234567890", true},
		{" +62 812-3456-7890 ", "6281234567890", true},
		{"(021) 5550-1234", "02155501234", true},
		{"1234567", "1234567", false},
		{"62812abc7890", "62812abc7890", false},
		{"1234567890123456", "1234567890123456", false},
	}
	for _, tc := range cases {
		got, ok := NormalizePhone(tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
		assert.Equal(t, tc.ok, ok, tc.raw)
	}
}

func TestNormalizeEmail(t *testing.T) {
	email, ok := NormalizeEmail("  Ada@Example.COM ")
	assert.True(t, ok)
	assert.Equal(t, "ada@example.com", email)

	for _, raw := range []string{"", "ada", "Ada <ada@example.com>", "ada@"} {
		_, ok := NormalizeEmail(raw)
		assert.False(t, ok, raw)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("UTIL_TEST_INT", "42")
	t.Setenv("UTIL_TEST_BAD_INT", "forty")
	t.Setenv("UTIL_TEST_BOOL", "true")
	t.Setenv("UTIL_TEST_DURATION", "90s")
	t.Setenv("UTIL_TEST_LIST", "a, b,,c ")

	assert.Equal(t, "fallback", GetEnv("UTIL_TEST_MISSING", "fallback"))
	assert.Equal(t, 42, GetEnvInt("UTIL_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("UTIL_TEST_BAD_INT", 1))
	assert.True(t, GetEnvBool("UTIL_TEST_BOOL", false))
	assert.Equal(t, 90*time.Second, GetEnvDuration("UTIL_TEST_DURATION", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, GetEnvList("UTIL_TEST_LIST", nil))
	assert.Nil(t, GetEnvList("UTIL_TEST_MISSING", nil))
}
