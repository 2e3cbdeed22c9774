package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	t.Setenv("FASTLIMIT_TEST_STRING", "value")

	assert.Equal(t, "value", String("FASTLIMIT_TEST_STRING", "fallback"))
	assert.Equal(t, "fallback", String("FASTLIMIT_TEST_UNSET", "fallback"))
}

func TestInt64(t *testing.T) {
	t.Setenv("FASTLIMIT_TEST_INT", "42")
	t.Setenv("FASTLIMIT_TEST_BAD_INT", "forty-two")

	assert.Equal(t, int64(42), Int64("FASTLIMIT_TEST_INT", 7))
	assert.Equal(t, int64(7), Int64("FASTLIMIT_TEST_BAD_INT", 7))
	assert.Equal(t, int64(7), Int64("FASTLIMIT_TEST_UNSET", 7))
}

func TestFloat64(t *testing.T) {
	t.Setenv("FASTLIMIT_TEST_FLOAT", "0.5")
	t.Setenv("FASTLIMIT_TEST_BAD_FLOAT", "half")

	assert.Equal(t, 0.5, Float64("FASTLIMIT_TEST_FLOAT", 1))
	assert.Equal(t, 1.0, Float64("FASTLIMIT_TEST_BAD_FLOAT", 1))
	assert.Equal(t, 1.0, Float64("FASTLIMIT_TEST_UNSET", 1))
}

func TestDuration(t *testing.T) {
	t.Setenv("FASTLIMIT_TEST_DURATION", "1m30s")
	t.Setenv("FASTLIMIT_TEST_BAD_DURATION", "90")

	assert.Equal(t, 90*time.Second, Duration("FASTLIMIT_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, Duration("FASTLIMIT_TEST_BAD_DURATION", time.Second))
	assert.Equal(t, time.Second, Duration("FASTLIMIT_TEST_UNSET", time.Second))
}

func TestBool(t *testing.T) {
	t.Setenv("FASTLIMIT_TEST_BOOL", "true")
	t.Setenv("FASTLIMIT_TEST_BAD_BOOL", "maybe")

	assert.True(t, Bool("FASTLIMIT_TEST_BOOL", false))
	assert.False(t, Bool("FASTLIMIT_TEST_BAD_BOOL", false))
	assert.True(t, Bool("FASTLIMIT_TEST_UNSET", true))
}
