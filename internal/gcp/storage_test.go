package gcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("ASSET_TEST_STRING", "value")
	t.Setenv("ASSET_TEST_EMPTY", "")
	t.Setenv("ASSET_TEST_BOOL", " true ")
	t.Setenv("ASSET_TEST_INT", "12")
	t.Setenv("ASSET_TEST_DURATION", "45s")
	t.Setenv("ASSET_TEST_BAD", "nope")

	assert.Equal(t, "value", GetEnv("ASSET_TEST_STRING", "x"))
	assert.Equal(t, "", GetEnv("ASSET_TEST_EMPTY", "x"), "a set but empty variable is kept")
	assert.Equal(t, "x", GetEnv("ASSET_TEST_UNSET", "x"))

	assert.True(t, GetEnvBool("ASSET_TEST_BOOL", false))
	assert.True(t, GetEnvBool("ASSET_TEST_BAD", true))
	assert.Equal(t, 12, GetEnvInt("ASSET_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("ASSET_TEST_BAD", 1))
	assert.Equal(t, 45*time.Second, GetEnvDuration("ASSET_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("ASSET_TEST_BAD", time.Second))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `[1]`, StripFences("```\n[1]```"))
	assert.Equal(t, `{"a":1}`, StripFences(`  {"a":1} `))
}
