package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"LOCAL_MEMBER_ID", "FEDERATION_MEMBERS", "EMULATED_CLOUDS", "PROCESSOR_SLEEP", "DEVELOPMENT"} {
		t.Setenv(key, "")
	}

	config, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "member-a", config.LocalMemberID)
	assert.Empty(t, config.FederationMembers)
	assert.Equal(t, []string{"default"}, config.EmulatedClouds)
	assert.Equal(t, time.Second, config.ProcessorSleep)
	assert.False(t, config.Development)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LOCAL_MEMBER_ID", "member-b")
	t.Setenv("FEDERATION_MEMBERS", "member-a=10.0.0.1:9001, member-c=broker-c:9001")
	t.Setenv("EMULATED_CLOUDS", "cloud-1, cloud-2,")
	t.Setenv("PROCESSOR_SLEEP", "250ms")
	t.Setenv("DEVELOPMENT", "true")

	config, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "member-b", config.LocalMemberID)
	assert.Equal(t, map[string]string{"member-a": "10.0.0.1:9001", "member-c": "broker-c:9001"}, config.FederationMembers)
	assert.Equal(t, []string{"cloud-1", "cloud-2"}, config.EmulatedClouds)
	assert.Equal(t, 250*time.Millisecond, config.ProcessorSleep)
	assert.True(t, config.Development)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("FEDERATION_MEMBERS", "member-a")
	_, err := loadConfig()
	assert.Error(t, err)

	t.Setenv("FEDERATION_MEMBERS", "")
	t.Setenv("PROCESSOR_SLEEP", "soon")
	_, err = loadConfig()
	assert.Error(t, err)
}
