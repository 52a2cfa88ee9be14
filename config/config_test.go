package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent to testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatal(err)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8090", cfg.ServerPort)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 24, cfg.DefaultDurationHours)
	assert.Equal(t, "none", cfg.MQBackend)
	assert.Equal(t, "format", cfg.BallotVerifier)
	assert.False(t, cfg.RateLimitEnabled)
	assert.Empty(t, cfg.AdminAddresses)
}

func TestLoad_FromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("ADMIN_ADDRESSES", " 0xabc, ,0xdef ")
	t.Setenv("DEFAULT_DURATION_HOURS", "48")
	t.Setenv("ENABLE_RATE_LIMIT", "true")
	t.Setenv("CREATOR_MAY_DELETE_PAST", "true")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("MQ_BACKEND", "redis")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.ServerPort)
	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Equal(t, []string{"0xabc", "0xdef"}, cfg.AdminAddresses)
	assert.Equal(t, 48, cfg.DefaultDurationHours)
	assert.True(t, cfg.RateLimitEnabled)
	assert.True(t, cfg.CreatorMayDeletePast)
	assert.Contains(t, cfg.MySQLDSN(), "@tcp(mysql:3306)/votingdb")
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown driver":        {"DB_DRIVER": "postgres"},
		"unknown mq":            {"MQ_BACKEND": "kafka"},
		"unknown verifier":      {"BALLOT_VERIFIER": "fhe"},
		"non numeric duration":  {"DEFAULT_DURATION_HOURS": "day"},
		"zero duration":         {"DEFAULT_DURATION_HOURS": "0"},
		"redis mq without addr": {"MQ_BACKEND": "redis"},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			chdir(t, t.TempDir())
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
