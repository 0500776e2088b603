package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	vars := map[string]string{
		"STORE_URI":               "neo4j://localhost:7687",
		"STORE_USERNAME":          "neo4j",
		"STORE_PASSWORD":          "secret",
		"GRAPH_DB_NAME":           "graph",
		"EMBED_JOB_RETENTION_DAYS": "14",
	}
	for k, v := range vars {
		os.Setenv(k, v)
		t.Cleanup(func(k string) func() {
			return func() { os.Unsetenv(k) }
		}(k))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "JOB_DB_NAME", "SIMILARITY", "HEALTH_PORT")
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "embedding-jobs", cfg.JobDBName)
	assert.Equal(t, SimilarityCosine, cfg.Similarity)
	assert.Equal(t, 1536, cfg.VectorDimension)
	assert.Equal(t, 3001, cfg.HealthPort)
	assert.Equal(t, 14, cfg.EmbedJobRetentionDays)
}

func TestLoadMissingRequired(t *testing.T) {
	clearEnv(t, "STORE_URI", "STORE_USERNAME", "STORE_PASSWORD", "GRAPH_DB_NAME")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRetentionOutOfRange(t *testing.T) {
	setRequired(t)
	os.Setenv("EMBED_JOB_RETENTION_DAYS", "31")
	t.Cleanup(func() { os.Unsetenv("EMBED_JOB_RETENTION_DAYS") })

	_, err := Load()
	assert.Error(t, err)

	os.Setenv("EMBED_JOB_RETENTION_DAYS", "6")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadInvalidSimilarity(t *testing.T) {
	setRequired(t)
	os.Setenv("SIMILARITY", "manhattan")
	t.Cleanup(func() { os.Unsetenv("SIMILARITY") })

	_, err := Load()
	assert.Error(t, err)
}
