package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SPECGEST_API_KEY", "k")
	t.Setenv("WORKER_COUNT", "-1")
	t.Setenv("INDEX_BACKEND", "")

	cfg := Load()

	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, 50, cfg.MinChunkChars)
	assert.Equal(t, "qdrant", cfg.IndexBackend)
	assert.Equal(t, "memory", cfg.JobStore)
	assert.Equal(t, 2*time.Minute, cfg.EnrichTimeout)
	assert.Equal(t, "data/uploads", cfg.UploadDir())
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CORS_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("INDEX_BACKEND", "Postgres")
	t.Setenv("EMBEDDING_DIM", "768")
	t.Setenv("ENRICH_TIMEOUT", "30s")

	cfg := Load()

	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, "postgres", cfg.IndexBackend)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, 30*time.Second, cfg.EnrichTimeout)
}

func TestValidate(t *testing.T) {
	base := Config{APIKey: "k", IndexBackend: "memory", JobStore: "memory"}
	base.Embedding.Dimension = 8
	require.NoError(t, base.Validate())

	noKey := base
	noKey.APIKey = ""
	assert.Error(t, noKey.Validate())

	pg := base
	pg.IndexBackend = "postgres"
	assert.ErrorContains(t, pg.Validate(), "POSTGRES_DSN")

	badStore := base
	badStore.JobStore = "etcd"
	assert.Error(t, badStore.Validate())
}
