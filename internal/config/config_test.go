package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_ENV_PATH", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("JWT_SECRET", "jwt")
	t.Setenv("ADMIN_PASSWORD_HASH", "$2a$10$hash")
	t.Setenv("KIE_API_KEY", "kie")
	t.Setenv("FACE_DETECT_URL", "http://faces.local/detect")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("STORAGE_DRIVER", "filesystem")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPListenAddr)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 5*time.Minute, cfg.GenerationTimeout)
	assert.Equal(t, 2*time.Second, cfg.KIEPollInterval)
	assert.Equal(t, "https://api.kie.ai", cfg.KIEBaseURL)
	assert.False(t, cfg.UnlimitedCredits)
	assert.Equal(t, 3, cfg.SignupCredits)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("UNLIMITED_CREDITS", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("GENERATION_TIMEOUT", "90s")
	t.Setenv("KIE_BASE_URL", "kie.ai")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.UnlimitedCredits)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 90*time.Second, cfg.GenerationTimeout)
	assert.Equal(t, "https://api.kie.ai", cfg.KIEBaseURL)
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORE_DRIVER", "mysql")
	t.Setenv("MYSQL_DSN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "MYSQL_DSN")
}

func TestLoad_FaceDetector(t *testing.T) {
	t.Run("required unless skipped", func(t *testing.T) {
		setRequired(t)
		t.Setenv("FACE_DETECT_URL", "")

		_, err := Load()
		assert.ErrorContains(t, err, "FACE_DETECT_URL")
	})

	t.Run("explicit skip", func(t *testing.T) {
		setRequired(t)
		t.Setenv("FACE_DETECT_URL", "")
		t.Setenv("SKIP_FACE_CHECK", "true")

		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.SkipFaceCheck)
	})
}

func TestLoad_UnknownDriver(t *testing.T) {
	setRequired(t)
	t.Setenv("STORE_DRIVER", "postgres")

	_, err := Load()
	assert.ErrorContains(t, err, "STORE_DRIVER")
}

func TestLoad_EnvFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("MAX_BATCH_IMAGES=7\n"), 0o600))
	t.Setenv("CONFIG_ENV_PATH", path)
	t.Cleanup(func() { os.Unsetenv("MAX_BATCH_IMAGES") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxBatchImages)
}
