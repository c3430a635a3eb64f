package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	settings, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultDownloadDir, settings.Downloads.Dir)
	assert.Equal(t, "history", settings.Portal.CatalogPolicy)
	assert.Equal(t, "cookies.json", settings.Portal.CookieFile)
	assert.NotEmpty(t, settings.Products)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portalsync.yaml")
	content := `
downloads:
  dir: /srv/updates
  drain_interval: 3s
portal:
  login_wait: 90s
  catalog_policy: latest
logging:
  verbosity: debug
products:
  - category: Dynamic
    section: Apps
    notes: true
    all: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/updates", settings.Downloads.Dir)
	assert.Equal(t, 90*time.Second, settings.LoginWaitDuration())
	assert.Equal(t, 3*time.Second, settings.DrainIntervalDuration())
	assert.Equal(t, "latest", settings.Portal.CatalogPolicy)

	require.Len(t, settings.Products, 1)
	assert.Equal(t, "Apps", settings.Products[0].Section)
	assert.True(t, settings.Products[0].Notes)
	assert.True(t, settings.Products[0].All)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portalsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("downloads: ["), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDurations_FallBackToDefaults(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", DefaultLoginWait},
		{"non-numeric", "soon", DefaultLoginWait},
		{"negative", "-5s", DefaultLoginWait},
		{"valid", "2m", 2 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := DefaultSettings()
			settings.Portal.LoginWait = tt.value
			assert.Equal(t, tt.want, settings.LoginWaitDuration())
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Settings) {},
		},
		{
			name:    "download dir required",
			mutate:  func(s *Settings) { s.Downloads.Dir = "" },
			wantErr: "download directory",
		},
		{
			name:    "unknown catalog policy",
			mutate:  func(s *Settings) { s.Portal.CatalogPolicy = "newest" },
			wantErr: "catalog_policy",
		},
		{
			name:    "product without section",
			mutate:  func(s *Settings) { s.Products = []Product{{Category: "Dynamic"}} },
			wantErr: "category and section",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := DefaultSettings()
			tt.mutate(settings)

			err := settings.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
