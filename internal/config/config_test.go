package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "settings.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.UserAgent != DefUserAgent {
		t.Errorf("user agent = %q", s.UserAgent)
	}
	if s.DownloadAttempts != DefDownloadAttempts {
		t.Errorf("download attempts = %d", s.DownloadAttempts)
	}
	if s.ScrapeTimeout.D() != DefScrapeTimeout {
		t.Errorf("scrape timeout = %v", s.ScrapeTimeout.D())
	}
	if s.TLSMode != TLSTruststoreCertifi {
		t.Errorf("tls mode = %q", s.TLSMode)
	}
}

func TestLoadDecodesOverDefaults(t *testing.T) {
	content := `
download_folder = "/data/dl"
download_attempts = 3
max_simultaneous_downloads = 8
max_simultaneous_downloads_per_domain = 2
rate_limit = 5
rate_period = "2s"
scrape_timeout = "90s"
download_speed_limit = "8MB"
file_hosts = ["files.example"]
forums = ["forum.example"]
skip_extensions = [".gif"]
skip_referer_seen_before = true
flaresolverr = "http://localhost:8191"

[placeholder_hashes]
"files.example" = ["deadbeef"]
`
	path := filepath.Join(t.TempDir(), "settings.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.DownloadFolder != "/data/dl" || s.DownloadAttempts != 3 {
		t.Fatalf("decoded = %+v", s)
	}
	if s.RatePeriod.D() != 2*time.Second || s.ScrapeTimeout.D() != 90*time.Second {
		t.Fatalf("durations = %v, %v", s.RatePeriod.D(), s.ScrapeTimeout.D())
	}
	// Untouched keys keep their defaults.
	if s.UserAgent != DefUserAgent {
		t.Errorf("user agent overridden: %q", s.UserAgent)
	}
	if !s.SkipRefererSeenBefore || s.FlareSolverr != "http://localhost:8191" {
		t.Errorf("decoded = %+v", s)
	}
	if got := s.PlaceholderHashes["files.example"]; len(got) != 1 || got[0] != "deadbeef" {
		t.Errorf("placeholder hashes = %v", s.PlaceholderHashes)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"bad tls mode", func(s *Settings) { s.TLSMode = "trust-everything" }},
		{"zero attempts", func(s *Settings) { s.DownloadAttempts = 0 }},
		{"zero simultaneous", func(s *Settings) { s.MaxSimultaneousDownloads = 0 }},
		{"per-domain above global", func(s *Settings) {
			s.MaxSimultaneousDownloads = 2
			s.MaxSimultaneousDownloadsPerDomain = 5
		}},
		{"zero rate limit", func(s *Settings) { s.RateLimit = 0 }},
		{"negative cache days", func(s *Settings) { s.ForumCacheExpireAfter = -1 }},
		{"zero name length", func(s *Settings) { s.MaxFileNameLength = 0 }},
		{"only and skip hosts", func(s *Settings) {
			s.OnlyHosts = []string{"a.example"}
			s.SkipHosts = []string{"b.example"}
		}},
	}
	for _, tt := range tests {
		s := Default()
		tt.mutate(s)
		if err := s.Validate(); err == nil {
			t.Errorf("%s: Validate accepted invalid settings", tt.name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadRejectsBadToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	os.WriteFile(path, []byte(`download_attempts = "lots"`), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted mistyped value")
	}

	os.WriteFile(path, []byte(`rate_period = "soon"`), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted unparsable duration")
	}
}

func TestEffectiveFreeSpace(t *testing.T) {
	s := Default()
	s.RequiredFreeSpace = 1
	if got := s.EffectiveFreeSpace(); got != MinRequiredFreeSpace {
		t.Fatalf("EffectiveFreeSpace = %d, want floor %d", got, MinRequiredFreeSpace)
	}
	s.RequiredFreeSpace = 10 << 30
	if got := s.EffectiveFreeSpace(); got != 10<<30 {
		t.Fatalf("EffectiveFreeSpace = %d", got)
	}
}

func TestStorageLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "appdata")
	s, err := OpenStorageAt(root)
	if err != nil {
		t.Fatalf("OpenStorageAt: %v", err)
	}
	for _, dir := range []string{s.CacheDir(), s.CookiesDir(), s.ConfigsDir(), s.LogsDir()} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			t.Errorf("missing storage dir %s: %v", dir, err)
		}
	}
	if got := s.SettingsPath("Default"); got != filepath.Join(root, "Configs", "Default", "settings.toml") {
		t.Errorf("settings path = %q", got)
	}

	// Named configs are the directories under Configs/.
	os.MkdirAll(filepath.Join(s.ConfigsDir(), "Alt"), 0o755)
	os.WriteFile(filepath.Join(s.ConfigsDir(), "stray.txt"), []byte("x"), 0o644)
	names, err := s.ConfigNames()
	if err != nil {
		t.Fatalf("ConfigNames: %v", err)
	}
	if len(names) != 1 || names[0] != "Alt" {
		t.Fatalf("ConfigNames = %v", names)
	}
}
