// Package config loads and validates the per-config TOML settings file
// and owns the application storage layout.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// TLS verification modes.
const (
	TLSTruststore        = "truststore"
	TLSCertifi           = "certifi"
	TLSTruststoreCertifi = "truststore+certifi"
	TLSNone              = "none"
)

// Default limits and timeouts.
const (
	DefDownloadAttempts   = 5
	DefMaxSimultaneous    = 15
	DefMaxPerDomain       = 3
	DefRateLimit          = 10
	DefRatePeriod         = time.Second
	DefScrapeTimeout      = 315 * time.Second
	DefConnectTimeout     = 15 * time.Second
	DefFileHostCacheDays  = 7
	DefForumCacheDays     = 28
	DefMaxFileNameLen     = 95
	DefMaxFolderNameLen   = 60
	DefMaxChildren        = 0 // unlimited
	MinRequiredFreeSpace  = 512 << 20
	DefRequiredFreeSpace  = 5 << 30
	DefUserAgent          = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
	DefSlowDownloadSpeed  = 0 // bytes/sec, 0 disables slow-speed cancellation
	DefSlowSpeedSustained = 30 * time.Second
)

// Settings is the decoded settings.toml for one named config.
type Settings struct {
	DownloadFolder string `toml:"download_folder"`
	UserAgent      string `toml:"user_agent"`
	Proxy          string `toml:"proxy"`
	TLSMode        string `toml:"tls_mode"`

	DownloadAttempts                  int    `toml:"download_attempts"`
	MaxSimultaneousDownloads          int    `toml:"max_simultaneous_downloads"`
	MaxSimultaneousDownloadsPerDomain int    `toml:"max_simultaneous_downloads_per_domain"`
	DownloadSpeedLimit                string `toml:"download_speed_limit"`
	RequiredFreeSpace                 int64  `toml:"required_free_space"`
	SlowDownloadSpeed                 string `toml:"slow_download_speed"`

	RateLimit  int      `toml:"rate_limit"`
	RatePeriod duration `toml:"rate_period"`

	ScrapeTimeout  duration `toml:"scrape_timeout"`
	ConnectTimeout duration `toml:"connect_timeout"`

	FileHostCacheExpireAfter int      `toml:"file_host_cache_expire_after"` // days
	ForumCacheExpireAfter    int      `toml:"forum_cache_expire_after"`     // days
	FileHosts                []string `toml:"file_hosts"`
	Forums                   []string `toml:"forums"`

	FlareSolverr string `toml:"flaresolverr"`

	SkipHosts    []string `toml:"skip_hosts"`
	OnlyHosts    []string `toml:"only_hosts"`
	BlockedHosts []string `toml:"blocked_hosts"`
	SkipExts     []string `toml:"skip_extensions"`
	SkipPattern  string   `toml:"skip_pattern"`

	SkipRefererSeenBefore bool `toml:"skip_referer_seen_before"`

	MaxFileNameLength   int `toml:"max_file_name_length"`
	MaxFolderNameLength int `toml:"max_folder_name_length"`

	MaxAlbumChildren   int `toml:"max_album_children"`
	MaxProfileChildren int `toml:"max_profile_children"`
	MaxForumChildren   int `toml:"max_forum_children"`
	MaxPostChildren    int `toml:"max_post_children"`

	GenericCrawler    bool   `toml:"generic_crawler"`
	JDownloaderFolder string `toml:"jdownloader_folder"`

	// PlaceholderHashes maps a site to SHA-256 hex digests of known-bad
	// placeholder files, used by maintenance retries.
	PlaceholderHashes map[string][]string `toml:"placeholder_hashes"`
}

// duration wraps time.Duration for TOML decoding of strings like "15s".
type duration time.Duration

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// D returns the wrapped time.Duration.
func (d duration) D() time.Duration { return time.Duration(d) }

// Default returns Settings populated with every default value.
func Default() *Settings {
	return &Settings{
		UserAgent:                         DefUserAgent,
		TLSMode:                           TLSTruststoreCertifi,
		DownloadAttempts:                  DefDownloadAttempts,
		MaxSimultaneousDownloads:          DefMaxSimultaneous,
		MaxSimultaneousDownloadsPerDomain: DefMaxPerDomain,
		RequiredFreeSpace:                 DefRequiredFreeSpace,
		RateLimit:                         DefRateLimit,
		RatePeriod:                        duration(DefRatePeriod),
		ScrapeTimeout:                     duration(DefScrapeTimeout),
		ConnectTimeout:                    duration(DefConnectTimeout),
		FileHostCacheExpireAfter:          DefFileHostCacheDays,
		ForumCacheExpireAfter:             DefForumCacheDays,
		MaxFileNameLength:                 DefMaxFileNameLen,
		MaxFolderNameLength:               DefMaxFolderNameLen,
		MaxAlbumChildren:                  DefMaxChildren,
		MaxProfileChildren:                DefMaxChildren,
		MaxForumChildren:                  DefMaxChildren,
		MaxPostChildren:                   DefMaxChildren,
	}
}

// Load decodes the TOML file at path over the defaults and validates the
// result. A missing file yields the defaults unchanged.
func Load(path string) (*Settings, error) {
	s := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, s); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks settings coherence. Any error here is fatal at startup.
func (s *Settings) Validate() error {
	switch s.TLSMode {
	case TLSTruststore, TLSCertifi, TLSTruststoreCertifi, TLSNone:
	default:
		return fmt.Errorf("config: invalid tls_mode %q", s.TLSMode)
	}
	if s.DownloadAttempts < 1 {
		return fmt.Errorf("config: download_attempts must be >= 1, got %d", s.DownloadAttempts)
	}
	if s.MaxSimultaneousDownloads < 1 {
		return fmt.Errorf("config: max_simultaneous_downloads must be >= 1, got %d", s.MaxSimultaneousDownloads)
	}
	if s.MaxSimultaneousDownloadsPerDomain < 1 {
		return fmt.Errorf("config: max_simultaneous_downloads_per_domain must be >= 1, got %d",
			s.MaxSimultaneousDownloadsPerDomain)
	}
	if s.MaxSimultaneousDownloadsPerDomain > s.MaxSimultaneousDownloads {
		return fmt.Errorf("config: per-domain download cap (%d) exceeds global cap (%d)",
			s.MaxSimultaneousDownloadsPerDomain, s.MaxSimultaneousDownloads)
	}
	if s.RateLimit < 1 {
		return fmt.Errorf("config: rate_limit must be >= 1, got %d", s.RateLimit)
	}
	if s.RatePeriod.D() <= 0 {
		return fmt.Errorf("config: rate_period must be positive")
	}
	if s.FileHostCacheExpireAfter < 0 || s.ForumCacheExpireAfter < 0 {
		return fmt.Errorf("config: cache expiry days must not be negative")
	}
	if s.MaxFileNameLength < 1 || s.MaxFolderNameLength < 1 {
		return fmt.Errorf("config: name length limits must be >= 1")
	}
	if len(s.OnlyHosts) > 0 && len(s.SkipHosts) > 0 {
		return fmt.Errorf("config: only_hosts and skip_hosts are mutually exclusive")
	}
	return nil
}

// EffectiveFreeSpace returns the free-space requirement clamped to the
// 512 MiB floor.
func (s *Settings) EffectiveFreeSpace() int64 {
	if s.RequiredFreeSpace < MinRequiredFreeSpace {
		return MinRequiredFreeSpace
	}
	return s.RequiredFreeSpace
}
