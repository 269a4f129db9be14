package config

import (
	"errors"
	"os"
	"path/filepath"
)

// StorageDirEnv is the environment variable name used to override the
// default application storage directory.
const StorageDirEnv = "CYBERDROP_STORAGE_DIR"

// Storage describes the on-disk layout of persisted state:
//
//	Cache/request_cache.db   request cache
//	Cache/cyberdrop.db       history store
//	Cookies/<site>.txt       cookie seeds (Netscape format)
//	Configs/<name>/          per-config settings
//	Logs/                    run logs
type Storage struct {
	Root string
}

// OpenStorage resolves the storage root (env override, then the user config
// dir) and creates the expected subdirectories.
func OpenStorage() (*Storage, error) {
	dir := os.Getenv(StorageDirEnv)
	if dir == "" {
		cdr, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(cdr, "cyberdrop-dl")
	}
	return OpenStorageAt(dir)
}

// OpenStorageAt creates the storage layout rooted at dir.
func OpenStorageAt(dir string) (*Storage, error) {
	if dir == "" {
		return nil, errors.New("storage dir is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	s := &Storage{Root: abs}
	for _, sub := range []string{s.CacheDir(), s.CookiesDir(), s.ConfigsDir(), s.LogsDir()} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CacheDir returns the directory holding the request cache and history store.
func (s *Storage) CacheDir() string { return filepath.Join(s.Root, "Cache") }

// CookiesDir returns the directory holding Netscape cookie seed files.
func (s *Storage) CookiesDir() string { return filepath.Join(s.Root, "Cookies") }

// ConfigsDir returns the directory holding named configs.
func (s *Storage) ConfigsDir() string { return filepath.Join(s.Root, "Configs") }

// LogsDir returns the directory holding run logs.
func (s *Storage) LogsDir() string { return filepath.Join(s.Root, "Logs") }

// RequestCachePath returns the path of the request cache database.
func (s *Storage) RequestCachePath() string {
	return filepath.Join(s.CacheDir(), "request_cache.db")
}

// HistoryPath returns the path of the history store database.
func (s *Storage) HistoryPath() string {
	return filepath.Join(s.CacheDir(), "cyberdrop.db")
}

// CredentialsPath returns the path of the encrypted credential store.
func (s *Storage) CredentialsPath() string {
	return filepath.Join(s.Root, "credentials.db")
}

// SettingsPath returns the settings file path for the named config.
func (s *Storage) SettingsPath(name string) string {
	return filepath.Join(s.ConfigsDir(), name, "settings.toml")
}

// ConfigNames lists the named configs present under Configs/.
func (s *Storage) ConfigNames() ([]string, error) {
	ents, err := os.ReadDir(s.ConfigsDir())
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
