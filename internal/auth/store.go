// Package auth stores per-site credentials (forum logins, API tokens) in
// an encrypted file. Values are sealed with AES-GCM; the key lives in the
// OS keyring.
package auth

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Credential holds the secrets for one site. Password and Token are
// SENSITIVE: never log them.
type Credential struct {
	Site     string
	Username string
	Password string
	Token    string
}

// Store is an encrypted on-disk credential store keyed by site.
type Store struct {
	mu       sync.Mutex
	filePath string
	key      []byte
	creds    map[string]*Credential // values encrypted at rest and in memory
}

// Open loads (or creates) the credential store at filePath. The
// encryption key is fetched from the OS keyring, generated on first use.
func Open(filePath string) (*Store, error) {
	key, err := loadKey()
	if err != nil {
		return nil, fmt.Errorf("auth: load key: %w", err)
	}
	return OpenWithKey(filePath, key)
}

// OpenWithKey is Open with an explicit key, for tests and headless hosts
// without a keyring service.
func OpenWithKey(filePath string, key []byte) (*Store, error) {
	s := &Store{
		filePath: filePath,
		key:      key,
		creds:    make(map[string]*Credential),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("auth: read %s: %w", s.filePath, err)
	}
	if len(data) == 0 {
		return nil
	}
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s.creds); err != nil {
		return fmt.Errorf("auth: decode %s: %w", s.filePath, err)
	}
	return nil
}

func (s *Store) saveLocked() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.creds); err != nil {
		return fmt.Errorf("auth: encode: %w", err)
	}
	if err := os.WriteFile(s.filePath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("auth: write %s: %w", s.filePath, err)
	}
	return nil
}

// Set encrypts and stores the credential for cred.Site.
func (s *Store) Set(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := cred
	for _, f := range []*string{&enc.Password, &enc.Token} {
		if *f == "" {
			continue
		}
		sealed, err := encryptValue(*f, s.key)
		if err != nil {
			return err
		}
		*f = string(sealed)
	}
	s.creds[cred.Site] = &enc
	return s.saveLocked()
}

// Get returns the decrypted credential for site, or (nil, nil) when none
// is stored.
func (s *Store) Get(site string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc, ok := s.creds[site]
	if !ok {
		return nil, nil
	}
	out := *enc
	for _, f := range []*string{&out.Password, &out.Token} {
		if *f == "" {
			continue
		}
		plain, err := decryptValue([]byte(*f), s.key)
		if err != nil {
			return nil, fmt.Errorf("auth: decrypt %s: %w", site, err)
		}
		*f = string(plain)
	}
	return &out, nil
}

// Delete removes the credential for site.
func (s *Store) Delete(site string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[site]; !ok {
		return fmt.Errorf("auth: no credential for %s", site)
	}
	delete(s.creds, site)
	return s.saveLocked()
}

// Sites lists the sites with stored credentials, sorted.
func (s *Store) Sites() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.creds))
	for site := range s.creds {
		out = append(out, site)
	}
	sort.Strings(out)
	return out
}
