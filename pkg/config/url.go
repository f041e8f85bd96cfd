package config

import (
	"encoding"
	"fmt"
	"net/url"
)

// URL wraps url.URL to allow readable marshal to YAML
type URL struct {
	*url.URL
}

var (
	_ encoding.TextMarshaler   = URL{}
	_ encoding.TextUnmarshaler = &URL{}
)

func ParseURL(raw string) (URL, error) {
	u := URL{}
	err := u.UnmarshalText([]byte(raw))
	return u, err
}

func (u URL) IsValid() bool {
	return u.URL != nil
}

func (u URL) String() string {
	if u.URL == nil {
		return ""
	}

	return u.URL.String()
}

// MarshalText implements the TextMarshaler interface
func (u URL) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements the TextUnmarshaler interface
func (u *URL) UnmarshalText(text []byte) error {
	parsed, err := url.Parse(string(text))
	if err != nil {
		return err
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported endpoint scheme %q", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("endpoint %q has no host", string(text))
	}

	u.URL = parsed

	return nil
}
