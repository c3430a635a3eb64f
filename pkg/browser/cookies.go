package browser

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/playwright-community/playwright-go"
)

// SaveCookies serializes the session's cookies to path as JSON. Portal
// cookies expire daily, so this is written after every successful login.
func (s *Session) SaveCookies(path string) error {
	cookies, err := s.context.Cookies()
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	return nil
}

// RestoreCookies loads cookies previously written by SaveCookies into the
// session. A missing file is not an error; the file is created after the
// next interactive login.
func (s *Session) RestoreCookies(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cookie file: %w", err)
	}

	var cookies []playwright.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return fmt.Errorf("failed to decode cookie file: %w", err)
	}

	optional := make([]playwright.OptionalCookie, 0, len(cookies))
	for i := range cookies {
		c := cookies[i]
		optional = append(optional, playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   &c.Domain,
			Path:     &c.Path,
			Expires:  &c.Expires,
			HttpOnly: &c.HttpOnly,
			Secure:   &c.Secure,
			SameSite: c.SameSite,
		})
	}

	if err := s.context.AddCookies(optional); err != nil {
		return fmt.Errorf("failed to restore cookies: %w", err)
	}
	return nil
}
