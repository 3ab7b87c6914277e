package validator

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

// HTTPURL checks that raw is an absolute http:// or https:// URL with a host.
func HTTPURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("is not a valid URL")
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must start with http:// or https://")
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}

	return nil
}

// OutputConfig checks an output config document. It returns the offending
// field and the problem, or "" and nil.
func OutputConfig(doc []byte) (string, error) {
	if len(doc) == 0 {
		return "", nil
	}

	var cfg struct {
		WebhookURL    *string `json:"webhook_url"`
		WebhookSecret *string `json:"webhook_secret"`
	}
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return "config", errors.New("must be a JSON object")
	}

	if cfg.WebhookURL != nil {
		if err := HTTPURL(*cfg.WebhookURL); err != nil {
			return "config.webhook_url", err
		}
	}
	if cfg.WebhookSecret != nil && cfg.WebhookURL == nil {
		return "config.webhook_secret", errors.New("requires webhook_url")
	}

	return "", nil
}
