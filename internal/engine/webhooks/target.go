package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"

	"draftr/internal/platform/models"
)

// Output config documents name an outgoing delivery target. The signing
// secret is kept only as ciphertext under sealedSecretField.
const (
	urlField          = "webhook_url"
	secretField       = "webhook_secret"
	sealedSecretField = "encrypted_webhook_secret"
	secretSetField    = "webhook_secret_set"
)

var errNoSealer = errors.New("webhooks: no secret sealer configured")

// Sealer encrypts target secrets at rest.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(envelope string) (string, error)
}

// Target is a decoded output config.
type Target struct {
	URL          string
	Secret       string
	Instructions string
}

// Override returns t with the fields o sets. A URL always travels with its
// own secret.
func (t Target) Override(o Target) Target {
	if o.URL != "" {
		t.URL, t.Secret = o.URL, o.Secret
	}
	if o.Instructions != "" {
		t.Instructions = o.Instructions
	}
	return t
}

// SealConfig replaces a plaintext webhook_secret in doc with its ciphertext.
// When doc carries no secret and targets the same URL as previous, the
// sealed secret of previous is kept.
func SealConfig(doc, previous models.JSONText, s Sealer) (models.JSONText, error) {
	if len(doc) == 0 {
		return doc, nil
	}
	fields, err := configFields(doc)
	if err != nil {
		return nil, err
	}
	delete(fields, sealedSecretField)
	delete(fields, secretSetField)

	if raw, ok := fields[secretField]; ok {
		delete(fields, secretField)
		var secret string
		if err := json.Unmarshal(raw, &secret); err != nil {
			return nil, fmt.Errorf("decode webhook_secret: %w", err)
		}
		if secret != "" {
			if s == nil {
				return nil, errNoSealer
			}
			sealed, err := s.Encrypt(secret)
			if err != nil {
				return nil, fmt.Errorf("encrypt webhook_secret: %w", err)
			}
			fields[sealedSecretField] = json.RawMessage(models.MustJSON(sealed))
		}
	} else if prev, err := configFields(previous); err == nil && prev[sealedSecretField] != nil && stringField(prev, urlField) == stringField(fields, urlField) {
		fields[sealedSecretField] = prev[sealedSecretField]
	}

	return json.Marshal(fields)
}

// RedactConfig hides secrets, reporting only whether one is set.
func RedactConfig(doc models.JSONText) models.JSONText {
	fields, err := configFields(doc)
	if err != nil {
		return doc
	}
	_, sealed := fields[sealedSecretField]
	_, plain := fields[secretField]
	if !sealed && !plain {
		return doc
	}
	delete(fields, sealedSecretField)
	delete(fields, secretField)
	fields[secretSetField] = json.RawMessage(`true`)

	out, err := json.Marshal(fields)
	if err != nil {
		return doc
	}
	return out
}

// OpenConfig decodes doc, decrypting a sealed secret.
func OpenConfig(doc models.JSONText, s Sealer) (Target, error) {
	if len(doc) == 0 {
		return Target{}, nil
	}

	var cfg struct {
		WebhookURL             string `json:"webhook_url"`
		WebhookSecret          string `json:"webhook_secret"`
		EncryptedWebhookSecret string `json:"encrypted_webhook_secret"`
		Instructions           string `json:"instructions"`
	}
	if err := doc.Decode(&cfg); err != nil {
		return Target{}, fmt.Errorf("decode output config: %w", err)
	}

	t := Target{URL: cfg.WebhookURL, Secret: cfg.WebhookSecret, Instructions: cfg.Instructions}
	if cfg.EncryptedWebhookSecret != "" {
		if s == nil {
			return Target{}, errNoSealer
		}
		secret, err := s.Decrypt(cfg.EncryptedWebhookSecret)
		if err != nil {
			return Target{}, fmt.Errorf("decrypt webhook_secret: %w", err)
		}
		t.Secret = secret
	}
	return t, nil
}

func configFields(doc models.JSONText) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(doc) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("output config must be a JSON object: %w", err)
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	return fields, nil
}

func stringField(fields map[string]json.RawMessage, name string) string {
	var v string
	if raw, ok := fields[name]; ok {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}
