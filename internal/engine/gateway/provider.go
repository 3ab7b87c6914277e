package gateway

import "errors"

var ErrUnsupportedProvider = errors.New("unsupported provider")

type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderLinear Provider = "linear"
)

func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderGitHub:
		return ProviderGitHub, nil
	case ProviderLinear:
		return ProviderLinear, nil
	}
	return "", ErrUnsupportedProvider
}

func (p Provider) String() string { return string(p) }
