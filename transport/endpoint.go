package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// EndpointKey identifies a logical endpoint for circuit-breaking purposes:
// the URL host plus its first two non-empty path segments.
type EndpointKey struct {
	Host       string
	PathPrefix string
}

// String renders the key for logs and metric labels.
func (k EndpointKey) String() string {
	if k.PathPrefix == "" {
		return k.Host
	}
	return k.Host + k.PathPrefix
}

// EndpointKeyFromURL derives the endpoint key for rawURL.
func EndpointKeyFromURL(rawURL string) (EndpointKey, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return EndpointKey{}, fmt.Errorf("failed to parse url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return EndpointKey{}, fmt.Errorf("url %q has no host", rawURL)
	}

	var segments []string
	for _, s := range strings.Split(u.Path, "/") {
		if s == "" {
			continue
		}
		segments = append(segments, s)
		if len(segments) == 2 {
			break
		}
	}

	prefix := ""
	if len(segments) > 0 {
		prefix = "/" + strings.Join(segments, "/")
	}
	return EndpointKey{Host: strings.ToLower(u.Host), PathPrefix: prefix}, nil
}
