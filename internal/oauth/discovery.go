package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OAuthURIsExtension is the extension url under which SMART servers publish
// their authorize and token endpoints.
const OAuthURIsExtension = "http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris"

// maxMetadataSize bounds how much of a capability document is read.
const maxMetadataSize = 10 << 20

// EndpointSet holds the endpoints advertised by a FHIR server's capability
// document. Both fields are non-empty whenever discovery succeeds.
type EndpointSet struct {
	AuthorizeURL string `json:"authorize" yaml:"authorize"`
	TokenURL     string `json:"token" yaml:"token"`
}

// Discoverer fetches and parses capability documents.
type Discoverer struct {
	client *http.Client
	logger *zap.Logger
}

// NewDiscoverer returns a Discoverer using client, or a 30s-timeout client
// when nil.
func NewDiscoverer(client *http.Client, logger *zap.Logger) *Discoverer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.L().Named("oauth.discovery")
	}
	return &Discoverer{client: client, logger: logger}
}

// Discover issues one unauthenticated GET {baseURL}/metadata and extracts
// the authorize and token endpoints. It never retries.
func (d *Discoverer) Discover(ctx context.Context, baseURL string) (EndpointSet, error) {
	metadataURL := strings.TrimRight(baseURL, "/") + "/metadata"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return EndpointSet{}, &ConformanceError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/fhir+json, application/json")

	LogOAuthRequest(d.logger, req.Method, metadataURL, req.Header)
	start := time.Now()

	resp, err := d.client.Do(req)
	if err != nil {
		return EndpointSet{}, &ConformanceError{Err: fmt.Errorf("failed to fetch %s: %w", metadataURL, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		return EndpointSet{}, &ConformanceError{Err: fmt.Errorf("failed to read %s: %w", metadataURL, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		LogOAuthResponseError(d.logger, resp.StatusCode, string(body), time.Since(start))
		return EndpointSet{}, &ConformanceError{Err: fmt.Errorf("metadata endpoint %s returned status %d", metadataURL, resp.StatusCode)}
	}
	LogOAuthResponse(d.logger, resp.StatusCode, resp.Header, time.Since(start))

	endpoints, err := ParseConformance(body)
	if err != nil {
		return EndpointSet{}, err
	}

	d.logger.Info("Discovered SMART endpoints",
		zap.String("base_url", baseURL),
		zap.String("authorize", endpoints.AuthorizeURL),
		zap.String("token", endpoints.TokenURL))
	return endpoints, nil
}

// ParseConformance walks a capability document:
// rest -> mode=server -> security -> extension -> url=oauth-uris ->
// extension -> url=authorize|token -> valueUri.
// Sibling order does not matter. Each missing step yields a ConformanceError
// naming that step.
func ParseConformance(data []byte) (EndpointSet, error) {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return EndpointSet{}, &ConformanceError{Err: fmt.Errorf("invalid capability document: %w", err)}
	}

	rest, ok := child(root, "rest")
	if !ok {
		return EndpointSet{}, &ConformanceError{Path: "Unable to find JSON node with 'rest' path"}
	}
	server, ok := parentWith(rest, "mode", "server")
	if !ok {
		return EndpointSet{}, &ConformanceError{Path: "Unable to find JSON node with 'mode:server' key:value pair"}
	}
	security, ok := child(server, "security")
	if !ok {
		return EndpointSet{}, &ConformanceError{Path: "Unable to find JSON node with 'security' path"}
	}
	extensions, ok := child(security, "extension")
	if !ok {
		return EndpointSet{}, &ConformanceError{Path: "Unable to find JSON node with 'extension' path for securityNode"}
	}
	oauthURIs, ok := parentWith(extensions, "url", OAuthURIsExtension)
	if !ok {
		return EndpointSet{}, &ConformanceError{Path: fmt.Sprintf("Unable to find JSON node with 'url:%s' key value pair", OAuthURIsExtension)}
	}
	uris, ok := child(oauthURIs, "extension")
	if !ok {
		return EndpointSet{}, &ConformanceError{Path: "Unable to find JSON node with 'extension' path for oauthUriNode"}
	}

	authorize, err := valueURI(uris, "authorize")
	if err != nil {
		return EndpointSet{}, err
	}
	token, err := valueURI(uris, "token")
	if err != nil {
		return EndpointSet{}, err
	}

	return EndpointSet{AuthorizeURL: authorize, TokenURL: token}, nil
}

func valueURI(uris any, name string) (string, error) {
	node, ok := parentWith(uris, "url", name)
	if !ok {
		return "", &ConformanceError{Path: fmt.Sprintf("Unable to find JSON node with 'url:%s' key value pair", name)}
	}
	value, _ := node["valueUri"].(string)
	if strings.TrimSpace(value) == "" {
		return "", &ConformanceError{Path: fmt.Sprintf("Unable to find JSON node with 'valueUri' path for %s", name)}
	}
	return value, nil
}

// child returns node[key] when node is an object and the value is not null.
func child(node any, key string) (any, bool) {
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[key]
	return v, ok && v != nil
}

// parentWith returns the first element of node (array elements, or object
// values in key order) that is an object whose key equals value.
func parentWith(node any, key, value string) (map[string]any, bool) {
	var candidates []any
	switch n := node.(type) {
	case []any:
		candidates = n
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			candidates = append(candidates, n[k])
		}
	default:
		return nil, false
	}

	for _, c := range candidates {
		obj, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := obj[key].(string); ok && s == value {
			return obj, true
		}
	}
	return nil, false
}

// EndpointDiscoverer is implemented by Discoverer.
type EndpointDiscoverer interface {
	Discover(ctx context.Context, baseURL string) (EndpointSet, error)
}

// DiscoveryCache runs discovery at most once per base URL. Concurrent callers
// for the same URL wait for the first; failures are not cached.
type DiscoveryCache struct {
	discoverer EndpointDiscoverer

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	mu        sync.Mutex
	done      bool
	endpoints EndpointSet
}

// NewDiscoveryCache wraps discoverer with a per-base-URL cache.
func NewDiscoveryCache(discoverer EndpointDiscoverer) *DiscoveryCache {
	return &DiscoveryCache{
		discoverer: discoverer,
		entries:    make(map[string]*cacheEntry),
	}
}

// Endpoints returns the cached endpoints for baseURL, discovering them on
// first use.
func (c *DiscoveryCache) Endpoints(ctx context.Context, baseURL string) (EndpointSet, error) {
	c.mu.Lock()
	entry, ok := c.entries[baseURL]
	if !ok {
		entry = &cacheEntry{}
		c.entries[baseURL] = entry
	}
	c.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.done {
		return entry.endpoints, nil
	}

	endpoints, err := c.discoverer.Discover(ctx, baseURL)
	if err != nil {
		return EndpointSet{}, err
	}
	entry.endpoints = endpoints
	entry.done = true
	return endpoints, nil
}
