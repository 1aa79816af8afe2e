// Package testutil provides a fake SMART-on-FHIR server for package tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

// FHIRBasePath is the path under which the fake serves its FHIR API.
const FHIRBasePath = "/fhir/v0/r4"

// DefaultAuthorizeURL is the identity provider login page the fake
// advertises. Nothing listens there; browser tests script it.
const DefaultAuthorizeURL = "https://idp.example.test/oauth2/authorization"

// TokenRequest is one recorded call to the token endpoint.
type TokenRequest struct {
	Form          url.Values
	BasicUser     string
	BasicPassword string
	HasBasicAuth  bool
}

// TokenResponder builds the status and JSON body returned for a code.
type TokenResponder func(code string) (int, map[string]any)

// FakeSMARTServer serves a capability document, a token endpoint and a
// Patient read endpoint.
type FakeSMARTServer struct {
	*httptest.Server

	mu             sync.Mutex
	metadata       []byte
	metadataStatus int
	metadataCalls  int
	responder      TokenResponder
	tokenRequests  []TokenRequest
	resourceCalls  []string
	issued         map[string]string // access token -> patient
}

// NewFakeSMARTServer starts a server that is closed when the test ends.
func NewFakeSMARTServer(t testing.TB) *FakeSMARTServer {
	t.Helper()

	s := &FakeSMARTServer{
		metadataStatus: http.StatusOK,
		issued:         make(map[string]string),
	}
	s.responder = s.defaultTokenResponse

	r := chi.NewRouter()
	r.Get(FHIRBasePath+"/metadata", s.handleMetadata)
	r.Post("/oauth2/token", s.handleToken)
	r.Get("/Patient/{icn}", s.handlePatient)

	s.Server = httptest.NewServer(r)
	s.metadata = CapabilityStatement(DefaultAuthorizeURL, s.TokenURL())
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the FHIR base URL to configure the robot with.
func (s *FakeSMARTServer) BaseURL() string {
	return s.URL + FHIRBasePath
}

// TokenURL is the advertised token endpoint.
func (s *FakeSMARTServer) TokenURL() string {
	return s.URL + "/oauth2/token"
}

// SetMetadata replaces the capability document and its status code.
func (s *FakeSMARTServer) SetMetadata(status int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadataStatus = status
	s.metadata = body
}

// SetTokenResponder replaces the token endpoint behaviour.
func (s *FakeSMARTServer) SetTokenResponder(r TokenResponder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responder = r
}

// MetadataCalls returns how many times the capability document was fetched.
func (s *FakeSMARTServer) MetadataCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadataCalls
}

// TokenRequests returns the recorded token requests.
func (s *FakeSMARTServer) TokenRequests() []TokenRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TokenRequest(nil), s.tokenRequests...)
}

// ResourceCalls returns the paths of authorized Patient reads.
func (s *FakeSMARTServer) ResourceCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.resourceCalls...)
}

func (s *FakeSMARTServer) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.metadataCalls++
	status, body := s.metadataStatus, s.metadata
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *FakeSMARTServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "error_description": err.Error()})
		return
	}

	req := TokenRequest{Form: r.PostForm}
	req.BasicUser, req.BasicPassword, req.HasBasicAuth = r.BasicAuth()

	s.mu.Lock()
	s.tokenRequests = append(s.tokenRequests, req)
	responder := s.responder
	s.mu.Unlock()

	if r.PostForm.Get("grant_type") != "authorization_code" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
		return
	}

	status, body := responder(r.PostForm.Get("code"))
	if token, ok := body["access_token"].(string); ok && status == http.StatusOK {
		patient, _ := body["patient"].(string)
		s.mu.Lock()
		s.issued[token] = patient
		s.mu.Unlock()
	}
	writeJSON(w, status, body)
}

// defaultTokenResponse issues a token for patient icn-<code>. Codes starting
// with "expired" get an invalid_grant error.
func (s *FakeSMARTServer) defaultTokenResponse(code string) (int, map[string]any) {
	if strings.HasPrefix(code, "expired") {
		return http.StatusBadRequest, map[string]any{
			"error":             "invalid_grant",
			"error_description": "authorization code has expired",
		}
	}
	return http.StatusOK, map[string]any{
		"access_token": "at-" + code,
		"token_type":   "Bearer",
		"expires_at":   time.Now().Add(time.Hour).Unix(),
		"scope":        "launch/patient patient/Patient.read",
		"patient":      "icn-" + code,
		"state":        "labbot",
		"id_token":     idToken(code),
	}
}

// idToken signs an OpenID id_token for the user behind code with a key
// nobody verifies.
func idToken(code string) string {
	now := time.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      code,
		"fhirUser": "Patient/icn-" + code,
		"iat":      now.Unix(),
		"exp":      now.Add(time.Hour).Unix(),
	}).SignedString([]byte("labbot-fake-smart"))
	if err != nil {
		panic(err)
	}
	return signed
}

func (s *FakeSMARTServer) handlePatient(w http.ResponseWriter, r *http.Request) {
	icn := chi.URLParam(r, "icn")
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing bearer token"})
		return
	}

	s.mu.Lock()
	patient, issued := s.issued[token]
	if issued {
		s.resourceCalls = append(s.resourceCalls, r.URL.Path)
	}
	s.mu.Unlock()

	switch {
	case !issued:
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid token"})
	case patient != icn:
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "token not valid for patient " + icn})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"resourceType": "Patient", "id": icn})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// CapabilityStatement renders a capability document advertising the given
// endpoints. Decoy entries precede the real ones so callers cannot rely on
// position.
func CapabilityStatement(authorizeURL, tokenURL string) []byte {
	doc := map[string]any{
		"resourceType": "CapabilityStatement",
		"fhirVersion":  "4.0.0",
		"rest": []any{
			map[string]any{"mode": "client"},
			map[string]any{
				"mode": "server",
				"security": map[string]any{
					"cors": true,
					"extension": []any{
						map[string]any{
							"url":         "http://example.org/StructureDefinition/other",
							"valueString": "ignored",
						},
						map[string]any{
							"url": "http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris",
							"extension": []any{
								map[string]any{"url": "manage", "valueUri": "https://idp.example.test/manage"},
								map[string]any{"url": "token", "valueUri": tokenURL},
								map[string]any{"url": "authorize", "valueUri": authorizeURL},
							},
						},
					},
				},
			},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("marshal capability statement: %v", err))
	}
	return data
}
