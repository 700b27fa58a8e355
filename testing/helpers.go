// Package testing provides test utilities for rested.
package testing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zoobzio/rested"
)

// Headers read by HeaderIdentity.
const (
	UserIDHeader    = "X-User-ID"
	UserRolesHeader = "X-User-Roles"
)

// ResponseCapture wraps httptest.ResponseRecorder with convenient access methods.
type ResponseCapture struct {
	*httptest.ResponseRecorder
}

// NewResponseCapture creates a new ResponseCapture.
func NewResponseCapture() *ResponseCapture {
	return &ResponseCapture{
		ResponseRecorder: httptest.NewRecorder(),
	}
}

// StatusCode returns the recorded status code.
func (r *ResponseCapture) StatusCode() int {
	return r.Code
}

// BodyBytes returns the response body as bytes.
func (r *ResponseCapture) BodyBytes() []byte {
	return r.Body.Bytes()
}

// BodyString returns the response body as a string.
func (r *ResponseCapture) BodyString() string {
	return r.Body.String()
}

// DecodeJSON decodes the response body into the provided value.
func (r *ResponseCapture) DecodeJSON(v any) error {
	return json.Unmarshal(r.Body.Bytes(), v)
}

// DecodeMsgpack decodes a msgpack response body, matching fields by json tag.
func (r *ResponseCapture) DecodeMsgpack(v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(r.Body.Bytes()))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// ContentType returns the Content-Type header value.
func (r *ResponseCapture) ContentType() string {
	return r.Header().Get("Content-Type")
}

// Location returns the Location header value.
func (r *ResponseCapture) Location() string {
	return r.Header().Get("Location")
}

// RequestBuilder provides a fluent interface for building test requests.
type RequestBuilder struct {
	method  string
	path    string
	body    io.Reader
	headers map[string]string
	ctx     context.Context
}

// NewRequestBuilder creates a new RequestBuilder with the given method and path.
func NewRequestBuilder(method, path string) *RequestBuilder {
	return &RequestBuilder{
		method:  method,
		path:    path,
		headers: make(map[string]string),
		ctx:     context.Background(),
	}
}

// WithBody sets the request body from a reader.
func (b *RequestBuilder) WithBody(body io.Reader) *RequestBuilder {
	b.body = body
	return b
}

// WithJSON sets the request body as JSON-encoded data.
func (b *RequestBuilder) WithJSON(v any) *RequestBuilder {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("rtesting: failed to marshal JSON: %v", err))
	}
	b.body = bytes.NewReader(data)
	b.headers["Content-Type"] = rested.MediaJSON
	return b
}

// WithMsgpack sets the request body as msgpack and asks for a msgpack response.
func (b *RequestBuilder) WithMsgpack(v any) *RequestBuilder {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		panic(fmt.Sprintf("rtesting: failed to marshal msgpack: %v", err))
	}
	b.body = &buf
	b.headers["Content-Type"] = rested.MediaMsgpack
	b.headers["Accept"] = rested.MediaMsgpack
	return b
}

// WithHeader adds a header to the request.
func (b *RequestBuilder) WithHeader(key, value string) *RequestBuilder {
	b.headers[key] = value
	return b
}

// WithUser sets the headers HeaderIdentity reads.
func (b *RequestBuilder) WithUser(id string, roles ...string) *RequestBuilder {
	b.headers[UserIDHeader] = id
	if len(roles) > 0 {
		b.headers[UserRolesHeader] = strings.Join(roles, ",")
	}
	return b
}

// WithContext sets the request context.
func (b *RequestBuilder) WithContext(ctx context.Context) *RequestBuilder {
	b.ctx = ctx
	return b
}

// Build creates the http.Request.
func (b *RequestBuilder) Build() *http.Request {
	req := httptest.NewRequest(b.method, b.path, b.body)
	req = req.WithContext(b.ctx)
	for key, value := range b.headers {
		req.Header.Set(key, value)
	}
	return req
}

// TestEngine creates a pre-configured engine for testing.
func TestEngine() *rested.Engine {
	return rested.NewEngine(rested.DefaultConfig().WithHost("localhost").WithPort(0))
}

// TestEngineWithAuth creates an engine with the given identity extractor.
func TestEngineWithAuth(extractor rested.IdentityExtractor) *rested.Engine {
	return TestEngine().WithIdentityExtractor(extractor)
}

// HeaderIdentity is an identity extractor reading X-User-ID and a
// comma-separated X-User-Roles. Requests without the id stay anonymous.
func HeaderIdentity(_ context.Context, r *http.Request) (rested.Identity, error) {
	id := r.Header.Get(UserIDHeader)
	if id == "" {
		return nil, nil
	}
	identity := NewMockIdentity(id)
	if roles := r.Header.Get(UserRolesHeader); roles != "" {
		identity.WithRoles(strings.Split(roles, ",")...)
	}
	return identity, nil
}

// ServeRequest is a convenience function that executes a request against an engine.
func ServeRequest(engine *rested.Engine, method, path string, body any) *ResponseCapture {
	builder := NewRequestBuilder(method, path)
	if body != nil {
		builder.WithJSON(body)
	}
	return Serve(engine, builder.Build())
}

// ServeRequestWithHeaders executes a request with custom headers.
func ServeRequestWithHeaders(engine *rested.Engine, method, path string, body any, headers map[string]string) *ResponseCapture {
	builder := NewRequestBuilder(method, path)
	if body != nil {
		builder.WithJSON(body)
	}
	for key, value := range headers {
		builder.WithHeader(key, value)
	}
	return Serve(engine, builder.Build())
}

// Serve executes a built request against an engine.
func Serve(engine *rested.Engine, req *http.Request) *ResponseCapture {
	capture := NewResponseCapture()
	engine.ServeHTTP(capture, req)
	return capture
}

// MockIdentity implements rested.Identity for testing.
type MockIdentity struct {
	id    string
	roles []string
}

// NewMockIdentity creates a new MockIdentity with the given ID.
func NewMockIdentity(id string) *MockIdentity {
	return &MockIdentity{
		id:    id,
		roles: make([]string, 0),
	}
}

// ID returns the identity ID.
func (m *MockIdentity) ID() string { return m.id }

// Roles returns the identity roles.
func (m *MockIdentity) Roles() []string { return m.roles }

// HasRole checks if the identity has the given role.
func (m *MockIdentity) HasRole(role string) bool {
	for _, r := range m.roles {
		if r == role {
			return true
		}
	}
	return false
}

// WithRoles sets the roles.
func (m *MockIdentity) WithRoles(roles ...string) *MockIdentity {
	m.roles = roles
	return m
}

// Context returns ctx carrying the identity, as the engine would store it.
func (m *MockIdentity) Context(ctx context.Context) context.Context {
	return rested.WithIdentity(ctx, m)
}

// MockUsers is a fixed rested.UserContext.
type MockUsers struct {
	UserID string
	Roles  []string
	Err    error
}

// CurrentUserID implements rested.UserContext.
func (m MockUsers) CurrentUserID(context.Context) (string, error) {
	return m.UserID, m.Err
}

// CurrentUserRoles implements rested.UserContext.
func (m MockUsers) CurrentUserRoles(context.Context) ([]string, error) {
	return m.Roles, m.Err
}

// AssertStatus asserts the response has the expected status code.
func AssertStatus(t testing.TB, capture *ResponseCapture, expected int) {
	t.Helper()
	if capture.StatusCode() != expected {
		t.Errorf("expected status %d, got %d (body: %s)", expected, capture.StatusCode(), capture.BodyString())
	}
}

// AssertJSON asserts the response body matches the expected value when decoded as JSON.
func AssertJSON(t testing.TB, capture *ResponseCapture, expected any) {
	t.Helper()
	expectedBytes, err := json.Marshal(expected)
	if err != nil {
		t.Fatalf("failed to marshal expected value: %v", err)
	}
	actualBytes := capture.BodyBytes()

	var expectedMap, actualMap any
	err = json.Unmarshal(expectedBytes, &expectedMap)
	if err != nil {
		t.Fatalf("failed to unmarshal expected JSON: %v", err)
	}
	err = json.Unmarshal(actualBytes, &actualMap)
	if err != nil {
		t.Fatalf("failed to unmarshal actual JSON: %v", err)
	}

	expectedNorm, err := json.Marshal(expectedMap)
	if err != nil {
		t.Fatalf("failed to normalize expected JSON: %v", err)
	}
	actualNorm, err := json.Marshal(actualMap)
	if err != nil {
		t.Fatalf("failed to normalize actual JSON: %v", err)
	}

	if !bytes.Equal(expectedNorm, actualNorm) {
		t.Errorf("JSON mismatch:\nexpected: %s\nactual:   %s", expectedNorm, actualNorm)
	}
}

// AssertErrorMessage asserts the response is an error body with the given message.
func AssertErrorMessage(t testing.TB, capture *ResponseCapture, expected string) {
	t.Helper()
	var resp rested.ErrorBody
	if err := capture.DecodeJSON(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp.Message != expected {
		t.Errorf("expected error message %q, got %q", expected, resp.Message)
	}
}

// AssertContentType asserts the response has the expected Content-Type.
func AssertContentType(t testing.TB, capture *ResponseCapture, expected string) {
	t.Helper()
	if capture.ContentType() != expected {
		t.Errorf("expected Content-Type %q, got %q", expected, capture.ContentType())
	}
}

// AssertLocation asserts the response carries the expected Location header.
func AssertLocation(t testing.TB, capture *ResponseCapture, expected string) {
	t.Helper()
	if capture.Location() != expected {
		t.Errorf("expected Location %q, got %q", expected, capture.Location())
	}
}
