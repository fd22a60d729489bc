package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"blockci-gh/internal/auth"
	"blockci-gh/internal/handler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = bytes.Repeat([]byte{0}, 32)

type noOpAPI struct{}

func (noOpAPI) CreateCommitStatus(context.Context, handler.Repository, string, handler.Status) error {
	return nil
}

type testClient struct {
	appErr  error
	instErr error
	ids     []int64
}

func (c *testClient) AuthenticateApp(context.Context, auth.AppConfig) (auth.InstallationAuthenticator, error) {
	if c.appErr != nil {
		return nil, c.appErr
	}
	return c, nil
}

func (c *testClient) ForInstallation(_ context.Context, id int64) (handler.GitHubAPI, error) {
	c.ids = append(c.ids, id)
	if c.instErr != nil {
		return nil, c.instErr
	}
	return noOpAPI{}, nil
}

type stubHandler struct {
	err    error
	events []handler.Event
}

func (h *stubHandler) Handle(_ context.Context, _ handler.GitHubAPI, ev handler.Event) (handler.Outcome, error) {
	h.events = append(h.events, ev)
	return handler.Outcome{Kind: ev.Kind, Ignored: true, Reason: "stub"}, h.err
}

type recorded struct {
	ev  handler.Event
	err error
}

type memRecorder struct {
	mu      sync.Mutex
	entries []recorded
}

func (m *memRecorder) Record(_ context.Context, ev handler.Event, _ handler.Outcome, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, recorded{ev: ev, err: err})
}

func calcHMAC(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func newRouter(t *testing.T, client *testClient, h *stubHandler, rec Recorder) http.Handler {
	t.Helper()
	router, err := Router(context.Background(), Config{WebhookSecret: secret}, client, h, rec)
	require.NoError(t, err)
	return router
}

func do(t *testing.T, router http.Handler, body []byte, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, EventPath, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	data, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(data)
}

func signedHeaders(body []byte) map[string]string {
	return map[string]string{
		"X-GitHub-Event":      "pull_request.*",
		"X-GitHub-Delivery":   "d-1",
		"X-Hub-Signature-256": "sha256=" + calcHMAC(secret, body),
	}
}

func TestHappyPath(t *testing.T) {
	client := &testClient{}
	h := &stubHandler{}
	rec := &memRecorder{}
	router := newRouter(t, client, h, rec)

	body := []byte(`{"installation":{"id":1,"node_id":"dGVzdA=="},"hello":"world"}`)
	code, resp := do(t, router, body, signedHeaders(body))

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "hello world", resp)
	assert.Equal(t, []int64{1}, client.ids)

	require.Len(t, h.events, 1)
	ev := h.events[0]
	assert.Equal(t, "pull_request", ev.Kind)
	assert.Equal(t, "d-1", ev.DeliveryID)
	assert.Equal(t, int64(1), ev.InstallationID)
	assert.Equal(t, body, ev.Payload)

	require.Len(t, rec.entries, 1)
	assert.NoError(t, rec.entries[0].err)
}

func TestMissingSignature(t *testing.T) {
	h := &stubHandler{}
	router := newRouter(t, &testClient{}, h, nil)

	body := []byte(`{"hello":"world"}`)
	code, resp := do(t, router, body, map[string]string{"X-GitHub-Event": "pull_request.*"})

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "missing signature", resp)
	assert.Empty(t, h.events)
}

func TestWrongSignature(t *testing.T) {
	h := &stubHandler{}
	router := newRouter(t, &testClient{}, h, nil)

	body := []byte(`{"hello":"world"}`)
	code, resp := do(t, router, body, map[string]string{
		"X-GitHub-Event":      "pull_request.*",
		"X-Hub-Signature-256": "sha256=46288437613044114D21E7FAD79837C12336202F4C85008548FB226693426F56",
	})

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid signature", resp)
	assert.Empty(t, h.events)
}

func TestMalformedSignature(t *testing.T) {
	router := newRouter(t, &testClient{}, &stubHandler{}, nil)
	body := []byte(`{"installation":{"id":1}}`)

	for _, sig := range []string{"sha256=zz", "md5=abcd", "nope"} {
		code, _ := do(t, router, body, map[string]string{"X-GitHub-Event": "push", "X-Hub-Signature-256": sig})
		assert.Equal(t, http.StatusBadRequest, code, sig)
	}
}

func TestSignatureOverDifferentBody(t *testing.T) {
	router := newRouter(t, &testClient{}, &stubHandler{}, nil)
	headers := signedHeaders([]byte(`{"installation":{"id":1}}`))

	code, _ := do(t, router, []byte(`{"installation":{"id":2}}`), headers)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMissingInstallation(t *testing.T) {
	client := &testClient{}
	router := newRouter(t, client, &stubHandler{}, nil)

	body := []byte(`{"hello":"world"}`)
	code, resp := do(t, router, body, signedHeaders(body))

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "missing installation id", resp)
	assert.Empty(t, client.ids)
}

func TestMissingEventHeader(t *testing.T) {
	router := newRouter(t, &testClient{}, &stubHandler{}, nil)
	body := []byte(`{"installation":{"id":1}}`)
	headers := signedHeaders(body)
	delete(headers, "X-GitHub-Event")

	code, resp := do(t, router, body, headers)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "missing event type", resp)
}

func TestInvalidJSON(t *testing.T) {
	router := newRouter(t, &testClient{}, &stubHandler{}, nil)
	body := []byte(`not json`)

	code, resp := do(t, router, body, signedHeaders(body))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid payload", resp)
}

func TestInstallationAuthFailure(t *testing.T) {
	h := &stubHandler{}
	router := newRouter(t, &testClient{instErr: errors.New("revoked")}, h, nil)

	body := []byte(`{"installation":{"id":5}}`)
	code, resp := do(t, router, body, signedHeaders(body))

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "unable to authenticate installation", resp)
	assert.Empty(t, h.events)
}

func TestHandlerFailureIsRecorded(t *testing.T) {
	rec := &memRecorder{}
	router := newRouter(t, &testClient{}, &stubHandler{err: errors.New("status api down")}, rec)

	body := []byte(`{"installation":{"id":5}}`)
	code, resp := do(t, router, body, signedHeaders(body))

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "failed to handle event", resp)
	require.Len(t, rec.entries, 1)
	assert.EqualError(t, rec.entries[0].err, "status api down")
}

func TestRouterFailsWhenAppAuthFails(t *testing.T) {
	_, err := Router(context.Background(), Config{WebhookSecret: secret}, &testClient{appErr: errors.New("bad key")}, &stubHandler{}, nil)
	assert.EqualError(t, err, "bad key")

	_, err = Router(context.Background(), Config{}, &testClient{}, &stubHandler{}, nil)
	assert.ErrorContains(t, err, "webhook secret is required")
}

func TestAnyMethodAndHealth(t *testing.T) {
	router := newRouter(t, &testClient{}, &stubHandler{}, nil)
	body := []byte(`{"installation":{"id":1}}`)

	req := httptest.NewRequest(http.MethodPut, EventPath, bytes.NewReader(body))
	for k, v := range signedHeaders(body) {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
