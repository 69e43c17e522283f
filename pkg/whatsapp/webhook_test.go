package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arti-cloud/policy-assistant/pkg/monitoring"
	"github.com/arti-cloud/policy-assistant/pkg/rag"
)

const testAppSecret = "app-secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeAsker struct {
	answer *rag.Answer
	err    error
	lastQ  rag.Question
	calls  int
}

func (f *fakeAsker) Ask(ctx context.Context, q rag.Question) (*rag.Answer, error) {
	f.calls++
	f.lastQ = q
	return f.answer, f.err
}

// graphStub records messages posted to the Graph API send endpoint.
type graphStub struct {
	server *httptest.Server
	sent   []sendRequest
}

func newGraphStub(t *testing.T) *graphStub {
	t.Helper()
	stub := &graphStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		stub.sent = append(stub.sent, req)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"messages":[{"id":"wamid.test"}]}`)
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func newTestWebhook(t *testing.T, asker Asker) (*mux.Router, *graphStub) {
	t.Helper()
	stub := newGraphStub(t)
	wh := New(&Config{
		VerifyToken:  "verify-me",
		AppSecret:    testAppSecret,
		PhoneID:      "12345",
		AccessToken:  "token",
		GraphAPIBase: stub.server.URL,
	}, asker, monitoring.NewMetrics(), testLogger())

	router := mux.NewRouter()
	wh.Register(router)
	return router, stub
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testAppSecret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func inboundBody(from, text string) string {
	return `{"entry":[{"changes":[{"value":{"messages":[{"from":"` + from + `","text":{"body":"` + text + `"}}]}}]}]}`
}

func TestVerifyChallenge(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{"valid hub params", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1158201444", http.StatusOK, "1158201444"},
		{"valid bare params", "mode=subscribe&verify_token=verify-me&challenge=42", http.StatusOK, "42"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", http.StatusBadRequest, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=42", http.StatusBadRequest, ""},
		{"missing token", "hub.mode=subscribe&hub.challenge=42", http.StatusBadRequest, ""},
		{"non-numeric challenge", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=abc", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestWebhook(t, &fakeAsker{})

			req := httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestInboundRejectsBadSignature(t *testing.T) {
	asker := &fakeAsker{}
	router, stub := newTestWebhook(t, asker)

	body := inboundBody("15550001111", "How many casual leave days do I get?")
	tests := []struct {
		name      string
		signature string
	}{
		{"missing signature", ""},
		{"tampered signature", sign(body + "tampered")},
		{"garbage signature", "sha256=zzzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
			if tt.signature != "" {
				req.Header.Set("X-Hub-Signature-256", tt.signature)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	assert.Zero(t, asker.calls, "unauthenticated payloads must never reach the pipeline")
	assert.Empty(t, stub.sent)
}

func TestInboundSignatureCheckedBeforeParsing(t *testing.T) {
	router, _ := newTestWebhook(t, &fakeAsker{})

	// Malformed JSON with a bad signature: authentication must win.
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	req.Header.Set("X-Hub-Signature-256", "sha256=0000")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInboundRelaysQuestionAndReplies(t *testing.T) {
	asker := &fakeAsker{answer: &rag.Answer{
		Text:      "You get 12 casual leave days per year.",
		Citations: []rag.Citation{{DocID: "leave_policy.txt", Section: "Casual Leave"}},
	}}
	router, stub := newTestWebhook(t, asker)

	body := inboundBody("15550001111", "How many casual leave days do I get?")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "How many casual leave days do I get?", asker.lastQ.Text)

	require.Len(t, stub.sent, 1)
	sent := stub.sent[0]
	assert.Equal(t, "whatsapp", sent.MessagingProduct)
	assert.Equal(t, "15550001111", sent.To)
	assert.Equal(t, "text", sent.Type)
	assert.Contains(t, sent.Text.Body, "12 casual leave days")
	assert.Contains(t, sent.Text.Body, "Source: leave_policy.txt")
}

func TestInboundSendsFallbackOnPipelineFailure(t *testing.T) {
	asker := &fakeAsker{err: errors.New("index down")}
	router, stub := newTestWebhook(t, asker)

	body := inboundBody("15550001111", "a question")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "webhook must ack even when the pipeline fails")
	require.Len(t, stub.sent, 1)
	assert.Equal(t, FallbackMessage, stub.sent[0].Text.Body)
}

func TestInboundIgnoresEmptyMessages(t *testing.T) {
	asker := &fakeAsker{}
	router, stub := newTestWebhook(t, asker)

	body := inboundBody("15550001111", "   ")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, asker.calls)
	assert.Empty(t, stub.sent)
}

func TestVerifySignatureVariants(t *testing.T) {
	wh := New(&Config{AppSecret: testAppSecret}, &fakeAsker{}, monitoring.NewMetrics(), testLogger())
	body := []byte(`{"entry":[]}`)

	mac := hmac.New(sha256.New, []byte(testAppSecret))
	mac.Write(body)
	digest := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, wh.VerifySignature(body, "sha256="+digest))
	assert.True(t, wh.VerifySignature(body, digest), "bare hex digest is accepted")
	assert.False(t, wh.VerifySignature(body, ""))
	assert.False(t, wh.VerifySignature(body, "sha256=deadbeef"))

	noSecret := New(&Config{}, &fakeAsker{}, monitoring.NewMetrics(), testLogger())
	assert.False(t, noSecret.VerifySignature(body, "sha256="+digest), "missing app secret rejects everything")
}
