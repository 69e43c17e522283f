// Package whatsapp bridges the policy assistant to the WhatsApp Business
// webhook API.
package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/arti-cloud/policy-assistant/pkg/monitoring"
	"github.com/arti-cloud/policy-assistant/pkg/rag"
)

// FallbackMessage is sent when the pipeline fails for an inbound message.
const FallbackMessage = "Sorry, something went wrong. Please contact HR: hr@company.com"

// Asker is the pipeline entry point the webhook depends on.
type Asker interface {
	Ask(ctx context.Context, q rag.Question) (*rag.Answer, error)
}

// Config holds the webhook and Graph API settings.
type Config struct {
	VerifyToken  string        `json:"verify_token" yaml:"verify_token"`
	AppSecret    string        `json:"app_secret" yaml:"app_secret"`
	PhoneID      string        `json:"phone_id" yaml:"phone_id"`
	AccessToken  string        `json:"access_token" yaml:"access_token"`
	GraphAPIBase string        `json:"graph_api_base" yaml:"graph_api_base"`
	SendTimeout  time.Duration `json:"send_timeout" yaml:"send_timeout"`
}

// Webhook receives inbound WhatsApp messages, relays questions to the
// pipeline and sends answers back through the Graph API.
type Webhook struct {
	config     *Config
	asker      Asker
	metrics    *monitoring.Metrics
	logger     *slog.Logger
	httpClient *http.Client
}

// New creates the webhook bridge.
func New(config *Config, asker Asker, metrics *monitoring.Metrics, logger *slog.Logger) *Webhook {
	if config.GraphAPIBase == "" {
		config.GraphAPIBase = "https://graph.facebook.com/v17.0"
	}
	if config.SendTimeout == 0 {
		config.SendTimeout = 15 * time.Second
	}
	return &Webhook{
		config:  config,
		asker:   asker,
		metrics: metrics,
		logger:  logger.With("component", "whatsapp-webhook"),
		httpClient: &http.Client{
			Timeout: config.SendTimeout,
		},
	}
}

// Register attaches the webhook routes. These stay outside the API-key
// middleware: Meta authenticates with the verify token and body signature
// instead.
func (wh *Webhook) Register(router *mux.Router) {
	router.HandleFunc("/webhook", wh.Verify).Methods(http.MethodGet)
	router.HandleFunc("/webhook", wh.Inbound).Methods(http.MethodPost)
}

// Verify handles Meta's subscription handshake: it echoes the challenge as
// an integer when the mode is "subscribe" and the verify token matches.
func (wh *Webhook) Verify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := firstNonEmpty(query.Get("hub.mode"), query.Get("mode"))
	challenge := firstNonEmpty(query.Get("hub.challenge"), query.Get("challenge"))
	token := firstNonEmpty(query.Get("hub.verify_token"), query.Get("verify_token"))

	if mode != "subscribe" || token == "" || token != wh.config.VerifyToken {
		wh.logger.Warn("Webhook verification failed", "mode", mode)
		http.Error(w, "verification failed", http.StatusBadRequest)
		return
	}

	n, err := strconv.Atoi(challenge)
	if err != nil {
		http.Error(w, "invalid challenge", http.StatusBadRequest)
		return
	}
	fmt.Fprintf(w, "%d", n)
}

// inboundPayload mirrors the Meta webhook envelope down to the text
// messages the bridge cares about.
type inboundPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From string `json:"from"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

// Inbound handles message delivery. The signature over the raw body is
// verified before any JSON parsing.
func (wh *Webhook) Inbound(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !wh.VerifySignature(raw, r.Header.Get("X-Hub-Signature-256")) {
		wh.logger.Warn("Rejected webhook with invalid signature", "remote", r.RemoteAddr)
		wh.metrics.RecordWebhookMessage("bad_signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload inboundPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				wh.handleMessage(r.Context(), msg)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// VerifySignature checks the keyed hash of the raw body against the
// X-Hub-Signature-256 header value, with or without its sha256= prefix.
// Comparison is constant time.
func (wh *Webhook) VerifySignature(raw []byte, signature string) bool {
	if signature == "" || wh.config.AppSecret == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(wh.config.AppSecret))
	mac.Write(raw)
	return hmac.Equal(provided, mac.Sum(nil))
}

// handleMessage answers one inbound question and replies to the sender. On
// pipeline failure a fixed fallback message is sent instead.
func (wh *Webhook) handleMessage(ctx context.Context, msg inboundMessage) {
	text := strings.TrimSpace(msg.Text.Body)
	if text == "" {
		return
	}

	reply := FallbackMessage
	answer, err := wh.asker.Ask(ctx, rag.Question{Text: text})
	if err != nil {
		wh.logger.Error("Pipeline failed for webhook message", "error", err)
		wh.metrics.RecordWebhookMessage("pipeline_error")
	} else {
		reply = answer.Text
		if len(answer.Citations) > 0 {
			reply += "\n\nSource: " + answer.Citations[0].DocID
		}
		wh.metrics.RecordWebhookMessage("ok")
	}

	if err := wh.send(ctx, msg.From, reply); err != nil {
		wh.logger.Error("Failed to send WhatsApp reply", "error", err, "to", msg.From)
	}
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             sendText `json:"text"`
}

type sendText struct {
	Body string `json:"body"`
}

// send posts a text message through the Graph API.
func (wh *Webhook) send(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             sendText{Body: body},
	})
	if err != nil {
		return fmt.Errorf("failed to encode send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", wh.config.GraphAPIBase, wh.config.PhoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+wh.config.AccessToken)

	resp, err := wh.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send API returned status %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
