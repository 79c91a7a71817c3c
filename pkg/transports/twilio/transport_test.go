package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/voicedesk/pkg/business"
	"github.com/harunnryd/voicedesk/pkg/callstate"
	"github.com/harunnryd/voicedesk/pkg/sttpool"
)

func newTestServer(cfg Config, entries ...business.Entry) (*Server, *callstate.Registry) {
	reg := callstate.NewRegistry()
	deps := Deps{
		Registry:  reg,
		Directory: business.NewStaticDirectory(entries),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return NewServer(cfg, deps, ServerOptions{}), reg
}

func voiceRequest(s *Server, token string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "https://example.com/voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	req.Header.Set("X-Twilio-Signature", computeSignature(token, s.requestURL(req), params))
	return req
}

func TestHandleVoiceSignatureValidation(t *testing.T) {
	cfg := Config{AuthToken: "token", PublicURL: "https://example.com"}
	srv, _ := newTestServer(cfg, business.Entry{Number: "+15550001111", BusinessName: "Acme"})

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("To", "+15550001111")
	form.Set("From", "+15559990000")

	w := httptest.NewRecorder()
	srv.handleVoice(w, voiceRequest(srv, cfg.AuthToken, form))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	reqInvalid := httptest.NewRequest(http.MethodPost, "https://example.com/voice", strings.NewReader(form.Encode()))
	reqInvalid.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	reqInvalid.Header.Set("X-Twilio-Signature", "invalid")
	wInvalid := httptest.NewRecorder()
	srv.handleVoice(wInvalid, reqInvalid)
	if wInvalid.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", wInvalid.Code)
	}
}

func TestHandleVoiceConnectsConfiguredNumber(t *testing.T) {
	srv, reg := newTestServer(Config{PublicURL: "https://voice.example.com/"},
		business.Entry{Number: "+15550001111", BusinessName: "Acme Plumbing"})

	form := url.Values{}
	form.Set("CallSid", "CA1")
	form.Set("To", "+1 (555) 000-1111")
	form.Set("From", "+15559990000")
	req := httptest.NewRequest(http.MethodPost, "/voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	for _, want := range []string{"<Connect>", `url="wss://voice.example.com/ws"`, `name="call_sid"`, `value="CA1"`, `name="twilio_number"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in TwiML, got %s", want, body)
		}
	}
	sess, ok := reg.Get("CA1")
	if !ok {
		t.Fatalf("expected session created")
	}
	cfg, ok := sess.Config()
	if !ok || cfg.BusinessName != "Acme Plumbing" {
		t.Fatalf("expected business config attached, got %+v", cfg)
	}
	if sess.Status() != callstate.StatusRinging {
		t.Fatalf("expected ringing, got %s", sess.Status())
	}
}

func TestHandleVoiceRefusesUnknownNumber(t *testing.T) {
	srv, reg := newTestServer(Config{})

	form := url.Values{}
	form.Set("CallSid", "CA2")
	form.Set("To", "+15550002222")
	req := httptest.NewRequest(http.MethodPost, "/voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "<Say>") || !strings.Contains(body, "<Hangup") {
		t.Fatalf("expected say and hangup, got %s", body)
	}
	if strings.Contains(body, "<Connect") {
		t.Fatalf("refused call must not connect a stream")
	}
	if reg.Count() != 0 {
		t.Fatalf("expected no session for a refused call")
	}
}

func TestHandleVoiceDuplicateCallProceeds(t *testing.T) {
	srv, reg := newTestServer(Config{}, business.Entry{Number: "+15550001111", BusinessName: "Acme"})
	if _, err := reg.Create("CA3", "+15550001111", "+1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	form := url.Values{}
	form.Set("CallSid", "CA3")
	form.Set("To", "+15550001111")
	req := httptest.NewRequest(http.MethodPost, "/voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "<Connect>") {
		t.Fatalf("expected stream TwiML, got %s", w.Body.String())
	}
	if reg.Count() != 1 {
		t.Fatalf("expected one session, got %d", reg.Count())
	}
}

func statusRequest(callSID, status string) *http.Request {
	form := url.Values{}
	form.Set("CallSid", callSID)
	form.Set("CallStatus", status)
	req := httptest.NewRequest(http.MethodPost, "/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestHandleStatusCallbackCompletedWithoutStream(t *testing.T) {
	reg := callstate.NewRegistry()
	var unstreamed []string
	srv := NewServer(Config{}, Deps{Registry: reg, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, ServerOptions{
		OnUnstreamed: func(callSID string) { unstreamed = append(unstreamed, callSID) },
	})
	if _, err := reg.Create("CA4", "+1", "+2"); err != nil {
		t.Fatalf("create: %v", err)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, statusRequest("CA4", "completed"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	sess, _ := reg.Get("CA4")
	if sess.Status() != callstate.StatusCompleted {
		t.Fatalf("expected completed, got %s", sess.Status())
	}
	if len(unstreamed) != 1 || unstreamed[0] != "CA4" {
		t.Fatalf("expected unstreamed hand-off, got %v", unstreamed)
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, statusRequest("CA-unknown", "completed"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown call, got %d", w.Code)
	}
}

func TestHandleStatusCallbackSkipsRejectedCall(t *testing.T) {
	reg := callstate.NewRegistry()
	var unstreamed []string
	srv := NewServer(Config{}, Deps{Registry: reg, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, ServerOptions{
		OnUnstreamed: func(callSID string) { unstreamed = append(unstreamed, callSID) },
	})
	if _, err := reg.Create("CA7", "+1", "+2"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := reg.MarkFailed("CA7"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, statusRequest("CA7", "completed"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(unstreamed) != 0 {
		t.Fatalf("rejected call must not reach post-call processing, got %v", unstreamed)
	}
	sess, _ := reg.Get("CA7")
	if sess.Status() != callstate.StatusFailed {
		t.Fatalf("expected failed to stick, got %s", sess.Status())
	}
}

func TestHandleStatusCallbackFailureRemovesSession(t *testing.T) {
	for _, status := range []string{"failed", "busy", "no-answer", "canceled"} {
		srv, reg := newTestServer(Config{})
		if _, err := reg.Create("CA5", "+1", "+2"); err != nil {
			t.Fatalf("create: %v", err)
		}
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, statusRequest("CA5", status))
		if _, ok := reg.Get("CA5"); ok {
			t.Fatalf("status %s: expected session removed", status)
		}
	}
}

func TestHandleStatusCallbackIgnoresProgress(t *testing.T) {
	srv, reg := newTestServer(Config{})
	if _, err := reg.Create("CA6", "+1", "+2"); err != nil {
		t.Fatalf("create: %v", err)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, statusRequest("CA6", "ringing"))
	sess, ok := reg.Get("CA6")
	if !ok || sess.Status() != callstate.StatusRinging {
		t.Fatalf("expected untouched ringing session")
	}
}

type stubPoolStats struct{}

func (stubPoolStats) Stats() []sttpool.WorkerStats {
	return []sttpool.WorkerStats{{Index: 0, Busy: true}, {Index: 1}}
}

func TestHealthReportsCallsAndWorkers(t *testing.T) {
	reg := callstate.NewRegistry()
	srv := NewServer(Config{}, Deps{Registry: reg}, ServerOptions{Pool: stubPoolStats{}})
	_, _ = reg.Create("CA7", "+1", "+2")

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.ActiveCalls != 1 || len(resp.Workers) != 2 {
		t.Fatalf("unexpected health %+v", resp)
	}
}

func TestMetricsRouteMounted(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("voicedesk_active_calls 0\n"))
	})
	srv := NewServer(Config{}, Deps{Registry: callstate.NewRegistry()}, ServerOptions{MetricsHandler: metricsHandler})
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "voicedesk_active_calls") {
		t.Fatalf("expected metrics body, got %q", w.Body.String())
	}
}

func TestStreamRefusedWhileDraining(t *testing.T) {
	srv, _ := newTestServer(Config{})
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

type stubCallUpdater struct {
	lastSID    string
	lastStatus string
	err        error
}

func (s *stubCallUpdater) UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error) {
	s.lastSID = sid
	if params != nil && params.Status != nil {
		s.lastStatus = *params.Status
	}
	if s.err != nil {
		return nil, s.err
	}
	return &api.ApiV2010Call{}, nil
}

func TestEndCall(t *testing.T) {
	srv, _ := newTestServer(Config{AccountSID: "AC123", AuthToken: "token"})
	stub := &stubCallUpdater{}
	srv.updateClient = stub

	if err := srv.EndCall(context.Background(), "CA123"); err != nil {
		t.Fatalf("EndCall error: %v", err)
	}
	if stub.lastSID != "CA123" || stub.lastStatus != "completed" {
		t.Fatalf("unexpected update sid=%q status=%q", stub.lastSID, stub.lastStatus)
	}

	stub.err = errors.New("boom")
	if err := srv.EndCall(context.Background(), "CA123"); err == nil {
		t.Fatalf("expected error on update failure")
	}

	noCreds, _ := newTestServer(Config{})
	if err := noCreds.EndCall(context.Background(), "CA123"); err == nil {
		t.Fatalf("expected missing credentials error")
	}
}

func TestCheckOrigin(t *testing.T) {
	srv, _ := newTestServer(Config{AllowedOrigins: []string{"media.twilio.com", "https://ops.example.com"}})
	cases := map[string]bool{
		"":                         true,
		"https://media.twilio.com": true,
		"https://ops.example.com/": true,
		"http://ops.example.com":   false,
		"https://evil.example.com": false,
	}
	for origin, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		if got := srv.checkOrigin(req); got != want {
			t.Fatalf("origin %q: expected %v, got %v", origin, want, got)
		}
	}
}

func TestReadyFields(t *testing.T) {
	srv, _ := newTestServer(Config{ServerAddr: ":9090"})
	fields := srv.ReadyFields()
	if fields["webhook_url"] != "http://localhost:9090/voice" {
		t.Fatalf("unexpected webhook url %v", fields["webhook_url"])
	}
	if fields["status_callback_url"] != "http://localhost:9090/status" {
		t.Fatalf("unexpected status url %v", fields["status_callback_url"])
	}
}

func computeSignature(authToken, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	base := url
	for _, k := range keys {
		base += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	_, _ = mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
