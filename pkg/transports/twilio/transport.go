package twilio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"

	"github.com/harunnryd/voicedesk/pkg/business"
	"github.com/harunnryd/voicedesk/pkg/callstate"
	"github.com/harunnryd/voicedesk/pkg/errorsx"
	"github.com/harunnryd/voicedesk/pkg/redact"
	"github.com/harunnryd/voicedesk/pkg/sttpool"
	"github.com/harunnryd/voicedesk/pkg/transports"
)

type Config struct {
	ServerAddr         string   `mapstructure:"server_addr"`
	PublicURL          string   `mapstructure:"public_url"`
	AuthToken          string   `mapstructure:"auth_token"`
	AccountSID         string   `mapstructure:"account_sid"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	EndCallOnReject    *bool    `mapstructure:"end_call_on_reject"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/status"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	if c.EndCallOnReject == nil {
		v := true
		c.EndCallOnReject = &v
	}
	return c
}

func (c Config) hasCredentials() bool {
	return c.AccountSID != "" && c.AuthToken != ""
}

type callUpdater interface {
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

// PoolStats exposes transcription worker usage on /health.
type PoolStats interface {
	Stats() []sttpool.WorkerStats
}

// ServerOptions wires optional surfaces into the HTTP server.
type ServerOptions struct {
	Pool           PoolStats
	MetricsPath    string
	MetricsHandler http.Handler
	// OnUnstreamed receives calls that completed without ever opening a
	// media stream.
	OnUnstreamed func(callSID string)
}

// Server answers carrier webhooks and hosts the Media Streams websocket.
type Server struct {
	cfg      Config
	deps     Deps
	opts     ServerOptions
	logger   *slog.Logger
	upgrader websocket.Upgrader
	router   chi.Router
	server   *http.Server

	updateClient callUpdater

	baseCtx  context.Context
	streams  sync.WaitGroup
	draining atomic.Bool
}

func NewServer(cfg Config, deps Deps, opts ServerOptions) *Server {
	cfg = cfg.withDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		opts:    opts,
		logger:  deps.Logger,
		baseCtx: context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	if cfg.hasCredentials() {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		})
		s.updateClient = rest.Api
	}
	if *cfg.EndCallOnReject {
		s.deps.EndCall = func(callSID string) error {
			return s.EndCall(context.Background(), callSID)
		}
	}
	s.router = s.routes()
	return s
}

func (s *Server) Name() string { return "twilio" }

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post(s.cfg.VoicePath, s.handleVoice)
	r.Post(s.cfg.StatusCallbackPath, s.handleStatusCallback)
	r.Get(s.cfg.WebsocketPath, s.handleStream)
	r.Get("/health", s.handleHealth)
	if s.opts.MetricsHandler != nil {
		path := s.opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, s.opts.MetricsHandler)
	}
	return r
}

func (s *Server) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url":         s.voiceWebhookURL(),
		"status_callback_url": s.statusCallbackURL(),
		"websocket_path":      s.cfg.WebsocketPath,
	}
}

// Start serves HTTP in the background until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// Media sessions outlive ctx so Shutdown can drain live calls.
	s.baseCtx = context.WithoutCancel(ctx)
	s.server = &http.Server{
		Addr:              s.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           s.router,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("twilio_server_error", "error", err.Error())
		}
	}()
	return nil
}

// Shutdown stops accepting new streams, closes the listener and waits for
// live media sessions to drain or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.draining.Store(true)
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EndCall hangs up callSID over the REST API.
func (s *Server) EndCall(ctx context.Context, callSID string) error {
	_ = ctx
	if strings.TrimSpace(callSID) == "" {
		return errors.New("call sid required")
	}
	if s.updateClient == nil {
		return errors.New("missing twilio credentials")
	}
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	_, err := s.updateClient.UpdateCall(callSID, params)
	return err
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.streams.Add(1)
	defer s.streams.Done()
	NewMediaSession(conn, s.deps).Run(s.baseCtx)
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthToken != "" && !s.validateTwilioRequest(r) {
		s.logger.Warn("twilio_invalid_signature", "path", r.URL.Path, "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	callSID := r.FormValue("CallSid")
	callee := r.FormValue("To")
	caller := r.FormValue("From")
	log := s.logger.With("call_sid", callSID)

	cfg, err := business.Resolve(r.Context(), s.deps.Directory, callee)
	if err != nil {
		reason := errorsx.ReasonConfigMissing
		if errors.Is(err, business.ErrInactive) {
			reason = errorsx.ReasonConfigInactive
		}
		log.Warn("incoming_call_refused", "callee", redact.Number(callee), "reason_code", string(reason))
		doc, renderErr := refusalTwiML(business.RefusalMessage(err))
		s.writeTwiML(w, doc, renderErr)
		return
	}

	sess, err := s.deps.Registry.Create(callSID, callee, caller)
	if err != nil {
		if !errors.Is(err, callstate.ErrDuplicateCall) {
			log.Error("session_create_failed", "error", err.Error())
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		log.Warn("session_create_duplicate", "reason_code", string(errorsx.ReasonSessionDuplicate))
		sess, _ = s.deps.Registry.Get(callSID)
	}
	if sess != nil {
		sess.SetConfig(cfg)
	}
	log.Info("incoming_call", "caller", redact.Number(caller), "business", cfg.BusinessName)
	doc, err := streamTwiML(s.websocketURL(r), callSID, callee, caller)
	s.writeTwiML(w, doc, err)
}

func (s *Server) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthToken != "" && !s.validateTwilioRequest(r) {
		s.logger.Warn("twilio_status_invalid_signature", "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	callSID := r.FormValue("CallSid")
	status := normalizeCallStatus(r.FormValue("CallStatus"))
	log := s.logger.With("call_sid", callSID, "call_status", status)
	switch status {
	case "completed":
		sess, err := s.deps.Registry.MarkCompleted(callSID)
		if err != nil {
			break
		}
		if sess.Status() == callstate.StatusFailed {
			// Rejected at stream start; the media session evicts it.
			log.Info("call_completed_after_reject")
			break
		}
		log.Info("call_completed")
		if sess.StreamID() == "" && s.opts.OnUnstreamed != nil {
			s.opts.OnUnstreamed(callSID)
		}
	case "failed", "busy", "no_answer":
		if _, err := s.deps.Registry.MarkFailed(callSID); err != nil {
			break
		}
		s.deps.Registry.Remove(callSID)
		log.Info("call_failed")
	}
	w.WriteHeader(http.StatusOK)
}

type healthResponse struct {
	Status      string                `json:"status"`
	ActiveCalls int                   `json:"active_calls"`
	Draining    bool                  `json:"draining"`
	Workers     []sttpool.WorkerStats `json:"stt_workers,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		ActiveCalls: s.deps.Registry.Count(),
		Draining:    s.draining.Load(),
	}
	if resp.Draining {
		resp.Status = "draining"
	}
	if s.opts.Pool != nil {
		resp.Workers = s.opts.Pool.Stats()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeTwiML(w http.ResponseWriter, doc string, err error) {
	if err != nil {
		s.logger.Error("twiml_render_failed", "error", err.Error())
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(doc))
}

func refusalTwiML(message string) (string, error) {
	return twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: message},
		&twiml.VoiceHangup{},
	})
}

func streamTwiML(wsURL, callSID, callee, caller string) (string, error) {
	stream := &twiml.VoiceStream{
		Url: wsURL,
		InnerElements: []twiml.Element{
			&twiml.VoiceParameter{Name: ParamCallSID, Value: callSID},
			&twiml.VoiceParameter{Name: ParamTwilioNumber, Value: callee},
			&twiml.VoiceParameter{Name: ParamCallerNumber, Value: caller},
		},
	}
	return twiml.Voice([]twiml.Element{
		&twiml.VoiceConnect{InnerElements: []twiml.Element{stream}},
	})
}

func (s *Server) websocketURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return "wss://" + normalizePublicURL(s.cfg.PublicURL) + s.cfg.WebsocketPath
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(s.cfg.ServerAddr, ":")
	}
	return "wss://" + host + s.cfg.WebsocketPath
}

func (s *Server) voiceWebhookURL() string {
	return publicURL(s.cfg, s.cfg.VoicePath)
}

func (s *Server) statusCallbackURL() string {
	return publicURL(s.cfg, s.cfg.StatusCallbackPath)
}

func publicURL(cfg Config, path string) string {
	if cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(cfg.PublicURL) + path
	}
	addr := cfg.ServerAddr
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

func (s *Server) validateTwilioRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	if s.cfg.AuthToken == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(s.cfg.AuthToken)
	return validator.ValidateBody(s.requestURL(r), body, signature)
}

func (s *Server) requestURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		base := strings.TrimRight(s.cfg.PublicURL, "/")
		return base + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(s.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range s.cfg.AllowedOrigins {
		a := strings.TrimSpace(allowed)
		if a == "" {
			continue
		}
		a = strings.TrimRight(a, "/")
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

// normalizeCallStatus maps carrier call statuses onto the ones the server
// acts on. Non-terminal statuses map to "".
func normalizeCallStatus(raw string) string {
	r := strings.ToLower(strings.TrimSpace(raw))
	switch r {
	case "", "queued", "ringing", "in-progress", "inprogress", "initiated":
		return ""
	case "completed":
		return "completed"
	case "busy":
		return "busy"
	case "no_answer", "noanswer", "no-answer":
		return "no_answer"
	case "failed", "canceled", "cancelled":
		return "failed"
	default:
		return "unknown"
	}
}

func normalizePublicURL(v string) string {
	if v == "" {
		return ""
	}
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}

var _ transports.CallTerminator = (*Server)(nil)
var _ transports.ReadyReporter = (*Server)(nil)
