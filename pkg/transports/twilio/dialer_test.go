package twilio

import (
	"context"
	"errors"
	"testing"

	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/voicedesk/pkg/transports"
)

type fakeCreator struct {
	calls []*api.CreateCallParams
	sid   string
	err   error
}

func (f *fakeCreator) CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	if f.sid == "" {
		return &api.ApiV2010Call{}, nil
	}
	return &api.ApiV2010Call{Sid: &f.sid}, nil
}

func (f *fakeCreator) last(t *testing.T) *api.CreateCallParams {
	t.Helper()
	if len(f.calls) == 0 {
		t.Fatalf("no call was created")
	}
	return f.calls[len(f.calls)-1]
}

func testDialer(cfg Config, fc *fakeCreator) *Dialer {
	if cfg.AccountSID == "" {
		cfg.AccountSID, cfg.AuthToken = "AC1", "token"
	}
	d := NewDialer(cfg)
	d.client = fc
	return d
}

func TestDialerRingsBusinessNumber(t *testing.T) {
	fc := &fakeCreator{sid: "CA-out"}
	d := testDialer(Config{PublicURL: "https://desk.example.com/"}, fc)

	sid, err := d.Dial(context.Background(), "+1 (555) 000-1111", "+1 555 999 8888", "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if sid != "CA-out" {
		t.Fatalf("unexpected sid %q", sid)
	}
	p := fc.last(t)
	if *p.To != "+15550001111" || *p.From != "+15559998888" {
		t.Fatalf("expected normalized numbers, got %s %s", *p.To, *p.From)
	}
	if *p.Url != "https://desk.example.com/voice" {
		t.Fatalf("unexpected voice url %s", *p.Url)
	}
	if p.StatusCallback == nil || *p.StatusCallback != "https://desk.example.com/status" {
		t.Fatalf("expected status callback, got %v", p.StatusCallback)
	}
	if p.SendDigits != nil {
		t.Fatalf("no digits requested")
	}
}

func TestDialerOptions(t *testing.T) {
	fc := &fakeCreator{sid: "CA-opt"}
	d := testDialer(Config{}, fc)

	_, err := d.DialWithOptions(context.Background(), "+100", "+200", "https://other.example.com/voice", transports.DialOptions{
		SendDigits:     " W123# ",
		StatusCallback: "https://other.example.com/status",
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	p := fc.last(t)
	if *p.Url != "https://other.example.com/voice" {
		t.Fatalf("expected override url, got %s", *p.Url)
	}
	if p.SendDigits == nil || *p.SendDigits != "W123#" {
		t.Fatalf("expected trimmed digits, got %v", p.SendDigits)
	}
	if *p.StatusCallback != "https://other.example.com/status" {
		t.Fatalf("expected explicit callback, got %s", *p.StatusCallback)
	}
}

func TestDialerFailures(t *testing.T) {
	boom := errors.New("boom")
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	cases := []struct {
		name string
		cfg  Config
		fc   *fakeCreator
		ctx  context.Context
		to   string
		want error
	}{
		{"credentials", Config{AccountSID: "AC1"}, &fakeCreator{sid: "x"}, context.Background(), "+100", ErrDialCredentials},
		{"numbers", Config{}, &fakeCreator{sid: "x"}, context.Background(), "ext.", ErrDialNumbers},
		{"cancelled", Config{}, &fakeCreator{sid: "x"}, cancelled, "+100", context.Canceled},
		{"api", Config{}, &fakeCreator{err: boom}, context.Background(), "+100", boom},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDialer(tc.cfg)
			if tc.cfg.AccountSID == "" {
				d = testDialer(tc.cfg, tc.fc)
			} else {
				d.client = tc.fc
			}
			_, err := d.Dial(tc.ctx, tc.to, "+200", "")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	d := testDialer(Config{}, &fakeCreator{})
	if _, err := d.Dial(context.Background(), "+100", "+200", ""); err == nil {
		t.Fatalf("expected missing sid error")
	}
}
