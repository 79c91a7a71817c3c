package twilio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/voicedesk/pkg/business"
	"github.com/harunnryd/voicedesk/pkg/transports"
)

var (
	ErrDialNumbers     = errors.New("dial: to and from numbers are required")
	ErrDialCredentials = errors.New("dial: missing twilio credentials")
)

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// Dialer rings a configured business number so the call comes back through
// the voice webhook like any inbound caller.
type Dialer struct {
	cfg    Config
	client callCreator
}

func NewDialer(cfg Config) *Dialer {
	return &Dialer{cfg: cfg.withDefaults()}
}

func (d *Dialer) Dial(ctx context.Context, to, from, url string) (string, error) {
	return d.DialWithOptions(ctx, to, from, url, transports.DialOptions{})
}

// DialWithOptions places the call. Numbers are normalized the same way the
// directory keys them; an empty url points at this server's voice webhook.
func (d *Dialer) DialWithOptions(ctx context.Context, to, from, url string, opts transports.DialOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	to, from = business.NormalizeNumber(to), business.NormalizeNumber(from)
	if to == "" || from == "" {
		return "", ErrDialNumbers
	}
	if !d.cfg.hasCredentials() {
		return "", ErrDialCredentials
	}
	resp, err := d.creator().CreateCall(d.callParams(to, from, url, opts))
	if err != nil {
		return "", fmt.Errorf("create call: %w", err)
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return "", errors.New("create call: response has no call sid")
	}
	return *resp.Sid, nil
}

func (d *Dialer) creator() callCreator {
	if d.client != nil {
		return d.client
	}
	return twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: d.cfg.AccountSID,
		Password: d.cfg.AuthToken,
	}).Api
}

func (d *Dialer) callParams(to, from, url string, opts transports.DialOptions) *api.CreateCallParams {
	if url == "" {
		url = publicURL(d.cfg, d.cfg.VoicePath)
	}
	p := &api.CreateCallParams{}
	p.SetTo(to)
	p.SetFrom(from)
	p.SetUrl(url)
	if digits := strings.TrimSpace(opts.SendDigits); digits != "" {
		p.SetSendDigits(digits)
	}
	callback := opts.StatusCallback
	if callback == "" && d.cfg.PublicURL != "" {
		callback = publicURL(d.cfg, d.cfg.StatusCallbackPath)
	}
	// Without a status callback an unanswered test call never reaches
	// OnUnstreamed.
	if callback != "" {
		p.SetStatusCallback(callback)
		p.SetStatusCallbackEvent([]string{"completed"})
	}
	return p
}

var (
	_ transports.OutboundDialer            = (*Dialer)(nil)
	_ transports.OutboundDialerWithOptions = (*Dialer)(nil)
)
