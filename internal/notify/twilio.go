package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/StatusPipe/internal/logfields"
	"github.com/BTreeMap/StatusPipe/internal/models"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageCreator is the slice of the Twilio REST API used for delivery.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioOpts holds configuration for the Twilio SMS sender.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

// TwilioOption configures a TwilioSender.
type TwilioOption func(*TwilioOpts)

func WithAccountSID(sid string) TwilioOption  { return func(o *TwilioOpts) { o.AccountSID = sid } }
func WithAuthToken(token string) TwilioOption { return func(o *TwilioOpts) { o.AuthToken = token } }
func WithFrom(from string) TwilioOption       { return func(o *TwilioOpts) { o.From = from } }
func WithTo(to string) TwilioOption           { return func(o *TwilioOpts) { o.To = to } }

// TwilioSender delivers fired notifications as SMS to the user's handset.
type TwilioSender struct {
	api  messageCreator
	from string
	to   string
}

func NewTwilioSender(opts ...TwilioOption) (*TwilioSender, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewTwilioSender: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"To_set", cfg.To != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" || cfg.To == "" {
		return nil, fmt.Errorf("from and to numbers must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioSender(client.Api, cfg.From, cfg.To), nil
}

func newTwilioSender(api messageCreator, from, to string) *TwilioSender {
	return &TwilioSender{api: api, from: from, to: to}
}

func (s *TwilioSender) Send(ctx context.Context, id string, n models.Notification) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(s.to)
	params.SetFrom(s.from)
	params.SetBody(n.Title + "\n" + n.Body)

	if _, err := s.api.CreateMessage(params); err != nil {
		slog.Error("TwilioSender.Send: create message failed", logfields.Notification(id), logfields.Error(err))
		return fmt.Errorf("failed to send notification %s: %w", id, err)
	}
	slog.Debug("TwilioSender.Send: notification sent", logfields.Notification(id))
	return nil
}
