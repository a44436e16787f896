package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/slack-go/slack"
	"github.com/sony/gobreaker/v2"
	"github.com/wneessen/go-mail"

	"vkanalytics/internal/config"
	"vkanalytics/internal/pkg/breaker"
)

// ErrChannelOpen is returned while a channel's breaker is open.
var ErrChannelOpen = errors.New("channel temporarily disabled after repeated failures")

// guarded runs a channel behind a circuit breaker.
type guarded struct {
	inner Channel
	cb    *gobreaker.CircuitBreaker[struct{}]
}

// Guard wraps ch with a circuit breaker named after the channel.
func Guard(ch Channel, logger *slog.Logger) Channel {
	return &guarded{
		inner: ch,
		cb:    breaker.New[struct{}]("notify-"+ch.Name(), logger, breaker.Settings{}),
	}
}

func (g *guarded) Name() string { return g.inner.Name() }

func (g *guarded) Send(ctx context.Context, rv ReturnVisit) error {
	_, err := g.cb.Execute(func() (struct{}, error) {
		return struct{}{}, g.inner.Send(ctx, rv)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", g.inner.Name(), ErrChannelOpen)
	}
	return err
}

// MailSender is the part of *mail.Client used by EmailChannel.
type MailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailChannel sends alerts over SMTP.
type EmailChannel struct {
	from   string
	to     []string
	sender MailSender
}

// NewEmailChannel builds the SMTP channel from cfg.
func NewEmailChannel(cfg *config.Config) (*EmailChannel, error) {
	opts := []mail.Option{mail.WithPort(cfg.SMTPPort)}
	if cfg.SMTPSecure {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if cfg.SMTPUser != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTPUser),
			mail.WithPassword(cfg.SMTPPass),
		)
	}

	client, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return NewEmailChannelWithSender(senderAddress(cfg), recipients(cfg.NotificationEmailTo), client), nil
}

// NewEmailChannelWithSender uses an existing sender.
func NewEmailChannelWithSender(from string, to []string, sender MailSender) *EmailChannel {
	return &EmailChannel{from: from, to: to, sender: sender}
}

func (e *EmailChannel) Name() string { return "email" }

// Message renders the alert email.
func (e *EmailChannel) Message(rv ReturnVisit) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(e.from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", e.from, err)
	}
	if err := m.To(e.to...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	m.Subject("Return visit: " + rv.Label())
	m.SetBodyString(mail.TypeTextPlain, rv.Text())
	m.AddAlternativeString(mail.TypeTextHTML,
		html.EscapeString(rv.Label())+" returned to the site just now.<br>Visitor ID: "+html.EscapeString(rv.VisitorID))
	return m, nil
}

func (e *EmailChannel) Send(ctx context.Context, rv ReturnVisit) error {
	m, err := e.Message(rv)
	if err != nil {
		return err
	}
	if err := e.sender.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send return visit email: %w", err)
	}
	return nil
}

func senderAddress(cfg *config.Config) string {
	if strings.Contains(cfg.SMTPUser, "@") {
		return cfg.SMTPUser
	}
	if to := recipients(cfg.NotificationEmailTo); len(to) > 0 {
		return to[0]
	}
	return "noreply@" + cfg.Domain
}

func recipients(list string) []string {
	var out []string
	for _, r := range strings.Split(list, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Slack posts to an incoming webhook.
type Slack struct {
	webhookURL string
}

func NewSlack(webhookURL string) *Slack {
	return &Slack{webhookURL: webhookURL}
}

// Post sends a plain text message.
func (s *Slack) Post(ctx context.Context, text string) error {
	if err := slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{Text: text}); err != nil {
		return fmt.Errorf("failed to post slack webhook: %w", err)
	}
	return nil
}

// SlackChannel sends alerts through a Slack webhook.
type SlackChannel struct {
	slack *Slack
}

func NewSlackChannel(s *Slack) *SlackChannel {
	return &SlackChannel{slack: s}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(ctx context.Context, rv ReturnVisit) error {
	return c.slack.Post(ctx, "Return visit: "+rv.Label()+" – "+rv.Text())
}

// PageCreator is the part of notionapi.PageService used by NotionChannel.
type PageCreator interface {
	Create(ctx context.Context, request *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// NotionChannel logs each alert as a row in a Notion database.
type NotionChannel struct {
	pages      PageCreator
	databaseID string
}

func NewNotionChannel(pages PageCreator, databaseID string) *NotionChannel {
	return &NotionChannel{pages: pages, databaseID: strings.TrimSpace(databaseID)}
}

func (c *NotionChannel) Name() string { return "notion" }

// Request builds the page for one alert.
func (c *NotionChannel) Request(rv ReturnVisit) *notionapi.PageCreateRequest {
	title := rv.Name
	if title == "" {
		title = rv.Email
	}
	if title == "" {
		title = rv.VisitorID
	}
	returnedAt := notionapi.Date(rv.ReturnedAt.UTC())

	return &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(c.databaseID),
		},
		Properties: notionapi.Properties{
			"Name":        notionapi.TitleProperty{Title: plainText(title)},
			"Email":       notionapi.EmailProperty{Email: rv.Email},
			"Visitor ID":  notionapi.RichTextProperty{RichText: plainText(rv.VisitorID)},
			"Returned at": notionapi.DateProperty{Date: &notionapi.DateObject{Start: &returnedAt}},
		},
	}
}

func (c *NotionChannel) Send(ctx context.Context, rv ReturnVisit) error {
	if _, err := c.pages.Create(ctx, c.Request(rv)); err != nil {
		return fmt.Errorf("failed to create notion return visit row: %w", err)
	}
	return nil
}

func plainText(s string) []notionapi.RichText {
	return []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}}
}

// ChannelsFromConfig builds every configured channel, each behind a breaker.
// A channel whose client cannot be created is logged and skipped.
func ChannelsFromConfig(cfg *config.Config, notion *notionapi.Client, logger *slog.Logger) []Channel {
	var channels []Channel

	if cfg.SMTPConfigured() {
		email, err := NewEmailChannel(cfg)
		if err != nil {
			logger.Error("Return visit email disabled", slog.Any("error", err))
		} else {
			channels = append(channels, Guard(email, logger))
		}
	}

	if cfg.SlackWebhookURL != "" {
		channels = append(channels, Guard(NewSlackChannel(NewSlack(cfg.SlackWebhookURL)), logger))
	}

	if cfg.NotionReturnVisitsConfigured() && notion != nil {
		channels = append(channels, Guard(NewNotionChannel(notion.Page, cfg.NotionReturnVisitsDatabaseID), logger))
	}

	return channels
}
