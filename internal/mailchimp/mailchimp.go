// Package mailchimp adds lead-magnet signups to the marketing audience.
package mailchimp

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"vkanalytics/internal/config"
	"vkanalytics/internal/pkg/breaker"
)

var (
	ErrNotConfigured = errors.New("Mailchimp not configured")
	ErrUnavailable   = errors.New("Mailchimp temporarily disabled after repeated failures")
)

// APIError is a non-2xx answer from the Mailchimp API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mailchimp: status %d: %s", e.Status, e.Body)
}

// Options configures a Client. BaseURL defaults to the datacenter host
// derived from ServerPrefix.
type Options struct {
	APIKey       string
	ServerPrefix string
	AudienceID   string
	BaseURL      string
	HTTPClient   *http.Client
}

// Client talks to the Mailchimp marketing API v3.
type Client struct {
	opts   Options
	http   *http.Client
	cb     *gobreaker.CircuitBreaker[struct{}]
	logger *slog.Logger
}

// New returns a client. Missing credentials are reported by Subscribe,
// not here.
func New(opts Options, logger *slog.Logger) *Client {
	if opts.BaseURL == "" && opts.ServerPrefix != "" {
		opts.BaseURL = fmt.Sprintf("https://%s.api.mailchimp.com/3.0", opts.ServerPrefix)
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		opts:   opts,
		http:   hc,
		cb:     breaker.New[struct{}]("mailchimp", logger, breaker.Settings{}),
		logger: logger,
	}
}

// NewFromConfig builds a client from the application config.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Client {
	return New(Options{
		APIKey:       cfg.MailchimpAPIKey,
		ServerPrefix: cfg.MailchimpServerPrefix,
		AudienceID:   cfg.MailchimpAudienceID,
	}, logger)
}

// Configured reports whether Subscribe can reach an audience.
func (c *Client) Configured() bool {
	return c != nil && c.opts.APIKey != "" && c.opts.BaseURL != "" && c.opts.AudienceID != ""
}

// SubscriberHash is Mailchimp's member id: md5 of the lower-cased address.
func SubscriberHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// SplitName splits a full name into Mailchimp's FNAME and LNAME.
func SplitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

type mergeFields struct {
	FName string `json:"FNAME"`
	LName string `json:"LNAME"`
}

type memberRequest struct {
	EmailAddress string      `json:"email_address"`
	StatusIfNew  string      `json:"status_if_new"`
	MergeFields  mergeFields `json:"merge_fields"`
}

type tag struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type tagsRequest struct {
	Tags []tag `json:"tags"`
}

// Subscribe adds or updates the member and then adds tag without
// touching the member's other tags.
func (c *Client) Subscribe(ctx context.Context, email, name, tagName string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	_, err := c.cb.Execute(func() (struct{}, error) {
		return struct{}{}, c.subscribe(ctx, email, name, tagName)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}
	return err
}

func (c *Client) subscribe(ctx context.Context, email, name, tagName string) error {
	memberURL := fmt.Sprintf("%s/lists/%s/members/%s", c.opts.BaseURL, c.opts.AudienceID, SubscriberHash(email))
	first, last := SplitName(name)

	err := c.do(ctx, http.MethodPut, memberURL, memberRequest{
		EmailAddress: strings.TrimSpace(email),
		StatusIfNew:  "subscribed",
		MergeFields:  mergeFields{FName: first, LName: last},
	})
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}

	if err := c.do(ctx, http.MethodPost, memberURL+"/tags", tagsRequest{Tags: []tag{{Name: tagName, Status: "active"}}}); err != nil {
		return fmt.Errorf("add tag %q: %w", tagName, err)
	}

	c.logger.Info("Mailchimp member subscribed", slog.String("tag", tagName))
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("anystring", c.opts.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		text := strings.TrimSpace(string(b))
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Body: text}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
