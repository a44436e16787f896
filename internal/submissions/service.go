// Package submissions handles the site's contact and lead-magnet forms.
package submissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"vkanalytics/internal/crm"
	"vkanalytics/internal/eventlog"
	"vkanalytics/internal/idempotency"
	"vkanalytics/internal/metrics"
	"vkanalytics/internal/pkg/async"
	"vkanalytics/internal/visitors"
)

// RejectError is a submission turned away with a 400 and a visitor-facing message.
type RejectError struct {
	Message string
}

func (e *RejectError) Error() string {
	return e.Message
}

// Reply is the JSON body returned for an accepted submission.
type Reply struct {
	Message string `json:"message"`
}

// Client describes the request that carried a submission.
type Client struct {
	IP        string
	UserAgent string
}

// Enricher binds identity to a visitor and schedules the return-visit check.
type Enricher interface {
	Enrich(ctx context.Context, visitorID string, identity visitors.Identity) error
	CheckReturnVisit(visitorID string)
}

// Subscriber adds lead-magnet signups to the mailing list.
type Subscriber interface {
	Subscribe(ctx context.Context, email, name, tag string) error
}

// Poster sends a plain text alert to the team chat.
type Poster interface {
	Post(ctx context.Context, text string) error
}

// Options wires a Service. Every integration is optional.
type Options struct {
	Idempotency idempotency.Store
	TTL         time.Duration
	Log         *eventlog.Writer
	CRM         *crm.Resolver
	Mailchimp   Subscriber
	Slack       Poster
	Enricher    Enricher
	Runner      *async.Runner
	SiteBaseURL string
	Logger      *slog.Logger
	Now         func() time.Time
}

type Service struct {
	opts Options
}

func NewService(opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = idempotency.DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{opts: opts}
}

// Submit processes one form post and returns the JSON body to send with a 200.
// A *RejectError means the visitor gets a 400 with its message.
func (s *Service) Submit(ctx context.Context, endpoint Endpoint, body []byte, client Client) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		metrics.Submissions.WithLabelValues(string(endpoint), "malformed").Inc()
		return nil, &RejectError{Message: MessageInvalidRequest}
	}
	if env.HoneypotFilled() {
		metrics.Submissions.WithLabelValues(string(endpoint), "honeypot").Inc()
		s.opts.Logger.Info("Honeypot submission rejected", slog.String("endpoint", string(endpoint)))
		return nil, &RejectError{Message: MessageInvalidRequest}
	}

	key, hasKey := idempotency.NormalizeKey(env.IdempotencyKey)
	if hasKey && s.opts.Idempotency != nil {
		cached, ok, err := s.opts.Idempotency.Get(ctx, key)
		if err != nil {
			s.opts.Logger.Warn("Idempotency lookup failed", slog.Any("error", err))
		} else if ok {
			metrics.IdempotencyHits.Inc()
			metrics.Submissions.WithLabelValues(string(endpoint), "replayed").Inc()
			return cached, nil
		}
	}

	reply, err := s.handle(ctx, endpoint, body, env, client)
	if err != nil {
		var reject *RejectError
		if errors.As(err, &reject) {
			metrics.Submissions.WithLabelValues(string(endpoint), "invalid").Inc()
		}
		return nil, err
	}
	metrics.Submissions.WithLabelValues(string(endpoint), "accepted").Inc()

	out, err := json.Marshal(reply)
	if err != nil {
		return nil, err
	}
	if hasKey && s.opts.Idempotency != nil {
		if err := s.opts.Idempotency.Put(ctx, key, out, s.opts.TTL); err != nil {
			s.opts.Logger.Warn("Failed to cache submission response", slog.Any("error", err))
		}
	}
	return out, nil
}

func (s *Service) handle(ctx context.Context, endpoint Endpoint, body []byte, env Envelope, client Client) (Reply, error) {
	now := s.opts.Now().UTC()

	switch endpoint {
	case EndpointBookACall:
		var f BookACall
		if err := s.decode(body, &f); err != nil {
			return Reply{}, err
		}
		f.Normalize()
		if err := Check(&f); err != nil {
			return Reply{}, reject(err)
		}
		s.logSubmission(endpoint, f, env, client, now)
		s.upsertCRM(ctx, endpoint, crm.Lead{
			Type:        crm.SubmissionCallBooking,
			SubmittedAt: now,
			Name:        f.Name,
			Email:       f.Email,
			Company:     f.Company,
			Website:     f.Website,
			LinkedInURL: f.LinkedInURL,
			Fields:      map[string]string{"phone": f.Phone, "message": f.Message},
		}, env)
		s.alert(fmt.Sprintf("New book-a-call request: %s (%s)", f.Name, f.Email))
		s.enrich(ctx, env, visitors.Identity{Email: f.Email, Name: f.Name})
		return Reply{Message: MessageBookACall}, nil

	case EndpointWebsiteReview:
		var f WebsiteReview
		if err := s.decode(body, &f); err != nil {
			return Reply{}, err
		}
		f.Normalize()
		if err := Check(&f); err != nil {
			return Reply{}, reject(err)
		}
		s.logSubmission(endpoint, f, env, client, now)
		s.upsertCRM(ctx, endpoint, crm.Lead{
			Type:        crm.SubmissionWRVRequest,
			SubmittedAt: now,
			Name:        f.Name,
			Email:       f.Email,
			Company:     f.Company,
			Website:     f.Website,
			LinkedInURL: f.LinkedInURL,
			Fields:      map[string]string{"comments": f.Comments},
		}, env)
		s.alert(fmt.Sprintf("New website review request: %s (%s)", f.Name, firstNonEmpty(f.Website, f.LinkedInURL, "no website")))
		s.enrich(ctx, env, visitors.Identity{Email: f.Email, Name: f.Name})
		return Reply{Message: MessageWebsiteReview}, nil

	case EndpointLead:
		var f Lead
		if err := s.decode(body, &f); err != nil {
			return Reply{}, err
		}
		f.Normalize()
		if err := Check(&f); err != nil {
			return Reply{}, reject(err)
		}
		s.logSubmission(endpoint, f, env, client, now)
		if s.opts.Mailchimp != nil {
			if err := s.opts.Mailchimp.Subscribe(ctx, f.Email, f.Name, f.Tag()); err != nil {
				s.opts.Logger.Error("Mailchimp subscribe failed", slog.String("source", f.Source), slog.Any("error", err))
			}
		}
		s.enrich(ctx, env, visitors.Identity{Email: f.Email, Name: f.Name})
		return Reply{Message: LeadMessage(f.Source)}, nil
	}

	return Reply{}, fmt.Errorf("unknown submission endpoint %q", endpoint)
}

func (s *Service) decode(body []byte, form any) error {
	if err := json.Unmarshal(body, form); err != nil {
		return &RejectError{Message: MessageInvalidRequest}
	}
	return nil
}

func reject(err error) error {
	var fe *FieldError
	if errors.As(err, &fe) {
		return &RejectError{Message: fe.Message}
	}
	return &RejectError{Message: MessageInvalidRequest}
}

// logSubmission appends the accepted form with request metadata to the submissions log.
func (s *Service) logSubmission(endpoint Endpoint, form any, env Envelope, client Client, now time.Time) {
	if s.opts.Log == nil {
		return
	}
	payload := map[string]any{}
	if b, err := json.Marshal(form); err == nil {
		_ = json.Unmarshal(b, &payload)
	}
	payload["type"] = string(endpoint)
	payload["form_id"] = env.FormID
	payload["trigger_button_id"] = env.TriggerButtonID
	payload["modal_trigger_type"] = nullable(env.ModalTriggerType)
	payload["idempotency_key"] = env.IdempotencyKey
	payload["_context"] = env.Context
	payload["_server"] = map[string]any{
		"timestamp":   now.Format(time.RFC3339Nano),
		"ip":          client.IP,
		"userAgent":   client.UserAgent,
		"siteBaseUrl": s.opts.SiteBaseURL,
	}
	if err := s.opts.Log.WriteSubmission(string(endpoint), payload); err != nil {
		s.opts.Logger.Error("Failed to write submissions log", slog.Any("error", err))
	}
}

// upsertCRM writes the lead to the CRM; failures are logged and never reach the visitor.
func (s *Service) upsertCRM(ctx context.Context, endpoint Endpoint, lead crm.Lead, env Envelope) {
	if !s.opts.CRM.Configured() {
		return
	}
	lead.FormID = firstNonEmpty(env.FormID, env.Context.FormID)
	lead.TriggerButtonID = firstNonEmpty(env.TriggerButtonID, env.Context.TriggerButtonID)
	lead.ModalTriggerType = firstNonEmpty(env.ModalTriggerType, env.Context.ModalTriggerType)

	if _, err := s.opts.CRM.Upsert(ctx, lead, env.Context); err != nil {
		s.opts.Logger.Error("CRM upsert failed", slog.String("endpoint", string(endpoint)), slog.Any("error", err))
	}
}

func (s *Service) alert(text string) {
	if s.opts.Slack == nil || s.opts.Runner == nil {
		return
	}
	s.opts.Runner.Submit("slack-submission", func(ctx context.Context) error {
		return s.opts.Slack.Post(ctx, text)
	})
}

// enrich binds the submitted identity to the visitor the site tracked, then
// schedules the return-visit check.
func (s *Service) enrich(ctx context.Context, env Envelope, identity visitors.Identity) {
	visitorID := env.Context.VisitorID
	if visitorID == "" || s.opts.Enricher == nil || identity.Empty() {
		return
	}
	if err := s.opts.Enricher.Enrich(ctx, visitorID, identity); err != nil {
		s.opts.Logger.Error("Failed to enrich visitor", slog.String("visitor_id", visitorID), slog.Any("error", err))
		return
	}
	s.opts.Enricher.CheckReturnVisit(visitorID)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
