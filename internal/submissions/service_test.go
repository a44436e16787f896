package submissions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkanalytics/internal/crm"
	"vkanalytics/internal/eventlog"
	"vkanalytics/internal/idempotency"
	"vkanalytics/internal/pkg/async"
	"vkanalytics/internal/visitors"
)

type fakeEnricher struct {
	mu       sync.Mutex
	enriched map[string]visitors.Identity
	checked  []string
}

func (f *fakeEnricher) Enrich(_ context.Context, visitorID string, identity visitors.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enriched == nil {
		f.enriched = map[string]visitors.Identity{}
	}
	f.enriched[visitorID] = identity
	return nil
}

func (f *fakeEnricher) CheckReturnVisit(visitorID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, visitorID)
}

type fakeSubscriber struct {
	calls [][3]string
	err   error
}

func (f *fakeSubscriber) Subscribe(_ context.Context, email, name, tag string) error {
	f.calls = append(f.calls, [3]string{email, name, tag})
	return f.err
}

type fakePoster struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakePoster) Post(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

type harness struct {
	svc        *Service
	store      *crm.MemoryStore
	enricher   *fakeEnricher
	subscriber *fakeSubscriber
	poster     *fakePoster
	runner     *async.Runner
	logPath    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		store:      crm.NewMemoryStore(),
		enricher:   &fakeEnricher{},
		subscriber: &fakeSubscriber{},
		poster:     &fakePoster{},
		runner:     async.NewRunner(logger, time.Second),
		logPath:    filepath.Join(t.TempDir(), "submissions.log"),
	}
	w := eventlog.New(h.logPath, 10)
	t.Cleanup(func() { w.Close() })

	h.svc = NewService(Options{
		Idempotency: idempotency.NewMemoryStore(),
		Log:         w,
		CRM:         crm.NewResolver(h.store, logger),
		Mailchimp:   h.subscriber,
		Slack:       h.poster,
		Enricher:    h.enricher,
		Runner:      h.runner,
		SiteBaseURL: "https://vanillakiller.com",
		Logger:      logger,
		Now:         func() time.Time { return time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC) },
	})
	return h
}

func (h *harness) submit(t *testing.T, endpoint Endpoint, body string) (string, error) {
	t.Helper()
	out, err := h.svc.Submit(context.Background(), endpoint, []byte(body), Client{IP: "203.0.113.9", UserAgent: "test"})
	return string(out), err
}

func rejectMessage(t *testing.T, err error) string {
	t.Helper()
	var r *RejectError
	require.True(t, errors.As(err, &r), "expected RejectError, got %v", err)
	return r.Message
}

func TestBookACall(t *testing.T) {
	h := newHarness(t)

	out, err := h.submit(t, EndpointBookACall, `{
		"name": " Jane Doe ", "email": "jane@example.com", "website": "https://acme.com/?utm_source=x",
		"message": "Hello", "form_id": "form-book-call", "trigger_button_id": "hero-cta",
		"_context": {"visitor_id": "v-1", "utm_source": "newsletter"}
	}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"Thanks — we'll be in touch soon."}`, out)

	rows := h.store.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Jane Doe", rows[0].Record.Title)
	assert.Equal(t, "https://acme.com/", rows[0].Record.WebsiteURL)
	assert.Equal(t, crm.StatusIncomingEnquiry, rows[0].Record.Status)
	notes := strings.Join(rows[0].Body, "")
	assert.Contains(t, notes, "Form ID: form-book-call")
	assert.Contains(t, notes, "Trigger button ID: hero-cta")
	assert.Contains(t, notes, "  message: Hello")

	assert.Equal(t, visitors.Identity{Email: "jane@example.com", Name: "Jane Doe"}, h.enricher.enriched["v-1"])
	assert.Equal(t, []string{"v-1"}, h.enricher.checked)

	h.runner.Wait()
	assert.Equal(t, []string{"New book-a-call request: Jane Doe (jane@example.com)"}, h.poster.texts)

	content, err := os.ReadFile(h.logPath)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(content))), &line))
	assert.Equal(t, "book-a-call", line["endpoint"])
	assert.Equal(t, "Jane Doe", line["name"])
	assert.Nil(t, line["modal_trigger_type"])
	assert.Equal(t, "203.0.113.9", line["_server"].(map[string]any)["ip"])
}

func TestValidationMessages(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		endpoint Endpoint
		body     string
		want     string
	}{
		{EndpointBookACall, `{"email":"jane@example.com"}`, "Name is required."},
		{EndpointBookACall, `{"name":"Jane"}`, "Email is required."},
		{EndpointBookACall, `{"name":"Jane","email":"jane@example"}`, "Please enter a valid email address."},
		{EndpointBookACall, `{"name":"Jane","email":"jane@example.com","website":"acme"}`, "Please enter a valid website address."},
		{EndpointBookACall, `{"name":"Jane","email":"jane@example.com","linkedin_url":"nope"}`, "Please enter a valid LinkedIn URL."},
		{EndpointBookACall, `{"name":"Jane","email":"jane@example.com","message":"` + strings.Repeat("a", MaxMessage+1) + `"}`, "Message is too long."},
		{EndpointWebsiteReview, `{"name":"  "}`, "Name is required."},
		{EndpointWebsiteReview, `{"name":"Jane","website":"acme"}`, "Please enter a valid website URL."},
		{EndpointWebsiteReview, `{"name":"Jane","comments":"` + strings.Repeat("a", MaxComments+1) + `"}`, "Comments are too long."},
		{EndpointLead, `{"name":"Jane","email":"jane@example.com","source":"lead-other"}`, "Invalid lead source."},
		{EndpointLead, `{"name":"Jane","email":"","source":"lead-50things"}`, "Email is required."},
		{EndpointLead, `not json`, MessageInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(string(tt.endpoint)+"/"+tt.want, func(t *testing.T) {
			_, err := h.submit(t, tt.endpoint, tt.body)
			assert.Equal(t, tt.want, rejectMessage(t, err))
		})
	}
	assert.Empty(t, h.store.Rows())
}

func TestLongNameIsTruncatedNotRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.submit(t, EndpointWebsiteReview, `{"name":"`+strings.Repeat("n", MaxName+50)+`"}`)
	require.NoError(t, err)
	assert.Len(t, h.store.Rows()[0].Record.Title, MaxName)
}

func TestHoneypotRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.submit(t, EndpointBookACall, `{"name":"Bot","email":"bot@example.com","_hp":"http://spam"}`)
	assert.Equal(t, MessageInvalidRequest, rejectMessage(t, err))
	assert.Empty(t, h.store.Rows())

	_, err = h.submit(t, EndpointBookACall, `{"name":"Jane","email":"jane@example.com","_hp":""}`)
	assert.NoError(t, err)
}

func TestIdempotentReplay(t *testing.T) {
	h := newHarness(t)
	body := `{"name":"Jane","email":"jane@example.com","source":"lead-offboarding","idempotency_key":"k-1"}`

	first, err := h.submit(t, EndpointLead, body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"Thanks! Check your email for the offboarding guide."}`, first)

	second, err := h.submit(t, EndpointLead, body)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, h.subscriber.calls, 1, "replayed submission has no side effects")
}

func TestLeadSubscribes(t *testing.T) {
	h := newHarness(t)
	h.subscriber.err = errors.New("mailchimp down")

	out, err := h.submit(t, EndpointLead, `{"name":"Jane Doe","email":"jane@example.com","source":"lead-50things","mailchimp_tag":"checklist"}`)
	require.NoError(t, err, "mailchimp failures never reach the visitor")
	assert.JSONEq(t, `{"message":"Thanks! Check your email for the checklist."}`, out)
	assert.Equal(t, [][3]string{{"jane@example.com", "Jane Doe", "checklist"}}, h.subscriber.calls)
	assert.Empty(t, h.enricher.checked, "no visitor context, no enrichment")
}

func TestParseEndpoint(t *testing.T) {
	e, ok := ParseEndpoint("website-review")
	assert.True(t, ok)
	assert.Equal(t, EndpointWebsiteReview, e)

	_, ok = ParseEndpoint("newsletter")
	assert.False(t, ok)
}
