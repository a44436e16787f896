package notify_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"vkanalytics/internal/notify"
	"vkanalytics/internal/testsupport"
	"vkanalytics/internal/visitors"
)

type fakeChannel struct {
	name    string
	err     error
	started chan struct{}
	block   chan struct{}

	mu   sync.Mutex
	sent []notify.ReturnVisit
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, rv notify.ReturnVisit) error {
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, rv)
	return f.err
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestMaybeNotifyCooldown(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	clock := testsupport.NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	testsupport.CreateVisitor(t, db, testsupport.VisitorFixture{ID: "v-known", Email: "ann@example.com", Name: "Ann"})

	slackCh := &fakeChannel{name: "slack"}
	n := notify.NewReturnVisitNotifier(dbManager, logger, notify.WithClock(clock.Now), notify.WithChannels(slackCh))
	ctx := context.Background()

	fired, err := n.MaybeNotify(ctx, "v-known")
	require.NoError(t, err)
	assert.True(t, fired)

	state, err := visitors.ReturnVisitState(db, "v-known")
	require.NoError(t, err)
	require.NotNil(t, state.ReturnVisitNotifiedAt)
	assert.Equal(t, clock.Now(), state.ReturnVisitNotifiedAt.UTC())

	clock.Advance(30 * time.Minute)
	fired, err = n.MaybeNotify(ctx, "v-known")
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Equal(t, 1, slackCh.count())

	clock.Advance(31 * time.Minute)
	fired, err = n.MaybeNotify(ctx, "v-known")
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, 2, slackCh.count())

	sent := slackCh.sent[1]
	assert.Equal(t, "Ann (ann@example.com)", sent.Label())
	assert.Equal(t, "Ann (ann@example.com) returned to the site just now. Visitor ID: v-known", sent.Text())
}

func TestMaybeNotifySkipsAnonymousVisitors(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	testsupport.CreateVisitor(t, dbManager.GetConnection(), testsupport.VisitorFixture{ID: "v-anon", Name: "No Email"})

	ch := &fakeChannel{name: "slack"}
	n := notify.NewReturnVisitNotifier(dbManager, logger, notify.WithChannels(ch))

	fired, err := n.MaybeNotify(context.Background(), "v-anon")
	require.NoError(t, err)
	assert.False(t, fired)

	fired, err = n.MaybeNotify(context.Background(), "v-missing")
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Zero(t, ch.count())
}

func TestMaybeNotifyIsolatesChannelFailures(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CreateVisitor(t, db, testsupport.VisitorFixture{ID: "v-iso", Email: "bob@example.com"})

	broken := &fakeChannel{name: "email", err: errors.New("smtp down")}
	slackCh := &fakeChannel{name: "slack"}
	notionCh := &fakeChannel{name: "notion", err: errors.New("notion 502")}
	n := notify.NewReturnVisitNotifier(dbManager, logger, notify.WithChannels(broken, slackCh, notionCh))

	fired, err := n.MaybeNotify(context.Background(), "v-iso")
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, 1, broken.count())
	assert.Equal(t, 1, slackCh.count())
	assert.Equal(t, 1, notionCh.count())

	state, err := visitors.ReturnVisitState(db, "v-iso")
	require.NoError(t, err)
	assert.NotNil(t, state.ReturnVisitNotifiedAt, "stamp is written even when channels fail")
}

func TestMaybeNotifyCollapsesOverlappingCalls(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	testsupport.CreateVisitor(t, dbManager.GetConnection(), testsupport.VisitorFixture{ID: "v-race", Email: "cy@example.com"})

	started := make(chan struct{})
	release := make(chan struct{})
	ch := &fakeChannel{name: "slack", started: started, block: release}
	n := notify.NewReturnVisitNotifier(dbManager, logger, notify.WithChannels(ch))

	done := make(chan bool)
	go func() {
		fired, _ := n.MaybeNotify(context.Background(), "v-race")
		done <- fired
	}()
	<-started

	fired, err := n.MaybeNotify(context.Background(), "v-race")
	require.NoError(t, err)
	assert.False(t, fired)

	close(release)
	assert.True(t, <-done)
	assert.Equal(t, 1, ch.count())
}

func TestNotifierWithoutStore(t *testing.T) {
	ch := &fakeChannel{name: "slack"}
	n := notify.NewReturnVisitNotifier(nil, testsupport.GetLogger(), notify.WithChannels(ch))

	fired, err := n.MaybeNotify(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Equal(t, []string{"slack"}, n.Channels())
}

type fakeSender struct {
	msgs []*mail.Msg
}

func (f *fakeSender) DialAndSendWithContext(_ context.Context, messages ...*mail.Msg) error {
	f.msgs = append(f.msgs, messages...)
	return nil
}

func TestEmailChannel(t *testing.T) {
	sender := &fakeSender{}
	ch := notify.NewEmailChannelWithSender("alerts@vanillakiller.com", []string{"team@vanillakiller.com"}, sender)

	err := ch.Send(context.Background(), notify.ReturnVisit{VisitorID: "v1", Email: "ann@example.com", Name: "Ann"})
	require.NoError(t, err)
	require.Len(t, sender.msgs, 1)
	assert.Equal(t, []string{"Return visit: Ann (ann@example.com)"}, sender.msgs[0].GetGenHeader(mail.HeaderSubject))

	bad := notify.NewEmailChannelWithSender("not an address", []string{"team@vanillakiller.com"}, sender)
	assert.Error(t, bad.Send(context.Background(), notify.ReturnVisit{VisitorID: "v1", Email: "ann@example.com"}))
}

func TestSlackChannel(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := notify.NewSlackChannel(notify.NewSlack(srv.URL))
	require.NoError(t, ch.Send(context.Background(), notify.ReturnVisit{VisitorID: "v9", Email: "dee@example.com"}))
	assert.Equal(t, "Return visit: dee@example.com – dee@example.com returned to the site just now. Visitor ID: v9", payload["text"])
}

func TestSlackChannelBreakerOpens(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := notify.Guard(notify.NewSlackChannel(notify.NewSlack(srv.URL)), testsupport.GetLogger())
	rv := notify.ReturnVisit{VisitorID: "v9", Email: "dee@example.com"}
	for i := 0; i < 5; i++ {
		assert.Error(t, ch.Send(context.Background(), rv))
	}
	err := ch.Send(context.Background(), rv)
	assert.ErrorIs(t, err, notify.ErrChannelOpen)
	assert.Equal(t, 5, calls)
}

type fakePages struct {
	requests []*notionapi.PageCreateRequest
}

func (f *fakePages) Create(_ context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	f.requests = append(f.requests, req)
	return &notionapi.Page{ID: "page-1"}, nil
}

func TestNotionChannel(t *testing.T) {
	pages := &fakePages{}
	ch := notify.NewNotionChannel(pages, " db-123 ")
	returned := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, ch.Send(context.Background(), notify.ReturnVisit{VisitorID: "v1", Email: "ann@example.com", ReturnedAt: returned}))
	require.Len(t, pages.requests, 1)
	req := pages.requests[0]
	assert.Equal(t, notionapi.DatabaseID("db-123"), req.Parent.DatabaseID)

	title := req.Properties["Name"].(notionapi.TitleProperty)
	assert.Equal(t, "ann@example.com", title.Title[0].Text.Content)
	assert.Equal(t, "ann@example.com", req.Properties["Email"].(notionapi.EmailProperty).Email)
	visitor := req.Properties["Visitor ID"].(notionapi.RichTextProperty)
	assert.Equal(t, "v1", visitor.RichText[0].Text.Content)
	date := req.Properties["Returned at"].(notionapi.DateProperty)
	assert.Equal(t, returned, time.Time(*date.Date.Start))
}
