package events_test

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkanalytics/internal/events"
)

func TestDecodeMetadata(t *testing.T) {
	pct := 50.0

	tests := []struct {
		name      string
		eventType events.EventType
		obj       events.JSONObject
		expected  events.Metadata
	}{
		{"nil metadata", events.TypeClick, nil, nil},
		{"time on site", events.TypeTimeOnSite, events.JSONObject{"seconds": 42.0}, events.TimeOnSite{Seconds: 42}},
		{"time on site as string", events.TypeTimeOnSite, events.JSONObject{"seconds": "31"}, events.TimeOnSite{Seconds: 31}},
		{"negative seconds fall back", events.TypeTimeOnSite, events.JSONObject{"seconds": -4.0}, events.Raw{"seconds": -4.0}},
		{"form submit", events.TypeFormSubmit, events.JSONObject{"form_id": "form-book-call"}, events.FormSubmit{FormID: "form-book-call"}},
		{"form open shares the shape", events.TypeFormOpen, events.JSONObject{"form_id": "form-lead-50things"}, events.FormSubmit{FormID: "form-lead-50things"}},
		{"form without id", events.TypeFormSubmit, events.JSONObject{"other": true}, events.Raw{"other": true}},
		{"video", events.TypeVideoProgress, events.JSONObject{"name": "intro", "src": "/v.mp4", "pct": 50.0}, events.Video{Name: "intro", Src: "/v.mp4", Pct: &pct}},
		{"video with bad name", events.TypeVideoPlay, events.JSONObject{"name": 7.0}, events.Raw{"name": 7.0}},
		{"other types stay raw", events.TypeFAQOpen, events.JSONObject{"id": "faq-1"}, events.Raw{"id": "faq-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, events.DecodeMetadata(tt.eventType, tt.obj))
		})
	}
}

func TestFormID(t *testing.T) {
	assert.Equal(t, "form-website-review", events.FormID(events.FormSubmit{FormID: "form-website-review"}))
	assert.Empty(t, events.FormID(events.TimeOnSite{Seconds: 3}))
	assert.Empty(t, events.FormID(nil))
}

func TestTypedMetadataKeepsWireKeys(t *testing.T) {
	b, err := json.Marshal(events.TimeOnSite{Seconds: 12})
	require.NoError(t, err)
	assert.JSONEq(t, `{"seconds":12}`, string(b))

	b, err = json.Marshal(events.FormSubmit{FormID: "form-book-call"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"form_id":"form-book-call"}`, string(b))
}

func TestJSONObjectColumn(t *testing.T) {
	var empty events.JSONObject
	v, err := empty.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	obj := events.JSONObject{"form_id": "form-book-call"}
	v, err = obj.Value()
	require.NoError(t, err)

	var scanned events.JSONObject
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, obj, scanned)

	require.NoError(t, scanned.Scan(nil))
	assert.Nil(t, scanned)

	assert.Error(t, scanned.Scan(12))
}
