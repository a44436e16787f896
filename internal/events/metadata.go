package events

import (
	"math"
	"strconv"
	"strings"
)

// Metadata is the typed view of an event's metadata. The concrete type is
// chosen by the event type; shapes that do not fit fall back to Raw.
type Metadata interface {
	isMetadata()
}

// TimeOnSite carries the dwell time reported by time_on_site events.
type TimeOnSite struct {
	Seconds uint32 `json:"seconds"`
}

// FormSubmit carries the form identifier of form_open and form_submit events.
type FormSubmit struct {
	FormID string `json:"form_id"`
}

// Video carries the player details of video_* events.
type Video struct {
	Name string   `json:"name,omitempty"`
	Src  string   `json:"src,omitempty"`
	Pct  *float64 `json:"pct,omitempty"`
}

// Raw is an opaque metadata object.
type Raw map[string]any

func (TimeOnSite) isMetadata() {}
func (FormSubmit) isMetadata() {}
func (Video) isMetadata()      {}
func (Raw) isMetadata()        {}

// DecodeMetadata interprets obj according to the event type. It never fails:
// a nil object yields nil and an unexpected shape yields Raw.
func DecodeMetadata(t EventType, obj JSONObject) Metadata {
	if obj == nil {
		return nil
	}

	switch {
	case t == TypeTimeOnSite:
		if secs, ok := seconds(obj["seconds"]); ok {
			return TimeOnSite{Seconds: secs}
		}
	case t == TypeFormSubmit || t == TypeFormOpen:
		if id, ok := obj["form_id"].(string); ok && id != "" {
			return FormSubmit{FormID: id}
		}
	case t.IsVideo():
		if v, ok := video(obj); ok {
			return v
		}
	}
	return Raw(obj)
}

// FormID returns the form identifier when m is a FormSubmit.
func FormID(m Metadata) string {
	if f, ok := m.(FormSubmit); ok {
		return f.FormID
	}
	return ""
}

func seconds(v any) (uint32, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || f < 0 || f > math.MaxUint32 {
		return 0, false
	}
	return uint32(f), true
}

func video(obj JSONObject) (Video, bool) {
	var v Video
	if raw, present := obj["name"]; present {
		s, ok := raw.(string)
		if !ok {
			return Video{}, false
		}
		v.Name = s
	}
	if raw, present := obj["src"]; present {
		s, ok := raw.(string)
		if !ok {
			return Video{}, false
		}
		v.Src = s
	}
	if raw, present := obj["pct"]; present && raw != nil {
		pct, ok := raw.(float64)
		if !ok {
			return Video{}, false
		}
		v.Pct = &pct
	}
	return v, true
}
