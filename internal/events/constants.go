package events

// EventType names a tracked visitor interaction.
type EventType string

const (
	TypeClick           EventType = "click"
	TypeVideoPlay       EventType = "video_play"
	TypeVideoPause      EventType = "video_pause"
	TypeVideoEnded      EventType = "video_ended"
	TypeVideoProgress   EventType = "video_progress"
	TypeFormOpen        EventType = "form_open"
	TypeFormSubmit      EventType = "form_submit"
	TypeFAQOpen         EventType = "faq_open"
	TypeScopeOpen       EventType = "scope_open"
	TypeExpanderOpen    EventType = "expander_open"
	TypeEasterEggStar   EventType = "easter_egg_star"
	TypeTCOpen          EventType = "tc_open"
	TypePrivacyOpen     EventType = "privacy_open"
	TypeCalLinkClick    EventType = "cal_link_click"
	TypeTimeOnSite      EventType = "time_on_site"
	TypeMenuOpen        EventType = "menu_open"
	TypeMenuClose       EventType = "menu_close"
	TypeModalClose      EventType = "modal_close"
	TypeVideoModalClose EventType = "video_modal_close"
	TypeThemeSwitch     EventType = "theme_switch"
)

// Form identifiers carried in form_submit metadata.
const (
	FormBookCall      = "form-book-call"
	FormWebsiteReview = "form-website-review"
	LeadFormPrefix    = "form-lead-"
)

// MaxBatchSize caps the number of events accepted in one ingestion request.
const MaxBatchSize = 20

// Column limits of the events table.
const (
	maxVisitorIDLength = 64
	maxEventTypeLength = 64
	maxURLLength       = 512
	maxUTMShortLength  = 128
	maxUTMLongLength   = 256
)

var allowedEventTypes = []EventType{
	TypeClick, TypeVideoPlay, TypeVideoPause, TypeVideoEnded, TypeVideoProgress,
	TypeFormOpen, TypeFormSubmit, TypeFAQOpen, TypeScopeOpen, TypeExpanderOpen,
	TypeEasterEggStar, TypeTCOpen, TypePrivacyOpen, TypeCalLinkClick, TypeTimeOnSite,
	TypeMenuOpen, TypeMenuClose, TypeModalClose, TypeVideoModalClose, TypeThemeSwitch,
}

var allowedSet = func() map[EventType]struct{} {
	m := make(map[EventType]struct{}, len(allowedEventTypes))
	for _, t := range allowedEventTypes {
		m[t] = struct{}{}
	}
	return m
}()

// AllowedEventTypes returns a copy of the accepted event types.
func AllowedEventTypes() []EventType {
	out := make([]EventType, len(allowedEventTypes))
	copy(out, allowedEventTypes)
	return out
}

// IsAllowed reports whether t is an accepted event type.
func IsAllowed(t string) bool {
	_, ok := allowedSet[EventType(t)]
	return ok
}

// IsVideo reports whether the type belongs to the video family.
func (t EventType) IsVideo() bool {
	switch t {
	case TypeVideoPlay, TypeVideoPause, TypeVideoEnded, TypeVideoProgress:
		return true
	}
	return false
}
