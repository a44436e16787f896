package visitors

import "time"

// Column limits of the visitors table.
const (
	MaxIDLength       = 64
	MaxIdentityLength = 255
	MaxDisplayLength  = 255
)

// Visitor is one anonymous browser identity. Attribution columns are written
// on insert only and never change afterwards.
type Visitor struct {
	VisitorID             string     `gorm:"column:visitor_id;primaryKey;size:64"`
	FirstSeenAt           time.Time  `gorm:"column:first_seen_at;not null;index"`
	LastSeenAt            time.Time  `gorm:"column:last_seen_at;not null"`
	Referrer              *string    `gorm:"column:referrer;size:512"`
	UTMSource             *string    `gorm:"column:utm_source;size:128"`
	UTMMedium             *string    `gorm:"column:utm_medium;size:128"`
	UTMCampaign           *string    `gorm:"column:utm_campaign;size:256"`
	UTMTerm               *string    `gorm:"column:utm_term;size:256"`
	UTMContent            *string    `gorm:"column:utm_content;size:256"`
	Email                 *string    `gorm:"column:email;size:255"`
	Name                  *string    `gorm:"column:name;size:255"`
	EnrichedAt            *time.Time `gorm:"column:enriched_at"`
	DeviceDisplay         *string    `gorm:"column:device_display;size:255"`
	BrowserDisplay        *string    `gorm:"column:browser_display;size:255"`
	LocationDisplay       *string    `gorm:"column:location_display;size:255"`
	ReturnVisitNotifiedAt *time.Time `gorm:"column:return_visit_notified_at"`
}

// TableName pins the table name used by the raw queries.
func (Visitor) TableName() string {
	return "visitors"
}

// Attribution is the first-touch referrer and UTM snapshot of a visitor.
type Attribution struct {
	Referrer    *string
	UTMSource   *string
	UTMMedium   *string
	UTMCampaign *string
	UTMTerm     *string
	UTMContent  *string
}

// Context holds the descriptive strings derived from the request.
type Context struct {
	DeviceDisplay   string
	BrowserDisplay  string
	LocationDisplay string
}
