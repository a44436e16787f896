package submissions

import (
	"errors"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	MaxName     = 200
	MaxEmail    = 254
	MaxURL      = 2048
	MaxMessage  = 5000
	MaxComments = 3000
	MaxPhone    = 50
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Validator returns the shared validator with the form rules registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("formemail", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return len(s) <= MaxEmail && emailRe.MatchString(s)
		})
	})
	return validate
}

// FieldError is the first rule a form failed, with the message shown to the visitor.
type FieldError struct {
	Field   string
	Tag     string
	Message string
}

func (e *FieldError) Error() string {
	return e.Message
}

// messages maps Struct.Field.tag to the visitor-facing text.
var messages = map[string]string{
	"BookACall.Name.required":       "Name is required.",
	"BookACall.Email.required":      "Email is required.",
	"BookACall.Email.formemail":     "Please enter a valid email address.",
	"BookACall.Website.url":         "Please enter a valid website address.",
	"BookACall.Website.max":         "Please enter a valid website address.",
	"BookACall.LinkedInURL.url":     "Please enter a valid LinkedIn URL.",
	"BookACall.LinkedInURL.max":     "Please enter a valid LinkedIn URL.",
	"BookACall.Message.max":         "Message is too long.",
	"WebsiteReview.Name.required":   "Name is required.",
	"WebsiteReview.Email.formemail": "Please enter a valid email address.",
	"WebsiteReview.Website.url":     "Please enter a valid website URL.",
	"WebsiteReview.Website.max":     "Please enter a valid website URL.",
	"WebsiteReview.LinkedInURL.url": "Please enter a valid LinkedIn URL.",
	"WebsiteReview.LinkedInURL.max": "Please enter a valid LinkedIn URL.",
	"WebsiteReview.Comments.max":    "Comments are too long.",
	"Lead.Name.required":            "Name is required.",
	"Lead.Email.required":           "Email is required.",
	"Lead.Email.formemail":          "Please enter a valid email address.",
	"Lead.Source.oneof":             "Invalid lead source.",
}

// Check validates a form struct and returns the first failure as a *FieldError.
func Check(form any) error {
	err := Validator().Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	msg, ok := messages[fe.StructNamespace()+"."+fe.Tag()]
	if !ok {
		msg = "Invalid " + strings.ToLower(fe.Field()) + "."
	}
	return &FieldError{Field: fe.Field(), Tag: fe.Tag(), Message: msg}
}

// clip trims s and cuts it to max runes.
func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
