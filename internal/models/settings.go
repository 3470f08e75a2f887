package models

import (
	"fmt"
	"strings"
	"time"
)

// Defaults applied when the settings record is first created.
const (
	DefaultSMTPPort     = 587
	DefaultEmailSubject = "Job Application"
	DefaultDelayMin     = 180
	DefaultDelayMax     = 240
)

// Settings is the singleton configuration record.
type Settings struct {
	SMTPHost   string `json:"smtpHost"`
	SMTPPort   int    `json:"smtpPort"`
	SMTPUser   string `json:"smtpUser"`
	SMTPPass   string `json:"-"`
	SMTPSecure bool   `json:"smtpSecure"`

	EmailSubject string `json:"emailSubject"`
	EmailBody    string `json:"emailBody"`

	// Inclusive bounds, in seconds, for the pause between two sends.
	DelayMin int `json:"delayMin"`
	DelayMax int `json:"delayMax"`

	IsActive       bool   `json:"isActive"`
	ResumeFilename string `json:"resumeFilename,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

func DefaultSettings() Settings {
	return Settings{
		SMTPPort:     DefaultSMTPPort,
		EmailSubject: DefaultEmailSubject,
		DelayMin:     DefaultDelayMin,
		DelayMax:     DefaultDelayMax,
	}
}

// SettingsPatch is a partial update. Nil fields are left alone, and so are
// empty strings: an empty password never clears the stored one.
type SettingsPatch struct {
	SMTPHost       *string `json:"smtpHost,omitempty"`
	SMTPPort       *int    `json:"smtpPort,omitempty"`
	SMTPUser       *string `json:"smtpUser,omitempty"`
	SMTPPass       *string `json:"smtpPass,omitempty"`
	SMTPSecure     *bool   `json:"smtpSecure,omitempty"`
	EmailSubject   *string `json:"emailSubject,omitempty"`
	EmailBody      *string `json:"emailBody,omitempty"`
	DelayMin       *int    `json:"delayMin,omitempty"`
	DelayMax       *int    `json:"delayMax,omitempty"`
	IsActive       *bool   `json:"isActive,omitempty"`
	ResumeFilename *string `json:"resumeFilename,omitempty"`
}

// Apply merges p into s and validates the result. s is left untouched on error.
func (s *Settings) Apply(p SettingsPatch) error {
	next := *s

	setString(&next.SMTPHost, p.SMTPHost)
	setString(&next.SMTPUser, p.SMTPUser)
	setString(&next.SMTPPass, p.SMTPPass)
	setString(&next.EmailSubject, p.EmailSubject)
	setString(&next.EmailBody, p.EmailBody)
	setString(&next.ResumeFilename, p.ResumeFilename)

	if p.SMTPPort != nil {
		next.SMTPPort = *p.SMTPPort
	}
	if p.SMTPSecure != nil {
		next.SMTPSecure = *p.SMTPSecure
	}
	if p.DelayMin != nil {
		next.DelayMin = *p.DelayMin
	}
	if p.DelayMax != nil {
		next.DelayMax = *p.DelayMax
	}
	if p.IsActive != nil {
		next.IsActive = *p.IsActive
	}

	if err := next.Validate(); err != nil {
		return err
	}
	*s = next
	return nil
}

func (s Settings) Validate() error {
	if s.SMTPPort < 1 || s.SMTPPort > 65535 {
		return fmt.Errorf("%w: smtpPort must be between 1 and 65535", ErrValidation)
	}
	if s.DelayMin < 0 {
		return fmt.Errorf("%w: delayMin must not be negative", ErrValidation)
	}
	if s.DelayMax < s.DelayMin {
		return fmt.Errorf("%w: delayMax (%d) must be >= delayMin (%d)", ErrValidation, s.DelayMax, s.DelayMin)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return
	}
	*dst = *v
}
