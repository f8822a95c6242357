// Package automation drives the timesheet site: it waits for the operator to
// log in, then enters each queued occurrence through the site's add-time form.
package automation

import (
	"context"
	"time"
)

// Page is the browser capability the state machine needs. Selectors are CSS
// queries. Waits that run out return an error wrapping model.ErrElementNotFound.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	Click(ctx context.Context, sel string, timeout time.Duration) error
	TypeInto(ctx context.Context, sel, text string, clear bool, timeout time.Duration) error
	SelectOption(ctx context.Context, sel, value string, timeout time.Duration) error

	// ContainerTexts returns the text of childSel inside every containerSel match.
	ContainerTexts(ctx context.Context, containerSel, childSel string, timeout time.Duration) ([]string, error)

	// ClickWithin clicks childSel inside the index-th containerSel match.
	ClickWithin(ctx context.Context, containerSel string, index int, childSel string, timeout time.Duration) error

	Close() error
}

// Launcher opens a Page using the chromedriver binary at driverPath.
type Launcher func(ctx context.Context, driverPath string) (Page, error)

// Selectors locate the timesheet form controls.
type Selectors struct {
	LoginReady string `yaml:"login_ready" json:"login_ready"`

	Container string `yaml:"container" json:"container"`
	Heading   string `yaml:"heading" json:"heading"`
	AddButton string `yaml:"add_button" json:"add_button"`

	Date           string `yaml:"date" json:"date"`
	CancelButton   string `yaml:"cancel_button" json:"cancel_button"`
	PayPeriodInput string `yaml:"pay_period_input" json:"pay_period_input"`
	RetrieveDate   string `yaml:"retrieve_date" json:"retrieve_date"`

	StartTime string `yaml:"start_time" json:"start_time"`
	EndTime   string `yaml:"end_time" json:"end_time"`
	Comments  string `yaml:"comments" json:"comments"`
	Save      string `yaml:"save" json:"save"`

	ErrorBanner    string `yaml:"error_banner" json:"error_banner"`
	ConflictReason string `yaml:"conflict_reason" json:"conflict_reason"`
	Continue       string `yaml:"continue" json:"continue"`
	CancelWarning  string `yaml:"cancel_warning" json:"cancel_warning"`
}

// DefaultSelectors matches the student time-worked page.
func DefaultSelectors() Selectors {
	return Selectors{
		LoginReady: "#addTime",

		Container: ".well.table-responsive",
		Heading:   "h4.sectionHeading",
		AddButton: "a#addTime",

		Date:           "select#date",
		CancelButton:   ".cancelButton",
		PayPeriodInput: "#payPeriodDate2",
		RetrieveDate:   "#retrieveDateLink",

		StartTime: "select#startTime",
		EndTime:   "select#endTime",
		Comments:  "#comments",
		Save:      "#timeSaveOrAddId",

		ErrorBanner:    "#errorMessageHolder",
		ConflictReason: "#classReasonCode",
		Continue:       "#continueId",
		CancelWarning:  ".cancelOnWarningButton",
	}
}

// withDefaults fills empty fields from DefaultSelectors.
func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&s.LoginReady, d.LoginReady)
	fill(&s.Container, d.Container)
	fill(&s.Heading, d.Heading)
	fill(&s.AddButton, d.AddButton)
	fill(&s.Date, d.Date)
	fill(&s.CancelButton, d.CancelButton)
	fill(&s.PayPeriodInput, d.PayPeriodInput)
	fill(&s.RetrieveDate, d.RetrieveDate)
	fill(&s.StartTime, d.StartTime)
	fill(&s.EndTime, d.EndTime)
	fill(&s.Comments, d.Comments)
	fill(&s.Save, d.Save)
	fill(&s.ErrorBanner, d.ErrorBanner)
	fill(&s.ConflictReason, d.ConflictReason)
	fill(&s.Continue, d.Continue)
	fill(&s.CancelWarning, d.CancelWarning)
	return s
}
