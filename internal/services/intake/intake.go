package intake

import (
	"regexp"
	"strings"
	"time"

	"github.com/BearBump/PickupRelay/internal/models"
	"github.com/pkg/errors"
)

var ErrValidation = errors.New("invalid pickup submission")

const (
	Today        = "Today"
	DateLayout   = "Monday, 02 January"
	isoDate      = "2006-01-02"
	maxDaysAhead = 14

	maxLocation = 200
	maxRemarks  = 500
)

var contactRe = regexp.MustCompile(`^\+?[0-9]{5,16}$`)

// Payload is what the intake front-end submits.
type Payload struct {
	Location      string `json:"location"`
	Date          string `json:"date"`
	TimeWindow    string `json:"timeWindow"`
	Remarks       string `json:"remarks"`
	ContactNumber string `json:"contactNumber"`
	WaitMinutes   int    `json:"waitMinutes"`
}

type Validator struct {
	loc         *time.Location
	defaultWait time.Duration
	maxWait     time.Duration
}

func NewValidator(loc *time.Location, defaultWait, maxWait time.Duration) *Validator {
	if loc == nil {
		loc = time.Local
	}
	if defaultWait <= 0 {
		defaultWait = 15 * time.Minute
	}
	if maxWait < defaultWait {
		maxWait = defaultWait
	}
	return &Validator{loc: loc, defaultWait: defaultWait, maxWait: maxWait}
}

// Validate turns a payload into request fields and a wait window.
// Every failure wraps ErrValidation.
func (v *Validator) Validate(p Payload, now time.Time) (models.PickupFields, time.Duration, error) {
	now = now.In(v.loc)

	contact := strings.TrimSpace(p.ContactNumber)
	if contact == "" {
		return models.PickupFields{}, 0, errors.Wrap(ErrValidation, "contactNumber is required")
	}
	if !contactRe.MatchString(models.NormalizeContact(contact)) {
		return models.PickupFields{}, 0, errors.Wrap(ErrValidation, "contactNumber is not a phone number")
	}

	date, today, err := v.date(strings.TrimSpace(p.Date), now)
	if err != nil {
		return models.PickupFields{}, 0, err
	}

	window := strings.TrimSpace(p.TimeWindow)
	if window == "" {
		return models.PickupFields{}, 0, errors.Wrap(ErrValidation, "timeWindow is required")
	}
	if !contains(TimeWindows(now, today), window) {
		return models.PickupFields{}, 0, errors.Wrapf(ErrValidation, "timeWindow %q is not offered", window)
	}

	location := strings.TrimSpace(p.Location)
	remarks := strings.TrimSpace(p.Remarks)
	if len(location) > maxLocation {
		return models.PickupFields{}, 0, errors.Wrapf(ErrValidation, "location longer than %d", maxLocation)
	}
	if len(remarks) > maxRemarks {
		return models.PickupFields{}, 0, errors.Wrapf(ErrValidation, "remarks longer than %d", maxRemarks)
	}

	wait := v.defaultWait
	switch {
	case p.WaitMinutes < 0:
		return models.PickupFields{}, 0, errors.Wrap(ErrValidation, "waitMinutes must not be negative")
	case p.WaitMinutes > 0:
		wait = time.Duration(p.WaitMinutes) * time.Minute
		if wait > v.maxWait {
			return models.PickupFields{}, 0, errors.Wrapf(ErrValidation, "waitMinutes above %d", int(v.maxWait/time.Minute))
		}
	}

	return models.PickupFields{
		Location:      location,
		Date:          date,
		TimeWindow:    window,
		Remarks:       remarks,
		ContactNumber: contact,
	}, wait, nil
}

func (v *Validator) date(raw string, now time.Time) (string, bool, error) {
	if raw == "" || strings.EqualFold(raw, Today) {
		return now.Format(DateLayout), true, nil
	}
	d, err := time.ParseInLocation(isoDate, raw, v.loc)
	if err != nil {
		return "", false, errors.Wrapf(ErrValidation, "date %q: want %q or YYYY-MM-DD", raw, Today)
	}
	days := calendarDays(now, d)
	if days < 0 || days > maxDaysAhead {
		return "", false, errors.Wrapf(ErrValidation, "date %s outside the next %d days", raw, maxDaysAhead)
	}
	return d.Format(DateLayout), days == 0, nil
}

// calendarDays counts midnights between the local dates of from and to.
// Counting in UTC keeps 23h and 25h DST days at exactly one.
func calendarDays(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a) / (24 * time.Hour))
}

// TimeWindow is one pickup slot choice. StartHour is the hour after which
// the slot is no longer offered for today; -1 means always offered.
type TimeWindow struct {
	Label     string `json:"label"`
	StartHour int    `json:"-"`
}

var windows = []TimeWindow{
	{Label: "Before 14:00", StartHour: 14},
	{Label: "14:00 - 16:00", StartHour: 16},
	{Label: "16:00 - 18:00", StartHour: 18},
	{Label: "18:00 - 20:00", StartHour: 20},
	{Label: "20:00 - 22:00", StartHour: 22},
	{Label: "After 22:00", StartHour: -1},
}

// TimeWindows lists the slot labels offered for a day. For today, slots
// that have already ended are dropped.
func TimeWindows(now time.Time, today bool) []string {
	out := make([]string, 0, len(windows))
	for _, w := range windows {
		if today && w.StartHour >= 0 && now.Hour() >= w.StartHour {
			continue
		}
		out = append(out, w.Label)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
