package composer

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/PickupRelay/internal/models"
)

const (
	ButtonText       = "CONFIRM PICK-UP! Click and START."
	notSpecified     = "Not specified"
	deadlineLayout   = "15:04"
	deepLinkTemplate = "https://t.me/%s?start=%s"
)

// Composer renders every outbound text. All user-supplied values are
// HTML-escaped because the gateway sends in HTML parse mode.
type Composer struct {
	botUsername string
	loc         *time.Location
	retention   time.Duration
}

func New(botUsername string, loc *time.Location, retention time.Duration) *Composer {
	if loc == nil {
		loc = time.Local
	}
	return &Composer{
		botUsername: strings.TrimPrefix(botUsername, "@"),
		loc:         loc,
		retention:   retention,
	}
}

// DeepLink opens a private chat with the bot that sends "/start <id>".
func (c *Composer) DeepLink(requestID string) string {
	return fmt.Sprintf(deepLinkTemplate, url.PathEscape(c.botUsername), url.QueryEscape(requestID))
}

// Announcement is the group broadcast. The button carries the request id,
// the text never carries the contact number.
func (c *Composer) Announcement(req models.PickupRequest) (string, models.LinkButton) {
	var b strings.Builder
	b.WriteString("Hey Foodsavers, we have a request for an Event Pick Up.\n\n")
	c.writeDetails(&b, req.Fields)
	fmt.Fprintf(&b, "\nYou have time until %s to respond.\n", req.ExpiresAt.In(c.loc).Format(deadlineLayout))
	b.WriteString("If you can pick up:")

	return b.String(), models.LinkButton{Text: ButtonText, URL: c.DeepLink(req.ID)}
}

// ClaimantDetails is the private message with the requester's number.
func (c *Composer) ClaimantDetails(cl models.Claimant, req models.PickupRequest) string {
	contact := req.Fields.ContactNumber
	var b strings.Builder
	fmt.Fprintf(&b, "Hello <b>%s</b>!\n", esc(displayName(cl)))
	b.WriteString("Thank you for signing in. You're now registered.\n")
	b.WriteString("Request for an Event Pick Up:\n\n")
	c.writeDetails(&b, req.Fields)
	b.WriteString("\nPlease reach out to the Event host as soon as possible to:\n")
	b.WriteString("<b>1.</b> Confirm Pick up.\n")
	b.WriteString("<b>2.</b> Ask for pick-up time and amount.\n\n")
	fmt.Fprintf(&b, "Call Event Host: <a href=\"tel:%s\">%s</a>\n\n",
		esc(models.NormalizeContact(contact)), esc(contact))
	fmt.Fprintf(&b, "Call now, message will be deleted in %s.", humanMinutes(c.retention))
	return b.String()
}

// Confirmation tells the group who took the request.
func (c *Composer) Confirmation(cl models.Claimant, req models.PickupRequest) string {
	name := "<b>" + esc(displayName(cl)) + "</b>"
	if cl.Username != "" {
		name += " (@" + esc(cl.Username) + ")"
	}
	return fmt.Sprintf("%s is signing in for Pick-Up at %s, %s.",
		name, esc(req.Fields.Date), esc(req.Fields.TimeWindow))
}

func (c *Composer) Denial(req models.PickupRequest) string {
	return fmt.Sprintf("Unfortunately, no one has time for a pick up.\n<i>%s, %s</i>",
		esc(req.Fields.Date), esc(req.Fields.TimeWindow))
}

func (c *Composer) writeDetails(b *strings.Builder, f models.PickupFields) {
	loc := strings.TrimSpace(f.Location)
	if loc == "" {
		loc = notSpecified
	}
	fmt.Fprintf(b, "<b>Where:</b> <i>%s</i>\n", esc(loc))
	fmt.Fprintf(b, "<b>When:</b> <i>%s</i>\n", esc(f.Date))
	fmt.Fprintf(b, "<b>Time:</b> <i>%s</i>\n", esc(f.TimeWindow))
	if r := strings.TrimSpace(f.Remarks); r != "" {
		fmt.Fprintf(b, "<b>Info:</b> <i>%s</i>\n", esc(r))
	}
}

func displayName(cl models.Claimant) string {
	if n := strings.TrimSpace(cl.DisplayName); n != "" {
		return n
	}
	return "User"
}

func humanMinutes(d time.Duration) string {
	if d < time.Minute {
		s := int(d.Round(time.Second) / time.Second)
		if s < 1 {
			s = 1
		}
		if s == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", s)
	}
	m := int(d.Round(time.Minute) / time.Minute)
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}

func esc(s string) string {
	return html.EscapeString(s)
}
