package composer

import (
	"testing"
	"time"

	"github.com/BearBump/PickupRelay/internal/models"
	"github.com/stretchr/testify/require"
)

func testRequest() models.PickupRequest {
	created := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	return models.PickupRequest{
		ID: "abc123def456",
		Fields: models.PickupFields{
			Location:      "A-Block",
			Date:          "Thursday, 15 October",
			TimeWindow:    "14:00 - 16:00",
			ContactNumber: "+358 40 1234567",
		},
		Status:    models.PickupStatusOpen,
		CreatedAt: created,
		ExpiresAt: created.Add(15 * time.Minute),
	}
}

func TestAnnouncement(t *testing.T) {
	c := New("@pickup_bot", time.UTC, 15*time.Minute)
	text, button := c.Announcement(testRequest())

	require.Contains(t, text, "<b>Where:</b> <i>A-Block</i>")
	require.Contains(t, text, "<b>When:</b> <i>Thursday, 15 October</i>")
	require.Contains(t, text, "<b>Time:</b> <i>14:00 - 16:00</i>")
	require.Contains(t, text, "until 12:15 to respond")
	require.NotContains(t, text, "1234567")
	require.NotContains(t, text, "Info:")

	require.Equal(t, ButtonText, button.Text)
	require.Equal(t, "https://t.me/pickup_bot?start=abc123def456", button.URL)
}

func TestAnnouncement_DeadlineUsesLocation(t *testing.T) {
	helsinki := time.FixedZone("EEST", 3*60*60)
	text, _ := New("b", helsinki, time.Minute).Announcement(testRequest())
	require.Contains(t, text, "until 15:15 to respond")
}

func TestAnnouncement_DefaultsAndEscaping(t *testing.T) {
	req := testRequest()
	req.Fields.Location = "  "
	req.Fields.Remarks = "<script>soup & bread</script>"

	text, _ := New("b", time.UTC, time.Minute).Announcement(req)
	require.Contains(t, text, "<i>Not specified</i>")
	require.Contains(t, text, "<b>Info:</b> <i>&lt;script&gt;soup &amp; bread&lt;/script&gt;</i>")
}

func TestClaimantDetails(t *testing.T) {
	c := New("b", time.UTC, 15*time.Minute)
	text := c.ClaimantDetails(models.Claimant{DisplayName: "Anna"}, testRequest())

	require.Contains(t, text, "Hello <b>Anna</b>!")
	require.Contains(t, text, `<a href="tel:+358401234567">+358 40 1234567</a>`)
	require.Contains(t, text, "deleted in 15 minutes.")
	require.Contains(t, text, "<b>Where:</b> <i>A-Block</i>")

	text = c.ClaimantDetails(models.Claimant{}, testRequest())
	require.Contains(t, text, "Hello <b>User</b>!")
}

func TestConfirmation(t *testing.T) {
	c := New("b", time.UTC, time.Minute)
	req := testRequest()

	text := c.Confirmation(models.Claimant{DisplayName: "Anna", Username: "anna"}, req)
	require.Equal(t, "<b>Anna</b> (@anna) is signing in for Pick-Up at Thursday, 15 October, 14:00 - 16:00.", text)

	text = c.Confirmation(models.Claimant{DisplayName: "Bo"}, req)
	require.Equal(t, "<b>Bo</b> is signing in for Pick-Up at Thursday, 15 October, 14:00 - 16:00.", text)
}

func TestDenial(t *testing.T) {
	text := New("b", time.UTC, time.Minute).Denial(testRequest())
	require.Contains(t, text, "Unfortunately, no one has time for a pick up.")
	require.Contains(t, text, "Thursday, 15 October, 14:00 - 16:00")
	require.NotContains(t, text, "1234567")
}

func TestHumanMinutes(t *testing.T) {
	cases := map[time.Duration]string{
		0:                "1 second",
		time.Second:      "1 second",
		20 * time.Second: "20 seconds",
		59 * time.Second: "59 seconds",
		time.Minute:      "1 minute",
		90 * time.Second: "2 minutes",
		15 * time.Minute: "15 minutes",
	}
	for d, want := range cases {
		require.Equal(t, want, humanMinutes(d), d.String())
	}
}
