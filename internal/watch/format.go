package watch

import (
	"fmt"
	"strings"

	"badgewatch/internal/snapshot"
)

const failureText = "Could not check your messages. I will keep trying; " +
	"further failures stay silent until a check succeeds."

// FormatIncrease renders a report as a notification.
func FormatIncrease(r snapshot.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New messages: +%d", r.TotalIncrease)
	if !(len(r.Deltas) == 1 && r.Deltas[0].Name == snapshot.TotalKey) {
		for _, d := range r.Deltas {
			fmt.Fprintf(&b, "\n• %s: +%d", d.Name, d.Increase)
		}
	}
	fmt.Fprintf(&b, "\nUnread total: %d", r.TotalCurrent)
	return b.String()
}

// FormatFailure is deliberately generic; details stay in the logs.
func FormatFailure() string { return failureText }
