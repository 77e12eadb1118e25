package adapter

import "time"

// Config configures the Telegram long-poll adapter.
type Config struct {
	Token       string
	PollTimeout time.Duration
	// DropReportEvery is how often dropped-update counts are logged; zero uses 5s.
	DropReportEvery time.Duration
}
