package commands

import "fmt"

// ConfigurationError reports a malformed command invocation. Its user
// message is the usage line.
type ConfigurationError struct {
	Command string
	Usage   string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("/%s: %s", e.Command, e.Reason)
}

func (e *ConfigurationError) UserMessage() string {
	return "Usage: " + e.Usage
}

// replyError carries a user-facing message for a failed command.
type replyError struct {
	msg string
	err error
}

func (e *replyError) Error() string       { return e.err.Error() }
func (e *replyError) Unwrap() error       { return e.err }
func (e *replyError) UserMessage() string { return e.msg }
