package mail

import (
	"fmt"
	stdmail "net/mail"
	"strings"
)

// maxSubjectLen matches the RFC 5322 recommended line length limit.
const maxSubjectLen = 998

// ValidationError aggregates per-field validation failures for one message.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid message: " + strings.Join(e.Fields, "; ")
}

// Validate checks a message for syntactic correctness before it reaches the
// dispatch engine. It returns a *ValidationError listing every failed field,
// or nil when the message is acceptable.
func Validate(m *Message) error {
	var fields []string

	if strings.TrimSpace(m.From) == "" {
		fields = append(fields, "from: sender address is required")
	} else if !validAddress(m.From) {
		fields = append(fields, fmt.Sprintf("from: invalid address %q", m.From))
	}

	if len(m.To) == 0 {
		fields = append(fields, "to: at least one recipient is required")
	}
	fields = append(fields, checkAddressList("to", m.To)...)
	fields = append(fields, checkAddressList("cc", m.CC)...)
	fields = append(fields, checkAddressList("bcc", m.BCC)...)

	if strings.TrimSpace(m.Subject) == "" {
		fields = append(fields, "subject: subject is required")
	} else if len(m.Subject) > maxSubjectLen {
		fields = append(fields, fmt.Sprintf("subject: exceeds %d characters", maxSubjectLen))
	}

	if m.Body == "" {
		fields = append(fields, "body: body is required")
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func checkAddressList(field string, addrs []string) []string {
	var fields []string
	for _, a := range addrs {
		if !validAddress(a) {
			fields = append(fields, fmt.Sprintf("%s: invalid address %q", field, a))
		}
	}
	return fields
}

func validAddress(addr string) bool {
	parsed, err := stdmail.ParseAddress(strings.TrimSpace(addr))
	return err == nil && parsed.Address != ""
}
