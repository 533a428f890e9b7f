package mail

// Message is an outbound email request. It is the unit of work accepted by
// the API, carried through the queue, and handed to providers.
type Message struct {
	From           string   `json:"from"`
	To             []string `json:"to"`
	CC             []string `json:"cc,omitempty"`
	BCC            []string `json:"bcc,omitempty"`
	Subject        string   `json:"subject"`
	Body           string   `json:"body"`
	HTML           bool     `json:"html,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
}

// Recipients returns every address the message will be delivered to,
// in to/cc/bcc order.
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.CC)+len(m.BCC))
	out = append(out, m.To...)
	out = append(out, m.CC...)
	out = append(out, m.BCC...)
	return out
}
