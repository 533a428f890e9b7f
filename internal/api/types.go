package api

// ErrorResponse is the JSON error envelope for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse reports liveness for ops probes.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueSize     int    `json:"queue_size"`
}

// QueueAcceptedResponse acknowledges an asynchronous submission.
type QueueAcceptedResponse struct {
	Queued    bool   `json:"queued"`
	QueueSize int    `json:"queue_size"`
	Message   string `json:"message"`
}

// RateLimitResponse reports one sender's live sliding window.
type RateLimitResponse struct {
	Sender        string `json:"sender"`
	CurrentCount  int    `json:"current_count"`
	MaxRequests   int    `json:"max_requests"`
	Remaining     int    `json:"remaining"`
	WindowSeconds int64  `json:"window_seconds"`
}

// ListResponse is a page of dispatch results.
type ListResponse struct {
	Page  int `json:"page"`
	Size  int `json:"size"`
	Count int `json:"count"`
	Items any `json:"items"`
}
