package health

import (
	"regexp"
	"time"
)

// State is a coarse health level
type State string

// Health states
const (
	Healthy   State = "healthy"
	Degraded  State = "degraded"
	Unhealthy State = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|tls|wss?)://[^\s]+`)
	pathRegex       = regexp.MustCompile(`(?:^|\s)/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(?::\d{1,5})?\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)s?\s*[:=]\s*[^,\s}]+`)
)

// Status is the health of one part, or of the whole with SubStatuses.
type Status struct {
	Component   string    `json:"component"`
	State       State     `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy reports State == Healthy
func (s Status) IsHealthy() bool { return s.State == Healthy }

// IsDegraded reports State == Degraded
func (s Status) IsDegraded() bool { return s.State == Degraded }

// IsUnhealthy reports State == Unhealthy
func (s Status) IsUnhealthy() bool { return s.State == Unhealthy }

func newStatus(component string, state State, message string) Status {
	return Status{Component: component, State: state, Message: message, Timestamp: time.Now()}
}

// NewHealthy creates a healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, Healthy, message)
}

// NewDegraded creates a degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, Degraded, message)
}

// NewUnhealthy creates an unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, Unhealthy, message)
}

// FromError maps nil to healthy and anything else to unhealthy with a
// sanitized message.
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "OK")
	}
	return NewUnhealthy(component, sanitizeMessage(err.Error()))
}

// Aggregate folds sub-statuses, worst state wins.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "Nothing to report")
	}

	state := Healthy
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			state = Unhealthy
		case sub.IsDegraded() && state == Healthy:
			state = Degraded
		}
	}

	var status Status
	switch state {
	case Unhealthy:
		status = NewUnhealthy(component, "One or more parts are unhealthy")
	case Degraded:
		status = NewDegraded(component, "One or more parts are degraded")
	default:
		status = NewHealthy(component, "All parts are healthy")
	}
	status.SubStatuses = append([]Status(nil), subStatuses...)
	return status
}

// sanitizeMessage strips URLs, absolute paths, addresses and credentials.
func sanitizeMessage(msg string) string {
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = credentialRegex.ReplaceAllString(msg, "$1=[REDACTED]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[IP]")
	msg = pathRegex.ReplaceAllStringFunc(msg, func(m string) string {
		if m[0] == '/' {
			return "[PATH]"
		}
		return m[:1] + "[PATH]"
	})
	return msg
}
