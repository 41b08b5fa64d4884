// Package notify renders order emails and delivers them through a transport.
package notify

import "time"

type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindStatusUpdate Kind = "statusUpdate"
	KindAdminAlert   Kind = "adminAlert"
)

type Audience string

const (
	AudienceCustomer Audience = "customer"
	AudienceAdmin    Audience = "admin"
)

// Payload is a rendered message ready for a transport.
type Payload struct {
	Kind     Kind
	Audience Audience
	To       string
	Subject  string
	Body     string
}

// Context carries what a template needs beyond the order itself.
type Context struct {
	// Recipient overrides the default address for the kind.
	Recipient    string
	CustomerName string
	NewStatus    string
	At           time.Time
}
