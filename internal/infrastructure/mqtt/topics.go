package mqtt

import "fmt"

// Topic prefixes.
const (
	// TopicPrefix is the root of every Wagerline topic.
	TopicPrefix = "wagerline"

	// TopicPrefixAuth carries admission and session events.
	TopicPrefixAuth = TopicPrefix + "/auth"

	// TopicPrefixRequests carries device request lifecycle events.
	TopicPrefixRequests = TopicPrefix + "/requests"

	// TopicPrefixSystem carries service status.
	TopicPrefixSystem = TopicPrefix + "/system"
)

// Request kinds used in request topics.
const (
	RequestKindAdmission    = "admission"
	RequestKindDeactivation = "deactivation"
)

// Request events used in request topics.
const (
	RequestEventCreated  = "created"
	RequestEventReviewed = "reviewed"
)

// Topics provides builders for Wagerline MQTT topics.
//
//	topic := mqtt.Topics{}.Admission("acc-1a2b3c4d")
//	// wagerline/auth/admission/acc-1a2b3c4d
type Topics struct{}

// Admission returns the topic for an account's admission decisions.
func (Topics) Admission(accountID string) string {
	return fmt.Sprintf("%s/admission/%s", TopicPrefixAuth, accountID)
}

// Session returns the topic for an account's logout and revocation events.
func (Topics) Session(accountID string) string {
	return fmt.Sprintf("%s/session/%s", TopicPrefixAuth, accountID)
}

// Request returns the topic for a request lifecycle event.
//
// Example: wagerline/requests/admission/reviewed
func (Topics) Request(kind, event string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixRequests, kind, event)
}

// SystemStatus returns the retained service status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllAdmissions matches every account's admission decisions.
func (Topics) AllAdmissions() string {
	return TopicPrefixAuth + "/admission/+"
}

// AllRequests matches every request lifecycle event.
func (Topics) AllRequests() string {
	return TopicPrefixRequests + "/#"
}

// AllTopics matches all Wagerline traffic.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
