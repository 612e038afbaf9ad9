package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes. Shadow traffic for one thing lives under
// endpointcloud/things/{thing}/shadow/...
const (
	// TopicPrefix is the root of every topic the service uses.
	TopicPrefix = "endpointcloud"

	// TopicPrefixThings is the base for per-thing topics.
	TopicPrefixThings = "endpointcloud/things"

	// TopicPrefixEvents is the base for service events.
	TopicPrefixEvents = "endpointcloud/events"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "endpointcloud/system"
)

// Topics provides builders for the service's MQTT topics.
//
//	topic := mqtt.Topics{}.ShadowUpdate("SAMPLE_ENDPOINT_ABCD1234")
//	// Returns: "endpointcloud/things/SAMPLE_ENDPOINT_ABCD1234/shadow/update"
type Topics struct{}

// ShadowUpdate returns the topic on which the full shadow document is
// published after every accepted update.
func (Topics) ShadowUpdate(thing string) string {
	return fmt.Sprintf("%s/%s/shadow/update", TopicPrefixThings, thing)
}

// ShadowDelta returns the topic carrying desired keys that differ from
// reported. Devices subscribe here to learn what to change.
func (Topics) ShadowDelta(thing string) string {
	return fmt.Sprintf("%s/%s/shadow/update/delta", TopicPrefixThings, thing)
}

// ShadowReported returns the topic devices publish their reported state on.
//
// Example: endpointcloud/things/kitchen-light/shadow/reported
func (Topics) ShadowReported(thing string) string {
	return fmt.Sprintf("%s/%s/shadow/reported", TopicPrefixThings, thing)
}

// Event returns the topic for a service event such as endpoint.added.
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixEvents, eventType)
}

// SystemStatus returns the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllShadowReported matches reported state from every thing.
//
// Pattern: endpointcloud/things/+/shadow/reported
func (Topics) AllShadowReported() string {
	return TopicPrefixThings + "/+/shadow/reported"
}

// AllShadowDeltas matches the delta topic of every thing.
func (Topics) AllShadowDeltas() string {
	return TopicPrefixThings + "/+/shadow/update/delta"
}

// AllTopics matches everything under the service prefix.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ThingFromTopic extracts the thing name from a per-thing topic.
func (Topics) ThingFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixThings+"/")
	if !ok {
		return "", false
	}
	name, _, ok := strings.Cut(rest, "/")
	if !ok || name == "" || name == "+" || name == "#" {
		return "", false
	}
	return name, true
}
