package mqtt

import "fmt"

// TopicPrefix is the root of every topic this client publishes to.
const TopicPrefix = "peopleconnect"

// Topics provides builders for SpeechLink MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topic := mqtt.Topics{}.Speech()
//	// Returns: "peopleconnect/speech"
type Topics struct{}

// Speech returns the topic utterances are published on.
// The voice-assistant backend subscribes here.
//
// Example: peopleconnect/speech
func (Topics) Speech() string {
	return fmt.Sprintf("%s/speech", TopicPrefix)
}

// ClientStatus returns the retained online/offline status topic for a client.
// It also carries the Last Will message.
//
// Example: peopleconnect/client/kitchen-panel/status
func (Topics) ClientStatus(clientID string) string {
	return fmt.Sprintf("%s/client/%s/status", TopicPrefix, clientID)
}
