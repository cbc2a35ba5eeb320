package mqtt

import "fmt"

// Topic prefixes.
const (
	TopicPrefix       = "clashxw"
	TopicPrefixSystem = TopicPrefix + "/system"
	TopicPrefixEngine = TopicPrefix + "/engine"
)

// Topics provides builders for clashxw MQTT topics.
type Topics struct{}

// SystemStatus returns the supervisor online/offline topic. It carries
// the Last Will.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// EngineStatus returns the retained engine state topic.
func (Topics) EngineStatus() string {
	return TopicPrefixEngine + "/status"
}

// EngineCommand returns the topic commands are received on.
func (Topics) EngineCommand() string {
	return TopicPrefixEngine + "/command"
}

// EngineEvent returns the topic for one kind of lifecycle event.
//
// Example: clashxw/engine/event/exited
func (Topics) EngineEvent(kind string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixEngine, kind)
}
