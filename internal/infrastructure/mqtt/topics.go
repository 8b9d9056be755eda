package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every Tailnet Monitor topic.
const TopicPrefix = "tailnetmon"

// Topics provides builders for Tailnet Monitor MQTT topics.
//
//	tailnetmon/event/{entity}/{kind}       transition events (not retained)
//	tailnetmon/entity/{entity}/state       availability + capabilities (retained)
//	tailnetmon/command/{entity}/refresh    on-demand poll requests
//	tailnetmon/system/status               service online/offline (retained, LWT)
type Topics struct{}

// EntityEvent returns the topic for a transition event.
//
// Example: tailnetmon/event/home/device_joined
func (Topics) EntityEvent(entityID, kind string) string {
	return fmt.Sprintf("%s/event/%s/%s", TopicPrefix, entityID, kind)
}

// EntityState returns the retained state topic of an entity.
//
// Example: tailnetmon/entity/home/state
func (Topics) EntityState(entityID string) string {
	return fmt.Sprintf("%s/entity/%s/state", TopicPrefix, entityID)
}

// RefreshCommand returns the topic that triggers a poll of an entity.
//
// Example: tailnetmon/command/home/refresh
func (Topics) RefreshCommand(entityID string) string {
	return fmt.Sprintf("%s/command/%s/refresh", TopicPrefix, entityID)
}

// SystemStatus returns the service status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllRefreshCommands matches refresh commands for any entity.
//
// Pattern: tailnetmon/command/+/refresh
func (Topics) AllRefreshCommands() string {
	return TopicPrefix + "/command/+/refresh"
}

// ParseRefreshCommand extracts the entity ID from a refresh command topic.
func (Topics) ParseRefreshCommand(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "command" || parts[3] != "refresh" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
