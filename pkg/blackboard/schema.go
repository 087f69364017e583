package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so several
// chalk instances can share one Redis server.
//
// Key pattern: chalk:{instance_name}:{entity}:{id}
// Channel pattern: chalk:{instance_name}:{event_type}_events

// ItemKey returns the Redis key for an item hash.
// Pattern: chalk:{instance_name}:item:{item_id}
func ItemKey(instanceName, itemID string) string {
	return fmt.Sprintf("chalk:%s:item:%s", instanceName, itemID)
}

// ItemIndexKey returns the Redis key for the sorted set of all item ids,
// scored by creation time.
// Pattern: chalk:{instance_name}:items
func ItemIndexKey(instanceName string) string {
	return fmt.Sprintf("chalk:%s:items", instanceName)
}

// StateIndexKey returns the Redis key for the set of item ids in a state.
// Pattern: chalk:{instance_name}:state:{state}
func StateIndexKey(instanceName string, state State) string {
	return fmt.Sprintf("chalk:%s:state:%s", instanceName, state)
}

// ItemEventsChannel returns the Pub/Sub channel name for item events.
// Pattern: chalk:{instance_name}:item_events
func ItemEventsChannel(instanceName string) string {
	return fmt.Sprintf("chalk:%s:item_events", instanceName)
}
