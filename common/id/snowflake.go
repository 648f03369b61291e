package id

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
// Each relay instance owning an event-source partition should use its own node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	if err != nil {
		return fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return nil
}

// New generates a time-ordered int64 ID. Used for dead-letter entries.
func New() int64 {
	return node.Generate().Int64()
}

// NewDeliveryID returns a random identifier for a single webhook delivery.
// Redeliveries of the same event get different delivery IDs but the same dedup key.
func NewDeliveryID() string {
	return uuid.NewString()
}
