package audit

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator mints surrogate row ids.
type IDGenerator interface {
	Generate() int64
}

// SnowflakeIDs issues time-ordered int64 ids that stay unique across
// replicas as long as each replica has its own node id.
type SnowflakeIDs struct {
	node *snowflake.Node
}

// NewSnowflakeIDs accepts node ids 0 to 1023.
func NewSnowflakeIDs(nodeID int64) (*SnowflakeIDs, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeIDs{node: node}, nil
}

func (s *SnowflakeIDs) Generate() int64 {
	return s.node.Generate().Int64()
}
