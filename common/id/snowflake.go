package id

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	mu   sync.Mutex
)

// Init sets the Snowflake node for this process. The server and worker use
// different node IDs so execution IDs never collide across binaries.
func Init(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return err
	}
	mu.Lock()
	node = n
	mu.Unlock()
	return nil
}

// New generates a time-ordered int64 ID. Without Init it falls back to node 0.
func New() int64 {
	mu.Lock()
	if node == nil {
		node, _ = snowflake.NewNode(0)
	}
	n := node
	mu.Unlock()
	return n.Generate().Int64()
}

// String renders an ID the way it is exposed over HTTP.
func String(id int64) string {
	return strconv.FormatInt(id, 10)
}
