package storage

import "github.com/slicol/meshwork/pkg/protocol"

// ===== HELPER FUNCTIONS =====

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}

// nodeKey is the column form of a node id
func nodeKey(id protocol.NodeID) string {
	return id.String()
}
