package memdoc

import (
	"encoding/json"
	"errors"
	"fmt"

	jump "github.com/dgryski/go-jump"
	"github.com/zeebo/xxh3"
)

// MaxPartitions is the largest partition count addressable by the 16-bit
// partition field of a request header.
const MaxPartitions = 1 << 16

var errEmptyPartitionMap = errors.New("memdoc: partition map has no nodes")

// PartitionMap assigns every partition to the node that owns it.
// A map is immutable once built; the router replaces it wholesale.
type PartitionMap struct {
	// Rev increases every time the cluster topology changes.
	Rev int64

	// Nodes are the data node addresses ("host:port").
	Nodes []string

	// Owners maps a partition index to an index into Nodes.
	Owners []int
}

// NumPartitions returns the fixed number of partitions.
func (m *PartitionMap) NumPartitions() int {
	return len(m.Owners)
}

// PartitionFor hashes key to its partition.
func (m *PartitionMap) PartitionFor(key []byte) uint16 {
	return partitionFor(key, len(m.Owners))
}

func partitionFor(key []byte, numPartitions int) uint16 {
	return uint16(xxh3.Hash(key) % uint64(numPartitions))
}

// NodeFor returns the address of the node owning partition.
func (m *PartitionMap) NodeFor(partition uint16) (string, error) {
	if int(partition) >= len(m.Owners) {
		return "", fmt.Errorf("memdoc: partition %d out of range [0,%d)", partition, len(m.Owners))
	}
	return m.Nodes[m.Owners[partition]], nil
}

// PartitionsOf counts the partitions owned by each node.
func (m *PartitionMap) PartitionsOf() map[string]int {
	counts := make(map[string]int, len(m.Nodes))
	for _, owner := range m.Owners {
		counts[m.Nodes[owner]]++
	}
	return counts
}

// StaticPartitionMap spreads numPartitions over nodes with jump consistent
// hashing. It is used against servers that cannot serve a cluster config.
// Its revision is 0 so that any server-provided map supersedes it.
func StaticPartitionMap(nodes []string, numPartitions int) (*PartitionMap, error) {
	if len(nodes) == 0 {
		return nil, errEmptyPartitionMap
	}
	if numPartitions <= 0 || numPartitions > MaxPartitions {
		return nil, fmt.Errorf("memdoc: invalid partition count %d", numPartitions)
	}

	m := &PartitionMap{
		Nodes:  append([]string(nil), nodes...),
		Owners: make([]int, numPartitions),
	}
	for p := range m.Owners {
		m.Owners[p] = int(jump.Hash(uint64(p), len(nodes)))
	}
	return m, nil
}

type partitionMapJSON struct {
	Rev        int64    `json:"rev"`
	Nodes      []string `json:"nodes"`
	Partitions []int    `json:"partitions"`
}

// ParsePartitionMap decodes the cluster config returned by
// GET_CLUSTER_CONFIG:
//
//	{"rev": 3, "nodes": ["10.0.0.1:11210", ...], "partitions": [0, 1, 0, ...]}
func ParsePartitionMap(data []byte) (*PartitionMap, error) {
	var raw partitionMapJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("memdoc: invalid cluster config: %w", err)
	}

	if len(raw.Nodes) == 0 {
		return nil, errEmptyPartitionMap
	}
	if len(raw.Partitions) == 0 || len(raw.Partitions) > MaxPartitions {
		return nil, fmt.Errorf("memdoc: invalid cluster config: %d partitions", len(raw.Partitions))
	}
	for p, owner := range raw.Partitions {
		if owner < 0 || owner >= len(raw.Nodes) {
			return nil, fmt.Errorf("memdoc: invalid cluster config: partition %d owned by unknown node %d", p, owner)
		}
	}

	return &PartitionMap{
		Rev:    raw.Rev,
		Nodes:  raw.Nodes,
		Owners: raw.Partitions,
	}, nil
}

// diffNodes returns the nodes present only in next and only in prev.
func diffNodes(prev, next *PartitionMap) (added, removed []string) {
	before := make(map[string]bool)
	if prev != nil {
		for _, n := range prev.Nodes {
			before[n] = true
		}
	}
	after := make(map[string]bool, len(next.Nodes))
	for _, n := range next.Nodes {
		after[n] = true
		if !before[n] {
			added = append(added, n)
		}
	}
	if prev != nil {
		for _, n := range prev.Nodes {
			if !after[n] {
				removed = append(removed, n)
			}
		}
	}
	return added, removed
}

// movedPartitions counts partitions whose owner address changed.
func movedPartitions(prev, next *PartitionMap) int {
	if prev == nil || len(prev.Owners) != len(next.Owners) {
		return len(next.Owners)
	}
	moved := 0
	for p := range next.Owners {
		if prev.Nodes[prev.Owners[p]] != next.Nodes[next.Owners[p]] {
			moved++
		}
	}
	return moved
}
