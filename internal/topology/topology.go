// Package topology discovers the host's CPU/NUMA layout once at
// startup and hands back a fixed, read-only map of it (spec component
// 4.A, "Topology Map"). Every worker-count and affinity decision made
// afterward is a pure function of this one snapshot.
package topology

import (
	"fmt"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/anvilfs/zuscore/internal/transport"
)

// Map is the immutable result of one topology query.
type Map struct {
	possibleCPUs  int
	possibleNodes int
	cpuToNode     []int // cpuToNode[cpu] = node, or -1 if cpu is not possible
	nodeToCPUs    map[int][]int
}

// Init opens a temporary kernel handle, issues the single NumaMap
// query (spec 4.A), and builds the topology snapshot. Per spec 4.A, a
// failure here is fatal to startup.
func Init(t transport.KernelTransport) (*Map, error) {
	f, err := t.OpenTempHandle()
	if err != nil {
		return nil, fmt.Errorf("topology: open handle: %w", err)
	}
	defer t.Close(f)

	nm, err := t.NumaMap(f)
	if err != nil {
		return nil, fmt.Errorf("topology: numa map query: %w", err)
	}
	return InitFromNumaMap(nm)
}

// InitFromNumaMap builds a Map from a transport.NumaMap query result.
// Kept separate from the transport call itself so tests can construct
// a Map without a live kernel handle.
func InitFromNumaMap(nm transport.NumaMap) (*Map, error) {
	if nm.PossibleCPUs <= 0 {
		return nil, fmt.Errorf("topology: kernel reported %d possible cpus", nm.PossibleCPUs)
	}

	m := &Map{
		possibleCPUs:  nm.PossibleCPUs,
		possibleNodes: nm.PossibleNodes,
		cpuToNode:     make([]int, nm.PossibleCPUs),
		nodeToCPUs:    make(map[int][]int, len(nm.CPUSetPerNode)),
	}
	for i := range m.cpuToNode {
		m.cpuToNode[i] = -1
	}

	nodes := make([]int, 0, len(nm.CPUSetPerNode))
	for node := range nm.CPUSetPerNode {
		nodes = append(nodes, node)
	}
	sort.Ints(nodes)

	for _, node := range nodes {
		set := nm.CPUSetPerNode[node]
		var cpus []int
		for cpu := 0; cpu < nm.PossibleCPUs; cpu++ {
			if set.IsSet(cpu) {
				cpus = append(cpus, cpu)
				m.cpuToNode[cpu] = node
			}
		}
		m.nodeToCPUs[node] = cpus
	}

	return m, nil
}

// NumPossibleCPUs is the count reported by the kernel, including
// offline CPUs.
func (m *Map) NumPossibleCPUs() int { return m.possibleCPUs }

// NumPossibleNodes is the node count the kernel reported, whether or
// not every node has CPUs assigned to it.
func (m *Map) NumPossibleNodes() int { return m.possibleNodes }

// CPUToNode returns the NUMA node owning cpu, or -1 if cpu is outside
// the possible range or was not assigned a node.
func (m *Map) CPUToNode(cpu int) int {
	if cpu < 0 || cpu >= len(m.cpuToNode) {
		return -1
	}
	return m.cpuToNode[cpu]
}

// CPUsForNode returns the possible CPU indices belonging to node, in
// ascending order. The returned slice must not be mutated.
func (m *Map) CPUsForNode(node int) []int {
	return m.nodeToCPUs[node]
}

// ForEachCPU calls fn once per possible CPU index in ascending order.
func (m *Map) ForEachCPU(fn func(cpu, node int)) {
	for cpu, node := range m.cpuToNode {
		fn(cpu, node)
	}
}

// AffinityForCPU returns a CPUSet pinning to exactly cpu.
func AffinityForCPU(cpu int) unix.CPUSet {
	var set unix.CPUSet
	set.Set(cpu)
	return set
}

// AffinityForNode returns a CPUSet covering every possible CPU on node.
func (m *Map) AffinityForNode(node int) unix.CPUSet {
	var set unix.CPUSet
	for _, cpu := range m.nodeToCPUs[node] {
		set.Set(cpu)
	}
	return set
}
