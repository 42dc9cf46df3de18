// Package topology discovers the rank/node/cluster layout of a run and
// assigns GPU devices by affinity. Every rank reports its hostname and the
// device ids visible to it; Build groups ranks sharing a host into a node
// communicator, links one master per node into the cluster communicator,
// and walks each node's ranks in order handing out unique devices until
// they run out. Ranks that end up with no work after decomposition leave
// through the Prune consensus, which is the only sanctioned way to leave a
// run and happens exactly once, before the main loop starts.
package topology

import (
	"context"
	"fmt"
	"slices"

	"github.com/walkanth/sweptgo/internal/comm"
	"github.com/walkanth/sweptgo/internal/ctxlog"
)

// ProcessInfo is what one rank knows about itself before discovery.
type ProcessInfo struct {
	Rank int
	Host string
	// GPUs lists the device ids visible on this rank's host.
	GPUs []int
}

// Topology is one rank's view of the communicator layout after discovery.
type Topology struct {
	// World spans every surviving rank.
	World comm.Communicator
	// Node spans the ranks sharing this rank's host.
	Node comm.Communicator
	// Cluster links one master rank per node; nil on non-master ranks.
	Cluster comm.Communicator

	Host      string
	NodeID    int
	NodeCount int
	// NodeRanks are the world ranks on this node, ascending.
	NodeRanks []int
	// NodeMaster is the lowest world rank on this node.
	NodeMaster int

	// Device is the GPU id assigned to this rank, or -1 for CPU ranks.
	Device int
	// GPURanks and CPURanks partition the world's ranks by architecture.
	GPURanks []int
	CPURanks []int

	infos   []ProcessInfo
	devices []int
}

// IsNodeMaster reports whether this rank owns the node's seat on the
// cluster communicator.
func (t *Topology) IsNodeMaster() bool { return t.World.Rank() == t.NodeMaster }

// OnGPU reports whether this rank was assigned a device.
func (t *Topology) OnGPU() bool { return t.Device >= 0 }

// NodeGPURanks lists this node's GPU ranks in world order. Together with
// NodeCPURanks it is the group that shares out the node's slab: the
// affinity cut divides the slab's columns between the two architectures,
// and each group divides its share by rows among its own members.
func (t *Topology) NodeGPURanks() []int { return intersect(t.NodeRanks, t.GPURanks) }

// NodeCPURanks lists this node's CPU ranks in world order.
func (t *Topology) NodeCPURanks() []int { return intersect(t.NodeRanks, t.CPURanks) }

func intersect(a, b []int) []int {
	var out []int
	for _, r := range a {
		if slices.Contains(b, r) {
			out = append(out, r)
		}
	}
	return out
}

// Build runs discovery over the world communicator. It is collective: every
// rank must call it with its own ProcessInfo and identical affinity
// arguments. Configuration errors (no GPU visible anywhere with affinity
// above zero, more ranks than devices at affinity one) surface here, before
// any compute starts.
func Build(ctx context.Context, world comm.Communicator, info ProcessInfo, affinity float64, exclude []int) (*Topology, error) {
	logger := ctxlog.FromContext(ctx)

	info.Rank = world.Rank()
	raw, err := world.AllGather(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("topology: discovery gather: %w", err)
	}
	infos := make([]ProcessInfo, len(raw))
	for i, v := range raw {
		infos[i] = v.(ProcessInfo)
	}

	devices := assignDevices(infos, affinity, exclude)
	if err := checkFeasible(infos, devices, affinity, exclude, world.Size()); err != nil {
		return nil, err
	}

	t := &Topology{
		World:   world,
		Host:    info.Host,
		Device:  devices[world.Rank()],
		infos:   infos,
		devices: devices,
	}
	t.populateGroups(infos, devices)

	nodeComm, err := world.Incl(t.NodeRanks)
	if err != nil {
		return nil, fmt.Errorf("topology: node group: %w", err)
	}
	t.Node = nodeComm

	masters := nodeMasters(infos)
	clusterComm, err := world.Incl(masters)
	if err != nil {
		return nil, fmt.Errorf("topology: cluster group: %w", err)
	}
	t.Cluster = clusterComm

	logger.Debug("Topology built.",
		"host", t.Host, "nodeID", t.NodeID, "nodes", t.NodeCount,
		"device", t.Device, "gpuRanks", len(t.GPURanks), "cpuRanks", len(t.CPURanks))
	return t, nil
}

// populateGroups fills the host grouping and architecture partition fields
// for the calling rank from the gathered infos and device table.
func (t *Topology) populateGroups(infos []ProcessInfo, devices []int) {
	hosts := hostOrder(infos)
	t.NodeCount = len(hosts)
	t.NodeID = slices.Index(hosts, t.Host)
	for _, pi := range infos {
		if pi.Host == t.Host {
			t.NodeRanks = append(t.NodeRanks, pi.Rank)
		}
		if devices[pi.Rank] >= 0 {
			t.GPURanks = append(t.GPURanks, pi.Rank)
		} else {
			t.CPURanks = append(t.CPURanks, pi.Rank)
		}
	}
	t.NodeMaster = t.NodeRanks[0]
}

// hostOrder lists distinct hosts in order of first appearance by rank,
// which doubles as the node id ordering along the x axis.
func hostOrder(infos []ProcessInfo) []string {
	var hosts []string
	for _, pi := range infos {
		if !slices.Contains(hosts, pi.Host) {
			hosts = append(hosts, pi.Host)
		}
	}
	return hosts
}

func nodeMasters(infos []ProcessInfo) []int {
	masters := make(map[string]int)
	for _, pi := range infos {
		if m, ok := masters[pi.Host]; !ok || pi.Rank < m {
			masters[pi.Host] = pi.Rank
		}
	}
	var out []int
	for _, host := range hostOrder(infos) {
		out = append(out, masters[host])
	}
	return out
}

// assignDevices walks each host's local ranks in rank order and hands out
// that host's device ids (minus exclusions) until they run out. The device
// list is taken from the host's lowest rank so disagreeing reports cannot
// double-assign. Returns the device id per world rank, -1 for CPU ranks.
func assignDevices(infos []ProcessInfo, affinity float64, exclude []int) []int {
	devices := make([]int, len(infos))
	for i := range devices {
		devices[i] = -1
	}
	if affinity == 0 {
		return devices
	}
	pool := make(map[string][]int)
	for _, host := range hostOrder(infos) {
		for _, pi := range infos {
			if pi.Host != host {
				continue
			}
			var avail []int
			for _, id := range pi.GPUs {
				if !slices.Contains(exclude, id) {
					avail = append(avail, id)
				}
			}
			pool[host] = avail
			break
		}
	}
	for _, pi := range infos {
		if len(pool[pi.Host]) == 0 {
			continue
		}
		devices[pi.Rank] = pool[pi.Host][0]
		pool[pi.Host] = pool[pi.Host][1:]
	}
	return devices
}

func checkFeasible(infos []ProcessInfo, devices []int, affinity float64, exclude []int, size int) error {
	visible := 0
	seen := make(map[string]bool)
	for _, pi := range infos {
		if seen[pi.Host] {
			continue
		}
		seen[pi.Host] = true
		for _, id := range pi.GPUs {
			if !slices.Contains(exclude, id) {
				visible++
			}
		}
	}
	assigned := 0
	for _, d := range devices {
		if d >= 0 {
			assigned++
		}
	}
	switch {
	case affinity > 0 && visible == 0:
		return fmt.Errorf("topology: affinity %g requires GPUs but none are visible cluster-wide", affinity)
	case affinity == 1 && assigned < size:
		return fmt.Errorf("topology: affinity 1 requires a device per rank: %d ranks, %d devices", size, assigned)
	case affinity < 1 && visible >= size:
		return fmt.Errorf("topology: heterogeneous affinity %g but %d visible GPUs exceed %d ranks", affinity, visible, size)
	}
	return nil
}

// Prune runs the surviving-rank consensus: every rank reports whether it
// holds work, the master filters, and the agreed list is broadcast. Ranks
// outside the list get (nil, nil) and must shut down through their normal
// return path; survivors get a fresh topology over new communicators. The
// original communicators are discarded.
func (t *Topology) Prune(ctx context.Context, hasWork bool) (*Topology, error) {
	logger := ctxlog.FromContext(ctx)

	vote := -1
	if hasWork {
		vote = t.World.Rank()
	}
	votes, err := t.World.Gather(ctx, 0, vote)
	if err != nil {
		return nil, fmt.Errorf("topology: prune gather: %w", err)
	}
	var survivors []int
	if t.World.Rank() == 0 {
		for _, v := range votes {
			if r := v.(int); r >= 0 {
				survivors = append(survivors, r)
			}
		}
	}
	got, err := t.World.Bcast(ctx, 0, survivors)
	if err != nil {
		return nil, fmt.Errorf("topology: prune broadcast: %w", err)
	}
	survivors = got.([]int)
	if len(survivors) == 0 {
		return nil, fmt.Errorf("topology: every rank voted itself out")
	}

	newWorld, err := t.World.Incl(survivors)
	if err != nil {
		return nil, fmt.Errorf("topology: surviving group: %w", err)
	}
	if newWorld == nil {
		logger.Debug("Rank pruned; shutting down.", "rank", t.World.Rank())
		return nil, nil
	}

	// Renumber the gathered infos and device assignments onto the
	// surviving world. Device ids were fixed at Build time and survive
	// pruning unchanged.
	infos := make([]ProcessInfo, 0, len(survivors))
	devices := make([]int, 0, len(survivors))
	for newRank, oldRank := range survivors {
		pi := t.infos[oldRank]
		pi.Rank = newRank
		infos = append(infos, pi)
		devices = append(devices, t.devices[oldRank])
	}

	nt := &Topology{
		World:   newWorld,
		Host:    t.Host,
		Device:  t.Device,
		infos:   infos,
		devices: devices,
	}
	nt.populateGroups(infos, devices)

	nodeComm, err := newWorld.Incl(nt.NodeRanks)
	if err != nil {
		return nil, fmt.Errorf("topology: pruned node group: %w", err)
	}
	nt.Node = nodeComm

	clusterComm, err := newWorld.Incl(nodeMasters(infos))
	if err != nil {
		return nil, fmt.Errorf("topology: pruned cluster group: %w", err)
	}
	nt.Cluster = clusterComm

	logger.Debug("Topology pruned.", "survivors", len(survivors), "rank", newWorld.Rank())
	return nt, nil
}
