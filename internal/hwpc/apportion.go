package hwpc

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ja7ad/pmlib/internal/pmerr"
)

// Topology is the per-node, per-process sharing geometry spec.md §4.2
// calls "topology hints": the number of processes on this node and this
// process's 0-based rank among them, used to prorate per-CMG counters.
type Topology struct {
	ProcsPerNode int
	RankOnNode   int
	// ClusterCount is the number of core-memory-groups (CMGs) on this
	// node, discovered from /sys topology files. A value of 1 means "no
	// sharing", the safe degraded default.
	ClusterCount int
}

// TopologyFromEnv reads PMLIB_PROCS_PER_NODE / PMLIB_RANK_ON_NODE exactly
// as proc.ClockTicks reads CLK_TCK in the teacher: os.Getenv +
// strconv.Atoi, falling back to documented defaults (1 process, rank 0 —
// i.e. no sharing) on a missing or bad value.
func TopologyFromEnv() (Topology, error) {
	t := Topology{ProcsPerNode: 1, RankOnNode: 0, ClusterCount: 1}
	var err error

	if v := os.Getenv("PMLIB_PROCS_PER_NODE"); v != "" {
		n, e := strconv.Atoi(v)
		if e != nil || n <= 0 {
			err = fmt.Errorf("%w: PMLIB_PROCS_PER_NODE=%q", pmerr.ErrBadEnv, v)
		} else {
			t.ProcsPerNode = n
		}
	}
	if v := os.Getenv("PMLIB_RANK_ON_NODE"); v != "" {
		n, e := strconv.Atoi(v)
		if e != nil || n < 0 {
			err = fmt.Errorf("%w: PMLIB_RANK_ON_NODE=%q", pmerr.ErrBadEnv, v)
		} else {
			t.RankOnNode = n
		}
	}
	if n, ok := clusterCountFromSysfs(); ok {
		t.ClusterCount = n
	}
	return t, err
}

// clusterCountFromSysfs counts distinct core-memory-groups by reading
// each CPU's topology/core_siblings_list, the same filepath.Glob +
// bufio.Scanner idiom the teacher uses in proc.ReadProcChildren (glob
// /proc/<pid>/task/*/children). A missing sysfs tree (non-Linux,
// containerized, sandboxed — spec.md §9's documented precondition) is
// reported as "not found" so the caller degrades to one cluster.
func clusterCountFromSysfs() (int, bool) {
	paths, _ := filepath.Glob("/sys/devices/system/cpu/cpu[0-9]*/topology/core_siblings_list")
	if len(paths) == 0 {
		return 0, false
	}
	seen := map[string]struct{}{}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(f)
		if sc.Scan() {
			seen[strings.TrimSpace(sc.Text())] = struct{}{}
		}
		_ = f.Close()
	}
	if len(seen) == 0 {
		return 0, false
	}
	return len(seen), true
}

// Apportion implements spec.md §4.2's per-event sharing policy for one
// cluster-shared event value (e.g. a BANDWIDTH counter read once per
// CMG). It returns the factor the Thread Merger multiplies into the raw
// reading for the cluster this process belongs to.
func (t Topology) Apportion() float64 {
	clusters := t.ClusterCount
	if clusters <= 0 {
		clusters = 1
	}
	procs := t.ProcsPerNode
	if procs <= 0 {
		procs = 1
	}

	if procs <= 4 {
		// With at least as many clusters as processes, every process is
		// treated as owning whole clusters and the factor is 1.0; a
		// cluster left over when clusters is not a multiple of procs is
		// not prorated. With fewer clusters than processes
		// (clusters/procs == 0), processes are laid out round-robin
		// across clusters and share them.
		clustersPerProc := clusters / procs
		if clustersPerProc >= 1 {
			return 1.0 // this process owns whole clusters outright
		}
		// fewer clusters than processes: everyone shares
		sharing := sharersOfCluster(procs, clusters, t.RankOnNode, clusters)
		return 1.0 / float64(sharing)
	}

	// procs >= 5: each process shares one cluster with ceil or floor
	// node_procs/clusters peers.
	sharing := sharersOfCluster(procs, clusters, t.RankOnNode, clusters)
	return 1.0 / float64(sharing)
}

// sharersOfCluster computes how many of the node's processes share the
// same cluster as rank, under a round-robin rank→cluster assignment. This
// keeps the ceil/floor split in §4.2 exact without needing a live process
// roster: ranks are distributed as evenly as possible across clusters.
func sharersOfCluster(procs, clusters, rank, _ int) int {
	if clusters <= 0 {
		clusters = 1
	}
	base := procs / clusters
	extra := procs % clusters
	myCluster := rank % clusters
	if myCluster < extra {
		return base + 1
	}
	if base == 0 {
		return 1
	}
	return base
}
