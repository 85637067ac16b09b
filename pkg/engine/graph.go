package engine

import (
	"sort"

	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/types"
)

// depGraph holds one workflow's dependency structure: the explicit
// depends_on edges plus the implicit edges induced by artifacts, where
// every consumer of a file or user_data record depends on every producer
// of it.
type depGraph struct {
	dependsOn  map[int64][]int64 // job -> jobs it needs
	dependents map[int64][]int64 // job -> jobs that need it

	// fileProducers is kept so initialization can stamp File.IsOutput.
	fileProducers map[int64][]int64
}

// buildGraph assembles and validates the graph. Dangling references and
// self-dependencies are InvalidDag: the engine refuses to run a
// workflow it cannot reason about.
func buildGraph(jobs []*types.Job, files []*types.File, userData []*types.UserData) (*depGraph, error) {
	byID := make(map[int64]*types.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}
	fileIDs := make(map[int64]bool, len(files))
	for _, f := range files {
		fileIDs[f.ID] = true
	}
	userDataIDs := make(map[int64]bool, len(userData))
	for _, u := range userData {
		userDataIDs[u.ID] = true
	}

	g := &depGraph{
		dependsOn:     make(map[int64][]int64),
		dependents:    make(map[int64][]int64),
		fileProducers: make(map[int64][]int64),
	}
	edges := make(map[int64]map[int64]bool)

	addEdge := func(consumer, producer int64) {
		if edges[consumer] == nil {
			edges[consumer] = make(map[int64]bool)
		}
		if edges[consumer][producer] {
			return
		}
		edges[consumer][producer] = true
		g.dependsOn[consumer] = append(g.dependsOn[consumer], producer)
		g.dependents[producer] = append(g.dependents[producer], consumer)
	}

	udProducers := make(map[int64][]int64)
	for _, j := range jobs {
		for _, fileID := range j.OutputFileIDs {
			if !fileIDs[fileID] {
				return nil, torcerr.InvalidDag("job %q outputs unknown file %d", j.Name, fileID)
			}
			g.fileProducers[fileID] = append(g.fileProducers[fileID], j.ID)
		}
		for _, udID := range j.OutputUserDataIDs {
			if !userDataIDs[udID] {
				return nil, torcerr.InvalidDag("job %q outputs unknown user data %d", j.Name, udID)
			}
			udProducers[udID] = append(udProducers[udID], j.ID)
		}
	}

	for _, j := range jobs {
		for _, depID := range j.DependsOnJobIDs {
			if depID == j.ID {
				return nil, torcerr.InvalidDag("job %q depends on itself", j.Name)
			}
			if _, ok := byID[depID]; !ok {
				return nil, torcerr.InvalidDag("job %q depends on unknown job %d", j.Name, depID)
			}
			addEdge(j.ID, depID)
		}
		for _, fileID := range j.InputFileIDs {
			if !fileIDs[fileID] {
				return nil, torcerr.InvalidDag("job %q consumes unknown file %d", j.Name, fileID)
			}
			for _, producer := range g.fileProducers[fileID] {
				// A job that reads and writes the same file is not a
				// dependency on itself.
				if producer != j.ID {
					addEdge(j.ID, producer)
				}
			}
		}
		for _, udID := range j.InputUserDataIDs {
			if !userDataIDs[udID] {
				return nil, torcerr.InvalidDag("job %q consumes unknown user data %d", j.Name, udID)
			}
			for _, producer := range udProducers[udID] {
				if producer != j.ID {
					addEdge(j.ID, producer)
				}
			}
		}
	}

	// Deterministic adjacency order makes claim ordering and test
	// output stable.
	for id := range g.dependsOn {
		sort.Slice(g.dependsOn[id], func(a, b int) bool { return g.dependsOn[id][a] < g.dependsOn[id][b] })
	}
	for id := range g.dependents {
		sort.Slice(g.dependents[id], func(a, b int) bool { return g.dependents[id][a] < g.dependents[id][b] })
	}

	return g, nil
}

// detectCycles runs Kahn's algorithm over the jobs for which include
// returns true. Jobs outside the set (already terminal, disabled) are
// treated as absent; edges into them do not count.
func detectCycles(g *depGraph, jobs []*types.Job, include func(*types.Job) bool) error {
	members := make(map[int64]bool)
	for _, j := range jobs {
		if include(j) {
			members[j.ID] = true
		}
	}

	inDegree := make(map[int64]int, len(members))
	for id := range members {
		for _, depID := range g.dependsOn[id] {
			if members[depID] {
				inDegree[id]++
			}
		}
	}

	queue := make([]int64, 0, len(members))
	for id := range members {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, depID := range g.dependents[id] {
			if !members[depID] {
				continue
			}
			inDegree[depID]--
			if inDegree[depID] == 0 {
				queue = append(queue, depID)
			}
		}
	}

	if processed != len(members) {
		return torcerr.InvalidDag("dependency cycle among %d jobs", len(members)-processed)
	}
	return nil
}
