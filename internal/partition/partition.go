// Package partition deals a roster into groups and binds each group to a task.
package partition

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"taskdealer/internal/logging"
	"taskdealer/internal/roster"
)

const (
	// DefaultGroupSize is used when no group size is given.
	DefaultGroupSize = 2
	// MaxGroupSize is the upper clamp for group size.
	MaxGroupSize = 10
)

var (
	ErrNoNames = errors.New("Please add at least one name.")
	ErrNoTasks = errors.New("Please add at least one task.")
)

// InsufficientTasksError is returned by a unique deal when there are fewer
// tasks than groups.
type InsufficientTasksError struct {
	Tasks  int
	Groups int
}

func (e *InsufficientTasksError) Error() string {
	return fmt.Sprintf("Not enough tasks (%d) for %d unique assignments. Add more tasks or disable unique tasks.", e.Tasks, e.Groups)
}

// Roles alternate by member index within a group.
var Roles = [2]string{"Driver", "Navigator"}

// Assignment binds one group to one task.
type Assignment struct {
	ID               int      `json:"id"`
	Group            []string `json:"group"`
	MembersWithRoles []string `json:"members_with_roles"`
	TaskName         string   `json:"task_name"`
	TaskDescription  string   `json:"task_description"`
}

// Members returns the comma-joined display form of the group.
func (a Assignment) Members() string {
	return strings.Join(a.MembersWithRoles, ", ")
}

// Options controls a deal.
type Options struct {
	GroupSize int
	Unique    bool
	// Rand is the randomness source. nil uses a freshly seeded generator.
	Rand *rand.Rand
}

// ClampGroupSize maps 0 (absent) to the default and clamps to 1..MaxGroupSize.
func ClampGroupSize(n int) int {
	switch {
	case n == 0:
		return DefaultGroupSize
	case n < 1:
		return 1
	case n > MaxGroupSize:
		return MaxGroupSize
	}
	return n
}

func rng(r *rand.Rand) *rand.Rand {
	if r != nil {
		return r
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Groups shuffles a copy of names and cuts it into consecutive chunks of
// groupSize. The last group may be short.
func Groups(names []string, groupSize int, r *rand.Rand) ([][]string, error) {
	if len(names) == 0 {
		return nil, ErrNoNames
	}
	size := ClampGroupSize(groupSize)
	r = rng(r)

	shuffled := append([]string(nil), names...)
	r.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	groups := make([][]string, 0, (len(shuffled)+size-1)/size)
	for start := 0; start < len(shuffled); start += size {
		end := min(start+size, len(shuffled))
		groups = append(groups, shuffled[start:end:end])
	}
	return groups, nil
}

// Deal partitions names into groups and assigns each group a task.
// Nothing is returned on error.
func Deal(names []string, tasks []roster.Task, opts Options) ([]Assignment, error) {
	if len(names) == 0 {
		return nil, ErrNoNames
	}
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}
	r := rng(opts.Rand)

	groups, err := Groups(names, opts.GroupSize, r)
	if err != nil {
		return nil, err
	}

	var picked []roster.Task
	if opts.Unique {
		if len(tasks) < len(groups) {
			return nil, &InsufficientTasksError{Tasks: len(tasks), Groups: len(groups)}
		}
		pool := append([]roster.Task(nil), tasks...)
		r.Shuffle(len(pool), func(i, j int) {
			pool[i], pool[j] = pool[j], pool[i]
		})
		picked = pool[:len(groups)]
	} else {
		picked = make([]roster.Task, len(groups))
		for i := range groups {
			picked[i] = tasks[r.IntN(len(tasks))]
		}
	}

	out := make([]Assignment, len(groups))
	for i, g := range groups {
		out[i] = newAssignment(i, g, picked[i])
	}
	logging.Partition("Dealt %d names into %d groups (size=%d unique=%v)",
		len(names), len(groups), ClampGroupSize(opts.GroupSize), opts.Unique)
	return out, nil
}

func newAssignment(id int, group []string, task roster.Task) Assignment {
	return Assignment{
		ID:               id,
		Group:            append([]string(nil), group...),
		MembersWithRoles: WithRoles(group),
		TaskName:         task.Name,
		TaskDescription:  task.Description,
	}
}

// WithRoles renders each member as "Name (Role)". A solo member gets no role.
func WithRoles(group []string) []string {
	out := make([]string, len(group))
	for i, name := range group {
		if len(group) == 1 {
			out[i] = name
			continue
		}
		out[i] = fmt.Sprintf("%s (%s)", name, Roles[i%2])
	}
	return out
}

// ManualResult is the outcome of a manual assignment.
type ManualResult struct {
	Assignments []Assignment
	// Unassigned lists the indices of groups that had no task selected.
	Unassigned []int
}

// Manual produces one assignment per (group, selected task) pair in group
// order with dense IDs. selections[i] holds the tasks chosen for groups[i].
func Manual(groups [][]string, selections [][]roster.Task) (*ManualResult, error) {
	if len(groups) == 0 {
		return nil, ErrNoNames
	}
	res := &ManualResult{}
	for i, g := range groups {
		var chosen []roster.Task
		if i < len(selections) {
			chosen = selections[i]
		}
		if len(chosen) == 0 {
			res.Unassigned = append(res.Unassigned, i)
			continue
		}
		for _, task := range chosen {
			res.Assignments = append(res.Assignments, newAssignment(len(res.Assignments), g, task))
		}
	}
	if len(res.Assignments) == 0 {
		return nil, ErrNoTasks
	}
	logging.PartitionDebug("Manual assignment: %d assignments, %d groups without tasks",
		len(res.Assignments), len(res.Unassigned))
	return res, nil
}
