// Package guide drives the per-assignment guide lifecycle: cache check,
// streamed generation, cache write and render, with results kept on a Board
// keyed by assignment ID.
package guide

import (
	"fmt"
	"strings"

	"taskdealer/internal/guidecache"
	"taskdealer/internal/partition"
	"taskdealer/internal/prompt"
)

// State is a slot's position in the guide lifecycle.
type State int

const (
	StatePending State = iota
	StateCacheChecking
	StateCacheHit
	StateCacheMiss
	StateStreaming
	StateDecoding
	StateCacheWriting
	StateRendered
	StateFailed
)

var stateNames = [...]string{
	"pending", "cache-checking", "cache-hit", "cache-miss",
	"streaming", "decoding", "cache-writing", "rendered", "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateRendered || s == StateFailed
}

// Source says where a rendered guide came from.
type Source string

const (
	SourceNone      Source = ""
	SourceCache     Source = "cache"
	SourceGenerated Source = "generated"
)

// Request asks for the guide of one slot.
type Request struct {
	ID          int
	Kind        prompt.Kind // KindTask or KindProject
	Name        string
	Description string
	Members     []string
	Advanced    bool
	// Force skips the cache lookup and always generates.
	Force bool
}

// TaskRequest builds the request for a dealt assignment.
func TaskRequest(a partition.Assignment, advanced bool) Request {
	return Request{
		ID:          a.ID,
		Kind:        prompt.KindTask,
		Name:        a.TaskName,
		Description: a.TaskDescription,
		Members:     append([]string(nil), a.MembersWithRoles...),
		Advanced:    advanced,
	}
}

// ProjectRequest builds the request for a project guide shown in slot id.
func ProjectRequest(id int, name, description string) Request {
	return Request{ID: id, Kind: prompt.KindProject, Name: name, Description: description}
}

// ProjectAssignment wraps a project as a single-slot result set.
func ProjectAssignment(id int, name, description string) partition.Assignment {
	return partition.Assignment{ID: id, TaskName: name, TaskDescription: description}
}

// CacheKey returns the cache identity of the request for model.
func (r Request) CacheKey(model string) guidecache.Key {
	return guidecache.Key{
		TaskName:        r.Name,
		TaskDescription: r.Description,
		IsAdvanced:      r.Advanced && r.Kind == prompt.KindTask,
		ModelName:       model,
		IsProject:       r.Kind == prompt.KindProject,
	}
}

func (r Request) prompt() prompt.Request {
	return prompt.Request{
		Kind:        r.Kind,
		Name:        r.Name,
		Description: r.Description,
		Members:     r.Members,
		Advanced:    r.Advanced,
	}
}

func (r Request) label() string {
	return fmt.Sprintf("%s %q [%s]", r.Kind, r.Name, strings.Join(r.Members, ", "))
}
