package mcpbridge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TaskStatus mirrors Claude Code's task-list status vocabulary.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task is one entry of a Claude Code task list file (spec §4.9: "read
// Claude-task-list files").
type Task struct {
	ID          string     `json:"id"`
	Subject     string     `json:"subject"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Owner       string     `json:"owner,omitempty"`
	BlockedBy   []string   `json:"blockedBy,omitempty"`
	Blocks      []string   `json:"blocks,omitempty"`
}

// TaskGraph is every task belonging to one task list, aggregated from its
// per-task JSON files.
type TaskGraph struct {
	ListID string `json:"listId"`
	Tasks  []Task `json:"tasks"`
}

// ReadTaskList reads every *.json file under
// ~/.claude/tasks/<listID>/ (grounded on internal/playbook/playbook.go's
// loadDir: read every file in a directory, skip ones that don't parse,
// return what did) and aggregates it into a TaskGraph. statusFilter, when
// non-empty, keeps only tasks whose status matches one of the given values.
func ReadTaskList(homeDir, listID string, statusFilter []TaskStatus) (TaskGraph, error) {
	if strings.TrimSpace(listID) == "" {
		return TaskGraph{}, fmt.Errorf("mcpbridge: task list id is required")
	}
	dir := filepath.Join(homeDir, ".claude", "tasks", listID)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return TaskGraph{ListID: listID}, nil
		}
		return TaskGraph{}, fmt.Errorf("mcpbridge: read task list dir: %w", err)
	}

	allowed := make(map[TaskStatus]bool, len(statusFilter))
	for _, s := range statusFilter {
		allowed[s] = true
	}

	var tasks []Task
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		if len(allowed) > 0 && !allowed[t.Status] {
			continue
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	return TaskGraph{ListID: listID, Tasks: tasks}, nil
}
