package tools

import (
	"fmt"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
)

// Known tool names, matching the canonical events/entities they act on.
const (
	TaskCreate  = "task_create"
	TaskUpdate  = "task_update"
	TaskDelete  = "task_delete"
	TaskGet     = "task_get"
	TaskList    = "task_list"
	RollupDaily = "rollup_daily"
	VaultExport = "vault_export"
)

// taskStatusEnum mirrors vault.TaskStatus without importing the vault
// package, keeping tool schemas free of a dependency on the entity store.
var taskStatusEnum = []string{"todo", "doing", "blocked", "review", "done"}

// Registry is the immutable catalogue of every tool's argument schema.
var Registry = map[string]Schema{
	TaskCreate: {
		Tool: TaskCreate,
		Fields: []Field{
			{Name: "title", Type: FieldString, Required: true},
			{Name: "status", Type: FieldEnum, Enum: taskStatusEnum},
			{Name: "tags", Type: FieldList, MaxListSize: 32},
			{Name: "content", Type: FieldString},
			{Name: "time_hint", Type: FieldString},
		},
	},
	TaskUpdate: {
		Tool: TaskUpdate,
		Fields: []Field{
			{Name: "id", Type: FieldString, Required: true},
			{Name: "status", Type: FieldEnum, Enum: taskStatusEnum},
			{Name: "title", Type: FieldString},
			{Name: "tags", Type: FieldList, MaxListSize: 32},
			{Name: "content", Type: FieldString},
		},
	},
	TaskDelete: {
		Tool: TaskDelete,
		Fields: []Field{
			{Name: "id", Type: FieldString, Required: true},
		},
	},
	TaskGet: {
		Tool: TaskGet,
		Fields: []Field{
			{Name: "id", Type: FieldString, Required: true},
		},
	},
	TaskList: {
		Tool: TaskList,
		Fields: []Field{
			{Name: "status", Type: FieldEnum, Enum: taskStatusEnum},
		},
	},
	RollupDaily: {
		Tool: RollupDaily,
		Fields: []Field{
			{Name: "date", Type: FieldDate, Required: true},
		},
	},
	VaultExport: {
		Tool: VaultExport,
		Fields: []Field{
			{Name: "destination", Type: FieldString, Required: true},
		},
	},
}

// ValidateToolArgs validates raw arguments against the named tool's schema.
// An unknown tool name is itself a validation error.
func ValidateToolArgs(name string, raw map[string]interface{}) (map[string]interface{}, error) {
	schema, ok := Registry[name]
	if !ok {
		return nil, kerrors.InvalidInput("tool", fmt.Sprintf("unknown tool %q", name))
	}
	return schema.Validate(raw)
}

// Names returns every registered tool name, in a stable order; the plan
// node offers this list to the LLM.
func Names() []string {
	return []string{TaskCreate, TaskUpdate, TaskDelete, TaskGet, TaskList, RollupDaily, VaultExport}
}
