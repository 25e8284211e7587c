// Package triggers unifies the two trigger sources an agent can own.
//
// A Schedule fires on a cron expression evaluated in its own timezone. An
// EventTrigger fires when an inbound event (integration push, generic webhook,
// API or manual call) names it. Both are addressed through one composite
// identifier and read through one projection:
//
//	┌──────────────┐      ┌──────────────────┐
//	│   Schedule   │      │   EventTrigger   │   stored rows
//	└──────┬───────┘      └────────┬─────────┘
//	       │   ProjectSchedule     │   ProjectEventTrigger
//	       └──────────┬────────────┘
//	         ┌────────▼────────┐
//	         │ UnifiedTrigger  │   "<schedule|trigger>:<uuid>"
//	         └────────┬────────┘
//	         ┌────────▼────────┐
//	         │     Service     │   list / get / create / update / delete / fire
//	         └─────────────────┘
//
// Input defaults and input mappings are normalized by pure functions
// (ExtractDefaults, ExtractInputMapping, MergeInputMapping,
// ValidateInputMapping) so updates can be computed before the store
// transaction and written in one statement.
package triggers
