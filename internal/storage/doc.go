// Package storage persists per-user chtbtr state.
//
// Every review username owns two documents:
//   - a mapping record (the resolved chat profile, or a confirmed absence)
//   - a settings document (YAML, hand-editable, created with defaults on first use)
//
// Deliveries are additionally appended to an audit log.
//
// Drivers: "file" (default, one directory per user), "sqlite", "postgres".
package storage
