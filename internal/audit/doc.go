// Package audit defines the core types and interfaces shared by the audit
// pipeline: reports, jobs, findings, and the collaborator contracts the
// orchestrator, workers and stores implement.
package audit
