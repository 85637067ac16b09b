/*
Package log wraps zerolog behind a small global configuration surface.

Call Init once at process start; everything else derives loggers from
the global. Output is human-readable console format by default and
line-delimited JSON when configured, which is what log shippers want.

Components take a child logger at construction and tag every line:

	logger := log.WithComponent("engine")
	logger.Info().Int64("workflow_id", wf.ID).Msg("Workflow initialized")

Field names are stable across the codebase so lines can be joined in a
log pipeline: component, workflow_id, job_id, compute_node_id, and
request_id on API lines.
*/
package log
