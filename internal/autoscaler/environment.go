package autoscaler

import (
	"strconv"

	"github.com/lambdah/lambdah/internal/registry"
)

// dangerousEnvVars are host-process environment variables that must never
// leak into a worker container unexamined (spec.md §6 "Environment
// variables"), grounded on sanitize_environment_variables in
// service/crates/invoker/src/security.rs.
var dangerousEnvVars = []string{
	"PATH",
	"LD_LIBRARY_PATH",
	"LD_PRELOAD",
	"PYTHONPATH",
	"NODE_PATH",
	"HOME",
	"USER",
	"SHELL",
}

// sanitizeEnvironment strips dangerousEnvVars from env and layers in the
// AWS_LAMBDA_*/LAMBDA_* variables every worker runtime shim expects,
// following security.rs's strip-then-inject order exactly. containerID is
// the exact id the container will be created under (known up front since
// the daemon picks it, not assigned by the driver), echoed back as
// LAMBDAH_CONTAINER_ID so the worker can identify itself to the Runtime
// API's Next endpoint (its cid parameter) without guessing its own id.
func sanitizeEnvironment(env map[string]string, fn registry.Function, instanceID, containerID, runtimeAPIAddr string) map[string]string {
	out := make(map[string]string, len(env)+9)
	for k, v := range env {
		out[k] = v
	}
	for _, v := range dangerousEnvVars {
		delete(out, v)
	}

	out["AWS_LAMBDA_RUNTIME_API"] = runtimeAPIAddr
	out["AWS_LAMBDA_FUNCTION_NAME"] = fn.Name
	out["AWS_LAMBDA_FUNCTION_VERSION"] = fn.Version
	out["AWS_LAMBDA_FUNCTION_MEMORY_SIZE"] = strconv.Itoa(fn.MemoryMB)
	out["LAMBDA_TASK_ROOT"] = "/var/task"
	out["LAMBDA_RUNTIME_DIR"] = "/var/runtime"
	out["LAMBDAH_INSTANCE_ID"] = instanceID
	out["LAMBDAH_CONTAINER_ID"] = containerID

	return out
}
