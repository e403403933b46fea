package autoscaler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lambdah/lambdah/internal/registry"
)

func TestSanitizeEnvironmentStripsDangerousVars(t *testing.T) {
	fn := registry.Function{Name: "hello", Version: "3", MemoryMB: 512}
	env := map[string]string{
		"PATH":                   "/usr/bin:/bin",
		"LD_PRELOAD":             "evil.so",
		"HOME":                   "/root",
		"CUSTOM_VAR":             "keep-me",
		"AWS_LAMBDA_RUNTIME_API": "caller-supplied-should-be-overwritten",
	}

	out := sanitizeEnvironment(env, fn, "instance-1", "hello-instance-1", "host.docker.internal:9001")

	for _, k := range dangerousEnvVars {
		_, present := out[k]
		require.False(t, present, "%s should have been stripped", k)
	}
	require.Equal(t, "keep-me", out["CUSTOM_VAR"])
}

func TestSanitizeEnvironmentInjectsLambdaVars(t *testing.T) {
	fn := registry.Function{Name: "hello", Version: "3", MemoryMB: 512}
	out := sanitizeEnvironment(map[string]string{}, fn, "instance-1", "hello-instance-1", "host.docker.internal:9001")

	require.Equal(t, "host.docker.internal:9001", out["AWS_LAMBDA_RUNTIME_API"])
	require.Equal(t, "hello", out["AWS_LAMBDA_FUNCTION_NAME"])
	require.Equal(t, "3", out["AWS_LAMBDA_FUNCTION_VERSION"])
	require.Equal(t, "512", out["AWS_LAMBDA_FUNCTION_MEMORY_SIZE"])
	require.Equal(t, "/var/task", out["LAMBDA_TASK_ROOT"])
	require.Equal(t, "/var/runtime", out["LAMBDA_RUNTIME_DIR"])
	require.Equal(t, "instance-1", out["LAMBDAH_INSTANCE_ID"])
	require.Equal(t, "hello-instance-1", out["LAMBDAH_CONTAINER_ID"])
}
