package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deployql/deployql/pkg/executor"
	"github.com/deployql/deployql/pkg/reconcile"
)

const stackManifest = `
version: 1
name: web-stack
description: a small network with one server
providers:
  - aws
globals:
  - name: vpc_cidr
    value: "10.0.0.0/16"
resources:
  - name: network
    props:
      - name: net_name
        value: "{{ stack_name }}-{{ stack_env }}-net"
    exports:
      - vpc_id
  - name: server
    props:
      - name: subnet
        values:
          prod:
            value: "10.0.1.0/24"
          dev:
            value: "10.0.9.0/24"
exports:
  - vpc_id
`

const networkQueries = `
/*+ exists */
SELECT COUNT(*) as count FROM aws.ec2.vpcs WHERE name = '{{ net_name }}'

/*+ create */
INSERT INTO aws.ec2.vpcs (name, cidr) SELECT '{{ net_name }}', '{{ vpc_cidr }}'

/*+ statecheck, retries=1 */
SELECT COUNT(*) as count FROM aws.ec2.vpcs
WHERE name = '{{ net_name }}' AND cidr = '{{ vpc_cidr }}'

/*+ exports */
SELECT vpc_id FROM aws.ec2.vpcs WHERE name = '{{ net_name }}'

/*+ delete */
DELETE FROM aws.ec2.vpcs WHERE name = '{{ net_name }}'
`

const serverQueries = `
/*+ exists */
SELECT COUNT(*) as count FROM aws.ec2.instances WHERE subnet = '{{ subnet }}'

/*+ create */
INSERT INTO aws.ec2.instances (vpc, subnet) SELECT '{{ vpc_id }}', '{{ subnet }}'

/*+ statecheck, retries=1 */
SELECT COUNT(*) as count FROM aws.ec2.instances WHERE subnet = '{{ subnet }}'

/*+ delete */
DELETE FROM aws.ec2.instances WHERE vpc = '{{ vpc_id }}'
`

func writeStack(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "resources"), 0o755))
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("stackql_manifest.yml", stackManifest)
	write(filepath.Join("resources", "network.iql"), networkQueries)
	write(filepath.Join("resources", "server.iql"), serverQueries)
	return dir
}

func runStack(t *testing.T, exec executor.Executor, mode Mode, tweak func(*StackOptions)) (*RunResult, error) {
	t.Helper()
	opts := StackOptions{
		StackDir: writeStack(t),
		Env:      "prod",
		Mode:     mode,
		Executor: exec,
	}
	if tweak != nil {
		tweak(&opts)
	}
	return RunStack(context.Background(), opts)
}

func TestBuildCreatesResourcesInOrder(t *testing.T) {
	exec := executor.NewScripted().
		RespondCount(0). // network exists
		Respond().       // network create
		RespondCount(1). // network statecheck
		Respond(executor.Row{"vpc_id": "vpc-123"}).
		RespondCount(0). // server exists
		Respond().       // server create
		RespondCount(1)  // server statecheck

	result, err := runStack(t, exec, ModeBuild, nil)
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	assert.Equal(t, reconcile.OutcomeCreated, result.Outcome("network"))
	assert.Equal(t, reconcile.OutcomeCreated, result.Outcome("server"))
	assert.Equal(t, 0, exec.Remaining())

	calls := exec.Calls()
	require.Len(t, calls, 7)
	// Globals and metadata render into the network queries.
	assert.Contains(t, calls[1], "'web-stack-prod-net'")
	assert.Contains(t, calls[1], "'10.0.0.0/16'")
	// The network's export is visible to the server, one resource later.
	assert.Contains(t, calls[5], "'vpc-123'")
	// The per-environment prop picked the prod value.
	assert.Contains(t, calls[5], "'10.0.1.0/24'")
}

func TestBuildIsIdempotent(t *testing.T) {
	exec := executor.NewScripted().
		RespondCount(1). // network exists
		RespondCount(1). // network statecheck: desired
		Respond(executor.Row{"vpc_id": "vpc-123"}).
		RespondCount(1). // server exists
		RespondCount(1)  // server statecheck: desired

	result, err := runStack(t, exec, ModeBuild, nil)
	require.NoError(t, err)

	assert.Equal(t, reconcile.OutcomeSkipped, result.Outcome("network"))
	assert.Equal(t, reconcile.OutcomeSkipped, result.Outcome("server"))
	for _, call := range exec.Calls() {
		assert.NotContains(t, call, "INSERT")
		assert.NotContains(t, call, "UPDATE")
	}
}

func TestTeardownReversesDeclarationOrder(t *testing.T) {
	exec := executor.NewScripted().
		Respond(executor.Row{"vpc_id": "vpc-123"}). // export pre-collection
		RespondCount(1). // server exists
		Respond().       // server delete
		RespondCount(0). // server absent
		RespondCount(1). // network exists
		Respond().       // network delete
		RespondCount(0)  // network absent

	result, err := runStack(t, exec, ModeTeardown, nil)
	require.NoError(t, err)

	require.Len(t, result.Results, 2)
	assert.Equal(t, "server", result.Results[0].Resource)
	assert.Equal(t, "network", result.Results[1].Resource)
	assert.Equal(t, reconcile.OutcomeDeleted, result.Results[0].Outcome)
	assert.Equal(t, reconcile.OutcomeDeleted, result.Results[1].Outcome)

	calls := exec.Calls()
	require.Len(t, calls, 7)
	// The pre-collected export renders into the server's delete query.
	assert.Contains(t, calls[2], "DELETE")
	assert.Contains(t, calls[2], "'vpc-123'")
	// Instances go before the vpc they live in.
	serverDelete := indexContaining(calls, "DELETE FROM aws.ec2.instances")
	networkDelete := indexContaining(calls, "DELETE FROM aws.ec2.vpcs")
	require.GreaterOrEqual(t, serverDelete, 0)
	require.GreaterOrEqual(t, networkDelete, 0)
	assert.Less(t, serverDelete, networkDelete)
}

func TestRunFailsFast(t *testing.T) {
	exec := executor.NewScripted().
		RespondCount(0). // network exists
		Respond().       // network create
		RespondErr(errors.New("backend unavailable"))

	result, err := runStack(t, exec, ModeBuild, nil)
	require.Error(t, err)
	assert.True(t, reconcile.IsExecution(err))

	require.NotNil(t, result.Failure)
	assert.Equal(t, "network", result.Failure.Resource)
	assert.Equal(t, reconcile.OutcomeFailed, result.Outcome("network"))
	assert.Equal(t, reconcile.Outcome(""), result.Outcome("server"))
	for _, call := range exec.Calls() {
		assert.NotContains(t, call, "instances")
	}
}

func TestTestModeReportsAbsentAfterTeardown(t *testing.T) {
	exec := executor.NewScripted().
		RespondCount(0). // network statecheck
		RespondCount(0). // network exists: gone
		RespondCount(0). // server statecheck
		RespondCount(0)  // server exists: gone

	result, err := runStack(t, exec, ModeTest, nil)
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	assert.Equal(t, reconcile.OutcomeAbsent, result.Outcome("network"))
	assert.Equal(t, reconcile.OutcomeAbsent, result.Outcome("server"))
	assert.Equal(t, 2, result.Drifted())
}

func TestTestModeReportsDrift(t *testing.T) {
	exec := executor.NewScripted().
		RespondCount(0). // network statecheck: not desired
		RespondCount(1). // network exists: still there
		RespondCount(1)  // server statecheck: desired

	result, err := runStack(t, exec, ModeTest, nil)
	require.NoError(t, err)

	assert.Equal(t, reconcile.OutcomeDrifted, result.Outcome("network"))
	assert.Equal(t, reconcile.OutcomeSkipped, result.Outcome("server"))
	assert.Equal(t, 1, result.Drifted())
}

func TestProviderPull(t *testing.T) {
	exec := executor.NewScripted().
		Respond().       // REGISTRY PULL aws
		RespondCount(1). // network exists
		RespondCount(1). // network statecheck
		Respond(executor.Row{"vpc_id": "vpc-123"}).
		RespondCount(1). // server exists
		RespondCount(1)  // server statecheck

	result, err := runStack(t, exec, ModeBuild, func(o *StackOptions) {
		o.PullProviders = true
	})
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	assert.Equal(t, "REGISTRY PULL aws", exec.Calls()[0])
}

func TestDryRunExecutesNothing(t *testing.T) {
	exec := executor.NewScripted()
	result, err := runStack(t, exec, ModeBuild, func(o *StackOptions) {
		o.DryRun = true
	})
	require.NoError(t, err)
	assert.Empty(t, exec.Calls())
	assert.Equal(t, reconcile.OutcomeCreated, result.Outcome("network"))
	assert.Equal(t, reconcile.OutcomeCreated, result.Outcome("server"))
}

func TestOutputsFileWritten(t *testing.T) {
	exec := executor.NewScripted().
		RespondCount(1).
		RespondCount(1).
		Respond(executor.Row{"vpc_id": "vpc-123"}).
		RespondCount(1).
		RespondCount(1)

	outPath := filepath.Join(t.TempDir(), "outputs.json")
	_, err := runStack(t, exec, ModeBuild, func(o *StackOptions) {
		o.OutputsFile = outPath
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, `"vpc_id": "vpc-123"`)
	assert.Contains(t, text, `"stack_name": "web-stack"`)
	assert.Contains(t, text, `"stack_env": "prod"`)
}

func TestEnvFileMergedBelowOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "prod.env")
	require.NoError(t, os.WriteFile(envFile,
		[]byte("REGION=us-east-1\nOWNER=from-file\n"), 0o644))

	merged, err := resolveOverrides(StackOptions{
		EnvFile:   envFile,
		Overrides: map[string]string{"OWNER": "explicit"},
	})
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", merged["REGION"])
	assert.Equal(t, "explicit", merged["OWNER"])
}

func TestRunStackRejectsMissingEnv(t *testing.T) {
	_, err := RunStack(context.Background(), StackOptions{
		StackDir: writeStack(t),
		Mode:     ModeBuild,
		Executor: executor.NewScripted(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "environment")
}

// TestResourceLifecycle walks one resource through its whole life: created
// on the first build, skipped on the second, deleted by teardown, and
// reported absent by a final test run.
func TestResourceLifecycle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "resources"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stackql_manifest.yml"), []byte(`
name: app
providers: [azure]
resources:
  - name: rg
    props:
      - name: resource_group_name
        value: "app-{{ stack_env }}-rg"
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "resources", "rg.iql"), []byte(`
/*+ exists */
SELECT COUNT(*) as count FROM azure.resources.resource_groups WHERE name = '{{ resource_group_name }}'

/*+ create */
INSERT INTO azure.resources.resource_groups (name) SELECT '{{ resource_group_name }}'

/*+ statecheck, retries=1 */
SELECT COUNT(*) as count FROM azure.resources.resource_groups WHERE name = '{{ resource_group_name }}'

/*+ delete */
DELETE FROM azure.resources.resource_groups WHERE name = '{{ resource_group_name }}'
`), 0o644))

	run := func(exec executor.Executor, mode Mode) *RunResult {
		t.Helper()
		result, err := RunStack(context.Background(), StackOptions{
			StackDir: dir,
			Env:      "prod",
			Mode:     mode,
			Executor: exec,
		})
		require.NoError(t, err)
		return result
	}

	// First build: absent, so created; statecheck passes on attempt 1.
	exec := executor.NewScripted().RespondCount(0).Respond().RespondCount(1)
	result := run(exec, ModeBuild)
	assert.Equal(t, reconcile.OutcomeCreated, result.Outcome("rg"))
	assert.Equal(t, 1, result.Results[0].Attempts)
	assert.Contains(t, exec.Calls()[1], "'app-prod-rg'")

	// Second build with identical inputs: skipped, no mutation.
	exec = executor.NewScripted().RespondCount(1).RespondCount(1)
	result = run(exec, ModeBuild)
	assert.Equal(t, reconcile.OutcomeSkipped, result.Outcome("rg"))

	// Teardown: deleted and confirmed absent.
	exec = executor.NewScripted().RespondCount(1).Respond().RespondCount(0)
	result = run(exec, ModeTeardown)
	assert.Equal(t, reconcile.OutcomeDeleted, result.Outcome("rg"))

	// A test run afterwards reports absence, not an error.
	exec = executor.NewScripted().RespondCount(0).RespondCount(0)
	result = run(exec, ModeTest)
	assert.Equal(t, reconcile.OutcomeAbsent, result.Outcome("rg"))
	require.True(t, result.Succeeded())
}

func indexContaining(calls []string, substr string) int {
	for i, c := range calls {
		if strings.Contains(c, substr) {
			return i
		}
	}
	return -1
}
