package harness

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/summarycheck/internal/oracle"
	"github.com/roach88/summarycheck/internal/testutil"
)

// newRequestSystem wires a fake URL request: set_method prefixes the method,
// load marks it loaded, fail always errors.
func newRequestSystem(t *testing.T) (*testutil.FakeOracle, *testutil.FakeDriver) {
	t.Helper()

	fake := testutil.NewFakeOracle()
	fake.Set("0x1", "NSURLRequest", "https://google.com")

	driver := testutil.NewFakeDriver()
	driver.Handle("set_method", func(subject oracle.Subject, args map[string]any) error {
		fake.Set(subject.Handle, "NSURLRequest", fmt.Sprintf("%v, https://google.com", args["method"]))
		return nil
	})
	driver.Handle("load", func(subject oracle.Subject, args map[string]any) error {
		fake.Set(subject.Handle, "NSURLRequest", "loaded, https://google.com")
		return nil
	})
	driver.Handle("fail", func(subject oracle.Subject, args map[string]any) error {
		return fmt.Errorf("connection reset")
	})
	t.Cleanup(driver.Close)
	return fake, driver
}

// settledDriver waits for a started action to finish before Start returns,
// so its outcome is known to the runner before the next step.
type settledDriver struct {
	*testutil.FakeDriver
}

func (d *settledDriver) Start(ctx context.Context, subject oracle.Subject, action string, args map[string]any, done func(error)) error {
	finished := make(chan struct{})
	err := d.FakeDriver.Start(ctx, subject, action, args, func(err error) {
		done(err)
		close(finished)
	})
	if err != nil {
		return err
	}
	<-finished
	return nil
}

func expect(s string) *string { return &s }

func requestScenario(steps ...Step) *Scenario {
	return &Scenario{
		Name:        "request",
		Description: "URL request summaries",
		Subjects:    map[string]oracle.Subject{"request": {Handle: "0x1"}},
		Steps:       steps,
	}
}

func verifyStep(text string) Step {
	return Step{Verify: &VerifyStep{Subject: "request", Type: "NSURLRequest", Expect: expect(text)}}
}

func awaitStep(text, timeout string) Step {
	return Step{Verify: &VerifyStep{Subject: "request", Type: "NSURLRequest", Expect: expect(text), Await: true, Timeout: timeout}}
}

func invokeStep(action string, args map[string]any) Step {
	return Step{Invoke: &ActionStep{Subject: "request", Action: action, Args: args}}
}

func startStep(action string) Step {
	return Step{Start: &ActionStep{Subject: "request", Action: action}}
}

func TestRun_SynchronousMutation(t *testing.T) {
	fake, driver := newRequestSystem(t)

	scenario := requestScenario(
		verifyStep("https://google.com"),
		invokeStep("set_method", map[string]any{"method": "POST"}),
		verifyStep("POST, https://google.com"),
	)

	result, err := Run(context.Background(), scenario, Deps{Oracle: fake, Driver: driver})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"0x1:set_method"}, driver.Invoked())
	require.Len(t, result.Trace, 3)
	assert.Equal(t, EventInvoke, result.Trace[1].Type)
	assert.Equal(t, "request (0x1)", result.Trace[1].Subject)
}

func TestRun_MismatchIsReportedNotReturned(t *testing.T) {
	fake, driver := newRequestSystem(t)

	scenario := requestScenario(
		invokeStep("set_method", map[string]any{"method": "POST"}),
		verifyStep("GET, https://google.com"),
		verifyStep("POST, https://google.com"),
	)

	result, err := Run(context.Background(), scenario, Deps{Oracle: fake, Driver: driver})
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Reports, 1)
	assert.Equal(t, int64(1), result.Reports[0].Seq)
	assert.Equal(t, "POST, https://google.com", result.Reports[0].Actual)

	// Checkpoints after a mismatch still run.
	assert.Equal(t, "pass", result.Trace[len(result.Trace)-1].Verdict)
}

func TestRun_AwaitCompletesBeforeBound(t *testing.T) {
	fake, driver := newRequestSystem(t)
	driver.Delay = 100 * time.Millisecond

	scenario := requestScenario(
		startStep("load"),
		awaitStep("loaded, https://google.com", ""),
	)

	start := time.Now()
	result, err := Run(context.Background(), scenario, Deps{Oracle: fake, Driver: driver, Timeout: 10 * time.Second})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Less(t, time.Since(start), 5*time.Second, "the checkpoint must not wait for the full bound")
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestRun_AwaitTimesOut(t *testing.T) {
	fake, driver := newRequestSystem(t)
	driver.Delay = 5 * time.Second

	scenario := requestScenario(
		startStep("load"),
		awaitStep("loaded, https://google.com", "50ms"),
	)

	start := time.Now()
	result, err := Run(context.Background(), scenario, Deps{Oracle: fake, Driver: driver})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.False(t, result.Pass)
	require.Len(t, result.Reports, 1)
	assert.Equal(t, "gate_timeout", string(result.Reports[0].Class))
	assert.Equal(t, 50*time.Millisecond, result.Reports[0].Bound)
	assert.Equal(t, 0, fake.Calls("0x1"), "an expired gate must not query the oracle")
}

func TestRun_ScenarioTimeoutIsDefaultBound(t *testing.T) {
	fake, driver := newRequestSystem(t)
	driver.Delay = 5 * time.Second

	scenario := requestScenario(startStep("load"), awaitStep("loaded, https://google.com", ""))
	scenario.Timeout = "40ms"

	result, err := Run(context.Background(), scenario, Deps{Oracle: fake, Driver: driver, Timeout: time.Minute})
	require.NoError(t, err)
	require.Len(t, result.Reports, 1)
	assert.Equal(t, 40*time.Millisecond, result.Reports[0].Bound)
}

func TestRun_FailedBackgroundActionFailsAwaitedCheckpoint(t *testing.T) {
	fake, driver := newRequestSystem(t)

	scenario := requestScenario(
		startStep("fail"),
		awaitStep("loaded, https://google.com", "10s"),
	)

	start := time.Now()
	result, err := Run(context.Background(), scenario, Deps{Oracle: fake, Driver: driver})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "a failed action must release the waiter")

	assert.False(t, result.Pass)
	require.Len(t, result.Reports, 1)
	assert.Equal(t, "action_failed", string(result.Reports[0].Class))
	assert.Zero(t, result.Reports[0].Bound)
	require.Len(t, result.Errors, 1, "the failure is reported once, by the checkpoint")
	assert.Contains(t, result.Errors[0], "connection reset")
	assert.NotContains(t, result.Errors[0], "did not complete within")
	assert.Equal(t, 0, fake.Calls("0x1"))
}

func TestRun_FailedBackgroundActionWithoutAwaitIsRecorded(t *testing.T) {
	fake, driver := newRequestSystem(t)

	scenario := requestScenario(
		startStep("fail"),
		verifyStep("https://google.com"),
	)

	result, err := Run(context.Background(), scenario, Deps{Oracle: fake, Driver: &settledDriver{FakeDriver: driver}})
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Empty(t, result.Reports)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "start fail on request (0x1): connection reset")
}

func TestRun_InvokeFailureStopsScenario(t *testing.T) {
	fake, driver := newRequestSystem(t)

	scenario := requestScenario(
		invokeStep("fail", nil),
		verifyStep("https://google.com"),
	)

	result, err := Run(context.Background(), scenario, Deps{Oracle: fake, Driver: driver})
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 0 (invoke)")
	assert.Equal(t, 0, fake.Calls("0x1"))
}

func TestRun_SecondStartWhilePendingIsMisuse(t *testing.T) {
	fake, driver := newRequestSystem(t)
	driver.Delay = 5 * time.Second

	scenario := requestScenario(
		startStep("load"),
		startStep("load"),
		awaitStep("loaded, https://google.com", ""),
	)

	start := time.Now()
	result, err := Run(context.Background(), scenario, Deps{Oracle: fake, Driver: driver})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "teardown must not wait for the pending action")
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 1 (start): gate misuse")
	assert.Empty(t, result.Reports, "the scenario stops before the awaited checkpoint")
}

func TestRun_CancelledContext(t *testing.T) {
	fake, driver := newRequestSystem(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Run(ctx, requestScenario(verifyStep("https://google.com")), Deps{Oracle: fake, Driver: driver})
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "cancelled")
}

func TestRun_RequiresCollaborators(t *testing.T) {
	fake, _ := newRequestSystem(t)

	_, err := Run(context.Background(), nil, Deps{Oracle: fake})
	require.Error(t, err)

	_, err = Run(context.Background(), requestScenario(verifyStep("x")), Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle is required")

	_, err = Run(context.Background(), requestScenario(invokeStep("load", nil)), Deps{Oracle: fake})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver is required")

	// Verify-only scenarios need no driver.
	result, err := Run(context.Background(), requestScenario(verifyStep("https://google.com")), Deps{Oracle: fake})
	require.NoError(t, err)
	assert.True(t, result.Pass)
}

func TestRun_IdempotenceCheck(t *testing.T) {
	fake, driver := newRequestSystem(t)
	driver.Delay = 20 * time.Millisecond

	scenario := requestScenario(
		verifyStep("https://google.com"),
		verifyStep("https://google.com"),
		invokeStep("set_method", map[string]any{"method": "POST"}),
		verifyStep("POST, https://google.com"),
		startStep("load"),
		awaitStep("loaded, https://google.com", "5s"),
	)

	result, err := Run(context.Background(), scenario, Deps{Oracle: fake, Driver: driver, CheckIdempotence: true})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Len(t, result.History, 6)
	assert.Equal(t, int64(4), result.Checkpoints)
}

func TestRun_Golden(t *testing.T) {
	fake, driver := newRequestSystem(t)

	scenario := requestScenario(
		verifyStep("https://google.com"),
		invokeStep("set_method", map[string]any{"method": "POST"}),
		verifyStep("POST, https://google.com"),
		startStep("load"),
		awaitStep("loaded, https://google.com", "5s"),
	)
	scenario.Name = "request_method"

	result, err := RunWithGolden(t, scenario, Deps{Oracle: fake, Driver: driver})
	require.NoError(t, err)
	assert.True(t, result.Pass)
}
