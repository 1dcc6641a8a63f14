package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/summarycheck/internal/oracle"
	"github.com/roach88/summarycheck/internal/testutil"
)

// requestSystem is a fake system under test served over HTTP.
type requestSystem struct {
	oracle    *testutil.FakeOracle
	driver    *testutil.FakeDriver
	oracleURL string
	driverURL string
}

func newRequestSystem(t *testing.T) *requestSystem {
	t.Helper()

	o := testutil.NewFakeOracle()
	o.Set("0x1", "NSURLRequest", "https://google.com")

	d := testutil.NewFakeDriver()
	d.Handle("set_method", func(subject oracle.Subject, args map[string]any) error {
		o.Set(subject.Handle, "NSURLRequest", fmt.Sprintf("%v, https://google.com", args["method"]))
		return nil
	})
	d.Handle("load", func(subject oracle.Subject, args map[string]any) error {
		o.Set(subject.Handle, "NSURLRequest", "loaded, https://google.com")
		return nil
	})
	t.Cleanup(d.Close)

	return &requestSystem{
		oracle:    o,
		driver:    d,
		oracleURL: testutil.NewOracleServer(t, o).URL,
		driverURL: testutil.NewDriverServer(t, d).URL,
	}
}

const passingScenario = `
name: request_method
description: "Setting the method shows up in the summary"
subjects:
  request: { handle: "0x1" }
steps:
  - verify: { subject: request, type: NSURLRequest, expect: "https://google.com" }
  - invoke: { subject: request, action: set_method, args: { method: POST } }
  - verify: { subject: request, type: NSURLRequest, expect: "POST, https://google.com" }
  - start: { subject: request, action: load }
  - verify: { subject: request, type: NSURLRequest, expect: "loaded, https://google.com", await: true, timeout: 5s }
`

const failingScenario = `
name: request_wrong_method
description: "Expects the wrong method"
subjects:
  request: { handle: "0x2" }
steps:
  - invoke: { subject: request, action: set_method, args: { method: PUT } }
  - verify: { subject: request, type: NSURLRequest, expect: "POST, https://google.com" }
`

// writeScenarios writes name -> content into a fresh directory.
func writeScenarios(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

// execute runs the full CLI and returns the exit code and both streams.
func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	if !slices.Contains(args, "--config") {
		args = append(args, "--config", filepath.Join(t.TempDir(), "none.yaml"))
	}
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}
