package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/summarycheck/internal/testutil"
)

func TestDescribe_PrintsSummary(t *testing.T) {
	sys := newRequestSystem(t)

	code, stdout, _ := execute(t, "describe", "0x1", "--oracle", sys.oracleURL)
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "https://google.com\n", stdout)
}

func TestDescribe_JSON(t *testing.T) {
	sys := newRequestSystem(t)

	code, stdout, _ := execute(t, "describe", "0x1", "--oracle", sys.oracleURL, "--format", "json")
	require.Equal(t, ExitSuccess, code)

	var resp struct {
		Status string         `json:"status"`
		Data   DescribeResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "0x1", resp.Data.Handle)
	assert.Equal(t, "https://google.com", resp.Data.Summary)
	assert.Equal(t, "NSURLRequest", resp.Data.Type)
}

func TestDescribe_NoFormatter(t *testing.T) {
	sys := newRequestSystem(t)

	code, stdout, _ := execute(t, "describe", "0xdead", "--oracle", sys.oracleURL)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "Error [E102]")
	assert.Contains(t, stdout, "NO_FORMATTER")
}

func TestDescribe_Unreachable(t *testing.T) {
	code, stdout, _ := execute(t, "describe", "0x1", "--oracle", "http://127.0.0.1:1", "--timeout", "200ms")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "UNREACHABLE")
}

func TestDescribe_UnreachableJSONNamesOracle(t *testing.T) {
	code, stdout, _ := execute(t, "describe", "0x1", "--oracle", "http://127.0.0.1:1", "--timeout", "200ms", "--format", "json")
	assert.Equal(t, ExitFailure, code)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeOracle, resp.Error.Code)
	details, ok := resp.Error.Details.(map[string]any)
	require.True(t, ok, "unreachable errors carry details")
	assert.Equal(t, "http://127.0.0.1:1", details["oracle"])
}

func TestDescribe_NoFormatterHasNoHint(t *testing.T) {
	sys := newRequestSystem(t)

	code, stdout, _ := execute(t, "describe", "0xdead", "--oracle", sys.oracleURL, "--format", "json")
	assert.Equal(t, ExitFailure, code)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.NotNil(t, resp.Error)
	assert.Nil(t, resp.Error.Details)
}

func TestDescribe_ExpectPass(t *testing.T) {
	sys := newRequestSystem(t)

	code, stdout, _ := execute(t, "describe", "0x1", "--oracle", sys.oracleURL,
		"--type", "NSURLRequest", "--expect", "https://google.com")
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "✓ https://google.com\n", stdout)
}

func TestDescribe_ExpectMismatch(t *testing.T) {
	sys := newRequestSystem(t)

	code, stdout, _ := execute(t, "describe", "0x1", "--oracle", sys.oracleURL,
		"--type", "NSURLRequest", "--expect", "POST, https://google.com")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "✗ checkpoint")
	assert.Contains(t, stdout, `Actual: "https://google.com"`)
}

func TestDescribe_ExpectEmptySummary(t *testing.T) {
	o := testutil.NewFakeOracle()
	o.Set("0x2", "NSObject", "")
	srv := testutil.NewOracleServer(t, o)

	code, stdout, _ := execute(t, "describe", "0x2", "--oracle", srv.URL, "--type", "NSObject", "--expect", "")
	assert.Equal(t, ExitSuccess, code, stdout)
}

func TestDescribe_ExpectRequiresType(t *testing.T) {
	code, _, stderr := execute(t, "describe", "0x1", "--expect", "x")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "--expect requires --type")
}
