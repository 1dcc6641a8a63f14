// Package harness runs summary verification scenarios.
//
// A Harness composes a checkpoint comparator with a completion-gate keeper.
// Scenario code holds one and calls it directly: Verify for synchronous
// checkpoints, Start and VerifyAfter for checkpoints that must wait on a
// background action.
//
// # Scenario Format
//
// Scenarios are YAML or CUE files:
//
//	name: url_request_method
//	description: "Changing the HTTP method shows up in the summary"
//	timeout: 10s
//	subjects:
//	  request: { handle: "0x600000c10" }
//	steps:
//	  - verify: { subject: request, type: NSURLRequest, expect: "https://google.com" }
//	  - invoke: { subject: request, action: set_method, args: { method: POST } }
//	  - verify: { subject: request, type: NSURLRequest, expect: "POST, https://google.com" }
//	  - start:  { subject: request, action: load }
//	  - verify: { subject: request, type: NSURLRequest, expect: "loaded", await: true, timeout: 2s }
//
// Each step sets exactly one of verify, invoke, or start. An awaited verify
// waits on the gate opened by the most recent start. The bound comes from the
// step, then the scenario, then the caller, then DefaultTimeout.
//
// # Idempotence
//
// With the idempotence check enabled, every successful oracle reply is
// recorded and checked for linearizability against a model in which a
// subject's summary only changes across a reported mutation.
package harness
