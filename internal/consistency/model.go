package consistency

import (
	"fmt"
	"io"
	"time"

	"github.com/anishathalye/porcupine"
)

// observed is the per-subject model state: the last summary seen, if it is
// still valid.
type observed struct {
	known bool
	text  string
}

// summaryModel treats each subject as a register that describes read and
// mutations invalidate.
func summaryModel() porcupine.Model {
	return porcupine.Model{
		Partition: partitionByHandle,
		Init: func() interface{} {
			return observed{}
		},
		Step: func(state, input, output interface{}) (bool, interface{}) {
			st := state.(observed)
			op := input.(Operation)

			switch op.Kind {
			case OpMutate:
				return true, observed{}
			case OpDescribe:
				if !st.known {
					return true, observed{known: true, text: op.Text}
				}
				return st.text == op.Text, st
			default:
				return false, st
			}
		},
		DescribeOperation: func(input, output interface{}) string {
			op := input.(Operation)
			if op.Kind == OpMutate {
				return fmt.Sprintf("mutate(%s)", op.Handle)
			}
			return fmt.Sprintf("describe(%s) -> %q", op.Handle, op.Text)
		},
		DescribeState: func(state interface{}) string {
			st := state.(observed)
			if !st.known {
				return "?"
			}
			return fmt.Sprintf("%q", st.text)
		},
	}
}

func partitionByHandle(history []porcupine.Operation) [][]porcupine.Operation {
	order := []string{}
	partitions := make(map[string][]porcupine.Operation)
	for _, op := range history {
		handle := op.Input.(Operation).Handle
		if _, ok := partitions[handle]; !ok {
			order = append(order, handle)
		}
		partitions[handle] = append(partitions[handle], op)
	}

	result := make([][]porcupine.Operation, 0, len(order))
	for _, handle := range order {
		result = append(result, partitions[handle])
	}
	return result
}

func toPorcupine(history []Operation) []porcupine.Operation {
	ops := make([]porcupine.Operation, 0, len(history))
	for _, op := range history {
		ops = append(ops, porcupine.Operation{
			ClientId: op.ClientID,
			Input:    op,
			Call:     op.Call,
			Output:   nil,
			Return:   op.Return,
		})
	}
	return ops
}

// Report is the outcome of a consistency check.
type Report struct {
	// Ok is true when every describe is explained by the recorded mutations.
	Ok bool

	// Result is porcupine's verdict; Unknown when the check timed out.
	Result porcupine.CheckResult

	// Operations is the number of operations checked.
	Operations int

	info porcupine.LinearizationInfo
}

// Check verifies the history. A zero timeout means no limit.
func Check(history []Operation, timeout time.Duration) Report {
	ops := toPorcupine(history)
	result, info := porcupine.CheckOperationsVerbose(summaryModel(), ops, timeout)
	return Report{
		Ok:         result == porcupine.Ok,
		Result:     result,
		Operations: len(ops),
		info:       info,
	}
}

// Inconclusive reports whether the check ran out of time before deciding.
func (r Report) Inconclusive() bool {
	return r.Result == porcupine.Unknown
}

// Visualize writes porcupine's HTML visualization of the last check.
func (r Report) Visualize(w io.Writer) error {
	return porcupine.Visualize(summaryModel(), r.info, w)
}
