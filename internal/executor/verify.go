package executor

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/studiowebux/replay-client/internal/intern"
	"github.com/studiowebux/replay-client/internal/types"
)

// Verify checks a received response against the expected one. Non-strict
// transactions are only checked when the expected response carries field
// rules; strict ones always are. A recorded status must match exactly.
func Verify(txn *types.Transaction, status int, header http.Header, names *intern.Table) []string {
	expected := &txn.Response
	annotated := expected.Fields != nil && expected.Fields.HasRules()
	if !txn.Strict && !annotated {
		return nil
	}

	var problems []string
	if expected.Status != 0 && expected.Status != status {
		problems = append(problems, fmt.Sprintf("status violation: got %d, expected %d", status, expected.Status))
	}
	if annotated {
		lookup := func(name string) (string, bool) {
			if names == nil {
				return strings.ToLower(name), true
			}
			return names.Lookup(name)
		}
		problems = append(problems, expected.Fields.Verify(header, lookup)...)
	}
	return problems
}
