// Package notify alerts human reviewers when a workflow pauses on a
// human-input request. Notifications are one-way and best effort; the answer
// itself always comes back through the coordination layer.
package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ledgerline/contractflow/internal/workflow"
)

// formatInputRequired renders a reviewer-facing summary of a pending request.
func formatInputRequired(snap workflow.Snapshot, requirements map[string]any) string {
	fields := make([]string, 0, len(requirements))
	for name := range requirements {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	var b strings.Builder
	fmt.Fprintf(&b, "Contract %q needs review before processing can continue.\n", snap.ContractName)
	fmt.Fprintf(&b, "Workflow: %s (stage: %s)\n", snap.WorkflowID, snap.CurrentAgent)
	if len(fields) > 0 {
		fmt.Fprintf(&b, "Fields to confirm: %s", strings.Join(fields, ", "))
	}
	return b.String()
}
