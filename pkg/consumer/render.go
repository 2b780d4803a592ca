package consumer

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/jsndz/petbus/pkg/types"
)

// Treatment is how one notification category is displayed.
type Treatment struct {
	Label string
	Level zapcore.Level
}

var treatments = map[types.Category]Treatment{
	types.CategorySubmitted:  {Label: "SUBMITTED", Level: zapcore.InfoLevel},
	types.CategoryProcessing: {Label: "PROCESSING", Level: zapcore.DebugLevel},
	types.CategoryApproved:   {Label: "APPROVED", Level: zapcore.InfoLevel},
	types.CategoryRejected:   {Label: "REJECTED", Level: zapcore.InfoLevel},
	types.CategoryError:      {Label: "ERROR", Level: zapcore.ErrorLevel},
	types.CategorySystem:     {Label: "SYSTEM", Level: zapcore.WarnLevel},
}

// TreatmentFor returns the display treatment for c. Unknown categories are
// shown as plain info lines.
func TreatmentFor(c types.Category) Treatment {
	if t, ok := treatments[c]; ok {
		return t
	}
	return Treatment{Label: strings.ToUpper(string(c)), Level: zapcore.InfoLevel}
}

// RenderResult formats the approval summary of r, with criteria in name
// order.
func RenderResult(r types.ValidationResult) string {
	verdict := "REJECTED"
	if r.Approved {
		verdict = "APPROVED"
	}

	names := make([]string, 0, len(r.Criteria))
	for name := range r.Criteria {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "request %s for pet %s: %s (score %d/%d)\n", r.RequestID, r.PetID, verdict, r.Score, len(r.Criteria))
	for _, name := range names {
		mark := "fail"
		if r.Criteria[name] {
			mark = "pass"
		}
		fmt.Fprintf(&b, "  %-34s %s\n", name, mark)
	}
	b.WriteString("  " + r.Message)
	return b.String()
}

func RenderNotification(n types.NotificationMessage) string {
	t := TreatmentFor(n.Category)
	return fmt.Sprintf("[%s] %s: %s", t.Label, n.Title, n.Message)
}
