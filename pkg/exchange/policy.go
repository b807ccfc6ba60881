package exchange

import (
	"fmt"

	"github.com/dkoval/zoya/pkg/sandbox"
	"github.com/dkoval/zoya/pkg/tool"
)

// NewPolicy is the single authorization step the dispatcher consults
// before a mutating tool body runs. Read-only tools never reach it.
//
// Rules:
//   - a mutating tool targeting another conversation's sandbox requires
//     an admin caller;
//   - an explicitly restricted tool requires an admin caller anywhere.
func NewPolicy(adminOnlyTools ...string) tool.Policy {
	restricted := make(map[string]bool, len(adminOnlyTools))
	for _, name := range adminOnlyTools {
		restricted[name] = true
	}

	return tool.PolicyFunc(func(scope tool.ExecScope, decl tool.Declaration, args map[string]any) error {
		if scope.AltConversationID != "" && !scope.Caller.Admin {
			return fmt.Errorf("mutating tool %s in foreign sandbox %s: %w",
				decl.Name, scope.AltConversationID, sandbox.ErrConfinement)
		}
		if restricted[decl.Name] && !scope.Caller.Admin {
			return fmt.Errorf("tool %s requires an admin caller: %w",
				decl.Name, sandbox.ErrConfinement)
		}
		return nil
	})
}
