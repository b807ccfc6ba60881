package extract

import (
	"strings"

	"github.com/dkoval/zoya/pkg/tool"
	"github.com/dkoval/zoya/pkg/turn"
)

// Reply is the user-facing outcome of an exchange.
type Reply struct {
	Text       string
	Suppressed bool
}

// Extractor derives the reply from the final model round. When a
// direct-send tool succeeded in that same round, the round's text is
// commentary the model already delivered and is suppressed; a send in
// an earlier round does not suppress later text.
type Extractor struct {
	sendTools map[string]bool
}

// New creates an extractor treating the named tools as direct sends.
func New(sendToolNames ...string) *Extractor {
	sendTools := make(map[string]bool, len(sendToolNames))
	for _, name := range sendToolNames {
		sendTools[name] = true
	}
	return &Extractor{sendTools: sendTools}
}

// Extract computes the reply for the final round. finalResults are the
// tool results produced in the same round as finalTurn.
func (e *Extractor) Extract(finalTurn turn.Turn, finalResults []tool.Result) Reply {
	text := strings.TrimSpace(finalTurn.Text())

	for _, res := range finalResults {
		if e.sendTools[res.Name] && res.OK() {
			return Reply{Suppressed: true}
		}
	}
	return Reply{Text: text}
}
