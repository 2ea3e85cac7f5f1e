package triggeradapter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/sreorch/pkg/protocol"
)

// RenderEvent turns one sandbox StreamEvent into a line of text suitable
// for posting to a chat surface. Demo adapters use this directly; a
// richer surface-specific renderer (threaded replies, edited
// placeholders) would replace this, not wrap it.
func RenderEvent(ev protocol.Event) string {
	switch ev.Type {
	case protocol.KindThought:
		var d protocol.ThoughtData
		_ = json.Unmarshal(ev.Data, &d)
		return d.Text
	case protocol.KindToolStart:
		var d protocol.ToolStartData
		_ = json.Unmarshal(ev.Data, &d)
		return fmt.Sprintf("running %s...", d.Name)
	case protocol.KindToolEnd:
		var d protocol.ToolEndData
		_ = json.Unmarshal(ev.Data, &d)
		status := "ok"
		if !d.Success {
			status = "failed"
		}
		return fmt.Sprintf("%s: %s", d.Name, status)
	case protocol.KindQuestion:
		var d protocol.QuestionData
		_ = json.Unmarshal(ev.Data, &d)
		texts := make([]string, 0, len(d.Questions))
		for _, q := range d.Questions {
			texts = append(texts, q.Text)
		}
		return "question: " + strings.Join(texts, " / ")
	case protocol.KindQuestionTimeout:
		return "(question timed out waiting for an answer)"
	case protocol.KindResult:
		var d protocol.ResultData
		_ = json.Unmarshal(ev.Data, &d)
		return d.Text
	case protocol.KindError:
		var d protocol.ErrorData
		_ = json.Unmarshal(ev.Data, &d)
		return "error: " + d.Message
	default:
		return string(ev.Data)
	}
}
