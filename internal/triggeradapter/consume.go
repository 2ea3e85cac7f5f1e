package triggeradapter

import (
	"bufio"
	"io"

	"github.com/nextlevelbuilder/sreorch/pkg/protocol"
)

// ConsumeStream reads upstream's SSE frames one at a time and calls
// onEvent for each, in order, stopping after the first terminal event
// or when upstream closes cleanly. It never holds more than one event
// in memory at a time.
func ConsumeStream(upstream io.ReadCloser, onEvent func(protocol.Event)) error {
	defer upstream.Close()
	r := bufio.NewReader(upstream)
	for {
		ev, err := protocol.ScanSSE(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		onEvent(ev)
		if ev.Type.Terminal() {
			return nil
		}
	}
}
