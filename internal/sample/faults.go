package sample

import (
	"encoding/json"

	"github.com/morezero/rpcmesh/pkg/protocol"
)

// RegisterFaults binds the sample contract's fault kinds so callers receive
// a *CustomError rather than a *protocol.RemoteFault.
func RegisterFaults(r *protocol.FaultRegistry) {
	r.Register("CustomError", func(d *protocol.FaultDetail) error {
		e := &CustomError{}
		if d.Details == nil {
			e.Text = d.Message
			return e
		}
		data, err := json.Marshal(d.Details)
		if err != nil {
			return nil
		}
		if err := json.Unmarshal(data, e); err != nil {
			return nil
		}
		return e
	})
}
