package dispatcher

import (
	"github.com/morezero/rpcmesh/pkg/contract"
)

// Describe lists the methods visible on channel to a caller holding any of
// roles. An empty channel lists methods of every channel.
func (h *RequestHandler) Describe(channel string, roles []string) *DescribeResponse {
	if len(roles) == 0 {
		roles = []string{contract.DefaultRole}
	}
	resp := &DescribeResponse{Methods: []MethodDescription{}}
	seen := make(map[string]bool)
	for _, inst := range h.instances {
		for _, m := range inst.Contract.GetMethods(roles) {
			key := m.FullName + "@" + inst.Contract.Version()
			if seen[key] || (channel != "" && m.Ignored(channel)) {
				continue
			}
			seen[key] = true
			resp.Methods = append(resp.Methods, describeMethod(inst.Contract, m))
		}
	}
	return resp
}

func describeMethod(c *contract.Info, m *contract.Method) MethodDescription {
	d := MethodDescription{
		FullName: m.FullName,
		Contract: c.Name(),
		Version:  c.Version(),
		Generic:  m.Generic,
		Params:   []ParamDescription{},
		Tags:     m.Tags,
		Roles:    m.Roles,
	}
	for _, p := range m.Params {
		switch p.Kind {
		case contract.KindCallback:
			d.Callback = p.Type.String()
		case contract.KindCancel:
			d.Cancelable = true
		case contract.KindStream:
			d.Stream = true
		default:
			d.Params = append(d.Params, ParamDescription{Name: p.DefineName, Type: p.Type.String(), Nullable: p.AllowNull})
		}
	}
	if m.Returns != nil {
		d.Returns = m.Returns.String()
	}
	for _, f := range m.Faults {
		d.Faults = append(d.Faults, FaultDescription{Kind: f.Kind, StatusCode: f.StatusCode, ErrorCode: f.ErrorCode, Description: f.Description})
	}
	for _, hd := range m.Headers {
		d.Headers = append(d.Headers, hd.Name)
	}
	for _, k := range m.APIKeys {
		d.APIKeys = append(d.APIKeys, k.Name)
	}
	if m.MQPost {
		p := m.MQPriority
		d.MQPriority = &p
	}
	return d
}
