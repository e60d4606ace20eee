package lwm2m

import "strings"

// RenderCoreLink renders the installed objects/instances under basePath as
// a CoRE-Link document (RFC 6690), the payload carried by Register,
// Update (when the shape changed) and Discover responses (§4.7/§4.8).
func RenderCoreLink(dm *DataModel, basePath Path) []byte {
	var b strings.Builder
	first := true
	link := func(p Path) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteByte('<')
		b.WriteString(p.String())
		b.WriteByte('>')
	}
	for _, obj := range dm.objects {
		if basePath.Depth() >= 1 && obj.OID != basePath.OID {
			continue
		}
		if len(obj.Instances) == 0 {
			link(ObjectPath(obj.OID))
			continue
		}
		for _, inst := range obj.Instances {
			if basePath.Depth() >= 2 && inst.IID != basePath.IID {
				continue
			}
			link(InstancePath(obj.OID, inst.IID))
		}
	}
	return []byte(b.String())
}
