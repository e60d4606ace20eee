package lwm2m

import (
	"strconv"
	"strings"
)

// encodeValue renders v in the engine's built-in Plain Text encoding
// (CoAP Content-Format 0), the default wire format always available
// without a host-supplied content-format codec (§6).
func encodeValue(v Value) []byte {
	switch v.Type {
	case TypeInt, TypeTime:
		return []byte(strconv.FormatInt(v.Int, 10))
	case TypeUint:
		return []byte(strconv.FormatUint(v.Uint, 10))
	case TypeFloat:
		return []byte(strconv.FormatFloat(v.Float, 'g', -1, 64))
	case TypeBool:
		if v.Bool {
			return []byte("1")
		}
		return []byte("0")
	case TypeString:
		return []byte(v.Str)
	case TypeOpaque:
		return v.Opaque
	case TypeObjectLink:
		return []byte(strconv.Itoa(int(v.Link.OID)) + ":" + strconv.Itoa(int(v.Link.IID)))
	default:
		return nil
	}
}

// decodeValue parses raw Plain Text bytes as typ, the inverse of
// encodeValue.
func decodeValue(raw []byte, typ ValueType) (Value, bool) {
	s := string(raw)
	switch typ {
	case TypeInt, TypeTime:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, false
		}
		if typ == TypeTime {
			return TimeValue(n), true
		}
		return IntValue(n), true
	case TypeUint:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Value{}, false
		}
		return UintValue(n), true
	case TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, false
		}
		return FloatValue(f), true
	case TypeBool:
		return BoolValue(s == "1" || s == "true"), true
	case TypeString:
		return StringValue(s), true
	case TypeOpaque:
		return OpaqueValue(raw), true
	case TypeObjectLink:
		oid, iid, ok := strings.Cut(s, ":")
		if !ok {
			return Value{}, false
		}
		o, err1 := strconv.ParseUint(oid, 10, 16)
		i, err2 := strconv.ParseUint(iid, 10, 16)
		if err1 != nil || err2 != nil {
			return Value{}, false
		}
		return LinkValue(uint16(o), uint16(i)), true
	default:
		return Value{}, false
	}
}

// encodeEntries joins multiple (path, value) pairs into the engine's
// default multi-record wire format: one "path value" line per entry. This
// is what a composite Read response or a Send report carries when no
// richer content-format codec is wired in (§6).
func encodeEntries(entries []SendEntry) []byte {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Path.String())
		b.WriteByte(' ')
		b.Write(encodeValue(e.Value))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// decodeEntries is the inverse of encodeEntries: each path's declared type
// is resolved against dm so the raw text value can be parsed back.
func decodeEntries(payload []byte, dm *DataModel) ([]SendEntry, bool) {
	var out []SendEntry
	for _, line := range strings.Split(strings.TrimRight(string(payload), "\n"), "\n") {
		if line == "" {
			continue
		}
		p, rest, ok := strings.Cut(line, " ")
		if !ok {
			return nil, false
		}
		path, ok := ParsePath(p)
		if !ok {
			return nil, false
		}
		typ, ok := dm.resourceType(path)
		if !ok {
			return nil, false
		}
		v, ok := decodeValue([]byte(rest), typ)
		if !ok {
			return nil, false
		}
		out = append(out, SendEntry{Path: path, Value: v})
	}
	return out, true
}
