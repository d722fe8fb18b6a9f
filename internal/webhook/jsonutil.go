package webhook

import "github.com/valyala/fastjson"

// str returns the string at path or "". Tolerant of absent fields;
// provider payloads vary too much for strict structs.
func str(v *fastjson.Value, path ...string) string {
	b := v.GetStringBytes(path...)
	if b == nil {
		return ""
	}
	return string(b)
}

// intAt returns the int at path or 0.
func intAt(v *fastjson.Value, path ...string) int {
	return v.GetInt(path...)
}
