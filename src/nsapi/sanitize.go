package nsapi

import "strings"

const maskedValue = "***MASKED***"

var sensitiveKeys = map[string]struct{}{
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"client_secret": {},
	"password":      {},
	"code":          {},
}

// Sanitize returns a deep copy of a decoded JSON value with known sensitive
// keys masked. Every payload must pass through here before being logged.
func Sanitize(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
				out[k] = maskedValue
			} else {
				out[k] = Sanitize(val)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = Sanitize(item)
		}
		return out
	default:
		return data
	}
}
