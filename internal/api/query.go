package api

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// rawKeys are never JSON-quoted by the SOAR REST filter parser.
var rawKeys = map[string]bool{
	"start_time": true,
	"sort":       true,
	"order":      true,
	"Filename":   true,
}

// EncodeQuery converts SOAR REST parameters into url.Values.
//
// The SOAR REST API expects string filter values as JSON literals
// (_filter_status="running"), except for sort/order keys, the export
// Filename and __in filters, which take the raw value.
func EncodeQuery(params map[string]any) url.Values {
	values := make(url.Values, len(params))
	for key, value := range params {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			if rawKeys[key] || strings.Contains(key, "__in") {
				values.Set(key, v)
			} else {
				values.Set(key, quote(v))
			}
		case []string:
			for _, item := range v {
				values.Add(key, item)
			}
		case []int64:
			for _, item := range v {
				values.Add(key, fmt.Sprint(item))
			}
		case bool:
			if v {
				values.Set(key, "true")
			} else {
				values.Set(key, "false")
			}
		default:
			values.Set(key, fmt.Sprint(v))
		}
	}
	return values
}

func quote(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(data)
}
