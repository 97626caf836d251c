package logx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	maxChatEvent = 3500
	maxChatValue = 600
	maxChatStack = 900
)

var skipKeys = map[string]bool{"time": true, "level": true, "message": true}

// renderEvent turns a zerolog JSON line into a compact chat message:
//
//	[WARN] relay send failed
//	- comp=relay
//	- err=timeout
//
// Keys are sorted so identical events render identically.
func renderEvent(p []byte) string {
	p = bytes.TrimSpace(p)
	if len(p) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(string(p), maxChatEvent)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		if !skipKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(m[k])
		if k == "stack" {
			b.WriteString("\n- stack=\n" + clip(v, maxChatStack))
			continue
		}
		b.WriteString("\n- " + k + "=" + clip(v, maxChatValue))
	}
	return clip(b.String(), maxChatEvent)
}

func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
