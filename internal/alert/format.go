package alert

import (
	"strconv"
	"strings"
)

type kindLabel struct {
	kind   Kind
	header string // abbreviated, pluralized with "s"
	entry  string
}

// kindOrder fixes both the header order and the entry wording.
var kindOrder = []kindLabel{
	{kind: MissedCall, header: "Call", entry: "Missed Call From "},
	{kind: Voicemail, header: "VM", entry: "Voicemail From "},
	{kind: Text, header: "Text", entry: "Text From "},
}

func entryLabel(k Kind) string {
	for _, l := range kindOrder {
		if l.kind == k {
			return l.entry
		}
	}
	return ""
}

// Header renders "=== N New: 1 Call, 2 VMs ===".
func Header(records []Record) string {
	counts := make(map[Kind]int, len(kindOrder))
	for _, r := range records {
		counts[r.Kind]++
	}
	parts := make([]string, 0, len(kindOrder))
	for _, l := range kindOrder {
		n := counts[l.kind]
		if n == 0 {
			continue
		}
		label := l.header
		if n > 1 {
			label += "s"
		}
		parts = append(parts, strconv.Itoa(n)+" "+label)
	}
	return "=== " + strconv.Itoa(len(records)) + " New: " + strings.Join(parts, ", ") + " ==="
}

// Format renders records into the pager alert text. Records keep input
// order; missed calls never carry a preview line.
func Format(records []Record) string {
	var b strings.Builder
	b.WriteString(Header(records))
	for _, r := range records {
		label := entryLabel(r.Kind)
		if label == "" {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(label)
		b.WriteString(r.Phone)
		if r.Kind != MissedCall && r.Preview != "" {
			b.WriteString("\n")
			b.WriteString(r.Preview)
		}
	}
	return b.String()
}
