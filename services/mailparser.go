package services

import (
	"regexp"
	"strings"
)

// Sentinel lines delimiting the two blocks of a notification mail body.
const (
	metaStart   = "==== META START ===="
	metaEnd     = "==== META END ===="
	fieldsStart = "==== FIELDS START ===="
	fieldsEnd   = "==== FIELDS END ===="
)

var metaLineRe = regexp.MustCompile(`^([A-Za-z0-9_]+):\s*(.*)$`)
var fieldLabelRe = regexp.MustCompile(`^【(.+)】$`)

// Field is one (label, value) pair from the FIELDS block, in original order.
// Provided distinguishes a blank value line ("not provided") from a provided
// empty string; downstream mappers must not conflate the two.
type Field struct {
	Label    string `json:"label"`
	Value    string `json:"value"`
	Provided bool   `json:"provided"`
}

// ParsedMail is the structured content of one notification mail body.
type ParsedMail struct {
	Meta   map[string]string `json:"meta"`
	Fields []Field           `json:"fields"`
}

// MetaKeys required by the message body contract.
var RequiredMetaKeys = []string{"form_name", "form_key", "secret", "submission_id", "case_id", "submitted_at", "seq"}

// ParseMailBody extracts the META and FIELDS blocks from a free-text body.
// Lines outside the sentinel blocks are ignored; malformed lines inside a
// block are dropped silently rather than rejecting the whole message.
func ParseMailBody(body string) *ParsedMail {
	parsed := &ParsedMail{Meta: make(map[string]string)}

	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	inMeta := false
	inFields := false
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		switch line {
		case metaStart:
			inMeta = true
			continue
		case metaEnd:
			inMeta = false
			continue
		case fieldsStart:
			inFields = true
			continue
		case fieldsEnd:
			inFields = false
			continue
		}

		if inMeta {
			if m := metaLineRe.FindStringSubmatch(line); m != nil {
				parsed.Meta[m[1]] = strings.TrimSpace(m[2])
			}
			continue
		}

		if inFields {
			m := fieldLabelRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			field := Field{Label: m[1]}
			// The value is the next line. A blank line means "not
			// provided"; a following label line means the same.
			if i+1 < len(lines) {
				next := strings.TrimSpace(lines[i+1])
				if next != fieldsEnd && !fieldLabelRe.MatchString(next) {
					if next != "" {
						field.Value = next
						field.Provided = true
					}
					i++ // consume the value line
				}
			}
			parsed.Fields = append(parsed.Fields, field)
		}
	}

	return parsed
}

// FieldValue returns the first provided value for a label, or "".
func (p *ParsedMail) FieldValue(label string) string {
	for _, f := range p.Fields {
		if f.Label == label && f.Provided {
			return f.Value
		}
	}
	return ""
}
