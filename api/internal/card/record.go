package card

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Record holds the fields extracted from one business card.
// All fields are always present; unknown values are "".
type Record struct {
	ChineseName string `json:"chinese_name"`
	EnglishName string `json:"english_name"`
	Department  string `json:"department"`
	Title       string `json:"title"`
	Mobile      string `json:"mobile"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Address     string `json:"address"`
}

// Fields lists the JSON keys of Record in declared (ledger column) order.
var Fields = [...]string{
	"chinese_name",
	"english_name",
	"department",
	"title",
	"mobile",
	"phone",
	"email",
	"address",
}

// Values returns the eight field values in the order of Fields.
func (r Record) Values() []string {
	return []string{
		r.ChineseName,
		r.EnglishName,
		r.Department,
		r.Title,
		r.Mobile,
		r.Phone,
		r.Email,
		r.Address,
	}
}

// IsEmpty reports whether no field was extracted.
func (r Record) IsEmpty() bool {
	for _, v := range r.Values() {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func (r *Record) set(key, v string) {
	switch key {
	case "chinese_name":
		r.ChineseName = v
	case "english_name":
		r.EnglishName = v
	case "department":
		r.Department = v
	case "title":
		r.Title = v
	case "mobile":
		r.Mobile = v
	case "phone":
		r.Phone = v
	case "email":
		r.Email = v
	case "address":
		r.Address = v
	}
}

// Parse decodes a model response into a Record.
// Missing keys and null become "", numbers and booleans keep their JSON text,
// arrays of strings are joined with ", ". Unknown keys are ignored.
// A response wrapped in a one-element array is accepted.
func Parse(raw []byte) (Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return Record{}, fmt.Errorf("card: bad JSON: %w", err)
		}
		if len(arr) == 0 {
			return Record{}, fmt.Errorf("card: empty array")
		}
		raw = arr[0]
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Record{}, fmt.Errorf("card: bad JSON: %w", err)
	}

	var r Record
	for _, key := range Fields {
		v, ok := obj[key]
		if !ok {
			continue
		}
		r.set(key, scalar(v))
	}
	return r, nil
}

func scalar(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || string(v) == "null" {
		return ""
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case '[':
		var parts []json.RawMessage
		if err := json.Unmarshal(v, &parts); err != nil {
			return ""
		}
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := scalar(p); s != "" {
				out = append(out, s)
			}
		}
		return strings.Join(out, ", ")
	case '{':
		return ""
	default:
		return string(v)
	}
}
