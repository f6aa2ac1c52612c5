package admission

import (
	"fmt"
	"strings"
)

// Type selects how an admission scope key is built from a request.
type Type string

const (
	TypePayee   Type = "payee"
	TypeIP      Type = "ip"
	TypePayeeIP Type = "payee_ip"
	TypeGlobal  Type = "global"
)

// Subject carries the request attributes a scope can be derived from.
type Subject struct {
	PayeeID  string
	ClientIP string
}

// ParseType accepts the configured admission type, case-insensitively.
func ParseType(raw string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(raw))); t {
	case TypePayee, TypeIP, TypePayeeIP, TypeGlobal:
		return t, nil
	}
	return "", fmt.Errorf("unknown admission type %q", raw)
}

// Scope returns the counter scope for subject under t.
func (t Type) Scope(subject Subject) string {
	payee := orUnknown(subject.PayeeID)
	ip := orUnknown(subject.ClientIP)
	switch t {
	case TypePayee:
		return "payee:" + payee
	case TypeIP:
		return "ip:" + ip
	case TypePayeeIP:
		return "payee:" + payee + ":ip:" + ip
	default:
		return "global"
	}
}

func orUnknown(value string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return "unknown"
}
