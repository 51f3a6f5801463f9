package expr

import (
	"fmt"
	"strings"
)

// KeyExistsPlaceholder compared with != matches any event where the key is
// present, which is how CloudWatch expresses a key-exists check.
const KeyExistsPlaceholder = "__CLOUDWATCH_KEY_EXISTS_CHECK_PLACEHOLDER__"

// VaultPKIAuditExpression matches revoke and issue audit records for the
// certificate whose audit-hashed serial is serialHash.
func VaultPKIAuditExpression(mount, serialHash string) string {
	mount = strings.Trim(mount, "/")
	revoke := fmt.Sprintf(
		`($.request.path = "%s/revoke") && ($.request.data.serial_number = "%s") && ($.auth.entity_id != "") && ($.response.mount_type = "pki")`,
		mount, serialHash)
	issue := fmt.Sprintf(
		`($.request.path = "%s/issue/*") && ($.response.data.serial_number = "%s") && ($.auth.entity_id != "")`,
		mount, serialHash)
	return fmt.Sprintf("(%s) || (%s)", revoke, issue)
}

// And joins expressions with &&, wrapping each in parentheses. Empty
// expressions are skipped.
func And(expressions ...string) string {
	parts := make([]string, 0, len(expressions))
	for _, e := range expressions {
		if e = strings.TrimSpace(e); e != "" {
			parts = append(parts, "("+e+")")
		}
	}
	return strings.Join(parts, " && ")
}

// FilterPattern wraps expression in the braces CloudWatch Logs expects for
// JSON filter patterns.
func FilterPattern(expression string) string {
	return "{ " + strings.TrimSpace(expression) + " }"
}

// MayMatch is a cheap pre-check on the raw JSON text of a document. It
// returns false only when Evaluate would certainly return false: for an
// expression without ||, every string equality literal must appear verbatim
// in raw. The check is skipped when raw contains escape sequences.
func MayMatch(expression, raw string) bool {
	if strings.Contains(expression, "||") || strings.Contains(raw, `\`) {
		return true
	}
	n, err := parse(expression)
	if err != nil {
		return false
	}
	for _, lit := range requiredLiterals(n, nil) {
		if !strings.Contains(raw, lit) {
			return false
		}
	}
	return true
}

func requiredLiterals(n node, acc []string) []string {
	switch v := n.(type) {
	case andNode:
		acc = requiredLiterals(v.left, acc)
		return requiredLiterals(v.right, acc)
	case comparison:
		if s, ok := v.literal.(string); ok && v.op == "=" && s != "" {
			acc = append(acc, s)
		}
	}
	return acc
}
