package models

import "fmt"

type ErrorCode string

const (
	CodeVaultConnection      ErrorCode = "VAULT_CONNECTION_ERROR"
	CodeAuthentication       ErrorCode = "AUTHENTICATION_ERROR"
	CodePermission           ErrorCode = "PERMISSION_ERROR"
	CodePKIPathNotFound      ErrorCode = "PKI_PATH_NOT_FOUND"
	CodeCertificateNotFound  ErrorCode = "CERTIFICATE_NOT_FOUND"
	CodeInvalidParameters    ErrorCode = "INVALID_PARAMETERS"
	CodeMissingConfiguration ErrorCode = "MISSING_CONFIGURATION"
	CodeInternal             ErrorCode = "INTERNAL_ERROR"
)

// ToolError is a fatal, operation-level failure reported to tool callers.
type ToolError struct {
	Code    ErrorCode      `json:"error_code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func NewToolError(code ErrorCode, message string, details map[string]any) *ToolError {
	if details == nil {
		details = map[string]any{}
	}
	return &ToolError{Code: code, Message: message, Details: details}
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
