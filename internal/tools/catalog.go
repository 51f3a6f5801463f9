package tools

var catalog = []Tool{
	{
		Name:  ListCertificatesTool,
		Title: "List certificates",
		Description: "List all certificates of a Vault PKI secrets engine with their expiry and revocation " +
			"status and the chain of issuing CAs. expiring_in is null for expired certificates.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pki_mount_path": map[string]any{
					"type":        "string",
					"description": "Mount path of the PKI secrets engine, e.g. pki or pki_int, without slashes.",
					"pattern":     mountPattern.String(),
				},
			},
			"required": []string{"pki_mount_path"},
		},
		call:         callListCertificates,
		errorPayload: nestedError,
	},
	{
		Name:  CertificateHierarchyTool,
		Title: "Get certificate hierarchy",
		Description: "Group the certificates of a Vault PKI secrets engine under their root and intermediate " +
			"issuers, with expired and revoked counts. Items that could not be read are listed as warnings.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pki_mount_path": map[string]any{
					"type":        "string",
					"description": "Mount path of the PKI secrets engine, e.g. pki or pki_int, without slashes.",
					"pattern":     mountPattern.String(),
				},
			},
			"required": []string{"pki_mount_path"},
		},
		call:         callCertificateHierarchy,
		errorPayload: nestedError,
	},
	{
		Name:        ListPKIEnginesTool,
		Title:       "List PKI secrets engines",
		Description: "List every secrets engine of type pki mounted in Vault with its description and config.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		call:         callListPKIEngines,
		errorPayload: nestedError,
	},
	{
		Name:  FilterPKIAuditEventsTool,
		Title: "Filter PKI audit events",
		Description: "Search the Vault audit log in CloudWatch for issue and revoke operations on the " +
			"certificate with the given subject. Returns who performed each operation, from where and when.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"vault_certificate_subject": map[string]any{
					"type":        "string",
					"description": "Subject common name of the certificate, e.g. web.example.com.",
				},
				"vault_pki_path": map[string]any{
					"type":        "string",
					"description": "Mount path of the PKI secrets engine that issued the certificate.",
				},
				"start_time": map[string]any{
					"type":        "string",
					"description": "Only events after this time. ISO 8601 or Unix epoch seconds.",
				},
				"end_time": map[string]any{
					"type":        "string",
					"description": "Only events before this time. ISO 8601 or Unix epoch seconds.",
				},
			},
			"required": []string{"vault_certificate_subject", "vault_pki_path"},
		},
		call:         callFilterPKIAuditEvents,
		errorPayload: flatError,
	},
}
