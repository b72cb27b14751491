package registry

// Report is the content of validation.report.json.
type Report struct {
	Status     Status `json:"status"`
	IterID     string `json:"iter_id"`
	SchemaRoot string `json:"schema_root,omitempty"`
	SchemaDir  string `json:"schema_dir,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Error      string `json:"error,omitempty"`
}

func ValidatedReport(iterID, schemaRoot, schemaDir string) Report {
	return Report{Status: StatusValidated, IterID: iterID, SchemaRoot: schemaRoot, SchemaDir: schemaDir}
}

func FailedReport(iterID, stage, message string) Report {
	return Report{Status: StatusFailed, IterID: iterID, Stage: stage, Error: message}
}
