package workflows

// Progress is the polling view of a workflow for one organization.
type Progress struct {
	Status      string `json:"status"`
	CurrentStep int    `json:"currentStep"`
	TotalSteps  int    `json:"totalSteps"`
	Error       string `json:"error,omitempty"`
	RunID       string `json:"runId,omitempty"`
}

func (p Progress) Terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}
