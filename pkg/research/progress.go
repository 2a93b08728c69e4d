package research

// Stage identifies a progress event.
type Stage string

const (
	StageLevelStarted    Stage = "level_started"
	StageBranchCompleted Stage = "branch_completed"
	StageBranchFailed    Stage = "branch_failed"
)

// Progress describes one step of a running exploration. Depth and Breadth are
// the remaining budget of the level the event belongs to.
type Progress struct {
	Stage     Stage  `json:"stage"`
	Depth     int    `json:"depth"`
	Breadth   int    `json:"breadth"`
	Query     string `json:"query"`
	Queries   int    `json:"queries,omitempty"`
	Learnings int    `json:"learnings,omitempty"`
	URLs      int    `json:"urls,omitempty"`
	Error     string `json:"error,omitempty"`
}
