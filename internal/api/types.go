package api

// JobView describes a pipeline job in a transport-friendly format.
type JobView struct {
	ID           int64  `json:"id"`
	Topic        string `json:"topic"`
	Stage        string `json:"stage"`
	Revision     int    `json:"revision"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	FailedStage  string `json:"failedStage,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
	PublishedAt  string `json:"publishedAt,omitempty"`
}

// ApprovalView describes a pending or resolved approval gate.
type ApprovalView struct {
	ID          int64  `json:"id"`
	JobID       int64  `json:"jobId"`
	Checkpoint  string `json:"checkpoint"`
	Status      string `json:"status"`
	Notes       string `json:"notes,omitempty"`
	RequestedAt string `json:"requestedAt,omitempty"`
	RespondedAt string `json:"respondedAt,omitempty"`
}

// ArtifactView describes one generated output revision.
type ArtifactView struct {
	ID        int64  `json:"id"`
	JobID     int64  `json:"jobId"`
	Kind      string `json:"kind"`
	Revision  int    `json:"revision"`
	Provider  string `json:"provider"`
	ModelID   string `json:"modelId"`
	Bytes     int    `json:"bytes"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// JobDetail aggregates everything the status endpoints expose for one job.
type JobDetail struct {
	Job             JobView            `json:"job"`
	PendingApproval *ApprovalView      `json:"pendingApproval,omitempty"`
	Artifacts       []ArtifactView     `json:"artifacts"`
	CostToDate      float64            `json:"costToDate"`
	CostByProvider  map[string]float64 `json:"costByProvider,omitempty"`
}

// CacheStats mirrors generation cache usage for API consumers.
type CacheStats struct {
	Entries      int     `json:"entries"`
	TotalBytes   int64   `json:"totalBytes"`
	MaxBytes     int64   `json:"maxBytes"`
	TTL          string  `json:"ttl"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hitRate"`
	Oldest       string  `json:"oldest,omitempty"`
	Newest       string  `json:"newest,omitempty"`
	FreeBytes    uint64  `json:"freeBytes"`
	TotalFSBytes uint64  `json:"totalFsBytes"`
}

// DaemonStatus aggregates daemon runtime information.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	JobDBPath    string         `json:"jobDbPath"`
	CacheDBPath  string         `json:"cacheDbPath,omitempty"`
	LockFilePath string         `json:"lockFilePath"`
	StageCounts  map[string]int `json:"stageCounts"`
	Providers    []string       `json:"providers"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// JobDetailResponse wraps a single job detail payload.
type JobDetailResponse struct {
	Detail JobDetail `json:"detail"`
}

// CacheStatsResponse wraps cache statistics.
type CacheStatsResponse struct {
	Stats CacheStats `json:"stats"`
}
