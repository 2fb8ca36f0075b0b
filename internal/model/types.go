package model

// RunManifest is the canonical per-launch state file (run.json).
type RunManifest struct {
	SchemaVersion  int            `json:"schema_version"`
	RunID          string         `json:"run_id"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at,omitempty"`
	Dataset        string         `json:"dataset"`
	ModelVariant   string         `json:"model_variant"`
	MemStride      int            `json:"memstride"`
	OutputMaskDir  string         `json:"output_mask_dir"`
	VideoListFile  string         `json:"video_list_file"`
	Sampling       *Sampling      `json:"sampling,omitempty"`
	Listed         int            `json:"listed"`
	Sampled        int            `json:"sampled"`
	Costed         int            `json:"costed"`
	TotalFrames    int            `json:"total_frames"`
	SkippedMissing []string       `json:"skipped_missing,omitempty"`
	Completed      int            `json:"completed"`
	Failed         int            `json:"failed"`
	Workers        []WorkerRecord `json:"workers"`
}

type Sampling struct {
	Fraction float64 `json:"fraction"`
	Seed     uint64  `json:"seed"`
}

type WorkerRecord struct {
	Slot       int      `json:"slot"`
	Device     string   `json:"device"`
	Videos     []string `json:"videos"`
	VideoCount int      `json:"video_count"`
	Frames     int      `json:"frames"`
	ListFile   string   `json:"list_file,omitempty"`
	LogFile    string   `json:"log_file,omitempty"`
	Status     string   `json:"status"`
	Reason     string   `json:"reason,omitempty"`
	ExitCode   int      `json:"exit_code"`
	LastError  string   `json:"last_error,omitempty"`
	StartedAt  string   `json:"started_at,omitempty"`
	FinishedAt string   `json:"finished_at,omitempty"`
}

func RecomputeCounts(mf *RunManifest) {
	mf.Completed = 0
	mf.Failed = 0
	for _, w := range mf.Workers {
		switch w.Status {
		case StatusCompleted:
			mf.Completed++
		case StatusFailed:
			mf.Failed++
		}
	}
}
