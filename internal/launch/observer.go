package launch

// Observer receives launch events. Methods may be called from worker
// goroutines concurrently.
type Observer interface {
	Planned(plan Plan)
	WorkerStarted(slot int, device string, videos int)
	WorkerProgress(slot int, done, total int, video string)
	WorkerFinished(w WorkerResult)
}

type Plan struct {
	RunID         string
	Dataset       string
	ModelVariant  string
	MemStride     int
	OutputMaskDir string
	Slots         []PlannedSlot
}

type PlannedSlot struct {
	Slot   int
	Device string
	Videos int
	Frames int
	Status string
}

type noopObserver struct{}

func (noopObserver) Planned(Plan)                         {}
func (noopObserver) WorkerStarted(int, string, int)       {}
func (noopObserver) WorkerProgress(int, int, int, string) {}
func (noopObserver) WorkerFinished(WorkerResult)          {}
