package app

// AppState is the lifecycle of the progress view.
type AppState int

const (
	Running AppState = iota
	Cancelling
	Finished
	ShowError
)

func (s AppState) String() string {
	switch s {
	case Running:
		return "running"
	case Cancelling:
		return "cancelling"
	case Finished:
		return "finished"
	case ShowError:
		return "error"
	}
	return "unknown"
}
