package ui

import (
	"github.com/linuxmatters/nightfever/internal/processor"
)

// StageMsg reports a pipeline stage transition for one file
type StageMsg struct {
	FileIndex int
	Stage     processor.Stage
}

// FileStartMsg indicates a new file has started processing
type FileStartMsg struct {
	FileIndex int
	FileName  string
}

// FileCompleteMsg indicates a file has finished processing
type FileCompleteMsg struct {
	FileIndex int
	Result    *processor.Result
	Error     error
}

// AllCompleteMsg indicates all files have been processed
type AllCompleteMsg struct{}
