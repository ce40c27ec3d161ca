package datarecording

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// execInfo is one property of the recording process itself.
type execInfo struct {
	Property string
	Value    string
}

// execRecorder keeps the exec_info table describing when and how the trace
// was taken.
type execRecorder struct {
	tablename string
	recorder  DataRecorder
	entries   []execInfo
}

// Start logs the current execution.
func (e *execRecorder) Start() {
	currentTime := time.Now()
	startTime := currentTime.Format("2006-01-02 15:04:05.000000000")
	timeEntry := execInfo{"Start Time", startTime}
	e.entries = append(e.entries, timeEntry)

	cmd := strings.Join(os.Args, " ")
	cmdEntry := execInfo{"Command", cmd}
	e.entries = append(e.entries, cmdEntry)

	ex, err := os.Executable()
	if err != nil {
		panic(err)
	}

	cwd := filepath.Dir(ex)
	cwdEntry := execInfo{"Working Directory", cwd}
	e.entries = append(e.entries, cwdEntry)
}

// End writes the buffered entries along with the exit time.
func (e *execRecorder) End() {
	for _, entry := range e.entries {
		e.recorder.InsertData(e.tablename, entry)
	}

	endTime := time.Now()
	endValue := endTime.Format("2006-01-02 15:04:05.000000000")
	timeEntry := execInfo{"End Time", endValue}
	e.recorder.InsertData(e.tablename, timeEntry)

	e.entries = nil

	e.recorder.Flush()
}

func newExecRecorder(recorder DataRecorder) *execRecorder {
	e := &execRecorder{
		recorder:  recorder,
		tablename: "exec_info",
		entries:   []execInfo{},
	}

	e.recorder.CreateTable(e.tablename, execInfo{})

	return e
}
