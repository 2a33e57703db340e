package api

import "time"

// Statistics is an immutable monitoring row for one process instance,
// built on demand and suitable for periodic polling.
type Statistics struct {
	// ID is the instance id; rows are keyed by it.
	ID string

	// TaskName is the instance display name.
	TaskName string

	// Started is the total number of steps in the chain.
	Started int

	// Completed is the number of steps whose engine reports complete.
	Completed int64

	// Successful and Errors are independent sums of the per-engine
	// success and error counts across all steps.
	Successful int
	Errors     int

	// Runtime is the elapsed runtime at the time the row was built.
	Runtime time.Duration

	// PctComplete is the aggregate progress in [0,1].
	PctComplete float64
}

// StatisticsColumn describes one column of the statistics schema.
type StatisticsColumn struct {
	Name        string
	Type        string
	Description string
}

// StatisticsKey is the column that keys statistics rows.
const StatisticsKey = "_id"

// StatisticsColumns returns the fixed statistics schema. The schema is
// produced fresh on every call; callers may mutate the returned slice.
func StatisticsColumns() []StatisticsColumn {
	return []StatisticsColumn{
		{Name: "_id", Type: "string", Description: "ID"},
		{Name: "_taskName", Type: "string", Description: "Name"},
		{Name: "started", Type: "int", Description: "Started"},
		{Name: "completed", Type: "long", Description: "Completed"},
		{Name: "successful", Type: "int", Description: "Successful"},
		{Name: "errors", Type: "int", Description: "Errors"},
		{Name: "runtime", Type: "long", Description: "Runtime"},
		{Name: "pct_complete", Type: "double", Description: "Percent complete"},
	}
}

// Row renders the statistics as a flat record matching StatisticsColumns.
// Runtime is reported in milliseconds.
func (s Statistics) Row() Record {
	return Record{
		"_id":          s.ID,
		"_taskName":    s.TaskName,
		"started":      s.Started,
		"completed":    s.Completed,
		"successful":   s.Successful,
		"errors":       s.Errors,
		"runtime":      s.Runtime.Milliseconds(),
		"pct_complete": s.PctComplete,
	}
}
