// Package dataset holds the canonical record schema and the unified,
// multi-tenant dataset handed to presentation layers.
package dataset

import "strconv"

// Record is one normalized task row.
//
// SchoolName always equals the tenant that produced the row. CreatedDate is
// either a YYYY-MM-DD string or empty; never a raw timestamp.
type Record struct {
	TaskName          string `json:"taskName,omitempty"`
	TeacherName       string `json:"teacherName,omitempty"`
	SubjectName       string `json:"subjectName,omitempty"`
	GradeName         string `json:"gradeName,omitempty"`
	CreatedDate       string `json:"createdDate,omitempty"`
	ReviewedItemCount *int   `json:"reviewedItemCount,omitempty"`
	SchoolName        string `json:"schoolName"`
}

// Columns is the tabular column order of the unified dataset.
var Columns = []string{
	"taskName",
	"teacherName",
	"subjectName",
	"gradeName",
	"createdDate",
	"reviewedItemCount",
	"schoolName",
}

// Row returns the record as cells in Columns order. Absent values are empty.
func (r Record) Row() []string {
	count := ""
	if r.ReviewedItemCount != nil {
		count = strconv.Itoa(*r.ReviewedItemCount)
	}
	return []string{
		r.TaskName,
		r.TeacherName,
		r.SubjectName,
		r.GradeName,
		r.CreatedDate,
		count,
		r.SchoolName,
	}
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	if r.ReviewedItemCount != nil {
		n := *r.ReviewedItemCount
		r.ReviewedItemCount = &n
	}
	return r
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
