package model

import "time"

// LeaderboardExport is the top-level JSON structure for result export.
type LeaderboardExport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Subject     string          `json:"subject,omitempty"`
	Entries     []StandingEntry `json:"entries"`
	Exams       []ExamResult    `json:"exams"`
}

// StandingEntry is one leaderboard row.
type StandingEntry struct {
	Rank        int    `json:"rank"`
	StudentID   int64  `json:"student_id"`
	DisplayName string `json:"display_name"`
	TotalPoints int    `json:"total_points"`
}

// ExamResult holds one closed exam and each graded student's outcome.
type ExamResult struct {
	ExamID   int64           `json:"exam_id"`
	Title    string          `json:"title"`
	Subject  string          `json:"subject"`
	Date     string          `json:"date"`
	Students []StudentResult `json:"students"`
}

// StudentResult is a single student's outcome on one exam.
type StudentResult struct {
	StudentID   int64    `json:"student_id"`
	DisplayName string   `json:"display_name,omitempty"`
	Grade       string   `json:"grade"`
	Prediction1 *float64 `json:"prediction1,omitempty"`
	Prediction2 *float64 `json:"prediction2,omitempty"`
	Points      int      `json:"points"`
}
