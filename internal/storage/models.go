package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Batch statuses.
const (
	BatchQueued    = "queued"
	BatchRunning   = "running"
	BatchCompleted = "completed"
)

type MenuItem struct {
	ID    int
	Name  string
	Usage int
}

// LLMLog records one prompt/response exchange with a chat model.
type LLMLog struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Model      string    `json:"model"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	DurationMs int64     `json:"duration_ms"`
}

// Prediction is the audit row written for every mapped menu name.
type Prediction struct {
	ID                string          `json:"id"`
	BatchID           string          `json:"batch_id,omitempty"`
	MenuID            int             `json:"menu_id"`
	MenuName          string          `json:"menu_name"`
	MasterMenuID      int             `json:"master_menu_id"`
	MasterMenuName    string          `json:"master_menu_name"`
	CorrectedMenuName string          `json:"corrected_menu_name"`
	EvalCurrent       bool            `json:"eval_current"`
	PredictedMenuID   int             `json:"predicted_menu_id"`
	PredictedMenuName string          `json:"predicted_menu_name"`
	EvalPrediction    bool            `json:"eval_prediction"`
	Ambiguous         bool            `json:"ambiguous"`
	MRP               bool            `json:"mrp"`
	LogID             string          `json:"log_id,omitempty"`
	Response          json.RawMessage `json:"response"`
	RankedNodes       json.RawMessage `json:"ranked_nodes"`
	IsApproved        *bool           `json:"is_approved"`
	CreatedAt         time.Time       `json:"created_at"`
}

type Batch struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	Source        string    `json:"source"` // "csv" or "pdf"
	Status        string    `json:"status"`
	TotalRows     int       `json:"total_rows"`
	ProcessedRows int       `json:"processed_rows"`
	FailedRows    int       `json:"failed_rows"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BatchAccuracy summarises how predictions in a batch compare with the
// expected master menu ids supplied in the upload.
type BatchAccuracy struct {
	Total          int `json:"total"`
	CorrectCurrent int `json:"correct_current"`
	CorrectPredict int `json:"correct_prediction"`
	Approved       int `json:"approved"`
	Rejected       int `json:"rejected"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
