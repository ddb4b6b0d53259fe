package scan

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the outcome of a scan evaluation.
type Status string

const (
	// StatusNew marks the first sighting of a code.
	StatusNew Status = "new"
	// StatusValid marks a legitimate scan of an already registered code.
	StatusValid Status = "valid"
	// StatusFraud marks a duplicate scan of a code.
	StatusFraud Status = "fraud"
)

// DefaultFieldValue substitutes absent optional fields, as the paper forms
// at the gate have always done.
const DefaultFieldValue = "Non précisé"

// CodeRecord is the registry entry for one physical QR code. A record is
// created exactly once, on first sighting, and mutated only through ApplyScan.
type CodeRecord struct {
	ID            int64
	Code          string
	ScanCount     int
	IsFraud       bool
	LastScannedAt time.Time
	Exited        bool
	ExitedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AlreadyScanned is the registry predicate for the fraud branch: any record
// with a positive scan count or an exit mark has been through the gate.
func (r CodeRecord) AlreadyScanned() bool {
	return r.ScanCount > 0 || r.Exited
}

// ScanEvent is one immutable ledger entry. Events are appended once per
// evaluated scan and never updated or deleted here.
type ScanEvent struct {
	ID        string
	CodeID    int64
	Code      string
	Product   string
	Quantity  int
	Driver    string
	Status    Status
	Seq       int
	ScannedAt time.Time
	AgentID   int64
	AgentName string
}

// ScanInput carries the fields submitted from a gate terminal.
type ScanInput struct {
	Code     string `json:"code" validate:"required,max=255"`
	Product  string `json:"produit" validate:"omitempty,max=255"`
	Quantity *int   `json:"quantite" validate:"omitempty,min=0,max=9999"`
	Driver   string `json:"chauffeur" validate:"omitempty,max=255"`
}

// ScanResult is the structured outcome returned to the web boundary.
type ScanResult struct {
	Status                Status
	Record                CodeRecord
	Event                 ScanEvent
	PreviousScanCount     int
	PreviousLastScannedAt time.Time
	LedgerDegraded        bool
	Message               string
}

// HistoryFilter narrows ledger queries for the history view and export.
type HistoryFilter struct {
	Status   Status
	DateFrom time.Time
	DateTo   time.Time
	CodeLike string
	Product  string
	AgentID  int64
	Limit    int
	Offset   int
}

// ValidationError reports field-level input violations. No state change has
// occurred when it is returned.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return "scan: invalid input: " + strings.Join(parts, "; ")
}

// ErrDuplicateCode indicates a create conflicting with an existing code.
// The evaluator resolves it internally; callers never see it.
var ErrDuplicateCode = errors.New("scan: code already registered")

// ErrCodeNotFound indicates a registry miss.
var ErrCodeNotFound = errors.New("scan: code not found")
