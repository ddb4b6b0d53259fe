package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
)

// RepositoryPort abstracts registry and ledger persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	AppendEvent(ctx context.Context, event ScanEvent) (string, error)
	ListEvents(ctx context.Context, filter HistoryFilter) ([]ScanEvent, int, error)
	RecentEvents(ctx context.Context, limit int) ([]ScanEvent, error)
}

// TxRepository exposes the registry operations that must run under the
// per-code row lock.
type TxRepository interface {
	FindCodeForUpdate(ctx context.Context, code string) (CodeRecord, error)
	CreateCode(ctx context.Context, record CodeRecord) (CodeRecord, error)
	UpdateCode(ctx context.Context, record CodeRecord) (CodeRecord, error)
}

// FollowUpPort schedules the replay of a ledger append that failed after the
// registry update already committed.
type FollowUpPort interface {
	EnqueueLedgerReplay(ctx context.Context, event ScanEvent) error
	EnqueueFraudAlert(ctx context.Context, event ScanEvent, previousCount int) error
}

// MetricsPort counts evaluated scans and degraded appends.
type MetricsPort interface {
	ObserveScan(status string)
	ObserveLedgerAppendFailure()
}

// Service is the scan evaluator: it decides new/valid/fraud for each incoming
// code and keeps registry and ledger in step.
type Service struct {
	repo     RepositoryPort
	validate *validator.Validate
	logger   *slog.Logger
	metrics  MetricsPort
	followUp FollowUpPort
	now      func() time.Time
}

// NewService builds the evaluator.
func NewService(repo RepositoryPort, logger *slog.Logger, metrics MetricsPort, followUp FollowUpPort) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		validate: validator.New(),
		logger:   logger,
		metrics:  metrics,
		followUp: followUp,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate runs one scan through the registry. The lookup-then-write sequence
// for a given code executes under a row lock; different codes never contend.
func (s *Service) Evaluate(ctx context.Context, input ScanInput, agentID int64) (ScanResult, error) {
	if err := s.validateInput(input); err != nil {
		return ScanResult{}, err
	}

	product := input.Product
	if product == "" {
		product = DefaultFieldValue
	}
	driver := input.Driver
	if driver == "" {
		driver = DefaultFieldValue
	}
	quantity := 0
	if input.Quantity != nil {
		quantity = *input.Quantity
	}

	now := s.now()
	var (
		record   CodeRecord
		status   Status
		previous CodeRecord
	)

	apply := func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.FindCodeForUpdate(ctx, input.Code)
		if errors.Is(err, ErrCodeNotFound) {
			// The first sighting is the exit-gate passage itself, so the
			// record starts with one scan and the exit mark already set.
			created, err := tx.CreateCode(ctx, CodeRecord{
				Code:          input.Code,
				ScanCount:     1,
				IsFraud:       false,
				LastScannedAt: now,
				Exited:        true,
				ExitedAt:      &now,
			})
			if err != nil {
				return err
			}
			record = created
			status = StatusNew
			return nil
		}
		if err != nil {
			return err
		}

		previous = existing
		if existing.AlreadyScanned() {
			existing.ScanCount++
			existing.IsFraud = true
			existing.LastScannedAt = now
			status = StatusFraud
		} else {
			// Reachable only for rows with scan_count 0 and no exit mark,
			// left behind by earlier revisions or manual inserts.
			existing.ScanCount++
			existing.LastScannedAt = now
			existing.Exited = true
			existing.ExitedAt = &now
			status = StatusValid
		}
		updated, err := tx.UpdateCode(ctx, existing)
		if err != nil {
			return err
		}
		record = updated
		return nil
	}

	err := s.repo.WithTx(ctx, apply)
	if errors.Is(err, ErrDuplicateCode) {
		// Lost a create race: the code exists now, so rerun the locked
		// update path. This lands in the fraud branch and is never
		// surfaced to the caller.
		err = s.repo.WithTx(ctx, apply)
	}
	if err != nil {
		return ScanResult{}, fmt.Errorf("scan: evaluate %q: %w", input.Code, err)
	}

	event := ScanEvent{
		CodeID:    record.ID,
		Code:      record.Code,
		Product:   product,
		Quantity:  quantity,
		Driver:    driver,
		Status:    status,
		Seq:       record.ScanCount,
		ScannedAt: now,
		AgentID:   agentID,
	}

	result := ScanResult{Status: status, Record: record, Event: event}
	if status == StatusFraud {
		result.PreviousScanCount = previous.ScanCount
		result.PreviousLastScannedAt = previous.LastScannedAt
	}
	result.Message = s.message(result)

	// The registry state is authoritative for fraud detection. A failed
	// ledger append must not undo it, so the append happens after commit
	// and failures degrade instead of erroring.
	if id, err := s.repo.AppendEvent(ctx, event); err != nil {
		result.LedgerDegraded = true
		s.logger.Error("ledger append failed",
			slog.String("code", event.Code),
			slog.String("status", string(status)),
			slog.Any("error", err))
		if s.metrics != nil {
			s.metrics.ObserveLedgerAppendFailure()
		}
		if s.followUp != nil {
			if err := s.followUp.EnqueueLedgerReplay(ctx, event); err != nil {
				s.logger.Error("enqueue ledger replay", slog.Any("error", err))
			}
		}
	} else {
		result.Event.ID = id
	}

	if s.metrics != nil {
		s.metrics.ObserveScan(string(status))
	}
	if status == StatusFraud {
		s.logger.Warn("fraude détectée",
			slog.String("code", record.Code),
			slog.Int("scan_count", record.ScanCount),
			slog.Int64("agent_id", agentID))
		if s.followUp != nil {
			if err := s.followUp.EnqueueFraudAlert(ctx, event, result.PreviousScanCount); err != nil {
				s.logger.Warn("enqueue fraud alert", slog.Any("error", err))
			}
		}
	}

	return result, nil
}

// History lists ledger entries matching the filter plus the unpaginated total.
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]ScanEvent, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	return s.repo.ListEvents(ctx, filter)
}

// RecentScans returns the latest ledger entries for the scan form sidebar.
func (s *Service) RecentScans(ctx context.Context, limit int) ([]ScanEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.repo.RecentEvents(ctx, limit)
}

func (s *Service) validateInput(input ScanInput) error {
	if err := s.validate.Struct(input); err != nil {
		fields := make(map[string]string)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fields[fieldName(fieldErr.Field())] = fieldMessage(fieldErr)
			}
		} else {
			fields["input"] = "données invalides"
		}
		return &ValidationError{Fields: fields}
	}
	return nil
}

func fieldName(structField string) string {
	switch structField {
	case "Code":
		return "code"
	case "Product":
		return "produit"
	case "Quantity":
		return "quantite"
	case "Driver":
		return "chauffeur"
	default:
		return structField
	}
}

func fieldMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "champ obligatoire"
	case "max":
		return fmt.Sprintf("dépasse la limite (%s)", err.Param())
	case "min":
		return fmt.Sprintf("doit être au moins %s", err.Param())
	default:
		return "valeur invalide"
	}
}

func (s *Service) message(result ScanResult) string {
	switch result.Status {
	case StatusNew:
		return "Nouveau code QR enregistré avec succès"
	case StatusValid:
		return "Code QR validé avec succès"
	case StatusFraud:
		return fmt.Sprintf(
			"ALERTE FRAUDE: Ce code a déjà été scanné %d fois. Dernière fois: %s",
			result.PreviousScanCount,
			result.PreviousLastScannedAt.Format("02/01/2006 à 15:04"),
		)
	default:
		return ""
	}
}
