package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	mu     sync.Mutex
	codes  map[string]CodeRecord
	events []ScanEvent
	nextID int64

	failAppend    bool
	duplicateOnce bool
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{codes: make(map[string]CodeRecord)}
}

// WithTx serialises callers the way the per-code row lock does.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) AppendEvent(ctx context.Context, event ScanEvent) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAppend {
		return "", errors.New("ledger unavailable")
	}
	for _, existing := range r.events {
		if existing.CodeID == event.CodeID && existing.Seq == event.Seq {
			return existing.ID, nil
		}
	}
	event.ID = fmt.Sprintf("evt-%d", len(r.events)+1)
	r.events = append(r.events, event)
	return event.ID, nil
}

func (r *memoryRepo) ListEvents(ctx context.Context, filter HistoryFilter) ([]ScanEvent, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []ScanEvent
	for _, event := range r.events {
		if filter.Status != "" && event.Status != filter.Status {
			continue
		}
		result = append(result, event)
	}
	return result, len(result), nil
}

func (r *memoryRepo) RecentEvents(ctx context.Context, limit int) ([]ScanEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit > len(r.events) {
		limit = len(r.events)
	}
	result := make([]ScanEvent, limit)
	copy(result, r.events[len(r.events)-limit:])
	return result, nil
}

func (tx *memoryTx) FindCodeForUpdate(ctx context.Context, code string) (CodeRecord, error) {
	if record, ok := tx.repo.codes[code]; ok {
		return record, nil
	}
	return CodeRecord{}, ErrCodeNotFound
}

func (tx *memoryTx) CreateCode(ctx context.Context, record CodeRecord) (CodeRecord, error) {
	if tx.repo.duplicateOnce {
		// Simulate losing the insert race: the row exists by the time the
		// constraint fires.
		tx.repo.duplicateOnce = false
		tx.repo.nextID++
		record.ID = tx.repo.nextID
		tx.repo.codes[record.Code] = record
		return CodeRecord{}, ErrDuplicateCode
	}
	if _, ok := tx.repo.codes[record.Code]; ok {
		return CodeRecord{}, ErrDuplicateCode
	}
	tx.repo.nextID++
	record.ID = tx.repo.nextID
	tx.repo.codes[record.Code] = record
	return record, nil
}

func (tx *memoryTx) UpdateCode(ctx context.Context, record CodeRecord) (CodeRecord, error) {
	if _, ok := tx.repo.codes[record.Code]; !ok {
		return CodeRecord{}, ErrCodeNotFound
	}
	tx.repo.codes[record.Code] = record
	return record, nil
}

type followUpRecorder struct {
	mu       sync.Mutex
	replays  []ScanEvent
	alerts   []ScanEvent
	previous []int
}

func (f *followUpRecorder) EnqueueLedgerReplay(ctx context.Context, event ScanEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replays = append(f.replays, event)
	return nil
}

func (f *followUpRecorder) EnqueueFraudAlert(ctx context.Context, event ScanEvent, previousCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, event)
	f.previous = append(f.previous, previousCount)
	return nil
}

func intPtr(v int) *int { return &v }

func TestScanLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	followUp := &followUpRecorder{}
	svc := NewService(repo, nil, nil, followUp)
	ctx := context.Background()

	input := ScanInput{Code: "ABC123", Product: "Ciment", Quantity: intPtr(50), Driver: "Jean Dupont"}

	first, err := svc.Evaluate(ctx, input, 1)
	require.NoError(t, err)
	require.Equal(t, StatusNew, first.Status)
	require.Equal(t, 1, first.Record.ScanCount)
	require.False(t, first.Record.IsFraud)
	require.True(t, first.Record.Exited)
	require.NotNil(t, first.Record.ExitedAt)
	require.Equal(t, 1, first.Event.Seq)
	require.False(t, first.LedgerDegraded)

	second, err := svc.Evaluate(ctx, input, 2)
	require.NoError(t, err)
	require.Equal(t, StatusFraud, second.Status)
	require.Equal(t, 2, second.Record.ScanCount)
	require.True(t, second.Record.IsFraud)
	require.Equal(t, 1, second.PreviousScanCount)
	require.Contains(t, second.Message, "déjà été scanné 1 fois")

	third, err := svc.Evaluate(ctx, input, 1)
	require.NoError(t, err)
	require.Equal(t, StatusFraud, third.Status)
	require.Equal(t, 3, third.Record.ScanCount)
	require.True(t, third.Record.IsFraud)
	require.Equal(t, 2, third.PreviousScanCount)

	require.Len(t, followUp.alerts, 2)
	require.Equal(t, []int{1, 2}, followUp.previous)
	require.Len(t, repo.events, 3)
	require.Equal(t, []int{1, 2, 3}, []int{repo.events[0].Seq, repo.events[1].Seq, repo.events[2].Seq})
}

func TestDefaultSubstitution(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)

	result, err := svc.Evaluate(context.Background(), ScanInput{Code: "XYZ"}, 7)
	require.NoError(t, err)
	require.Equal(t, DefaultFieldValue, result.Event.Product)
	require.Equal(t, DefaultFieldValue, result.Event.Driver)
	require.Equal(t, 0, result.Event.Quantity)
	require.Equal(t, int64(7), result.Event.AgentID)
}

func TestValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		input ScanInput
		field string
	}{
		{"empty code", ScanInput{Code: ""}, "code"},
		{"code too long", ScanInput{Code: strings.Repeat("A", 256)}, "code"},
		{"negative quantity", ScanInput{Code: "OK", Quantity: intPtr(-1)}, "quantite"},
		{"quantity over limit", ScanInput{Code: "OK", Quantity: intPtr(10000)}, "quantite"},
		{"product too long", ScanInput{Code: "OK", Product: strings.Repeat("p", 256)}, "produit"},
		{"driver too long", ScanInput{Code: "OK", Driver: strings.Repeat("d", 256)}, "chauffeur"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Evaluate(ctx, tc.input, 1)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Contains(t, verr.Fields, tc.field)
		})
	}

	// Boundary values pass.
	_, err := svc.Evaluate(ctx, ScanInput{Code: strings.Repeat("A", 255), Quantity: intPtr(9999)}, 1)
	require.NoError(t, err)
	_, err = svc.Evaluate(ctx, ScanInput{Code: "ZERO", Quantity: intPtr(0)}, 1)
	require.NoError(t, err)
}

func TestConcurrentScansSameCode(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	const workers = 8
	results := make([]Status, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.Evaluate(ctx, ScanInput{Code: "RACE-1"}, int64(i))
			results[i] = result.Status
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	newCount, fraudCount := 0, 0
	for _, status := range results {
		switch status {
		case StatusNew:
			newCount++
		case StatusFraud:
			fraudCount++
		}
	}
	require.Equal(t, 1, newCount)
	require.Equal(t, workers-1, fraudCount)
	require.Equal(t, workers, repo.codes["RACE-1"].ScanCount)
	require.True(t, repo.codes["RACE-1"].IsFraud)
}

func TestCreateRaceResolvesToFraud(t *testing.T) {
	repo := newMemoryRepo()
	repo.duplicateOnce = true
	svc := NewService(repo, nil, nil, nil)

	result, err := svc.Evaluate(context.Background(), ScanInput{Code: "DUP-1"}, 1)
	require.NoError(t, err)
	require.Equal(t, StatusFraud, result.Status)
	require.Equal(t, 2, result.Record.ScanCount)
	require.True(t, result.Record.IsFraud)
}

func TestDegradedLedgerAppend(t *testing.T) {
	repo := newMemoryRepo()
	repo.failAppend = true
	followUp := &followUpRecorder{}
	svc := NewService(repo, nil, nil, followUp)

	result, err := svc.Evaluate(context.Background(), ScanInput{Code: "LEDGER-1"}, 1)
	require.NoError(t, err)
	require.Equal(t, StatusNew, result.Status)
	require.True(t, result.LedgerDegraded)
	require.Len(t, followUp.replays, 1)
	require.Equal(t, "LEDGER-1", followUp.replays[0].Code)
	require.Equal(t, 1, followUp.replays[0].Seq)

	// The registry update survived the ledger failure.
	require.Equal(t, 1, repo.codes["LEDGER-1"].ScanCount)
}

func TestLedgerReplayIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)

	result, err := svc.Evaluate(context.Background(), ScanInput{Code: "SEQ-1"}, 1)
	require.NoError(t, err)

	// Replaying the same (code, seq) event appends nothing new.
	id, err := repo.AppendEvent(context.Background(), result.Event)
	require.NoError(t, err)
	require.Equal(t, result.Event.ID, id)
	require.Len(t, repo.events, 1)
}

func TestHistoryStatusFilter(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Evaluate(ctx, ScanInput{Code: "H-1"}, 1)
	require.NoError(t, err)
	_, err = svc.Evaluate(ctx, ScanInput{Code: "H-1"}, 1)
	require.NoError(t, err)
	_, err = svc.Evaluate(ctx, ScanInput{Code: "H-2"}, 1)
	require.NoError(t, err)

	frauds, total, err := svc.History(ctx, HistoryFilter{Status: StatusFraud})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, frauds, 1)
	require.Equal(t, "H-1", frauds[0].Code)
	require.Equal(t, 2, frauds[0].Seq)
}
