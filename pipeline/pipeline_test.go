package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/aluiziolira/go-scrape-cars/models"
	"github.com/aluiziolira/go-scrape-cars/store"
)

type recordingNotifier struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, l *models.Listing) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, l.URL)
	return n.err
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) delivered() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.urls...)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Exists(ctx context.Context, url string) (bool, error) {
	args := m.Called(ctx, url)
	return args.Bool(0), args.Error(1)
}

func (m *mockGateway) Upsert(ctx context.Context, l *models.Listing, batchID string) (bool, error) {
	args := m.Called(ctx, l, batchID)
	return args.Bool(0), args.Error(1)
}

func (m *mockGateway) Close() error { return nil }

// oneBargain returns nine listings at 20000 and one at 5000; only the cheap
// one scores above the top tier threshold.
func oneBargain() []*models.Listing {
	out := make([]*models.Listing, 0, 10)
	for i := 0; i < 9; i++ {
		out = append(out, &models.Listing{
			Title: "Octavia " + strconv.Itoa(i),
			Price: 20000,
			URL:   "https://auto.test/" + strconv.Itoa(i),
		})
	}
	return append(out, &models.Listing{Title: "Bargain", Price: 5000, URL: "https://auto.test/bargain"})
}

func TestPipelinePersistsAndNotifiesTopTier(t *testing.T) {
	gw := store.NewMemory()
	n := &recordingNotifier{}
	p, err := New(gw, WithNotifier(n))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.Start(context.Background(), 3)

	batch, err := p.Process(oneBargain())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := uuid.Parse(batch.ID); err != nil {
		t.Fatalf("batch id %q: %v", batch.ID, err)
	}
	if len(batch.Scored) != 10 || batch.Scored[0].URL != "https://auto.test/bargain" {
		t.Fatalf("scored batch not ordered by score: %+v", batch.Scored[0])
	}
	if got := batch.Scored[0].Deal.Verdict; got != models.VerdictSuperDeal {
		t.Fatalf("bargain verdict = %s, want SUPER_DEAL", got)
	}

	records := gw.Records()
	if len(records) != 10 {
		t.Fatalf("stored = %d, want 10", len(records))
	}
	for _, r := range records {
		if r.BatchID != batch.ID {
			t.Fatalf("record batch id = %q, want %q", r.BatchID, batch.ID)
		}
		if r.Deal == nil {
			t.Fatalf("record %s stored without score", r.URL)
		}
	}

	delivered := n.delivered()
	if len(delivered) != 1 || delivered[0] != "https://auto.test/bargain" {
		t.Fatalf("delivered = %v, want only the bargain", delivered)
	}
	if s := p.Stats(); s.Persisted != 10 || s.Notified != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestPipelineReprocessIsIdempotent(t *testing.T) {
	gw := store.NewMemory()
	n := &recordingNotifier{}
	p, err := New(gw, WithNotifier(n))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.Start(context.Background(), 4)

	for i := 0; i < 2; i++ {
		if _, err := p.Process(oneBargain()); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := len(gw.Records()); got != 10 {
		t.Fatalf("stored = %d, want 10", got)
	}
	s := p.Stats()
	if s.Persisted != 10 || s.Known != 10 {
		t.Fatalf("stats = %+v, want 10 persisted and 10 known", s)
	}
	if got := len(n.delivered()); got != 1 {
		t.Fatalf("notifications = %d, want 1", got)
	}
}

func TestPipelineNotifyFailureKeepsPersistence(t *testing.T) {
	gw := store.NewMemory()
	n := &recordingNotifier{err: errors.New("webhook down")}
	p, err := New(gw, WithNotifier(n))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.Start(context.Background(), 2)

	if _, err := p.Process(oneBargain()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := len(gw.Records()); got != 10 {
		t.Fatalf("stored = %d, want 10", got)
	}
	if s := p.Stats(); s.NotifyErrors != 1 || s.Notified != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestPipelineMinVerdict(t *testing.T) {
	n := &recordingNotifier{}
	p, err := New(store.NewMemory(), WithNotifier(n), WithMinVerdict(models.VerdictOK))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.Start(context.Background(), 2)

	if _, err := p.Process(oneBargain()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(n.delivered()); got != 10 {
		t.Fatalf("notifications = %d, want 10", got)
	}
}

func TestPipelineGatewayErrorIsRecorded(t *testing.T) {
	gw := &mockGateway{}
	broken := errors.New("connection refused")
	gw.On("Exists", mock.Anything, "https://auto.test/bad").Return(false, broken)
	gw.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
	gw.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	p, err := New(gw)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.Start(context.Background(), 1)

	listings := []*models.Listing{
		{Title: "Bad", Price: 9000, URL: "https://auto.test/bad"},
		{Title: "Good", Price: 8000, URL: "https://auto.test/good"},
	}
	if _, err := p.Process(listings); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); !errors.Is(err, broken) {
		t.Fatalf("close error = %v, want %v", err, broken)
	}

	if s := p.Stats(); s.Errors != 1 || s.Persisted != 1 {
		t.Fatalf("stats = %+v", s)
	}
	gw.AssertNumberOfCalls(t, "Upsert", 1)
}

func TestPipelineRecentCacheSkipsGateway(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Exists", mock.Anything, "https://auto.test/1").Return(false, nil).Once()
	gw.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Once()

	p, err := New(gw, WithCacheSize(8))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.Start(context.Background(), 1)

	for i := 0; i < 3; i++ {
		if _, err := p.Process([]*models.Listing{{Title: "Fabia", Price: 4000, URL: "https://auto.test/1"}}); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	gw.AssertExpectations(t)
	if s := p.Stats(); s.Persisted != 1 || s.Known != 2 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	p, err := New(store.NewMemory())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.Start(context.Background(), 1)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := p.Process(oneBargain()); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("process after close = %v, want ErrPipelineClosed", err)
	}
	if _, err := p.Process(nil); err != nil {
		t.Fatalf("empty process after close = %v, want nil", err)
	}
}

func TestNewRequiresGateway(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected error for nil gateway")
	}
}
