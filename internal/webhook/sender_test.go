package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkline/escrowd/internal/core"
	"github.com/arkline/escrowd/internal/model"
)

// webhookTableDB is an in-memory stand-in for the webhooks table that
// understands the statements WebhookService issues, so retry bookkeeping
// can be exercised end to end.
type webhookTableDB struct {
	mu   sync.Mutex
	rows map[string]*model.Webhook
}

func newWebhookTableDB(webhooks ...*model.Webhook) *webhookTableDB {
	db := &webhookTableDB{rows: make(map[string]*model.Webhook)}
	for _, wh := range webhooks {
		db.rows[wh.ID] = wh
	}
	return db
}

func (d *webhookTableDB) get(id string) *model.Webhook {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rows[id]
}

func (d *webhookTableDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case strings.Contains(sql, "retries_count = retries_count + 1") && strings.Contains(sql, "wait_until"):
		wh := d.rows[args[1].(string)]
		wh.RetriesCount++
		wh.WaitUntil = args[0].(time.Time)
	case strings.Contains(sql, "retries_count = retries_count + 1"):
		wh := d.rows[args[1].(string)]
		wh.Status = args[0].(string)
		wh.RetriesCount++
	case strings.Contains(sql, "SET status"):
		wh := d.rows[args[1].(string)]
		wh.Status = args[0].(string)
	default:
		return pgconn.CommandTag{}, errors.New("unexpected statement: " + sql)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (d *webhookTableDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := args[1].(time.Time)

	var due []*model.Webhook
	for _, wh := range d.rows {
		if wh.Status == model.WebhookStatusPending && !wh.WaitUntil.After(now) {
			due = append(due, wh)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })

	scanFuncs := make([]func(dest ...any) error, len(due))
	for i, wh := range due {
		w := *wh
		scanFuncs[i] = func(dest ...any) error {
			*(dest[0].(*string)) = w.ID
			*(dest[1].(*int64)) = w.ChainID
			*(dest[2].(*string)) = w.EscrowAddress
			*(dest[3].(*string)) = w.EventType
			*(dest[4].(*string)) = w.OracleAddress
			*(dest[5].(*json.RawMessage)) = w.Payload
			*(dest[6].(*int)) = w.RetriesCount
			*(dest[7].(*time.Time)) = w.WaitUntil
			*(dest[8].(*string)) = w.Status
			*(dest[9].(*time.Time)) = w.CreatedAt
			*(dest[10].(*time.Time)) = w.UpdatedAt
			return nil
		}
	}
	return &fakeRows{scanFuncs: scanFuncs}, nil
}

func (d *webhookTableDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

type fakeRows struct {
	idx       int
	scanFuncs []func(dest ...any) error
}

func (r *fakeRows) Next() bool { return r.idx < len(r.scanFuncs) }

func (r *fakeRows) Scan(dest ...any) error {
	fn := r.scanFuncs[r.idx]
	r.idx++
	return fn(dest...)
}

func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) Close()                                       {}
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

// fixedResolver returns the same URL for every oracle.
type fixedResolver struct {
	url string
	err error
}

func (r *fixedResolver) WebhookURL(ctx context.Context, chainID int64, oracleAddress string) (string, error) {
	return r.url, r.err
}

func pendingWebhook(id string) *model.Webhook {
	now := time.Now().Add(-time.Minute)
	return &model.Webhook{
		ID:            id,
		ChainID:       137,
		EscrowAddress: "0xescrow",
		EventType:     model.EventEscrowCreated,
		OracleAddress: "0xex",
		Payload:       json.RawMessage(`{"chain_id":137,"escrow_address":"0xescrow","event_type":"escrow_created"}`),
		WaitUntil:     now,
		Status:        model.WebhookStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func newTestSender(db *webhookTableDB, resolver URLResolver, policy Policy) *Sender {
	return NewSender(core.NewWebhookService(db), resolver, NewSigner("test-key"), policy, zerolog.Nop())
}

func TestSender_Deliver_Success(t *testing.T) {
	signer := NewSigner("test-key")
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	db := newWebhookTableDB(pendingWebhook("wh-1"))
	s := newTestSender(db, &fixedResolver{url: srv.URL}, Policy{MaxRetries: 3, BackoffBase: time.Minute, BackoffMax: time.Hour})

	require.NoError(t, s.ProcessPending(context.Background(), time.Now()))

	assert.Equal(t, model.WebhookStatusCompleted, db.get("wh-1").Status)
	assert.Equal(t, 0, db.get("wh-1").RetriesCount)
	assert.True(t, signer.Verify(gotBody, gotSig), "payload signature must verify")
}

func TestSender_RetriesThenFailed(t *testing.T) {
	// Three consecutive 500s with a max of 3 must end in failed, with
	// retries_count equal to the number of attempts and wait_until
	// non-decreasing across attempts.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	db := newWebhookTableDB(pendingWebhook("wh-1"))
	s := newTestSender(db, &fixedResolver{url: srv.URL}, Policy{MaxRetries: 3, BackoffBase: time.Minute, BackoffMax: time.Hour})

	now := time.Now()

	require.NoError(t, s.ProcessPending(context.Background(), now))
	wh := db.get("wh-1")
	assert.Equal(t, model.WebhookStatusPending, wh.Status)
	assert.Equal(t, 1, wh.RetriesCount)
	firstWait := wh.WaitUntil
	assert.True(t, firstWait.After(now))

	// Advance past the first backoff.
	now = firstWait.Add(time.Second)
	require.NoError(t, s.ProcessPending(context.Background(), now))
	wh = db.get("wh-1")
	assert.Equal(t, model.WebhookStatusPending, wh.Status)
	assert.Equal(t, 2, wh.RetriesCount)
	assert.False(t, wh.WaitUntil.Before(firstWait), "wait_until must not decrease")

	now = wh.WaitUntil.Add(time.Second)
	require.NoError(t, s.ProcessPending(context.Background(), now))
	wh = db.get("wh-1")
	assert.Equal(t, model.WebhookStatusFailed, wh.Status)
	assert.Equal(t, 3, wh.RetriesCount)
}

func TestSender_ClientErrorCountsAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	db := newWebhookTableDB(pendingWebhook("wh-1"))
	s := newTestSender(db, &fixedResolver{url: srv.URL}, Policy{MaxRetries: 5, BackoffBase: time.Minute, BackoffMax: time.Hour})

	require.NoError(t, s.ProcessPending(context.Background(), time.Now()))

	wh := db.get("wh-1")
	assert.Equal(t, model.WebhookStatusPending, wh.Status)
	assert.Equal(t, 1, wh.RetriesCount)
}

func TestSender_ResolverErrorSchedulesRetry(t *testing.T) {
	db := newWebhookTableDB(pendingWebhook("wh-1"))
	s := newTestSender(db, &fixedResolver{err: errors.New("kvstore down")}, Policy{MaxRetries: 5, BackoffBase: time.Minute, BackoffMax: time.Hour})

	require.NoError(t, s.ProcessPending(context.Background(), time.Now()))

	wh := db.get("wh-1")
	assert.Equal(t, model.WebhookStatusPending, wh.Status)
	assert.Equal(t, 1, wh.RetriesCount)
}

func TestSender_OneFailureDoesNotBlockBatch(t *testing.T) {
	// The endpoint rejects the first delivery and accepts the second;
	// the second webhook must still go out in the same batch.
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	db := newWebhookTableDB(pendingWebhook("wh-1"), pendingWebhook("wh-2"))
	s := newTestSender(db, &fixedResolver{url: srv.URL}, Policy{MaxRetries: 5, BackoffBase: time.Minute, BackoffMax: time.Hour})

	require.NoError(t, s.ProcessPending(context.Background(), time.Now()))

	assert.Equal(t, model.WebhookStatusPending, db.get("wh-1").Status)
	assert.Equal(t, model.WebhookStatusCompleted, db.get("wh-2").Status)
}

func TestSender_NextAttempt_ExponentialAndCapped(t *testing.T) {
	s := newTestSender(newWebhookTableDB(), &fixedResolver{}, Policy{MaxRetries: 10, BackoffBase: time.Minute, BackoffMax: 10 * time.Minute})

	now := time.Now()
	assert.Equal(t, now.Add(time.Minute), s.NextAttempt(now, 0))
	assert.Equal(t, now.Add(2*time.Minute), s.NextAttempt(now, 1))
	assert.Equal(t, now.Add(4*time.Minute), s.NextAttempt(now, 2))
	assert.Equal(t, now.Add(8*time.Minute), s.NextAttempt(now, 3))
	assert.Equal(t, now.Add(10*time.Minute), s.NextAttempt(now, 4), "capped at max")
	assert.Equal(t, now.Add(10*time.Minute), s.NextAttempt(now, 20), "stays capped")

	// Monotonic in the retry count.
	prev := s.NextAttempt(now, 0)
	for i := 1; i < 12; i++ {
		next := s.NextAttempt(now, i)
		assert.False(t, next.Before(prev))
		prev = next
	}
}
