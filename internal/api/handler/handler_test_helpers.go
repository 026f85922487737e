package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/arkline/escrowd/internal/config"
	"github.com/arkline/escrowd/internal/model"
)

// newRequest creates a new HTTP request with an optional JSON body.
func newRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

// newRequestRaw creates a new HTTP request with a raw string body.
func newRequestRaw(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// withChiURLParam adds a chi URL parameter to the request context.
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeErrorResponse parses the JSON error response body into a map.
func decodeErrorResponse(rec *httptest.ResponseRecorder) map[string]string {
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}

// handlerDB backs the job service with an in-memory jobs table. Lookups are
// served from the fixture map; writes are recorded and answered with the
// configured command tag.
type handlerDB struct {
	mu        sync.Mutex
	jobs      map[string]model.Job // keyed by ID
	execs     []string
	execArgs  [][]any
	updateTag string // defaults to "UPDATE 1"
}

func newHandlerDB(jobs ...model.Job) *handlerDB {
	db := &handlerDB{jobs: make(map[string]model.Job), updateTag: "UPDATE 1"}
	for _, j := range jobs {
		db.jobs[j.ID] = j
	}
	return db
}

func (d *handlerDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execs = append(d.execs, sql)
	d.execArgs = append(d.execArgs, args)
	if strings.HasPrefix(strings.TrimSpace(sql), "INSERT") {
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag(d.updateTag), nil
}

func (d *handlerDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var jobs []model.Job
	for _, j := range d.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	return &jobResultRows{jobs: jobs}, nil
}

func (d *handlerDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	if strings.Contains(sql, "chain_id = $1") {
		escrow := args[1].(string)
		for _, j := range d.jobs {
			if j.EscrowAddress != nil && *j.EscrowAddress == escrow {
				return jobResultRow{job: j, ok: true}
			}
		}
		return jobResultRow{}
	}
	j, ok := d.jobs[args[0].(string)]
	return jobResultRow{job: j, ok: ok}
}

func (d *handlerDB) countExecs(prefix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, sql := range d.execs {
		if strings.HasPrefix(strings.TrimSpace(sql), prefix) {
			n++
		}
	}
	return n
}

func scanJob(j model.Job, dest []any) {
	*(dest[0].(*string)) = j.ID
	*(dest[1].(*int64)) = j.ChainID
	*(dest[2].(*string)) = j.RequesterAddress
	*(dest[3].(**string)) = j.EscrowAddress
	*(dest[4].(*string)) = j.Status
	*(dest[5].(*string)) = j.ManifestURL
	*(dest[6].(*string)) = j.ManifestHash
	*(dest[7].(*string)) = j.FundAmount
	*(dest[8].(*string)) = j.ExchangeOracle
	*(dest[9].(*string)) = j.RecordingOracle
	*(dest[10].(*string)) = j.ReputationOracle
	*(dest[11].(**string)) = j.EscrowTxHash
	*(dest[12].(**string)) = j.FailedReason
	*(dest[13].(*time.Time)) = j.CreatedAt
	*(dest[14].(*time.Time)) = j.UpdatedAt
	*(dest[15].(**time.Time)) = j.CanceledAt
}

type jobResultRow struct {
	job model.Job
	ok  bool
}

func (r jobResultRow) Scan(dest ...any) error {
	if !r.ok {
		return pgx.ErrNoRows
	}
	scanJob(r.job, dest)
	return nil
}

type jobResultRows struct {
	idx  int
	jobs []model.Job
}

func (r *jobResultRows) Next() bool { return r.idx < len(r.jobs) }

func (r *jobResultRows) Scan(dest ...any) error {
	scanJob(r.jobs[r.idx], dest)
	r.idx++
	return nil
}

func (r *jobResultRows) Err() error                                   { return nil }
func (r *jobResultRows) Close()                                       {}
func (r *jobResultRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *jobResultRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *jobResultRows) RawValues() [][]byte                          { return nil }
func (r *jobResultRows) Values() ([]any, error)                       { return nil, nil }
func (r *jobResultRows) Conn() *pgx.Conn                              { return nil }

func testChains(t *testing.T) *config.ChainRegistry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chains.yaml")
	data := "chains:\n  - chain_id: 137\n    name: polygon\n    gateway_url: http://gateway.local\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	chains, err := config.LoadChains(path)
	require.NoError(t, err)
	return chains
}

func launchedJob(id string) model.Job {
	escrow := "0x" + strings.Repeat("ab", 20)
	tx := "0xtx"
	now := time.Now().Add(-time.Minute)
	return model.Job{
		ID:               id,
		ChainID:          137,
		RequesterAddress: "0xreq",
		EscrowAddress:    &escrow,
		Status:           model.JobStatusLaunched,
		ManifestURL:      "http://minio/manifests/" + id + ".json",
		ManifestHash:     "0xabc",
		FundAmount:       "100",
		ExchangeOracle:   "0xex",
		RecordingOracle:  "0xrec",
		ReputationOracle: "0xrep",
		EscrowTxHash:     &tx,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
