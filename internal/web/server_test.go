package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/segexport/internal/download"
	"github.com/JonMunkholm/segexport/internal/metrics"
	"github.com/JonMunkholm/segexport/internal/segment"
	"github.com/JonMunkholm/segexport/internal/source"
	"github.com/JonMunkholm/segexport/internal/tabular"
	"github.com/JonMunkholm/segexport/internal/workbook"
)

var testColumns = []tabular.Column{
	{Name: "id", Type: tabular.Integer},
	{Name: "name", Type: tabular.Text},
}

func testServer(t *testing.T, rows int, settings download.Settings, opts Options) *httptest.Server {
	t.Helper()

	data := tabular.New(testColumns...)
	for i := 1; i <= rows; i++ {
		data.MustAddRow(i, fmt.Sprintf("customer %d", i))
	}

	dl, err := download.NewSourceDownloader(settings, source.NewSlice(data))
	require.NoError(t, err)

	m := metrics.New()
	orch := download.New[uuid.UUID](segment.NewMemoryStore(uuid.New), dl, download.Config{
		Metrics:  m,
		Limiter:  download.NewLimiter(2, time.Second),
		FileName: "customers",
	})

	srv, err := NewServer(orch, m, opts)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func begin(t *testing.T, ts *httptest.Server) uuid.UUID {
	t.Helper()
	resp := do(t, http.MethodPost, ts.URL+"/api/exports")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[BeginResponse](t, resp).OperationID
}

func pageThrough(t *testing.T, ts *httptest.Server, id uuid.UUID) int {
	t.Helper()
	pages := 0
	for page := 1; ; page++ {
		resp := do(t, http.MethodPost, fmt.Sprintf("%s/api/exports/%s/pages/%d", ts.URL, id, page))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode[ContinueResponse](t, resp)
		if !body.HasMore {
			assert.Equal(t, 0, body.RowCount)
			return pages
		}
		pages++
	}
}

func TestExportLifecycle_SingleWorkbook(t *testing.T) {
	ts := testServer(t, 110, download.Settings{PageSize: 50, MinZipSegments: 5, SegmentsPerEntry: 10}, Options{})

	id := begin(t, ts)
	assert.Equal(t, 3, pageThrough(t, ts, id))

	resp := do(t, http.MethodGet, ts.URL+"/api/exports/"+id.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[StatusResponse](t, resp)
	assert.Equal(t, "in_progress", status.State)
	assert.Equal(t, 3, status.Segments)
	assert.False(t, status.WillZip)

	resp = do(t, http.MethodGet, ts.URL+"/api/exports/"+id.String()+"/complete")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, workbook.ContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename=customers.xlsx`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "3", resp.Header.Get("X-Export-Segments"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out, err := workbook.Decode(body, testColumns)
	require.NoError(t, err)
	require.Equal(t, 110, out.Len())
	assert.Equal(t, "customer 110", out.Rows[109][1])

	resp = do(t, http.MethodDelete, ts.URL+"/api/exports/"+id.String())
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/api/exports/"+id.String())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportLifecycle_Zip(t *testing.T) {
	ts := testServer(t, 1200, download.Settings{PageSize: 100, MinZipSegments: 5, SegmentsPerEntry: 10}, Options{})

	id := begin(t, ts)
	assert.Equal(t, 12, pageThrough(t, ts, id))

	resp := do(t, http.MethodPost, ts.URL+"/api/exports/"+id.String()+"/complete")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, workbook.ZipContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, "2", resp.Header.Get("X-Export-Entries"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	entries, err := workbook.ReadZip(body)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestComplete_ForceZipQuery(t *testing.T) {
	ts := testServer(t, 10, download.Settings{PageSize: 5, MinZipSegments: 50, SegmentsPerEntry: 1}, Options{})

	id := begin(t, ts)
	pageThrough(t, ts, id)

	resp := do(t, http.MethodGet, ts.URL+"/api/exports/"+id.String()+"/complete?zip=true")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, workbook.ZipContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, "2", resp.Header.Get("X-Export-Entries"))

	resp = do(t, http.MethodGet, ts.URL+"/api/exports/"+id.String()+"/complete?zip=yes")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "EXP009", decode[ErrorResponse](t, resp).Code)

	resp = do(t, http.MethodGet, ts.URL+"/api/exports/"+id.String()+"/complete?zip=false")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, workbook.ContentType, resp.Header.Get("Content-Type"))
}

func TestComplete_OutlivesServerWriteTimeout(t *testing.T) {
	data := tabular.New(testColumns...)
	data.MustAddRow(1, "slow")

	dl, err := download.NewSourceDownloader(download.DefaultSettings(), source.NewSlice(data))
	require.NoError(t, err)

	slowFormat := func(*excelize.File, string) error {
		time.Sleep(300 * time.Millisecond)
		return nil
	}
	orch := download.New[uuid.UUID](segment.NewMemoryStore(uuid.New), dl, download.Config{Format: slowFormat})

	const writeTimeout = 100 * time.Millisecond
	srv, err := NewServer(orch, nil, Options{WriteTimeout: writeTimeout, CompleteTimeout: 5 * time.Second})
	require.NoError(t, err)

	ts := httptest.NewUnstartedServer(srv.Handler())
	ts.Config.WriteTimeout = writeTimeout
	ts.Start()
	t.Cleanup(ts.Close)

	id := begin(t, ts)
	pageThrough(t, ts, id)

	resp := do(t, http.MethodGet, ts.URL+"/api/exports/"+id.String()+"/complete")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out, err := workbook.Decode(body, testColumns)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())
}

func TestContinue_AfterCompleteConflicts(t *testing.T) {
	ts := testServer(t, 10, download.Settings{PageSize: 5, MinZipSegments: 5, SegmentsPerEntry: 1}, Options{})

	id := begin(t, ts)
	pageThrough(t, ts, id)
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/api/exports/"+id.String()+"/complete").StatusCode)

	resp := do(t, http.MethodPost, ts.URL+"/api/exports/"+id.String()+"/pages/1")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "EXP005", decode[ErrorResponse](t, resp).Code)
}

func TestErrorResponses(t *testing.T) {
	ts := testServer(t, 10, download.DefaultSettings(), Options{})
	id := begin(t, ts)

	tests := []struct {
		name   string
		method string
		path   string
		status int
		code   string
	}{
		{"malformed id", http.MethodPost, "/api/exports/not-a-uuid/pages/1", http.StatusNotFound, "EXP001"},
		{"unknown id", http.MethodPost, "/api/exports/" + uuid.NewString() + "/pages/1", http.StatusNotFound, "EXP001"},
		{"unknown complete", http.MethodGet, "/api/exports/" + uuid.NewString() + "/complete", http.StatusNotFound, "EXP001"},
		{"page zero", http.MethodPost, "/api/exports/" + id.String() + "/pages/0", http.StatusBadRequest, "EXP006"},
		{"page not a number", http.MethodPost, "/api/exports/" + id.String() + "/pages/two", http.StatusBadRequest, "EXP006"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, ts.URL+tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode[ErrorResponse](t, resp)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestCleanup_UnknownIsNoContent(t *testing.T) {
	ts := testServer(t, 1, download.DefaultSettings(), Options{})
	resp := do(t, http.MethodDelete, ts.URL+"/api/exports/"+uuid.NewString())
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAPIKeys_GuardExportRoutes(t *testing.T) {
	ts := testServer(t, 1, download.DefaultSettings(), Options{APIKeys: []string{"k1"}})

	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodPost, ts.URL+"/api/exports").StatusCode)
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/healthz").StatusCode)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/exports", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "k1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts := testServer(t, 1, download.DefaultSettings(), Options{})
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/healthz").StatusCode)

	down := testServer(t, 1, download.DefaultSettings(), Options{
		Health: func(context.Context) error { return errors.New("database unreachable") },
	})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, http.MethodGet, down.URL+"/healthz").StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := testServer(t, 5, download.DefaultSettings(), Options{})
	begin(t, ts)

	resp := do(t, http.MethodGet, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "segexport_operations_started_total 1")
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("append: %w", segment.ErrUnknownOperation), http.StatusNotFound, "EXP001"},
		{fmt.Errorf("%w: append: %w", segment.ErrStoreUnavailable, errors.New("connection reset")), http.StatusServiceUnavailable, "EXP002"},
		{fmt.Errorf("complete: %w", segment.ErrSchemaMismatch), http.StatusUnprocessableEntity, "EXP003"},
		{fmt.Errorf("complete: %w", workbook.ErrEncoding), http.StatusInternalServerError, "EXP004"},
		{download.ErrOperationCompleted, http.StatusConflict, "EXP005"},
		{download.ErrInvalidPage, http.StatusBadRequest, "EXP006"},
		{download.ErrTooManyCompletes, http.StatusTooManyRequests, "EXP007"},
		{fmt.Errorf("query page 3: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "EXP008"},
		{fmt.Errorf("%w: zip=%q", ErrInvalidQuery, "yes"), http.StatusBadRequest, "EXP009"},
		{errors.New("something odd"), http.StatusInternalServerError, "ERR000"},
	}

	for _, tt := range tests {
		msg, status := MapError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, msg.Code, tt.err.Error())
	}
}
