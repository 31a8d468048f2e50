package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webaudit/internal/api"
	"github.com/JakeFAU/webaudit/internal/auditor"
	"github.com/JakeFAU/webaudit/internal/clock/system"
	"github.com/JakeFAU/webaudit/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/webaudit/internal/fetcher/colly"
	"github.com/JakeFAU/webaudit/internal/id/uuid"
	"github.com/JakeFAU/webaudit/internal/metrics"
	queuememory "github.com/JakeFAU/webaudit/internal/queue/memory"
	"github.com/JakeFAU/webaudit/internal/service"
	"github.com/JakeFAU/webaudit/internal/storage/memory"
	"github.com/JakeFAU/webaudit/internal/worker"
)

const sitePage = `<!doctype html>
<html lang="de"><head>
<meta charset="utf-8">
<title>Bäckerei Müller</title>
<meta name="description" content="Frisches Brot jeden Tag.">
</head><body><h1>Willkommen</h1><p>Frisches Brot und Kuchen</p></body></html>`

func TestAuditRoundTrip(t *testing.T) {
	t.Parallel()

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(sitePage))
	}))
	defer site.Close()

	clock := system.New()
	m := metrics.New()
	reports := memory.NewReportStore()
	jobs := memory.NewJobStore()
	queue := queuememory.NewQueue(8)
	dispatch := dispatcher.New(queue, nil)
	svc := service.New(service.Deps{
		Reports: reports,
		Jobs:    jobs,
		Queue:   dispatch,
		IDs:     uuid.New(),
		Clock:   clock,
		Metrics: m,
	}, zap.NewNop())

	fetcher := collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second})
	w := worker.New(worker.Deps{
		Queue:    queue,
		Auditor:  auditor.New(fetcher, clock, zap.NewNop(), auditor.WithMetrics(m)),
		Reports:  reports,
		Jobs:     jobs,
		Notifier: svc,
		IDs:      uuid.New(),
		Clock:    clock,
		Metrics:  m,
	}, worker.Config{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.New(queue, []dispatcher.Runner{w}).Run(ctx)

	apiSrv := httptest.NewServer(api.NewServer(svc, api.Config{}, api.Options{Metrics: m}, zap.NewNop()).Handler())
	defer apiSrv.Close()
	client := apiSrv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	body, err := json.Marshal(map[string]string{"url": site.URL})
	require.NoError(t, err)
	resp, err := client.Post(apiSrv.URL+"/reports", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobLocation := resp.Header.Get("Location")
	require.Contains(t, jobLocation, "/reports/job/")

	var reportLocation string
	require.Eventually(t, func() bool {
		resp, err := client.Get(apiSrv.URL + jobLocation)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusSeeOther {
			return false
		}
		reportLocation = resp.Header.Get("Location")
		return true
	}, 5*time.Second, 20*time.Millisecond)

	resp, err = client.Get(apiSrv.URL + reportLocation)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report struct {
		URL     string `json:"url"`
		Status  int    `json:"status"`
		Results map[string]struct {
			Rule string `json:"rule"`
			Info []struct {
				Key    string         `json:"key"`
				Status string         `json:"status"`
				Actual map[string]any `json:"actual"`
			} `json:"info"`
		} `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, http.StatusOK, report.Status)
	require.Contains(t, report.Results, "title")
	require.Contains(t, report.Results, "h1")
	assert.Equal(t, "ok", report.Results["title"].Info[0].Status)
	assert.Equal(t, "Bäckerei Müller", report.Results["title"].Info[0].Actual["text"])
	assert.Equal(t, "ok", report.Results["h1"].Info[0].Status)
	assert.Equal(t, "de", report.Results["language"].Info[0].Actual["language"])

	resp, err = client.Post(apiSrv.URL+"/reports", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, reportLocation, resp.Header.Get("Location"))
}
