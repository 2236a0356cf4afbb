package tefas

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfoliowatch/internal/model"
	"portfoliowatch/internal/quote"
)

func epoch(daysAgo int) string {
	t := time.Now().UTC().AddDate(0, 0, -daysAgo).Truncate(24 * time.Hour)
	return fmt.Sprintf("%d", t.UnixMilli())
}

func dateOf(daysAgo int) string {
	return time.Now().UTC().AddDate(0, 0, -daysAgo).Format("2006-01-02")
}

func row(daysAgo int, price float64) Row {
	return Row{Date: epoch(daysAgo), Code: "AFA", Name: "Ak Portföy Fonu", Price: price}
}

func TestProcessFundHistory(t *testing.T) {
	rec := ProcessFundHistory([]Row{row(2, 1.10), row(1, 1.20), row(0, 1.25)}, "AFA")
	require.NotNil(t, rec)
	assert.Equal(t, "AFA", rec.Symbol)
	assert.Equal(t, 1.25, rec.Price)
	assert.Equal(t, dateOf(0), rec.PriceDate)
	require.NotNil(t, rec.PreviousClose)
	assert.Equal(t, 1.20, *rec.PreviousClose)
	assert.InDelta(t, 0.05, rec.Change, 1e-9)
	assert.InDelta(t, 4.1666, rec.ChangePercent, 0.001)
	assert.Equal(t, "Ak Portföy Fonu", rec.Name)
	assert.Equal(t, "TRY", rec.Currency)
}

func TestProcessFundHistorySkipsUnpublishedNAV(t *testing.T) {
	// Today's NAV is published as zero until the fund reports; the newest
	// positive row is effective and the price date comes from that row.
	rec := ProcessFundHistory([]Row{row(0, 0), row(1, 1.20), row(2, 1.10)}, "AFA")
	require.NotNil(t, rec)
	assert.Equal(t, 1.20, rec.Price)
	assert.Equal(t, dateOf(1), rec.PriceDate)
	require.NotNil(t, rec.PreviousClose)
	assert.Equal(t, 1.10, *rec.PreviousClose)
}

func TestProcessFundHistoryOrderIndependent(t *testing.T) {
	rows := []Row{row(1, 1.20), row(0, 0), row(2, 1.10)}
	rec := ProcessFundHistory(rows, "AFA")
	require.NotNil(t, rec)
	assert.Equal(t, 1.20, rec.Price)
	assert.Equal(t, dateOf(1), rec.PriceDate)
	// Caller's slice is left untouched.
	assert.Equal(t, epoch(1), rows[0].Date)
}

func TestProcessFundHistorySingleEntry(t *testing.T) {
	rec := ProcessFundHistory([]Row{row(0, 1.25)}, "AFA")
	require.NotNil(t, rec)
	assert.Equal(t, 1.25, rec.Price)
	assert.Nil(t, rec.PreviousClose)
	assert.Zero(t, rec.Change)
	assert.Zero(t, rec.ChangePercent)
}

func TestProcessFundHistoryEmpty(t *testing.T) {
	assert.Nil(t, ProcessFundHistory(nil, "AFA"))
}

func TestProcessFundHistoryChartOldestFirst(t *testing.T) {
	rec := ProcessFundHistory([]Row{row(0, 1.25), row(2, 1.10), row(1, 1.20)}, "AFA")
	require.NotNil(t, rec)
	require.Len(t, rec.HistoricalData, 3)
	assert.Equal(t, 1.10, rec.HistoricalData[0].Price)
	assert.Equal(t, 1.25, rec.HistoricalData[2].Price)
	assert.Less(t, rec.HistoricalData[0].Date, rec.HistoricalData[2].Date)
}

func historyJSON(rows ...string) string {
	out := `{"data":[`
	for i, r := range rows {
		if i > 0 {
			out += ","
		}
		out += r
	}
	return out + `]}`
}

func rowJSON(daysAgo int, price float64) string {
	return fmt.Sprintf(`{"TARIH":"%s","FONKODU":"AFA","FONUNVAN":"Ak Portföy Fonu","FIYAT":%g}`, epoch(daysAgo), price)
}

func testAdapter(srv *httptest.Server) *Adapter {
	a := New("", 5*time.Second)
	a.Endpoint = srv.URL
	a.Client = srv.Client()
	return a
}

func TestFetchLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "YAT", r.PostForm.Get("fontip"))
		assert.Equal(t, "AFA", r.PostForm.Get("fonkod"))
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		assert.Regexp(t, `^\d{2}\.\d{2}\.\d{4}$`, r.PostForm.Get("bastarih"))
		assert.Regexp(t, `^\d{2}\.\d{2}\.\d{4}$`, r.PostForm.Get("bittarih"))
		fmt.Fprint(w, historyJSON(rowJSON(0, 1.25), rowJSON(1, 1.20)))
	}))
	defer srv.Close()

	rec, err := testAdapter(srv).FetchLatest(context.Background(), "AFA")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1.25, rec.Price)
	assert.Equal(t, dateOf(0), rec.PriceDate)
}

func TestFetchLatestUnknownFund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, historyJSON())
	}))
	defer srv.Close()

	rec, err := testAdapter(srv).FetchLatest(context.Background(), "ZZZ")
	assert.ErrorIs(t, err, quote.ErrNotFound)
	assert.Nil(t, rec)
}

func TestFetchLatestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rec, err := testAdapter(srv).FetchLatest(context.Background(), "AFA")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Failed())
	assert.Equal(t, "AFA", rec.Symbol)
}

func TestFetchLatestPacing(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, historyJSON(rowJSON(0, 1.25)))
	}))
	defer srv.Close()

	a := testAdapter(srv)
	rec, err := a.FetchLatest(context.Background(), "AFA")
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// A repeat inside the pacing window serves the last record without a
	// network round trip.
	again, err := a.FetchLatest(context.Background(), "AFA")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, rec.Price, again.Price)

	// Once the window elapses, the network is hit again.
	a.Now = func() time.Time { return time.Now().Add(minRequestInterval + time.Second) }
	_, err = a.FetchLatest(context.Background(), "AFA")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestFetchLatestPacedFailureStaysNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, historyJSON())
	}))
	defer srv.Close()

	a := testAdapter(srv)
	_, err := a.FetchLatest(context.Background(), "ZZZ")
	require.ErrorIs(t, err, quote.ErrNotFound)

	// The empty result was not retained; re-asking within the window still
	// reports not-found rather than a stale record.
	_, err = a.FetchLatest(context.Background(), "ZZZ")
	assert.ErrorIs(t, err, quote.ErrNotFound)
}

func TestFetchLatestCoalescesConcurrent(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		fmt.Fprint(w, historyJSON(rowJSON(0, 1.25)))
	}))
	defer srv.Close()

	a := testAdapter(srv)
	var mu sync.Mutex
	var recs []*model.PriceRecord
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := a.FetchLatest(context.Background(), "AFA")
			assert.NoError(t, err)
			assert.NotNil(t, rec)
			mu.Lock()
			recs = append(recs, rec)
			mu.Unlock()
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	// One upstream attempt, but each caller owns its record.
	require.Len(t, recs, 4)
	for i := 1; i < len(recs); i++ {
		assert.NotSame(t, recs[0], recs[i])
	}
}

func TestFetchLatestCallersOwnTheirRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, historyJSON(rowJSON(0, 1.25)))
	}))
	defer srv.Close()

	a := testAdapter(srv)
	rec, err := a.FetchLatest(context.Background(), "AFA")
	require.NoError(t, err)

	// Callers restamp fields on the records they receive; that must not
	// leak into what later (paced) callers are served.
	rec.Symbol = "RESTAMPED"
	rec.Source = model.SourceAPI

	again, err := a.FetchLatest(context.Background(), "AFA")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.NotSame(t, rec, again)
	assert.Equal(t, "AFA", again.Symbol)
	assert.Empty(t, again.Source)
}

func TestFetchHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, historyJSON(rowJSON(0, 1.25), rowJSON(2, 1.10), rowJSON(1, 1.20)))
	}))
	defer srv.Close()

	points, err := testAdapter(srv).FetchHistory(context.Background(), "AFA", model.Range1M)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, 1.10, points[0].Price)
	assert.Equal(t, 1.25, points[2].Price)
}

func TestFetchHistoryUnknownFund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, historyJSON())
	}))
	defer srv.Close()

	_, err := testAdapter(srv).FetchHistory(context.Background(), "ZZZ", model.Range1M)
	assert.ErrorIs(t, err, quote.ErrNotFound)
}

func TestStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, historyJSON(rowJSON(0, 1.25)))
	}))
	defer srv.Close()

	a := testAdapter(srv)
	assert.Equal(t, 0, a.Stats())
	_, err := a.FetchLatest(context.Background(), "AFA")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Stats())
}
