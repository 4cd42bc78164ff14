package source

import (
	"context"
	"database/sql/driver"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/obras-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

const corpusObject = `{"version":"v7","documents":[
	{"id":"t1","titulo":"Kitáb-i-Aqdas","autor":"Bahá'u'lláh","obraSlug":"aqdas","autorSlug":"bahaullah","texto":"","tipo":"titulo"},
	{"id":"p1","titulo":"Kitáb-i-Aqdas","autor":"Bahá'u'lláh","obraSlug":"aqdas","autorSlug":"bahaullah","texto":"Di: Oh pueblos","numero":1,"tipo":"parrafo"}
]}`

const corpusArray = `[{"id":"p2","titulo":"Bayán","autor":"El Báb","obraSlug":"bayan","autorSlug":"el-bab","texto":"certeza","tipo":"parrafo"}]`

func fastHTTP(url string) *HTTPSource {
	s := NewHTTP(config.SourceConfig{URL: url, Timeout: time.Second})
	s.retry.InitialDelay = time.Millisecond
	s.retry.MaxDelay = 2 * time.Millisecond
	return s
}

func TestDecodeObjectAndArray(t *testing.T) {
	now := time.Now()
	snap, err := decode([]byte(corpusObject), now)
	require.NoError(t, err)
	assert.Equal(t, "v7", snap.Version)
	require.Len(t, snap.Documents, 2)
	assert.Equal(t, 1, snap.Documents[1].Number)
	assert.Equal(t, now, snap.FetchedAt)

	snap, err = decode([]byte(corpusArray), now)
	require.NoError(t, err)
	assert.Len(t, snap.Documents, 1)
	assert.Equal(t, contentVersion([]byte(corpusArray)), snap.Version)

	_, err = decode([]byte("  "), now)
	assert.Error(t, err)
	_, err = decode([]byte("{nope"), now)
	assert.Error(t, err)
}

func TestFilterWork(t *testing.T) {
	docs := []proto.Document{
		{ID: "1", WorkSlug: "aqdas", AuthorSlug: "bahaullah"},
		{ID: "2", WorkSlug: "bayan", AuthorSlug: "el-bab"},
		{ID: "3", WorkSlug: "aqdas", AuthorSlug: "otro"},
	}
	got := FilterWork(docs, "aqdas", "bahaullah")
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)
	assert.Empty(t, FilterWork(docs, "iqan", "bahaullah"))
}

func TestHTTPFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(corpusArray))
	}))
	defer srv.Close()

	snap, err := fastHTTP(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, `"abc"`, snap.Version)
	assert.Len(t, snap.Documents, 1)
}

func TestHTTPFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := fastHTTP(srv.URL).Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrSourceUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPFetchPrefersBodyVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"ignored"`)
		_, _ = w.Write([]byte(corpusObject))
	}))
	defer srv.Close()

	snap, err := fastHTTP(srv.URL).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v7", snap.Version)
}

func TestFileFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.json")
	require.NoError(t, os.WriteFile(path, []byte(corpusObject), 0o644))

	snap, err := NewFile(path).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Documents, 2)

	_, err = NewFile(filepath.Join(t.TempDir(), "missing.json")).Fetch(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrSourceUnavailable))
}

func TestFileWatchNotifiesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.json")
	require.NoError(t, os.WriteFile(path, []byte(corpusArray), 0o644))

	src := NewFile(path)
	src.debounce = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- src.Watch(ctx, func() { changed <- struct{}{} })
	}()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(corpusObject), 0o644)
		select {
		case <-changed:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

type fakeRow []driver.Value

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return errors.New("column count mismatch")
	}
	for i, v := range r {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = int(v.(int64))
		case *proto.Kind:
			*d = proto.Kind(v.(string))
		}
	}
	return nil
}

func TestScanDocument(t *testing.T) {
	row := fakeRow{"p1", "Kitáb-i-Aqdas", "Bahá'u'lláh", "aqdas", "bahaullah", "", "Di: Oh pueblos", int64(4), "parrafo"}
	d, err := scanDocument(row)
	require.NoError(t, err)
	assert.Equal(t, proto.Document{
		ID: "p1", Title: "Kitáb-i-Aqdas", Author: "Bahá'u'lláh", WorkSlug: "aqdas", AuthorSlug: "bahaullah",
		Text: "Di: Oh pueblos", Number: 4, Kind: "parrafo",
	}, d)

	_, err = scanDocument(fakeRow{"x"})
	assert.Error(t, err)
}
