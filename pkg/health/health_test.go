package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) ComponentHealth { return ComponentHealth{Status: StatusUp} }

func TestRunReportsWorstStatus(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("engine", up)
	c.Register("store", PingCheck(func(context.Context) error { return errors.New("locked") }, true))

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.True(t, report.Ready())
	assert.Equal(t, "locked", report.Components["store"].Message)
	assert.Equal(t, []string{"engine", "store"}, c.Names())

	c.Register("source", PingCheck(func(context.Context) error { return errors.New("refused") }, false))
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)
}

func TestChecksAreBoundedByTimeout(t *testing.T) {
	c := NewChecker(20 * time.Millisecond)
	c.Register("slow", PingCheck(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, false))

	start := time.Now()
	report := c.Run(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusDown, report.Status)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("bridge", func(context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDegraded, Message: "inline fallback"}
	})

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusDegraded, report.Status)

	c.Register("engine", func(context.Context) ComponentHealth { return ComponentHealth{Status: StatusDown} })
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
