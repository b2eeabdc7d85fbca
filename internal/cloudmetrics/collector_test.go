package cloudmetrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestCollectCountsStore(t *testing.T) {
	db := setupTestDB(t)
	seed := []string{
		`INSERT INTO payments (live_mode, status) VALUES (TRUE, 'succeeded')`,
		`INSERT INTO payments (live_mode, status) VALUES (TRUE, 'succeeded')`,
		`INSERT INTO payments (live_mode, status) VALUES (FALSE, 'processing')`,
		`INSERT INTO refunds (live_mode, status) VALUES (TRUE, 'succeeded')`,
		`INSERT INTO notification_events (processed) VALUES (TRUE)`,
		`INSERT INTO notification_events (processed) VALUES (FALSE)`,
	}
	for _, stmt := range seed {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	c := New(prometheus.NewRegistry(), nil, db, zap.NewNop())
	c.collect(context.Background())

	if got := testutil.ToFloat64(c.metrics.mirrorPayments.WithLabelValues("live", "succeeded")); got != 2 {
		t.Fatalf("live succeeded payments = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.metrics.mirrorPayments.WithLabelValues("test", "processing")); got != 1 {
		t.Fatalf("test processing payments = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.metrics.mirrorEvents.WithLabelValues("false")); got != 1 {
		t.Fatalf("unprocessed events = %v, want 1", got)
	}

	if err := db.Exec(`DELETE FROM payments WHERE status = 'processing'`).Error; err != nil {
		t.Fatalf("delete: %v", err)
	}
	c.collect(context.Background())
	if got := testutil.ToFloat64(c.metrics.mirrorPayments.WithLabelValues("test", "processing")); got != 0 {
		t.Fatalf("stale gauge survived recount: %v", got)
	}
}

func TestPushShipsSnapshotToPushgateway(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Exec(`INSERT INTO payments (live_mode, status) VALUES (FALSE, 'succeeded')`).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pusher := NewPushgatewayPusher(srv.URL, "paymirror", map[string]string{"environment": "test"})
	c := New(prometheus.NewRegistry(), pusher, db, zap.NewNop())

	if err := c.Push(context.Background()); err != nil {
		t.Fatalf("push: %v", err)
	}
	if !strings.Contains(string(body), "paymirror_payments") {
		t.Fatalf("push body missing gauge family")
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_cloud_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE payments (id INTEGER PRIMARY KEY AUTOINCREMENT, live_mode BOOLEAN NOT NULL, status TEXT NOT NULL)`,
		`CREATE TABLE refunds (id INTEGER PRIMARY KEY AUTOINCREMENT, live_mode BOOLEAN NOT NULL, status TEXT NOT NULL)`,
		`CREATE TABLE notification_events (id INTEGER PRIMARY KEY AUTOINCREMENT, processed BOOLEAN NOT NULL)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}
	return db
}
