package uploader

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjmat/keilog/internal/model"
	"github.com/kjmat/keilog/internal/queue"
)

func TestPostSendsFormEncodedBody(t *testing.T) {
	var gotBody string
	var gotContentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := Config{URL: srv.URL, Key: "secretkey", UploadQue: queue.NewBounded[model.UploadBatch](1)}
	w := NewWorker(cfg, log.NewEntry(log.New()))

	w.post(context.Background(), model.UploadBatch{Filename: "sum20260731-test.txt", Body: "BR,E7,150\n"})

	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	assert.Contains(t, gotBody, "key=secretkey")
	assert.Contains(t, gotBody, "fname=sum20260731-test.txt")
	assert.Contains(t, gotBody, "type=text")
}

func TestPostSurvivesUnreachableServer(t *testing.T) {
	cfg := Config{URL: "http://127.0.0.1:1", Key: "k", UploadQue: queue.NewBounded[model.UploadBatch](1)}
	w := NewWorker(cfg, log.NewEntry(log.New()))

	assert.NotPanics(t, func() {
		w.post(context.Background(), model.UploadBatch{Filename: "f", Body: "d"})
	})
}

func TestPostLogsOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := Config{URL: srv.URL, Key: "k", UploadQue: queue.NewBounded[model.UploadBatch](1)}
	logger, hook := logtest.NewNullLogger()
	w := NewWorker(cfg, log.NewEntry(logger))
	require.NotNil(t, w)

	assert.NotPanics(t, func() {
		w.post(context.Background(), model.UploadBatch{Filename: "f", Body: "d"})
	})
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.WarnLevel, entry.Level)
	assert.Equal(t, http.StatusInternalServerError, entry.Data["status"])
}
