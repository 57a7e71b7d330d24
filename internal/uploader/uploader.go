// Package uploader implements the HTTP forwarding worker (C7): it drains
// the upload queue and POSTs each aggregate batch to a collector endpoint,
// logging and dropping on any network failure rather than retrying.
package uploader

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kjmat/keilog/internal/model"
	"github.com/kjmat/keilog/internal/queue"
	"github.com/kjmat/keilog/internal/worker"
)

const (
	pollTimeout    = 3 * time.Second
	requestTimeout = 10 * time.Second
)

// Config carries a Worker's construction arguments.
type Config struct {
	URL       string
	Key       string
	UploadQue *queue.Bounded[model.UploadBatch]
}

// Worker is the C7 HTTP-post uploader.
type Worker struct {
	worker.Base

	cfg    Config
	log    *log.Entry
	client *http.Client
}

// NewWorker constructs an uploader from cfg.
func NewWorker(cfg Config, logger *log.Entry) *Worker {
	return &Worker{
		Base:   worker.NewBase(),
		cfg:    cfg,
		log:    logger,
		client: &http.Client{Timeout: requestTimeout},
	}
}

// Run drains the upload queue, POSTing each batch, until stopped.
func (w *Worker) Run(ctx context.Context) {
	w.MarkStarted()
	defer w.MarkDone()
	w.log.WithField("url", w.cfg.URL).Info("[START]")

	for !w.ShouldStop() && ctx.Err() == nil {
		batch, ok := w.cfg.UploadQue.Get(ctx, pollTimeout)
		if !ok {
			continue
		}
		w.post(ctx, batch)
	}

	w.log.Info("[STOP]")
}

func (w *Worker) post(ctx context.Context, batch model.UploadBatch) {
	form := url.Values{}
	form.Set("type", "text")
	form.Set("key", w.cfg.Key)
	form.Set("fname", batch.Filename)
	form.Set("data", batch.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		w.log.WithError(err).Error("failed to build upload request")
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.WithError(err).WithField("fname", batch.Filename).Warn("upload failed, dropping")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.log.WithFields(log.Fields{"fname": batch.Filename, "status": resp.StatusCode}).Warn("upload rejected, dropping")
	}
}
