package serialline

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjmat/keilog/internal/model"
	"github.com/kjmat/keilog/internal/queue"
)

func newTestWorker() *Worker {
	cfg := Config{RecordQue: queue.NewBounded[model.Sample](10)}
	return NewWorker(cfg, log.NewEntry(log.New()))
}

func TestHandleLineValidEnqueues(t *testing.T) {
	w := newTestWorker()
	w.handleLine("U1,tempA,21.5,7")
	require.Equal(t, 1, w.cfg.RecordQue.Len())
}

func TestHandleLineSynthesizesDataID(t *testing.T) {
	w := newTestWorker()
	w.handleLine("U1,tempA,21.5")
	require.Equal(t, 1, w.cfg.RecordQue.Len())
}

func TestHandleLineRejectsBadCharset(t *testing.T) {
	w := newTestWorker()
	w.handleLine("U1,tempA,21.5,7$$$")
	assert.Equal(t, 0, w.cfg.RecordQue.Len())
}

func TestHandleLineRejectsIncomplete(t *testing.T) {
	w := newTestWorker()
	w.handleLine("U1,tempA")
	assert.Equal(t, 0, w.cfg.RecordQue.Len())
}

func TestHandleLineRejectsNonNumericValue(t *testing.T) {
	w := newTestWorker()
	w.handleLine("U1,tempA,notanumber,1")
	assert.Equal(t, 0, w.cfg.RecordQue.Len())
}

func TestHandleLineDropsDuplicate(t *testing.T) {
	w := newTestWorker()
	w.handleLine("U1,tempA,21.5,7")
	w.handleLine("U1,tempA,21.5,7")
	assert.Equal(t, 1, w.cfg.RecordQue.Len())
}

func TestHandleLineChecksOutlier(t *testing.T) {
	checker := NewOutlierChecker()
	checker.Add("U1", "tempA", 0, 10, 1)
	cfg := Config{RecordQue: queue.NewBounded[model.Sample](10), Checker: checker}
	w := NewWorker(cfg, log.NewEntry(log.New()))

	w.handleLine("U1,tempA,500,1")
	assert.Equal(t, 0, w.cfg.RecordQue.Len())
}
