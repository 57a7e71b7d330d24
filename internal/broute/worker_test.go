package broute

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjmat/keilog/internal/echonet"
	"github.com/kjmat/keilog/internal/model"
	"github.com/kjmat/keilog/internal/queue"
)

func newTestWorker() *Worker {
	cfg := Config{RecordQue: queue.NewBounded[model.Sample](10)}
	w := NewWorker(cfg, log.NewEntry(log.New()))
	w.dev = nil // accept() never touches w.dev
	return w
}

func frameWith(props ...echonet.Property) *echonet.Frame {
	return &echonet.Frame{
		SEOJ:       echonet.SmartMeterObject,
		DEOJ:       echonet.ControllerObject,
		ESV:        echonet.ServiceGetResponse,
		Properties: props,
	}
}

func TestAcceptInstantaneousPower(t *testing.T) {
	w := newTestWorker()
	w.accept(frameWith(echonet.Property{EPC: 0xE7, EDT: []byte{0x00, 0x00, 0x01, 0x2C}}))

	s, ok := w.cfg.RecordQue.Get(context.Background(), 50*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, "E7", s.SensorID)
	assert.Equal(t, float64(300), s.Value)
}

func TestAcceptCumulativeEnergyWithCalibration(t *testing.T) {
	w := newTestWorker()
	w.accept(frameWith(echonet.Property{EPC: 0xD3, EDT: []byte{0x01}}))
	w.accept(frameWith(echonet.Property{EPC: 0xE1, EDT: []byte{0x00}})) // unit 0x00 => 1.0
	drain(w)

	w.accept(frameWith(echonet.Property{EPC: 0xE0, EDT: []byte{0x00, 0x00, 0x00, 0xC8}})) // 200
	s := lastSample(t, w)
	assert.Equal(t, "E0", s.SensorID)
	assert.Equal(t, float64(200), s.Value)
}

func TestAcceptScheduledCumulative(t *testing.T) {
	w := newTestWorker()
	edt := []byte{0x07, 0xE8, 1, 15, 12, 30, 0, 0x00, 0x00, 0x00, 0x64}
	w.accept(frameWith(echonet.Property{EPC: 0xEA, EDT: edt}))
	s := lastSample(t, w)
	assert.Equal(t, "EA", s.SensorID)
}

func TestAcceptUnexpectedSEOJDropped(t *testing.T) {
	w := newTestWorker()
	frame := frameWith(echonet.Property{EPC: 0xE7, EDT: []byte{0x01}})
	frame.SEOJ = echonet.ControllerObject
	w.accept(frame)
	assert.Equal(t, 0, w.cfg.RecordQue.Len())
}

func TestUnitForKnownAndUnknownCodes(t *testing.T) {
	assert.Equal(t, 1.0, unitFor(0x00))
	assert.Equal(t, 0.001, unitFor(0x03))
	assert.Equal(t, 10000.0, unitFor(0x0D))
	assert.Equal(t, 0.1, unitFor(0xFF))
}

func TestDecodeUint(t *testing.T) {
	assert.Equal(t, 0x0102, decodeUint([]byte{0x01, 0x02}))
}

func drain(w *Worker) {
	for w.cfg.RecordQue.Len() > 0 {
		w.cfg.RecordQue.Get(context.Background(), 50*time.Millisecond)
	}
}

func lastSample(t *testing.T, w *Worker) model.Sample {
	t.Helper()
	s, ok := w.cfg.RecordQue.Get(context.Background(), 50*time.Millisecond)
	require.True(t, ok)
	return s
}
