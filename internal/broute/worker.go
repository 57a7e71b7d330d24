// Package broute implements the B-route worker: the state machine that
// drives a dongle.Device through INIT → OPEN → SETUP → SCAN → JOIN and,
// once joined, periodically polls the smart meter and decodes its
// responses into model.Sample values for the recorder.
package broute

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kjmat/keilog/internal/dongle"
	"github.com/kjmat/keilog/internal/echonet"
	"github.com/kjmat/keilog/internal/model"
	"github.com/kjmat/keilog/internal/queue"
	"github.com/kjmat/keilog/internal/worker"
)

type state int

const (
	stateInit state = iota
	stateOpen
	stateSetup
	stateScan
	stateJoin
)

const (
	maxScanRetry = 5
	maxJoinRetry = 5

	instantaneousInterval = 10 * time.Second
	cumulativeInterval    = 120 * time.Second
	infoInterval          = 600 * time.Second
	receiveSilenceLimit   = 600 * time.Second

	errorBackoff = 5 * time.Second
	retryBackoff = 10 * time.Second
)

// Config carries a Worker's construction arguments — the Go analogue of the
// original's BrouteReader(broute_id, port, baudrate, broute_pwd, record_que)
// keyword arguments.
type Config struct {
	Port       string
	Baudrate   int
	BrouteID   string
	BroutePwd  string
	ScanCache  string // path to scancache.json
	RecordQue  *queue.Bounded[model.Sample]
}

// calibration mirrors the smart meter's self-reported scaling, cached
// between E0/EA/EB decodes.
type calibration struct {
	coefficient    int
	unit           float64
	effectiveDigits int
}

func defaultCalibration() calibration {
	return calibration{coefficient: 1, unit: 0.1, effectiveDigits: 6}
}

// Worker is the B-route worker (C4). It owns its dongle.Device exclusively.
type Worker struct {
	worker.Base

	cfg Config
	log *log.Entry
	dev *dongle.Device

	state state
	scanRetry int
	joinRetry int
	cal       calibration
	counter   echonet.Counter

	lastInstantaneous time.Time
	lastCumulative    time.Time
	lastInfo          time.Time
	lastReceive       time.Time
}

// NewWorker constructs a B-route worker from cfg.
func NewWorker(cfg Config, logger *log.Entry) *Worker {
	return &Worker{
		Base:  worker.NewBase(),
		cfg:   cfg,
		log:   logger,
		dev:   dongle.NewDevice(cfg.Port, cfg.Baudrate, logger),
		state: stateInit,
		cal:   defaultCalibration(),
	}
}

// Run executes the state machine until ctx is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) {
	w.MarkStarted()
	defer w.MarkDone()
	w.log.Info("[START]")

	for !w.ShouldStop() && ctx.Err() == nil {
		switch w.state {
		case stateInit:
			w.runInit()
		case stateOpen:
			w.runOpen()
		case stateSetup:
			w.runSetup()
		case stateScan:
			w.runScan()
		case stateJoin:
			w.runJoin()
		}
	}

	w.terminate()
	w.log.Info("[STOP]")
}

func (w *Worker) runInit() {
	if err := w.dev.Open(); err != nil {
		w.log.WithError(err).Error("cannot open dongle")
		sleepOrStop(w, errorBackoff)
		return
	}
	w.state = stateOpen
	w.log.Info("state => OPEN")
}

func (w *Worker) runOpen() {
	if err := w.dev.Reset(); err != nil {
		w.log.WithError(err).Error("cannot reset dongle")
		sleepOrStop(w, errorBackoff)
		return
	}
	if err := w.dev.Setup(w.cfg.BrouteID, w.cfg.BroutePwd); err != nil {
		w.log.WithError(err).Error("cannot setup dongle")
		sleepOrStop(w, errorBackoff)
		return
	}
	if _, err := w.dev.GetRegisters(); err != nil {
		w.log.WithError(err).Warn("failed to dump registers")
	}
	w.state = stateSetup
	w.log.Info("state => SETUP")
}

func (w *Worker) runSetup() {
	cache := dongle.NewScanCache(w.cfg.ScanCache, w.log)
	if err := w.dev.Scan(cache); err != nil {
		w.scanRetry++
		w.log.WithError(err).Errorf("scan failed, retry=%d", w.scanRetry)
		if w.scanRetry > maxScanRetry {
			w.scanRetry = 0
			w.dev.Close()
			w.state = stateInit
		}
		sleepOrStop(w, retryBackoff)
		return
	}
	w.state = stateScan
	w.scanRetry = 0
	w.log.Info("state => SCAN")
}

func (w *Worker) runScan() {
	if err := w.dev.Join(false); err != nil {
		w.joinRetry++
		w.log.WithError(err).Errorf("join failed, retry=%d", w.joinRetry)
		if w.joinRetry > maxJoinRetry {
			w.joinRetry = 0
			w.dev.Close()
			dongle.NewScanCache(w.cfg.ScanCache, w.log).Delete()
			w.state = stateInit
		}
		sleepOrStop(w, retryBackoff)
		return
	}
	w.state = stateJoin
	w.joinRetry = 0
	now := time.Now()
	w.lastReceive = now
	w.log.Info("state => JOIN")
}

func (w *Worker) runJoin() {
	now := time.Now()

	if now.Sub(w.lastInstantaneous) > instantaneousInterval {
		w.request([]byte{0xE7})
		w.lastInstantaneous = now
	}
	if now.Sub(w.lastCumulative) > cumulativeInterval {
		w.request([]byte{0xE0})
		w.lastCumulative = now
	}
	if now.Sub(w.lastInfo) > infoInterval {
		w.request([]byte{0xD3, 0xD7, 0xE1})
		w.lastInfo = now
	}

	frame, ok, err := w.dev.Receive()
	if err != nil {
		w.log.WithError(err).Error("fatal receive error")
		w.resetToInit()
		return
	}
	if ok && frame != nil {
		w.lastReceive = time.Now()
		w.accept(frame)
	}

	if time.Since(w.lastReceive) > receiveSilenceLimit {
		w.log.Error("no data received from smart meter in 600s, resetting")
		w.resetToInit()
	}
}

func (w *Worker) request(epcs []byte) {
	req := echonet.NewRequest(w.counter.Next(), epcs)
	if err := w.dev.Send(req.Encode()); err != nil {
		w.log.WithError(err).Warn("failed to send property request")
	}
}

func (w *Worker) resetToInit() {
	w.dev.Term()
	w.dev.Close()
	w.state = stateInit
	sleepOrStop(w, errorBackoff)
}

func (w *Worker) terminate() {
	w.dev.Term()
	w.dev.Close()
}

// accept processes an accepted response frame, emitting one Sample per
// recognized property onto the record queue.
func (w *Worker) accept(frame *echonet.Frame) {
	if !frame.IsSmartMeterResponse() {
		w.log.WithFields(log.Fields{"seoj": frame.SEOJ, "esv": frame.ESV}).Warn("unexpected SEOJ/ESV, dropping")
		return
	}

	for _, p := range frame.Properties {
		switch p.EPC {
		case 0xE7: // instantaneous power
			value := float64(decodeUint(p.EDT))
			w.emit("E7", value)

		case 0xE0: // cumulative energy
			value := w.scaledValue(p.EDT)
			w.emit("E0", value)

		case 0xD3: // coefficient
			v := decodeUint(p.EDT)
			w.cal.coefficient = v
			w.log.WithField("coefficient", v).Debug("calibration updated")
			w.emit("D3", float64(v))

		case 0xD7: // effective digits
			v := decodeUint(p.EDT)
			w.cal.effectiveDigits = v
			w.log.WithField("effective_digits", v).Debug("calibration updated")
			w.emit("D7", float64(v))

		case 0xE1: // unit map
			coded := decodeUint(p.EDT)
			w.cal.unit = unitFor(coded)
			w.log.WithField("unit", w.cal.unit).Debug("calibration updated")
			w.emit("E1", float64(coded))

		case 0xEA, 0xEB: // scheduled cumulative, forward/reverse
			if len(p.EDT) < 7 {
				w.log.WithField("epc", p.EPC).Warn("EA/EB property too short")
				continue
			}
			ts := decodeTimestamp(p.EDT[:7])
			value := w.scaledValue(p.EDT[7:])
			w.log.WithFields(log.Fields{"epc": p.EPC, "timestamp": ts, "value": value}).Info("scheduled cumulative")
			w.emit(epcName(p.EPC), value)

		default:
			w.log.WithField("epc", p.EPC).Warn("unknown property")
		}
	}
}

func (w *Worker) emit(epc string, value float64) {
	if !w.cfg.RecordQue.Put(model.Sample{UnitID: "BR", SensorID: epc, Value: value, DataID: "X"}) {
		w.log.WithField("epc", epc).Error("record queue full, dropping sample")
	}
}

func (w *Worker) scaledValue(edt []byte) float64 {
	return float64(decodeUint(edt)) * float64(w.cal.coefficient) * w.cal.unit
}

func decodeUint(edt []byte) int {
	v := 0
	for _, b := range edt {
		v = v<<8 | int(b)
	}
	return v
}

// unitFor maps the E1 unit-code byte to its scaling factor, defaulting to
// 0.1 for any unrecognized code (calibration drift handling, §7).
func unitFor(code int) float64 {
	switch code {
	case 0x00:
		return 1.0
	case 0x01:
		return 0.1
	case 0x02:
		return 0.01
	case 0x03:
		return 0.001
	case 0x04:
		return 0.0001
	case 0x0A:
		return 10.0
	case 0x0B:
		return 100.0
	case 0x0C:
		return 1000.0
	case 0x0D:
		return 10000.0
	default:
		return 0.1
	}
}

func decodeTimestamp(b []byte) string {
	year := int(b[0])<<8 | int(b[1])
	month, day, hour, minute, second := int(b[2]), int(b[3]), int(b[4]), int(b[5]), int(b[6])
	return fmt.Sprintf("%04d/%02d/%02d %02d:%02d:%02d", year, month, day, hour, minute, second)
}

func epcName(epc byte) string {
	switch epc {
	case 0xEA:
		return "EA"
	case 0xEB:
		return "EB"
	default:
		return "??"
	}
}

func sleepOrStop(w *Worker, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-w.Stopping():
	}
}
