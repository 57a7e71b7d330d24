// Package serialline implements the generic ASCII-sensor-line serial worker
// (C5): the alternate, non-Wi-SUN configuration that feeds the recorder
// directly from "unit,sensor,value[,dataID]" lines.
package serialline

import (
	"bytes"
	"context"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/kjmat/keilog/internal/model"
	"github.com/kjmat/keilog/internal/queue"
	"github.com/kjmat/keilog/internal/worker"
)

// lineReader accumulates bytes off a timeout-bearing reader into newline
// terminated lines, tolerating the intermittent zero-byte reads a serial
// port's read timeout produces (unlike bufio.Reader, which treats too many
// consecutive zero-byte reads as io.ErrNoProgress).
type lineReader struct {
	r   interface{ Read([]byte) (int, error) }
	buf []byte
}

func newLineReader(r interface{ Read([]byte) (int, error) }) *lineReader {
	return &lineReader{r: r}
}

func (lr *lineReader) readLine() (line string, timedOut bool, err error) {
	if idx := bytes.IndexByte(lr.buf, '\n'); idx >= 0 {
		line = string(bytes.TrimRight(lr.buf[:idx], "\r"))
		lr.buf = lr.buf[idx+1:]
		return line, false, nil
	}
	tmp := make([]byte, 256)
	n, err := lr.r.Read(tmp)
	if err != nil {
		return "", false, err
	}
	if n == 0 {
		return "", true, nil
	}
	lr.buf = append(lr.buf, tmp[:n]...)
	return lr.readLine()
}

var (
	lineCharset = regexp.MustCompile(`^[A-Za-z0-9_;:., -]*$`)
	idCharset   = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
)

const (
	portPollInterval  = 60 * time.Second
	maxConsecutiveErr = 10
)

// Config carries a Worker's construction arguments.
type Config struct {
	Port      string
	Baudrate  int
	RecordQue *queue.Bounded[model.Sample]
	Checker   Checker // optional
}

// Worker reads validated ASCII sensor lines off a generic serial port.
type Worker struct {
	worker.Base

	cfg Config
	log *log.Entry

	recent   *recentRing
	dataID   int
	errCount int
}

// NewWorker constructs a generic serial worker from cfg.
func NewWorker(cfg Config, logger *log.Entry) *Worker {
	return &Worker{
		Base:   worker.NewBase(),
		cfg:    cfg,
		log:    logger,
		recent: newRecentRing(),
	}
}

// Run waits for the port to exist, then reads and validates lines until
// stopped.
func (w *Worker) Run(ctx context.Context) {
	w.MarkStarted()
	defer w.MarkDone()

	for !portExists(w.cfg.Port) {
		if w.waitOrStop(portPollInterval) {
			return
		}
		w.log.WithField("port", w.cfg.Port).Warn("port not found")
	}

	cfg := &serial.Config{
		Name:        w.cfg.Port,
		Baud:        w.cfg.Baudrate,
		ReadTimeout: 100 * time.Millisecond,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		w.log.WithError(err).Error("cannot open serial port")
		return
	}
	defer port.Close()

	w.log.WithFields(log.Fields{"port": w.cfg.Port, "baud": w.cfg.Baudrate}).Info("[START]")
	reader := newLineReader(port)

	for !w.ShouldStop() && ctx.Err() == nil {
		line, timedOut, err := reader.readLine()
		if err != nil {
			w.log.WithError(err).Warn("serial read error")
			w.errCount++
			if w.errCount > maxConsecutiveErr {
				break
			}
			time.Sleep(5 * time.Second)
			continue
		}
		w.errCount = 0
		if timedOut {
			continue
		}
		w.handleLine(line)
	}

	w.log.WithField("port", w.cfg.Port).Info("[STOP]")
}

func (w *Worker) handleLine(raw string) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return
	}
	if !lineCharset.MatchString(line) {
		w.log.WithField("line", line).Warn("invalid characters in received data")
		return
	}

	fields := strings.Split(line, ",")
	if len(fields) < 3 {
		w.log.WithField("line", line).Warn("incomplete data")
		return
	}

	unit := strings.TrimSpace(fields[0])
	sensor := strings.TrimSpace(fields[1])
	valueStr := strings.TrimSpace(fields[2])

	var dataID string
	if len(fields) > 3 {
		dataID = strings.TrimSpace(fields[3])
	} else {
		dataID = strconv.Itoa(w.dataID)
		w.dataID++
		if w.dataID > 100 {
			w.dataID = 0
		}
	}

	if !idCharset.MatchString(unit) {
		w.log.WithField("unit", unit).Warn("invalid unit id")
		return
	}
	if !idCharset.MatchString(sensor) {
		w.log.WithField("sensor", sensor).Warn("invalid sensor id")
		return
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		w.log.WithField("value", valueStr).Warn("invalid numeric value")
		return
	}

	dedupKey := unit + "," + sensor + "," + valueStr + "," + dataID
	if w.recent.Seen(dedupKey) {
		w.log.WithField("data", dedupKey).Debug("duplicate data, dropping")
		return
	}
	w.recent.Add(dedupKey)

	if w.cfg.Checker != nil && !w.cfg.Checker.Check(unit, sensor, value) {
		w.log.WithFields(log.Fields{"unit": unit, "sensor": sensor, "value": value}).Error("sensor value outlier")
		return
	}

	sample := model.Sample{UnitID: unit, SensorID: sensor, Value: value, DataID: dataID}
	if !w.cfg.RecordQue.Put(sample) {
		w.log.Error("record queue is full")
	}
}

func (w *Worker) waitOrStop(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-w.Stopping():
		return true
	}
}

func portExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
