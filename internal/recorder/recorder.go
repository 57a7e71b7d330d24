// Package recorder implements the single consumer of the record queue: it
// appends every sample to a daily raw file, accumulates 10-minute per-key
// averages, and (optionally) forwards the averaged batch to the uploader.
package recorder

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kjmat/keilog/internal/model"
	"github.com/kjmat/keilog/internal/queue"
	"github.com/kjmat/keilog/internal/worker"
)

const pollTimeout = 3 * time.Second

// DisplaySlot maps a (unit, sensor) pair onto a numbered /tmp/DISP<n>.txt
// snapshot slot — the original's disp_def feature, supplemented back in
// from original_source/keilib/recorder.py (the distillation dropped it).
type DisplaySlot struct {
	FileNumber string
	UnitID     string
	SensorID   string
}

type accumulator struct {
	count int
	sum   float64
}

// Config carries a Recorder's construction arguments.
type Config struct {
	RecordQue  *queue.Bounded[model.Sample]
	FnameBase  string
	UploadQue  *queue.Bounded[model.UploadBatch] // optional
	DispSlots  []DisplaySlot                     // optional
	DispQue    *queue.Bounded[model.DisplaySample]
}

// Recorder is the C6 worker.
type Recorder struct {
	worker.Base

	cfg Config
	log *log.Entry

	sums map[string]map[string]*accumulator

	date       string
	clock      string
	key01m     string
	key10m     string
	key10mPrev string
}

// NewRecorder constructs a Recorder from cfg.
func NewRecorder(cfg Config, logger *log.Entry) *Recorder {
	r := &Recorder{
		Base: worker.NewBase(),
		cfg:  cfg,
		log:  logger,
		sums: map[string]map[string]*accumulator{},
	}
	r.updateTimestamp()
	r.key10mPrev = r.key10m
	return r
}

func (r *Recorder) updateTimestamp() {
	now := time.Now()
	r.date = now.Format("2006/01/02")
	r.clock = now.Format("15:04:05")
	r.key01m = now.Format("20060102150405")
	r.key10m = bucketKey(r.key01m)
}

// bucketKey truncates a YYYYMMDDHHMMSS timestamp key to its 10-minute
// bucket: the first 11 characters (…HHM) with the trailing minute digit
// forced to zero, exactly as original_source/keilib/recorder.py's
// key01m[:11] + '0'.
func bucketKey(key01m string) string {
	return key01m[:11] + "0"
}

// Run drains the record queue, flushing 10-minute aggregates on bucket
// transitions, until stopped.
func (r *Recorder) Run(ctx context.Context) {
	r.MarkStarted()
	defer r.MarkDone()
	r.log.Info("[START]")

	for !r.ShouldStop() && ctx.Err() == nil {
		r.updateTimestamp()
		if r.key10m != r.key10mPrev {
			r.flush10m()
		}

		sample, ok := r.cfg.RecordQue.Get(ctx, pollTimeout)
		if !ok {
			continue
		}

		r.updateTimestamp()
		r.writeLine(sample)
	}

	r.log.Info("[STOP]")
}

func (r *Recorder) flush10m() {
	var data string
	for unit, sensors := range r.sums {
		for sensor, acc := range sensors {
			if acc.count == 0 {
				continue
			}
			avg := acc.sum / float64(acc.count)
			data += fmt.Sprintf("%s,%s,%s,%v\n", dateFromBucket(r.key10mPrev), unit, sensor, avg)
		}
	}

	if data != "" {
		filename := "sum" + r.key10mPrev[:8] + "-" + r.cfg.FnameBase + ".txt"
		if err := appendFile(filename, data); err != nil {
			r.log.WithError(err).Error("failed to write 10-minute aggregate")
		}
		if r.cfg.UploadQue != nil {
			if !r.cfg.UploadQue.Put(model.UploadBatch{Filename: filename, Body: data}) {
				r.log.Warn("upload queue full, dropping batch")
			}
		}
	}

	r.sums = map[string]map[string]*accumulator{}
	r.key10mPrev = r.key10m
}

// dateFromBucket renders a YYYYMMDDHHM0 bucket key as "YYYY/MM/DD HH:M0".
func dateFromBucket(bucket string) string {
	return bucket[0:4] + "/" + bucket[4:6] + "/" + bucket[6:8] + " " + bucket[8:10] + ":" + bucket[10:12]
}

func (r *Recorder) writeLine(s model.Sample) {
	unitSums, ok := r.sums[s.UnitID]
	if !ok {
		unitSums = map[string]*accumulator{}
		r.sums[s.UnitID] = unitSums
	}
	acc, ok := unitSums[s.SensorID]
	if !ok {
		acc = &accumulator{}
		unitSums[s.SensorID] = acc
	}
	acc.count++
	acc.sum += s.Value

	line := fmt.Sprintf("%s %s,%s,%s,%s,%s\n", r.date, r.clock, s.UnitID, s.SensorID, roundTo(s.Value, 4), s.DataID)
	filename := r.key01m[:8] + "-" + r.cfg.FnameBase + ".txt"
	if err := appendFile(filename, line); err != nil {
		r.log.WithError(err).Error("failed to write sample")
	}

	r.sendDisplay(s)
}

func (r *Recorder) sendDisplay(s model.Sample) {
	for _, slot := range r.cfg.DispSlots {
		if slot.UnitID != s.UnitID || slot.SensorID != s.SensorID {
			continue
		}
		if r.cfg.DispQue != nil {
			if !r.cfg.DispQue.Put(model.DisplaySample{Slot: slot.FileNumber, UnitID: s.UnitID, SensorID: s.SensorID, Value: s.Value}) {
				r.log.Debug("display queue full")
			}
		}
		filename := "/tmp/DISP" + slot.FileNumber + ".txt"
		content := fmt.Sprintf("%s,%s,%v\n", s.UnitID, s.SensorID, s.Value)
		if err := os.WriteFile(filename, []byte(content), 0o644); err != nil {
			r.log.WithError(err).Debug("failed to write display snapshot")
		}
		return
	}
}

func appendFile(filename, data string) error {
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(data)
	return err
}

func roundTo(v float64, places int) string {
	format := fmt.Sprintf("%%.%df", places)
	s := fmt.Sprintf(format, v)
	return trimTrailingZeros(s)
}

// trimTrailingZeros drops insignificant trailing zeros (and a bare trailing
// dot) so e.g. 12.3000 renders as 12.3, matching Python's round()+str()
// behavior closely enough for a human-readable log line.
func trimTrailingZeros(s string) string {
	if !containsDot(s) {
		return s
	}
	end := len(s)
	for end > 0 && s[end-1] == '0' {
		end--
	}
	if end > 0 && s[end-1] == '.' {
		end--
	}
	return s[:end]
}

func containsDot(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return true
		}
	}
	return false
}
