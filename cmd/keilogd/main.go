// Command keilogd is the long-running telemetry acquisition daemon: it
// loads an ini config, wires a worker per configured reader/recorder/
// uploader section, and runs them under a supervisor until signalled to
// stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/kjmat/keilog/internal/broute"
	"github.com/kjmat/keilog/internal/config"
	"github.com/kjmat/keilog/internal/model"
	"github.com/kjmat/keilog/internal/queue"
	"github.com/kjmat/keilog/internal/recorder"
	"github.com/kjmat/keilog/internal/serialline"
	"github.com/kjmat/keilog/internal/supervisor"
	"github.com/kjmat/keilog/internal/uploader"
	"github.com/kjmat/keilog/internal/worker"
)

const queueCapacity = 50

func main() {
	var (
		configPath = flag.String("config", "/etc/keilog.ini", "path to configuration file")
		debug      = flag.Bool("debug", false, "enable debug logging")
		version    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("keilogd (dev build)")
		return
	}

	baseLogger := log.New()
	baseLogger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *debug || os.Getenv("DEBUG") != "" {
		baseLogger.SetLevel(log.DebugLevel)
	}
	logger := log.NewEntry(baseLogger)

	global, workers, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("cannot load configuration")
	}
	if global.LogLevel == "debug" && !*debug {
		baseLogger.SetLevel(log.DebugLevel)
	}

	recordQue := queue.NewBounded[model.Sample](queueCapacity)
	uploadQue := queue.NewBounded[model.UploadBatch](queueCapacity)
	dispQue := queue.NewBounded[model.DisplaySample](queueCapacity)

	sup := supervisor.New(logger)

	for _, spec := range workers.Broutes {
		spec := spec
		entry := logger.WithField("worker", spec.Name)
		sup.Add(spec.Name, func() worker.Worker {
			return broute.NewWorker(broute.Config{
				Port:      spec.Port,
				Baudrate:  spec.Baudrate,
				BrouteID:  spec.BrouteID,
				BroutePwd: spec.BroutePwd,
				ScanCache: spec.ScanCache,
				RecordQue: recordQue,
			}, entry)
		})
	}

	for _, spec := range workers.Serials {
		spec := spec
		entry := logger.WithField("worker", spec.Name)
		checker := serialline.NewOutlierChecker()
		for _, b := range spec.Bounds {
			checker.Add(b.Unit, b.Sensor, b.Min, b.Max, b.Variation)
		}
		sup.Add(spec.Name, func() worker.Worker {
			return serialline.NewWorker(serialline.Config{
				Port:      spec.Port,
				Baudrate:  spec.Baudrate,
				RecordQue: recordQue,
				Checker:   checker,
			}, entry)
		})
	}

	for _, spec := range workers.Recorders {
		spec := spec
		entry := logger.WithField("worker", spec.Name)
		var slots []recorder.DisplaySlot
		for _, d := range spec.DispSlots {
			slots = append(slots, recorder.DisplaySlot{FileNumber: d.FileNumber, UnitID: d.Unit, SensorID: d.Sensor})
		}
		cfg := recorder.Config{
			RecordQue: recordQue,
			FnameBase: spec.FnameBase,
			DispSlots: slots,
			DispQue:   dispQue,
		}
		if spec.Upload {
			cfg.UploadQue = uploadQue
		}
		sup.Add(spec.Name, func() worker.Worker {
			return recorder.NewRecorder(cfg, entry)
		})
	}

	for _, spec := range workers.Uploaders {
		spec := spec
		entry := logger.WithField("worker", spec.Name)
		sup.Add(spec.Name, func() worker.Worker {
			return uploader.NewWorker(uploader.Config{
				URL:       spec.URL,
				Key:       spec.Key,
				UploadQue: uploadQue,
			}, entry)
		})
	}

	logger.Info("keilogd starting")
	sup.Run(context.Background(), baseLogger)
	logger.Info("keilogd stopped")
}
