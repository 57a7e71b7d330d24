// Package config loads the daemon's ini-file configuration into WorkerSpec
// values the supervisor can instantiate. Parsing follows the section-driven
// style used for EDS files in the CANopen object dictionary loader: iterate
// sections, switch on a discriminator key, populate a typed struct.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// Global holds daemon-wide settings read from the "[global]" section.
type Global struct {
	LogFile  string
	LogLevel string
	PidFile  string
}

// BrouteSpec configures a B-route worker.
type BrouteSpec struct {
	Name      string
	Port      string
	Baudrate  int
	BrouteID  string
	BroutePwd string
	ScanCache string
}

// SerialSpec configures a generic serial worker.
type SerialSpec struct {
	Name     string
	Port     string
	Baudrate int
	Bounds   []OutlierBound
}

// OutlierBound configures one sensor's domain/variation check.
type OutlierBound struct {
	Unit      string
	Sensor    string
	Min       float64
	Max       float64
	Variation float64
}

// RecorderSpec configures the recorder worker.
type RecorderSpec struct {
	Name      string
	FnameBase string
	Upload    bool
	DispSlots []DisplaySpec
}

// DisplaySpec configures one recorder display snapshot slot.
type DisplaySpec struct {
	FileNumber string
	Unit       string
	Sensor     string
}

// UploaderSpec configures the HTTP uploader worker.
type UploaderSpec struct {
	Name string
	URL  string
	Key  string
}

// Workers is the fully parsed set of worker specs, grouped by kind. A
// deployment typically configures zero or one of each reader kind feeding
// a single recorder, with the uploader optional.
type Workers struct {
	Broutes   []BrouteSpec
	Serials   []SerialSpec
	Recorders []RecorderSpec
	Uploaders []UploaderSpec
}

// Load reads an ini file at path and returns the global settings and
// worker specs it declares.
func Load(path string) (Global, Workers, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return Global{}, Workers{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	global := Global{
		LogFile:  cfg.Section("global").Key("log_file").MustString("keilog.log"),
		LogLevel: cfg.Section("global").Key("log_level").MustString("info"),
		PidFile:  cfg.Section("global").Key("pid_file").MustString(""),
	}

	var workers Workers

	for _, section := range cfg.Sections() {
		name := section.Name()
		if name == ini.DefaultSection || name == "global" {
			continue
		}

		kind, instance, ok := splitWorkerSection(name)
		if !ok {
			continue
		}

		switch kind {
		case "broute":
			spec, err := parseBroute(instance, section)
			if err != nil {
				return Global{}, Workers{}, err
			}
			workers.Broutes = append(workers.Broutes, spec)

		case "serial":
			spec, err := parseSerial(instance, section)
			if err != nil {
				return Global{}, Workers{}, err
			}
			workers.Serials = append(workers.Serials, spec)

		case "recorder":
			spec, err := parseRecorder(instance, section)
			if err != nil {
				return Global{}, Workers{}, err
			}
			workers.Recorders = append(workers.Recorders, spec)

		case "uploader":
			spec, err := parseUploader(instance, section)
			if err != nil {
				return Global{}, Workers{}, err
			}
			workers.Uploaders = append(workers.Uploaders, spec)

		default:
			return Global{}, Workers{}, fmt.Errorf("config: unknown worker kind %q in section [%s]", kind, name)
		}
	}

	return global, workers, nil
}

// splitWorkerSection splits a "kind \"instance\"" section header, the ini.v1
// quoted-subsection convention, into its kind and instance name.
func splitWorkerSection(name string) (kind, instance string, ok bool) {
	idx := strings.IndexByte(name, ' ')
	if idx < 0 {
		return "", "", false
	}
	kind = name[:idx]
	instance = strings.Trim(strings.TrimSpace(name[idx+1:]), `"`)
	if instance == "" {
		return "", "", false
	}
	return kind, instance, true
}

func parseBroute(name string, s *ini.Section) (BrouteSpec, error) {
	baud, err := s.Key("baudrate").Int()
	if err != nil {
		baud = 115200
	}
	return BrouteSpec{
		Name:      name,
		Port:      s.Key("port").String(),
		Baudrate:  baud,
		BrouteID:  s.Key("broute_id").String(),
		BroutePwd: s.Key("broute_pwd").String(),
		ScanCache: s.Key("scan_cache").MustString("scancache.json"),
	}, nil
}

func parseSerial(name string, s *ini.Section) (SerialSpec, error) {
	baud, err := s.Key("baudrate").Int()
	if err != nil {
		baud = 9600
	}
	spec := SerialSpec{Name: name, Port: s.Key("port").String(), Baudrate: baud}

	for _, key := range s.Keys() {
		// "bound.<unit>.<sensor> = min,max,variation"
		if !strings.HasPrefix(key.Name(), "bound.") {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(key.Name(), "bound."), ".", 2)
		if len(parts) != 2 {
			continue
		}
		nums := strings.Split(key.String(), ",")
		if len(nums) != 3 {
			return SerialSpec{}, fmt.Errorf("config: malformed bound %q in [%s]", key.Name(), name)
		}
		min, err1 := strconv.ParseFloat(strings.TrimSpace(nums[0]), 64)
		max, err2 := strconv.ParseFloat(strings.TrimSpace(nums[1]), 64)
		variation, err3 := strconv.ParseFloat(strings.TrimSpace(nums[2]), 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return SerialSpec{}, fmt.Errorf("config: non-numeric bound %q in [%s]", key.Name(), name)
		}
		spec.Bounds = append(spec.Bounds, OutlierBound{Unit: parts[0], Sensor: parts[1], Min: min, Max: max, Variation: variation})
	}

	return spec, nil
}

func parseRecorder(name string, s *ini.Section) (RecorderSpec, error) {
	spec := RecorderSpec{
		Name:      name,
		FnameBase: s.Key("fname_base").MustString(name),
		Upload:    s.Key("upload").MustBool(false),
	}
	for _, key := range s.Keys() {
		if !strings.HasPrefix(key.Name(), "disp.") {
			continue
		}
		fileNumber := strings.TrimPrefix(key.Name(), "disp.")
		parts := strings.SplitN(key.String(), ",", 2)
		if len(parts) != 2 {
			return RecorderSpec{}, fmt.Errorf("config: malformed disp slot %q in [%s]", key.Name(), name)
		}
		spec.DispSlots = append(spec.DispSlots, DisplaySpec{
			FileNumber: fileNumber,
			Unit:       strings.TrimSpace(parts[0]),
			Sensor:     strings.TrimSpace(parts[1]),
		})
	}
	return spec, nil
}

func parseUploader(name string, s *ini.Section) (UploaderSpec, error) {
	return UploaderSpec{
		Name: name,
		URL:  s.Key("url").String(),
		Key:  s.Key("key").String(),
	}, nil
}
