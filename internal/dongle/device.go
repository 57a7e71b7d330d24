// Package dongle implements the AT-style command/event dialogue with a
// RL7023-class Wi-SUN "SKSTACK IP" dongle: the serial line parser (event.go),
// the scan-result cache (scancache.go), and the blocking command operations
// (this file) the B-route worker drives through its state machine.
package dongle

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/kjmat/keilog/internal/echonet"
)

const (
	timeoutMax  = 20  // readline iterations before a command times out
	timeoutScan = 300 // readline iterations before a scan times out
)

// registerTags lists the SKSREG tags GetRegisters dumps, in the same order
// original_source/keilib/broute.py's sorted(reginfo.items()) iterates them.
var registerTags = []string{
	"S01", "S02", "S03", "S07", "S0A", "S0B", "S15", "S16", "S17",
	"S1C", "S1F", "SA1", "SA2", "SA9", "SF0", "SFB", "SFD", "SFE", "SFF",
}

var (
	ErrTimeout       = errors.New("dongle: command timed out")
	ErrFail          = errors.New("dongle: device returned FAIL")
	ErrJoinFailed    = errors.New("dongle: PANA join failed (EVENT 24)")
	ErrScanIncomplete = errors.New("dongle: scan result missing required keys")
	ErrNotOpen       = errors.New("dongle: port not open")
)

// Device is a thin, synchronous owner of one Wi-SUN dongle's serial port.
// It is never shared: the B-route worker is its sole owner.
type Device struct {
	portName string
	baud     int
	log      *log.Entry

	port     *serial.Port
	lines    *lineReader
	register map[string]string
	ipv6Addr string
}

// NewDevice constructs a driver for the dongle at portName/baud. Open must
// be called before any other operation.
func NewDevice(portName string, baud int, logger *log.Entry) *Device {
	return &Device{portName: portName, baud: baud, log: logger, register: map[string]string{}}
}

// Open configures the serial port at 115200 8N1 (or whatever baud is
// configured) with no flow control and a 1s read timeout.
func (d *Device) Open() error {
	cfg := &serial.Config{
		Name:        d.portName,
		Baud:        d.baud,
		ReadTimeout: time.Second,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return err
	}
	d.port = port
	d.lines = newLineReader(port)
	d.log.WithFields(log.Fields{"port": d.portName, "baud": d.baud}).Info("dongle opened")
	return nil
}

// Close releases the serial port.
func (d *Device) Close() error {
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	d.lines = nil
	d.log.Info("dongle closed")
	return err
}

func (d *Device) writeCommand(cmd string) error {
	if d.port == nil {
		return ErrNotOpen
	}
	d.log.Debug(strings.TrimSpace(cmd))
	_, err := d.port.Write([]byte(cmd + "\r\n"))
	return err
}

// waitOK reads lines until it sees "OK" (success), "FAIL <code>" (failure),
// or times out after timeoutMax empty reads. Per the preserved open
// question in SPEC_FULL.md, non-OK non-empty lines (echoes, unsolicited
// events) are read and discarded but do NOT count against the timeout.
func (d *Device) waitOK() error {
	toc := 0
	for {
		line, timedOut, err := d.lines.readLine()
		if err != nil {
			return err
		}
		if timedOut {
			toc++
			if toc > timeoutMax {
				return ErrTimeout
			}
			continue
		}
		ev := parseLine(line)
		switch ev.Kind {
		case KindOK:
			return nil
		case KindFail:
			return fmt.Errorf("%w: %s", ErrFail, ev.FailCode)
		default:
			// echoed command, unrelated event: skip and keep waiting.
		}
	}
}

// Reset sends SKRESET and waits for OK.
func (d *Device) Reset() error {
	if err := d.writeCommand("SKRESET"); err != nil {
		return err
	}
	return d.waitOK()
}

// Setup registers the B-route password and ID with the dongle.
func (d *Device) Setup(id, pwd string) error {
	if err := d.writeCommand("SKSETPWD C " + pwd); err != nil {
		return err
	}
	if err := d.waitOK(); err != nil {
		return err
	}
	if err := d.writeCommand("SKSETRBID " + id); err != nil {
		return err
	}
	return d.waitOK()
}

// GetRegisters dumps the dongle's diagnostic register set for logging.
func (d *Device) GetRegisters() (map[string]string, error) {
	for _, tag := range registerTags {
		if err := d.writeCommand("SKSREG " + tag); err != nil {
			return nil, err
		}
		nonTerminator := 0
		for {
			line, timedOut, err := d.lines.readLine()
			if err != nil {
				return nil, err
			}
			if timedOut {
				nonTerminator++
				if nonTerminator > 5 {
					break
				}
				continue
			}
			ev := parseLine(line)
			if ev.Kind == KindESREG {
				d.register[tag] = ev.RegValue
				d.log.WithFields(log.Fields{"register": tag, "value": ev.RegValue}).Info("register")
			}
			if ev.Kind == KindOK {
				break
			}
			nonTerminator++
			if nonTerminator > 5 {
				break
			}
		}
	}
	return d.register, nil
}

// Scan consults cache for a fresh PAN descriptor, falling back to a
// physical active scan; on success it programs the dongle's PAN ID and
// channel registers and resolves the peer's IPv6 address via SKLL64.
func (d *Device) Scan(cache *ScanCache) error {
	result, hit := cache.Load()
	if !hit {
		var err error
		result, err = d.scanExec(cache)
		if err != nil {
			return err
		}
	} else {
		d.log.Info("scan cache hit, skipping SKSCAN")
	}

	if !result.complete() {
		return ErrScanIncomplete
	}

	if err := d.setRegister("S3", result["Pan ID"]); err != nil {
		return err
	}
	if err := d.setRegister("S2", result["Channel"]); err != nil {
		return err
	}

	if err := d.writeCommand("SKLL64 " + result["Addr"]); err != nil {
		return err
	}
	if _, _, err := d.lines.readLine(); err != nil { // echo back, discarded
		return err
	}
	addr, _, err := d.lines.readLine()
	if err != nil {
		return err
	}
	d.ipv6Addr = strings.TrimSpace(addr)
	d.log.WithField("ipv6", d.ipv6Addr).Info("resolved peer address")
	return nil
}

func (d *Device) setRegister(reg, value string) error {
	if err := d.writeCommand("SKSREG " + reg + " " + value); err != nil {
		return err
	}
	return d.waitOK()
}

// scanExec drives an SKSCAN active-scan dialogue to completion, persisting
// the result to cache on success.
func (d *Device) scanExec(cache *ScanCache) (ScanResult, error) {
	const (
		mode     = 2
		mask     = "FFFFFFFF"
		duration = 7
		side     = 0
	)
	cmd := fmt.Sprintf("SKSCAN %d %s %d %d", mode, mask, duration, side)
	if err := d.writeCommand(cmd); err != nil {
		return nil, err
	}
	if err := d.waitOK(); err != nil {
		return nil, err
	}

	result := ScanResult{}
	toc := 0
	for {
		line, timedOut, err := d.lines.readLine()
		if err != nil {
			return nil, err
		}
		if timedOut {
			toc++
			if toc > timeoutScan {
				return nil, ErrTimeout
			}
			continue
		}

		ev := parseLine(line)
		switch ev.Kind {
		case KindEvent:
			if ev.Num == "22" {
				d.log.Info("active scan complete")
				goto scanned
			}
			if ev.Num == "20" {
				d.log.Debug("beacon received")
			}
		case KindEPANDESC:
			d.log.Debug("EPANDESC")
		case KindContinuation:
			result[ev.Key] = ev.Value
		default:
			d.log.WithField("line", line).Debug("unhandled scan event")
		}
	}
scanned:
	if !result.complete() {
		return nil, ErrScanIncomplete
	}
	if err := cache.Save(result); err != nil {
		d.log.WithError(err).Warn("failed to persist scan cache")
	}
	return result, nil
}

// Join drives SKJOIN (or SKREJOIN) to completion. Per the redesign note in
// SPEC_FULL.md §9, EVENT 25 is success and EVENT 24 is failure — the
// dongle's own documented meaning, not the original's inverted comment.
func (d *Device) Join(rejoin bool) error {
	cmd := "SKJOIN " + d.ipv6Addr
	if rejoin {
		cmd = "SKREJOIN"
	}
	if err := d.writeCommand(cmd); err != nil {
		return err
	}

	toc := 0
	for {
		line, timedOut, err := d.lines.readLine()
		if err != nil {
			return err
		}
		if timedOut {
			toc++
			if toc > timeoutMax {
				return ErrTimeout
			}
			continue
		}
		ev := parseLine(line)
		if ev.Kind == KindEvent {
			switch ev.Num {
			case "25":
				d.log.Info("EVENT 25: join succeeded")
				return nil
			case "24":
				d.log.Info("EVENT 24: join failed")
				return ErrJoinFailed
			default:
				d.log.WithField("num", ev.Num).Debug("EVENT")
			}
		} else {
			d.log.WithField("line", line).Debug("join: other event")
		}
	}
}

// Send builds and transmits an SKSENDTO command wrapping frame, reporting
// success iff an EVENT 21 (send result) preceded the terminating OK.
func (d *Device) Send(frame []byte) error {
	if d.port == nil {
		return ErrNotOpen
	}
	prefix := fmt.Sprintf("SKSENDTO 1 %s 0E1A 1 0 %04X ", d.ipv6Addr, len(frame))
	cmd := append([]byte(prefix), frame...)
	d.log.WithField("cmd", prefix+hexOf(frame)).Debug("send")
	if _, err := d.port.Write(cmd); err != nil {
		return err
	}

	sawEvent21 := false
	toc := 0
	for {
		line, timedOut, err := d.lines.readLine()
		if err != nil {
			return err
		}
		if timedOut {
			toc++
			if toc > timeoutMax {
				return ErrTimeout
			}
			continue
		}
		ev := parseLine(line)
		switch ev.Kind {
		case KindEvent:
			if ev.Num == "21" {
				sawEvent21 = true
			}
		case KindOK:
			if !sawEvent21 {
				return errors.New("dongle: send OK without EVENT 21")
			}
			return nil
		}
	}
}

// Receive reads one event off the wire; if it is a well-formed ERXUDP it is
// decoded into an echonet.Frame, otherwise (timeout, unrelated event,
// malformed ERXUDP) ok is false and the worker's polling loop simply tries
// again next iteration.
func (d *Device) Receive() (frame *echonet.Frame, ok bool, err error) {
	line, timedOut, err := d.lines.readLine()
	if err != nil {
		return nil, false, err
	}
	if timedOut {
		return nil, false, nil
	}
	ev := parseLine(line)
	if ev.Kind != KindERXUDP {
		if ev.Kind == KindInvalidERXUDP {
			d.log.WithField("raw", ev.Raw).Warn("malformed ERXUDP, dropping")
		}
		return nil, false, nil
	}
	frame, decErr := echonet.DecodeFrame(ev.DataLen, ev.Data)
	if decErr != nil {
		d.log.WithError(decErr).Warn("ECHONET frame decode error, dropping")
		return nil, false, nil
	}
	return frame, true, nil
}

// Term requests PANA session termination, accepting either a clean (EVENT
// 27) or timed-out (EVENT 28) termination as success.
func (d *Device) Term() error {
	if err := d.writeCommand("SKTERM"); err != nil {
		return err
	}
	if err := d.waitOK(); err != nil {
		return err
	}

	toc := 0
	for {
		line, timedOut, err := d.lines.readLine()
		if err != nil {
			return err
		}
		if timedOut {
			toc++
			if toc > timeoutMax {
				return ErrTimeout
			}
			continue
		}
		ev := parseLine(line)
		if ev.Kind == KindEvent {
			switch ev.Num {
			case "27":
				d.log.Info("EVENT 27: term succeeded")
				return nil
			case "28":
				d.log.Info("EVENT 28: term timed out, session terminated")
				return nil
			}
		}
	}
}

func hexOf(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}

// lineReader accumulates bytes read off the serial port (honouring the
// port's read timeout, which returns n=0 with no error when nothing
// arrived) into CRLF-terminated lines.
type lineReader struct {
	r   readerWithTimeout
	buf []byte
}

type readerWithTimeout interface {
	Read(p []byte) (int, error)
}

func newLineReader(r readerWithTimeout) *lineReader {
	return &lineReader{r: r}
}

// readLine returns the next line (without its terminator), or timedOut=true
// if the underlying read timeout elapsed before a newline arrived.
func (lr *lineReader) readLine() (line string, timedOut bool, err error) {
	for {
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
	}
}
