package dongle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLineOK(t *testing.T) {
	ev := parseLine("OK\r\n")
	assert.Equal(t, KindOK, ev.Kind)
}

func TestParseLineFail(t *testing.T) {
	ev := parseLine("FAIL ER04\r\n")
	assert.Equal(t, KindFail, ev.Kind)
	assert.Equal(t, "ER04", ev.FailCode)
}

func TestParseLineEvent(t *testing.T) {
	ev := parseLine("EVENT 25 FE80:0000:0000:0000:021D:1290:0003:C890 0\r\n")
	assert.Equal(t, KindEvent, ev.Kind)
	assert.Equal(t, "25", ev.Num)
	assert.Equal(t, 25, eventNum(ev))
}

func TestParseLineContinuation(t *testing.T) {
	ev := parseLine("  Pan ID:8888\r\n")
	assert.Equal(t, KindContinuation, ev.Kind)
	assert.Equal(t, "Pan ID", ev.Key)
	assert.Equal(t, "8888", ev.Value)
}

func TestParseLineERXUDPSplitSenderLLAInvalid(t *testing.T) {
	line := "ERXUDP FE80:0000:0000:0000:021D:1290:0003:C890 FE80:0000:0000:0000:1234:5678:90AB:CDEF 0E1A 0E1A 001D129000 03C890 1 0 0004 12345678"
	ev := parseLine(line)
	assert.Equal(t, KindInvalidERXUDP, ev.Kind, "SENDERLLA must be 16 hex chars")
}

func TestParseLineERXUDPWellFormed(t *testing.T) {
	line := "ERXUDP FE80:0000:0000:0000:021D:1290:0003:C890 FE80:0000:0000:0000:1234:5678:90AB:CDEF 0E1A 0E1A 001D1290ABCD1234 1 0 0004 12345678"
	ev := parseLine(line)
	assert.Equal(t, KindERXUDP, ev.Kind)
	assert.Equal(t, "0004", ev.DataLen)
	assert.Equal(t, "12345678", ev.Data)
}

func TestParseLineERXUDPTruncated(t *testing.T) {
	ev := parseLine("ERXUDP TOO FEW TOKENS")
	assert.Equal(t, KindInvalidERXUDP, ev.Kind)
}

func TestParseLineNonASCII(t *testing.T) {
	ev := parseLine("OK\x80\r\n")
	assert.Equal(t, KindInvalid, ev.Kind)
}

func TestParseLineEmpty(t *testing.T) {
	ev := parseLine("\r\n")
	assert.Equal(t, KindEmpty, ev.Kind)
}

func TestParseLineOther(t *testing.T) {
	ev := parseLine("SOMETHINGELSE 1 2 3")
	assert.Equal(t, KindOther, ev.Kind)
}
