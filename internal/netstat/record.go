package netstat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMalformedRecord is returned for kernel table lines that cannot be decoded
var ErrMalformedRecord = errors.New("malformed connection record")

// State is a TCP connection state as numbered by the kernel
type State uint8

const (
	StateUnknown State = iota
	StateEstablished
	StateSynSent
	StateSynRecv
	StateFinWait1
	StateFinWait2
	StateTimeWait
	StateClose
	StateCloseWait
	StateLastAck
	StateListen
	StateClosing
)

var stateNames = [...]string{
	"UNKNOWN",
	"ESTABLISHED",
	"SYN_SENT",
	"SYN_RECV",
	"FIN_WAIT1",
	"FIN_WAIT2",
	"TIME_WAIT",
	"CLOSE",
	"CLOSE_WAIT",
	"LAST_ACK",
	"LISTEN",
	"CLOSING",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return stateNames[StateUnknown]
}

// parseState maps the two hex digit "st" column; codes outside 01-0B are unknown
func parseState(code string) State {
	v, err := strconv.ParseUint(code, 16, 8)
	if err != nil || len(code) != 2 || v < uint64(StateEstablished) || v > uint64(StateClosing) {
		return StateUnknown
	}
	return State(v)
}

// ConnRecord is one decoded row of /proc/net/tcp or /proc/net/tcp6
type ConnRecord struct {
	LocalAddr  string
	LocalPort  int
	RemoteAddr string
	RemotePort int
	State      State
}

// ipv4MappedPrefix introduces an IPv4 address inside a tcp6 row
const ipv4MappedPrefix = "0000000000000000FFFF0000"

// DecodeAddress turns a kernel hex address into text. IPv4 (8 digits) and
// IPv4-mapped IPv6 (32 digits) become dotted quads; other IPv6 addresses are
// returned as they are.
func DecodeAddress(h string) (string, error) {
	switch {
	case len(h) == 8:
		return decodeIPv4(h)
	case len(h) == 32 && strings.EqualFold(h[:24], ipv4MappedPrefix):
		return decodeIPv4(h[24:])
	default:
		return h, nil
	}
}

// decodeIPv4 reads the four bytes in reverse group order (offsets 6,4,2,0)
func decodeIPv4(h string) (string, error) {
	var b strings.Builder
	for i, off := range [4]int{6, 4, 2, 0} {
		v, err := strconv.ParseUint(h[off:off+2], 16, 8)
		if err != nil {
			return "", fmt.Errorf("%w: bad address %q", ErrMalformedRecord, h)
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.FormatUint(v, 10))
	}
	return b.String(), nil
}

// decodeEndpoint splits "HEXADDR:HEXPORT"
func decodeEndpoint(field string) (string, int, error) {
	addrHex, portHex, ok := strings.Cut(field, ":")
	if !ok {
		return "", 0, fmt.Errorf("%w: bad endpoint %q", ErrMalformedRecord, field)
	}
	port, err := strconv.ParseUint(portHex, 16, 16)
	if err != nil {
		return "", 0, fmt.Errorf("%w: bad port %q", ErrMalformedRecord, field)
	}
	addr, err := DecodeAddress(addrHex)
	if err != nil {
		return "", 0, err
	}
	return addr, int(port), nil
}

// DecodeLine decodes one data line of a kernel TCP table
func DecodeLine(line string) (ConnRecord, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return ConnRecord{}, fmt.Errorf("%w: %d fields", ErrMalformedRecord, len(fields))
	}

	localAddr, localPort, err := decodeEndpoint(fields[1])
	if err != nil {
		return ConnRecord{}, err
	}
	remoteAddr, remotePort, err := decodeEndpoint(fields[2])
	if err != nil {
		return ConnRecord{}, err
	}

	return ConnRecord{
		LocalAddr:  localAddr,
		LocalPort:  localPort,
		RemoteAddr: remoteAddr,
		RemotePort: remotePort,
		State:      parseState(fields[3]),
	}, nil
}

// ParseTable decodes a whole kernel table. The header line is skipped and
// malformed lines are counted instead of aborting. A cancelled ctx stops the
// scan early and is returned as the error.
func ParseTable(ctx context.Context, r io.Reader) ([]ConnRecord, int, error) {
	var records []ConnRecord
	malformed := 0

	scanner := bufio.NewScanner(r)
	scanner.Scan() // header

	for n := 0; scanner.Scan(); n++ {
		if n%1024 == 0 && ctx.Err() != nil {
			return records, malformed, ctx.Err()
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := DecodeLine(line)
		if err != nil {
			malformed++
			continue
		}
		records = append(records, rec)
	}

	return records, malformed, scanner.Err()
}
