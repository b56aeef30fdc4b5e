package juice

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/AltFreq07/libjuice/internal/ice"
)

// CandidateLine is the wire form of one candidate, exchanged between peers
// over their own signaling channel (spec.md §6):
//
//	foundation component "UDP" priority ip port "typ" type [" raddr" related-ip " rport" related-port]
//
// e.g. "1 1 UDP 2130706431 192.0.2.1 54321 typ host".
type CandidateLine struct {
	Foundation     string
	Component      int
	Priority       uint32
	Address        net.IP
	Port           int
	Type           ice.CandidateType
	RelatedAddress net.IP
	RelatedPort    int
}

// String formats the candidate line per spec.md §6.
func (c CandidateLine) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d UDP %d %s %d typ %s",
		c.Foundation, c.Component, c.Priority, c.Address.String(), c.Port, c.Type)
	if c.RelatedAddress != nil {
		fmt.Fprintf(&b, " raddr %s rport %d", c.RelatedAddress.String(), c.RelatedPort)
	}
	return b.String()
}

// ParseCandidateLine reverses CandidateLine.String.
func ParseCandidateLine(line string) (CandidateLine, error) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return CandidateLine{}, errors.Errorf("juice: short candidate line %q", line)
	}
	if fields[2] != "UDP" && fields[2] != "udp" {
		return CandidateLine{}, errors.Errorf("juice: unsupported transport %q (TCP candidates are a non-goal)", fields[2])
	}
	if fields[6] != "typ" {
		return CandidateLine{}, errors.Errorf("juice: malformed candidate line %q", line)
	}

	component, err := strconv.Atoi(fields[1])
	if err != nil {
		return CandidateLine{}, errors.Wrap(err, "juice: parse component")
	}
	priority, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return CandidateLine{}, errors.Wrap(err, "juice: parse priority")
	}
	ip := net.ParseIP(fields[4])
	if ip == nil {
		return CandidateLine{}, errors.Errorf("juice: invalid address %q", fields[4])
	}
	port, err := strconv.Atoi(fields[5])
	if err != nil {
		return CandidateLine{}, errors.Wrap(err, "juice: parse port")
	}
	typ, err := ice.NewCandidateType(fields[7])
	if err != nil {
		return CandidateLine{}, err
	}

	c := CandidateLine{
		Foundation: fields[0],
		Component:  component,
		Priority:   uint32(priority),
		Address:    ip,
		Port:       port,
		Type:       typ,
	}

	rest := fields[8:]
	for i := 0; i+1 < len(rest); i += 2 {
		switch rest[i] {
		case "raddr":
			c.RelatedAddress = net.ParseIP(rest[i+1])
		case "rport":
			rport, perr := strconv.Atoi(rest[i+1])
			if perr != nil {
				return CandidateLine{}, errors.Wrap(perr, "juice: parse rport")
			}
			c.RelatedPort = rport
		}
	}
	return c, nil
}

// FromCandidate converts an internal ice.Candidate to its wire form.
func FromCandidate(c ice.Candidate) CandidateLine {
	return CandidateLine{
		Foundation:     c.Foundation,
		Component:      c.Component,
		Priority:       c.Priority,
		Address:        c.Address,
		Port:           c.Port,
		Type:           c.Type,
		RelatedAddress: c.RelatedAddress,
		RelatedPort:    c.RelatedPort,
	}
}

// Candidate converts a wire-form candidate line back to an ice.Candidate,
// suitable for AddRemoteCandidate.
func (c CandidateLine) Candidate() ice.Candidate {
	return ice.Candidate{
		Type:           c.Type,
		Foundation:     c.Foundation,
		Component:      c.Component,
		Address:        c.Address,
		Port:           c.Port,
		Priority:       c.Priority,
		RelatedAddress: c.RelatedAddress,
		RelatedPort:    c.RelatedPort,
	}
}

// Description is the session-description text block exchanged over
// signaling (spec.md §6): short-term credentials plus the candidate lines
// gathered so far, newline-separated as "key:value" pairs.
type Description struct {
	UFrag           string
	Pwd             string
	Candidates      []CandidateLine
	EndOfCandidates bool
}

// String renders the description as the newline-separated key:value text
// block spec.md §6 specifies.
func (d Description) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ice-ufrag:%s\n", d.UFrag)
	fmt.Fprintf(&b, "ice-pwd:%s\n", d.Pwd)
	for _, c := range d.Candidates {
		fmt.Fprintf(&b, "candidate:%s\n", c.String())
	}
	if d.EndOfCandidates {
		b.WriteString("end-of-candidates:true\n")
	}
	return b.String()
}

// ParseDescription reverses Description.String.
func ParseDescription(text string) (Description, error) {
	var d Description
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Description{}, errors.Errorf("juice: malformed description line %q", line)
		}
		switch key {
		case "ice-ufrag":
			d.UFrag = value
		case "ice-pwd":
			d.Pwd = value
		case "candidate":
			cand, err := ParseCandidateLine(value)
			if err != nil {
				return Description{}, err
			}
			d.Candidates = append(d.Candidates, cand)
		case "end-of-candidates":
			d.EndOfCandidates = value == "true"
		default:
			// Unknown keys are forward-compatible extensions; spec.md §6
			// does not ask this codec to reject them.
		}
	}
	if err := scanner.Err(); err != nil {
		return Description{}, errors.Wrap(err, "juice: scan description")
	}
	return d, nil
}
