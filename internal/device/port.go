// Package device owns the MIDI connection to a TX802: port lookup, the
// exclusive session gate, note playback, dump requests and the background
// forwarder that relays a keyboard to the unit.
package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// ErrUnavailable is returned when no output is connected or a port cannot
// be found or opened.
var ErrUnavailable = errors.New("midi transport unavailable")

// Out is the sending half of a MIDI port.
type Out interface {
	Send(data []byte) error
}

// PortInfo describes one MIDI port.
type PortInfo struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
}

// OutPorts lists the available outputs.
func OutPorts() []PortInfo {
	var ports []PortInfo
	for _, out := range midi.GetOutPorts() {
		ports = append(ports, PortInfo{Number: out.Number(), Name: out.String()})
	}
	return ports
}

// InPorts lists the available inputs.
func InPorts() []PortInfo {
	var ports []PortInfo
	for _, in := range midi.GetInPorts() {
		ports = append(ports, PortInfo{Number: in.Number(), Name: in.String()})
	}
	return ports
}

// match picks a port by number, exact name or case-insensitive substring.
// An empty hint selects the first port.
func match(ports []PortInfo, hint string) (int, error) {
	if len(ports) == 0 {
		return -1, fmt.Errorf("%w: no ports available", ErrUnavailable)
	}
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return ports[0].Number, nil
	}
	if n, err := strconv.Atoi(hint); err == nil {
		for _, p := range ports {
			if p.Number == n {
				return n, nil
			}
		}
		return -1, fmt.Errorf("%w: port index %d out of range", ErrUnavailable, n)
	}
	for _, p := range ports {
		if p.Name == hint {
			return p.Number, nil
		}
	}
	lower := strings.ToLower(hint)
	for _, p := range ports {
		if strings.Contains(strings.ToLower(p.Name), lower) {
			return p.Number, nil
		}
	}
	return -1, fmt.Errorf("%w: no port contains %q", ErrUnavailable, hint)
}

// FindOutPort resolves hint against the available outputs.
func FindOutPort(hint string) (drivers.Out, error) {
	n, err := match(OutPorts(), hint)
	if err != nil {
		return nil, err
	}
	out, err := midi.OutPort(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

// FindInPort resolves hint against the available inputs.
func FindInPort(hint string) (drivers.In, error) {
	n, err := match(InPorts(), hint)
	if err != nil {
		return nil, err
	}
	in, err := midi.InPort(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return in, nil
}

type port struct {
	out drivers.Out
}

// Send reopens the port if the driver closed it underneath us.
func (p *port) Send(data []byte) error {
	if !p.out.IsOpen() {
		if err := p.out.Open(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return p.out.Send(data)
}

func (p *port) String() string {
	return p.out.String()
}

// OpenOut opens the output matching hint. The returned closer also shuts
// the driver down.
func OpenOut(hint string) (Out, func(), error) {
	out, err := FindOutPort(hint)
	if err != nil {
		return nil, nil, err
	}
	if err := out.Open(); err != nil {
		return nil, nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, out.String(), err)
	}
	closer := func() {
		_ = out.Close()
		drivers.Close()
	}
	return &port{out: out}, closer, nil
}

// Listener subscribes handle to incoming messages until stop is called.
type Listener func(handle func(midi.Message)) (stop func(), err error)

// ListenPort returns a Listener reading from in, SysEx included.
func ListenPort(in drivers.In) Listener {
	return func(handle func(midi.Message)) (func(), error) {
		stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
			handle(msg)
		}, midi.UseSysEx(), midi.SysExBufferSize(8192))
		if err != nil {
			return nil, fmt.Errorf("%w: listen on %s: %v", ErrUnavailable, in.String(), err)
		}
		return stop, nil
	}
}
