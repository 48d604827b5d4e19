// ABOUTME: Enumerates system audio endpoints via pactl for the devices command
// ABOUTME: Parses the short listing into names usable as capture device strings
package devices

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// Device is one system audio endpoint.
type Device struct {
	Index string
	Name  string
	Kind  string // "source" or "sink"
}

// List enumerates capture sources and playback sinks known to
// PulseAudio or PipeWire.
func List() ([]Device, error) {
	var out []Device
	for _, kind := range []string{"source", "sink"} {
		devs, err := listKind(kind)
		if err != nil {
			return nil, err
		}
		out = append(out, devs...)
	}
	return out, nil
}

func listKind(kind string) ([]Device, error) {
	raw, err := exec.Command("pactl", "list", "short", kind+"s").Output()
	if err != nil {
		return nil, fmt.Errorf("pactl failed, is PulseAudio or PipeWire running: %w", err)
	}
	return parseShortList(raw, kind)
}

func parseShortList(raw []byte, kind string) ([]Device, error) {
	var devs []Device
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		devs = append(devs, Device{Index: fields[0], Name: fields[1], Kind: kind})
	}
	return devs, sc.Err()
}
