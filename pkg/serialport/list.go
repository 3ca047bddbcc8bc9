package serialport

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/ninho/pkg/device"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// USB vendor IDs of bridges found on ESP32 dev boards.
var knownBridges = map[string]string{
	"10C4": "Silicon Labs CP210x",
	"1A86": "WCH CH340",
	"0403": "FTDI",
	"303A": "Espressif USB",
}

// Lister enumerates serial ports.
type Lister func() ([]device.PortInfo, error)

// List returns the serial ports present on the host, USB bridges first.
// Hosts without detailed enumeration fall back to a plain name listing.
func List() ([]device.PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		log.Debug().Err(err).Msg("Detailed port enumeration failed, falling back to names")
		return listNames()
	}

	ports := make([]device.PortInfo, 0, len(details))
	for _, d := range details {
		info := device.PortInfo{
			Path:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          strings.ToUpper(d.VID),
			PID:          strings.ToUpper(d.PID),
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		}
		if d.IsUSB {
			info.Bridge = knownBridges[info.VID]
		}
		ports = append(ports, info)
	}

	sortPorts(ports)
	return ports, nil
}

func listNames() ([]device.PortInfo, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", Classify(err))
	}

	ports := make([]device.PortInfo, 0, len(names))
	for _, name := range names {
		ports = append(ports, device.PortInfo{Path: name})
	}
	sortPorts(ports)
	return ports, nil
}

func sortPorts(ports []device.PortInfo) {
	sort.SliceStable(ports, func(i, j int) bool {
		bi, bj := ports[i].Bridge != "", ports[j].Bridge != ""
		if bi != bj {
			return bi
		}
		return ports[i].Path < ports[j].Path
	})
}

// Select resolves the port to open. An explicit path wins; otherwise the
// first port behind a known USB bridge is used.
func Select(path string, list Lister) (string, error) {
	if path != "" {
		return path, nil
	}
	if list == nil {
		list = List
	}

	ports, err := list()
	if err != nil {
		return "", err
	}

	for _, p := range ports {
		if p.Bridge != "" {
			log.Info().Str("port", p.Path).Str("bridge", p.Bridge).Msg("Auto-selected serial port")
			return p.Path, nil
		}
	}

	return "", fmt.Errorf("%w: no ESP32 board detected on %d port(s)", device.ErrNoPortSelected, len(ports))
}

// Supported reports whether this host can enumerate serial ports at all.
func Supported() bool {
	_, err := serial.GetPortsList()
	if err == nil {
		return true
	}
	return device.KindOf(Classify(err)) != device.KindNotSupported
}
