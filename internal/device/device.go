// Package device enumerates block devices so the TUI can offer a source
// picker. Everything here shells out to the platform's own tooling.
package device

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Device is one candidate scan source.
type Device struct {
	Path       string
	Name       string
	Size       int64
	SizeHuman  string
	Filesystem string
	Mountpoint string
	Removable  bool
}

// List returns the storage devices visible on this machine.
func List() ([]Device, error) {
	switch runtime.GOOS {
	case "linux":
		return listLinux()
	case "darwin":
		return listDarwin()
	default:
		return nil, fmt.Errorf("device listing is not supported on %s", runtime.GOOS)
	}
}

func listLinux() ([]Device, error) {
	cmd := exec.Command("lsblk", "-b", "-o", "NAME,SIZE,FSTYPE,MOUNTPOINT,RM", "-n", "-l")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run lsblk: %w", err)
	}

	var devices []Device
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) < 2 {
			continue
		}

		size, _ := strconv.ParseInt(parts[1], 10, 64)
		d := Device{
			Path:      "/dev/" + parts[0],
			Name:      parts[0],
			Size:      size,
			SizeHuman: humanize.IBytes(uint64(size)),
		}
		if len(parts) >= 3 {
			d.Filesystem = parts[2]
		}
		if len(parts) >= 4 {
			d.Mountpoint = parts[3]
		}
		if len(parts) >= 5 {
			d.Removable = parts[4] == "1"
		}
		devices = append(devices, d)
	}

	return devices, nil
}

func listDarwin() ([]Device, error) {
	cmd := exec.Command("diskutil", "list")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run diskutil: %w", err)
	}

	var devices []Device
	scanner := bufio.NewScanner(bytes.NewReader(output))

	var currentDisk string
	for scanner.Scan() {
		line := scanner.Text()

		// Main disk line: /dev/disk0 (internal):
		if strings.HasPrefix(line, "/dev/disk") {
			currentDisk = strings.TrimSuffix(strings.Fields(line)[0], ":")
			continue
		}

		// Partition line:    1:    EFI EFI    209.7 MB   disk0s1
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#:") || !strings.Contains(line, ":") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 4 {
			continue
		}

		deviceID := ""
		for _, p := range parts {
			if strings.HasPrefix(p, "disk") {
				deviceID = p
				break
			}
		}
		if deviceID == "" {
			continue
		}

		var size int64
		var sizeHuman string
		for i, p := range parts {
			if i+1 >= len(parts) {
				break
			}
			if v, err := humanize.ParseBytes(p + parts[i+1]); err == nil && v > 0 {
				size = int64(v)
				sizeHuman = p + " " + parts[i+1]
				break
			}
		}

		name := deviceID
		if len(parts) >= 3 {
			name = strings.Join(parts[2:len(parts)-2], " ")
			if name == "" {
				name = deviceID
			}
		}

		devices = append(devices, Device{
			Path:      "/dev/" + deviceID,
			Name:      name,
			Size:      size,
			SizeHuman: sizeHuman,
			Removable: !strings.Contains(currentDisk, "internal"),
		})
	}

	return devices, nil
}
