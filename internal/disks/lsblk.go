package disks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

var ErrNoLsblk = errors.New("lsblk not found")

type lsblkJSON struct {
	Blockdevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Path       string        `json:"path"`
	Size       any           `json:"size"`
	Rota       any           `json:"rota"`
	Type       string        `json:"type"`
	Model      string        `json:"model"`
	Serial     string        `json:"serial"`
	Mountpoint *string       `json:"mountpoint"`
	FSType     string        `json:"fstype"`
	Children   []lsblkDevice `json:"children"`
}

// RunFunc executes name with args and returns stdout.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrNoLsblk
	}
	var out, errb bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &errb
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(errb.Bytes()))
	}
	return out.Bytes(), nil
}

// Collect builds an Inventory from lsblk. run may be nil to use the system lsblk.
func Collect(ctx context.Context, run RunFunc) (*Inventory, error) {
	if run == nil {
		run = execRun
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := run(cctx, "lsblk", "--bytes", "-J", "-O", "-o", "NAME,PATH,SIZE,ROTA,TYPE,MODEL,SERIAL,MOUNTPOINT,FSTYPE")
	if err != nil {
		return nil, err
	}
	list, err := ParseLsblk(out)
	if err != nil {
		return nil, err
	}
	return NewInventory(list), nil
}

// ParseLsblk converts lsblk JSON into whole-disk records. A disk is considered
// available when neither it nor any of its children carry a filesystem or
// mountpoint.
func ParseLsblk(raw []byte) ([]Disk, error) {
	var tree lsblkJSON
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("lsblk json: %w", err)
	}
	out := []Disk{}
	for _, d := range tree.Blockdevices {
		if d.Type != "disk" {
			continue
		}
		path := d.Path
		if path == "" {
			path = "/dev/" + d.Name
		}
		class := ClassHDD
		if !parseBool(d.Rota) {
			class = ClassSSD
		}
		out = append(out, Disk{
			Path:      path,
			Name:      d.Name,
			MediaSize: parseSize(d.Size),
			Class:     class,
			Available: !inUse(d),
			Model:     d.Model,
			Serial:    d.Serial,
		})
	}
	return out, nil
}

func inUse(d lsblkDevice) bool {
	if d.FSType != "" || (d.Mountpoint != nil && *d.Mountpoint != "") {
		return true
	}
	for _, c := range d.Children {
		if inUse(c) {
			return true
		}
	}
	return false
}

// older lsblk prints rota as "0"/"1", newer as a JSON bool
func parseBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	case float64:
		return t != 0
	}
	return false
}

func parseSize(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
