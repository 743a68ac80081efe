package disks

import "errors"

// Class is the rotational class of a disk.
type Class string

const (
	ClassSSD Class = "SSD"
	ClassHDD Class = "HDD"
)

var ErrUnknownDisk = errors.New("disk not present in catalog")

type Disk struct {
	Path      string `json:"path" yaml:"path"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	MediaSize int64  `json:"mediasize" yaml:"mediasize"`
	Class     Class  `json:"class" yaml:"class"`
	Available bool   `json:"available" yaml:"available"`
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	Serial    string `json:"serial,omitempty" yaml:"serial,omitempty"`
}

// Catalog is the read-only disk inventory consumed by the topology builder
// and the reconciliation controller.
type Catalog interface {
	Lookup(path string) (Disk, error)
	Paths() []string
}
