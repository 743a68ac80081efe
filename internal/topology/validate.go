package topology

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Validate checks every structural invariant of t against the selected disk
// set and returns all violations at once.
func Validate(t Topology, selected []string) error {
	var result *multierror.Error

	sel := make(map[string]bool, len(selected))
	for _, p := range selected {
		sel[p] = true
	}
	seen := map[string]string{}

	if len(t.Log) > 1 {
		result = multierror.Append(result, fmt.Errorf("%w: log has %d", ErrGroupFull, len(t.Log)))
	}
	if len(t.Cache) > 1 {
		result = multierror.Append(result, fmt.Errorf("%w: cache has %d", ErrGroupFull, len(t.Cache)))
	}

	for _, purpose := range Purposes {
		for i, v := range t.Group(purpose) {
			where := fmt.Sprintf("%s[%d]", purpose, i)
			if err := checkShape(v, purpose); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", where, err))
				continue
			}
			for _, p := range MemberDiskPaths(v) {
				if prev, dup := seen[p]; dup {
					result = multierror.Append(result, fmt.Errorf("%s: %w: %s (also in %s)", where, ErrDiskInUse, p, prev))
				} else {
					seen[p] = where
				}
				if !sel[p] {
					result = multierror.Append(result, fmt.Errorf("%s: %w: %s", where, ErrDiskNotSelected, p))
				}
			}
		}
	}
	return result.ErrorOrNil()
}

func checkShape(v Vdev, purpose Purpose) error {
	if !v.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrMalformedVdev, v.Type)
	}
	switch v.Type {
	case Empty:
		if v.Path != "" || len(v.Children) > 0 {
			return fmt.Errorf("%w: empty vdev with members", ErrMalformedVdev)
		}
		return nil
	case Disk:
		if v.Path == "" || len(v.Children) > 0 {
			return fmt.Errorf("%w: disk vdev needs a path and no children", ErrMalformedVdev)
		}
		return nil
	}
	if purpose == PurposeSpare {
		return fmt.Errorf("%w: spare must be disk, got %s", ErrIllegalVdevType, v.Type)
	}
	if v.Path != "" {
		return fmt.Errorf("%w: %s vdev must not carry a path", ErrMalformedVdev, v.Type)
	}
	for _, c := range v.Children {
		if c.Type != Disk || c.Path == "" || len(c.Children) > 0 {
			return ErrNestedVdev
		}
	}
	if !allowed(AllowedVdevTypes(MemberDiskPaths(v), purpose), v.Type) {
		return fmt.Errorf("%w: %s with %d members", ErrIllegalVdevType, v.Type, len(v.Children))
	}
	return nil
}
