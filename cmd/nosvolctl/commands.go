package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nithronos/nosvol/internal/reconcile"
	"nithronos/nosvol/internal/topology"
	"nithronos/nosvol/internal/volumes"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show volumes, drafts and pending requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := newAPIClient(opts.baseURL).getState()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return printJSON(out, snap)
			}
			printStatus(out, snap)
			return nil
		},
	}
}

func printStatus(w io.Writer, snap *reconcile.Snapshot) {
	rows := [][]string{}
	for _, v := range sortedVolumes(snap.ServerVolumes) {
		rows = append(rows, volumeRow(v, "server", snap.ActiveVolumeID))
	}
	for _, v := range sortedVolumes(snap.ClientVolumes) {
		rows = append(rows, volumeRow(v, "draft", snap.ActiveVolumeID))
	}
	printTable(w, []string{"ID", "NAME", "SOURCE", "STATE", "DISKS"}, rows)

	disks := "not fetched"
	if snap.DisksFetched {
		disks = strings.Join(snap.AvailableDisks, " ")
		if disks == "" {
			disks = "none"
		}
	}
	fmt.Fprintf(w, "\nAvailable disks: %s\n", disks)
	if snap.VolumeToDestroy != "" {
		fmt.Fprintf(w, "Pending destroy: %s\n", snap.VolumeToDestroy)
	}
	pending := len(snap.Ledger.VolumesRequests) + len(snap.Ledger.AvailableDisksRequests) +
		len(snap.Ledger.CreateRequests) + len(snap.Ledger.DestroyRequests)
	fmt.Fprintf(w, "Pending requests: %d, active tasks: %d\n", pending, len(snap.Ledger.ActiveTasks))
}

func sortedVolumes(m map[string]*volumes.Volume) []*volumes.Volume {
	out := make([]*volumes.Volume, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func volumeRow(v *volumes.Volume, source, active string) []string {
	id := v.ID
	if id == active {
		id = "*" + id
	}
	state := string(v.State)
	if state == "" {
		state = "-"
	}
	if v.Error != "" {
		state += " (" + v.Error + ")"
	}
	return []string{id, v.Name, source, state, strconv.Itoa(len(topology.Members(v.Topology)))}
}

// report prints an intent result: diagnostics always, the new state on
// request.
func report(cmd *cobra.Command, opts *options, res *IntentResult, msg string) error {
	out := cmd.OutOrStdout()
	if opts.outputJSON {
		return printJSON(out, res)
	}
	for _, d := range res.Diagnostics {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", d.Kind, d.Message)
	}
	fmt.Fprintln(out, msg)
	return nil
}

func newDraftCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Create and edit volume drafts",
	}

	var id string
	create := &cobra.Command{
		Use:   "new NAME",
		Short: "Start a new draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newAPIClient(opts.baseURL).createDraft(id, args[0])
			if err != nil {
				return err
			}
			return report(cmd, opts, res, "✓ Draft "+res.ID+" created")
		},
	}
	create.Flags().StringVar(&id, "id", "", "draft id (generated when empty)")

	cmd.AddCommand(
		create,
		&cobra.Command{
			Use:   "rename ID NAME",
			Short: "Rename a draft",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := newAPIClient(opts.baseURL).renameDraft(args[0], args[1])
				if err != nil {
					return err
				}
				return report(cmd, opts, res, "✓ Draft renamed")
			},
		},
		&cobra.Command{
			Use:   "revert ID",
			Short: "Discard a draft",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := newAPIClient(opts.baseURL).revertDraft(args[0])
				if err != nil {
					return err
				}
				return report(cmd, opts, res, "✓ Draft discarded")
			},
		},
		&cobra.Command{
			Use:   "select ID PATH...",
			Short: "Select disks for a draft",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return selectDisks(cmd, opts, args[0], args[1:], true)
			},
		},
		&cobra.Command{
			Use:   "deselect ID PATH...",
			Short: "Release disks from a draft",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return selectDisks(cmd, opts, args[0], args[1:], false)
			},
		},
		&cobra.Command{
			Use:   "preset ID NAME",
			Short: "Lay out a draft from a preset",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := newAPIClient(opts.baseURL).applyPreset(args[0], args[1])
				if err != nil {
					return err
				}
				return report(cmd, opts, res, "✓ Preset "+args[1]+" applied")
			},
		},
		newVdevCmd(opts),
		&cobra.Command{
			Use:   "show ID",
			Short: "Show a draft's topology and capacity",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return showVolume(cmd, opts, args[0])
			},
		},
		&cobra.Command{
			Use:   "submit ID",
			Short: "Ask the server to create the volume",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := newAPIClient(opts.baseURL).submit(args[0])
				if err != nil {
					return err
				}
				return report(cmd, opts, res, "✓ Submitted (request "+res.Correlation+")")
			},
		},
	)
	return cmd
}

func selectDisks(cmd *cobra.Command, opts *options, id string, paths []string, selected bool) error {
	client := newAPIClient(opts.baseURL)
	var last *IntentResult
	for _, p := range paths {
		res, err := client.selectDisk(id, p, selected)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		last = res
	}
	verb := "selected"
	if !selected {
		verb = "released"
	}
	return report(cmd, opts, last, fmt.Sprintf("✓ %d disk(s) %s", len(paths), verb))
}

func newVdevCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vdev",
		Short: "Edit individual vdevs of a draft",
	}
	edit := func(use, short, op string, nargs int) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(nargs),
			RunE: func(cmd *cobra.Command, args []string) error {
				index, err := strconv.Atoi(args[2])
				if err != nil {
					return fmt.Errorf("index %q: %w", args[2], err)
				}
				var path string
				var typ topology.VdevType
				switch op {
				case "add", "remove":
					path = args[3]
				case "type":
					typ = topology.VdevType(args[3])
				}
				res, err := newAPIClient(opts.baseURL).editVdev(args[0], topology.Purpose(args[1]), op, index, path, typ)
				if err != nil {
					return err
				}
				return report(cmd, opts, res, "✓ Topology updated")
			},
		}
	}
	cmd.AddCommand(
		edit("add ID PURPOSE INDEX PATH", "Add a disk to a vdev", "add", 4),
		edit("remove ID PURPOSE INDEX PATH", "Remove a disk from a vdev", "remove", 4),
		edit("nuke ID PURPOSE INDEX", "Drop a vdev", "nuke", 3),
		edit("type ID PURPOSE INDEX TYPE", "Change a vdev's layout", "type", 4),
	)
	return cmd
}

func showVolume(cmd *cobra.Command, opts *options, id string) error {
	client := newAPIClient(opts.baseURL)
	snap, err := client.getState()
	if err != nil {
		return err
	}
	v, ok := snap.ClientVolumes[id]
	if !ok {
		v, ok = snap.ServerVolumes[id]
	}
	if !ok {
		return fmt.Errorf("volume %s not found", id)
	}
	b, err := client.breakdown(id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if opts.outputJSON {
		return printJSON(out, map[string]any{"volume": v, "breakdown": b})
	}
	fmt.Fprintf(out, "%s (%s) preset %s\n", v.Name, v.ID, v.Preset)
	for _, p := range topology.Purposes {
		for i, vd := range v.Topology.Group(p) {
			fmt.Fprintf(out, "  %-6s %d  %-7s %s\n", p, i, vd.Type, strings.Join(topology.MemberDiskPaths(vd), " "))
		}
	}
	fmt.Fprintf(out, "Usable: %s  Parity: %s\n", formatBytes(b.Avail), formatBytes(b.Parity))
	return nil
}

func newFocusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "focus ID",
		Short: "Make a volume the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newAPIClient(opts.baseURL).focus(args[0])
			if err != nil {
				return err
			}
			return report(cmd, opts, res, "✓ Active volume is "+args[0])
		},
	}
}

func newDestroyCmd(opts *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "destroy ID",
		Short: "Destroy a server volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(opts.baseURL)
			if _, err := client.intendDestroy(args[0]); err != nil {
				return err
			}
			if !yes && !confirm(cmd, fmt.Sprintf("Destroy volume %s? Type the id to confirm: ", args[0]), args[0]) {
				if _, err := client.cancelDestroy(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}
			res, err := client.confirmDestroy()
			if err != nil {
				return err
			}
			return report(cmd, opts, res, "✓ Destroy requested (request "+res.Correlation+")")
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func confirm(cmd *cobra.Command, prompt, want string) bool {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	return strings.TrimSpace(line) == want
}

func newRefreshCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "refresh volumes|disks",
		Short:     "Re-query the server",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"volumes", "disks"},
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newAPIClient(opts.baseURL).refresh(args[0])
			if err != nil {
				return err
			}
			return report(cmd, opts, res, "✓ Query issued (request "+res.Correlation+")")
		},
	}
}

func newPresetsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List topology presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := newAPIClient(opts.baseURL).listPresets()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return printJSON(out, names)
			}
			for _, n := range names {
				fmt.Fprintln(out, n)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nosvolctl %s (%s)\n", Version, GitCommit)
		},
	}
}
