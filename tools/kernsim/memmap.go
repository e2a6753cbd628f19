package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ringzero/kernel/mm"
	"ringzero/multiboot"
)

func newMemmapCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "memmap",
		Short: "Print the memory map and the ranges reserved by the boot information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := opts.machine()
			if err != nil {
				return err
			}

			sim, err := m.build()
			if err != nil {
				return err
			}

			bootInfo, kerr := multiboot.Parse(mm.PhysReader{Mem: sim.ram}, infoAddr)
			if kerr != nil {
				return kerr
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "memory map:")
			bootInfo.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
				fmt.Fprintf(w, "  [0x%010x - 0x%010x] %10d KiB  %s\n",
					entry.PhysAddress, entry.PhysAddress+entry.Length, entry.Length/1024, entry.Type)
				return true
			})

			fmt.Fprintln(w, "reserved:")
			fmt.Fprintf(w, "  [0x%08x - 0x%08x] kernel image\n", m.Kernel.Start, m.Kernel.End)
			for _, r := range bootInfo.ReservedRanges() {
				fmt.Fprintf(w, "  [0x%08x - 0x%08x]\n", uint32(r.Start), uint32(r.End))
			}

			if cmdLine := bootInfo.CmdLine(); cmdLine != "" {
				fmt.Fprintf(w, "cmdline: %s\n", cmdLine)
			}
			for _, mod := range bootInfo.Modules() {
				fmt.Fprintf(w, "module:  %s [0x%08x - 0x%08x]\n", mod.Name, mod.Start, mod.End)
			}
			return nil
		},
	}
}
