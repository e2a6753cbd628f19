package main

import (
	"bytes"
	elfabi "debug/elf"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newLoadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "load PROGRAM",
		Short: "Boot the machine and load an ELF executable into the address space",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			booted, err := opts.boot(nil)
			if err != nil {
				return err
			}

			prog, kerr := booted.kernel.LoadProgram(image)
			booted.flush()
			if kerr != nil {
				return fmt.Errorf("%s: %w", args[0], kerr)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "entry:    0x%08x\n", prog.Entry)
			fmt.Fprintf(w, "stack:    0x%08x\n", prog.StackTop)
			fmt.Fprintf(w, "segments: %d\n", prog.Segments)

			// The image passed validation, so the standard parser can
			// describe its segments.
			f, err := elfabi.NewFile(bytes.NewReader(image))
			if err != nil {
				return nil
			}
			defer f.Close()

			for _, p := range f.Progs {
				if p.Type != elfabi.PT_LOAD {
					continue
				}
				fmt.Fprintf(w, "  vaddr 0x%08x filesz 0x%06x memsz 0x%06x %s\n", p.Vaddr, p.Filesz, p.Memsz, p.Flags)
			}
			return nil
		},
	}
}
