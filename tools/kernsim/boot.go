package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ringzero/kernel/cpu"
	"ringzero/kernel/irq"
	"ringzero/kernel/kfmt"
	"ringzero/kernel/kmain"
)

// bootedMachine is a simulation that went through the kernel boot sequence.
type bootedMachine struct {
	*simulation
	kernel *kmain.Kernel

	console, log *kfmtWriter
}

func (b *bootedMachine) flush() {
	b.console.Flush()
	b.log.Flush()
}

// boot builds the selected machine, routes the kernel sinks to the logger
// and runs the boot sequence. The console collaborator given to the syscall
// layer is userConsole.
func (o *options) boot(userConsole io.Writer) (*bootedMachine, error) {
	m, err := o.machine()
	if err != nil {
		return nil, err
	}

	sim, err := m.build()
	if err != nil {
		return nil, err
	}

	booted := &bootedMachine{
		simulation: sim,
		console:    newKfmtWriter(o.logger, "console", logrus.InfoLevel),
		log:        newKfmtWriter(o.logger, "log", logrus.DebugLevel),
	}
	kfmt.SetOutputSink(booted.console)
	kfmt.SetLogSink(booted.log)
	defer booted.flush()

	sim.params.Console = userConsole
	sim.params.Log = booted.log

	o.logger.WithFields(logrus.Fields{
		"ram":     m.RAM,
		"cmdline": m.CmdLine,
		"modules": len(sim.modules),
	}).Info("booting simulated machine")

	k, kerr := kmain.Boot(sim.params)
	if kerr != nil {
		return nil, fmt.Errorf("boot failed: %w", kerr)
	}

	booted.kernel = k
	return booted, nil
}

func newBootCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Boot the machine and print a summary of the kernel state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			booted, err := opts.boot(nil)
			if err != nil {
				return err
			}

			printSummary(cmd.OutOrStdout(), booted.kernel)
			return nil
		},
	}
}

func printSummary(w io.Writer, k *kmain.Kernel) {
	stats := k.Frames.Stats()
	fmt.Fprintf(w, "pmm:   %d frames, %d used, %d free\n", stats.Total, stats.Used, stats.Free)
	fmt.Fprintf(w, "heap:  0x%08x-0x%08x, %d bytes used, %d bytes max\n",
		uint32(k.Heap.Start()), uint32(k.Heap.End()), k.Heap.Used(), k.Heap.MaxSize())
	fmt.Fprintf(w, "stack: 0x%08x-0x%08x\n", uint32(k.KernelStack), k.KernelStackTop)

	var present int
	for vector := 0; vector < 256; vector++ {
		if k.Interrupts.Gate(uint8(vector)).Present() {
			present++
		}
	}
	master, slave := k.Interrupts.PIC().Offsets()
	fmt.Fprintf(w, "idt:   %d gates present, PIC at 0x%02x/0x%02x, syscall gate DPL %d\n",
		present, master, slave, k.Interrupts.Gate(irq.SyscallVector).DPL())
	fmt.Fprintf(w, "cpu:   %v\n", cpu.Features())
}
