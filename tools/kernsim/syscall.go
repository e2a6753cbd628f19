package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"ringzero/kernel/cpu"
	"ringzero/kernel/irq"
	"ringzero/kernel/mm"
	"ringzero/kernel/mm/vmm"
	"ringzero/kernel/syscall"
)

const (
	// dataAddr is the user address where --data is staged.
	dataAddr = 0x08000000

	// dataToken is replaced by dataAddr in the syscall arguments.
	dataToken = "@data"

	maxSyscallArgs = 6
)

var errTooManyArgs = errors.New("at most 6 syscall arguments are supported")

func newSyscallCmd(opts *options) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "syscall NUM [ARGS...]",
		Short: "Boot the machine and dispatch a system call through the syscall gate",
		Long: `Boot the machine and raise the syscall vector with NUM in EAX and ARGS in ` +
			`EBX, ECX, EDX, ESI, EDI and EBP. The --data string is copied to a user page ` +
			`and the ` + dataToken + ` argument expands to its address.`,
		Args: cobra.RangeArgs(1, maxSyscallArgs+1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var console bytes.Buffer
			booted, err := opts.boot(&console)
			if err != nil {
				return err
			}

			if data != "" {
				if err = stageData(booted.kernel.AddressSpace, []byte(data)); err != nil {
					return err
				}
			}

			regs, err := syscallRegisters(args)
			if err != nil {
				return err
			}

			halted := dispatch(booted.kernel.Interrupts, regs)
			booted.flush()
			printSyscallResult(cmd.OutOrStdout(), regs, halted, console.Bytes())
			return nil
		},
	}

	cmd.Flags().StringVar(&data, "data", "", fmt.Sprintf("bytes staged in user memory at 0x%x", dataAddr))
	return cmd
}

// stageData copies data into freshly mapped user pages at dataAddr.
func stageData(as *vmm.AddressSpace, data []byte) error {
	end := mm.VirtAddr(dataAddr + len(data)).AlignUp()
	for addr := mm.VirtAddr(dataAddr); addr < end; addr += mm.PageSize {
		if _, err := as.AllocPage(mm.PageFromAddress(addr), vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible); err != nil {
			return err
		}
	}

	if err := as.CopyToUser(dataAddr, data); err != nil {
		return err
	}
	return nil
}

// syscallRegisters builds the register frame raised by int 0x80.
func syscallRegisters(args []string) (*irq.Registers, error) {
	if len(args) > maxSyscallArgs+1 {
		return nil, errTooManyArgs
	}

	values := make([]uint32, maxSyscallArgs+1)
	for i, arg := range args {
		if arg == dataToken {
			values[i] = dataAddr
			continue
		}

		v, err := strconv.ParseInt(arg, 0, 64)
		if err != nil || v < -(1<<31) || v > 1<<32-1 {
			return nil, fmt.Errorf("invalid syscall argument %q", arg)
		}
		values[i] = uint32(v)
	}

	return &irq.Registers{
		IntNo: irq.SyscallVector,
		EAX:   values[0],
		EBX:   values[1],
		ECX:   values[2],
		EDX:   values[3],
		ESI:   values[4],
		EDI:   values[5],
		EBP:   values[6],
	}, nil
}

// dispatch raises the syscall vector. It returns true if the handler halted
// the CPU.
func dispatch(d *irq.Dispatcher, regs *irq.Registers) (halted bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(cpu.HaltedError); !ok {
				panic(r)
			}
			halted = true
		}
	}()

	d.Dispatch(regs)
	return false
}

func printSyscallResult(w io.Writer, regs *irq.Registers, halted bool, console []byte) {
	if halted {
		fmt.Fprintln(w, "result:  system halted")
	} else {
		ret := int32(regs.EAX)
		if errno, ok := syscall.ErrnoFromRet(ret); ok {
			fmt.Fprintf(w, "result:  %d (%s)\n", ret, errno)
		} else {
			fmt.Fprintf(w, "result:  %d (0x%x)\n", ret, regs.EAX)
		}
	}

	if len(console) != 0 {
		fmt.Fprintf(w, "console: %q\n", console)
	}
}
