// Command kernsim boots the kernel core on a simulated machine. The machine
// RAM is a byte slice, the boot loader is emulated by laying a multiboot
// info structure into it and every hardware hook is a no-op, so the tool
// runs on any host.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
