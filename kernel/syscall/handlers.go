package syscall

import (
	"ringzero/kernel/kfmt"
	"ringzero/kernel/mm"
)

const (
	stdin  = 0
	stdout = 1
	stderr = 2

	// ioChunkSize is the size of the kernel buffer used for console
	// writes.
	ioChunkSize = 256

	// maxFileIO caps the kernel buffer allocated for a single file read
	// or write.
	maxFileIO = mm.PageSize

	maxPathLen = 256
)

func (k *Kernel) sysExit(args Args) int32 {
	kfmt.Logf("[sys] exit(%d)\n", int32(args[0]))
	haltFn()
	return 0
}

func (k *Kernel) sysFork(Args) int32 {
	return EAGAIN.Ret()
}

func (k *Kernel) sysGetpid(Args) int32 {
	return 1
}

func (k *Kernel) sysAlarm(Args) int32 {
	return 0
}

func (k *Kernel) sysExecve(args Args) int32 {
	if args[0] == 0 {
		return EFAULT.Ret()
	}
	return ENOENT.Ret()
}

func (k *Kernel) sysClearDisplay(Args) int32 {
	if k.Display != nil {
		k.Display.Clear()
	}
	return 0
}

func (k *Kernel) sysWrite(args Args) int32 {
	fd, buf, count := int(args[0]), mm.VirtAddr(args[1]), args[2]
	switch {
	case buf == 0 || k.Memory == nil:
		return EFAULT.Ret()
	case count == 0:
		return 0
	case fd == stdout || fd == stderr:
		return k.writeConsole(buf, count)
	case fd == stdin || k.Files == nil:
		return EBADF.Ret()
	}

	data := make([]byte, min(count, maxFileIO))
	if err := k.Memory.CopyFromUser(buf, data); err != nil {
		return EFAULT.Ret()
	}

	n, err := k.Files.Write(fd, data)
	if err != nil {
		return errnoOf(err, EIO).Ret()
	}
	return int32(n)
}

func (k *Kernel) writeConsole(buf mm.VirtAddr, count uint32) int32 {
	var chunk [ioChunkSize]byte
	for written := uint32(0); written < count; {
		n := min(count-written, ioChunkSize)
		if err := k.Memory.CopyFromUser(buf+mm.VirtAddr(written), chunk[:n]); err != nil {
			return EFAULT.Ret()
		}

		if k.Console != nil {
			_, _ = k.Console.Write(chunk[:n])
		}
		if k.Log != nil {
			_, _ = k.Log.Write(chunk[:n])
		}
		written += n
	}
	return int32(count)
}

func (k *Kernel) sysRead(args Args) int32 {
	fd, buf, count := int(args[0]), mm.VirtAddr(args[1]), args[2]
	switch {
	case buf == 0 || k.Memory == nil:
		return EFAULT.Ret()
	case count == 0:
		return 0
	case fd == stdin:
		return k.readInput(buf, count)
	case fd == stdout || fd == stderr || k.Files == nil:
		return EBADF.Ret()
	}

	data := make([]byte, min(count, maxFileIO))
	n, err := k.Files.Read(fd, data)
	if err != nil {
		return errnoOf(err, EIO).Ret()
	}

	if err := k.Memory.CopyToUser(buf, data[:n]); err != nil {
		return EFAULT.Ret()
	}
	return int32(n)
}

// readInput blocks until at least one byte is available and then returns
// as many buffered bytes as fit in count.
func (k *Kernel) readInput(buf mm.VirtAddr, count uint32) int32 {
	if k.Input == nil {
		return EBADF.Ret()
	}

	var chunk [ioChunkSize]byte
	limit := min(count, ioChunkSize)

	b, ok := k.Input.PopByte()
	for !ok {
		waitFn()
		b, ok = k.Input.PopByte()
	}

	chunk[0] = b
	n := uint32(1)
	for n < limit {
		if b, ok = k.Input.PopByte(); !ok {
			break
		}
		chunk[n] = b
		n++
	}

	if err := k.Memory.CopyToUser(buf, chunk[:n]); err != nil {
		return EFAULT.Ret()
	}
	return int32(n)
}

func (k *Kernel) sysOpen(args Args) int32 {
	path, flags := mm.VirtAddr(args[0]), int(args[1])
	if path == 0 || k.Memory == nil {
		return EFAULT.Ret()
	}

	name, err := k.Memory.ReadUserString(path, maxPathLen)
	if err != nil {
		return EFAULT.Ret()
	}

	if k.Files == nil {
		return ENOENT.Ret()
	}

	fd, openErr := k.Files.Open(name, flags)
	if openErr != nil {
		return errnoOf(openErr, ENOENT).Ret()
	}
	return int32(fd)
}

func (k *Kernel) sysClose(args Args) int32 {
	fd := int(args[0])
	if fd <= stderr || k.Files == nil {
		return EBADF.Ret()
	}

	if err := k.Files.Close(fd); err != nil {
		return errnoOf(err, EBADF).Ret()
	}
	return 0
}

func (k *Kernel) sysBrk(args Args) int32 {
	return int32(k.Break.Set(k.Memory, mm.VirtAddr(args[0])))
}
