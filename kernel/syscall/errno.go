package syscall

// Errno is an error number returned to user space as a negative value.
type Errno int32

// Error numbers used by the syscall handlers.
const (
	EPERM  = Errno(1)
	ENOENT = Errno(2)
	EINTR  = Errno(4)
	EIO    = Errno(5)
	EBADF  = Errno(9)
	EAGAIN = Errno(11)
	ENOMEM = Errno(12)
	EFAULT = Errno(14)
	EINVAL = Errno(22)
	ENOSYS = Errno(38)
)

var errnoNames = map[Errno]string{
	EPERM:  "EPERM",
	ENOENT: "ENOENT",
	EINTR:  "EINTR",
	EIO:    "EIO",
	EBADF:  "EBADF",
	EAGAIN: "EAGAIN",
	ENOMEM: "ENOMEM",
	EFAULT: "EFAULT",
	EINVAL: "EINVAL",
	ENOSYS: "ENOSYS",
}

// Error implements error.
func (e Errno) Error() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return "unknown errno"
}

// Ret returns the value placed in EAX when a syscall fails with e.
func (e Errno) Ret() int32 {
	return -int32(e)
}

// maxErrno is the largest error number that can be encoded in a return
// value. Larger negative values are valid results, such as addresses above
// 2G returned by brk.
const maxErrno = 4095

// ErrnoFromRet decodes a syscall return value. The second result is false
// for values that do not encode an error.
func ErrnoFromRet(ret int32) (Errno, bool) {
	if ret >= 0 || ret < -maxErrno {
		return 0, false
	}
	return Errno(-ret), true
}
