//go:build linux

package sandbox

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// deniedSyscalls are blocked regardless of which sandbox level is active —
// bubblewrap's own namespace isolation does not stop a process from trying
// these, the seccomp filter is the layer that does.
var deniedSyscalls = []uint32{
	unix.SYS_MOUNT,
	unix.SYS_UMOUNT2,
	unix.SYS_REBOOT,
	unix.SYS_SWAPON,
	unix.SYS_SWAPOFF,
	unix.SYS_KEXEC_LOAD,
	unix.SYS_INIT_MODULE,
	unix.SYS_FINIT_MODULE,
	unix.SYS_DELETE_MODULE,
	unix.SYS_PIVOT_ROOT,
	unix.SYS_PTRACE,
	unix.SYS_IOPL,
	unix.SYS_IOPERM,
	unix.SYS_MODIFY_LDT,
}

const (
	seccompRetAllow = 0x7fff0000
	seccompRetErrno = 0x00050000
)

// buildSeccompFilter constructs a BPF program that denies deniedSyscalls
// and allows everything else.
func buildSeccompFilter() []unix.SockFilter {
	n := len(deniedSyscalls)
	prog := make([]unix.SockFilter, 0, n+3)

	prog = append(prog, unix.SockFilter{
		Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS,
		K:    0, // offsetof(struct seccomp_data, nr)
	})

	for i, nr := range deniedSyscalls {
		prog = append(prog, unix.SockFilter{
			Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K,
			Jt:   uint8(n - i),
			Jf:   0,
			K:    nr,
		})
	}

	prog = append(prog, unix.SockFilter{
		Code: unix.BPF_RET | unix.BPF_K,
		K:    seccompRetAllow,
	})
	prog = append(prog, unix.SockFilter{
		Code: unix.BPF_RET | unix.BPF_K,
		K:    seccompRetErrno | uint32(unix.EPERM),
	})

	return prog
}

// seccompFilterFD writes the compiled filter to an anonymous pipe and
// returns the read end, in the wire format bwrap --seccomp expects: a
// stream of 8-byte cBPF instructions (code uint16, jt uint8, jf uint8,
// k uint32), no sock_fprog header. The write end is closed immediately
// after the program is written; bwrap reads it before exec'ing the child,
// so the pipe's buffer is more than enough to avoid a blocking writer.
func seccompFilterFD(prog []unix.SockFilter) (*os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("seccomp filter pipe: %w", err)
	}

	buf := make([]byte, 0, len(prog)*8)
	for _, f := range prog {
		var rec [8]byte
		binary.LittleEndian.PutUint16(rec[0:2], f.Code)
		rec[2] = f.Jt
		rec[3] = f.Jf
		binary.LittleEndian.PutUint32(rec[4:8], f.K)
		buf = append(buf, rec[:]...)
	}

	if _, err := w.Write(buf); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("write seccomp program: %w", err)
	}
	w.Close()
	return r, nil
}
