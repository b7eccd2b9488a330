package layout

import (
	"fmt"
	"strings"
)

// Target describes the ABI target triple and its pointer properties.
type Target struct {
	Triple   string // e.g. "x86_64-unknown-linux-gnu"
	PtrSize  int    // bytes
	PtrAlign int    // bytes
	// MaxScalarAlign caps the alignment of 8-byte scalars (4 on i686 linux).
	MaxScalarAlign int
}

func X86_64LinuxGNU() Target {
	return Target{Triple: "x86_64-unknown-linux-gnu", PtrSize: 8, PtrAlign: 8, MaxScalarAlign: 16}
}

func Aarch64LinuxGNU() Target {
	return Target{Triple: "aarch64-unknown-linux-gnu", PtrSize: 8, PtrAlign: 8, MaxScalarAlign: 16}
}

func X86_64Darwin() Target {
	return Target{Triple: "x86_64-apple-darwin", PtrSize: 8, PtrAlign: 8, MaxScalarAlign: 16}
}

func Aarch64Darwin() Target {
	return Target{Triple: "aarch64-apple-darwin", PtrSize: 8, PtrAlign: 8, MaxScalarAlign: 16}
}

func I686LinuxGNU() Target {
	return Target{Triple: "i686-unknown-linux-gnu", PtrSize: 4, PtrAlign: 4, MaxScalarAlign: 4}
}

// TargetFor picks the layout rules for a target triple by architecture and OS.
func TargetFor(triple string) (Target, error) {
	arch, _, _ := strings.Cut(triple, "-")
	var t Target
	switch {
	case arch == "x86_64" && strings.Contains(triple, "darwin"):
		t = X86_64Darwin()
	case arch == "aarch64" && strings.Contains(triple, "darwin"), arch == "arm64":
		t = Aarch64Darwin()
	case arch == "x86_64":
		t = X86_64LinuxGNU()
	case arch == "aarch64":
		t = Aarch64LinuxGNU()
	case arch == "i686" || arch == "i386" || arch == "i586":
		t = I686LinuxGNU()
	default:
		return Target{}, fmt.Errorf("layout: unsupported target %q", triple)
	}
	t.Triple = triple
	return t, nil
}
