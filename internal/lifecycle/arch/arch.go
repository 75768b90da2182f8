// Package arch holds the fixed architecture translation table used to turn
// a UTS machine name into the handful of derived strings the lifecycle needs
// (kernel arch, Debian arch, cross-compiler prefix, …).
//
// This generalizes distri's two-entry archs.go (which only ever had to
// distinguish amd64 from i686, because distri rebuilds the whole toolchain
// per architecture) into the eight architectures this lifecycle targets.
package arch

import "runtime"

// Info describes one target architecture.
type Info struct {
	// Name is the canonical identifier used throughout part definitions,
	// e.g. "amd64".
	Name string

	// Kernel is the kernel architecture name (as in linux/arch/<kernel>).
	Kernel string

	// Deb is the Debian architecture name (dpkg --print-architecture).
	Deb string

	// UTSMachine is the value uname -m would report on a host of this
	// architecture.
	UTSMachine string

	// CrossCompilerPrefix is prepended to GNU binutils/gcc tool names when
	// cross-compiling for this architecture, e.g. "aarch64-linux-gnu-".
	CrossCompilerPrefix string

	// CrossBuildPackages lists build-packages that must additionally be
	// present to cross-compile for this architecture.
	CrossBuildPackages []string

	// Triplet is the GNU target triplet, e.g. "aarch64-linux-gnu".
	Triplet string

	// CoreDynamicLinker is the path of the dynamic linker shipped by the
	// base C library for this architecture, e.g.
	// "/lib/ld-linux-aarch64.so.1".
	CoreDynamicLinker string
}

// Table maps a UTS machine name (as part definitions and the host both use
// it) to its Info.
var Table = map[string]Info{
	"x86_64": {
		Name: "amd64", Kernel: "x86", Deb: "amd64", UTSMachine: "x86_64",
		CrossCompilerPrefix: "x86_64-linux-gnu-",
		Triplet:             "x86_64-linux-gnu",
		CoreDynamicLinker:   "/lib64/ld-linux-x86-64.so.2",
	},
	"aarch64": {
		Name: "arm64", Kernel: "arm64", Deb: "arm64", UTSMachine: "aarch64",
		CrossCompilerPrefix: "aarch64-linux-gnu-",
		CrossBuildPackages:  []string{"gcc-aarch64-linux-gnu", "libc6-dev-arm64-cross"},
		Triplet:             "aarch64-linux-gnu",
		CoreDynamicLinker:   "/lib/ld-linux-aarch64.so.1",
	},
	"armv7l": {
		Name: "armhf", Kernel: "arm", Deb: "armhf", UTSMachine: "armv7l",
		CrossCompilerPrefix: "arm-linux-gnueabihf-",
		CrossBuildPackages:  []string{"gcc-arm-linux-gnueabihf", "libc6-dev-armhf-cross"},
		Triplet:             "arm-linux-gnueabihf",
		CoreDynamicLinker:   "/lib/ld-linux-armhf.so.3",
	},
	"i686": {
		Name: "i386", Kernel: "x86", Deb: "i386", UTSMachine: "i686",
		CrossCompilerPrefix: "i686-linux-gnu-",
		CrossBuildPackages:  []string{"gcc-i686-linux-gnu", "libc6-dev-i386-cross"},
		Triplet:             "i686-linux-gnu",
		CoreDynamicLinker:   "/lib/ld-linux.so.2",
	},
	"ppc": {
		Name: "powerpc", Kernel: "powerpc", Deb: "powerpc", UTSMachine: "ppc",
		CrossCompilerPrefix: "powerpc-linux-gnu-",
		CrossBuildPackages:  []string{"gcc-powerpc-linux-gnu", "libc6-dev-powerpc-cross"},
		Triplet:             "powerpc-linux-gnu",
		CoreDynamicLinker:   "/lib/ld.so.1",
	},
	"ppc64le": {
		Name: "ppc64el", Kernel: "powerpc", Deb: "ppc64el", UTSMachine: "ppc64le",
		CrossCompilerPrefix: "powerpc64le-linux-gnu-",
		CrossBuildPackages:  []string{"gcc-powerpc64le-linux-gnu", "libc6-dev-ppc64el-cross"},
		Triplet:             "powerpc64le-linux-gnu",
		CoreDynamicLinker:   "/lib64/ld64.so.2",
	},
	"riscv64": {
		Name: "riscv64", Kernel: "riscv", Deb: "riscv64", UTSMachine: "riscv64",
		CrossCompilerPrefix: "riscv64-linux-gnu-",
		CrossBuildPackages:  []string{"gcc-riscv64-linux-gnu", "libc6-dev-riscv64-cross"},
		Triplet:             "riscv64-linux-gnu",
		CoreDynamicLinker:   "/lib/ld-linux-riscv64-lp64d.so.1",
	},
	"s390x": {
		Name: "s390x", Kernel: "s390", Deb: "s390x", UTSMachine: "s390x",
		CrossCompilerPrefix: "s390x-linux-gnu-",
		CrossBuildPackages:  []string{"gcc-s390x-linux-gnu", "libc6-dev-s390x-cross"},
		Triplet:             "s390x-linux-gnu",
		CoreDynamicLinker:   "/lib/ld64.so.1",
	},
}

// Lookup returns the Info for the given UTS machine name.
func Lookup(machine string) (Info, bool) {
	info, ok := Table[machine]
	return info, ok
}

// Host returns the UTS machine name of the system running the lifecycle, as
// approximated from runtime.GOARCH.
func Host() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "arm":
		return "armv7l"
	case "386":
		return "i686"
	case "riscv64":
		return "riscv64"
	case "s390x":
		return "s390x"
	case "ppc64le":
		return "ppc64le"
	case "ppc64":
		return "ppc"
	default:
		return runtime.GOARCH
	}
}

// CrossCompiling reports whether building for target differs from the host
// architecture.
func CrossCompiling(target string) bool {
	return target != Host()
}
