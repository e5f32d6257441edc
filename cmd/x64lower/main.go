package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/arch/x86/x86asm"

	"github.com/sfilabs/x64lower"
	"github.com/sfilabs/x64lower/internal/backend"
	"github.com/sfilabs/x64lower/internal/backend/isa/amd64"
	"github.com/sfilabs/x64lower/internal/backend/regalloc"
	"github.com/sfilabs/x64lower/internal/logging"
	"github.com/sfilabs/x64lower/internal/version"
)

func main() {
	doMain(os.Stdout, os.Stderr, os.Exit)
}

// doMain is separated out for the purpose of unit testing.
func doMain(stdOut io.Writer, stdErr io.Writer, exit func(code int)) {
	flag.CommandLine.SetOutput(stdErr)

	var help bool
	flag.BoolVar(&help, "h", false, "print usage")

	flag.Parse()

	if help || flag.NArg() == 0 {
		printUsage(stdErr)
		exit(0)
	}

	subCmd := flag.Arg(0)
	switch subCmd {
	case "regs":
		doRegs(flag.Args()[1:], stdOut, stdErr, exit)
	case "conds":
		fmt.Fprint(stdOut, amd64.FormatConditionTables())
		exit(0)
	case "frame":
		doFrame(flag.Args()[1:], stdOut, stdErr, exit)
	case "version":
		fmt.Fprintln(stdOut, version.GetVersion())
		exit(0)
	default:
		fmt.Fprintln(stdErr, "invalid command")
		printUsage(stdErr)
		exit(1)
	}
}

func doRegs(args []string, stdOut, stdErr io.Writer, exit func(code int)) {
	flags := flag.NewFlagSet("regs", flag.ExitOnError)
	flags.SetOutput(stdErr)

	var help bool
	flags.BoolVar(&help, "h", false, "print usage")

	var subTarget string
	flags.StringVar(&subTarget, "subtarget", amd64.SubTargetSysV.String(), "calling convention: sysv or win64")

	var seed int64
	flags.Int64Var(&seed, "randomize-seed", 0,
		"print the register permutation derived from this seed. Zero disables the permutation.")

	_ = flags.Parse(args)

	if help {
		printSubUsage(stdErr, "regs <options>", flags)
		exit(0)
	}

	st, err := amd64.ParseSubTarget(subTarget)
	if err != nil {
		fmt.Fprintf(stdErr, "invalid subtarget: %v\n", err)
		exit(1)
	}

	ctx, err := amd64.StaticInit(context.Background())
	if err != nil {
		fmt.Fprintf(stdErr, "error initializing targets: %v\n", err)
		exit(1)
	}
	d, err := amd64.TargetDescriptorFromContext(ctx, st)
	if err != nil {
		fmt.Fprintf(stdErr, "error initializing targets: %v\n", err)
		exit(1)
	}

	var perm []regalloc.RealReg
	if seed != 0 {
		perm = d.BuildRandomPermutation(seed, regalloc.NewRegSet())
	}
	fmt.Fprintf(stdOut, "# %s\n", d.Name())
	fmt.Fprint(stdOut, d.FormatRegisterCatalog(perm))
	exit(0)
}

func doFrame(args []string, stdOut, stdErr io.Writer, exit func(code int)) {
	flags := flag.NewFlagSet("frame", flag.ExitOnError)
	flags.SetOutput(stdErr)

	var help bool
	flags.BoolVar(&help, "h", false, "print usage")

	var sandbox bool
	flags.BoolVar(&sandbox, "sandbox", false, "emit sandboxed code")

	var bundleLog2 uint
	flags.UintVar(&bundleLog2, "bundle-log2", backend.DefaultBundleAlignLog2, "log2 of the bundle size")

	var isa string
	flags.StringVar(&isa, "isa", "", "instruction set: sse2, sse4.1, avx or avx2. Defaults to the host's.")

	var subTarget string
	flags.StringVar(&subTarget, "subtarget", "", "calling convention: sysv or win64")

	var stack int
	flags.IntVar(&stack, "stack", 32, "bytes of stack to reserve in the frame")

	var logScopes string
	flags.StringVar(&logScopes, "log", "",
		"comma-separated list of lowering events to write to stderr: frame, sandbox, call, bundle, encode or all")

	var disasm bool
	flags.BoolVar(&disasm, "disasm", false, "disassemble the encoded function")

	_ = flags.Parse(args)

	if help {
		printSubUsage(stdErr, "frame <options>", flags)
		exit(0)
	}

	// Flags which are set take precedence over the environment.
	cfg, err := x64lower.NewLoweringConfigFromEnv(stdErr)
	if err != nil {
		fmt.Fprintf(stdErr, "invalid environment: %v\n", err)
		exit(1)
	}
	var flagErr error
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "sandbox":
			cfg = cfg.WithSandbox(sandbox)
		case "bundle-log2":
			cfg = cfg.WithBundleAlignLog2(byte(bundleLog2))
		case "isa":
			var i amd64.InstructionSet
			if i, err = amd64.ParseInstructionSet(isa); err != nil {
				flagErr = err
			}
			cfg = cfg.WithInstructionSet(i)
		case "subtarget":
			var st amd64.SubTarget
			if st, err = amd64.ParseSubTarget(subTarget); err != nil {
				flagErr = err
			}
			cfg = cfg.WithSubTarget(st)
		case "log":
			var scopes logging.LogScopes
			if scopes, err = logging.ParseLogScopes(logScopes); err != nil {
				flagErr = err
			}
			cfg = cfg.WithLogWriter(stdErr, scopes)
		}
	})
	if flagErr != nil {
		fmt.Fprintf(stdErr, "invalid flag: %v\n", flagErr)
		exit(1)
	}
	if stack < 0 || stack%amd64.StackAlignment != 0 {
		fmt.Fprintf(stdErr, "invalid stack size %d: must be a non-negative multiple of %d\n", stack, amd64.StackAlignment)
		exit(1)
	}

	code, listing, err := lowerFrame(cfg, int32(stack))
	if err != nil {
		fmt.Fprintf(stdErr, "error lowering frame: %v\n", err)
		exit(1)
	}

	fmt.Fprintf(stdOut, "# %s\n", cfg)
	fmt.Fprint(stdOut, listing)
	fmt.Fprintln(stdOut, hex.EncodeToString(code.Bytes))
	for _, f := range code.Fixups {
		fmt.Fprintf(stdOut, "fixup %s at %#x\n", f, f.Offset)
	}
	if disasm {
		printDisasm(stdOut, code.Bytes)
	}
	exit(0)
}

// lowerFrame lowers a function which sets up a frame, reserves stack bytes
// of stack and returns.
func lowerFrame(cfg *x64lower.LoweringConfig, stack int32) (*x64lower.Code, string, error) {
	ctx, err := x64lower.StaticInit(context.Background(), cfg)
	if err != nil {
		return nil, "", err
	}
	f, err := x64lower.NewFunction(ctx, cfg, "frame")
	if err != nil {
		return nil, "", err
	}
	m := f.Machine()
	m.EstablishFrame()
	if stack > 0 {
		m.DecrementStackPointer(stack)
		m.IncrementStackPointer(stack)
	}
	m.TearDownFrame()
	if err = m.LowerReturn(nil); err != nil {
		return nil, "", err
	}
	code, err := f.Finish()
	if err != nil {
		return nil, "", err
	}
	return code, f.Format(), nil
}

// printDisasm writes one line per instruction of code in GNU syntax.
func printDisasm(w io.Writer, code []byte) {
	for pc := 0; pc < len(code); {
		inst, err := x86asm.Decode(code[pc:], 64)
		if err != nil {
			fmt.Fprintf(w, "0x%04x\t%02x\t(bad)\n", pc, code[pc])
			pc++
			continue
		}
		fmt.Fprintf(w, "0x%04x\t% x\t%s\n", pc, code[pc:pc+inst.Len], x86asm.GNUSyntax(inst, uint64(pc), nil))
		pc += inst.Len
	}
}

func printUsage(stdErr io.Writer) {
	fmt.Fprintln(stdErr, "x64lower CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  x64lower <command>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Commands:")
	fmt.Fprintln(stdErr, "  regs\t\tPrints the register catalog")
	fmt.Fprintln(stdErr, "  conds\t\tPrints the condition tables")
	fmt.Fprintln(stdErr, "  frame\t\tLowers a function frame and prints its code")
	fmt.Fprintln(stdErr, "  version\tDisplays the version of x64lower CLI")
}

func printSubUsage(stdErr io.Writer, usage string, flags *flag.FlagSet) {
	fmt.Fprintln(stdErr, "x64lower CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  x64lower "+usage)
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Options:")
	flags.PrintDefaults()
}
