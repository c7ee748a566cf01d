// Command bf is the command-line front end for the compiler, interpreter,
// and emitter packages. Flag parsing and exit-code policy live here so
// the core packages stay free of os.Exit and flag state.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tinybf/bfc/compiler"
	"github.com/tinybf/bfc/emit"
	"github.com/tinybf/bfc/internal/bferrors"
	"github.com/tinybf/bfc/interp"
)

var (
	flagExpr     string
	flagPrint    bool
	flagOptLevel int
	flagTarget   string
	flagOutput   string
	flagDumpIR   bool
	flagHeapSize int
	flagVerbose  bool
)

func main() {
	root := &cobra.Command{
		Use:           "bf [file]",
		Short:         "An optimizing Brainfuck compiler and execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
		RunE:          run,
	}

	root.Flags().StringVarP(&flagExpr, "expr", "e", "", "treat SRC as inline Brainfuck source")
	root.Flags().BoolVarP(&flagPrint, "trim", "m", false, "print the trimmed source and exit")
	root.Flags().IntVarP(&flagOptLevel, "opt", "O", 1, "0: direct interpreter; 1: IR interpreter; 2: JIT")
	root.Flags().StringVarP(&flagTarget, "target", "t", "", "emit to TARGET and exit (c, xbyakc, winx86, winx64, elfx86, elfx64, elfarmeabi)")
	root.Flags().StringVarP(&flagOutput, "output", "o", "", "output path (defaults: .c for C, .exe for PE, .out for ELF)")
	root.Flags().BoolVar(&flagDumpIR, "dump-ir", false, "print IR opcodes one per line")
	root.Flags().IntVar(&flagHeapSize, "heap-size", interp.DefaultHeapSize, "tape size")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "raise log level to debug")

	if err := root.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if flagVerbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	src, err := readSource(args)
	if err != nil {
		return errors.Wrap(bferrors.ErrIOFailure, err.Error())
	}

	trimmed := compiler.Trim(src)
	if flagPrint {
		os.Stdout.Write(trimmed)
		os.Stdout.Write([]byte("\n"))
		return nil
	}

	if flagTarget != "" {
		return emitTarget(trimmed)
	}

	prog, err := compiler.Compile(trimmed)
	if err != nil {
		return err
	}

	if flagDumpIR {
		for _, line := range prog.Dump() {
			fmt.Println(line)
		}
		return nil
	}

	switch flagOptLevel {
	case 0:
		return interp.RunDirect(trimmed, os.Stdin, os.Stdout, flagHeapSize)
	case 2:
		return runJIT(prog)
	default:
		m := interp.New(interp.WithHeapSize(flagHeapSize), interp.WithIO(os.Stdin, os.Stdout))
		return m.Run(context.Background(), prog)
	}
}

// readSource resolves the program source from -e, a positional file
// argument, or stdin-as-"-".
func readSource(args []string) ([]byte, error) {
	if flagExpr != "" {
		return []byte(flagExpr), nil
	}
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(args[0])
}

// emitTarget compiles src and lowers it through the backend named by
// flagTarget, writing the result to flagOutput (or the target's default
// extension) and exiting without running the program.
func emitTarget(src []byte) error {
	prog, err := compiler.Compile(src)
	if err != nil {
		return err
	}

	var (
		out        []byte
		defaultExt string
	)
	switch flagTarget {
	case "c":
		var buf bytes.Buffer
		b := emit.NewCBackend(&buf)
		emit.Emit(prog, b)
		if err := b.Flush(); err != nil {
			return errors.Wrap(bferrors.ErrIOFailure, err.Error())
		}
		out, defaultExt = buf.Bytes(), ".c"
	case "elfx64":
		b := emit.NewELFX64Backend()
		emit.Emit(prog, b)
		out, defaultExt = b.Bytes(), ".out"
	case "elfx86":
		b := emit.NewELFX86Backend()
		emit.Emit(prog, b)
		out, defaultExt = b.Bytes(), ".out"
	case "elfarmeabi":
		b := emit.NewELFArmBackend()
		emit.Emit(prog, b)
		if err := b.Err(); err != nil {
			return err
		}
		out, defaultExt = b.Bytes(), ".out"
	case "winx64":
		b := emit.NewPEX64Backend()
		emit.Emit(prog, b)
		out, defaultExt = b.Bytes(), ".exe"
	case "winx86":
		b := emit.NewPEX86Backend()
		emit.Emit(prog, b)
		out, defaultExt = b.Bytes(), ".exe"
	case "xbyakc":
		var derr error
		out, defaultExt, derr = dumpXbyakC(prog)
		if derr != nil {
			return derr
		}
	default:
		return errors.Wrapf(bferrors.ErrInvalidTarget, "%q", flagTarget)
	}

	path := flagOutput
	if path == "" {
		path = "a" + defaultExt
	}
	if err := os.WriteFile(path, out, 0o755); err != nil {
		return errors.Wrap(bferrors.ErrIOFailure, err.Error())
	}
	return nil
}

// runJIT and dumpXbyakC are implemented per-platform in jit_linux_amd64.go
// (the real JIT backend) and jit_unsupported.go (every other GOOS/GOARCH,
// where -O 2 and -t xbyakc report ErrInvalidTarget instead of compiling).
