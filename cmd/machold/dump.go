package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"
	"golang.org/x/term"

	"github.com/ksco/machold/pkg/linker"
)

var (
	fileColorFG  = pterm.FgLightBlue
	dylibColorFG = pterm.FgLightGreen
	warnColorFG  = pterm.FgYellow
	headingStyle = pterm.NewStyle(pterm.BgLightBlue, pterm.FgBlack)
)

func colorEnabled() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

// printDependencyDump renders the ingested file set and resolved dylib
// index, the human-facing counterpart to the "[Logging for XBS]" lines a
// TraceWriter emits for build-system consumption.
func printDependencyDump(files []linker.File, dylibs []*linker.Dylib, orch *linker.Orchestrator) {
	if !colorEnabled() {
		pterm.DisableColor()
	}
	width := terminalWidth()

	headingStyle.Println(pterm.Sprintf(" INPUT FILES (%d) ", len(files)))
	for _, f := range files {
		printFileLine(f, width)
	}

	headingStyle.Println(pterm.Sprintf(" DYLIBS (%d) ", len(dylibs)))
	for _, d := range dylibs {
		printDylibLine(d)
	}

	filesProbed, bytesMapped := orch.Stats()
	fmt.Printf("%d files probed, %s mapped\n", filesProbed, humanize.Bytes(uint64(bytesMapped)))
}

func printFileLine(f linker.File, width int) {
	label := f.Kind().String()
	switch f.Kind() {
	case linker.FileKindIgnored:
		warnColorFG.Print(pad(label, 10))
	default:
		fileColorFG.Print(pad(label, 10))
	}
	line := f.Path()
	if maxLine := width - 12; maxLine > 10 && len(line) > maxLine {
		line = "..." + line[len(line)-maxLine+3:]
	}
	fmt.Println(line)
}

func printDylibLine(d *linker.Dylib) {
	dylibColorFG.Print(pad(d.InstallPath, 40))
	flags := d.Flags()
	tags := make([]string, 0, 3)
	if flags.ExplicitlyLinked {
		tags = append(tags, "explicit")
	}
	if flags.ImplicitlyLinked {
		tags = append(tags, "implicit")
	}
	if flags.WillBeReExported {
		tags = append(tags, "reexported")
	}
	fmt.Printf(" %s [%v]\n", d.CurrentVersion, tags)
}

func pad(s string, n int) string {
	if len(s) >= n {
		return s + " "
	}
	return s + strings.Repeat(" ", n-len(s))
}
