package main

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
	"github.com/spf13/pflag"

	"github.com/ksco/machold/pkg/linker"
)

// ingestConfig collects everything the driver needs to build a
// linker.Options: values start at their defaults, may be overridden by
// an optional machold.toml (§6's "external option-parser collaborator",
// demonstrated here rather than fully reimplemented), and finally by
// command-line flags, which win over the file whenever they change a
// default.
type ingestConfig struct {
	arch          string
	platform      string
	minOS         string
	outputKind    string
	flatNamespace bool
	bitcode       string
	ignoreArch    bool
	subArchExact  bool

	librarySearchPaths   []string
	frameworkSearchPaths []string
	rpaths               []string

	traceDylibs   bool
	traceArchives bool
	traceFile     string
	pipelineFIFO  string
	bundleLoader  string

	configPath string
}

func newIngestConfig() *ingestConfig {
	return &ingestConfig{
		arch:       "x86_64",
		platform:   "macos",
		minOS:      "10.13",
		outputKind: "dynamic-executable",
		bitcode:    "none",
		configPath: "machold.toml",
	}
}

func (c *ingestConfig) bindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.arch, "arch", c.arch, "target CPU architecture")
	fs.StringVar(&c.platform, "platform", c.platform, "target platform")
	fs.StringVar(&c.minOS, "min-os", c.minOS, "minimum OS version (major.minor)")
	fs.StringVar(&c.outputKind, "output-kind", c.outputKind, "output image kind")
	fs.BoolVar(&c.flatNamespace, "flat_namespace", c.flatNamespace, "resolve symbols in flat namespace")
	fs.StringVar(&c.bitcode, "bitcode", c.bitcode, "LTO bitcode handling: none, marker, embed")
	fs.BoolVar(&c.ignoreArch, "ignore_other_arch", c.ignoreArch, "downgrade architecture mismatches to warnings")
	fs.BoolVar(&c.subArchExact, "exact_subarch", c.subArchExact, "require an exact CPU subtype match in fat slices")
	fs.StringArrayVarP(&c.librarySearchPaths, "library-path", "L", nil, "add `dir` to the library search path")
	fs.StringArrayVarP(&c.frameworkSearchPaths, "framework-path", "F", nil, "add `dir` to the framework search path")
	fs.StringArrayVar(&c.rpaths, "rpath", nil, "add `dir` to the @rpath search list")
	fs.BoolVar(&c.traceDylibs, "trace_dylibs", c.traceDylibs, "log every dylib resolution")
	fs.BoolVar(&c.traceArchives, "trace_archives", c.traceArchives, "log every archive member extraction")
	fs.StringVar(&c.traceFile, "trace-file", "", "path for trace output (defaults to $LD_TRACE_FILE, else stderr)")
	fs.StringVar(&c.pipelineFIFO, "pipe-file-list", "", "FIFO path streaming compiler outputs as they finish")
	fs.StringVar(&c.bundleLoader, "bundle_loader", "", "executable this bundle will be loaded into")
	fs.StringVar(&c.configPath, "config", c.configPath, "path to a machold.toml overriding these defaults")
}

// loadConfigFile applies machold.toml settings to fields the command line
// left at their built-in default, so a project-local config can supply
// defaults for a build system that never speaks these flags. A flag given
// explicitly with its default value cannot be told apart from an unset
// one, so the file's value replaces it. Search paths from the file are
// appended after those given on the command line.
func (c *ingestConfig) loadConfigFile() error {
	data, err := os.ReadFile(c.configPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", c.configPath, err)
	}

	var file struct {
		Arch       string   `toml:"arch"`
		Platform   string   `toml:"platform"`
		MinOS      string   `toml:"min_os"`
		OutputKind string   `toml:"output_kind"`
		LibPaths   []string `toml:"library_paths"`
		FwkPaths   []string `toml:"framework_paths"`
	}
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", c.configPath, err)
	}

	def := newIngestConfig()
	if file.Arch != "" && c.arch == def.arch {
		c.arch = file.Arch
	}
	if file.Platform != "" && c.platform == def.platform {
		c.platform = file.Platform
	}
	if file.MinOS != "" && c.minOS == def.minOS {
		c.minOS = file.MinOS
	}
	if file.OutputKind != "" && c.outputKind == def.outputKind {
		c.outputKind = file.OutputKind
	}
	c.librarySearchPaths = append(c.librarySearchPaths, file.LibPaths...)
	c.frameworkSearchPaths = append(c.frameworkSearchPaths, file.FwkPaths...)
	return nil
}

func (c *ingestConfig) toOptions(inputPaths []string) (linker.Options, error) {
	arch, err := parseArch(c.arch)
	if err != nil {
		return linker.Options{}, err
	}
	platform, err := parsePlatform(c.platform)
	if err != nil {
		return linker.Options{}, err
	}
	minOS, err := parseMinOS(c.minOS)
	if err != nil {
		return linker.Options{}, err
	}
	outputKind, err := parseOutputKind(c.outputKind)
	if err != nil {
		return linker.Options{}, err
	}
	bitcodeMode, err := parseBitcodeMode(c.bitcode)
	if err != nil {
		return linker.Options{}, err
	}

	namespace := linker.NamespaceTwoLevel
	if c.flatNamespace {
		namespace = linker.NamespaceFlat
	}

	traceFile := c.traceFile
	if traceFile == "" {
		traceFile = os.Getenv("LD_TRACE_FILE")
	}

	inputs := make([]linker.InputDescriptor, len(inputPaths))
	for i, p := range inputPaths {
		st, statErr := os.Stat(p)
		length := int64(0)
		if statErr == nil {
			length = st.Size()
		}
		inputs[i] = linker.InputDescriptor{Path: p, Length: length}
	}

	return linker.Options{
		CPUType:         arch,
		SubArchExact:    c.subArchExact,
		Platform:        platform,
		MinOSVersion:    minOS,
		OutputKind:      outputKind,
		Namespace:       namespace,
		BitcodeMode:     bitcodeMode,
		IgnoreOtherArch: c.ignoreArch,

		LibrarySearchPaths:   c.librarySearchPaths,
		FrameworkSearchPaths: c.frameworkSearchPaths,
		RPaths:               c.rpaths,

		TraceDylibs:   c.traceDylibs,
		TraceArchives: c.traceArchives,
		TraceFile:     traceFile,

		PipelineFIFO:     c.pipelineFIFO,
		BundleLoaderPath: c.bundleLoader,

		Inputs: inputs,
	}, nil
}

func parseArch(s string) (linker.CPUType, error) {
	switch s {
	case "x86_64":
		return linker.CPUTypeX8664, nil
	case "i386":
		return linker.CPUTypeI386, nil
	case "arm64":
		return linker.CPUTypeArm64, nil
	case "arm":
		return linker.CPUTypeArm, nil
	default:
		return 0, fmt.Errorf("unknown -arch %q", s)
	}
}

func parsePlatform(s string) (linker.Platform, error) {
	switch s {
	case "macos":
		return linker.PlatformMacOS, nil
	case "ios":
		return linker.PlatformIOS, nil
	case "ios-simulator":
		return linker.PlatformIOSSimulator, nil
	case "tvos":
		return linker.PlatformTVOS, nil
	case "tvos-simulator":
		return linker.PlatformTVOSSimulator, nil
	case "watchos":
		return linker.PlatformWatchOS, nil
	case "watchos-simulator":
		return linker.PlatformWatchOSSimulator, nil
	default:
		return 0, fmt.Errorf("unknown -platform %q", s)
	}
}

func parseMinOS(s string) (linker.Version, error) {
	var major, minor uint8
	if _, err := fmt.Sscanf(s, "%d.%d", &major, &minor); err != nil {
		return 0, fmt.Errorf("bad -min-os %q: %w", s, err)
	}
	return linker.NewVersion(major, minor, 0), nil
}

func parseOutputKind(s string) (linker.OutputKind, error) {
	switch s {
	case "dynamic-executable":
		return linker.OutputDynamicExecutable, nil
	case "dynamic-library":
		return linker.OutputDynamicLibrary, nil
	case "dynamic-bundle":
		return linker.OutputDynamicBundle, nil
	case "static-executable":
		return linker.OutputStaticExecutable, nil
	case "dyld":
		return linker.OutputDyld, nil
	case "preload":
		return linker.OutputPreload, nil
	case "object-file":
		return linker.OutputObjectFile, nil
	case "kext-bundle":
		return linker.OutputKextBundle, nil
	default:
		return 0, fmt.Errorf("unknown -output-kind %q", s)
	}
}

func parseBitcodeMode(s string) (linker.BitcodeMode, error) {
	switch s {
	case "none":
		return linker.BitcodeModeNone, nil
	case "marker":
		return linker.BitcodeModeMarker, nil
	case "embed":
		return linker.BitcodeModeEmbed, nil
	default:
		return 0, fmt.Errorf("unknown -bitcode %q", s)
	}
}
