package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Args is the typed form of the training command line. Fields are
// statically known; the harness overwrites them through ArgOverrides
// rather than poking attributes by name.
type Args struct {
	Mode       string
	Identifier string
	Seed       int64
	ConfigYML  string
	RunDir     string
	LogDir     string
	Checkpoint string
	PrintEvery int
	CPU        bool
	Debug      bool
}

// ArgOverrides carries optional replacements for Args fields. Pointer
// fields distinguish "not set" from zero values.
type ArgOverrides struct {
	Mode       *string
	Identifier *string
	Seed       *int64
	ConfigYML  *string
	RunDir     *string
	LogDir     *string
	Checkpoint *string
	PrintEvery *int
	CPU        *bool
	Debug      *bool
}

// Apply overwrites the set fields of args.
func (o *ArgOverrides) Apply(args *Args) {
	if o.Mode != nil {
		args.Mode = *o.Mode
	}
	if o.Identifier != nil {
		args.Identifier = *o.Identifier
	}
	if o.Seed != nil {
		args.Seed = *o.Seed
	}
	if o.ConfigYML != nil {
		args.ConfigYML = *o.ConfigYML
	}
	if o.RunDir != nil {
		args.RunDir = *o.RunDir
	}
	if o.LogDir != nil {
		args.LogDir = *o.LogDir
	}
	if o.Checkpoint != nil {
		args.Checkpoint = *o.Checkpoint
	}
	if o.PrintEvery != nil {
		args.PrintEvery = *o.PrintEvery
	}
	if o.CPU != nil {
		args.CPU = *o.CPU
	}
	if o.Debug != nil {
		args.Debug = *o.Debug
	}
}

// BaselineArgs is the fixed argument vector every orchestrated run
// starts from; run-specific fields are overwritten afterwards.
func BaselineArgs() []string {
	return []string{"--mode", "train", "--seed", "100", "--config-yml", "config.yml", "--cpu"}
}

func newFlagSet(args *Args) *pflag.FlagSet {
	fs := pflag.NewFlagSet("train", pflag.ContinueOnError)
	fs.StringVar(&args.Mode, "mode", "", "Run mode (train/predict/validate)")
	fs.StringVar(&args.Identifier, "identifier", "", "Experiment identifier")
	fs.Int64Var(&args.Seed, "seed", 0, "Random seed")
	fs.StringVar(&args.ConfigYML, "config-yml", "", "Path to the run configuration")
	fs.StringVar(&args.RunDir, "run-dir", "./", "Run output directory")
	fs.StringVar(&args.LogDir, "logdir", "logs", "Event log directory")
	fs.StringVar(&args.Checkpoint, "checkpoint", "", "Checkpoint to resume from")
	fs.IntVar(&args.PrintEvery, "print-every", 10, "Steps between log lines")
	fs.BoolVar(&args.CPU, "cpu", false, "Run on CPU only")
	fs.BoolVar(&args.Debug, "debug", false, "Debug mode")
	return fs
}

// ParseKnown parses the known training flags out of argv and returns
// the typed arguments plus the leftover, unrecognized arguments. The
// leftovers are kept verbatim so they can be applied as configuration
// overrides by Build.
func ParseKnown(argv []string) (*Args, []string, error) {
	var args Args
	fs := newFlagSet(&args)

	var known []string
	var leftover []string
	for i := 0; i < len(argv); i++ {
		a := argv[i]
		if name, ok := flagName(a); ok && fs.Lookup(name) == nil {
			leftover = append(leftover, a)
			// Unrecognized flag without inline value consumes the
			// next bare argument as its value.
			if !strings.Contains(a, "=") && i+1 < len(argv) && !strings.HasPrefix(argv[i+1], "-") {
				i++
				leftover = append(leftover, argv[i])
			}
			continue
		}
		known = append(known, a)
	}

	if err := fs.Parse(known); err != nil {
		return nil, nil, fmt.Errorf("failed to parse arguments: %w", err)
	}

	return &args, leftover, nil
}

func flagName(arg string) (string, bool) {
	if !strings.HasPrefix(arg, "--") {
		return "", false
	}
	name := strings.TrimPrefix(arg, "--")
	if eq := strings.Index(name, "="); eq >= 0 {
		name = name[:eq]
	}
	if name == "" {
		return "", false
	}
	return name, true
}

// RunConfig is the final configuration handed to a Runner: the typed
// arguments plus the fully merged document.
type RunConfig struct {
	Args Args
	Doc  Document
}

// Build loads the document named by args.ConfigYML, applies the
// leftover --dotted.key=value override arguments onto it, and reflects
// the typed arguments into the document tree.
func Build(args *Args, overrideArgs []string) (*RunConfig, error) {
	doc, err := LoadDocument(args.ConfigYML)
	if err != nil {
		return nil, err
	}

	overrides, err := parseOverrideArgs(overrideArgs)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		SetPath(doc, o.path, o.value)
	}

	doc["mode"] = args.Mode
	doc["seed"] = args.Seed
	doc["run_dir"] = args.RunDir
	doc["logdir"] = args.LogDir
	doc["cpu"] = args.CPU
	if args.Identifier != "" {
		doc["identifier"] = args.Identifier
	}
	if args.Checkpoint != "" {
		doc["checkpoint"] = args.Checkpoint
	}

	return &RunConfig{Args: *args, Doc: doc}, nil
}

type override struct {
	path  string
	value any
}

// parseOverrideArgs interprets leftover arguments as configuration
// overrides of the form --optim.lr=0.001 or "--optim.lr 0.001". Values
// are parsed as YAML scalars so numbers and booleans keep their type.
func parseOverrideArgs(argv []string) ([]override, error) {
	var out []override
	for i := 0; i < len(argv); i++ {
		name, ok := flagName(argv[i])
		if !ok {
			return nil, fmt.Errorf("invalid override argument: %s (expected --key=value)", argv[i])
		}

		var raw string
		if eq := strings.Index(argv[i], "="); eq >= 0 {
			raw = argv[i][eq+1:]
		} else {
			if i+1 >= len(argv) || strings.HasPrefix(argv[i+1], "-") {
				return nil, fmt.Errorf("override argument %s is missing a value", argv[i])
			}
			i++
			raw = argv[i]
		}

		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		out = append(out, override{path: name, value: value})
	}
	return out, nil
}
