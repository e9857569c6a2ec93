package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/subcommands"

	"tx802mcp/internal/bank"
	"tx802mcp/internal/config"
	"tx802mcp/internal/device"
	"tx802mcp/internal/perform"
	"tx802mcp/internal/remote"
	"tx802mcp/internal/store"
	"tx802mcp/internal/transfer"
	"tx802mcp/internal/voice"
)

var errUsage = errors.New("usage")

// cmd is a subcommand. Commands marked device get the output port opened
// before run.
type cmd struct {
	name, synopsis, usage string
	minArgs               int
	device                bool
	setFlags              func(*flag.FlagSet)
	run                   func(ctx context.Context, a *app, args []string) error
}

func (c *cmd) Name() string     { return c.name }
func (c *cmd) Synopsis() string { return c.synopsis }
func (c *cmd) Usage() string {
	return fmt.Sprintf("%s %s:\n  %s\n", c.name, c.usage, c.synopsis)
}

func (c *cmd) SetFlags(f *flag.FlagSet) {
	if c.setFlags != nil {
		c.setFlags(f)
	}
}

func (c *cmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if len(f.Args()) < c.minArgs {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	a, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", c.name, err)
		return subcommands.ExitFailure
	}
	defer a.close()

	if c.device {
		if err := a.connect(); err != nil {
			a.log.Error("could not open MIDI output", "err", err)
			return subcommands.ExitFailure
		}
	}
	if err := c.run(ctx, a, f.Args()); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, c.Usage())
			return subcommands.ExitUsageError
		}
		a.log.Error(c.name+" failed", "err", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func libraryCommands() []subcommands.Command {
	return []subcommands.Command{
		portsCommand(),
		bankCreateCommand(),
		bankExtractCommand(),
		importCommand(),
		surpriseCommand(),
	}
}

func deviceCommands() []subcommands.Command {
	return []subcommands.Command{
		sendVoiceCommand(),
		sendBankCommand(),
		sendPerformanceCommand(),
		editCommand(),
		pressCommand(),
		initCommand(),
		playCommand(),
		voiceGetCommand(),
		voiceSetCommand(),
		tgStateCommand(),
		tgRestoreCommand(),
		forwardCommand(),
	}
}

func portsCommand() *cmd {
	return &cmd{
		name:     "ports",
		synopsis: "List MIDI input and output ports",
		run: func(_ context.Context, _ *app, _ []string) error {
			fmt.Println("Outputs:")
			for _, p := range device.OutPorts() {
				fmt.Printf("  %d: %s\n", p.Number, p.Name)
			}
			fmt.Println("Inputs:")
			for _, p := range device.InPorts() {
				fmt.Printf("  %d: %s\n", p.Number, p.Name)
			}
			return nil
		},
	}
}

func bankCreateCommand() *cmd {
	var out, ids string
	return &cmd{
		name:     "bank-create",
		usage:    "-out BANK.syx [-ids 1,2,3] [VOICE.syx ...]",
		synopsis: "Build a 32 voice bank from single voice files and library IDs",
		setFlags: func(f *flag.FlagSet) {
			f.StringVar(&out, "out", "", "Bank file to write")
			f.StringVar(&ids, "ids", "", "Comma separated library patch IDs")
		},
		run: func(_ context.Context, a *app, args []string) error {
			if out == "" || (len(args) == 0 && ids == "") {
				return errUsage
			}
			sources, errs := fileSources(args)
			if ids != "" {
				idList, err := parseIDs(ids)
				if err != nil {
					return err
				}
				lib, err := a.library()
				if err != nil {
					return err
				}
				more, moreErrs := librarySources(lib, idList)
				sources = append(sources, more...)
				errs = append(errs, moreErrs...)
			}
			for _, err := range errs {
				a.log.Warn("skipping voice", "err", err)
			}
			asm, err := createBank(a.log, sources, out)
			if err != nil {
				return err
			}
			for i, name := range asm.Names[:asm.Voices] {
				fmt.Printf("%2d  %s\n", i+1, name)
			}
			return nil
		},
	}
}

func bankExtractCommand() *cmd {
	var out, origin string
	var toDB, report bool
	return &cmd{
		name:     "bank-extract",
		usage:    "[-out DIR] [-db] [-origin NAME] [-report] BANK.syx",
		synopsis: "Split a bank into single voice files and/or the library",
		minArgs:  1,
		setFlags: func(f *flag.FlagSet) {
			f.StringVar(&out, "out", "", "Folder for the single voice files")
			f.BoolVar(&toDB, "db", false, "Store the voices in the library")
			f.StringVar(&origin, "origin", "", "Origin recorded in the library")
			f.BoolVar(&report, "report", false, "Write a parameter report next to each voice")
		},
		run: func(_ context.Context, a *app, args []string) error {
			if report && out == "" {
				return fmt.Errorf("%w: -report requires -out", errUsage)
			}
			var lib *store.Store
			if toDB {
				l, err := a.library()
				if err != nil {
					return err
				}
				lib = l
			}
			res, err := extractBank(a.log, args[0], out, lib, origin, report)
			fmt.Printf("voices: %d, files written: %d, stored: %d, duplicates: %d\n",
				res.Voices, res.Written, res.Inserted, res.Duplicates)
			return err
		},
	}
}

func importCommand() *cmd {
	var out string
	var report, dryRun bool
	return &cmd{
		name:     "import",
		usage:    "[-out DIR] [-report] [-dry-run] FOLDER",
		synopsis: "Import every bank below FOLDER into the library, using subfolder names as origin",
		minArgs:  1,
		setFlags: func(f *flag.FlagSet) {
			f.StringVar(&out, "out", "", "Also write single voice files below DIR")
			f.BoolVar(&report, "report", false, "Write parameter reports (requires -out)")
			f.BoolVar(&dryRun, "dry-run", false, "Only list what would be imported")
		},
		run: func(_ context.Context, a *app, args []string) error {
			if report && out == "" {
				return fmt.Errorf("%w: -report requires -out", errUsage)
			}
			var lib *store.Store
			if !dryRun {
				l, err := a.library()
				if err != nil {
					return err
				}
				lib = l
			}
			res, err := importFolder(a.log, args[0], lib, out, report, dryRun)
			fmt.Printf("bank files: %d, imported: %d, failed: %d, voices stored: %d, duplicates: %d\n",
				res.Files, res.Imported, res.Files-res.Imported, res.Inserted, res.Duplicates)
			return err
		},
	}
}

func surpriseCommand() *cmd {
	var count int
	return &cmd{
		name:     "surprise",
		usage:    "[-count N] BANK.syx",
		synopsis: "Build a bank from voices picked at random from the library",
		minArgs:  1,
		setFlags: func(f *flag.FlagSet) {
			f.IntVar(&count, "count", voice.BankVoices, "Number of voices (at most 32)")
		},
		run: func(_ context.Context, a *app, args []string) error {
			lib, err := a.library()
			if err != nil {
				return err
			}
			asm, err := surpriseBank(a.log, lib, count, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("created %s with %d voices\n", args[0], asm.Voices)
			return nil
		},
	}
}

func printResult(res *transfer.Result) {
	if res == nil {
		return
	}
	fmt.Printf("%s: %s (%d bytes", res.Kind, res.State(), res.Bytes)
	if res.Partial {
		fmt.Printf(", first %d voices only", res.Voices)
	}
	fmt.Println(")")
}

func sendFile(a *app, path string, stopAfter int) error {
	data, err := bank.ReadFile(path)
	if err != nil {
		return err
	}
	res, err := a.sendDump(data, stopAfter)
	printResult(res)
	return err
}

func sendVoiceCommand() *cmd {
	var id int64
	return &cmd{
		name:     "send-voice",
		usage:    "[-id N | VOICE.syx]",
		synopsis: "Send a single voice to the voice edit buffer",
		device:   true,
		setFlags: func(f *flag.FlagSet) {
			f.Int64Var(&id, "id", 0, "Library patch ID to send instead of a file")
		},
		run: func(_ context.Context, a *app, args []string) error {
			if id != 0 {
				p, res, err := a.sendLibraryVoice(id)
				if p != nil {
					fmt.Printf("sending '%s' (ID %d)\n", p.Name, p.ID)
				}
				printResult(res)
				return err
			}
			if len(args) == 0 {
				return errUsage
			}
			return sendFile(a, args[0], 0)
		},
	}
}

func sendBankCommand() *cmd {
	var stopAfter int
	return &cmd{
		name:     "send-bank",
		usage:    "[-stop-after N] BANK.syx",
		synopsis: "Send a 32 voice bank to internal memory",
		minArgs:  1,
		device:   true,
		setFlags: func(f *flag.FlagSet) {
			f.IntVar(&stopAfter, "stop-after", 0, "Send only the first N voices (1-31)")
		},
		run: func(_ context.Context, a *app, args []string) error {
			return sendFile(a, args[0], stopAfter)
		},
	}
}

func sendPerformanceCommand() *cmd {
	return &cmd{
		name:     "send-performance",
		usage:    "PERFORMANCES.syx",
		synopsis: "Send a performance bank",
		minArgs:  1,
		device:   true,
		run: func(_ context.Context, a *app, args []string) error {
			return sendFile(a, args[0], 0)
		},
	}
}

func editCommand() *cmd {
	return &cmd{
		name:     "edit",
		usage:    "KEY=VALUE[,KEY=VALUE...]",
		synopsis: "Change performance parameters, e.g. PRESET1=A12,OUTVOL1=90",
		minArgs:  1,
		device:   true,
		run: func(_ context.Context, a *app, args []string) error {
			edits, err := perform.ParseEdits(strings.Join(args, ","))
			if err != nil {
				return err
			}
			changes, err := a.edit(edits)
			for _, c := range changes {
				fmt.Printf("%s = %d\n", c.Key, c.Internal)
			}
			return err
		},
	}
}

func pressCommand() *cmd {
	return &cmd{
		name:     "press",
		usage:    "BUTTON[=N] ... | TEXT=... | WAIT[=s] | PRTCT_ON | PRTCT_OFF | POS1\n  buttons: " + strings.Join(remote.Buttons(), " "),
		synopsis: "Press front panel buttons remotely",
		minArgs:  1,
		device:   true,
		run: func(_ context.Context, a *app, args []string) error {
			return a.press(args)
		},
	}
}

func initCommand() *cmd {
	return &cmd{
		name:     "init",
		synopsis: "Reset the unit and bring it into a known state",
		device:   true,
		run: func(_ context.Context, a *app, _ []string) error {
			return a.initUnit()
		},
	}
}

func playCommand() *cmd {
	return &cmd{
		name:     "play",
		usage:    "[NOTES]",
		synopsis: "Play notes such as \"C3 E3 G3 r C4\", or the confirmation melody",
		device:   true,
		run: func(_ context.Context, a *app, args []string) error {
			return a.play(strings.Join(args, " "))
		},
	}
}

func voiceGetCommand() *cmd {
	var raw string
	return &cmd{
		name:     "voice-get",
		usage:    "[-syx FILE]",
		synopsis: "Read the voice edit buffer and print it as JSON",
		device:   true,
		setFlags: func(f *flag.FlagSet) {
			f.StringVar(&raw, "syx", "", "Also save the dump to FILE")
		},
		run: func(ctx context.Context, a *app, _ []string) error {
			listen, err := a.listener()
			if err != nil {
				return err
			}
			v, err := a.getVoice(ctx, listen)
			if err != nil {
				return err
			}
			if raw != "" {
				if err := bank.WriteFile(raw, voice.NewSingleMessage(v)); err != nil {
					return err
				}
			}
			asJSON, err := json.MarshalIndent(v.Params(), "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal voice to JSON: %w", err)
			}
			fmt.Println(string(asJSON))
			return nil
		},
	}
}

func voiceSetCommand() *cmd {
	return &cmd{
		name:     "voice-set",
		usage:    "[VOICE.json]",
		synopsis: "Send a voice given as JSON (file or stdin) to the voice edit buffer",
		device:   true,
		run: func(_ context.Context, a *app, args []string) error {
			var r io.Reader = os.Stdin
			if len(args) > 0 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			var p voice.Params
			if err := json.NewDecoder(r).Decode(&p); err != nil {
				return fmt.Errorf("failed to unmarshal voice JSON: %w", err)
			}
			res, err := a.setVoice(p)
			printResult(res)
			return err
		},
	}
}

func tgStateCommand() *cmd {
	var tg int
	return &cmd{
		name:     "tg-state",
		usage:    "[-tg N]",
		synopsis: "Show the last values sent to each tone generator",
		setFlags: func(f *flag.FlagSet) {
			f.IntVar(&tg, "tg", 0, "Only this tone generator (1-8)")
		},
		run: func(_ context.Context, a *app, _ []string) error {
			text, err := tgStateText(a.tgMirror(), tg)
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		},
	}
}

func tgRestoreCommand() *cmd {
	var tg int
	return &cmd{
		name:     "tg-restore",
		usage:    "[-tg N]",
		synopsis: "Send the remembered tone generator settings to the unit again",
		device:   true,
		setFlags: func(f *flag.FlagSet) {
			f.IntVar(&tg, "tg", 0, "Only this tone generator (1-8)")
		},
		run: func(_ context.Context, a *app, _ []string) error {
			changes, err := a.restoreTG(tg)
			fmt.Printf("sent %d parameter changes\n", len(changes))
			return err
		},
	}
}

func forwardCommand() *cmd {
	var watch bool
	return &cmd{
		name:     "forward",
		usage:    "[-watch=false]",
		synopsis: "Relay notes and controllers from the input port to the unit until interrupted",
		device:   true,
		setFlags: func(f *flag.FlagSet) {
			f.BoolVar(&watch, "watch", true, "Follow port changes in the configuration file")
		},
		run: func(ctx context.Context, a *app, _ []string) error {
			listen, err := a.listener()
			if err != nil {
				return err
			}
			fw := device.NewForwarder(a.tx, listen)
			if err := fw.Start(ctx); err != nil {
				return err
			}
			if watch {
				ports := a.config().MIDI
				stop := a.watchConfig(func(cfg *config.Config) {
					if err := a.retarget(fw, ports, cfg.MIDI); err != nil {
						a.log.Warn("ports not switched", "err", err)
					}
					ports = cfg.MIDI
				})
				defer stop()
			}
			a.log.Info("forwarding, press Ctrl-C to stop")
			<-ctx.Done()
			fw.Stop()
			n, dropped := fw.Stats()
			fmt.Printf("forwarded %d messages, dropped %d\n", n, dropped)
			return nil
		},
	}
}

func configCommand() *cmd {
	var write bool
	return &cmd{
		name:     "config",
		usage:    "[-write]",
		synopsis: "Print the effective configuration, or write it to the config file",
		setFlags: func(f *flag.FlagSet) {
			f.BoolVar(&write, "write", false, "Save to the configuration file")
		},
		run: func(_ context.Context, a *app, _ []string) error {
			cfg := a.config()
			if write {
				path := a.cfgPath
				if path == "" {
					path = config.ConfigPath()
				}
				if err := config.Save(cfg, path); err != nil {
					return err
				}
				fmt.Println("wrote", path)
				return nil
			}
			var buf bytes.Buffer
			if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
				return err
			}
			fmt.Print(buf.String())
			return nil
		},
	}
}

// tgStateText renders the mirror for one tone generator, or all when tg
// is 0.
func tgStateText(m *perform.Mirror, tg int) (string, error) {
	var b strings.Builder
	first, last := 1, perform.ToneGenerators
	if tg != 0 {
		if _, ok := m.TG(tg); !ok {
			return "", fmt.Errorf("tone generator must be 1-%d, got %d", perform.ToneGenerators, tg)
		}
		first, last = tg, tg
	}
	for i := first; i <= last; i++ {
		s, _ := m.TG(i)
		fmt.Fprintf(&b, "TG%d: %-3s preset %s  rx %s  notes %s-%s  detune %s  shift %s  vol %s  pan %s  fdamp %s\n",
			i, s.TG, s.Preset, s.RXCH, s.NoteLow, s.NoteHigh, s.Detune, s.NoteShift, s.OutVol, s.Pan, s.FDamp)
	}
	return b.String(), nil
}
