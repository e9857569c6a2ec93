package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	_ "embed"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"tx802mcp/internal/bank"
	"tx802mcp/internal/config"
	"tx802mcp/internal/perform"
	"tx802mcp/internal/remote"
	"tx802mcp/internal/transfer"
	"tx802mcp/internal/voice"
)

//go:embed tx802_sysex_reference.txt
var sysexDoc string

func mcpCommand() *cmd {
	var watch bool
	return &cmd{
		name:     "mcp",
		synopsis: "Serve the TX802 tools over MCP on stdio",
		device:   true,
		setFlags: func(f *flag.FlagSet) {
			f.BoolVar(&watch, "watch", true, "Reload the configuration file when it changes")
		},
		run: func(ctx context.Context, a *app, _ []string) error {
			if watch {
				stop := a.watchConfig()
				defer stop()
			}
			a.log.Info("starting TX802 MCP server")
			return server.ServeStdio(a.mcpServer())
		},
	}
}

// watchConfig reloads timing and library settings while a long running
// command is active. hooks see each new configuration before it is
// installed.
func (a *app) watchConfig(hooks ...func(*config.Config)) func() {
	l := config.NewLoader(a.cfgPath)
	for _, h := range hooks {
		l.OnChange(h)
	}
	l.OnChange(a.setConfig)
	if err := l.Watch(); err != nil {
		a.log.Warn("not watching configuration", "path", l.Path(), "err", err)
		return func() {}
	}
	go func() {
		for err := range l.Errors() {
			a.log.Warn("configuration not reloaded", "err", err)
		}
	}()
	return func() { _ = l.Close() }
}

func (a *app) mcpServer() *server.MCPServer {
	s := server.NewMCPServer(
		"TX802 MCP",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("tx802_describe-sysex",
		mcp.WithDescription("Returns the SysEx implementation reference for the Yamaha TX802: message formats, performance parameters, remote buttons and voice layout."),
	), a.docToolHandler)

	s.AddTool(mcp.NewTool("tx802_edit-performance",
		mcp.WithDescription("Changes performance parameters of the TX802 tone generators. Example: PRESET1=A12,OUTVOL1=90,PAN2=Left,NOTELOW3=C2,DETUNE1=+2"),
		mcp.WithString("params", mcp.Required(), mcp.Description("Comma separated KEY=VALUE pairs. Keys end with the tone generator number 1-8.")),
	), a.handleEdit)

	s.AddTool(mcp.NewTool("tx802_press-buttons",
		mcp.WithDescription("Presses TX802 front panel buttons remotely. Buttons: "+strings.Join(remote.Buttons(), ", ")+"."),
		mcp.WithString("sequence", mcp.Required(), mcp.Description("Comma separated commands: a button name (VOICE_SELECT, PLUS_ONE=3, TG1 ...), TEXT=..., WAIT=seconds, POS1, PRTCT_ON or PRTCT_OFF.")),
	), a.handlePress)

	s.AddTool(mcp.NewTool("tx802_init",
		mcp.WithDescription("Resets the TX802 and brings it into a known state: memory protect off, INIT performance, voice select mode."),
	), a.handleInit)

	s.AddTool(mcp.NewTool("tx802_send-file",
		mcp.WithDescription("Sends a .syx file to the TX802. Single voices go to the edit buffer, 32 voice banks to internal memory and performance banks to the performance memory."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the .syx file.")),
		mcp.WithNumber("stop-after", mcp.Description("For voice banks: send only the first N voices (1-31).")),
	), a.handleSendFile)

	s.AddTool(mcp.NewTool("tx802_send-library-voice",
		mcp.WithDescription("Sends a voice from the patch library to the voice edit buffer."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Library patch ID.")),
	), a.handleSendLibraryVoice)

	s.AddTool(mcp.NewTool("tx802_create-bank",
		mcp.WithDescription("Builds a 32 voice bank file from single voice files and library patch IDs. Empty slots are filled with INIT voices."),
		mcp.WithString("output", mcp.Required(), mcp.Description("Bank file to write.")),
		mcp.WithString("files", mcp.Description("Comma separated single voice .syx files.")),
		mcp.WithString("ids", mcp.Description("Comma separated library patch IDs.")),
	), a.handleCreateBank)

	s.AddTool(mcp.NewTool("tx802_surprise-bank",
		mcp.WithDescription("Builds a bank file from voices picked at random from the library."),
		mcp.WithString("output", mcp.Required(), mcp.Description("Bank file to write.")),
		mcp.WithNumber("count", mcp.Description("Number of voices, at most 32.")),
	), a.handleSurprise)

	s.AddTool(mcp.NewTool("tx802_get-voice",
		mcp.WithDescription("Reads the voice edit buffer of the TX802 and returns it as JSON."),
	), a.handleGetVoice)

	s.AddTool(mcp.NewTool("tx802_send-voice-json",
		mcp.WithDescription("Sends a voice given as JSON to the voice edit buffer. The JSON must have the structure returned by tx802_get-voice."),
		mcp.WithString("voice-json", mcp.Required(), mcp.Description("The voice in JSON format.")),
	), a.handleSendVoiceJSON)

	s.AddTool(mcp.NewTool("tx802_play-test-notes",
		mcp.WithDescription("Plays notes on the TX802. Without notes the C-E-G confirmation melody is played."),
		mcp.WithString("notes", mcp.Description("Notes such as \"C3 E3 G3 r C4\"; r is a rest.")),
	), a.handlePlay)

	s.AddTool(mcp.NewTool("tx802_tg-state",
		mcp.WithDescription("Returns the last values sent to each tone generator. The TX802 cannot be queried, so this reflects what was sent through this server."),
		mcp.WithNumber("tg", mcp.Description("Only this tone generator (1-8).")),
	), a.handleTGState)

	s.AddTool(mcp.NewTool("tx802_restore-tg-state",
		mcp.WithDescription("Sends the remembered tone generator settings to the TX802 again, e.g. after it was switched off."),
		mcp.WithNumber("tg", mcp.Description("Only this tone generator (1-8). Default all.")),
	), a.handleRestoreTG)

	return s
}

// toolError turns err into a result the model can read and act on.
func toolError(err error) *mcp.CallToolResult {
	if busy(err) {
		return mcp.NewToolResultError("The TX802 is busy with another operation, try again shortly: " + err.Error())
	}
	return mcp.NewToolResultError(err.Error())
}

func (a *app) docToolHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a.log.Debug("handling SysEx documentation request")
	return mcp.NewToolResultText(sysexDoc), nil
}

func (a *app) handleEdit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params, err := request.RequireString("params")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	edits, err := perform.ParseEdits(params)
	if err != nil {
		return toolError(err), nil
	}

	return editResult(a.edit(edits)), nil
}

func (a *app) handleRestoreTG(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return editResult(a.restoreTG(request.GetInt("tg", 0))), nil
}

func editResult(changes []perform.Change, err error) *mcp.CallToolResult {
	if busy(err) {
		return toolError(err)
	}
	var b strings.Builder
	for _, c := range changes {
		fmt.Fprintf(&b, "%s = %d\n", c.Key, c.Internal)
	}
	if err != nil {
		fmt.Fprintf(&b, "Errors: %v\n", err)
		if len(changes) == 0 {
			return mcp.NewToolResultError(b.String())
		}
		return mcp.NewToolResultText("Partially applied:\n" + b.String())
	}
	return mcp.NewToolResultText("Applied:\n" + b.String())
}

func (a *app) handlePress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	seq, err := request.RequireString("sequence")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := a.press(strings.Split(seq, ",")); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("Buttons pressed."), nil
}

func (a *app) handleInit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := a.initUnit(); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("TX802 initialised."), nil
}

func resultText(res *transfer.Result) string {
	if res == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s transfer %s, %d bytes sent", res.Kind, res.State(), res.Bytes)
	if res.Partial {
		fmt.Fprintf(&b, ", first %d voices only", res.Voices)
	}
	if res.ProtectErr != nil {
		fmt.Fprintf(&b, ". Memory protect could not be disabled (%v); check the unit if the data did not arrive", res.ProtectErr)
	}
	b.WriteString(".")
	return b.String()
}

func (a *app) transferResult(res *transfer.Result, err error) *mcp.CallToolResult {
	if err != nil {
		msg := err.Error()
		if res != nil {
			msg = resultText(res) + " " + msg
		}
		if busy(err) {
			return toolError(err)
		}
		return mcp.NewToolResultError(msg)
	}
	return mcp.NewToolResultText(resultText(res))
}

func (a *app) handleSendFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := bank.ReadFile(path)
	if err != nil {
		return toolError(err), nil
	}
	return a.transferResult(a.sendDump(data, request.GetInt("stop-after", 0))), nil
}

func (a *app) handleSendLibraryVoice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, res, err := a.sendLibraryVoice(int64(id))
	out := a.transferResult(res, err)
	if err == nil && p != nil {
		out = mcp.NewToolResultText(fmt.Sprintf("Sent '%s' (ID %d). %s", p.Name, p.ID, resultText(res)))
	}
	return out, nil
}

func (a *app) handleCreateBank(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	output, err := request.RequireString("output")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	files := request.GetString("files", "")
	ids := request.GetString("ids", "")
	if files == "" && ids == "" {
		return mcp.NewToolResultError("give files, ids or both"), nil
	}

	sources, errs := fileSources(strings.Split(files, ","))
	if ids != "" {
		idList, err := parseIDs(ids)
		if err != nil {
			return toolError(err), nil
		}
		lib, err := a.library()
		if err != nil {
			return toolError(err), nil
		}
		more, moreErrs := librarySources(lib, idList)
		sources = append(sources, more...)
		errs = append(errs, moreErrs...)
	}
	for _, err := range errs {
		a.log.Warn("skipping voice", "err", err)
	}

	asm, err := createBank(a.log, sources, output)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(assemblyText(output, asm, errs)), nil
}

func assemblyText(output string, asm *bank.Assembly, errs []error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Wrote %s: %d voices, %d INIT slots.\n", output, asm.Voices, asm.Padding)
	for i, name := range asm.Names[:asm.Voices] {
		fmt.Fprintf(&b, "%2d %s\n", i+1, name)
	}
	for _, s := range asm.Skipped {
		fmt.Fprintf(&b, "skipped %s: %v\n", s.Name, s.Err)
	}
	for _, err := range errs {
		fmt.Fprintf(&b, "skipped: %v\n", err)
	}
	return b.String()
}

func (a *app) handleSurprise(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	output, err := request.RequireString("output")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lib, err := a.library()
	if err != nil {
		return toolError(err), nil
	}
	asm, err := surpriseBank(a.log, lib, request.GetInt("count", voice.BankVoices), output)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(assemblyText(output, asm, nil)), nil
}

func (a *app) handleGetVoice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a.log.Debug("handling get voice request")
	listen, err := a.listener()
	if err != nil {
		return toolError(err), nil
	}
	v, err := a.getVoice(ctx, listen)
	if err != nil {
		return toolError(err), nil
	}
	asJSON, err := json.MarshalIndent(v.Params(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal voice to JSON: %v", err)
	}
	return mcp.NewToolResultText(string(asJSON)), nil
}

func (a *app) handleSendVoiceJSON(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	voiceJSON, err := request.RequireString("voice-json")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var p voice.Params
	if err := json.Unmarshal([]byte(voiceJSON), &p); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to unmarshal voice JSON: %v", err)), nil
	}
	a.log.Info("sending voice from JSON", "name", p.Name)
	return a.transferResult(a.setVoice(p)), nil
}

func (a *app) handlePlay(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := a.play(request.GetString("notes", "")); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("Notes played."), nil
}

func (a *app) handleTGState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m := a.tgMirror()
	if tg := request.GetInt("tg", 0); tg != 0 {
		s, ok := m.TG(tg)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("tone generator must be 1-%d", perform.ToneGenerators)), nil
		}
		asJSON, _ := json.MarshalIndent(s, "", "  ")
		return mcp.NewToolResultText(string(asJSON)), nil
	}
	asJSON, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %v", err)
	}
	return mcp.NewToolResultText(string(asJSON)), nil
}
