package main

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alexflint/go-arg"

	"github.com/mixnetlabs/obscuratr/pkg/client"
	"github.com/mixnetlabs/obscuratr/pkg/context"
	"github.com/mixnetlabs/obscuratr/pkg/event"
	"github.com/mixnetlabs/obscuratr/pkg/filter"
	"github.com/mixnetlabs/obscuratr/pkg/filters"
	"github.com/mixnetlabs/obscuratr/pkg/interrupt"
	"github.com/mixnetlabs/obscuratr/pkg/slog"
	"github.com/mixnetlabs/obscuratr/pkg/timestamp"
	"github.com/mixnetlabs/obscuratr/pkg/ws"
)

var (
	AppName = "obscuratr"
	Version = "v0.1.0"
)

var args Config
var log, chk = slog.New(os.Stderr)

func main() {
	arg.MustParse(&args)
	setLogLevel(args.LogLevel)
	log.T.S(args)

	var err error
	var dataDirBase string
	if dataDirBase, err = os.UserHomeDir(); chk.E(err) {
		os.Exit(1)
	}
	configPath := filepath.Join(dataDirBase, args.Profile, "config.json")
	var stored Config
	if err = stored.Load(configPath); err == nil {
		// CLI relay lists add to the stored ones
		args.Relays = append(args.Relays, stored.Relays...)
		args.ReadRelays = append(args.ReadRelays, stored.ReadRelays...)
		args.WriteRelays = append(args.WriteRelays, stored.WriteRelays...)
	}

	if args.InitCfgCmd != nil {
		if err = os.MkdirAll(filepath.Dir(configPath), 0700); chk.E(err) {
			os.Exit(1)
		}
		if err = args.Save(configPath); chk.E(err) {
			log.E.F("failed to write configuration: '%s'", err)
			os.Exit(1)
		}
		log.I.F("wrote configuration to %s", configPath)
		return
	}

	c, cancel := context.Cancel(context.Bg())
	cl := client.New(c, ws.Dial, privacyConfig())
	interrupt.AddHandler(func() {
		cl.Close()
		cancel()
	})
	defer cl.Close()

	for _, u := range args.Relays {
		cl.AddRelay(u, true, true)
	}
	for _, u := range args.ReadRelays {
		cl.AddRelay(u, true, false)
	}
	for _, u := range args.WriteRelays {
		cl.AddRelay(u, false, true)
	}
	if cl.Registry().Len() == 0 && args.StatusCmd == nil {
		log.F.Ln("no relays configured, use --relay")
		os.Exit(1)
	}

	switch {
	case args.PublishCmd != nil:
		err = publish(c, cl)
	case args.QueryCmd != nil:
		err = query(c, cl)
	case args.ListenCmd != nil:
		err = listen(c, cl)
	case args.StatusCmd != nil:
		err = status(cl)
	default:
		log.F.Ln("no command given, use publish, listen, query or status")
		os.Exit(1)
	}
	if err != nil {
		os.Exit(1)
	}
}

func privacyConfig() *client.Config {
	cfg := client.DefaultConfig()
	cfg.Mixing.Enabled = !args.NoMixing
	cfg.Mixing.SelectCount = args.SelectCount
	cfg.Timing.Enabled = !args.NoTiming
	cfg.Obfuscation.Enabled = !args.NoObfuscation
	cfg.Obfuscation.DummyAuthors = args.DummyAuthors
	cfg.Obfuscation.DummyIDs = args.DummyIDs
	cfg.Obfuscation.DiffusionRatio = args.Ratio
	return &cfg
}

func publish(c context.T, cl *client.T) (err error) {
	var in io.Reader = os.Stdin
	if args.PublishCmd.FromFile != "" {
		var f *os.File
		if f, err = os.Open(args.PublishCmd.FromFile); chk.E(err) {
			return
		}
		defer f.Close()
		in = f
	}
	var b []byte
	if b, err = io.ReadAll(in); chk.E(err) {
		return
	}
	ev := &event.T{}
	if err = json.Unmarshal(b, ev); chk.E(err) {
		return
	}
	if ev.ID == "" {
		ev.ID = ev.GetID()
	}

	var results []client.Result
	switch {
	case args.PublishCmd.Direct:
		results = cl.PublishDirect(c, ev)
	case args.PublishCmd.Urgent:
		out := <-cl.PublishUrgent(ev)
		if out.Err != nil {
			log.E.F("publish failed: %v", out.Err)
			return out.Err
		}
		results = out.Results
	default:
		out := <-cl.Publish(ev)
		if out.Err != nil {
			log.E.F("publish failed: %v", out.Err)
			return out.Err
		}
		results = out.Results
	}

	accepted := 0
	for _, r := range results {
		if r.OK {
			accepted++
			log.I.F("%s accepted %s", r.Relay, ev.ID)
		} else {
			log.W.F("%s rejected %s: %v", r.Relay, ev.ID, r.Err)
		}
	}
	if accepted == 0 {
		return log.E.Err("no relay accepted event %s", ev.ID)
	}
	return nil
}

func listenFilters(lc *ListenCmd, limit int) filters.T {
	f := filter.T{
		Authors: lc.Authors,
		IDs:     lc.IDs,
		Kinds:   lc.Kinds,
		Limit:   limit,
	}
	if len(lc.Parties) > 0 {
		f.Tags = filter.TagMap{"p": lc.Parties}
	}
	if lc.Since > 0 {
		f.Since = timestamp.T(lc.Since).Ptr()
	}
	if lc.Until > 0 {
		f.Until = timestamp.T(lc.Until).Ptr()
	}
	return filters.T{f}
}

func listen(c context.T, cl *client.T) (err error) {
	out := bufio.NewWriter(os.Stdout)
	var id string
	if id, err = cl.Subscribe(listenFilters(args.ListenCmd, 0),
		func(ev *event.T) {
			if _, e := out.WriteString(ev.String() + "\n"); !chk.E(e) {
				chk.E(out.Flush())
			}
		},
		func() { log.D.Ln("end of stored events") },
	); chk.E(err) {
		return
	}
	defer cl.Unsubscribe(id)
	<-c.Done()
	return nil
}

func query(c context.T, cl *client.T) (err error) {
	var events []*event.T
	if events, err = cl.Query(c,
		listenFilters(&args.QueryCmd.ListenCmd, args.QueryCmd.Limit),
		args.QueryCmd.Timeout); chk.E(err) {
		return
	}
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	for _, ev := range events {
		if _, err = out.WriteString(ev.String() + "\n"); chk.E(err) {
			return
		}
	}
	log.I.F("%d events", len(events))
	return nil
}

func status(cl *client.T) (err error) {
	var b []byte
	if b, err = json.MarshalIndent(cl.RelayStatuses(), "", "    "); chk.E(err) {
		return
	}
	os.Stdout.Write(append(b, '\n'))
	return nil
}

func setLogLevel(level string) {
	switch strings.ToLower(level) {
	case "off":
		slog.SetLogLevel(slog.Off)
	case "fatal":
		slog.SetLogLevel(slog.Fatal)
	case "error":
		slog.SetLogLevel(slog.Error)
	case "warn":
		slog.SetLogLevel(slog.Warn)
	case "debug":
		slog.SetLogLevel(slog.Debug)
	case "trace":
		slog.SetLogLevel(slog.Trace)
	default:
		slog.SetLogLevel(slog.Info)
	}
}
