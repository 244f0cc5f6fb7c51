package main

import (
	"encoding/json"
	"errors"
	"os"
	"time"
)

type PublishCmd struct {
	FromFile string `arg:"-f,--fromfile" help:"read signed event JSON from file instead of stdin"`
	Urgent   bool   `arg:"-u,--urgent" help:"skip the dispatch delay and enforce the critical relay minimum"`
	Direct   bool   `arg:"--direct" help:"bypass relay mixing and timing obfuscation entirely"`
}

type ListenCmd struct {
	Authors []string `arg:"-a,--author,separate" help:"author public key to listen for (repeatable)"`
	IDs     []string `arg:"-i,--id,separate" help:"event id to listen for (repeatable)"`
	Kinds   []int    `arg:"-k,--kind,separate" help:"event kind to listen for (repeatable)"`
	Parties []string `arg:"-p,--party,separate" help:"p-tagged public key to listen for (repeatable)"`
	Since   int64    `arg:"--since" help:"unix timestamp lower bound"`
	Until   int64    `arg:"--until" help:"unix timestamp upper bound"`
}

type QueryCmd struct {
	ListenCmd
	Limit   int           `arg:"-L,--limit" help:"maximum stored events per relay"`
	Timeout time.Duration `arg:"-t,--timeout" default:"10s" help:"how long to wait for relays to finish"`
}

type StatusCmd struct{}

type InitCfgCmd struct{}

type Config struct {
	PublishCmd *PublishCmd `arg:"subcommand:publish" json:"-" help:"publish a signed event read as JSON"`
	ListenCmd  *ListenCmd  `arg:"subcommand:listen" json:"-" help:"stream matching events as line structured JSON until interrupted"`
	QueryCmd   *QueryCmd   `arg:"subcommand:query" json:"-" help:"fetch stored events matching a filter, then exit"`
	StatusCmd  *StatusCmd  `arg:"subcommand:status" json:"-" help:"show the configured relays"`
	InitCfgCmd *InitCfgCmd `arg:"subcommand:initcfg" json:"-" help:"write the merged configuration to the profile directory"`

	Relays      []string `arg:"-r,--relay,separate" json:"relays" help:"relay to read from and write to (repeatable)"`
	ReadRelays  []string `arg:"--readrelay,separate" json:"read_relays" help:"relay to read from only (repeatable)"`
	WriteRelays []string `arg:"--writerelay,separate" json:"write_relays" help:"relay to write to only (repeatable)"`

	NoMixing      bool    `arg:"--nomixing" json:"no_mixing" help:"send every message to every write relay"`
	NoTiming      bool    `arg:"--notiming" json:"no_timing" help:"disable all randomized delays"`
	NoObfuscation bool    `arg:"--noobfuscation" json:"no_obfuscation" help:"disable subscription obfuscation"`
	SelectCount   int     `arg:"--selectcount" json:"select_count" default:"3" help:"write relays to pick per message"`
	DummyAuthors  int     `arg:"--dummyauthors" json:"dummy_authors" default:"5" help:"dummy author identifiers per subscription"`
	DummyIDs      int     `arg:"--dummyids" json:"dummy_ids" default:"3" help:"dummy event identifiers per subscription"`
	Ratio         float64 `arg:"--ratio" json:"diffusion_ratio" default:"0.6" help:"fraction of the interest set each relay sees"`

	Profile  string `arg:"--profile" json:"-" default:"obscuratr" help:"profile directory name under the user home directory"`
	LogLevel string `arg:"--loglevel" default:"info" help:"set log level [off,fatal,error,warn,info,debug,trace] (can also use GODEBUG environment variable)"`
}

func (c *Config) Save(filename string) (err error) {
	if c == nil {
		err = errors.New("cannot save nil config")
		log.E.Ln(err)
		return
	}
	var b []byte
	if b, err = json.MarshalIndent(c, "", "    "); chk.E(err) {
		return
	}
	if err = os.WriteFile(filename, b, 0600); chk.E(err) {
		return
	}
	return
}

func (c *Config) Load(filename string) (err error) {
	if c == nil {
		err = errors.New("cannot load into nil config")
		chk.E(err)
		return
	}
	var b []byte
	if b, err = os.ReadFile(filename); chk.E(err) {
		return
	}
	if err = json.Unmarshal(b, c); chk.E(err) {
		return
	}
	return
}
