// Command kale is the driver for the kale language: a REPL when
// standard input is a terminal, a batch interpreter when given files
// or a pipe. Language-level failures are recoverable and never affect
// the exit status; only initialization and I/O failures do.
package main

import (
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v2"

	"kale/pkg/compiler"
	"kale/pkg/device"
	"kale/pkg/kernel"
	"kale/pkg/log"
)

// config is the driver configuration. Values resolve in order: YAML
// file, then KALE_* environment variables, then flags.
type config struct {
	Device    string `yaml:"device"`
	GroupSize int    `yaml:"group_size"`
	MaxSteps  int    `yaml:"max_steps"`
	MaxDepth  int    `yaml:"max_depth"`
	History   string `yaml:"history"`
	Log       string `yaml:"log"`
}

func loadConfig(path string) (config, error) {
	var c config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, err
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return c, err
		}
	}
	c.Device = env.Str("KALE_DEVICE", c.Device)
	c.GroupSize = env.Int("KALE_GROUP_SIZE", c.GroupSize)
	c.MaxSteps = env.Int("KALE_MAX_STEPS", c.MaxSteps)
	c.MaxDepth = env.Int("KALE_MAX_DEPTH", c.MaxDepth)
	c.History = env.Str("KALE_HISTORY", c.History)
	c.Log = env.Str("KALE_LOG", c.Log)
	return c, nil
}

func main() {
	var (
		configPath = flag.String("config", "", "YAML configuration file")
		devName    = flag.String("device", "", "device backend (default sim)")
		logLevel   = flag.String("log", "", "log level: off, error, info, or debug")
		evalStr    = flag.String("e", "", "evaluate the given source and exit")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("kale: %v", err)
	}
	if *devName != "" {
		cfg.Device = *devName
	}
	if *logLevel != "" {
		cfg.Log = *logLevel
	}

	level := log.InfoLevel
	if cfg.Log != "" {
		level, err = log.ParseLevel(cfg.Log)
		if err != nil {
			log.Fatalf("kale: %v", err)
		}
	}
	logger := log.New(stdlog.New(os.Stderr, "", 0), level)

	exec, err := device.Open(device.Config{
		Backend:   cfg.Device,
		GroupSize: cfg.GroupSize,
		MaxSteps:  cfg.MaxSteps,
		MaxDepth:  cfg.MaxDepth,
		Log:       logger,
	})
	if err != nil {
		log.Fatalf("kale: %v", err)
	}

	sess := compiler.NewSession(compiler.Config{
		Runner: kernel.New(exec, logger),
		Log:    logger,
	})

	switch {
	case *evalStr != "":
		run(sess, logger, *evalStr)
	case flag.NArg() > 0:
		for _, path := range flag.Args() {
			src, err := os.ReadFile(path)
			if err != nil {
				log.Fatalf("kale: %v", err)
			}
			run(sess, logger, string(src))
		}
	case terminal():
		repl(sess, logger, historyPath(cfg.History))
	default:
		src, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("kale: %v", err)
		}
		run(sess, logger, string(src))
	}
}

func run(sess *compiler.Session, logger *log.Logger, src string) {
	// Exec reports recoverable errors itself; the only error it
	// returns marks source that ends mid-form.
	if err := sess.Exec(src); err != nil {
		logger.Errorf("%v", err)
	}
}

// terminal reports whether standard input is interactive.
func terminal() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func historyPath(configured string) string {
	if configured != "" {
		return configured
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kale_history")
}

// repl reads forms interactively, prompting "ready> " and, while the
// buffer ends mid-form, "... " for continuation lines. Ctrl-C drops
// the current buffer; Ctrl-D exits.
func repl(sess *compiler.Session, logger *log.Logger, history string) {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if history != "" {
		if f, err := os.Open(history); err == nil {
			ln.ReadHistory(f)
			f.Close()
		}
	}

	var buf strings.Builder
	for {
		prompt := "ready> "
		if buf.Len() > 0 {
			prompt = "... "
		}
		input, err := ln.Prompt(prompt)
		if err == liner.ErrPromptAborted {
			buf.Reset()
			continue
		}
		if err != nil {
			fmt.Println()
			break
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(input)

		src := buf.String()
		if strings.TrimSpace(src) == "" {
			buf.Reset()
			continue
		}
		if err := compiler.Probe(src, sess.Ops()); compiler.IsIncomplete(err) {
			continue
		}
		buf.Reset()
		ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))
		if err := sess.Exec(src); err != nil {
			logger.Errorf("%v", err)
		}
	}

	if history != "" {
		if f, err := os.Create(history); err == nil {
			ln.WriteHistory(f)
			f.Close()
		}
	}
}
