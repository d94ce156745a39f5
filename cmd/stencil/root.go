// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"go.stencil.dev/cache"
	"go.stencil.dev/frontend"
	"go.stencil.dev/offthread"
	"go.stencil.dev/repl"
	"go.stencil.dev/scope"
	"go.stencil.dev/stencil"
	"go.stencil.dev/xdr"
)

// Input holds the options of one invocation.
type Input struct {
	configFile    string
	cacheDir      string
	logLevel      string
	maxEntries    int
	keepUnused    time.Duration
	buildIDPrefix string
	stackQuota    int

	output string // encode: output file; dump: output format
	tree   bool
	strict bool
	module bool

	logger *log.Logger
	stdout io.Writer
}

func (i *Input) decodeOptions() stencil.CompileOptions {
	return stencil.CompileOptions{Strict: i.strict, Module: i.module}
}

func createRootCommand(ctx context.Context, input *Input) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "stencil",
		Short:             "Compile, transcode and inspect compilation units",
		SilenceUsage:      true,
		PersistentPreRunE: setup(input),
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&input.configFile, "config", "", "YAML config file")
	pf.StringVar(&input.cacheDir, "cache-dir", "", "artifact cache directory (default: user cache directory)")
	pf.StringVar(&input.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&input.buildIDPrefix, "build-id-prefix", xdr.BuildIDPrefix, "build id prefix written to and expected in transcoded data")
	pf.IntVar(&input.stackQuota, "stack-quota", frontend.DefaultStackQuota, "maximum scope nesting depth; negative for none")
	pf.BoolVar(&input.strict, "strict", false, "decode: require strict-mode compilation")
	pf.BoolVar(&input.module, "module", false, "decode: expect a module")

	encodeCmd := &cobra.Command{
		Use:   "encode unit.yaml",
		Short: "Compile a unit descriptor and transcode it",
		Args:  cobra.ExactArgs(1),
		RunE:  runEncode(ctx, input),
	}
	encodeCmd.Flags().StringVarP(&input.output, "output", "o", "", "output file (default: the descriptor name with extension .xdr)")
	encodeCmd.Flags().BoolVar(&input.tree, "tree", false, "use the tree layout, whose functions can be re-encoded in place")

	decodeCmd := &cobra.Command{
		Use:   "decode unit",
		Short: "Decode a unit and describe its stencils",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecode(ctx, input),
	}

	dumpCmd := &cobra.Command{
		Use:   "dump unit",
		Short: "Print the scopes and scripts of a unit as a protocol message",
		Args:  cobra.ExactArgs(1),
		RunE:  runDump(ctx, input),
	}
	dumpCmd.Flags().StringVar(&input.output, "output", "text", "output format (text, json, wire)")

	inspectCmd := &cobra.Command{
		Use:   "inspect unit",
		Short: "Explore a unit interactively",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect(ctx, input),
	}

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the artifact cache",
	}
	cf := cacheCmd.PersistentFlags()
	cf.IntVar(&input.maxEntries, "max-entries", cache.DefaultMaxEntries, "evict: maximum number of artifacts kept")
	cf.DurationVar(&input.keepUnused, "keep-unused", cache.DefaultKeepUnused, "evict: how long an unread artifact is kept")
	cacheCmd.AddCommand(
		&cobra.Command{Use: "list", Short: "List cached artifacts", Args: cobra.NoArgs, RunE: withCache(input, cacheList)},
		&cobra.Command{Use: "put unit.yaml", Short: "Compile a unit and cache it", Args: cobra.ExactArgs(1), RunE: withCache(input, cachePut(ctx))},
		&cobra.Command{Use: "get unit.yaml", Short: "Look up the artifact of a unit", Args: cobra.ExactArgs(1), RunE: withCache(input, cacheGet)},
		&cobra.Command{Use: "rm unit.yaml", Short: "Remove the artifact of a unit", Args: cobra.ExactArgs(1), RunE: withCache(input, cacheRemove)},
		&cobra.Command{Use: "evict", Short: "Evict stale and unused artifacts", Args: cobra.NoArgs, RunE: withCache(input, cacheEvict)},
	)

	rootCmd.AddCommand(encodeCmd, decodeCmd, dumpCmd, inspectCmd, cacheCmd)
	return rootCmd
}

func setup(input *Input) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if input.configFile != "" {
			cfg, err := readConfig(input.configFile)
			if err != nil {
				return err
			}
			cfg.apply(input, cmd.Flags())
		}
		logger, err := newLogger(input.logLevel, os.Stderr)
		if err != nil {
			return err
		}
		input.logger = logger
		if input.stdout == nil {
			input.stdout = cmd.OutOrStdout()
		}
		xdr.BuildIDPrefix = input.buildIDPrefix
		return nil
	}
}

func newLogger(level string, out *os.File) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "--log-level")
	}
	logger := log.New()
	logger.Out = out
	logger.SetLevel(lvl)
	if term.IsTerminal(int(out.Fd())) {
		logger.SetFormatter(&log.TextFormatter{
			DisableQuote:     true,
			DisableTimestamp: true,
			PadLevelText:     true,
		})
	} else {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	return logger, nil
}

func isDescriptor(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

func (i *Input) taskOptions() offthread.Options {
	return offthread.Options{StackQuota: i.stackQuota, DecodeOptions: i.decodeOptions(), Logger: i.logger}
}

// load compiles or decodes filename off the calling goroutine.
func load(ctx context.Context, input *Input, filename string) (*offthread.Result, error) {
	var task *offthread.Task
	if isDescriptor(filename) {
		unit, err := frontend.Load(filename)
		if err != nil {
			return nil, err
		}
		task = offthread.Compile(ctx, unit, input.taskOptions())
	} else {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		task = offthread.Decode(filename, data, input.taskOptions())
	}
	res, err := task.Finish(scope.NewArena(nil), nil)
	if err != nil {
		if diag := task.Context().Diagnostic(); diag != nil {
			return nil, diag
		}
		return nil, errors.Wrap(err, filename)
	}
	if res == nil {
		return nil, errors.Errorf("%s: shutting down", filename)
	}
	return res, nil
}

func runEncode(ctx context.Context, input *Input) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		res, err := load(ctx, input, args[0])
		if err != nil {
			return err
		}
		data, err := encode(res.Info, input.tree)
		if err != nil {
			return errors.Wrap(err, args[0])
		}
		out := input.output
		if out == "" {
			out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".xdr"
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return err
		}
		input.logger.Infof("wrote %s (%d bytes, %d delazifications)", out, len(data), len(res.Info.Delazifications))
		return nil
	}
}

func encode(v *stencil.CompilationInfoVector, tree bool) ([]byte, error) {
	if !tree {
		return xdr.EncodeStencils(v)
	}
	enc, err := xdr.NewTreeEncoder(&v.Initial)
	if err != nil {
		return nil, err
	}
	for _, d := range v.Delazifications {
		if err := enc.CodeDelazification(d); err != nil {
			return nil, err
		}
	}
	return enc.Linearize()
}

func runDecode(ctx context.Context, input *Input) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		res, err := load(ctx, input, args[0])
		if err != nil {
			return err
		}
		w := input.stdout
		fmt.Fprintf(w, "%s (%s)\n", args[0], res.Info.Initial.Input.Options.Filename)
		res.Info.Initial.Stencil.Dump(w)
		for i, d := range res.Info.Delazifications {
			fmt.Fprintf(w, "delazification %d:\n", i)
			d.Dump(w)
		}
		return nil
	}
}

func runDump(ctx context.Context, input *Input) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		marshal, err := marshaler(input.output)
		if err != nil {
			return err
		}
		res, err := load(ctx, input, args[0])
		if err != nil {
			return err
		}
		msg, err := describe(res)
		if err != nil {
			return err
		}
		data, err := marshal(msg)
		if err != nil {
			return err
		}
		_, err = input.stdout.Write(data)
		return err
	}
}

func runInspect(ctx context.Context, input *Input) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New("inspect needs a terminal")
		}
		res, err := load(ctx, input, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(input.stdout, "%s: %d scopes, %d delazifications; type help for commands\n",
			args[0], len(res.Scopes), len(res.Info.Delazifications))
		repl.REPL(repl.NewInspector(res.Info))
		return nil
	}
}

func withCache(input *Input, f func(s *cache.Store, input *Input, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := cache.Open(input.cacheDir, cache.Options{
			MaxEntries: input.maxEntries,
			KeepUnused: input.keepUnused,
			Logger:     input.logger,
		})
		if err != nil {
			return err
		}
		defer s.Close()
		return f(s, input, args)
	}
}

func cacheList(s *cache.Store, input *Input, _ []string) error {
	entries, err := s.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(input.stdout, "%d\t%s\t%d\t%s\t%s\n", e.ID, e.Filename, e.Size,
			time.Unix(e.UsedAt, 0).UTC().Format(time.RFC3339), e.Key)
	}
	return nil
}

func cachePut(ctx context.Context) func(s *cache.Store, input *Input, args []string) error {
	return func(s *cache.Store, input *Input, args []string) error {
		unit, err := frontend.Load(args[0])
		if err != nil {
			return err
		}
		res, err := load(ctx, input, args[0])
		if err != nil {
			return err
		}
		return s.Put(unit.Source, res.Info)
	}
}

func cacheGet(s *cache.Store, input *Input, args []string) error {
	unit, err := frontend.Load(args[0])
	if err != nil {
		return err
	}
	opts := unit.Input().Options
	v, ok, err := s.Get(unit.Source, opts)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(input.stdout, "%s: miss\n", args[0])
		return nil
	}
	fmt.Fprintf(input.stdout, "%s: hit, %d scopes, %d delazifications\n",
		args[0], len(v.Initial.Stencil.Scopes), len(v.Delazifications))
	return nil
}

func cacheRemove(s *cache.Store, input *Input, args []string) error {
	unit, err := frontend.Load(args[0])
	if err != nil {
		return err
	}
	return s.Remove(unit.Source)
}

func cacheEvict(s *cache.Store, input *Input, _ []string) error {
	n, err := s.Evict()
	if err != nil {
		return err
	}
	fmt.Fprintf(input.stdout, "evicted %d artifacts\n", n)
	return nil
}
