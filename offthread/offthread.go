// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package offthread runs the compilation or decoding of a unit on a
// goroutine of its own.
//
// A task owns everything it touches while it runs: the unit or buffer it
// was given, a private Context for diagnostics, and the stencils it
// produces. It hands them over to the dispatching goroutine through a
// single buffered channel; Finish receives them and promotes the
// initial stencil's scopes into the caller's arena. Once BeginShutdown
// has been called, Finish touches nothing and reports no result.
package offthread // import "go.stencil.dev/offthread"

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"go.stencil.dev/frontend"
	"go.stencil.dev/scope"
	"go.stencil.dev/stencil"
	"go.stencil.dev/xdr"
)

// debug enables the check that a Context holds a pending diagnostic
// exactly when its task failed with xdr.ErrThrow.
const debug = false

var shutdown atomic.Bool

// BeginShutdown marks the start of process shutdown. Tasks finished
// after this point are discarded.
func BeginShutdown() { shutdown.Store(true) }

// ShuttingDown reports whether BeginShutdown has been called.
func ShuttingDown() bool { return shutdown.Load() }

// A Context is the private diagnostic context of one task.
type Context struct {
	// StackQuota bounds the scope nesting depth the task may compile.
	StackQuota int

	diag    error
	pending bool // mirrors diag != nil; checked only when debug is set
}

// Diagnostic returns the front-end error reported by the task, or nil.
func (c *Context) Diagnostic() error { return c.diag }

// report records a front-end failure and returns it as a Throw.
func (c *Context) report(err error) error {
	c.diag = err
	c.pending = true
	return errors.WithMessage(xdr.ErrThrow, err.Error())
}

func (c *Context) check(err error) {
	if !debug {
		return
	}
	if throw := xdr.ResultOf(err) == xdr.Throw; throw != c.pending {
		panic(errors.Errorf("offthread: pending diagnostic %t after result %v", c.pending, xdr.ResultOf(err)))
	}
}

// Options configure a task.
type Options struct {
	// StackQuota is passed to the front end; see frontend.Options.
	StackQuota int
	// DecodeOptions are the options decoded stencils must have been
	// compiled with.
	DecodeOptions stencil.CompileOptions
	Logger        logrus.FieldLogger
}

func (opts *Options) logger() logrus.FieldLogger {
	if opts.Logger == nil {
		discard := logrus.New()
		discard.Out = io.Discard
		return discard
	}
	return opts.Logger
}

type result struct {
	info *stencil.CompilationInfoVector
	err  error
}

// A Task is a compilation or decoding running on its own goroutine.
type Task struct {
	name   string
	ctx    *Context
	logger logrus.FieldLogger
	done   chan result
}

func start(name string, opts Options, run func(c *Context) (*stencil.CompilationInfoVector, error)) *Task {
	t := &Task{
		name:   name,
		ctx:    &Context{StackQuota: opts.StackQuota},
		logger: opts.logger().WithField("module", "offthread").WithField("task", name),
		done:   make(chan result, 1),
	}
	t.logger.Debugf("dispatch")
	go func() {
		v, err := run(t.ctx)
		t.ctx.check(err)
		t.done <- result{v, err}
	}()
	return t
}

// Compile starts compiling unit and its delazifications.
// A front-end error fails the task with xdr.ErrThrow; the error itself
// is available from the task's Context.
func Compile(ctx context.Context, unit *frontend.Unit, opts Options) *Task {
	return start(unit.Filename, opts, func(c *Context) (*stencil.CompilationInfoVector, error) {
		v, err := frontend.CompileAll(ctx, unit, frontend.Options{StackQuota: c.StackQuota})
		var ferr frontend.Error
		switch {
		case errors.As(err, &ferr):
			return nil, c.report(err)
		case err != nil:
			return nil, err
		}
		return v, nil
	})
}

// Decode starts decoding data, a buffer produced by package xdr.
// The task owns data until it is finished.
func Decode(name string, data []byte, opts Options) *Task {
	return start(name, opts, func(c *Context) (*stencil.CompilationInfoVector, error) {
		return xdr.DecodeStencils(data, opts.DecodeOptions)
	})
}

// Context returns the private context of t. It must not be used
// before Finish returns.
func (t *Task) Context() *Context { return t.ctx }

// A Result is the outcome of a finished task.
type Result struct {
	Info *stencil.CompilationInfoVector
	// Scopes are the scopes of the initial stencil, by stencil index.
	Scopes []*scope.Scope
}

// Finish waits for t and promotes the scopes of its initial stencil
// into arena a, enclosed by outer (see
// stencil.CompilationStencil.InstantiateScopes).
//
// If shutdown has begun, Finish neither waits nor touches a, and returns
// a nil result and a nil error.
func (t *Task) Finish(a *scope.Arena, outer *scope.Scope) (*Result, error) {
	if ShuttingDown() {
		t.logger.Debugf("shutting down; result dropped")
		return nil, nil
	}
	r := <-t.done
	if r.err != nil {
		t.logger.Debugf("failed: %v", r.err)
		return nil, r.err
	}
	if ShuttingDown() {
		t.logger.Debugf("shutting down; result dropped")
		return nil, nil
	}
	scopes, err := r.info.Initial.Stencil.InstantiateScopes(a, outer)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", t.name)
	}
	t.logger.Debugf("finished: %d scopes, %d delazifications", len(scopes), len(r.info.Delazifications))
	return &Result{Info: r.info, Scopes: scopes}, nil
}
