// Package bridge adapts the yaegi Go interpreter into an imsec/script.Bridge,
// letting a script's script() calls run a small embedded Go
// function instead of shelling out to a separate process.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"imsec/script"
)

// allowedPackages whitelists the stdlib surface an external script body may
// import. Anything else (os, net, os/exec, syscall, unsafe, ...) is
// rejected before the interpreter ever sees the source.
var allowedPackages = map[string]bool{
	"strings":       true,
	"strconv":       true,
	"fmt":           true,
	"math":          true,
	"sort":          true,
	"encoding/json": true,
}

// YaegiBridge runs external scripts through an embedded yaegi interpreter.
// Every call to Run acquires mu: yaegi's interp.Interpreter is not safe for
// concurrent Eval calls, and the scheduler already routes bridge calls onto
// the sequential part of each DAG level (script/builtin_meta.go), so this
// lock is a correctness backstop rather than the primary concurrency
// control.
type YaegiBridge struct {
	mu sync.Mutex
}

// New returns a ready-to-use bridge.
func New() *YaegiBridge {
	return &YaegiBridge{}
}

var _ script.Bridge = (*YaegiBridge)(nil)

// Run compiles and executes source, which must define:
//
//	func Run(args []float64) (float64, error)
//
// kind is the runtime tag the script() call passed; it only prefixes error
// messages, and every kind executes identically.
func (b *YaegiBridge) Run(ctx context.Context, kind string, source string, args []script.Value) (script.Value, error) {
	if err := validateImports(source); err != nil {
		return script.Value{}, fmt.Errorf("%s: %w", kind, err)
	}

	nums := make([]float64, len(args))
	for i, a := range args {
		if a.Kind != script.KindScalar {
			return script.Value{}, fmt.Errorf("%s: argument %d must be scalar, got %s", kind, i, a.Kind)
		}
		nums[i] = a.Num
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return script.Value{}, fmt.Errorf("%s: load stdlib: %w", kind, err)
	}

	if _, err := i.Eval(wrapSource(source)); err != nil {
		return script.Value{}, fmt.Errorf("%s: evaluate: %w", kind, err)
	}

	v, err := i.Eval("main.Run")
	if err != nil {
		return script.Value{}, fmt.Errorf("%s: Run function not found: %w", kind, err)
	}
	run, ok := v.Interface().(func([]float64) (float64, error))
	if !ok {
		return script.Value{}, fmt.Errorf("%s: Run has incorrect signature, expected func([]float64) (float64, error)", kind)
	}

	type result struct {
		v   float64
		err error
	}
	done := make(chan result, 1)
	go func() {
		rv, rerr := run(nums)
		done <- result{rv, rerr}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return script.Value{}, r.err
		}
		return script.ScalarValue(r.v), nil
	case <-ctx.Done():
		return script.Value{}, ctx.Err()
	}
}

func wrapSource(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}

func validateImports(code string) error {
	lines := strings.Split(code, "\n")
	inBlock := false
	var forbidden []string
	for _, line := range lines {
		t := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(t, "import ("):
			inBlock = true
		case inBlock && t == ")":
			inBlock = false
		case inBlock:
			pkg := strings.Trim(t, `"`)
			if pkg != "" && !allowedPackages[pkg] {
				forbidden = append(forbidden, pkg)
			}
		case strings.HasPrefix(t, "import "):
			pkg := strings.Trim(strings.TrimPrefix(t, "import "), `"`)
			if !allowedPackages[pkg] {
				forbidden = append(forbidden, pkg)
			}
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v", forbidden)
	}
	return nil
}
