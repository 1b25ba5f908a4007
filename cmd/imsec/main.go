// Package main implements the imsec CLI: a command-line front end for the
// Image-Math Scripting Engine.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"imsec/internal/config"
	"imsec/internal/obslog"
	"imsec/internal/rasterio"
	"imsec/script"
	"imsec/script/bridge"
)

var (
	verbose    bool
	configPath string
	imagesDir  string
	timeout    time.Duration
	batchMode  bool

	obs *obslog.Root
)

var rootCmd = &cobra.Command{
	Use:   "imsec",
	Short: "imsec - Image-Math Scripting Engine CLI",
	Long: `imsec runs Image-Math scripts: a small DSL for composing solar image
processing pipelines out of shifted source frames, built-in image
operations, and external script hooks.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		obs, err = obslog.New(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if obs != nil {
			_ = obs.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run [script file]",
	Short: "Execute an Image-Math script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}

		cfg := config.DefaultConfig()
		if configPath != "" {
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
		}

		images := rasterio.DirImageProvider{Dir: imagesDir}
		ex := &script.Executor{
			Log:    obs.For(obslog.CategoryExecutor),
			Images: images,
			Params: script.MapParameterContext{},
			Bridge: bridge.New(),
			Config: script.ExecutorConfig{
				MaxWorkers:     cfg.MaxWorkers,
				Policy:         cfg.Policy(),
				BridgeTimeout:  cfg.BridgeTimeout,
				BuiltinEnabled: cfg.BuiltinEnabled,
			},
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		mode := script.ModeSingle
		if batchMode {
			mode = script.ModeBatch
		}

		result, err := ex.Execute(ctx, string(src), dirOf(args[0]), osFileReader{}, mode)
		if err != nil {
			return fmt.Errorf("execute: %w", err)
		}

		printResult(result)
		if len(result.Errors) > 0 {
			return fmt.Errorf("%d assignment(s) failed", len(result.Errors))
		}
		return nil
	},
}

var dotCmd = &cobra.Command{
	Use:   "dot [script file]",
	Short: "Dump a script's dependency graph as Graphviz DOT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		resolved, err := script.ResolveIncludes(string(src), dirOf(args[0]), osFileReader{})
		if err != nil {
			return err
		}
		tokens := script.Tokenize(resolved)
		ast, perrs := script.ParseScript(tokens)
		if len(perrs) > 0 {
			return fmt.Errorf("parse errors: %v", perrs)
		}
		for _, section := range ast.Sections {
			kept, _ := script.DedupeAssignments(section.Assignments)
			dag := script.BuildDAG(kept)
			plans, err := dag.Plan()
			if err != nil {
				return err
			}
			out, err := script.DumpDOT(dag, plans)
			if err != nil {
				return err
			}
			fmt.Printf("// section %s\n%s\n", section.Name, out)
		}
		return nil
	},
}

func printResult(result *script.ScriptResult) {
	fmt.Printf("run %s\n", result.RunID)
	for name, v := range result.Values {
		fmt.Printf("  %s = %s\n", name, describeValue(v))
	}
	for name, v := range result.Images {
		fmt.Printf("  %s = %s\n", name, describeValue(v))
	}
	if len(result.VariableShifts) > 0 {
		fmt.Printf("variable shifts used: %v\n", result.VariableShifts)
	}
	if len(result.ExpressionShifts) > 0 {
		fmt.Printf("expression shifts used: %v\n", result.ExpressionShifts)
	}
	if len(result.AutoWavelengths) > 0 {
		fmt.Printf("wavelengths derived: %v\n", result.AutoWavelengths)
	}
	for _, ie := range result.Errors {
		if ie.Skipped {
			fmt.Printf("skipped %s: %v\n", ie.Label, ie.Err)
		} else {
			fmt.Printf("error %s: %v\n", ie.Label, ie.Err)
		}
	}
}

func describeValue(v script.Value) string {
	switch v.Kind {
	case script.KindScalar:
		return fmt.Sprintf("%g", v.Num)
	case script.KindString:
		return fmt.Sprintf("%q", v.Str)
	default:
		return v.Kind.String()
	}
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

type osFileReader struct{}

func (osFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to engine config YAML")
	rootCmd.PersistentFlags().StringVar(&imagesDir, "images", ".", "Directory of source PNG frames")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Execution timeout")
	runCmd.Flags().BoolVar(&batchMode, "batch", false, "Run [[batch]] sections instead of [single] sections")

	rootCmd.AddCommand(runCmd, dotCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

