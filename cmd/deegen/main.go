package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deegen/deegen-core/internal/diag"
	"github.com/deegen/deegen-core/internal/ir"
	"github.com/deegen/deegen-core/internal/pipeline"
	"github.com/deegen/deegen-core/internal/pipelinecfg"
	"github.com/deegen/deegen-core/internal/variant"
)

var (
	configPath = flag.String("config", "", "path to deegen.toml (default: search upward from the working directory)")
	outDir     = flag.String("out", ".", "directory to write the generated header file into")
	initFlag   = flag.Bool("init", false, "write a default deegen.toml to -config (or ./deegen.toml) and exit")
	selftest   = flag.Bool("selftest", false, "run a minimal built-in opcode through the full pipeline and report the result")
)

func main() {
	flag.Parse()

	if *initFlag {
		path := *configPath
		if path == "" {
			path = pipelinecfg.ConfigFileName
		}
		if err := pipelinecfg.DefaultConfig().Save(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	if !*selftest {
		fmt.Println("deegen - bytecode-lowering meta-compiler")
		fmt.Println()
		fmt.Println("Usage: deegen [options]")
		fmt.Println()
		fmt.Println("Options:")
		fmt.Println("  -config path   path to deegen.toml")
		fmt.Println("  -init          write a default deegen.toml and exit")
		fmt.Println("  -out dir       directory to write generated artifacts into")
		fmt.Println("  -selftest      run a built-in opcode through the pipeline")
		fmt.Println()
		fmt.Println("A real job (the input IR module and its bytecode variants) is supplied")
		fmt.Println("by a front-end collaborator through the pipeline package's Go API; this")
		fmt.Println("binary does not itself parse bytecode-definition source.")
		return
	}

	if err := run(); err != nil {
		if fatal, ok := err.(*diag.Fatal); ok {
			fmt.Fprintf(os.Stderr, "%s\n", fatal.Error())
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if fatal, ok := r.(*diag.Fatal); ok {
				err = fatal
				return
			}
			panic(r)
		}
	}()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	job := builtinSelfTestJob()
	res, err := pipeline.ProcessBytecode(job, pipeline.Config{Build: cfg.Build})
	if err != nil {
		return err
	}

	fmt.Printf("opcode %q: %d extern symbol(s), content hash %s\n",
		job.OpcodeName, len(res.AllExternCDeclarations), res.ContentHash)
	for orig, final := range res.AuditFiles {
		fmt.Printf("  renamed: %s -> %s\n", orig, final)
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	headerPath := filepath.Join(*outDir, job.OpcodeName+".h")
	if err := os.WriteFile(headerPath, []byte(res.GeneratedHeaderFile), 0644); err != nil {
		return fmt.Errorf("writing generated header: %w", err)
	}
	fmt.Printf("wrote %s\n", headerPath)
	return nil
}

func loadConfig() (*pipelinecfg.Config, error) {
	path := *configPath
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		path = pipelinecfg.FindConfigFile(cwd)
	}
	if path == "" {
		return pipelinecfg.DefaultConfig(), nil
	}
	return pipelinecfg.Load(path)
}

// builtinSelfTestJob is a minimal single-variant, no-operand opcode used to
// exercise every pipeline stage without requiring a front-end collaborator.
func builtinSelfTestJob() pipeline.VariantGroup {
	mod := ir.NewModule("SelfTestNoop")
	impl := ir.NewFunction("selftest_noop_impl")
	mod.AddFunction(impl)
	v := &variant.Variant{BytecodeName: "SelfTestNoop", VariantOrd: 0, ImplFunctionName: "selftest_noop_impl"}
	return pipeline.VariantGroup{OpcodeName: "SelfTestNoop", Module: mod, Variants: []*variant.Variant{v}}
}
