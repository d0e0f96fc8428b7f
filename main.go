package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"bibflat/internal/config"
	"bibflat/internal/emit"
	"bibflat/internal/flatten"
	"bibflat/internal/loader"
	"bibflat/internal/pipeline"
	"bibflat/internal/schema"
	"bibflat/internal/service"
	"bibflat/internal/source"
	"bibflat/internal/storage"
)

const usage = `bibflat — flatten nested scholarly metadata into relational CSV streams

Usage:
  bibflat run     -source TYPE -entity NAME [-file PATH] [-out DIR] [-policy null|fail]
  bibflat ddl     [-dialect postgres|mysql|sqlite]
  bibflat load    -dir DIR -driver DRIVER -dsn DSN
  bibflat serve   [-config PATH]
  bibflat sources
  bibflat tables

Flags (run):
  -source   source type (jsonl_file, openalex_api, mongodb)
  -entity   entity type of the records
  -file     input path for jsonl_file
  -filter   filter expression for openalex_api
  -out      output directory (default from config)
  -policy   coercion policy (default null)
`

func main() {
	log.SetFlags(log.LstdFlags)
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "ddl":
		err = cmdDDL(os.Args[2:])
	case "load":
		err = cmdLoad(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:])
	case "sources":
		err = cmdSources()
	case "tables":
		err = cmdTables(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("bibflat %s: %v", os.Args[1], err)
	}
}

func loadRegistry(cfg *config.Config) (*schema.Registry, error) {
	return schema.NewBuiltinRegistry(cfg.SchemaDir)
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	srcType := fs.String("source", "jsonl_file", "source type")
	entity := fs.String("entity", "", "entity type")
	file := fs.String("file", "", "input file for jsonl_file")
	filter := fs.String("filter", "", "filter for openalex_api")
	out := fs.String("out", "", "output directory")
	policy := fs.String("policy", string(flatten.PolicyNull), "coercion policy")
	fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	outputDir := *out
	if outputDir == "" {
		outputDir = cfg.OutputDir
	}
	srcCfg := source.Config{"entity": *entity}
	if *file != "" {
		srcCfg["filePath"] = *file
	}
	if *filter != "" {
		srcCfg["filter"] = *filter
	}

	engine := pipeline.New(reg, pipeline.Options{
		Workers:   cfg.Workers,
		BatchSize: cfg.BatchSize,
		QueueSize: cfg.QueueSize,
		OnDiagnostic: func(d flatten.Diagnostic) {
			log.Printf("[DIAG] %s %s %s: %s", d.Entity, d.Key, d.FieldPath, d.Detail)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := engine.Run(ctx, &pipeline.IngestJob{
		Name:       "cli",
		SourceType: *srcType,
		SourceCfg:  srcCfg,
		OutputDir:  outputDir,
		Policy:     *policy,
	})
	if err != nil {
		return err
	}
	for _, o := range result.Outputs {
		fmt.Printf("%-40s %10d rows  %s\n", o.Table, o.Rows, o.Path)
	}
	fmt.Printf("load script: %s\n", result.LoadScript)
	return nil
}

func cmdDDL(args []string) error {
	fs := flag.NewFlagSet("ddl", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	dialect := fs.String("dialect", "postgres", "SQL dialect")
	fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	ddl, err := loader.DDL(reg.Tables(), *dialect)
	if err != nil {
		return err
	}
	fmt.Print(ddl)
	return nil
}

func cmdLoad(args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	dir := fs.String("dir", "", "directory holding the generated CSV files")
	driver := fs.String("driver", "", "postgres, mysql or sqlite")
	dsn := fs.String("dsn", "", "database connection string")
	fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *driver == "" {
		*driver = cfg.Loader.Driver
	}
	if *dsn == "" {
		*dsn = cfg.Loader.DSN
	}
	if *dir == "" || *driver == "" || *dsn == "" {
		return fmt.Errorf("-dir, -driver and -dsn are required")
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	l, err := loader.New(*driver, *dsn)
	if err != nil {
		return err
	}
	defer l.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := l.EnsureSchema(ctx, reg.Tables()); err != nil {
		return err
	}
	order, err := emit.Order(reg.Tables())
	if err != nil {
		return err
	}
	start := time.Now()
	var total int64
	for _, name := range order {
		def, _ := reg.Table(name)
		path := filepath.Join(*dir, name+".csv")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		n, err := l.Load(ctx, def, path)
		if err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
		log.Printf("loaded %s: %d rows", name, n)
		total += n
	}
	log.Printf("loaded %d rows in %s", total, time.Since(start).Round(time.Millisecond))
	return nil
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	db, err := storage.New(cfg.StatePath)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := service.NewIngestService(
		storage.NewJobStore(db),
		storage.NewRunStore(db),
		reg,
		pipeline.Options{Workers: cfg.Workers, BatchSize: cfg.BatchSize, QueueSize: cfg.QueueSize},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc.RestartWatchers(ctx)
	log.Printf("bibflat serving; state %s, %d entity schema(s)", cfg.StatePath, len(reg.Entities()))
	<-ctx.Done()

	log.Printf("shutting down, waiting for running jobs")
	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	svc.WaitRunning(waitCtx)
	svc.Stop()
	return nil
}

func cmdSources() error {
	for _, spec := range source.List() {
		fmt.Printf("%-14s %s\n", spec.Type, spec.Label)
		for _, f := range spec.ConfigFields {
			req := ""
			if f.Required {
				req = " (required)"
			}
			fmt.Printf("    %-12s %s%s\n", f.Key, f.Help, req)
		}
	}
	return nil
}

func cmdTables(args []string) error {
	fs := flag.NewFlagSet("tables", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file")
	fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	order, err := emit.Order(reg.Tables())
	if err != nil {
		return err
	}
	for _, name := range order {
		def, _ := reg.Table(name)
		parent := ""
		if def.ParentTable != "" {
			parent = fmt.Sprintf("  -> %s (%s)", def.ParentTable, def.ParentKeyColumn)
		}
		fmt.Printf("%-40s %2d columns%s\n", name, len(def.Columns), parent)
	}
	return nil
}
