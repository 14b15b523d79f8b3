// Command veloxkv-server runs the TCP front end over a veloxkv.DB (spec
// §6). Grounded on the teacher's cmd/velocity/main.go for the cli.Command
// flag-registration style, stripped of its user/permission-registry
// scaffolding since this store has no auth surface.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	veloxkv "github.com/oarkflow/veloxkv"
	"github.com/oarkflow/veloxkv/internal/server"
)

func main() {
	app := &cli.Command{
		Name:  "veloxkv-server",
		Usage: "veloxkv storage engine TCP server",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "address to listen on",
				Value: "127.0.0.1:7070",
			},
			&cli.StringFlag{
				Name:  "base-dir",
				Usage: "directory holding the WAL, manifest, and SSTables",
				Value: "./veloxkv-data",
			},
			&cli.BoolFlag{
				Name:  "mem",
				Usage: "use a scratch temp directory instead of base-dir, discarded on exit",
			},
			&cli.BoolFlag{
				Name:  "forget",
				Usage: "skip recovery by wiping base-dir before startup",
			},
		},

		Action: func(ctx context.Context, c *cli.Command) error {
			return run(c.String("addr"), c.String("base-dir"), c.Bool("mem"), c.Bool("forget"))
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "veloxkv-server: %v\n", err)
		os.Exit(1)
	}
}

func run(addr, baseDir string, mem, forget bool) error {
	if mem {
		dir, err := os.MkdirTemp("", "veloxkv-mem-*")
		if err != nil {
			return fmt.Errorf("veloxkv-server: create scratch dir: %w", err)
		}
		defer os.RemoveAll(dir)
		baseDir = dir
	} else if forget {
		if err := os.RemoveAll(baseDir); err != nil {
			return fmt.Errorf("veloxkv-server: forget recovery: %w", err)
		}
	}

	db, err := veloxkv.Open(veloxkv.Config{BaseDir: baseDir})
	if err != nil {
		return fmt.Errorf("veloxkv-server: open db: %w", err)
	}
	defer db.Close()

	s := server.New(addr, db)
	log.Printf("veloxkv-server: listening on %s (base-dir=%s)", addr, baseDir)
	return s.ListenAndServe()
}
