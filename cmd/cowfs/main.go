package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/oriondev/cowfs"
	"github.com/oriondev/cowfs/engine"
	"github.com/urfave/cli/v2"
)

const defaultStoreBytes = 16 << 20 // 16 MiB

func main() {
	app := cli.App{
		Usage: "Inspect and drive a copy-on-write block-storage image",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "store", Aliases: []string{"s"}, Value: "cowfs.img", Usage: "backing image path"},
		},
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create an empty file",
				ArgsUsage: "NAME",
				Action:    createFile,
			},
			{
				Name:      "write",
				Usage:     "Append bytes read from stdin to an existing file",
				ArgsUsage: "NAME",
				Action:    writeFile,
			},
			{
				Name:      "read",
				Usage:     "Print a file's current content to stdout",
				ArgsUsage: "NAME",
				Action:    readFile,
			},
			{
				Name:      "status",
				Usage:     "Show size, version, and shared-block counts for a file",
				ArgsUsage: "NAME",
				Action:    statusFile,
			},
			{
				Name:      "history",
				Usage:     "List every recorded version of a file",
				ArgsUsage: "NAME",
				Action:    historyFile,
			},
			{
				Name:      "rollback",
				Usage:     "Promote a prior version to current",
				ArgsUsage: "NAME VERSION",
				Action:    rollbackFile,
			},
			{
				Name:   "list",
				Usage:  "List every file in the store",
				Action: listFiles,
			},
			{
				Name:   "gc",
				Usage:  "Run a mark-sweep pass and report freed space",
				Action: runGC,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("cowfs: %s", err.Error())
	}
}

func openStore(ctx *cli.Context) (*engine.Engine, error) {
	path := ctx.String("store")
	e, err := engine.New(path, defaultStoreBytes)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func createFile(ctx *cli.Context) error {
	name := ctx.Args().First()
	if name == "" {
		return fmt.Errorf("usage: create NAME")
	}

	e, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer e.Shutdown()

	fd, err := e.Create(name)
	if err != nil {
		return err
	}
	return e.Close(fd)
}

func writeFile(ctx *cli.Context) error {
	name := ctx.Args().First()
	if name == "" {
		return fmt.Errorf("usage: write NAME")
	}

	buf, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}

	e, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer e.Shutdown()

	fd, err := e.Open(name, cowfs.ModeWrite)
	if err != nil {
		return err
	}
	defer e.Close(fd)

	n, err := e.Write(fd, buf)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d bytes\n", n)
	return nil
}

func readFile(ctx *cli.Context) error {
	name := ctx.Args().First()
	if name == "" {
		return fmt.Errorf("usage: read NAME")
	}

	e, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer e.Shutdown()

	fd, err := e.Open(name, cowfs.ModeRead)
	if err != nil {
		return err
	}
	defer e.Close(fd)

	size, err := e.FileSize(fd)
	if err != nil {
		return err
	}

	buf := make([]byte, size)
	if _, err := e.Read(fd, buf); err != nil {
		return err
	}
	_, err = os.Stdout.Write(buf)
	return err
}

func statusFile(ctx *cli.Context) error {
	name := ctx.Args().First()
	if name == "" {
		return fmt.Errorf("usage: status NAME")
	}

	e, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer e.Shutdown()

	fd, err := e.Open(name, cowfs.ModeRead)
	if err != nil {
		return err
	}
	defer e.Close(fd)

	status, err := e.FileStatus(fd)
	if err != nil {
		return err
	}
	fmt.Printf("size=%d version=%d shared_blocks=%d\n", status.Size, status.Version, status.SharedBlocks)
	return nil
}

func historyFile(ctx *cli.Context) error {
	name := ctx.Args().First()
	if name == "" {
		return fmt.Errorf("usage: history NAME")
	}

	e, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer e.Shutdown()

	fd, err := e.Open(name, cowfs.ModeRead)
	if err != nil {
		return err
	}
	defer e.Close(fd)

	history, err := e.VersionHistory(fd)
	if err != nil {
		return err
	}
	for _, v := range history {
		fmt.Printf("v%d  size=%d  delta=[%d,%d)  %s\n",
			v.VersionNumber, v.Size, v.DeltaStart, v.DeltaStart+v.DeltaSize, v.Timestamp)
	}
	return nil
}

func rollbackFile(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 2 {
		return fmt.Errorf("usage: rollback NAME VERSION")
	}
	target, err := strconv.ParseUint(args.Get(1), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version number: %w", err)
	}

	e, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer e.Shutdown()

	fd, err := e.Open(args.First(), cowfs.ModeRead)
	if err != nil {
		return err
	}
	defer e.Close(fd)

	return e.Rollback(fd, target)
}

func listFiles(ctx *cli.Context) error {
	e, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer e.Shutdown()

	for _, name := range e.ListFiles() {
		fmt.Println(name)
	}
	return nil
}

func runGC(ctx *cli.Context) error {
	e, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer e.Shutdown()

	before := e.TotalFreeBytes()
	e.GarbageCollect()
	after := e.TotalFreeBytes()
	fmt.Printf("freed %d bytes (%d extents)\n", after-before, e.FreeExtentCount())
	return nil
}

