package zipcmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"
	"github.com/trungnn/zipkit"
	"github.com/trungnn/zipkit/internal"
)

type Command struct {
	IncludeHidden bool   `short:"a" long:"include-hidden" description:"include entries whose name starts with a dot"`
	Level         string `short:"l" long:"level" description:"deflate level" choice:"fastest" choice:"default" choice:"best" choice:"store" default:"default"`
	Output        string `short:"o" long:"output" description:"destination; a local path or s3://bucket/key. Default to the directory name plus .zip"`
	Args          struct {
		Dir flags.Filename `positional-arg-name:"dir" description:"the directory to archive" required:"yes"`
	} `positional-args:"yes"`
}

func (c *Command) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	dir := string(c.Args.Dir)
	dest := c.Output
	if dest == "" {
		dest = filepath.Base(dir) + ".zip"
	}

	var writerOptions []func(*zipkit.WriterOptions)
	switch c.Level {
	case "fastest":
		writerOptions = append(writerOptions, zipkit.WithFastestCompression)
	case "best":
		writerOptions = append(writerOptions, zipkit.WithBestCompression)
	case "store":
		writerOptions = append(writerOptions, zipkit.WithNoCompression)
	}

	// preflight walk to size the progress bar.
	n, size, err := countDirContents(dir)
	if err != nil {
		return fmt.Errorf("count directory contents error: %w", err)
	}

	bar := internal.DefaultBytes(size, "compressing")
	defer bar.Close()

	cfg := zipkit.Config{
		Root:           dir,
		IncludeHidden:  c.IncludeHidden,
		Progress:       zipkit.NewProgressBarFunc(bar),
		ProgressPeriod: time.Second,
		WriterOptions:  writerOptions,
	}

	if bucket, key, ok := parseS3URI(dest); ok {
		err = zipToS3(ctx, cfg, bucket, key)
	} else {
		cfg.Dest = dest
		err = zipkit.Zip(ctx, cfg)
	}
	if err != nil {
		return err
	}

	_ = bar.Close()
	color.Green(`wrote "%s" (%s from %d files)`, dest, humanize.Bytes(uint64(size)), n)
	return nil
}

// countDirContents counts the regular files under root and their total size.
func countDirContents(root string) (n int, size int64, err error) {
	err = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !d.Type().IsRegular() {
			return err
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		n++
		size += fi.Size()
		return nil
	})
	return
}

func parseS3URI(s string) (bucket, key string, ok bool) {
	rest, ok := strings.CutPrefix(s, "s3://")
	if !ok {
		return "", "", false
	}

	bucket, key, ok = strings.Cut(rest, "/")
	return bucket, key, ok && bucket != "" && key != ""
}
