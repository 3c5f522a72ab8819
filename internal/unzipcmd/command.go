package unzipcmd

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"
	"github.com/mholt/archives"
	"github.com/trungnn/zipkit"
	"golang.org/x/time/rate"
)

type Command struct {
	Dir        string   `short:"C" long:"directory" description:"the directory to extract into" default:"."`
	LogSkipped bool     `long:"log-skipped" description:"log entries skipped by the exclude patterns"`
	Exclude    []string `short:"x" long:"exclude" description:"glob patterns (matched against entry base names) to skip"`
	Args       struct {
		Archives []flags.Filename `positional-arg-name:"archive" description:"the archives to be extracted; non-ZIP formats are detected by their file name" required:"yes"`
	} `positional-args:"yes"`
}

func (c *Command) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	n := len(c.Args.Archives)
	success := 0
	for i, file := range c.Args.Archives {
		name := string(file)

		var err error
		if strings.EqualFold(filepath.Ext(name), ".zip") {
			err = zipkit.Unzip(ctx, name, c.Dir, func(opts *zipkit.UnzipOptions) {
				opts.Filter = c.filter()
				opts.LogSkipped = c.LogSkipped
			})
		} else {
			err = c.extractFS(ctx, name)
		}

		if err != nil {
			log.Printf(`%d/%d: extract "%s" error: %v`, i+1, n, name, err)
			continue
		}

		success++
		log.Printf(`%d/%d: successfully extracted "%s" to "%s"`, i+1, n, name, c.Dir)
	}

	color.Green("extracted %d/%d archives", success, n)
	return nil
}

// filter translates the exclude patterns into a zipkit.FilterFunc.
func (c *Command) filter() zipkit.FilterFunc {
	if len(c.Exclude) == 0 {
		return nil
	}

	return func(relpath string) bool {
		base := filepath.Base(relpath)
		for _, pattern := range c.Exclude {
			if ok, _ := filepath.Match(pattern, base); ok {
				return false
			}
		}
		return true
	}
}

// extractFS extracts any archive format mholt/archives can identify from the
// file name, walking it as a filesystem.
func (c *Command) extractFS(ctx context.Context, name string) error {
	fsys, err := archives.FileSystem(ctx, name, nil)
	if err != nil {
		return fmt.Errorf("open archive (path=%s) error: %w", name, err)
	}

	filter := c.filter()
	sometimes := rate.Sometimes{Interval: 5 * time.Second}
	i := 0

	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !d.Type().IsRegular() {
			return err
		}

		if filter != nil && !filter(p) {
			if c.LogSkipped {
				log.Printf(`skipped "%s"`, p)
			}
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		src, err := fsys.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()

		out := filepath.Join(c.Dir, filepath.FromSlash(p))
		if err = os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}

		dst, err := os.Create(out)
		if err != nil {
			return err
		}
		defer dst.Close()

		if _, err = zipkit.CopyBufferWithContext(ctx, dst, src, nil); err != nil {
			return err
		}

		i++
		sometimes.Do(func() {
			log.Printf(`[%d] (%s) %s`, i, humanize.Bytes(uint64(fi.Size())), p)
		})
		return nil
	})
}
