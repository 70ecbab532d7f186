package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	gdisk "github.com/tchajed/goose/machine/disk"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mit-pdos/go-myfs/common"
	"github.com/mit-pdos/go-myfs/config"
	"github.com/mit-pdos/go-myfs/disk"
	"github.com/mit-pdos/go-myfs/fs"
	"github.com/mit-pdos/go-myfs/inode"
	"github.com/mit-pdos/go-myfs/super"
)

var printer = message.NewPrinter(language.English)

// chunk is the transfer size for put and get.
const chunk = 64 * 1024

var subcommands = []func(*globals) *cobra.Command{
	mkfsCommand,
	statCommand,
	fsckCommand,
	lsCommand,
	putCommand,
	getCommand,
	truncateCommand,
	rmCommand,
	inspectCommand,
}

func openImage(path string) (*disk.FileDisk, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	sb, err := super.Probe(fh)
	_ = fh.Close()
	if err != nil {
		return nil, fmt.Errorf("%q: %w", path, err)
	}
	return disk.NewFileDisk(path, sb.NumBlocks, sb.BlockSize)
}

// runWithVolume mounts the image named by the first argument around fn.
func runWithVolume(g *globals, fn func(ctx context.Context, v *fs.Volume, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		maybeSetErr := func(_err error) {
			if _err != nil && err == nil {
				err = _err
			}
		}
		ctx := cmd.Context()
		d, err := openImage(args[0])
		if err != nil {
			return err
		}
		cfg := *g.cfg
		cfg.BlockSize = d.BlockSize()
		v, err := fs.Mount(d, &cfg)
		if err != nil {
			_ = d.Close()
			return err
		}
		dlog.Debugf(ctx, "mounted %q", args[0])
		defer func() {
			maybeSetErr(v.Unmount())
		}()
		return fn(ctx, v, args[1:])
	}
}

func parseInum(s string) (common.Inum, error) {
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("inode number %q: %w", s, err)
	}
	return common.Inum(n), nil
}

func mkfsCommand(g *globals) *cobra.Command {
	var blocks int64
	var blockSize int64
	var name string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "mkfs IMAGE",
		Short: "Create an empty volume in IMAGE",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := *g.cfg
			if cmd.Flags().Changed("block-size") {
				cfg.BlockSize = blockSize
			}
			if cmd.Flags().Changed("name") {
				cfg.VolumeName = name
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if blocks <= 0 {
				return fmt.Errorf("--blocks %d: %w", blocks, common.ErrInvalid)
			}
			if dryRun {
				return previewFormat(&cfg, blocks)
			}
			d, err := disk.NewFileDisk(args[0], blocks, cfg.BlockSize)
			if err != nil {
				return err
			}
			if err := fs.Format(d, &cfg); err != nil {
				_ = d.Close()
				return err
			}
			dlog.Infof(ctx, "formatted %q: %d blocks of %d bytes", args[0], blocks, cfg.BlockSize)
			return d.Close()
		},
	}
	cmd.Flags().Int64Var(&blocks, "blocks", 0, "size of the volume in blocks")
	if err := cmd.MarkFlagRequired("blocks"); err != nil {
		panic(err)
	}
	cmd.Flags().Int64Var(&blockSize, "block-size", 0, "block size in bytes (default from config)")
	cmd.Flags().StringVar(&name, "name", "", "volume name (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"format an in-memory disk and print its layout instead of writing IMAGE (4096-byte blocks only)")
	return cmd
}

// previewFormat formats a goose memory disk the size of the requested volume
// and prints the result.
func previewFormat(cfg *config.Config, blocks int64) error {
	if cfg.BlockSize != int64(gdisk.BlockSize) {
		return fmt.Errorf("--dry-run needs %d-byte blocks, not %d: %w",
			gdisk.BlockSize, cfg.BlockSize, common.ErrInvalid)
	}
	cfg.ReadOnly = false
	cfg.Journal = false
	d := disk.FromGoose(gdisk.NewMemDisk(uint64(blocks)))
	if err := fs.Format(d, cfg); err != nil {
		return err
	}
	v, err := fs.Mount(d, cfg)
	if err != nil {
		return err
	}
	st, err := v.Stat()
	if err == nil {
		printStat(os.Stdout, st)
	}
	if uerr := v.Unmount(); err == nil {
		err = uerr
	}
	return err
}

func printStat(w io.Writer, st fs.Stat) {
	printer.Fprintf(w, "volume %q (%v)\n", st.Name, st.VolumeID)
	printer.Fprintf(w, "blocks: %d of %d used, %d free, %d bytes each\n",
		st.UsedBlocks, st.NumBlocks, st.FreeBlocks, st.BlockSize)
	printer.Fprintf(w, "inodes: %d of %d free\n", st.FreeInodes, st.NumInodes)
	printer.Fprintf(w, "largest file: %d bytes\n", st.MaxFile)
	printer.Fprintf(w, "clean: %v\n", st.Clean)
}

func statCommand(g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stat IMAGE",
		Short: "Show volume usage",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: runWithVolume(g, func(_ context.Context, v *fs.Volume, _ []string) (err error) {
			st, err := v.Stat()
			if err != nil {
				return err
			}
			if asJSON {
				buffer := bufio.NewWriter(os.Stdout)
				defer func() {
					if _err := buffer.Flush(); err == nil && _err != nil {
						err = _err
					}
				}()
				return lowmemjson.Encode(&lowmemjson.ReEncoder{
					Out: buffer,

					Indent:                "\t",
					ForceTrailingNewlines: true,
				}, st)
			}
			printStat(os.Stdout, st)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func fsckCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "fsck IMAGE",
		Short: "Cross-check inodes against the block bitmap",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: runWithVolume(g, func(ctx context.Context, v *fs.Volume, _ []string) error {
			err := v.Check()
			var errs derror.MultiError
			if errors.As(err, &errs) {
				for _, e := range errs {
					dlog.Error(ctx, e)
				}
				return fmt.Errorf("%d problems found", len(errs))
			}
			if err != nil {
				return err
			}
			dlog.Info(ctx, "no problems found")
			return nil
		}),
	}
}

func lsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "ls IMAGE",
		Short: "List allocated inodes",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: runWithVolume(g, func(_ context.Context, v *fs.Volume, _ []string) error {
			inums, err := v.Inodes()
			if err != nil {
				return err
			}
			for _, inum := range inums {
				ip, err := v.ReadInode(inum)
				if err != nil {
					return err
				}
				printer.Fprintf(os.Stdout, "%d\t%o\t%d\t%s\n", inum, ip.Mode, ip.Data.Size,
					ip.MTime().UTC().Format("2006-01-02 15:04:05"))
			}
			return nil
		}),
	}
}

func putCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "put IMAGE HOSTFILE",
		Short: "Copy HOSTFILE into a new file and print its inode number",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(2)),
		RunE: runWithVolume(g, func(ctx context.Context, v *fs.Volume, args []string) error {
			fh, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer fh.Close()
			ip, err := v.AllocInode(inode.S_IFREG | 0644)
			if err != nil {
				return err
			}
			buf := make([]byte, chunk)
			var pos int64
			for {
				n, rerr := io.ReadFull(fh, buf)
				if n > 0 {
					if _, err := v.WriteData(ip.Inum, pos, buf[:n]); err != nil {
						return err
					}
					pos += int64(n)
				}
				if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
					break
				}
				if rerr != nil {
					return rerr
				}
			}
			dlog.Debugf(ctx, "wrote %d bytes to inode %d", pos, ip.Inum)
			fmt.Println(ip.Inum)
			return nil
		}),
	}
}

func getCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get IMAGE INUM HOSTFILE",
		Short: "Copy file INUM out to HOSTFILE (- for stdout)",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(3)),
		RunE: runWithVolume(g, func(_ context.Context, v *fs.Volume, args []string) (err error) {
			inum, err := parseInum(args[0])
			if err != nil {
				return err
			}
			out := os.Stdout
			if args[1] != "-" {
				out, err = os.Create(args[1])
				if err != nil {
					return err
				}
				defer func() {
					if _err := out.Close(); err == nil {
						err = _err
					}
				}()
			}
			buf := make([]byte, chunk)
			for pos := int64(0); ; {
				n, err := v.ReadData(inum, pos, buf)
				if err != nil {
					return err
				}
				if n == 0 {
					return nil
				}
				if _, err := out.Write(buf[:n]); err != nil {
					return err
				}
				pos += int64(n)
			}
		}),
	}
}

func truncateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "truncate IMAGE INUM SIZE",
		Short: "Grow or shrink file INUM to SIZE bytes",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(3)),
		RunE: runWithVolume(g, func(_ context.Context, v *fs.Volume, args []string) error {
			inum, err := parseInum(args[0])
			if err != nil {
				return err
			}
			size, err := strconv.ParseInt(args[1], 0, 64)
			if err != nil {
				return fmt.Errorf("size %q: %w", args[1], err)
			}
			return v.SetFileSize(inum, size)
		}),
	}
}

func rmCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "rm IMAGE INUM",
		Short: "Delete file INUM and free its blocks",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(2)),
		RunE: runWithVolume(g, func(_ context.Context, v *fs.Volume, args []string) error {
			inum, err := parseInum(args[0])
			if err != nil {
				return err
			}
			return v.DeleteFile(inum)
		}),
	}
}

func inspectCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect IMAGE INUM",
		Short: "Dump the inode record of INUM",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(2)),
		RunE: runWithVolume(g, func(_ context.Context, v *fs.Volume, args []string) error {
			inum, err := parseInum(args[0])
			if err != nil {
				return err
			}
			ip, err := v.ReadInode(inum)
			if err != nil {
				return err
			}
			spew.Config.DisablePointerAddresses = true
			spew.Fdump(os.Stdout, ip)
			return nil
		}),
	}
}
