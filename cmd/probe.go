package cmd

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/pagescaler/pagescaler/dircache"
	"github.com/pagescaler/pagescaler/docpath"
)

var probeCmd = &cobra.Command{
	Use:   "probe <path> [page]",
	Short: "Show the copies of a page image and their sizes",
	Long: `probe resolves a logical path the way a scale request does and prints
every copy of the page found across the base directories, with its pixel
size, followed by the physical resolution derived from the metadata.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		page := 1
		if len(args) == 2 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid page %q", args[1])
			}
			page = n
		}
		s, err := loadSettings()
		if err != nil {
			return err
		}
		cache, err := newCache(afero.NewOsFs(), s)
		if err != nil {
			return err
		}
		return probe(cmd.OutOrStdout(), cache, args[0], page)
	},
}

func probe(w io.Writer, cache *dircache.Cache, path string, page int) error {
	e, err := cache.GetFile(path, page, docpath.ClassImage)
	if err != nil {
		return err
	}
	is, ok := e.(*dircache.ImageSet)
	if !ok {
		return fmt.Errorf("%s is not an image", path)
	}

	fmt.Fprintf(w, "%s (%s)\n", is.Name(), path)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tTYPE\tSIZE")
	for _, f := range is.Files() {
		size := "unreadable"
		if sz, err := f.Size(); err == nil {
			size = sz.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Path, f.Mime, size)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	x, y := is.Resolution()
	if x == 0 || y == 0 {
		fmt.Fprintln(w, "resolution: unknown")
	} else {
		fmt.Fprintf(w, "resolution: %gx%g dpi\n", x, y)
	}
	if a := is.Aspect(); a > 0 {
		fmt.Fprintf(w, "aspect: %.4f\n", a)
	}
	return nil
}
