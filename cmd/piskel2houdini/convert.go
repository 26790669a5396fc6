package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/NTOM/piskel2Houdini/internal/convert"
)

// ConvertFlags holds flags for the json2png subcommand.
type ConvertFlags struct {
	Hip     string
	UUID    string
	WaitSec float64
	Out     string
	NoData  bool
}

// PNG2JSONFlags holds flags for the png2json subcommand.
type PNG2JSONFlags struct {
	Input  string
	Output string
	Format string
}

func createConvertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert between worker pixel exports and PNG rasters",
	}
	cmd.AddCommand(createJSON2PNGCommand(), createPNG2JSONCommand())
	return cmd
}

func createJSON2PNGCommand() *cobra.Command {
	flags := &ConvertFlags{}

	cmd := &cobra.Command{
		Use:   "json2png",
		Short: "Render a worker pixel export to PNG",
		Long: `Wait for the worker's <uuid>.json pixel export next to the scene and
render it to <uuid>.png. The report is printed to stdout and, with
--out, duplicated into a file.

Exit codes: 0 converted, 2 export missing or unusable, 1 hard error.`,
		Run: func(cmd *cobra.Command, args []string) {
			rep := convert.JSON2PNG(convert.JSON2PNGOptions{
				Hip:     flags.Hip,
				UUID:    flags.UUID,
				WaitSec: flags.WaitSec,
				NoData:  flags.NoData,
			})
			if err := convert.Emit(rep, flags.Out); err != nil {
				_, _ = fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			if !rep.OK {
				os.Exit(2)
			}
		},
	}

	cmd.Flags().StringVar(&flags.Hip, "hip", "", "scene file the export sits next to")
	cmd.Flags().StringVar(&flags.UUID, "uuid", "", "job id naming the export and raster")
	cmd.Flags().Float64Var(&flags.WaitSec, "wait-sec", 0, "seconds to wait for the export to appear")
	cmd.Flags().StringVar(&flags.Out, "out", "", "also write the report to this file")
	cmd.Flags().BoolVar(&flags.NoData, "no-data", false, "verify the export only, write no raster")
	for _, f := range []string{"hip", "uuid"} {
		if err := cmd.MarkFlagRequired(f); err != nil {
			panic(err) // This should never happen during setup
		}
	}
	return cmd
}

func createPNG2JSONCommand() *cobra.Command {
	flags := &PNG2JSONFlags{}

	cmd := &cobra.Command{
		Use:   "png2json",
		Short: "Convert a PNG raster to a worker-style pixel document",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := convert.PNG2JSON(convert.PNG2JSONOptions{
				Input:  flags.Input,
				Output: flags.Output,
				Format: flags.Format,
			})
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.Input, "input", "", "PNG file to read")
	cmd.Flags().StringVar(&flags.Output, "output", "", "JSON destination (default: input with .json)")
	cmd.Flags().StringVar(&flags.Format, "format", "simple", "output format: simple or metadata")
	if err := cmd.MarkFlagRequired("input"); err != nil {
		panic(err) // This should never happen during setup
	}
	return cmd
}
