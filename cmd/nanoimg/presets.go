package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dunamismax/nanoimg/internal/nano"
	"github.com/spf13/cobra"
)

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the named optimization presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRESET\tQUANTIZE\tTOLERANCE\tSUBSAMPLE\tSTRIP ALPHA\tADAPTIVE\tDITHER\tCOLORS\tQUALITY")
			for _, name := range nano.PresetNames() {
				cfg, err := nano.Preset(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%t\t%g\t%t\t%t\t%t\t%g\t%s\t%s\n",
					name,
					cfg.EnableColorQuantization,
					cfg.ColorTolerance,
					cfg.EnableChromaSubsampling,
					cfg.EnableAlphaStripping,
					cfg.EnableAdaptiveFiltering,
					cfg.DitheringLevel,
					limitLabel(cfg.EnableColorLimit, cfg.ColorLimit),
					limitLabel(cfg.EnableQualityReduction, cfg.Quality),
				)
			}
			return tw.Flush()
		},
	}
}

func limitLabel(enabled bool, value int) string {
	if !enabled {
		return "off"
	}
	return fmt.Sprint(value)
}
