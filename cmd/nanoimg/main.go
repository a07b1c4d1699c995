package main

import (
	"fmt"
	"os"

	"github.com/dunamismax/nanoimg/internal/codec"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nanoimg",
		Short:         "Shrink PNG images with lossy quantization, chroma subsampling and palette reduction",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newOptimizeCmd(), newPresetsCmd())
	return root
}

func main() {
	if err := codec.Startup(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	err := newRootCmd().Execute()
	codec.Shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
