package main

import (
    "log"

    "github.com/spf13/cobra"

    scribecli "github.com/blindperson/scribe/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "scribectl",
        Short:         "scribe summarizer-election CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    scribecli.AddAll(root)
    return root
}
