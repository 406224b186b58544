package main

import (
    "log"

    "github.com/spf13/cobra"

    usagecli "github.com/amirimatin/go-usage/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "usagectl",
        Short:         "go-usage node and client CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    usagecli.AddAll(root)
    return root
}
