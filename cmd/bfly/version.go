package main

import (
	"github.com/spf13/cobra"

	"github.com/bflycam/bfly/pkg/version"
)

func getVersion() (clientVersion string, daemonVersion string, err error) {
	daemonVersion, err = apiClient.GetVersion()
	return version.Version, daemonVersion, err
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Print version",
		GroupID: gBasic,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
			if daemonVersion, err := apiClient.GetVersion(); err == nil {
				cmd.Printf("daemon: %s\n", daemonVersion)
			} else {
				cmd.PrintErrf("daemon: unknown (%v)\n", err)
			}
		},
	}
}
