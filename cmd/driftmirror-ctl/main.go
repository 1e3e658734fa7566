// Command driftmirror-ctl is the control CLI of §6: it dials a running
// primary or replica's control socket and issues info/sync/inspect commands
// against it.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/driftmirror/driftmirror/internal/control"
)

var configuration struct {
	instanceID string
	controlDir string
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
	os.Exit(1)
}

func socketPath() string {
	dir := configuration.controlDir
	if dir == "" {
		dir = control.DefaultRendezvousDir()
	}
	path, err := control.SocketPath(dir, configuration.instanceID)
	if err != nil {
		fatal(err)
	}
	return path
}

func runInfo(command *cobra.Command, arguments []string) {
	resp, err := control.Info(socketPath())
	if err != nil {
		fatal(err)
	}
	for _, payload := range resp.Payloads {
		fmt.Printf("%s: %s (files=%d, hash=%x)\n", payload.InstanceID, payload.Status, payload.FilesIndexed, payload.Hash)
	}
}

func runSync(command *cobra.Command, arguments []string) {
	if err := control.Sync(socketPath()); err != nil {
		fatal(err)
	}
	fmt.Println(color.GreenString("fullsync requested"))
}

func runInspect(command *cobra.Command, arguments []string) {
	relPath := ""
	if len(arguments) > 0 {
		relPath = arguments[0]
	}
	resp, err := control.Inspect(socketPath(), relPath)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("%s: hash=%x\n", displayPath(resp.Path), resp.Hash)
	for _, child := range resp.Children {
		fmt.Printf("  %s: hash=%x\n", child.Path, child.Hash)
	}
}

func displayPath(path string) string {
	if path == "" {
		return "."
	}
	return path
}

func main() {
	root := &cobra.Command{
		Use:   "driftmirror-ctl",
		Short: "Query and control a running driftmirror instance",
	}
	root.PersistentFlags().StringVar(&configuration.instanceID, "instance-id", "", "instance id of the running primary or replica")
	root.PersistentFlags().StringVar(&configuration.controlDir, "control-dir", "", "override the control socket rendezvous directory")
	root.MarkPersistentFlagRequired("instance-id")

	root.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Report index status",
		Args:  cobra.NoArgs,
		Run:   runInfo,
	})
	root.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Trigger an immediate fullsync pass against every replica",
		Args:  cobra.NoArgs,
		Run:   runSync,
	})
	root.AddCommand(&cobra.Command{
		Use:   "inspect [path]",
		Short: "Report the Merkle hash of a path and its immediate children",
		Args:  cobra.MaximumNArgs(1),
		Run:   runInspect,
	})

	if err := root.Execute(); err != nil {
		fatal(err)
	}
}
