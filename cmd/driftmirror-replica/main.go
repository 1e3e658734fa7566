// Command driftmirror-replica runs the replica side of the replication
// daemon (§6): it listens for primaries to connect over §4.3's secure
// transport, serves DIFF_REQ/DIFF_COMMIT and file transfers against its own
// Merkle index, and exposes the same control socket surface as the primary.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/driftmirror/driftmirror/internal/control"
	"github.com/driftmirror/driftmirror/internal/fsops"
	"github.com/driftmirror/driftmirror/internal/index"
	"github.com/driftmirror/driftmirror/internal/logging"
	"github.com/driftmirror/driftmirror/internal/syncserver"
)

var configuration struct {
	bind     string
	path     string
	excludes []string
	verbose  bool
	silent   bool
	bindDir  string
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
	os.Exit(1)
}

func run(command *cobra.Command, arguments []string) {
	instanceID, cookie := arguments[0], arguments[1]

	switch {
	case configuration.silent:
		logging.SetLevel(logging.LevelError)
	case configuration.verbose:
		logging.SetLevel(logging.LevelDebug)
	default:
		logging.SetLevel(logging.LevelInfo)
	}
	logger := logging.RootLogger.Sublogger(instanceID)

	rootPath := configuration.path
	if rootPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			fatal(fmt.Errorf("unable to determine root directory: %w", err))
		}
		rootPath = cwd
	}
	root := fsops.NewRoot(fsops.Absolute(rootPath))

	filter, err := fsops.NewExcludeFilter(configuration.excludes)
	if err != nil {
		fatal(err)
	}

	idx := index.New(root, logger)
	scanner := fsops.NewScanner(root, filter)

	logger.Info("performing initial scan of ", root.Absolute)
	idx.Rebuild(func() {
		if err := scanner.Scan(idx.Update); err != nil {
			logger.Warn(err)
		}
	})

	psk := []byte(cookie)
	server := syncserver.New(root, idx, scanner, psk, instanceID, logger.Sublogger("sync-server"))

	ln, err := net.Listen("tcp", configuration.bind)
	if err != nil {
		fatal(fmt.Errorf("unable to bind %s: %w", configuration.bind, err))
	}
	logger.Info("listening for primaries on ", ln.Addr().String())
	go func() {
		if err := server.Serve(ln); err != nil {
			logger.Warn(err)
		}
	}()

	socketDir := configuration.bindDir
	if socketDir == "" {
		socketDir = control.DefaultRendezvousDir()
	}
	socketPath, err := control.SocketPath(socketDir, instanceID)
	if err != nil {
		fatal(err)
	}
	controlListener, err := control.Listen(socketPath)
	if err != nil {
		fatal(err)
	}
	endpoint := control.NewEndpoint(instanceID, idx, nil, logger.Sublogger("control"))
	go endpoint.Serve(controlListener)

	waitForSignal()
	ln.Close()
	controlListener.Close()
	os.Exit(0)
}

func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func main() {
	root := &cobra.Command{
		Use:   "driftmirror-replica <instance-id> <cookie>",
		Short: "Run the replica side of a directory replication daemon",
		Args:  cobra.ExactArgs(2),
		Run:   run,
	}
	root.Flags().StringVar(&configuration.bind, "bind", "0.0.0.0:7440", "address to listen on for incoming primaries")
	root.Flags().StringVar(&configuration.path, "path", "", "root directory to replicate into (default: current directory)")
	root.Flags().StringArrayVar(&configuration.excludes, "exclude", nil, "a regular expression of paths to exclude (repeatable)")
	root.Flags().BoolVar(&configuration.verbose, "verbose", false, "enable debug logging")
	root.Flags().BoolVar(&configuration.silent, "silent", false, "suppress all but error logging")
	root.Flags().StringVar(&configuration.bindDir, "control-dir", "", "override the control socket rendezvous directory")

	if err := root.Execute(); err != nil {
		fatal(err)
	}
}
