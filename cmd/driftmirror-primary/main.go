// Command driftmirror-primary runs the primary side of the replication
// daemon (§6): it mirrors its working directory onto zero or more replicas,
// combining an initial full scan, watcher-triggered immediate pushes, and
// a periodic anti-entropy pass.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/driftmirror/driftmirror/internal/antientropy"
	"github.com/driftmirror/driftmirror/internal/control"
	"github.com/driftmirror/driftmirror/internal/fsops"
	"github.com/driftmirror/driftmirror/internal/index"
	"github.com/driftmirror/driftmirror/internal/logging"
	"github.com/driftmirror/driftmirror/internal/policy"
	"github.com/driftmirror/driftmirror/internal/syncclient"
	"github.com/driftmirror/driftmirror/internal/transfer"
	"github.com/driftmirror/driftmirror/internal/wire"
)

var configuration struct {
	replicas  []string
	excludes  []string
	verbose   bool
	silent    bool
	bindDir   string
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

	cwd, err := os.Getwd()
	if err != nil {
		fatal(fmt.Errorf("unable to determine root directory: %w", err))
	}
	root := fsops.NewRoot(fsops.Absolute(cwd))

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
	q := policy.NewFanout()
	pipeline := transfer.New(q, root, psk, func(host string) (net.Conn, error) {
		return net.Dial("tcp", host)
	}, logger.Sublogger("transfer"))

	var clients []*syncclient.Client
	for _, host := range configuration.replicas {
		host := host
		pipeline.Start(host)
		client := syncclient.New(host, idx, q, psk, func() (net.Conn, error) {
			return net.Dial("tcp", host)
		}, logger.Sublogger("sync-client"))
		go client.Run()
		clients = append(clients, client)
	}

	watcher, err := fsops.NewWatcher(root, logger.Sublogger("watcher"))
	if err != nil {
		logger.Warn(err)
	}
	go watchLoop(watcher, scanner, idx, filter, q, configuration.replicas)

	loop := antientropy.New(idx, q, pipeline, clients, antientropy.DefaultInterval, logger.Sublogger("antientropy"))
	stop := make(chan struct{})
	go loop.Run(stop)

	socketDir := configuration.bindDir
	if socketDir == "" {
		socketDir = control.DefaultRendezvousDir()
	}
	socketPath, err := control.SocketPath(socketDir, instanceID)
	if err != nil {
		fatal(err)
	}
	ln, err := control.Listen(socketPath)
	if err != nil {
		fatal(err)
	}
	endpoint := control.NewEndpoint(instanceID, idx, clients, logger.Sublogger("control"))
	go endpoint.Serve(ln)

	waitForSignal()
	close(stop)
	ln.Close()
	os.Exit(0)
}

// watchLoop feeds single-path change notifications into the index and
// pushes each changed path directly to every replica's transfer policy,
// implementing §2's "(watcher-triggered) immediate push to transfer
// pipeline" data-flow path -- the fast path that doesn't wait for the next
// anti-entropy pass.
func watchLoop(watcher *fsops.Watcher, scanner *fsops.Scanner, idx *index.Index, filter *fsops.ExcludeFilter, q policy.Policy, replicas []string) {
	for rel := range watcher.Events() {
		if !filter.Allow(rel) {
			continue
		}
		record, ok, err := scanner.ScanSingle(rel)
		if err != nil || !ok {
			continue
		}
		idx.Update(record)

		file := wire.PolicyFile{Path: rel.String(), Kind: wire.Kind(record.Kind)}
		if record.Kind != fsops.KindGone {
			if entry, ok := idx.Lookup(rel); ok {
				file.Target = entry.Target
			}
		}
		for _, host := range replicas {
			q.Push(host, file)
		}
	}
}

func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func main() {
	root := &cobra.Command{
		Use:   "driftmirror-primary <instance-id> <cookie>",
		Short: "Run the primary side of a directory replication daemon",
		Args:  cobra.ExactArgs(2),
		Run:   run,
	}
	root.Flags().StringArrayVar(&configuration.replicas, "replica", nil, "a replica to mirror to, as host:port (repeatable)")
	root.Flags().StringArrayVar(&configuration.excludes, "exclude", nil, "a regular expression of paths to exclude (repeatable)")
	root.Flags().BoolVar(&configuration.verbose, "verbose", false, "enable debug logging")
	root.Flags().BoolVar(&configuration.silent, "silent", false, "suppress all but error logging")
	root.Flags().StringVar(&configuration.bindDir, "control-dir", "", "override the control socket rendezvous directory")

	if err := root.Execute(); err != nil {
		fatal(err)
	}
}
