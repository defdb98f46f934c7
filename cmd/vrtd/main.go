// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/exanodes/vrt/lib/textui"
	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/admin"
	"github.com/exanodes/vrt/lib/vrt/blockdev"
	"github.com/exanodes/vrt/lib/vrt/engine"
	"github.com/exanodes/vrt/lib/vrt/group"
	"github.com/exanodes/vrt/lib/vrt/metadata"
	"github.com/exanodes/vrt/lib/vrt/transport"
)

// groupSupervisionInterval is how often the daemon scans the group
// registry for a group it hasn't yet started a background flusher for.
// Groups are rare and long-lived, so this doesn't need to be fast.
var groupSupervisionInterval = textui.Tunable(1 * time.Second)

func main() {
	logLvl := textui.LogLevelFlag{Level: dlog.LogLevelInfo}
	var socketPath string

	cmd := &cobra.Command{
		Use:   "vrtd",
		Short: "RAIN1 cluster replication daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := dlog.WithLogger(cmd.Context(), textui.NewLogger(os.Stderr, logLvl.Level))
			return run(ctx, socketPath)
		},
	}
	cmd.PersistentFlags().Var(&logLvl, "verbosity", "set the log verbosity")
	cmd.Flags().StringVar(&socketPath, "admin-socket", "/run/vrtd.sock", "path of the admin command `socket`")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, socketPath string) error {
	log := dlog.GetLogger(ctx)

	_ = os.Remove(socketPath)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}

	groups := &group.Registry{}
	devices := blockdev.NewStore()
	metadataIO := blockdev.NewMetadataIO(devices)
	locker := transport.NewLocalLocker()
	eng := engine.New(devices)

	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		EnableSignalHandling: true,
	})

	server := admin.NewServer(ctx, groups, devices, metadataIO, locker)

	grp.Go("engine", eng.Run)
	grp.Go("admin", func(ctx context.Context) error {
		return admin.Serve(ctx, listener, server)
	})
	grp.Go("flushers", func(ctx context.Context) error {
		return superviseFlushers(ctx, grp, groups, metadataIO)
	})
	grp.Go("shutdown", func(ctx context.Context) error {
		<-ctx.Done()
		log.Info("vrtd: shutting down")
		return devices.Close()
	})

	log.Infof("vrtd: listening for admin commands on %s", socketPath)
	return grp.Wait()
}

// superviseFlushers starts one background flusher per group as groups
// are registered, each under its own named dgroup goroutine (spec.md
// §4.4's background flusher, one per group rather than one per
// process).
func superviseFlushers(ctx context.Context, grp *dgroup.Group, groups *group.Registry, io metadata.IO) error {
	started := make(map[util.UUID]bool)
	ticker := time.NewTicker(groupSupervisionInterval)
	defer ticker.Stop()

	for {
		groups.Range(func(g *group.Group) bool {
			if started[g.UUID] {
				return true
			}
			started[g.UUID] = true
			metadata.Supervise(grp, "flusher-"+g.UUID.String(), g.NewFlusher(io, 0))
			return true
		})

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
