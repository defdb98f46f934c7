// Copyright (C) 2002, 2010 Seanodes Ltd http://www.seanodes.com.
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Command vrtctl is the thin admin CLI: it parses a group/volume
// command and its arguments, sends it down the admin socket as a single
// admin.Request, and prints back the admin.Response.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/exanodes/vrt/lib/util"
	"github.com/exanodes/vrt/lib/vrt/admin"
)

var socketPath string

func main() {
	root := &cobra.Command{
		Use:   "vrtctl",
		Short: "Administer a running vrtd cluster node",
	}
	root.PersistentFlags().StringVar(&socketPath, "admin-socket", "/run/vrtd.sock", "path of vrtd's admin command `socket`")

	root.AddCommand(
		groupCommand("compute_status", "Recompute and print a group's status", withGroupUUID),
		groupCommand("suspend", "Suspend a group's in-flight I/O", withGroupUUID),
		groupCommand("resume", "Resume a group's suspended I/O", withGroupUUID),
		groupCommand("stop", "Stop a group, draining its in-flight I/O first", withGroupUUID),
		groupCommand("start", "Start a stopped group", withGroupUUID),
		groupCommand("freeze", "Freeze every volume of a group", withGroupUUID),
		groupCommand("unfreeze", "Unfreeze every volume of a group", withGroupUUID),
		groupCommand("stoppable", "Report whether a group has drained", withGroupUUID),
		volumeCommand("get_status", "Print a volume's status"),
		volumeCommand("stats", "Print a volume's I/O counters"),
		volumeCommand("volume_start", "Start a volume"),
		volumeCommand("volume_stop", "Stop a volume"),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withGroupUUID(args []string, req *admin.Request) error {
	uuid, err := util.ParseUUID(args[0])
	if err != nil {
		return fmt.Errorf("invalid group UUID: %w", err)
	}
	req.Group = uuid
	return nil
}

func groupCommand(wireCommand, short string, fillArgs func([]string, *admin.Request) error) *cobra.Command {
	return &cobra.Command{
		Use:   wireCommand + " GROUP-UUID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := admin.Request{Command: wireCommand}
			if err := fillArgs(args, &req); err != nil {
				return err
			}
			return callAndPrint(cmd.Context(), req)
		},
	}
}

// volumeCommand is for the handful of commands keyed by a volume UUID;
// wireCommand is the subcommand name. For "get_status" and "stats" it
// is sent to Dispatch as "volume_get_status" and "volume_stats"; any
// other wireCommand is sent as the Dispatch switch case unchanged.
func volumeCommand(wireCommand, short string) *cobra.Command {
	dispatchCommand := wireCommand
	switch wireCommand {
	case "get_status":
		dispatchCommand = "volume_get_status"
	case "stats":
		dispatchCommand = "volume_stats"
	}
	return &cobra.Command{
		Use:   wireCommand + " VOLUME-UUID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uuid, err := util.ParseUUID(args[0])
			if err != nil {
				return fmt.Errorf("invalid volume UUID: %w", err)
			}
			req := admin.Request{Command: dispatchCommand, Volume: uuid}
			return callAndPrint(cmd.Context(), req)
		},
	}
}

func callAndPrint(ctx context.Context, req admin.Request) error {
	resp, err := admin.Call(ctx, "unix", socketPath, req)
	if err != nil {
		return err
	}
	if resp.Err != "" {
		return fmt.Errorf("vrtd: %s", resp.Err)
	}
	return admin.WriteReply(os.Stdout, resp)
}
