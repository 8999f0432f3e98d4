package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"skald/internal/channel"
	"skald/internal/persist"
	"skald/internal/server"
	"skald/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the chat layer for a world",
	Args:  cobra.MaximumNArgs(0),
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Every log line of this process carries the session tag, so logs from
	// restarted sessions on the same host stay distinguishable.
	sessionID := uuid.NewString()
	log.SetPrefix("[" + sessionID[:8] + "] ")
	log.Printf("[CMD] Session %s starting", sessionID)

	node, err := transport.NewNode(ctx, viper.GetString("listen"), true)
	if err != nil {
		return err
	}
	defer node.Close()

	for _, a := range node.Host.Addrs() {
		fmt.Printf("  %s/p2p/%s\n", a, node.Host.ID())
	}

	var admins []uint64
	for _, s := range viper.GetStringSlice("admins") {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			log.Printf("[CMD] Skipping bad admin identity %q", s)
			continue
		}
		admins = append(admins, id)
	}

	dir := transport.NewDirectory(admins)
	dir.SetServerPeer(node.Host.ID())

	ps, err := persist.Open(viper.GetString("db"))
	if err != nil {
		return err
	}
	defer ps.Close()

	policy := channel.CreateAnyone
	if viper.GetString("create-policy") == "admins" {
		policy = channel.CreateAdminsOnly
	}

	srv := server.New(server.Config{
		World:             viper.GetString("world"),
		CommandPrefix:     viper.GetString("command-prefix"),
		CreatePolicy:      policy,
		GlobalChannelName: viper.GetString("global-channel"),
		SaveInterval:      viper.GetDuration("save-interval"),
	}, node, dir, ps)

	node.SetInspector(srv.Inspect)
	node.OnPeer(
		func(p peer.ID) {
			dir.Add(p, "")
			dir.SetReady(p, true)
			srv.PeerConnected(p)
		},
		func(p peer.ID) {
			dir.Remove(p)
			srv.PeerDisconnected(p)
		},
	)

	srv.Start()
	defer srv.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Printf("[CMD] Session %s shutting down", sessionID)
	return nil
}
