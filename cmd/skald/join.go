package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"skald/internal/client"
	"skald/internal/transport"
)

var joinCmd = &cobra.Command{
	Use:   "join <server-multiaddr>",
	Short: "Join a hosted chat session",
	Args:  cobra.ExactArgs(1),
	RunE:  runJoin,
}

func runJoin(_ *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Joining peers take an ephemeral port; only the host needs a stable one.
	node, err := transport.NewNode(ctx, "/ip4/0.0.0.0/tcp/0", false)
	if err != nil {
		return err
	}
	defer node.Close()

	name := viper.GetString("name")
	dir := transport.NewDirectory(nil)
	dir.Add(node.Host.ID(), name)
	dir.SetReady(node.Host.ID(), true)

	c := client.New(name, viper.GetString("command-prefix"), node, dir)
	c.SetOnLine(func(l client.ChatLine) {
		if l.Sender == "" {
			fmt.Printf("[%s] %s\n", l.Channel, l.Text)
			return
		}
		fmt.Printf("[%s] %s: %s\n", l.Channel, l.Sender, l.Text)
	})

	node.OnPeer(
		func(p peer.ID) {
			dir.Add(p, "")
			dir.SetReady(p, true)
			if p == dir.ServerPeer() {
				c.Connected()
			}
		},
		func(p peer.ID) {
			dir.Remove(p)
			if p == dir.ServerPeer() {
				c.Disconnected()
			}
		},
	)

	server, err := node.Dial(args[0])
	if err != nil {
		return err
	}
	dir.SetServerPeer(server)
	dir.Add(server, "")
	dir.SetReady(server, true)
	c.Connected()

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if err := c.Input(sc.Text()); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}
	return sc.Err()
}
