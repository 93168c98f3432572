package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/bus"
	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
)

var version = "0.1.0-dev"

const usage = "usage: loqa-dictate <begin|end|toggle|ping|status|devices|history|version> [flags]"

type options struct {
	server  string
	prefix  string
	source  string
	timeout time.Duration
	limit   int
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	if cmd == "version" {
		fmt.Println(version)
		return
	}

	defaults := config.Default()
	var opts options
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.StringVar(&opts.server, "server", defaults.Bus.Servers[0], "NATS server URL")
	fs.StringVar(&opts.prefix, "prefix", defaults.Control.SubjectPrefix, "Control subject prefix")
	fs.StringVar(&opts.source, "source", "cli", "Caller name recorded with the session")
	fs.DurationVar(&opts.timeout, "timeout", time.Duration(defaults.Control.RequestTimeoutMS)*time.Millisecond, "Request timeout")
	fs.IntVar(&opts.limit, "limit", 10, "Number of sessions for history")
	_ = fs.Parse(os.Args[2:])

	if err := run(cmd, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd string, opts options, out io.Writer) error {
	switch cmd {
	case protocol.OpBegin, protocol.OpEnd, protocol.OpPing, protocol.OpStatus, protocol.OpDevices, protocol.OpHistory, "toggle":
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{opts.server},
		ConnectTimeout: 2000,
	}, "loqa-dictate", logger)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if cmd == "toggle" {
		status, err := request(ctx, client, opts, protocol.OpStatus)
		if err != nil {
			return err
		}
		cmd = protocol.OpBegin
		if status.Status != nil && status.Status.Recording {
			cmd = protocol.OpEnd
		}
	}

	reply, err := request(ctx, client, opts, cmd)
	if err != nil {
		return err
	}
	return render(out, cmd, reply)
}

func request(ctx context.Context, client *bus.Client, opts options, op string) (protocol.ControlReply, error) {
	var reply protocol.ControlReply
	req := protocol.ControlRequest{Source: opts.source, Limit: opts.limit}
	if err := client.RequestJSON(ctx, protocol.ControlSubject(opts.prefix, op), req, &reply); err != nil {
		return reply, err
	}
	if !reply.OK {
		return reply, errors.New(reply.Error)
	}
	return reply, nil
}

func render(out io.Writer, op string, reply protocol.ControlReply) error {
	switch op {
	case protocol.OpBegin:
		_, err := fmt.Fprintf(out, "recording %s\n", reply.SessionID)
		return err
	case protocol.OpEnd, protocol.OpPing:
		_, err := fmt.Fprintln(out, reply.Text)
		return err
	case protocol.OpStatus:
		return writeJSON(out, reply.Status)
	case protocol.OpDevices:
		return writeJSON(out, reply.Devices)
	default:
		return writeJSON(out, reply.Sessions)
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
