package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/logden/logden/logden"
)

const LogdenCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Logden control.

The default url is:
    daemon_url: ws://127.0.0.1:9845

Usage:
    logdenctl info [--url=<url>] [--token=<token>] [--namespace=<namespace>]
        [--key=<key>]
    logdenctl append [--url=<url>] [--token=<token>] [--namespace=<namespace>]
        [--key=<key>] <value>...
    logdenctl tail [--url=<url>] [--token=<token>] [--namespace=<namespace>]
        [--key=<key>] [--count=<count>]
    logdenctl peers [--url=<url>] [--token=<token>]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --url=<url>              Daemon websocket url.
    --token=<token>          Auth token. Use - to prompt.
    --namespace=<namespace>  Log namespace.
    --key=<key>              Log key as hex. Omit for the namespace default.
    --count=<count>          Print this many entries then exit.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], LogdenCtlVersion)
	if err != nil {
		panic(err)
	}

	if info_, _ := opts.Bool("info"); info_ {
		info(opts)
	} else if append_, _ := opts.Bool("append"); append_ {
		appendValues(opts)
	} else if tail_, _ := opts.Bool("tail"); tail_ {
		tail(opts)
	} else if peers_, _ := opts.Bool("peers"); peers_ {
		peers(opts)
	}
}

func dial(opts docopt.Opts) *logden.Client {
	url, err := opts.String("--url")
	if err != nil || url == "" {
		url = "ws://127.0.0.1:9845"
	}

	var auth *logden.ClientAuth
	if token, err := opts.String("--token"); err == nil && token != "" {
		if token == "-" {
			fmt.Print("token: ")
			tokenBytes, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				Err.Fatalf("Could not read token: %s", err)
			}
			token = strings.TrimSpace(string(tokenBytes))
		}
		auth = logden.NewClientAuth(token)
	}

	client, err := logden.DialClient(context.Background(), url, auth)
	if err != nil {
		Err.Fatalf("Could not connect to %s: %s", url, err)
	}
	client.AddFatalCallback(func(err error) {
		Err.Fatalf("Fatal: %s", err)
	})
	return client
}

func openLog(client *logden.Client, opts docopt.Opts) *logden.Log {
	store := client.Store()
	if namespace, err := opts.String("--namespace"); err == nil && namespace != "" {
		store = client.Namespace(namespace)
	}

	var target *logden.Log
	if keyHex, err := opts.String("--key"); err == nil && keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			Err.Fatalf("Bad key: %s", err)
		}
		target = store.GetKey(key)
	} else {
		target = store.Default()
	}

	if err := target.Open(context.Background()); err != nil {
		Err.Fatalf("Could not open log: %s", err)
	}
	return target
}

func info(opts docopt.Opts) {
	client := dial(opts)
	defer client.Close()

	target := openLog(client, opts)
	Out.Printf("key         %x", target.Key())
	Out.Printf("discovery   %x", target.DiscoveryKey())
	Out.Printf("length      %d", target.Length())
	Out.Printf("byte length %d", target.ByteLength())
	Out.Printf("writable    %t", target.Writable())
}

func appendValues(opts docopt.Opts) {
	client := dial(opts)
	defer client.Close()

	target := openLog(client, opts)
	values := []any{}
	for _, value := range opts["<value>"].([]string) {
		values = append(values, value)
	}
	seq, err := target.Append(context.Background(), values...)
	if err != nil {
		Err.Fatalf("Append failed: %s", err)
	}
	Out.Printf("%d", seq)
}

func tail(opts docopt.Opts) {
	client := dial(opts)
	defer client.Close()

	target := openLog(client, opts)

	count := -1
	if count_, err := opts.Int("--count"); err == nil {
		count = count_
	}

	ctx := context.Background()

	entries := make(chan uint64, 64)
	removeCallback := target.AddAppendCallback(func(length uint64, byteLength uint64) {
		select {
		case entries <- length:
		default:
		}
	})
	defer removeCallback()

	next := target.Length()
	printed := 0
	for count < 0 || printed < count {
		length := <-entries
		for ; next < length; next += 1 {
			value, err := target.Get(ctx, next, nil)
			if err != nil {
				Err.Fatalf("Get %d failed: %s", next, err)
			}
			switch v := value.(type) {
			case []byte:
				Out.Printf("%d: %s", next, string(v))
			default:
				Out.Printf("%d: %v", next, v)
			}
			printed += 1
			if 0 <= count && count <= printed {
				return
			}
		}
	}
}

func peers(opts docopt.Opts) {
	client := dial(opts)
	defer client.Close()

	peers, err := client.Network().ListPeers(context.Background())
	if err != nil {
		Err.Fatalf("Could not list peers: %s", err)
	}
	for _, peer := range peers {
		Out.Printf("%x %s %s", peer.RemotePublicKey, peer.ConnectionType, peer.RemoteAddress)
	}
}
