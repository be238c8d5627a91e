package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cassio-all/generic-wpp-chatbot/internal/transport"
	"golang.org/x/term"
)

const chatThreadID = "terminal"

// terminalSender prints replies to stdout and signals the REPL loop so the
// prompt comes back after the answer, not in the middle of it.
type terminalSender struct {
	replies chan string
}

func (s *terminalSender) SendText(ctx context.Context, threadID, text string) error {
	select {
	case s.replies <- text:
	default:
	}
	return nil
}

func (s *terminalSender) SendTyping(ctx context.Context, threadID string) error {
	return nil
}

func chatCmd(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config-path", "", "Config path (default: ~/.generic-wpp-chatbot/config.json)")
	replyTimeout := fs.Duration("reply-timeout", 45*time.Second, "How long to wait for each reply")
	_ = fs.Parse(args)

	a, err := loadApp(*configPath)
	if err != nil {
		fatalf("%v", err)
	}
	defer a.Close()

	if err := a.openModel(); err != nil {
		fatalf("%v", err)
	}
	if err := a.openStores(); err != nil {
		fatalf("%v", err)
	}
	if err := a.openKnowledge(); err != nil {
		fatalf("%v", err)
	}

	sender := &terminalSender{replies: make(chan string, 4)}
	if err := a.buildEngine(sender); err != nil {
		fatalf("%v", err)
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Println("Chat session started. Type a message, or /quit to leave.")
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		a.engine.OnInbound(inboundFromTerminal(line))

		select {
		case reply := <-sender.replies:
			fmt.Printf("bot> %s\n", reply)
		case <-time.After(*replyTimeout):
			fmt.Println("bot> (sem resposta a tempo)")
		}
	}
	if err := scanner.Err(); err != nil {
		fatalf("read stdin: %v", err)
	}
}

var lastTerminalTimestampMs int64

// inboundFromTerminal fabricates a bridge-like event. Timestamps must be
// unique per message or the engine's duplicate suppression eats fast typing.
func inboundFromTerminal(text string) transport.Inbound {
	ts := time.Now().UnixMilli()
	if ts <= lastTerminalTimestampMs {
		ts = lastTerminalTimestampMs + 1
	}
	lastTerminalTimestampMs = ts
	return transport.Inbound{
		ThreadID:        chatThreadID,
		Text:            text,
		TimestampUnixMs: ts,
	}
}
