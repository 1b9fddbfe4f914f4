package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bastionhost/bastion-agent/internal/config"
	"github.com/bastionhost/bastion-agent/internal/log"
	"github.com/bastionhost/bastion-agent/internal/session"
)

var (
	sendInteractive bool
	sendListOnly    bool
	sendResume      string
)

func init() {
	sendCmd.Flags().BoolVarP(&sendInteractive, "interactive", "i", false, "keep the connection open for multiple turns")
	sendCmd.Flags().BoolVar(&sendListOnly, "sessions", false, "list saved sessions instead of sending a message")
	sendCmd.Flags().StringVar(&sendResume, "resume", "", "resume a saved session by id")
}

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send a message to a running daemon over its Unix socket",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sendListOnly {
			store, err := session.NewStore("./sessions", log.Logger())
			if err != nil {
				return err
			}
			return listSessions(store)
		}

		agentCfg, err := config.LoadAgentConfig(flagConfigDir)
		if err != nil {
			return err
		}
		socketPath := agentCfg.SocketPath
		if flagSocket != "" {
			socketPath = flagSocket
		}

		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return fmt.Errorf("connecting to %s: %w (is the daemon running?)", socketPath, err)
		}
		defer conn.Close()

		c := &client{conn: conn, scanner: bufio.NewScanner(conn)}
		c.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		if !c.readBanner() {
			return fmt.Errorf("daemon closed the connection before sending a banner")
		}

		message := strings.Join(args, " ")
		if message == "" && !sendInteractive {
			data, _ := readStdinIfPiped()
			message = strings.TrimSpace(data)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		interrupts := 0
		go func() {
			for range sigCh {
				interrupts++
				if interrupts == 1 {
					c.sendFrame(wireFrame{Type: "cancel"})
				} else {
					conn.Close()
					os.Exit(130)
				}
			}
		}()

		if message != "" {
			c.sendFrame(wireFrame{Message: message, Resume: sendResume})
			c.readUntilDone(renderWireEvent)
		}

		if sendInteractive {
			stdin := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !stdin.Scan() {
					break
				}
				line := strings.TrimSpace(stdin.Text())
				if line == "" {
					continue
				}
				if line == "/quit" || line == "/exit" {
					c.sendFrame(wireFrame{Message: line})
					break
				}
				c.sendFrame(wireFrame{Message: line})
				if !c.readUntilDone(renderWireEvent) {
					break
				}
			}
		}

		return nil
	},
}

type wireFrame struct {
	Message string `json:"message,omitempty"`
	Resume  string `json:"resume,omitempty"`
	Type    string `json:"type,omitempty"`
}

type wireEvent struct {
	Type   string         `json:"type"`
	Text   string         `json:"text,omitempty"`
	Tool   string         `json:"tool,omitempty"`
	Input  map[string]any `json:"input,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

type client struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func (c *client) sendFrame(f wireFrame) {
	data, _ := json.Marshal(f)
	data = append(data, '\n')
	c.conn.Write(data)
}

// readUntilDone reads events with render until a "done" or "goodbye" event,
// or the connection closes. It returns false when the session has ended.
func (c *client) readUntilDone(render func(wireEvent)) bool {
	for c.scanner.Scan() {
		var ev wireEvent
		if err := json.Unmarshal(c.scanner.Bytes(), &ev); err != nil {
			continue
		}
		render(ev)
		if ev.Type == "done" {
			return true
		}
		if ev.Type == "goodbye" {
			return false
		}
	}
	return false
}

// readBanner reads the single banner event a connection opens with.
func (c *client) readBanner() bool {
	if !c.scanner.Scan() {
		return false
	}
	var ev wireEvent
	if err := json.Unmarshal(c.scanner.Bytes(), &ev); err == nil {
		fmt.Println(ev.Text)
	}
	return true
}

func renderWireEvent(ev wireEvent) {
	switch ev.Type {
	case "response":
		fmt.Println(ev.Text)
	case "tool_call":
		fmt.Printf("  -> %s %v\n", ev.Tool, ev.Input)
	case "tool_result":
		fmt.Printf("  <- %s %v\n", ev.Tool, ev.Result)
	case "error":
		fmt.Fprintf(os.Stderr, "error: %s\n", ev.Text)
	case "info":
		fmt.Printf("(%s)\n", ev.Text)
	case "cancelled":
		fmt.Println("(cancelled)")
	case "goodbye":
		fmt.Println("goodbye")
	}
}

func readStdinIfPiped() (string, error) {
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) != 0 {
		return "", nil
	}
	data := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		data = append(data, buf[:n]...)
		if err != nil {
			break
		}
	}
	return string(data), nil
}
