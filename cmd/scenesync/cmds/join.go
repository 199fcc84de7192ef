package cmds

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/scenesync/pkg/collab"
	"github.com/go-go-golems/scenesync/pkg/config"
	"github.com/go-go-golems/scenesync/pkg/protocol"
	"github.com/go-go-golems/scenesync/pkg/scene"
	"github.com/go-go-golems/scenesync/pkg/transport"
)

func NewJoinCommand() (*cobra.Command, error) {
	var (
		input     string
		exitOnEOF bool
	)

	cmd := &cobra.Command{
		Use:   "join [room]",
		Short: "Join a room, broadcast snapshots read as JSON lines and print the ones peers send",
		Long: `Each input line is a JSON array of elements, e.g.
  [{"id":"x","version":2,"type":"rect"}]
and replaces the local scene. Snapshots received from the room are printed
to stdout as UPDATE_SCENE messages, one per line.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			c := settings.Client
			if len(args) == 1 {
				c.Room = args[0]
			}
			if strings.TrimSpace(c.Room) == "" {
				return errors.New("no room given")
			}

			in := cmd.InOrStdin()
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return errors.Wrap(err, "open input")
				}
				defer func() { _ = f.Close() }()
				in = f
			} else if isatty.IsTerminal(os.Stdin.Fd()) {
				log.Info().Msg("reading snapshots from the terminal, one JSON array per line")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runJoin(ctx, c, in, cmd.OutOrStdout(), exitOnEOF)
		},
	}

	d := config.Default()
	f := cmd.Flags()
	f.String("base-url", d.Client.BaseURL, "room service base URL")
	f.String("stream", d.Client.Stream, "inbound stream transport (sse, websocket)")
	f.Duration("debounce", d.Client.Debounce, "quiet period before a local change is broadcast")
	f.Duration("http-timeout", d.Client.HTTPTimeout, "timeout for join and broadcast requests")
	f.StringVarP(&input, "input", "i", "-", "file with JSON-line snapshots, - for stdin")
	f.BoolVar(&exitOnEOF, "exit-on-eof", false, "leave the room once the input is exhausted")

	err := bindFlags(f, map[string]string{
		"base-url":     config.KeyClientBaseURL,
		"stream":       config.KeyClientStream,
		"debounce":     config.KeyClientDebounce,
		"http-timeout": config.KeyClientHTTPTimeout,
	})
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func runJoin(ctx context.Context, s config.ClientSettings, in io.Reader, out io.Writer, exitOnEOF bool) error {
	kind, ok := transport.ParseStreamKind(s.Stream)
	if !ok {
		return errors.Errorf("unknown stream kind %q", s.Stream)
	}
	tc, err := transport.NewClient(s.BaseURL,
		transport.WithStreamKind(kind),
		transport.WithRequestTimeout(s.HTTPTimeout),
	)
	if err != nil {
		return err
	}

	local := scene.NewMemoryScene()
	local.SetReady(true)
	printer := &printingScene{MemoryScene: local, out: out}

	client, err := collab.NewClient(s.Room, printer, tc, collab.WithDebounce(s.Debounce))
	if err != nil {
		return err
	}
	local.OnChange(client.OnChange)

	if err := client.StartSession(ctx); err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	log.Info().Str("room_id", s.Room).Str("session_id", client.SessionID()).Msg("joined room")

	inputErr := make(chan error, 1)
	go func() {
		err := readSnapshots(in, func(elements []scene.Element) error {
			local.ReplaceElements(elements)
			return nil
		})
		client.Flush()
		inputErr <- err
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-inputErr:
			if err != nil {
				return err
			}
			log.Debug().Msg("input exhausted")
			if exitOnEOF {
				return nil
			}
			inputErr = nil
		case <-client.Done():
			return errors.New("room stream ended")
		}
	}
}

// readSnapshots calls fn with every non-empty line of r decoded as an element
// list. It stops at the first malformed line.
func readSnapshots(r io.Reader, fn func([]scene.Element) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var elements []scene.Element
		if err := json.Unmarshal([]byte(text), &elements); err != nil {
			return errors.Wrapf(err, "input line %d", line)
		}
		if err := fn(elements); err != nil {
			return err
		}
	}
	return errors.Wrap(scanner.Err(), "read input")
}

// printingScene writes every snapshot applied from the room to out.
type printingScene struct {
	*scene.MemoryScene
	mu  sync.Mutex
	out io.Writer
}

func (p *printingScene) ReplaceElements(elements []scene.Element) {
	p.MemoryScene.ReplaceElements(elements)
	b, err := json.Marshal(protocol.UpdateScene(elements))
	if err != nil {
		log.Warn().Err(err).Msg("could not print snapshot")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = p.out.Write(append(b, '\n'))
}
