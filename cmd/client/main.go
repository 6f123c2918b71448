package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dkeye/VideoSync/internal/client"
	"github.com/dkeye/VideoSync/internal/client/store"
	"github.com/dkeye/VideoSync/internal/domain"
)

func loadFlags() (*viper.Viper, error) {
	fs := pflag.NewFlagSet("videosync-client", pflag.ContinueOnError)
	fs.String("server", "ws://localhost:3000/ws", "relay websocket url")
	fs.String("room", "", "room code to join")
	fs.String("api-key", "", "shared relay key")
	fs.Bool("create", false, "create a new room")
	fs.String("name", "", "display name")
	fs.String("state-file", defaultStateFile(), "where the member id and session are kept")
	fs.String("url", "", "video url stored with a created room")
	fs.String("title", "", "video title stored with a created room")
	fs.String("platform", "", "platform stored with a created room")
	fs.String("log-level", "info", "debug|info|warn|error")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("VIDEOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	return v, nil
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "videosync-client.yaml"
	}
	return filepath.Join(dir, "videosync", "client.yaml")
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file")
	}
	v, err := loadFlags()
	if err != nil {
		log.Fatal().Err(err).Msg("flags")
	}
	lvl, err := zerolog.ParseLevel(v.GetString("log-level"))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	st, err := store.Open(v.GetString("state-file"))
	if err != nil {
		log.Fatal().Err(err).Msg("open state")
	}
	member, err := client.MemberID(st)
	if err != nil {
		log.Fatal().Err(err).Msg("member id")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	player := client.NewVirtualPlayer(nil)
	sess := client.New(client.Config{MemberID: member, Username: v.GetString("name")},
		client.WSDialer{}, player,
		client.WithStore(st),
		client.WithObserver(client.Observer{
			OnStatus: func(s client.Status) { fmt.Println("status:", s) },
			OnRoster: func(users []domain.Member) {
				names := make([]string, 0, len(users))
				for _, u := range users {
					names = append(names, u.Username)
				}
				fmt.Printf("room: %d user(s): %s\n", len(users), strings.Join(names, ", "))
			},
			OnRemoteApplied: func(ev domain.PlaybackEvent) {
				fmt.Printf("remote %s at %.2fs\n", ev.Action, ev.CurrentTime)
			},
			OnServerError: func(msg string) { fmt.Println("server error:", msg) },
		}))
	sess.Start(ctx)
	defer sess.Close()

	log.Info().Str("module", "client").Str("member", string(member)).Msg("VideoSync client started")

	switch {
	case v.GetBool("create"):
		id := sess.Create(client.CreateRequest{
			ServerURL: v.GetString("server"),
			APIKey:    v.GetString("api-key"),
			Metadata: domain.JoinMetadata{
				Username: v.GetString("name"),
				URL:      v.GetString("url"),
				Title:    v.GetString("title"),
				Platform: v.GetString("platform"),
			},
		})
		fmt.Println("created room", id)
	case v.GetString("room") != "":
		sess.Join(client.JoinRequest{
			ServerURL: v.GetString("server"),
			APIKey:    v.GetString("api-key"),
			RoomID:    domain.RoomID(strings.ToUpper(v.GetString("room"))),
		})
	default:
		if req, ok := client.Resume(st, client.DefaultResumeWindow); ok {
			fmt.Println("resuming room", req.RoomID)
			sess.Join(req)
		}
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !command(sess, player, line) {
				return
			}
		}
	}
}

// command runs one stdin command and reports whether to keep reading.
func command(sess *client.Session, p *client.VirtualPlayer, line string) bool {
	f := strings.Fields(line)
	if len(f) == 0 {
		return true
	}
	switch f[0] {
	case "play":
		p.Play()
	case "pause":
		p.Pause()
	case "seek":
		if len(f) < 2 {
			fmt.Println("usage: seek <seconds>")
			return true
		}
		pos, err := strconv.ParseFloat(f[1], 64)
		if err != nil {
			fmt.Println("bad position:", err)
			return true
		}
		p.SetCurrentTime(pos)
	case "rate":
		if len(f) < 2 {
			fmt.Println("usage: rate <multiplier>")
			return true
		}
		r, err := strconv.ParseFloat(f[1], 64)
		if err != nil {
			fmt.Println("bad rate:", err)
			return true
		}
		p.SetPlaybackRate(r)
	case "status":
		snap := sess.Snapshot()
		fmt.Printf("%s room=%s attempt=%d users=%d position=%.2f paused=%t rate=%.2f\n",
			snap.State, snap.Room, snap.Attempt, len(snap.Roster), p.CurrentTime(), p.Paused(), p.PlaybackRate())
	case "leave":
		sess.Leave()
	case "quit", "exit":
		return false
	default:
		fmt.Println("commands: play | pause | seek N | rate R | status | leave | quit")
	}
	return true
}
