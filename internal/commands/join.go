package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vandervillain/rando/internal/audio"
	"github.com/vandervillain/rando/internal/callstate"
	"github.com/vandervillain/rando/internal/media"
	"github.com/vandervillain/rando/internal/peer"
	"github.com/vandervillain/rando/internal/protocol"
	"github.com/vandervillain/rando/internal/ui"
)

var (
	flagJoinName   string
	flagJoinID     string
	flagJoinCall   bool
	flagJoinInput  string
	flagJoinTone   float64
	flagJoinOutput string
	flagJoinNoGate bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id>",
	Aliases: []string{"j"},
	Short:   "Join a room and talk",
	Long: `Join a room, see who is there and hop into the call.

Audio is raw signed 16-bit little-endian mono at 8 kHz. --input reads the
microphone from a file or pipe ("-" for stdin); --tone sends a test tone
instead. Without either you join listen-only. --output writes the mixed
call audio to a file or pipe.

Examples:
  rando join brave-quiet-otter-lamp --name ann
  parec --format=s16le --rate=8000 --channels=1 | rando join brave-quiet-otter-lamp -n ann -i - --call
  rando join standup -n bob --tone 440 --output /tmp/call.pcm`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(args[0])
	},
}

func joinRoom(roomID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := LoadConfig(configOpts)
	if err != nil {
		return err
	}
	user, err := identity(ctx, cfg, flagJoinID, flagJoinName)
	if err != nil {
		return err
	}

	input, err := openInput()
	if err != nil {
		return err
	}
	if c, ok := input.(io.Closer); ok {
		defer c.Close()
	}

	var (
		track webrtc.TrackLocal
		sink  audio.Sink
	)
	if input != nil {
		local, err := media.NewLocalTrack(user.ID)
		if err != nil {
			return peer.NewError("create audio track", err)
		}
		track, sink = local.Track(), local
	}
	factory, err := peer.NewFactory(cfg, track)
	if err != nil {
		return err
	}

	mixer, closeOutput, err := openOutput(cfg.PoolSize)
	if err != nil {
		return err
	}
	defer closeOutput()

	if input == nil {
		ui.PrintWarning("No --input or --tone given, joining listen-only")
	}
	if mixer == nil {
		ui.PrintInfo("No --output given, call audio is metered but not played")
	}

	stopSpinner := ui.RunConnectionSpinner("Connecting to server...")
	defer stopSpinner()
	conn, err := NewConnectionContext(ctx, cfg, user)
	if err != nil {
		return err
	}
	defer conn.Close()
	stopSpinner()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if mixer != nil {
		go mixer.Run(ctx)
	}

	session := callstate.New(callstate.Options{
		Config:    cfg,
		User:      user,
		Signaling: conn.Client,
		Events:    conn.Handler.Events(),
		Factory:   factory,
		Input:     input,
		Output:    sink,
		Mixer:     mixer,
		NoGate:    flagJoinNoGate,
	})

	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	err = session.JoinRoom(protocol.Room{ID: roomID})
	if err == nil && flagJoinCall {
		err = session.JoinCall()
	}
	if err != nil {
		cancel()
		if runErr := <-done; runErr != nil && !errors.Is(runErr, context.Canceled) {
			return runErr
		}
		return err
	}

	uiErr := ui.RunCall(session, session.Views())
	cancel()
	runErr := <-done

	if uiErr != nil {
		return uiErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// openInput returns the paced microphone source, or nil for listen-only.
func openInput() (audio.Source, error) {
	switch {
	case flagJoinInput != "" && flagJoinTone > 0:
		return nil, fmt.Errorf("--input and --tone cannot be used together")
	case flagJoinTone > 0:
		return media.NewPaced(&media.Tone{Freq: flagJoinTone, Amp: 0.3}), nil
	case flagJoinInput == "-":
		return media.NewPaced(media.NewPCMReader(os.Stdin)), nil
	case flagJoinInput != "":
		f, err := os.Open(flagJoinInput)
		if err != nil {
			return nil, peer.NewError("open input", err)
		}
		return media.NewPaced(media.NewPCMReader(f)), nil
	}
	return nil, nil
}

// openOutput returns a mixer writing to --output, or nil when remote
// audio is not played anywhere.
func openOutput(slots int) (*media.Mixer, func(), error) {
	if flagJoinOutput == "" {
		return nil, func() {}, nil
	}
	if flagJoinOutput == "-" {
		return nil, nil, fmt.Errorf("--output cannot be stdout while the call screen is shown")
	}
	w, err := os.Create(flagJoinOutput)
	if err != nil {
		return nil, nil, peer.NewError("open output", err)
	}
	closeFn := func() {
		if err := w.Close(); err != nil {
			log.Warn().Err(err).Msg("close output")
		}
	}
	return media.NewMixer(slots, w), closeFn, nil
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagJoinName, "name", "n", "", "Your display name")
	joinCmd.Flags().StringVar(&flagJoinID, "id", "", "User id from 'rando login'")
	joinCmd.Flags().BoolVar(&flagJoinCall, "call", false, "Join the call right away")
	joinCmd.Flags().StringVarP(&flagJoinInput, "input", "i", "", `Microphone as s16le PCM ("-" for stdin)`)
	joinCmd.Flags().Float64Var(&flagJoinTone, "tone", 0, "Send a sine tone of this frequency instead of a microphone")
	joinCmd.Flags().StringVarP(&flagJoinOutput, "output", "o", "", "Write mixed call audio as s16le PCM to this file")
	joinCmd.Flags().BoolVar(&flagJoinNoGate, "no-gate", false, "Disable the noise gate")
	addConfigFlags(joinCmd)
}
