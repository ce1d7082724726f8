// Command mirror follows a stagehand room over its websocket endpoint and
// logs members as they join, change and leave.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"stagehand/internal/codec"
	"stagehand/internal/event"
	"stagehand/internal/group"
	"stagehand/internal/logging"
	"stagehand/internal/mirror"
	"stagehand/internal/state"
	"stagehand/internal/transport"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "websocket endpoint of the server")
	room := flag.String("room", "", "room to mirror (default: any)")
	level := flag.String("log-level", "info", "log level")
	format := flag.String("log-format", "console", "log format (console, json)")
	flag.Parse()

	log, err := logging.New(*level, *format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *url, *room, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("mirror failed", zap.Error(err))
	}
	log.Info("mirror stopped")
}

func run(ctx context.Context, url, room string, log *zap.Logger) error {
	// members log their own changes once the mirror settles them
	ctor := func(m *group.Member) error {
		id := m.ID()
		m.On(state.EventDidSetUpdate, func(ev event.Event[state.EventKind, state.Change]) {
			s := ev.Payload.Summary
			if s.IsChanged() {
				log.Info("member changed",
					zap.Int("id", id),
					zap.Strings("add", s.Add),
					zap.Strings("update", s.Update),
					zap.Strings("remove", s.Remove))
			}
		})
		return nil
	}

	m, err := mirror.New(room, mirror.WithLogger(log), mirror.WithConstructor(ctor))
	if err != nil {
		return err
	}

	m.OnMember(group.EventDidAddMember, func(ev event.Event[group.EventKind, group.MemberChange]) {
		log.Info("member joined", zap.Int("id", ev.Payload.ID), zap.Any("data", ev.Payload.Member.GetData()))
	})
	m.OnMember(group.EventDidRemoveMember, func(ev event.Event[group.EventKind, group.MemberChange]) {
		log.Info("member left", zap.Int("id", ev.Payload.ID))
	})

	return transport.Follow(ctx, url, nil, log, func(f *codec.Frame) error {
		if err := m.Apply(f); err != nil {
			if errors.Is(err, mirror.ErrDiverged) {
				return transport.ErrResync
			}
			return err
		}
		log.Debug("frame applied", zap.String("kind", string(f.Kind)), zap.Uint64("seq", f.Seq))
		return nil
	})
}
